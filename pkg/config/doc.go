// Package config loads the mailer configuration from environment variables,
// decoding the base64 template and the SMTP password on the way.
package config
