// Package cli defines the invite-mailer command tree: the Lambda runtime
// entry point (default), a one-shot local invoke, a local HTTP invoke server
// and version output.
package cli
