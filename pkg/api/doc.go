// Package api exposes the invitation mailer over HTTP for local development:
// POST /invoke runs one invocation, and the server also serves health, version
// and Prometheus metrics endpoints.
package api
