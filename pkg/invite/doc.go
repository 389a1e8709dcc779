// Package invite implements the invitation mailer invocation: it validates an
// event, resolves its recipients, renders one HTML message per recipient and
// relays the batch through a single SMTPS session.
package invite
