// Package mail provides the SMTP side of the invitation mailer: a scoped
// SMTPS session built on gomail, MIME message construction and HTML template
// rendering with either mustache or html/template plus sprig.
package mail
