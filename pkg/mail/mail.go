package mail

import (
	"crypto/tls"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/telekom/invite-mailer/pkg/config"
	"github.com/telekom/invite-mailer/pkg/metrics"
)

// Dialer opens an authenticated SMTP session. *gomail.Dialer satisfies it.
type Dialer interface {
	Dial() (gomail.SendCloser, error)
}

// NewDialer returns a dialer that connects over implicit TLS (SMTPS) and
// authenticates with the configured static credentials.
func NewDialer(cfg config.Config) *gomail.Dialer {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, string(cfg.Password))
	d.SSL = true
	if cfg.InsecureSkipVerify {
		d.TLSConfig = &tls.Config{InsecureSkipVerify: true, ServerName: cfg.Host} //nolint:gosec // opt-in via insecure_skip_verify
	}
	return d
}

// Message is a single rendered email addressed to one recipient.
type Message struct {
	From     string
	To       string
	Subject  string
	HTMLBody string
}

// build converts the message to its MIME form. The From header is omitted
// when no sender is known.
func (m Message) build() *gomail.Message {
	msg := gomail.NewMessage()
	msg.SetHeader("Subject", m.Subject)
	if m.From != "" {
		msg.SetHeader("From", m.From)
	}
	msg.SetHeader("To", m.To)
	msg.SetBody("text/html", m.HTMLBody)
	return msg
}

// Session is an open SMTP connection used for a whole batch of messages.
type Session struct {
	sc   gomail.SendCloser
	host string
	sent int
}

// Send transmits msg through the open session, addressed from msg.From to msg.To.
func (s *Session) Send(msg Message) error {
	if msg.To == "" {
		return errors.New("recipient address is empty")
	}
	if err := s.sc.Send(msg.From, []string{msg.To}, msg.build()); err != nil {
		metrics.MailSendFailure.WithLabelValues(s.host).Inc()
		return fmt.Errorf("failed to send mail to %s: %w", msg.To, err)
	}
	s.sent++
	metrics.MailSendSuccess.WithLabelValues(s.host).Inc()
	return nil
}

// Sent returns how many messages went out on this session.
func (s *Session) Sent() int {
	return s.sent
}

// WithSession dials one SMTP session, hands it to fn and closes it on every
// exit path. A close error is only reported when fn itself succeeded.
func WithSession(d Dialer, host string, log *zap.SugaredLogger, fn func(*Session) error) (err error) {
	sc, err := d.Dial()
	if err != nil {
		metrics.MailSessionFailure.WithLabelValues(host).Inc()
		return fmt.Errorf("failed to open SMTP session to %s: %w", host, err)
	}
	s := &Session{sc: sc, host: host}
	log.Debugw("SMTP session opened", "host", host)

	defer func() {
		cerr := sc.Close()
		if cerr != nil {
			log.Warnw("Error closing SMTP session", "host", host, "error", cerr)
			if err == nil {
				err = fmt.Errorf("failed to close SMTP session to %s: %w", host, cerr)
			}
		}
		log.Debugw("SMTP session closed", "host", host, "sent", s.sent)
	}()

	return fn(s)
}
