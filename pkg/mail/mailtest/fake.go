// Package mailtest provides an in-memory SMTP dialer for tests.
package mailtest

import (
	"bytes"
	"errors"
	"io"
	"sync"

	"gopkg.in/gomail.v2"
)

// ErrAuth simulates a rejected SMTP login.
var ErrAuth = errors.New("535 5.7.8 Authentication credentials invalid")

// SentMessage is a message captured by the fake server.
type SentMessage struct {
	From string
	To   []string
	Raw  string
}

// Server records every session and message handed to it. The zero value
// accepts all mail.
type Server struct {
	// DialErr is returned from Dial when set.
	DialErr error
	// FailOnSend makes the n-th Send (1-based) fail with SendErr.
	FailOnSend int
	SendErr    error
	// CloseErr is returned from Close when set.
	CloseErr error

	mu       sync.Mutex
	dials    int
	closes   int
	messages []SentMessage
}

// Dial implements mail.Dialer.
func (s *Server) Dial() (gomail.SendCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dials++
	if s.DialErr != nil {
		return nil, s.DialErr
	}
	return &session{server: s}, nil
}

// Dials returns how many sessions were opened.
func (s *Server) Dials() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

// Closes returns how many sessions were closed.
func (s *Server) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// Messages returns a copy of all accepted messages in send order.
func (s *Server) Messages() []SentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SentMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

// Recipients returns the envelope recipient of every accepted message in order.
func (s *Server) Recipients() []string {
	var out []string
	for _, m := range s.Messages() {
		out = append(out, m.To...)
	}
	return out
}

type session struct {
	server *Server
	sends  int
}

func (c *session) Send(from string, to []string, msg io.WriterTo) error {
	c.sends++
	if c.server.FailOnSend > 0 && c.sends == c.server.FailOnSend {
		err := c.server.SendErr
		if err == nil {
			err = errors.New("554 5.0.0 transaction failed")
		}
		return err
	}
	var b bytes.Buffer
	if _, err := msg.WriteTo(&b); err != nil {
		return err
	}
	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	c.server.messages = append(c.server.messages, SentMessage{From: from, To: append([]string(nil), to...), Raw: b.String()})
	return nil
}

func (c *session) Close() error {
	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	c.server.closes++
	return c.server.CloseErr
}
