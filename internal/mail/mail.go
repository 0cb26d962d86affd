// Package mail defines the outbound mail contract used for password reset and verification links.
package mail

import (
	"context"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

// Kind is the template of an outbound message.
type Kind string

const (
	KindPasswordReset     Kind = "password_reset"
	KindEmailVerification Kind = "email_verification"
)

// Message is one outbound link mail. Link carries a single-use token and must never be logged.
type Message struct {
	To   string
	Kind Kind
	Link string
}

// Sender delivers messages. Callers treat delivery as fire-and-forget and only log failures.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes a delivery line without the link. It stands in for a real provider in
// development and tests.
type LogSender struct {
	log logrus.FieldLogger
}

// NewLogSender returns a LogSender writing to log.
func NewLogSender(log logrus.FieldLogger) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.log.WithFields(logrus.Fields{
		"kind": msg.Kind,
		"to":   maskAddress(msg.To),
	}).Info("mail: message queued")
	return nil
}

// BuildLink returns baseURL + path with the token as a query parameter.
func BuildLink(baseURL, path, token string) string {
	q := url.Values{}
	q.Set("token", token)
	return strings.TrimRight(baseURL, "/") + path + "?" + q.Encode()
}

func maskAddress(addr string) string {
	at := strings.LastIndex(addr, "@")
	if at < 0 {
		return "***"
	}
	if at <= 1 {
		return "***" + addr[at:]
	}
	return addr[:1] + "***" + addr[at:]
}
