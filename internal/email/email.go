// Package email sends plain notices to parents through Postmark or Amazon SES.
package email

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned by a sender that is missing credentials.
var ErrNotConfigured = errors.New("email sender not configured")

type Message struct {
	To       string
	Subject  string
	TextBody string
	HTMLBody string
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}
