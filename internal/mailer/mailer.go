package mailer

import (
	"context"
	"fmt"
	"net/mail"
)

// Message is a single outbound email
type Message struct {
	To      string
	ReplyTo string
	Subject string
	HTML    string
	// FromName overrides the configured display name
	FromName string
}

// Result reports a delivery attempt. Failures are values, never errors.
type Result struct {
	Success   bool
	MessageID string
	Error     string
}

// Failed builds an unsuccessful Result from err
func Failed(err error) Result {
	return Result{Success: false, Error: err.Error()}
}

// Sender delivers one message. Implementations must not panic and report every failure in Result.
type Sender interface {
	Send(ctx context.Context, msg Message) Result
}

// Address identifies the sender of outbound mail
type Address struct {
	Name  string
	Email string
}

func (a Address) header(override string) string {
	name := a.Name
	if override != "" {
		name = override
	}
	return (&mail.Address{Name: name, Address: a.Email}).String()
}

func validate(msg Message) error {
	if msg.To == "" {
		return fmt.Errorf("recipient is required")
	}
	if _, err := mail.ParseAddress(msg.To); err != nil {
		return fmt.Errorf("invalid recipient %q: %w", msg.To, err)
	}
	if msg.Subject == "" {
		return fmt.Errorf("subject is required")
	}
	return nil
}
