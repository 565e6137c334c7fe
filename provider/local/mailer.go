package local

import (
	"context"

	auth "github.com/goliatone/go-campus-auth"
)

// EmailLinkMessage is the sign-in email handed to a Mailer
type EmailLinkMessage struct {
	To        string
	Link      string
	ExpiresIn string
}

// Mailer delivers sign-in links.
type Mailer interface {
	SendEmailLink(ctx context.Context, msg EmailLinkMessage) error
}

// LogMailer writes the link to the logger instead of sending mail. It is the
// default so development setups work without an SMTP relay.
type LogMailer struct {
	Logger auth.Logger
}

func (m LogMailer) SendEmailLink(ctx context.Context, msg EmailLinkMessage) error {
	if m.Logger != nil {
		m.Logger.Info("email link for %s (valid %s): %s", msg.To, msg.ExpiresIn, msg.Link)
	}
	return nil
}
