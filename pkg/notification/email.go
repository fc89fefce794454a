package notification

import (
	"context"
	"fmt"

	gomail "gopkg.in/gomail.v2"

	"github.com/cloudmon/platform/pkg/common/logger"
)

// MailSender is satisfied by gomail's Dialer.
type MailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

// EmailHandler delivers EMAIL notifications over SMTP.
type EmailHandler struct {
	sender MailSender
	from   string
}

func NewEmailHandler(host string, port int, username, password, from string) *EmailHandler {
	return &EmailHandler{
		sender: gomail.NewDialer(host, port, username, password),
		from:   from,
	}
}

func NewEmailHandlerWithSender(sender MailSender, from string) *EmailHandler {
	return &EmailHandler{sender: sender, from: from}
}

func (h *EmailHandler) Type() Type { return TypeEmail }

func (h *EmailHandler) Handle(ctx context.Context, msg Message) error {
	if msg.Recipient == "" {
		return fmt.Errorf("email notification for customer %s has no recipient", msg.CustomerID)
	}

	from := msg.Sender
	if from == "" {
		from = h.from
	}

	m := gomail.NewMessage()
	m.SetHeader("From", from)
	m.SetHeader("To", msg.Recipient)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Content)

	if err := h.sender.DialAndSend(m); err != nil {
		return fmt.Errorf("sending email to %s: %w", msg.Recipient, err)
	}
	logger.Log.WithField("recipient", msg.Recipient).Info("email sent")
	return nil
}
