package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vibast-solutions/ms-go-isp-billing/app/entity"
	"gopkg.in/gomail.v2"
)

var ErrNoRecipient = errors.New("user has no email address")

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type sender interface {
	DialAndSend(m ...*gomail.Message) error
}

type Notifier interface {
	SubscriptionActivated(ctx context.Context, user *entity.User, sub *entity.Subscription) error
}

// EmailNotifier sends subscriber notices over SMTP.
type EmailNotifier struct {
	from   string
	sender sender
}

func NewEmailNotifier(cfg SMTPConfig) *EmailNotifier {
	return &EmailNotifier{
		from:   cfg.From,
		sender: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
	}
}

func (n *EmailNotifier) SubscriptionActivated(ctx context.Context, user *entity.User, sub *entity.Subscription) error {
	if user.Email == nil || strings.TrimSpace(*user.Email) == "" {
		return ErrNoRecipient
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.from)
	m.SetHeader("To", strings.TrimSpace(*user.Email))
	m.SetHeader("Subject", "Your internet subscription is active")
	m.SetBody("text/plain", activationBody(user, sub))

	if err := n.sender.DialAndSend(m); err != nil {
		return fmt.Errorf("send activation email: %w", err)
	}
	return nil
}

func activationBody(user *entity.User, sub *entity.Subscription) string {
	name := user.Username
	if name == "" {
		name = user.PhoneNumber
	}
	return fmt.Sprintf(
		"Hello %s,\n\nYour %s package is active until %s.\n\nThank you.\n",
		name,
		sub.PackageName,
		sub.EndDate.Format("02 Jan 2006 15:04 MST"),
	)
}

// NopNotifier is used when SMTP is not configured.
type NopNotifier struct{}

func (NopNotifier) SubscriptionActivated(context.Context, *entity.User, *entity.Subscription) error {
	return nil
}
