package smtp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/keyxmakerx/sentinel/internal/apperror"
	"github.com/keyxmakerx/sentinel/internal/events"
	"github.com/keyxmakerx/sentinel/internal/plugins/auth"
)

// UserFinder resolves the account an alert is about.
type UserFinder interface {
	FindByUsername(ctx context.Context, username string) (*auth.User, error)
}

// TheftNotifier mails the account owner when a stolen remember-me token
// was presented. It is registered as a security event listener.
type TheftNotifier struct {
	users UserFinder
	mail  MailService
}

// NewTheftNotifier creates a notifier.
func NewTheftNotifier(users UserFinder, mail MailService) *TheftNotifier {
	return &TheftNotifier{users: users, mail: mail}
}

// Notify sends the alert for RememberMeTheft events and ignores the rest.
func (n *TheftNotifier) Notify(ctx context.Context, ev events.SecurityEvent) error {
	if ev.Type != events.RememberMeTheft || ev.Username == "" || !n.mail.IsConfigured() {
		return nil
	}

	user, err := n.users.FindByUsername(ctx, ev.Username)
	if err != nil {
		if apperror.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("loading user %s: %w", ev.Username, err)
	}
	if user.Email == "" {
		return nil
	}

	if err := n.mail.SendMail(ctx, theftMail(user, ev)); err != nil {
		return fmt.Errorf("sending theft alert: %w", err)
	}
	slog.Info("theft alert sent", slog.String("username", user.Username))
	return nil
}

func theftMail(user *auth.User, ev events.SecurityEvent) Mail {
	name := user.DisplayName
	if name == "" {
		name = user.Username
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", name)
	b.WriteString("A previously used \"remember me\" token for your account was presented again at ")
	b.WriteString(ev.OccurredAt.UTC().Format(time.RFC1123))
	b.WriteString(".\nThis usually means the token was copied from one of your browsers.\n\n")
	b.WriteString("All remembered sign-ins have been revoked. Sign in again on the devices you use ")
	b.WriteString("and consider changing your password.\n")
	if ev.IPAddress != "" {
		fmt.Fprintf(&b, "\nRequest address: %s\n", ev.IPAddress)
	}

	return Mail{
		To:      []string{user.Email},
		Subject: "Security alert: remembered sign-in revoked",
		Body:    b.String(),
	}
}
