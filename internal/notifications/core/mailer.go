package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"quora/internal/external"
	"quora/internal/types"
)

// Mailer hands rendered messages to the email provider on behalf of the
// cron jobs. It fills the recipient and default sender and refuses
// recipients that must never be mailed.
type Mailer struct {
	provider external.EmailProvider
	from     types.SenderIdentity
	timeout  time.Duration
	logger   *slog.Logger
}

// NewMailer creates a Mailer. from is the site's no-reply identity; a zero
// timeout disables the per-message deadline.
func NewMailer(provider external.EmailProvider, from types.SenderIdentity, timeout time.Duration, logger *slog.Logger) *Mailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mailer{provider: provider, from: from, timeout: timeout, logger: logger}
}

// SenderFor returns the identity a post is mailed from: the author's name
// on the site's no-reply address.
func (m *Mailer) SenderFor(author *types.User) types.SenderIdentity {
	if author == nil || author.FullName() == "" {
		return m.from
	}
	name := author.FullName()
	if m.from.Name != "" {
		name = fmt.Sprintf("%s (via %s)", name, m.from.Name)
	}
	return types.SenderIdentity{Name: name, Address: m.from.Address}
}

// Send delivers msg to user and returns the provider message id. Deleted,
// suspended and address-less users are refused with email_blocked.
func (m *Mailer) Send(ctx context.Context, to *types.User, msg types.SendInput) (string, error) {
	if to == nil || to.Deleted || to.Suspended || to.Email == "" {
		uid := int64(0)
		if to != nil {
			uid = to.ID
		}
		return "", types.NewAppError(types.ErrCodeEmailBlocked,
			fmt.Sprintf("user %d cannot receive mail", uid), nil)
	}

	msg.To = to.Email
	if msg.From.Address == "" {
		msg.From.Address = m.from.Address
	}
	if msg.From.Name == "" {
		msg.From.Name = m.from.Name
	}

	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	id, err := m.provider.Send(ctx, msg)
	if err != nil {
		return "", err
	}
	m.logger.DebugContext(ctx, "mail sent",
		"user_id", to.ID,
		"to", RedactEmail(to.Email),
		"message_id", id,
		"reference_id", msg.ReferenceID,
	)
	return id, nil
}
