// Package email renders forum mail: single-post notifications and digests,
// with plain-text alternatives and the threading headers mail clients use
// to group replies.
package email

import (
	"errors"

	"quora/internal/types"
)

// ErrRecipientBlocked indicates the email provider has the recipient on a
// suppression list. Sending again will not help.
var ErrRecipientBlocked = errors.New("recipient blocked by provider")

// IsBlocklistError checks whether an error indicates the recipient is
// blocked, either by the sentinel or by an email_blocked AppError.
func IsBlocklistError(err error) bool {
	if errors.Is(err, ErrRecipientBlocked) {
		return true
	}
	return types.IsCode(err, types.ErrCodeEmailBlocked)
}
