package external

import (
	"context"

	"quora/internal/types"
)

// EmailProvider transmits a fully rendered message and returns the
// provider's message id.
type EmailProvider interface {
	Send(ctx context.Context, input types.SendInput) (providerMsgID string, err error)
}
