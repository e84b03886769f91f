package types

// SenderIdentity is the From of an outbound message.
type SenderIdentity struct {
	Name    string
	Address string
}

// SendInput is a fully rendered message handed to the mail provider.
type SendInput struct {
	To       string
	From     SenderIdentity
	Subject  string
	BodyHTML string
	BodyText string

	// Headers carries threading and list headers (Message-ID,
	// In-Reply-To, References, List-Id, List-Unsubscribe).
	Headers map[string]string

	// ReferenceID correlates provider callbacks with the post or digest.
	ReferenceID string
}
