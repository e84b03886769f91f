package types

const redactedPlaceholder = "***REDACTED***"

var redactedJSON = []byte(`"***REDACTED***"`)

// SecretString holds a credential (database password, SendGrid key, Redis
// password). String and MarshalJSON return a placeholder so config dumps
// and structured logs never carry the value.
type SecretString string

// String returns the placeholder.
func (s SecretString) String() string {
	return redactedPlaceholder
}

// MarshalJSON returns the placeholder as a JSON string.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return redactedJSON, nil
}

// Unmask returns the raw value. Call it only where a client needs it.
func (s SecretString) Unmask() string {
	return string(s)
}
