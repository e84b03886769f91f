package core

import "strings"

// RedactEmail masks an email address for safe logging by replacing all but
// the first character of the local part with asterisks. For example,
// "ada@example.edu" becomes "a***@example.edu".
//
// Strings without an "@" are masked entirely.
func RedactEmail(email string) string {
	if email == "" {
		return ""
	}

	local, domain, ok := strings.Cut(email, "@")
	if !ok {
		return "***"
	}
	if local == "" {
		return "***@" + domain
	}
	return local[:1] + "***@" + domain
}
