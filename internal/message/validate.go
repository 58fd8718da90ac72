package message

import (
	"strings"
	"unicode/utf8"
)

// MaxBodyChars is the maximum message length in characters, matching the
// CHECK constraint on the messages table.
const MaxBodyChars = 5000

// ValidateSend checks the inputs of a send request. The returned body is
// trimmed of surrounding whitespace. It returns a *ValidationError on the
// first violation found.
func ValidateSend(senderID, receiverID, body string) (string, error) {
	if senderID == "" {
		return "", &ValidationError{Field: "senderId", Reason: "missing"}
	}
	if receiverID == "" {
		return "", &ValidationError{Field: "receiverId", Reason: "missing"}
	}
	if senderID == receiverID {
		return "", &ValidationError{Field: "receiverId", Reason: "sender and receiver must be distinct"}
	}

	body = strings.TrimSpace(body)
	if body == "" {
		return "", &ValidationError{Field: "message", Reason: "empty"}
	}
	if !utf8.ValidString(body) {
		return "", &ValidationError{Field: "message", Reason: "invalid UTF-8"}
	}
	if utf8.RuneCountInString(body) > MaxBodyChars {
		return "", &ValidationError{Field: "message", Reason: "exceeds maximum length"}
	}
	return body, nil
}
