/*
Package randx generates the identifiers used by the development backend.

Users, chats, and messages are all keyed by random UUID v4 strings.
*/
package randx

import (
	"github.com/google/uuid"
)

// UserID generates the identifier for a newly registered user.
func UserID() string {
	return uuid.NewString()
}

// ChatID generates the identifier for a newly created chat.
func ChatID() string {
	return uuid.NewString()
}

// MessageID generates a standard UUID v4 string to serve as a unique identifier for a message.
func MessageID() string {
	return uuid.NewString()
}

// IsValidID reports whether id is a well-formed UUID as produced by this package.
func IsValidID(id string) bool {
	if len(id) != 36 {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}
