/*
Package model defines the entities exchanged with the chat API: users, chats, and messages.

The API delivers loosely shaped JSON documents. Every payload entering the synchronization core is
decoded through this package and validated, so the rest of the code can rely on ids being present
and timestamps being parsed. Field names on the wire follow the API (_id, isGroupChat, chatName).
*/
package model

import (
	"encoding/json"
	"strings"

	"chatsync/internal/pkg/errs"
)

// User is a chat participant. Immutable once fetched.
type User struct {
	ID    string `json:"_id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// Validate checks the fields the core depends on.
func (u User) Validate() error {
	if strings.TrimSpace(u.ID) == "" {
		return errs.Newf(errs.KindValidation, "decode user", "missing _id")
	}
	return nil
}

// ParseUsers decodes and validates a user list, such as a search result.
func ParseUsers(data []byte) ([]User, error) {
	var users []User
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, errs.New(errs.KindValidation, "decode users", err)
	}
	for i := range users {
		if err := users[i].Validate(); err != nil {
			return nil, err
		}
	}
	return users, nil
}
