package model

import (
	"encoding/json"
	"strings"

	"chatsync/internal/pkg/errs"
)

// UnnamedChat is shown for a one-to-one chat whose peer cannot be determined.
const UnnamedChat = "Unnamed Chat"

// Chat is a conversation. Only LatestMessage changes after creation.
type Chat struct {
	ID            string   `json:"_id"`
	IsGroup       bool     `json:"isGroupChat"`
	Name          string   `json:"chatName,omitempty"`
	Users         []User   `json:"users"`
	LatestMessage *Message `json:"latestMessage,omitempty"`
}

// DisplayName returns the group name, or for a one-to-one chat the name of the first participant
// other than selfID.
func (c Chat) DisplayName(selfID string) string {
	if c.IsGroup {
		return c.Name
	}
	for _, u := range c.Users {
		if u.ID != selfID && u.Name != "" {
			return u.Name
		}
	}
	return UnnamedChat
}

// HasUser reports whether userID participates in the chat.
func (c Chat) HasUser(userID string) bool {
	for _, u := range c.Users {
		if u.ID == userID {
			return true
		}
	}
	return false
}

// Clone returns a copy that shares no slices or pointers with c.
func (c Chat) Clone() Chat {
	out := c
	out.Users = append([]User(nil), c.Users...)
	if c.LatestMessage != nil {
		latest := *c.LatestMessage
		out.LatestMessage = &latest
	}
	return out
}

// Validate checks the fields the core depends on.
func (c Chat) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return errs.Newf(errs.KindValidation, "decode chat", "missing _id")
	}
	for _, u := range c.Users {
		if err := u.Validate(); err != nil {
			return err
		}
	}
	if c.LatestMessage != nil {
		latest := *c.LatestMessage
		if latest.ChatID == "" {
			latest.ChatID = c.ID
		}
		if err := latest.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ParseChat decodes and validates one chat document.
func ParseChat(data []byte) (Chat, error) {
	var c Chat
	if err := json.Unmarshal(data, &c); err != nil {
		return Chat{}, errs.New(errs.KindValidation, "decode chat", err)
	}
	if err := c.Validate(); err != nil {
		return Chat{}, err
	}
	normalizeLatest(&c)
	return c, nil
}

// ParseChats decodes and validates a chat list. One invalid entry rejects the list.
func ParseChats(data []byte) ([]Chat, error) {
	var chats []Chat
	if err := json.Unmarshal(data, &chats); err != nil {
		return nil, errs.New(errs.KindValidation, "decode chats", err)
	}
	for i := range chats {
		if err := chats[i].Validate(); err != nil {
			return nil, err
		}
		normalizeLatest(&chats[i])
	}
	return chats, nil
}

// normalizeLatest fills the chat id of an embedded latest message, which the API may omit.
func normalizeLatest(c *Chat) {
	if c.LatestMessage != nil && c.LatestMessage.ChatID == "" {
		c.LatestMessage.ChatID = c.ID
	}
}
