package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"chatsync/internal/pkg/errs"
)

// Message is a single chat message. Immutable once created.
type Message struct {
	ID        string
	ChatID    string
	Sender    User
	Content   string
	CreatedAt time.Time
}

// messageDoc is the wire shape of a message. The chat field is either a populated chat document
// or a bare chat id, depending on the endpoint.
type messageDoc struct {
	ID        string          `json:"_id"`
	Chat      json.RawMessage `json:"chat"`
	Sender    User            `json:"sender"`
	Content   string          `json:"content"`
	CreatedAt time.Time       `json:"createdAt"`
}

type chatRef struct {
	ID string `json:"_id"`
}

// MarshalJSON encodes m in the wire shape, with the chat reduced to {"_id": ...}.
func (m Message) MarshalJSON() ([]byte, error) {
	chat, err := json.Marshal(chatRef{ID: m.ChatID})
	if err != nil {
		return nil, err
	}
	return json.Marshal(messageDoc{
		ID:        m.ID,
		Chat:      chat,
		Sender:    m.Sender,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	})
}

// UnmarshalJSON decodes the wire shape. It does not validate; use ParseMessage at boundaries.
func (m *Message) UnmarshalJSON(data []byte) error {
	var doc messageDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	chatID, err := decodeChatRef(doc.Chat)
	if err != nil {
		return err
	}

	*m = Message{
		ID:        doc.ID,
		ChatID:    chatID,
		Sender:    doc.Sender,
		Content:   doc.Content,
		CreatedAt: doc.CreatedAt,
	}
	return nil
}

func decodeChatRef(raw json.RawMessage) (string, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return "", nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var id string
		if err := json.Unmarshal(raw, &id); err != nil {
			return "", err
		}
		return id, nil
	}
	var ref chatRef
	if err := json.Unmarshal(raw, &ref); err != nil {
		return "", fmt.Errorf("chat: %w", err)
	}
	return ref.ID, nil
}

// Validate checks the fields the core depends on.
func (m Message) Validate() error {
	switch {
	case strings.TrimSpace(m.ID) == "":
		return errs.Newf(errs.KindValidation, "decode message", "missing _id")
	case strings.TrimSpace(m.ChatID) == "":
		return errs.Newf(errs.KindValidation, "decode message", "message %s has no chat", m.ID)
	case strings.TrimSpace(m.Sender.ID) == "":
		return errs.Newf(errs.KindValidation, "decode message", "message %s has no sender", m.ID)
	case m.CreatedAt.IsZero():
		return errs.Newf(errs.KindValidation, "decode message", "message %s has no createdAt", m.ID)
	}
	return nil
}

// ParseMessage decodes and validates one message document.
func ParseMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, errs.New(errs.KindValidation, "decode message", err)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// ParseMessages decodes and validates a message history. One invalid entry rejects the list.
func ParseMessages(data []byte) ([]Message, error) {
	var messages []Message
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, errs.New(errs.KindValidation, "decode messages", err)
	}
	for i := range messages {
		if err := messages[i].Validate(); err != nil {
			return nil, err
		}
	}
	return messages, nil
}
