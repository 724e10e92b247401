package realtime

import (
	"encoding/json"
	"strings"
)

// Wire event names. Client and server share one JSON text-frame envelope:
//
//	{"event": "<name>", "data": <payload>}
const (
	EventSetup           = "setup"
	EventConnected       = "connected"
	EventJoinChat        = "join chat"
	EventNewMessage      = "new message"
	EventMessageReceived = "message received"
	EventTyping          = "typing"
	EventStopTyping      = "stop typing"
	EventError           = "error"
)

// Frame is one push-channel envelope.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// SetupPayload is the data of a setup frame.
type SetupPayload struct {
	Token string `json:"token"`
}

// ScopePayload is the data of join chat, typing and stop typing frames.
type ScopePayload struct {
	ChatID string `json:"chatId"`
}

// EncodeFrame marshals data into a complete envelope.
func EncodeFrame(event string, data any) ([]byte, error) {
	frame := Frame{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		frame.Data = raw
	}
	return json.Marshal(frame)
}

// DecodeScope reads a chat id from either {"chatId": "..."} or a bare JSON string.
func DecodeScope(data json.RawMessage) (string, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, `"`) {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return "", err
		}
		return id, nil
	}
	var scope ScopePayload
	if err := json.Unmarshal(data, &scope); err != nil {
		return "", err
	}
	return scope.ChatID, nil
}
