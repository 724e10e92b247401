package logx

import (
	"bytes"
	"errors"
	"testing"

	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	saved := log.Logger
	t.Cleanup(func() { log.Logger = saved })

	var buf bytes.Buffer
	InitGlobalLogger(false, &buf)
	return &buf
}

func TestHelpersWriteStructuredFields(t *testing.T) {
	buf := captureLogs(t)

	Info("chat selected", "chat_id", "c1", "count", 2)
	Error(errors.New("boom"), "send failed", "chat_id", "c1")
	Debug("hidden below info level")

	out := buf.String()
	assert.Contains(t, out, `"message":"chat selected"`)
	assert.Contains(t, out, `"chat_id":"c1"`)
	assert.Contains(t, out, `"count":2`)
	assert.Contains(t, out, `"error":"boom"`)
	assert.NotContains(t, out, "hidden below info level")
}

func TestOddFieldsAreDropped(t *testing.T) {
	buf := captureLogs(t)

	Warn("odd", "key-without-value")

	out := buf.String()
	assert.Contains(t, out, "received odd number of fields")
	assert.Contains(t, out, `"message":"odd"`)
	assert.NotContains(t, out, `"key-without-value":`)
}

func TestComponentTagsLogger(t *testing.T) {
	buf := captureLogs(t)

	logger := Component("session")
	logger.Info().Msg("started")

	assert.Contains(t, buf.String(), `"component":"session"`)
}

func TestAnonymizeIP(t *testing.T) {
	cases := map[string]string{
		"10.1.2.3:5555":              "10.1.2.0",
		"192.168.0.77":               "192.168.0.0",
		"127.0.0.1:80":               "127.0.0.1",
		"[2001:db8:1:2:3:4:5:6]:443": "2001:db8:1:2::",
		"not-an-ip":                  "unknown_ip",
	}
	for in, want := range cases {
		assert.Equal(t, want, anonymizeIP(in), in)
	}
}
