package configs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "")
	t.Setenv("PORT", "")
	t.Setenv("ALLOWED_ORIGINS", " http://a.test , ,http://b.test")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("DATABASE_URL", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, defaultPort, cfg.Port)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.AllowedOrigins)
	assert.Equal(t, insecureDevSecret, cfg.JWTSecret)
	assert.Empty(t, cfg.DatabaseDSN)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	t.Setenv("ENVIRONMENT", "")
	t.Setenv("JWT_SECRET", "s")

	t.Setenv("PORT", "abc")
	_, err := LoadConfig()
	assert.Error(t, err)

	t.Setenv("PORT", "80")
	_, err = LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfigRequiresSecretOutsideDevelopment(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("PORT", "")
	t.Setenv("JWT_SECRET", "")

	_, err := LoadConfig()
	assert.Error(t, err)

	t.Setenv("JWT_SECRET", "prod-secret")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.False(t, cfg.IsDevelopment())
	assert.Equal(t, "prod-secret", cfg.JWTSecret)
}

func TestLoadClientConfig(t *testing.T) {
	t.Setenv("ENVIRONMENT", "")
	t.Setenv("CHAT_API_URL", "")
	t.Setenv("CHAT_SOCKET_URL", "")
	t.Setenv("CHAT_TOKEN", " tok ")
	t.Setenv("TYPING_DEBOUNCE_MS", "")

	cfg, err := LoadClientConfig()
	require.NoError(t, err)
	assert.Equal(t, defaultAPIURL, cfg.APIURL)
	assert.Equal(t, "ws://localhost:8080/ws", cfg.SocketURL)
	assert.Equal(t, "tok", cfg.Token)
	assert.Equal(t, 3000*time.Millisecond, cfg.TypingDebounce)
}

func TestLoadClientConfigDerivesSecureSocket(t *testing.T) {
	t.Setenv("CHAT_API_URL", "https://chat.example.com/api/")
	t.Setenv("CHAT_SOCKET_URL", "")
	t.Setenv("TYPING_DEBOUNCE_MS", "1500")

	cfg, err := LoadClientConfig()
	require.NoError(t, err)
	assert.Equal(t, "https://chat.example.com/api", cfg.APIURL)
	assert.Equal(t, "wss://chat.example.com/ws", cfg.SocketURL)
	assert.Equal(t, 1500*time.Millisecond, cfg.TypingDebounce)
}

func TestLoadClientConfigRejectsBadValues(t *testing.T) {
	t.Setenv("CHAT_SOCKET_URL", "")

	t.Setenv("CHAT_API_URL", "not a url")
	t.Setenv("TYPING_DEBOUNCE_MS", "")
	_, err := LoadClientConfig()
	assert.Error(t, err)

	t.Setenv("CHAT_API_URL", "")
	t.Setenv("TYPING_DEBOUNCE_MS", "0")
	_, err = LoadClientConfig()
	assert.Error(t, err)
}
