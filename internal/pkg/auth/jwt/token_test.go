package jwt

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func TestGenerateAndParseToken(t *testing.T) {
	token, err := GenerateToken(&Payload{UserID: "u1", Name: "Ada"}, testSecret, time.Hour)
	require.NoError(t, err)

	payload, err := ParseToken(token, testSecret)
	require.NoError(t, err)
	require.Equal(t, "u1", payload.UserID)
	require.Equal(t, "Ada", payload.Name)
	require.Equal(t, TokenIssuer, payload.Issuer)
}

func TestParseTokenRejectsWrongSecretAndExpiry(t *testing.T) {
	token, err := GenerateToken(&Payload{UserID: "u1"}, testSecret, time.Hour)
	require.NoError(t, err)

	_, err = ParseToken(token, "other-secret")
	require.Error(t, err)

	expired, err := GenerateToken(&Payload{UserID: "u1"}, testSecret, -time.Minute)
	require.NoError(t, err)

	_, err = ParseToken(expired, testSecret)
	require.Error(t, err)
}

func TestDecodeUnverified(t *testing.T) {
	token, err := GenerateToken(&Payload{UserID: "u7"}, testSecret, time.Hour)
	require.NoError(t, err)

	payload, err := DecodeUnverified(token)
	require.NoError(t, err)
	require.Equal(t, "u7", payload.UserID)

	_, err = DecodeUnverified("not-a-token")
	require.Error(t, err)
}

func TestIdentityMiddleware(t *testing.T) {
	token, err := GenerateToken(&Payload{UserID: "u1"}, testSecret, time.Hour)
	require.NoError(t, err)

	var seen *Payload
	handler := IdentityExtractorMiddleware(testSecret)(
		RequireIdentity(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = GetPayloadFromContext(r)
			w.WriteHeader(http.StatusNoContent)
		})),
	)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/chats", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, seen)
	require.Equal(t, "u1", seen.UserID)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/chats", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chats", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
