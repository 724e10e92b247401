package jwt

import "github.com/golang-jwt/jwt"

// Payload is the claim set of a chatsync access token.
// The userId claim name matches what web clients of the same API decode from the token.
type Payload struct {
	jwt.StandardClaims

	// UserID identifies the authenticated user.
	UserID string `json:"userId"`

	// Name is the display name at the time the token was issued.
	Name string `json:"name,omitempty"`
}
