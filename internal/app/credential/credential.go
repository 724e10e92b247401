// Package credential holds the access token of the current session.
//
// The token is issued and stored by collaborators outside the synchronization core. The core only
// reads it: to authenticate snapshot calls, to register on the push channel, and to learn the
// current user's id from the token's userId claim.
package credential

import (
	"strings"

	"chatsync/internal/pkg/auth/jwt"
	"chatsync/internal/pkg/errs"
)

// Context is the read-only credential of one session. The zero value is not usable; build one
// with New.
type Context struct {
	token  string
	userID string
	name   string
}

// New wraps token. An empty token is an AuthError. A token whose claims cannot be decoded is still
// accepted as opaque, with an unknown user id; the server decides whether it is valid.
func New(token string) (*Context, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errs.Newf(errs.KindAuth, "load credential", "no access token")
	}

	c := &Context{token: token}
	if claims, err := jwt.DecodeUnverified(token); err == nil {
		c.userID = claims.UserID
		c.name = claims.Name
	}
	return c, nil
}

// Token returns the bearer token.
func (c *Context) Token() string {
	return c.token
}

// UserID returns the user id claimed by the token, or "" for opaque tokens.
func (c *Context) UserID() string {
	return c.userID
}

// Name returns the display name claimed by the token, if any.
func (c *Context) Name() string {
	return c.name
}
