/*
Package db persists users, chats and messages for the development backend.

Two Store implementations exist: Postgres (pgx pool, schema managed by embedded goose migrations)
for DATABASE_URL deployments, and an in-memory store used when no database is configured and in
tests. Both return ErrNotFound and ErrDuplicate so handlers never inspect driver errors.
*/
package db

import (
	"context"
	"errors"

	"chatsync/internal/app/model"
)

var (
	// ErrNotFound is returned when the referenced row does not exist.
	ErrNotFound = errors.New("db: not found")

	// ErrDuplicate is returned when a unique key (such as a user's email) is already taken.
	ErrDuplicate = errors.New("db: duplicate")
)

// UserRecord is a user together with its password hash. It never leaves the backend.
type UserRecord struct {
	model.User
	PasswordHash string
}

// Store is the backend's persistence boundary.
type Store interface {
	CreateUser(ctx context.Context, name, email, passwordHash string) (model.User, error)
	UserByEmail(ctx context.Context, email string) (UserRecord, error)
	UsersByID(ctx context.Context, ids []string) ([]model.User, error)

	// SearchUsers matches query against names and emails, case-insensitively, skipping excludeID.
	SearchUsers(ctx context.Context, query, excludeID string, limit int) ([]model.User, error)

	// DirectChat returns the one-to-one chat between two users, creating it on first access.
	DirectChat(ctx context.Context, userA, userB string) (model.Chat, error)

	// CreateGroupChat creates a group whose members are userIDs in order.
	CreateGroupChat(ctx context.Context, name string, userIDs []string) (model.Chat, error)

	// ChatsForUser lists a user's chats, most recently active first.
	ChatsForUser(ctx context.Context, userID string) ([]model.Chat, error)

	Chat(ctx context.Context, chatID string) (model.Chat, error)

	// CreateMessage stores a message and makes it the chat's latest message.
	CreateMessage(ctx context.Context, chatID, senderID, content string) (model.Message, error)

	// Messages returns a chat's messages in chronological order.
	Messages(ctx context.Context, chatID string) ([]model.Message, error)

	Close()
}

// directKey identifies the one-to-one chat between two users regardless of argument order.
func directKey(userA, userB string) string {
	if userA > userB {
		userA, userB = userB, userA
	}
	return userA + ":" + userB
}
