package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"chatsync/internal/app/model"
	"chatsync/internal/pkg/randx"
)

// PostgresStore implements Store on a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn, applies migrations and returns the store.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := NewPool(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) CreateUser(ctx context.Context, name, email, passwordHash string) (model.User, error) {
	user := model.User{ID: randx.UserID(), Name: name, Email: email}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, name, email, password_hash) VALUES ($1, $2, $3, $4)`,
		user.ID, user.Name, user.Email, passwordHash)
	if err != nil {
		return model.User{}, translate(err)
	}
	return user, nil
}

func (s *PostgresStore) UserByEmail(ctx context.Context, email string) (UserRecord, error) {
	var record UserRecord
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, email, password_hash FROM users WHERE email = $1`, email,
	).Scan(&record.ID, &record.Name, &record.Email, &record.PasswordHash)
	if err != nil {
		return UserRecord{}, translate(err)
	}
	return record, nil
}

func (s *PostgresStore) UsersByID(ctx context.Context, ids []string) ([]model.User, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, email FROM users WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	found, err := collectUsers(rows)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]model.User, len(found))
	for _, u := range found {
		byID[u.ID] = u
	}
	users := make([]model.User, 0, len(ids))
	for _, id := range ids {
		u, ok := byID[id]
		if !ok {
			return nil, ErrNotFound
		}
		users = append(users, u)
	}
	return users, nil
}

func (s *PostgresStore) SearchUsers(ctx context.Context, query, excludeID string, limit int) ([]model.User, error) {
	if limit <= 0 {
		limit = 50
	}
	pattern := "%" + escapeLike(strings.TrimSpace(query)) + "%"

	rows, err := s.pool.Query(ctx,
		`SELECT id, name, email FROM users
		 WHERE id <> $1 AND (name ILIKE $2 OR email ILIKE $2)
		 ORDER BY name, id
		 LIMIT $3`,
		excludeID, pattern, limit)
	if err != nil {
		return nil, err
	}
	return collectUsers(rows)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func collectUsers(rows pgx.Rows) ([]model.User, error) {
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *PostgresStore) DirectChat(ctx context.Context, userA, userB string) (model.Chat, error) {
	key := directKey(userA, userB)

	var chatID string
	err := s.pool.QueryRow(ctx, `SELECT id FROM chats WHERE direct_key = $1`, key).Scan(&chatID)
	switch {
	case err == nil:
		return s.Chat(ctx, chatID)
	case !errors.Is(err, pgx.ErrNoRows):
		return model.Chat{}, err
	}

	chatID, err = s.insertChat(ctx, "", false, key, []string{userA, userB})
	if errors.Is(err, ErrDuplicate) {
		// Lost a race with a concurrent first access.
		if err := s.pool.QueryRow(ctx, `SELECT id FROM chats WHERE direct_key = $1`, key).Scan(&chatID); err != nil {
			return model.Chat{}, translate(err)
		}
	} else if err != nil {
		return model.Chat{}, err
	}
	return s.Chat(ctx, chatID)
}

func (s *PostgresStore) CreateGroupChat(ctx context.Context, name string, userIDs []string) (model.Chat, error) {
	chatID, err := s.insertChat(ctx, name, true, "", userIDs)
	if err != nil {
		return model.Chat{}, err
	}
	return s.Chat(ctx, chatID)
}

func (s *PostgresStore) insertChat(ctx context.Context, name string, isGroup bool, key string, userIDs []string) (string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer tx.Rollback(ctx)

	var keyArg *string
	if key != "" {
		keyArg = &key
	}

	chatID := randx.ChatID()
	if _, err := tx.Exec(ctx,
		`INSERT INTO chats (id, name, is_group, direct_key) VALUES ($1, $2, $3, $4)`,
		chatID, name, isGroup, keyArg); err != nil {
		return "", translate(err)
	}

	for i, userID := range userIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO chat_members (chat_id, user_id, position) VALUES ($1, $2, $3)`,
			chatID, userID, i); err != nil {
			return "", translate(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return chatID, nil
}

func (s *PostgresStore) ChatsForUser(ctx context.Context, userID string) ([]model.Chat, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT c.id FROM chats c
		 JOIN chat_members m ON m.chat_id = c.id
		 WHERE m.user_id = $1
		 ORDER BY c.updated_at DESC, c.id`, userID)
	if err != nil {
		return nil, err
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	chats := make([]model.Chat, 0, len(ids))
	for _, id := range ids {
		chat, err := s.Chat(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load chat %s: %w", id, err)
		}
		chats = append(chats, chat)
	}
	return chats, nil
}

func (s *PostgresStore) Chat(ctx context.Context, chatID string) (model.Chat, error) {
	chat := model.Chat{ID: chatID}
	var latestID *string

	err := s.pool.QueryRow(ctx,
		`SELECT name, is_group, latest_message_id FROM chats WHERE id = $1`, chatID,
	).Scan(&chat.Name, &chat.IsGroup, &latestID)
	if err != nil {
		return model.Chat{}, translate(err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT u.id, u.name, u.email FROM chat_members m
		 JOIN users u ON u.id = m.user_id
		 WHERE m.chat_id = $1
		 ORDER BY m.position`, chatID)
	if err != nil {
		return model.Chat{}, err
	}
	chat.Users, err = collectUsers(rows)
	if err != nil {
		return model.Chat{}, err
	}

	if latestID != nil {
		latest, err := s.message(ctx, *latestID)
		if err != nil {
			return model.Chat{}, err
		}
		chat.LatestMessage = &latest
	}
	return chat, nil
}

const messageColumns = `m.id, m.chat_id, m.content, m.created_at, u.id, u.name, u.email`

func scanMessage(row pgx.Row) (model.Message, error) {
	var msg model.Message
	err := row.Scan(&msg.ID, &msg.ChatID, &msg.Content, &msg.CreatedAt, &msg.Sender.ID, &msg.Sender.Name, &msg.Sender.Email)
	if err != nil {
		return model.Message{}, translate(err)
	}
	msg.CreatedAt = msg.CreatedAt.UTC()
	return msg, nil
}

func (s *PostgresStore) message(ctx context.Context, id string) (model.Message, error) {
	return scanMessage(s.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM messages m JOIN users u ON u.id = m.sender_id WHERE m.id = $1`, id))
}

func (s *PostgresStore) CreateMessage(ctx context.Context, chatID, senderID, content string) (model.Message, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return model.Message{}, err
	}
	defer tx.Rollback(ctx)

	id := randx.MessageID()
	tag, err := tx.Exec(ctx,
		`INSERT INTO messages (id, chat_id, sender_id, content)
		 SELECT $1, c.id, $3, $4 FROM chats c WHERE c.id = $2`,
		id, chatID, senderID, content)
	if err != nil {
		return model.Message{}, translate(err)
	}
	if tag.RowsAffected() == 0 {
		return model.Message{}, ErrNotFound
	}

	if _, err := tx.Exec(ctx,
		`UPDATE chats SET latest_message_id = $1, updated_at = now() WHERE id = $2`, id, chatID); err != nil {
		return model.Message{}, err
	}

	msg, err := scanMessage(tx.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM messages m JOIN users u ON u.id = m.sender_id WHERE m.id = $1`, id))
	if err != nil {
		return model.Message{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Message{}, err
	}
	return msg, nil
}

func (s *PostgresStore) Messages(ctx context.Context, chatID string) ([]model.Message, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM chats WHERE id = $1)`, chatID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+messageColumns+` FROM messages m
		 JOIN users u ON u.id = m.sender_id
		 WHERE m.chat_id = $1
		 ORDER BY m.created_at, m.id`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []model.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}
