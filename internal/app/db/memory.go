package db

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"chatsync/internal/app/model"
	"chatsync/internal/pkg/randx"
)

type memoryChat struct {
	chat      model.Chat
	directKey string
	updatedAt time.Time
	seq       uint64
}

// MemoryStore keeps everything in process memory. Safe for concurrent use.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]UserRecord
	byEmail  map[string]string
	chats    map[string]*memoryChat
	direct   map[string]string
	messages map[string][]model.Message
	seq      uint64
	now      func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]UserRecord),
		byEmail:  make(map[string]string),
		chats:    make(map[string]*memoryChat),
		direct:   make(map[string]string),
		messages: make(map[string][]model.Message),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) CreateUser(_ context.Context, name, email, passwordHash string) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byEmail[email]; taken {
		return model.User{}, ErrDuplicate
	}

	user := model.User{ID: randx.UserID(), Name: name, Email: email}
	s.users[user.ID] = UserRecord{User: user, PasswordHash: passwordHash}
	s.byEmail[email] = user.ID
	return user, nil
}

func (s *MemoryStore) UserByEmail(_ context.Context, email string) (UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[email]
	if !ok {
		return UserRecord{}, ErrNotFound
	}
	return s.users[id], nil
}

func (s *MemoryStore) UsersByID(_ context.Context, ids []string) ([]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]model.User, 0, len(ids))
	for _, id := range ids {
		record, ok := s.users[id]
		if !ok {
			return nil, ErrNotFound
		}
		users = append(users, record.User)
	}
	return users, nil
}

func (s *MemoryStore) SearchUsers(_ context.Context, query, excludeID string, limit int) ([]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query = strings.ToLower(strings.TrimSpace(query))
	var found []model.User
	for id, record := range s.users {
		if id == excludeID {
			continue
		}
		if query != "" &&
			!strings.Contains(strings.ToLower(record.Name), query) &&
			!strings.Contains(strings.ToLower(record.Email), query) {
			continue
		}
		found = append(found, record.User)
	}

	sort.Slice(found, func(i, j int) bool {
		if found[i].Name == found[j].Name {
			return found[i].ID < found[j].ID
		}
		return found[i].Name < found[j].Name
	})
	if limit > 0 && len(found) > limit {
		found = found[:limit]
	}
	return found, nil
}

func (s *MemoryStore) DirectChat(_ context.Context, userA, userB string) (model.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := directKey(userA, userB)
	if id, ok := s.direct[key]; ok {
		return s.chats[id].chat.Clone(), nil
	}

	users, err := s.lookupLocked([]string{userA, userB})
	if err != nil {
		return model.Chat{}, err
	}

	chat := model.Chat{ID: randx.ChatID(), Users: users}
	s.insertChatLocked(chat, key)
	return chat.Clone(), nil
}

func (s *MemoryStore) CreateGroupChat(_ context.Context, name string, userIDs []string) (model.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.lookupLocked(userIDs)
	if err != nil {
		return model.Chat{}, err
	}

	chat := model.Chat{ID: randx.ChatID(), IsGroup: true, Name: name, Users: users}
	s.insertChatLocked(chat, "")
	return chat.Clone(), nil
}

func (s *MemoryStore) lookupLocked(ids []string) ([]model.User, error) {
	users := make([]model.User, 0, len(ids))
	for _, id := range ids {
		record, ok := s.users[id]
		if !ok {
			return nil, ErrNotFound
		}
		users = append(users, record.User)
	}
	return users, nil
}

func (s *MemoryStore) insertChatLocked(chat model.Chat, key string) {
	s.seq++
	s.chats[chat.ID] = &memoryChat{chat: chat, directKey: key, updatedAt: s.now(), seq: s.seq}
	if key != "" {
		s.direct[key] = chat.ID
	}
}

func (s *MemoryStore) ChatsForUser(_ context.Context, userID string) ([]model.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []*memoryChat
	for _, entry := range s.chats {
		if entry.chat.HasUser(userID) {
			entries = append(entries, entry)
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].updatedAt.Equal(entries[j].updatedAt) {
			return entries[i].seq > entries[j].seq
		}
		return entries[i].updatedAt.After(entries[j].updatedAt)
	})

	chats := make([]model.Chat, len(entries))
	for i, entry := range entries {
		chats[i] = entry.chat.Clone()
	}
	return chats, nil
}

func (s *MemoryStore) Chat(_ context.Context, chatID string) (model.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.chats[chatID]
	if !ok {
		return model.Chat{}, ErrNotFound
	}
	return entry.chat.Clone(), nil
}

func (s *MemoryStore) CreateMessage(_ context.Context, chatID, senderID, content string) (model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.chats[chatID]
	if !ok {
		return model.Message{}, ErrNotFound
	}
	sender, ok := s.users[senderID]
	if !ok {
		return model.Message{}, ErrNotFound
	}

	msg := model.Message{
		ID:        randx.MessageID(),
		ChatID:    chatID,
		Sender:    sender.User,
		Content:   content,
		CreatedAt: s.now(),
	}
	s.messages[chatID] = append(s.messages[chatID], msg)

	latest := msg
	entry.chat.LatestMessage = &latest
	s.seq++
	entry.updatedAt = msg.CreatedAt
	entry.seq = s.seq
	return msg, nil
}

func (s *MemoryStore) Messages(_ context.Context, chatID string) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.chats[chatID]; !ok {
		return nil, ErrNotFound
	}
	return append([]model.Message(nil), s.messages[chatID]...), nil
}

func (s *MemoryStore) Close() {}
