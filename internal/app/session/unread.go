package session

import "chatsync/internal/app/model"

const (
	// maxHeldPerChat bounds how many unseen messages are kept per background chat.
	maxHeldPerChat = 200

	// maxSeenPerChat bounds the message ids remembered per chat for redelivery checks.
	maxSeenPerChat = 500
)

// unreadTracker counts messages that arrived for chats other than the active one, and holds on
// to them so they can seed the buffer when the chat is selected. Owned by the store loop.
type unreadTracker struct {
	counts map[string]int
	held   map[string][]model.Message
	seen   map[string]*seenSet
}

// seenSet is a fixed-size window of message ids, oldest evicted first.
type seenSet struct {
	ids   map[string]struct{}
	order []string
}

func (s *seenSet) contains(id string) bool {
	_, ok := s.ids[id]
	return ok
}

func (s *seenSet) insert(id string) {
	s.ids[id] = struct{}{}
	s.order = append(s.order, id)
	if len(s.order) > maxSeenPerChat {
		delete(s.ids, s.order[0])
		s.order = s.order[1:]
	}
}

func newUnreadTracker() *unreadTracker {
	return &unreadTracker{
		counts: make(map[string]int),
		held:   make(map[string][]model.Message),
		seen:   make(map[string]*seenSet),
	}
}

// see records a message id and reports whether it was new. Ids survive take, so a message redelivered
// after its chat was opened and backgrounded again is still recognized.
func (u *unreadTracker) see(chatID, id string) bool {
	set, ok := u.seen[chatID]
	if !ok {
		set = &seenSet{ids: make(map[string]struct{})}
		u.seen[chatID] = set
	}
	if set.contains(id) {
		return false
	}
	set.insert(id)
	return true
}

// add counts msg once; a redelivered message id is ignored.
func (u *unreadTracker) add(msg model.Message) {
	if !u.see(msg.ChatID, msg.ID) {
		return
	}
	u.counts[msg.ChatID]++

	held := append(u.held[msg.ChatID], msg)
	if len(held) > maxHeldPerChat {
		held = held[len(held)-maxHeldPerChat:]
	}
	u.held[msg.ChatID] = held
}

// take zeroes a chat's counter and returns the messages held for it. The counter entry is kept
// so views can tell "seen" from "never seen".
func (u *unreadTracker) take(chatID string) []model.Message {
	u.counts[chatID] = 0
	held := u.held[chatID]
	delete(u.held, chatID)
	return held
}

func (u *unreadTracker) snapshot() map[string]int {
	out := make(map[string]int, len(u.counts))
	for id, n := range u.counts {
		out[id] = n
	}
	return out
}
