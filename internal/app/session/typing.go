package session

import (
	"time"

	"chatsync/internal/app/realtime"
	"chatsync/internal/pkg/clock"
)

// DefaultTypingTimeout is how long self typing stays active after the last keystroke.
const DefaultTypingTimeout = 3000 * time.Millisecond

// typingCoordinator debounces the local user's typing signal. Every method runs on the store
// loop; the timer callback only posts back to it.
//
// Each scheduled timer carries the generation it was armed with. Cancelling bumps the generation,
// so a fire that raced a cancel is ignored.
type typingCoordinator struct {
	clock   clock.Clock
	timeout time.Duration

	// emit sends typingStarted/typingStopped on the push channel.
	emit func(kind realtime.Kind, chatID string)

	// expire is called from the timer goroutine and must hand off to the loop.
	expire func(gen uint64)

	typing bool
	chatID string
	timer  clock.Timer
	gen    uint64
}

func newTypingCoordinator(c clock.Clock, timeout time.Duration, emit func(realtime.Kind, string), expire func(uint64)) *typingCoordinator {
	return &typingCoordinator{
		clock:   c,
		timeout: timeout,
		emit:    emit,
		expire:  expire,
	}
}

// keystroke moves Idle to Typing (emitting typingStarted once) and restarts the idle timer.
func (t *typingCoordinator) keystroke(chatID string) {
	if t.typing && t.chatID != chatID {
		t.reset()
	}

	if !t.typing {
		t.typing = true
		t.chatID = chatID
		t.emit(realtime.TypingStarted, chatID)
	}

	t.cancelTimer()
	gen := t.gen
	t.timer = t.clock.AfterFunc(t.timeout, func() { t.expire(gen) })
}

// fire handles a timer expiry posted back to the loop.
func (t *typingCoordinator) fire(gen uint64) bool {
	if gen != t.gen || !t.typing {
		return false
	}
	t.timer = nil
	t.typing = false
	t.emit(realtime.TypingStopped, t.chatID)
	return true
}

// forceIdle ends typing after a send. typingStopped is emitted whatever the current state.
func (t *typingCoordinator) forceIdle(chatID string) {
	t.cancelTimer()
	t.typing = false
	t.chatID = ""
	t.emit(realtime.TypingStopped, chatID)
}

// reset ends typing in the current chat, emitting typingStopped only if it was Typing.
func (t *typingCoordinator) reset() {
	t.cancelTimer()
	if t.typing {
		t.typing = false
		t.emit(realtime.TypingStopped, t.chatID)
	}
	t.chatID = ""
}

// stop cancels the timer without emitting. Used at teardown.
func (t *typingCoordinator) stop() {
	t.cancelTimer()
	t.typing = false
}

func (t *typingCoordinator) cancelTimer() {
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}
