/*
Package console is a line-oriented terminal front end for a chat session.

Console reads commands and message lines from an input stream and drives a session store with
them. A watcher goroutine renders store changes (new messages in the active chat, unread
counters, the peer typing indicator and connection state) to the output stream.
*/
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"chatsync/internal/app/model"
	"chatsync/internal/app/session"
	"chatsync/internal/pkg/logx"
)

// Session is the part of *session.Store the console drives.
type Session interface {
	State(ctx context.Context) (session.State, error)
	Changes() <-chan struct{}
	RefreshChats(ctx context.Context) error
	SelectChat(ctx context.Context, chat model.Chat) error
	SendMessage(ctx context.Context, content string) error
	InputChanged(text string)
	AddChat(chat model.Chat) error
}

// Directory looks up users and opens chats. *snapshot.Client implements it.
type Directory interface {
	SearchUsers(ctx context.Context, query, token string) ([]model.User, error)
	CreateChat(ctx context.Context, userID, token string) (model.Chat, error)
	CreateGroupChat(ctx context.Context, name string, userIDs []string, token string) (model.Chat, error)
}

// Identity is the signed-in user. *credential.Context implements it.
type Identity interface {
	Token() string
	UserID() string
}

var errQuit = errors.New("console: quit")

const helpText = `commands:
  /chats                 list chats with unread counts
  /open <n>              open chat number n from /chats
  /search <query>        find users by name or email
  /dm <user id>          open a one-to-one chat
  /group <name> <id,id>  create a group chat
  /help                  show this help
  /quit                  leave
anything else is sent to the open chat`

// Console couples a session with a terminal.
type Console struct {
	sess   Session
	dir    Directory
	self   Identity
	logger zerolog.Logger

	// mu guards out and the render bookkeeping below.
	mu         sync.Mutex
	out        io.Writer
	activeID   string
	printed    map[string]struct{}
	unread     map[string]int
	peerTyping bool
	connected  bool
	lastErr    string
}

// New returns a Console writing to out.
func New(sess Session, dir Directory, self Identity, out io.Writer) *Console {
	return &Console{
		sess:    sess,
		dir:     dir,
		self:    self,
		logger:  logx.Component("console"),
		out:     out,
		printed: make(map[string]struct{}),
		unread:  make(map[string]int),
	}
}

// Run processes lines from in until it is exhausted, /quit is entered or ctx is done.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	watchCtx, stopWatch := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.watch(watchCtx)
	}()
	defer func() {
		stopWatch()
		wg.Wait()
	}()

	c.println("type /help for commands")

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-watchCtx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}

			err := c.Execute(ctx, line)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				c.printf("error: %v\n", err)
			}
		}
	}
}

// watch renders after every change notification.
func (c *Console) watch(ctx context.Context) {
	changes := c.sess.Changes()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			c.render(ctx)
		}
	}
}

// Execute runs one input line.
func (c *Console) Execute(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		return c.send(ctx, line)
	}

	command, args, _ := strings.Cut(line, " ")
	args = strings.TrimSpace(args)

	switch command {
	case "/quit", "/exit":
		return errQuit
	case "/help":
		c.println(helpText)
		return nil
	case "/chats":
		return c.listChats(ctx)
	case "/open":
		return c.open(ctx, args)
	case "/search":
		return c.search(ctx, args)
	case "/dm":
		return c.direct(ctx, args)
	case "/group":
		return c.group(ctx, args)
	default:
		return fmt.Errorf("unknown command %s, try /help", command)
	}
}

func (c *Console) send(ctx context.Context, text string) error {
	st, err := c.sess.State(ctx)
	if err != nil {
		return err
	}
	if st.ActiveChatID == "" {
		return errors.New("no chat open, use /chats and /open first")
	}

	c.sess.InputChanged(text)
	if err := c.sess.SendMessage(ctx, text); err != nil {
		return err
	}
	c.render(ctx)
	return nil
}

func (c *Console) listChats(ctx context.Context) error {
	if err := c.sess.RefreshChats(ctx); err != nil {
		return err
	}
	st, err := c.sess.State(ctx)
	if err != nil {
		return err
	}
	if len(st.Chats) == 0 {
		c.println("no chats yet, use /search and /dm to start one")
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for i, chat := range st.Chats {
		marker := " "
		if chat.ID == st.ActiveChatID {
			marker = "*"
		}
		line := fmt.Sprintf("%s%2d) %s", marker, i+1, chat.DisplayName(c.self.UserID()))
		if n := st.Unread[chat.ID]; n > 0 {
			line += fmt.Sprintf(" (%d unread)", n)
		}
		if chat.LatestMessage != nil {
			line += fmt.Sprintf(" - %s: %s", chat.LatestMessage.Sender.Name, preview(chat.LatestMessage.Content))
		}
		fmt.Fprintln(c.out, line)
	}
	return nil
}

func (c *Console) open(ctx context.Context, arg string) error {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 {
		return fmt.Errorf("usage: /open <n>")
	}
	st, err := c.sess.State(ctx)
	if err != nil {
		return err
	}
	if n > len(st.Chats) {
		return fmt.Errorf("no chat number %d, see /chats", n)
	}
	return c.selectChat(ctx, st.Chats[n-1])
}

func (c *Console) selectChat(ctx context.Context, chat model.Chat) error {
	if err := c.sess.SelectChat(ctx, chat); err != nil {
		return err
	}
	c.render(ctx)
	return nil
}

func (c *Console) search(ctx context.Context, query string) error {
	users, err := c.dir.SearchUsers(ctx, query, c.self.Token())
	if err != nil {
		return err
	}
	if len(users) == 0 {
		c.println("no users found")
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, u := range users {
		fmt.Fprintf(c.out, "  %s  %s <%s>\n", u.ID, u.Name, u.Email)
	}
	return nil
}

func (c *Console) direct(ctx context.Context, userID string) error {
	if userID == "" {
		return errors.New("usage: /dm <user id>")
	}
	chat, err := c.dir.CreateChat(ctx, userID, c.self.Token())
	if err != nil {
		return err
	}
	if err := c.sess.AddChat(chat); err != nil {
		return err
	}
	return c.selectChat(ctx, chat)
}

func (c *Console) group(ctx context.Context, args string) error {
	name, ids, ok := strings.Cut(args, " ")
	if !ok {
		return errors.New("usage: /group <name> <id,id>")
	}
	var userIDs []string
	for _, id := range strings.Split(ids, ",") {
		if id = strings.TrimSpace(id); id != "" {
			userIDs = append(userIDs, id)
		}
	}

	chat, err := c.dir.CreateGroupChat(ctx, name, userIDs, c.self.Token())
	if err != nil {
		return err
	}
	if err := c.sess.AddChat(chat); err != nil {
		return err
	}
	return c.selectChat(ctx, chat)
}

// render prints whatever changed since the previous render.
func (c *Console) render(ctx context.Context) {
	st, err := c.sess.State(ctx)
	if err != nil {
		if !errors.Is(err, session.ErrClosed) && ctx.Err() == nil {
			c.logger.Debug().Err(err).Msg("Render skipped")
		}
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if st.Connected != c.connected {
		c.connected = st.Connected
		if st.Connected {
			fmt.Fprintln(c.out, "[online]")
		} else {
			fmt.Fprintln(c.out, "[offline, reconnecting]")
		}
	}

	if st.ActiveChatID != c.activeID {
		c.activeID = st.ActiveChatID
		c.printed = make(map[string]struct{})
		c.peerTyping = false
		if chat, ok := findChat(st.Chats, st.ActiveChatID); ok {
			fmt.Fprintf(c.out, "== %s ==\n", chat.DisplayName(c.self.UserID()))
		}
	}

	for _, msg := range st.Messages {
		if _, done := c.printed[msg.ID]; done {
			continue
		}
		c.printed[msg.ID] = struct{}{}
		fmt.Fprintf(c.out, "[%s] %s: %s\n", msg.CreatedAt.Local().Format("15:04"), msg.Sender.Name, msg.Content)
	}

	if st.PeerTyping && !c.peerTyping {
		fmt.Fprintln(c.out, "... typing")
	}
	c.peerTyping = st.PeerTyping

	for chatID, n := range st.Unread {
		if n > c.unread[chatID] {
			name := chatID
			if chat, ok := findChat(st.Chats, chatID); ok {
				name = chat.DisplayName(c.self.UserID())
			}
			fmt.Fprintf(c.out, "(%d unread in %s)\n", n, name)
		}
	}
	c.unread = st.Unread

	if st.LastError != nil && st.LastError.Error() != c.lastErr {
		c.lastErr = st.LastError.Error()
		fmt.Fprintf(c.out, "! %s\n", c.lastErr)
	} else if st.LastError == nil {
		c.lastErr = ""
	}
}

func (c *Console) println(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, text)
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

func findChat(chats []model.Chat, id string) (model.Chat, bool) {
	for _, chat := range chats {
		if chat.ID == id {
			return chat, true
		}
	}
	return model.Chat{}, false
}

func preview(content string) string {
	const limit = 40
	content = strings.ReplaceAll(content, "\n", " ")
	if r := []rune(content); len(r) > limit {
		return string(r[:limit-1]) + "…"
	}
	return content
}
