package snapshot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"chatsync/internal/app/model"
	"chatsync/internal/pkg/errs"
)

// MinGroupUsers is the number of users, besides the creator, a group chat needs.
const MinGroupUsers = 2

// FetchChatList returns the caller's chats in the order the server lists them.
func (c *Client) FetchChatList(ctx context.Context, token string) ([]model.Chat, error) {
	data, err := c.do(ctx, "fetch chat list", http.MethodGet, "/chats", token, true, nil)
	if err != nil {
		return nil, err
	}
	return model.ParseChats(data)
}

// FetchMessageHistory returns a chat's messages in chronological order as stored server-side.
func (c *Client) FetchMessageHistory(ctx context.Context, chatID, token string) ([]model.Message, error) {
	if chatID == "" {
		return nil, errs.Newf(errs.KindValidation, "fetch message history", "chat id is required")
	}
	data, err := c.do(ctx, "fetch message history", http.MethodGet, "/messages/"+url.PathEscape(chatID), token, true, nil)
	if err != nil {
		return nil, err
	}
	return model.ParseMessages(data)
}

type postMessageInput struct {
	ChatID  string `json:"chatId"`
	Content string `json:"content"`
}

// PostMessage stores a message and returns the authoritative copy with the server-assigned id and
// timestamp. Empty or whitespace-only content is rejected without a network call.
func (c *Client) PostMessage(ctx context.Context, chatID, content, token string) (model.Message, error) {
	const op = "post message"
	if strings.TrimSpace(content) == "" {
		return model.Message{}, errs.Newf(errs.KindValidation, op, "message content is empty")
	}
	if chatID == "" {
		return model.Message{}, errs.Newf(errs.KindValidation, op, "chat id is required")
	}
	data, err := c.do(ctx, op, http.MethodPost, "/messages", token, true, postMessageInput{ChatID: chatID, Content: content})
	if err != nil {
		return model.Message{}, err
	}
	return model.ParseMessage(data)
}

// SearchUsers returns users whose name or email matches query.
func (c *Client) SearchUsers(ctx context.Context, query, token string) ([]model.User, error) {
	const op = "search users"
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errs.Newf(errs.KindValidation, op, "search query is empty")
	}
	data, err := c.do(ctx, op, http.MethodGet, "/users/search?q="+url.QueryEscape(query), token, true, nil)
	if err != nil {
		return nil, err
	}
	return model.ParseUsers(data)
}

type createChatInput struct {
	UserID string `json:"userId"`
}

// CreateChat opens (or returns the existing) one-to-one chat with userID.
func (c *Client) CreateChat(ctx context.Context, userID, token string) (model.Chat, error) {
	const op = "create chat"
	if userID == "" {
		return model.Chat{}, errs.Newf(errs.KindValidation, op, "user id is required")
	}
	data, err := c.do(ctx, op, http.MethodPost, "/chats", token, true, createChatInput{UserID: userID})
	if err != nil {
		return model.Chat{}, err
	}
	return model.ParseChat(data)
}

type createGroupInput struct {
	Name string `json:"name"`

	// Users is a JSON-encoded array of user ids, carried as a string.
	Users string `json:"users"`
}

// CreateGroupChat creates a named group with the caller and userIDs. It needs a non-empty name and
// at least MinGroupUsers distinct users; otherwise nothing is sent.
func (c *Client) CreateGroupChat(ctx context.Context, name string, userIDs []string, token string) (model.Chat, error) {
	const op = "create group chat"
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Chat{}, errs.Newf(errs.KindValidation, op, "group name is required")
	}

	unique := make([]string, 0, len(userIDs))
	seen := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	if len(unique) < MinGroupUsers {
		return model.Chat{}, errs.Newf(errs.KindValidation, op, "a group needs at least %d users, got %d", MinGroupUsers, len(unique))
	}

	encoded, err := json.Marshal(unique)
	if err != nil {
		return model.Chat{}, errs.New(errs.KindValidation, op, err)
	}

	data, err := c.do(ctx, op, http.MethodPost, "/chats/group", token, true, createGroupInput{Name: name, Users: string(encoded)})
	if err != nil {
		return model.Chat{}, err
	}
	return model.ParseChat(data)
}

type loginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// Login exchanges credentials for an access token.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	const op = "login"
	if strings.TrimSpace(email) == "" || password == "" {
		return "", errs.Newf(errs.KindValidation, op, "email and password are required")
	}
	data, err := c.do(ctx, op, http.MethodPost, "/auth/login", "", false, loginInput{Email: email, Password: password})
	if err != nil {
		return "", err
	}
	return decodeToken(op, data)
}

// Register creates an account and returns its access token.
func (c *Client) Register(ctx context.Context, name, email, password string) (string, error) {
	const op = "register"
	if strings.TrimSpace(name) == "" || strings.TrimSpace(email) == "" || password == "" {
		return "", errs.Newf(errs.KindValidation, op, "name, email and password are required")
	}
	data, err := c.do(ctx, op, http.MethodPost, "/auth/register", "", false, registerInput{Name: name, Email: email, Password: password})
	if err != nil {
		return "", err
	}
	return decodeToken(op, data)
}

func decodeToken(op string, data []byte) (string, error) {
	var out tokenResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", errs.New(errs.KindValidation, op, err)
	}
	if out.Token == "" {
		return "", errs.Newf(errs.KindValidation, op, "response carried no token")
	}
	return out.Token, nil
}
