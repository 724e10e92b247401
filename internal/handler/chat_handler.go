/*
Package handler provides HTTP handler functions for listing and creating chats.
*/
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"chatsync/internal/app/db"
	"chatsync/internal/app/model"
	"chatsync/internal/pkg/auth/jwt"
	"chatsync/internal/pkg/errs"
	"chatsync/internal/pkg/logx"
	"chatsync/internal/pkg/req"
	"chatsync/internal/pkg/resp"
)

// MinGroupUsers is how many users besides the creator a group chat needs.
const MinGroupUsers = 2

// HandleListChats returns the caller's chats, most recently active first.
func HandleListChats(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := jwt.GetPayloadFromContext(r)

		chats, err := deps.Store.ChatsForUser(r.Context(), identity.UserID)
		if err != nil {
			logx.Error(err, "list chats: query failed", "user_id", identity.UserID)
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}
		if chats == nil {
			chats = []model.Chat{}
		}

		resp.RespondData(w, r, http.StatusOK, chats)
	}
}

type AccessChatInput struct {
	UserID string `json:"userId"`
}

// HandleAccessChat returns the one-to-one chat with the given user, creating it on first access.
func HandleAccessChat(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := jwt.GetPayloadFromContext(r)

		var input AccessChatInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		peerID := strings.TrimSpace(input.UserID)
		if peerID == "" || peerID == identity.UserID {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		chat, err := deps.Store.DirectChat(r.Context(), identity.UserID, peerID)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				resp.RespondError(w, r, errs.NewError(errs.ErrUserNotFound))
				return
			}
			logx.Error(err, "access chat: store failed", "user_id", identity.UserID, "peer_id", peerID)
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}

		resp.RespondData(w, r, http.StatusOK, chat)
	}
}

type CreateGroupInput struct {
	Name string `json:"name"`

	// Users is a JSON array of user ids encoded as a string.
	Users string `json:"users"`
}

// HandleCreateGroupChat creates a named group with the caller as its first member.
func HandleCreateGroupChat(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := jwt.GetPayloadFromContext(r)

		var input CreateGroupInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		name := strings.TrimSpace(input.Name)
		if name == "" {
			resp.RespondError(w, r, errs.NewError(errs.ErrGroupNameRequired))
			return
		}

		var requested []string
		if err := json.Unmarshal([]byte(input.Users), &requested); err != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		members := groupMembers(identity.UserID, requested)
		if len(members)-1 < MinGroupUsers {
			resp.RespondError(w, r, errs.NewError(errs.ErrGroupTooSmall, MinGroupUsers))
			return
		}

		chat, err := deps.Store.CreateGroupChat(r.Context(), name, members)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				resp.RespondError(w, r, errs.NewError(errs.ErrUserNotFound))
				return
			}
			logx.Error(err, "create group: store failed", "user_id", identity.UserID)
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}

		logx.Info("Group chat created", "chat_id", chat.ID, "members", len(members))
		resp.RespondData(w, r, http.StatusOK, chat)
	}
}

// groupMembers puts the creator first and drops blanks and duplicates.
func groupMembers(creatorID string, requested []string) []string {
	members := []string{creatorID}
	seen := map[string]struct{}{creatorID: {}}
	for _, id := range requested {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		members = append(members, id)
	}
	return members
}

// memberChat loads chatID and checks that userID belongs to it.
func memberChat(r *http.Request, deps *AppDeps, chatID, userID string) (model.Chat, *errs.CustomError) {
	chat, err := deps.Store.Chat(r.Context(), chatID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return model.Chat{}, errs.NewError(errs.ErrChatNotFound)
		}
		logx.Error(err, "chat lookup failed", "chat_id", chatID)
		return model.Chat{}, errs.NewError(errs.ErrUnknown)
	}
	if !chat.HasUser(userID) {
		return model.Chat{}, errs.NewError(errs.ErrNotChatMember)
	}
	return chat, nil
}
