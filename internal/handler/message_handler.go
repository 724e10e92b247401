package handler

import (
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"chatsync/internal/app/model"
	"chatsync/internal/pkg/auth/jwt"
	"chatsync/internal/pkg/errs"
	"chatsync/internal/pkg/logx"
	"chatsync/internal/pkg/req"
	"chatsync/internal/pkg/resp"
)

// MaxContentLength is the longest message accepted, in characters.
const MaxContentLength = 5000

// HandleMessageHistory returns a chat's messages in chronological order.
func HandleMessageHistory(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := jwt.GetPayloadFromContext(r)
		chatID := chi.URLParam(r, "chatId")

		if _, customErr := memberChat(r, deps, chatID, identity.UserID); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		messages, err := deps.Store.Messages(r.Context(), chatID)
		if err != nil {
			logx.Error(err, "message history: query failed", "chat_id", chatID)
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}
		if messages == nil {
			messages = []model.Message{}
		}

		resp.RespondData(w, r, http.StatusOK, messages)
	}
}

type SendMessageInput struct {
	ChatID  string `json:"chatId"`
	Content string `json:"content"`
}

// HandleSendMessage stores a message and returns it with its id and timestamp. Fan-out to
// the other members happens when the sender relays it over the websocket.
func HandleSendMessage(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := jwt.GetPayloadFromContext(r)

		var input SendMessageInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		if strings.TrimSpace(input.Content) == "" {
			resp.RespondError(w, r, errs.NewError(errs.ErrMessageContentEmpty))
			return
		}
		if utf8.RuneCountInString(input.Content) > MaxContentLength {
			resp.RespondError(w, r, errs.NewError(errs.ErrMessageContentTooLong))
			return
		}

		if _, customErr := memberChat(r, deps, input.ChatID, identity.UserID); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		msg, err := deps.Store.CreateMessage(r.Context(), input.ChatID, identity.UserID, input.Content)
		if err != nil {
			logx.Error(err, "send message: store failed", "chat_id", input.ChatID, "user_id", identity.UserID)
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}

		resp.RespondData(w, r, http.StatusOK, msg)
	}
}
