package handler

import (
	"net/http"
	"strings"

	"chatsync/internal/app/model"
	"chatsync/internal/pkg/auth/jwt"
	"chatsync/internal/pkg/errs"
	"chatsync/internal/pkg/logx"
	"chatsync/internal/pkg/resp"
)

const searchLimit = 20

// HandleSearchUsers matches ?q= against names and emails, leaving out the caller.
func HandleSearchUsers(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := jwt.GetPayloadFromContext(r)

		query := strings.TrimSpace(r.URL.Query().Get("q"))
		if query == "" {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		users, err := deps.Store.SearchUsers(r.Context(), query, identity.UserID, searchLimit)
		if err != nil {
			logx.Error(err, "search users: query failed")
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}
		if users == nil {
			users = []model.User{}
		}

		resp.RespondData(w, r, http.StatusOK, users)
	}
}
