/*
Package handler provides HTTP handler functions for user registration and login.
*/
package handler

import (
	"errors"
	"net/http"
	"regexp"
	"strings"
	"unicode/utf8"

	"chatsync/internal/app/db"
	"chatsync/internal/app/model"
	"chatsync/internal/pkg/auth/jwt"
	"chatsync/internal/pkg/errs"
	"chatsync/internal/pkg/logx"
	"chatsync/internal/pkg/req"
	"chatsync/internal/pkg/resp"

	"golang.org/x/crypto/bcrypt"
)

const (
	maxNameLength     = 50
	minPasswordLength = 6
	maxPasswordLength = 50
)

var emailRegex = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

type RegisterInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string     `json:"token"`
	User  model.User `json:"user"`
}

// HandleRegister creates an account and returns its access token.
func HandleRegister(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input RegisterInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		name := strings.TrimSpace(input.Name)
		if name == "" || utf8.RuneCountInString(name) > maxNameLength {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidName))
			return
		}

		email := normalizeEmail(input.Email)
		if !emailRegex.MatchString(email) {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidEmail))
			return
		}

		passwordLen := utf8.RuneCountInString(input.Password)
		if passwordLen < minPasswordLength || passwordLen > maxPasswordLength {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidPassword))
			return
		}

		hashedPassword, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
		if err != nil {
			logx.Error(err, "register: password hashing failed")
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}

		user, err := deps.Store.CreateUser(r.Context(), name, email, string(hashedPassword))
		if err != nil {
			if errors.Is(err, db.ErrDuplicate) {
				logx.Warn("registration conflict: email already exists", "email", email)
				resp.RespondError(w, r, errs.NewError(errs.ErrUserAlreadyExists))
				return
			}

			logx.Error(err, "failed to create user in database")
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}

		respondWithToken(w, r, deps, user, http.StatusCreated)
	}
}

type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleLogin verifies user credentials and issues a JWT token.
func HandleLogin(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input LoginInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		email := normalizeEmail(input.Email)
		record, err := deps.Store.UserByEmail(r.Context(), email)
		if err != nil {
			if !errors.Is(err, db.ErrNotFound) {
				logx.Error(err, "login: user fetch failed", "email", email)
				resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
				return
			}
			logx.Warn("login: unknown email", "email", email)
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidCredentials))
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(record.PasswordHash), []byte(input.Password)); err != nil {
			logx.Warn("login: password mismatch", "email", email)
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidCredentials))
			return
		}

		respondWithToken(w, r, deps, record.User, http.StatusOK)
	}
}

func respondWithToken(w http.ResponseWriter, r *http.Request, deps *AppDeps, user model.User, status int) {
	payload := &jwt.Payload{UserID: user.ID, Name: user.Name}

	token, err := jwt.GenerateToken(payload, deps.Config.JWTSecret, jwt.UserIdentityExpiration)
	if err != nil {
		logx.Error(err, "jwt generation failed", "user_id", user.ID)
		resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
		return
	}

	resp.RespondData(w, r, status, authResponse{Token: token, User: user})
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
