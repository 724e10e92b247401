package handler

import (
	"chatsync/internal/app/chat"
	"chatsync/internal/app/db"
	"chatsync/internal/configs"
)

// AppDeps carries what the handlers share.
type AppDeps struct {
	Hub    *chat.Hub
	Config *configs.AppConfig
	Store  db.Store
}
