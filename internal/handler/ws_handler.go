package handler

import (
	"net"
	"net/http"

	"github.com/gorilla/websocket"

	"chatsync/internal/app/chat"
	"chatsync/internal/pkg/errs"
	"chatsync/internal/pkg/limiter"
	"chatsync/internal/pkg/logx"
	"chatsync/internal/pkg/resp"
)

// HandleWebSocket upgrades the connection and hands it to the hub. The client identifies
// itself afterwards with a setup frame.
func HandleWebSocket(upgrader websocket.Upgrader, rateLimiter *limiter.IPRateLimiter, deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}

		if ip == "" {
			ip = "unknown_ip"
		}

		if !rateLimiter.GetLimiter(ip).Allow() {
			logx.Warn("WebSocket connection rejected: Rate limit exceeded.", "ip", ip)
			resp.RespondError(w, r, errs.NewError(errs.ErrRateLimitExceeded))
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket")
			return
		}

		client := chat.NewClient(deps.Hub, conn)
		if !deps.Hub.Register(client) {
			logx.Warn("WebSocket connection dropped: hub is shutting down", "ip", ip)
			_ = conn.Close()
			return
		}

		go client.WritePump()

		logx.Debug("WebSocket connection established", "ip", ip)

		client.ReadPump()
	}
}
