package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"chatsync/internal/app/console"
	"chatsync/internal/app/credential"
	"chatsync/internal/app/realtime"
	"chatsync/internal/app/session"
	"chatsync/internal/app/snapshot"
	"chatsync/internal/configs"
	"chatsync/internal/pkg/logx"
)

type chatFlags struct {
	apiURL    string
	socketURL string
	token     string
	email     string
	password  string
	register  string
	debounce  time.Duration
}

func newChatCommand() *cobra.Command {
	var flags chatFlags

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat from the terminal",
		Long: "Chat from the terminal. Authenticate with CHAT_TOKEN (or --token), or with --email and\n" +
			"--password; add --register <name> to create the account first. Logs go to stderr.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadClientConfig(cmd, flags)
			if err != nil {
				return err
			}

			logx.InitGlobalLogger(cfg.IsDevelopment(), cmd.ErrOrStderr())
			return runChat(cmd, cfg, flags)
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.apiURL, "api-url", "", "REST API root (overrides CHAT_API_URL)")
	f.StringVar(&flags.socketURL, "socket-url", "", "websocket URL (overrides CHAT_SOCKET_URL)")
	f.StringVar(&flags.token, "token", "", "access token (overrides CHAT_TOKEN)")
	f.StringVar(&flags.email, "email", "", "log in with this email when no token is set")
	f.StringVar(&flags.password, "password", "", "password for --email")
	f.StringVar(&flags.register, "register", "", "register a new account with this display name before logging in")
	f.DurationVar(&flags.debounce, "typing-debounce", 0, "idle time before typing stops (overrides TYPING_DEBOUNCE_MS)")
	return cmd
}

func loadClientConfig(cmd *cobra.Command, flags chatFlags) (*configs.ClientConfig, error) {
	cfg, err := configs.LoadClientConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	changed := cmd.Flags().Changed
	if changed("api-url") {
		cfg.APIURL = flags.apiURL
		if !changed("socket-url") && os.Getenv("CHAT_SOCKET_URL") == "" {
			cfg.SocketURL = ""
		}
	}
	if changed("socket-url") {
		cfg.SocketURL = flags.socketURL
	}
	if changed("token") {
		cfg.Token = flags.token
	}
	if changed("typing-debounce") {
		if flags.debounce <= 0 {
			return nil, errors.New("--typing-debounce must be positive")
		}
		cfg.TypingDebounce = flags.debounce
	}

	if err := cfg.Resolve(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runChat(cmd *cobra.Command, cfg *configs.ClientConfig, flags chatFlags) error {
	ctx := cmd.Context()

	api, err := snapshot.New(snapshot.Config{BaseURL: cfg.APIURL})
	if err != nil {
		return err
	}

	token, err := obtainToken(ctx, api, cfg.Token, flags)
	if err != nil {
		return err
	}

	cred, err := credential.New(token)
	if err != nil {
		return err
	}

	ch, err := realtime.New(realtime.Config{URL: cfg.SocketURL})
	if err != nil {
		return err
	}

	store, err := session.Start(ctx, cred, api, ch, session.Options{TypingTimeout: cfg.TypingDebounce})
	if err != nil {
		ch.Close()
		return err
	}
	defer store.Close()

	logx.Info("Chat session started", "user_id", cred.UserID(), "api", cfg.APIURL, "socket", cfg.SocketURL)

	err = console.New(store, api, cred, cmd.OutOrStdout()).Run(ctx, cmd.InOrStdin())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func obtainToken(ctx context.Context, api *snapshot.Client, token string, flags chatFlags) (string, error) {
	if token != "" {
		return token, nil
	}
	if flags.email == "" || flags.password == "" {
		return "", errors.New("no access token: set CHAT_TOKEN or pass --email and --password")
	}
	if flags.register != "" {
		return api.Register(ctx, flags.register, flags.email, flags.password)
	}
	return api.Login(ctx, flags.email, flags.password)
}
