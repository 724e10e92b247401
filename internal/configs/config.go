/*
Package configs is responsible for loading and parsing the application's configuration settings.

Both commands read operating system environment variables. The development backend (serve) needs
the environment, port, allowed origins, JWT secret and an optional database URL. The terminal
client (chat) needs the API and socket URLs, the access token and the typing debounce. Command-line
flags override what is loaded here.
*/
package configs

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvironment = "development"
	defaultPort        = 8080
	defaultAPIURL      = "http://localhost:8080/api"
	defaultDebounceMS  = 3000

	insecureDevSecret = "chatsync_dev_secret_change_me"
)

// AppConfig contains all configuration parameters required for the backend to run.
// All configuration values are loaded from environment variables.
type AppConfig struct {
	// General Server Settings
	Environment string
	Port        int

	// Security Settings
	AllowedOrigins []string
	JWTSecret      string

	// Database Settings. An empty DSN selects the in-memory store.
	DatabaseDSN string
}

// IsDevelopment reports whether the backend runs with development defaults.
func (c *AppConfig) IsDevelopment() bool {
	return c.Environment == defaultEnvironment
}

// LoadConfig reads and parses the backend configuration from environment variables.
// It provides default values for each configuration item and performs necessary type conversions and validation.
func LoadConfig() (*AppConfig, error) {
	cfg := &AppConfig{}

	// --- General Server Settings ---
	cfg.Environment = environment()

	port, err := intEnv("PORT", defaultPort)
	if err != nil {
		return nil, err
	}
	if port < 1024 || port > 65535 {
		return nil, fmt.Errorf("port number %d is outside the recommended range (%d-%d) to avoid privileged ports", port, 1024, 65535)
	}
	cfg.Port = port

	// --- Security Settings ---
	cfg.AllowedOrigins = []string{}
	for _, origin := range strings.Split(os.Getenv("ALLOWED_ORIGINS"), ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, trimmed)
		}
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		if !cfg.IsDevelopment() {
			return nil, fmt.Errorf("JWT_SECRET environment variable is required in %s environment for security", cfg.Environment)
		}
		cfg.JWTSecret = insecureDevSecret
	}

	// --- Database Settings ---
	cfg.DatabaseDSN = strings.TrimSpace(os.Getenv("DATABASE_URL"))

	return cfg, nil
}

// ClientConfig configures the terminal client.
type ClientConfig struct {
	Environment string

	// APIURL is the REST root, e.g. http://localhost:8080/api.
	APIURL string

	// SocketURL is the push channel endpoint. Derived from APIURL when unset.
	SocketURL string

	// Token is the access token. When empty the client logs in interactively.
	Token string

	TypingDebounce time.Duration
}

// IsDevelopment reports whether the client logs in development mode.
func (c *ClientConfig) IsDevelopment() bool {
	return c.Environment == defaultEnvironment
}

// LoadClientConfig reads CHAT_API_URL, CHAT_SOCKET_URL, CHAT_TOKEN and TYPING_DEBOUNCE_MS.
func LoadClientConfig() (*ClientConfig, error) {
	cfg := &ClientConfig{
		Environment: environment(),
		APIURL:      strings.TrimRight(os.Getenv("CHAT_API_URL"), "/"),
		SocketURL:   os.Getenv("CHAT_SOCKET_URL"),
		Token:       strings.TrimSpace(os.Getenv("CHAT_TOKEN")),
	}
	if cfg.APIURL == "" {
		cfg.APIURL = defaultAPIURL
	}

	debounce, err := intEnv("TYPING_DEBOUNCE_MS", defaultDebounceMS)
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		return nil, fmt.Errorf("TYPING_DEBOUNCE_MS must be positive, got %d", debounce)
	}
	cfg.TypingDebounce = time.Duration(debounce) * time.Millisecond

	if err := cfg.Resolve(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Resolve validates the URLs and derives SocketURL from APIURL when it is empty. Call it again
// after applying flag overrides.
func (c *ClientConfig) Resolve() error {
	api, err := url.Parse(c.APIURL)
	if err != nil || api.Host == "" {
		return fmt.Errorf("invalid CHAT_API_URL %q", c.APIURL)
	}

	if c.SocketURL == "" {
		socket := *api
		switch api.Scheme {
		case "https":
			socket.Scheme = "wss"
		default:
			socket.Scheme = "ws"
		}
		socket.Path = "/ws"
		socket.RawQuery = ""
		c.SocketURL = socket.String()
	}

	if _, err := url.Parse(c.SocketURL); err != nil {
		return fmt.Errorf("invalid CHAT_SOCKET_URL %q: %w", c.SocketURL, err)
	}
	return nil
}

func environment() string {
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		return env
	}
	return defaultEnvironment
}

func intEnv(name string, fallback int) (int, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s environment variable: %w", name, err)
	}
	return value, nil
}
