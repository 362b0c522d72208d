package core

import (
	"crypto/tls"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultServerAddress is the address a stock ComfyUI server listens on.
const DefaultServerAddress = "127.0.0.1:8188"

// Config holds all configuration values
type Config struct {
	// Server Configuration
	ServerAddress        string // host:port, or a full http(s):// base URL
	ClientID             string // Scopes the event stream to this process
	AuthToken            string // Optional bearer token for proxied servers
	AllowSelfSignedCerts bool

	// Timeouts
	HTTPTimeout  time.Duration // Per-request timeout for HTTP calls
	JobTimeout   time.Duration // Upper bound on a single job (0 = wait forever)
	PingInterval time.Duration // WebSocket keep-alive ping interval (0 = disabled)

	// Output
	OutputDir  string // Where the CLI stores retrieved artifacts
	LedgerPath string // SQLite job ledger (empty = disabled)

	// Logging
	LogFile  string
	DevMode  bool
	LogLevel string
}

// LoadConfig loads configuration from environment variables with defaults
// suited to a ComfyUI server running on the local machine.
//
// Call godotenv.Load() before LoadConfig to pick up a .env file.
func LoadConfig() (*Config, error) {
	clientID := os.Getenv("COMFY_CLIENT_ID")
	if clientID == "" {
		clientID = uuid.NewString()
	}

	cfg := &Config{
		ServerAddress:        GetEnvOrDefault("COMFY_SERVER", DefaultServerAddress),
		ClientID:             clientID,
		AuthToken:            os.Getenv("COMFY_AUTH_TOKEN"),
		AllowSelfSignedCerts: ParseBoolEnv("ALLOW_SELF_SIGNED_CERTS", false),

		HTTPTimeout:  ParseDurationEnv("COMFY_HTTP_TIMEOUT", 30),
		JobTimeout:   ParseDurationEnv("COMFY_JOB_TIMEOUT", 0),
		PingInterval: ParseDurationEnv("COMFY_PING_INTERVAL", 30),

		OutputDir:  GetEnvOrDefault("COMFY_OUTPUT_DIR", "./output"),
		LedgerPath: GetEnvOrDefault("COMFY_LEDGER_PATH", "./comfyclient.db"),

		LogFile:  GetEnvOrDefault("COMFY_LOG_FILE", "comfyclient.log"),
		DevMode:  ParseBoolEnv("DEV_MODE", false),
		LogLevel: os.Getenv("COMFY_LOG_LEVEL"),
	}

	// "none" is the only way to switch the ledger off from a .env file,
	// since an empty value falls back to the default path.
	if strings.EqualFold(cfg.LedgerPath, "none") {
		cfg.LedgerPath = ""
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration can be used to reach a server.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ServerAddress) == "" {
		return ErrMissingConfig("COMFY_SERVER")
	}
	if _, err := ParseServerAddress(c.ServerAddress); err != nil {
		return ErrInvalidServerAddress(c.ServerAddress, err.Error())
	}
	if strings.TrimSpace(c.ClientID) == "" {
		return ErrMissingConfig("COMFY_CLIENT_ID")
	}
	if c.HTTPTimeout <= 0 {
		return ErrInvalidValue("COMFY_HTTP_TIMEOUT", "must be a positive number of seconds")
	}
	if c.JobTimeout < 0 {
		return ErrInvalidValue("COMFY_JOB_TIMEOUT", "must be zero or a positive number of seconds")
	}
	if c.PingInterval < 0 {
		return ErrInvalidValue("COMFY_PING_INTERVAL", "must be zero or a positive number of seconds")
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		return ErrMissingConfig("COMFY_OUTPUT_DIR")
	}
	return nil
}

// ParseServerAddress normalizes a server address into an http(s) base URL.
// A bare "host:port" is treated as plain http, matching how ComfyUI is
// usually exposed on a LAN.
func ParseServerAddress(address string) (*url.URL, error) {
	address = strings.TrimSpace(address)
	if !strings.Contains(address, "://") {
		address = "http://" + address
	}

	u, err := url.Parse(address)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &url.Error{Op: "parse", URL: address, Err: errUnsupportedScheme}
	}
	if u.Host == "" {
		return nil, &url.Error{Op: "parse", URL: address, Err: errMissingHost}
	}
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

// GetHTTPClient returns an HTTP client configured with TLS settings based on AllowSelfSignedCerts
func GetHTTPClient(cfg *Config, timeout time.Duration) *http.Client {
	client := &http.Client{
		Timeout: timeout,
	}

	if cfg.AllowSelfSignedCerts {
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	return client
}

// GetDefaultHTTPClient returns an HTTP client using the configured HTTPTimeout.
func GetDefaultHTTPClient(cfg *Config) *http.Client {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return GetHTTPClient(cfg, timeout)
}

// HasLedger returns true if the job ledger is enabled.
func (c *Config) HasLedger() bool {
	return c.LedgerPath != ""
}
