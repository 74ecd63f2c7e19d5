package infra

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv string
	Port   string

	// Blob store selection. "filesystem" needs StoragePath; "postgres" needs
	// DatabaseURL; "memory" keeps everything in-process (tests, demos).
	StorageBackend string
	StoragePath    string
	DatabaseURL    string

	// PublicBaseURL is the origin under which stored images are reachable.
	// Hosted URLs are built as {PublicBaseURL}/image/{key}.
	PublicBaseURL string

	// CORS policy for the image gateway. Requests from an unrecognized
	// origin are answered with DefaultOrigin.
	AllowedOrigins []string
	DefaultOrigin  string

	// Upstream form-submission store.
	FormStoreBaseURL string
	FormStoreAPIKey  string

	// UploadRateLimit caps writes per client IP per minute. Zero disables.
	UploadRateLimit int

	ProxyFetchTimeout time.Duration
	HTTPReadTimeout   time.Duration
	HTTPWriteTimeout  time.Duration
	HTTPIdleTimeout   time.Duration
}

// LoadConfig loads configuration from environment variables and applies
// defaults where needed.
func LoadConfig() (*Config, error) {
	port := getEnv("PORT", "8080")
	cfg := &Config{
		AppEnv:            getEnv("APP_ENV", "development"),
		Port:              port,
		StorageBackend:    getEnv("STORAGE_BACKEND", "filesystem"),
		StoragePath:       getEnv("STORAGE_PATH", "./data/images"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		PublicBaseURL:     getEnv("PUBLIC_BASE_URL", "http://localhost:"+port),
		AllowedOrigins:    splitList(os.Getenv("ALLOWED_ORIGINS")),
		DefaultOrigin:     os.Getenv("DEFAULT_ORIGIN"),
		FormStoreBaseURL:  getEnv("FORM_STORE_BASE_URL", "https://api.jotform.com"),
		FormStoreAPIKey:   os.Getenv("FORM_STORE_API_KEY"),
		UploadRateLimit:   getEnvInt("UPLOAD_RATE_LIMIT", 60),
		ProxyFetchTimeout: time.Second * time.Duration(getEnvInt("PROXY_FETCH_TIMEOUT_SECONDS", 20)),
		HTTPReadTimeout:   time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:  time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:   time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	if _, err := url.Parse(cfg.PublicBaseURL); err != nil {
		return nil, fmt.Errorf("PUBLIC_BASE_URL is invalid: %w", err)
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{cfg.PublicBaseURL}
	}
	if cfg.DefaultOrigin == "" {
		cfg.DefaultOrigin = cfg.AllowedOrigins[0]
	}

	switch cfg.StorageBackend {
	case "filesystem", "memory":
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required when STORAGE_BACKEND=postgres")
		}
	default:
		return nil, fmt.Errorf("unknown STORAGE_BACKEND %q", cfg.StorageBackend)
	}

	return cfg, nil
}

func splitList(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
