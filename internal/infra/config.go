package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv         string
	LogLevel       string
	Port           string
	DatabaseURL    string
	DBMaxConns     int32
	StoragePath    string
	StorageBaseURL string
	GeoIPDBPath    string
	DefaultLocale  string

	ProviderBackend  string
	TaskAPIBaseURL   string
	TaskAPIKey       string
	DashScopeAPIKey  string
	DashScopeBaseURL string
	SyntheticCDNBase string
	SyntheticPolls   int
	// KindRoutes sends a kind to a backend other than ProviderBackend.
	KindRoutes      map[string]string
	MirrorArtifacts bool

	PollInterval       time.Duration
	PollJitter         float64
	WaitBudgets        map[string]time.Duration
	SessionIdleTimeout time.Duration

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	ShutdownTimeout  time.Duration
	RateLimitPerMin  int
	CORSOrigins      []string
}

// Provider backends understood by PROVIDER_BACKEND.
const (
	BackendTaskAPI   = "taskapi"
	BackendDashScope = "dashscope"
	BackendSynthetic = "synthetic"
)

var budgetKinds = map[string]time.Duration{
	"image":  5 * time.Minute,
	"video":  20 * time.Minute,
	"voice":  3 * time.Minute,
	"music":  10 * time.Minute,
	"blend":  5 * time.Minute,
	"action": 5 * time.Minute,
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	port := getEnv("PORT", "8080")
	cfg := &Config{
		AppEnv:         getEnv("APP_ENV", "development"),
		LogLevel:       os.Getenv("LOG_LEVEL"),
		Port:           port,
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		DBMaxConns:     int32(getEnvInt("DB_MAX_CONNS", 10)),
		StoragePath:    getEnv("STORAGE_PATH", "./data"),
		StorageBaseURL: getEnv("STORAGE_BASE_URL", "http://localhost:"+port+"/static"),
		GeoIPDBPath:    os.Getenv("GEOIP_DB_PATH"),
		DefaultLocale:  getEnv("DEFAULT_LOCALE", "en"),

		ProviderBackend:  strings.ToLower(getEnv("PROVIDER_BACKEND", BackendSynthetic)),
		TaskAPIBaseURL:   os.Getenv("TASKAPI_BASE_URL"),
		TaskAPIKey:       os.Getenv("TASKAPI_API_KEY"),
		DashScopeAPIKey:  os.Getenv("DASHSCOPE_API_KEY"),
		DashScopeBaseURL: getEnv("DASHSCOPE_BASE_URL", "https://dashscope-intl.aliyuncs.com/api/v1"),
		SyntheticCDNBase: getEnv("SYNTHETIC_CDN_BASE", "https://cdn.genstudio.local"),
		SyntheticPolls:   getEnvInt("SYNTHETIC_POLLS", 3),
		KindRoutes:       make(map[string]string),

		PollInterval:       getEnvDuration("POLL_INTERVAL", 5*time.Second),
		PollJitter:         getEnvFloat("POLL_JITTER", 0),
		WaitBudgets:        make(map[string]time.Duration, len(budgetKinds)),
		SessionIdleTimeout: getEnvDuration("SESSION_IDLE_TIMEOUT", 30*time.Minute),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 0)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		ShutdownTimeout:  getEnvDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		CORSOrigins:      getEnvList("CORS_ALLOWED_ORIGINS"),
	}
	cfg.MirrorArtifacts = getEnvBool("MIRROR_ARTIFACTS", cfg.ProviderBackend != BackendSynthetic)
	for kind, fallback := range budgetKinds {
		upper := strings.ToUpper(kind)
		cfg.WaitBudgets[kind] = getEnvDuration("WAIT_BUDGET_"+upper, fallback)
		if backend := strings.ToLower(os.Getenv("PROVIDER_ROUTE_" + upper)); backend != "" {
			cfg.KindRoutes[kind] = backend
		}
	}

	if err := checkBackend("PROVIDER_BACKEND", cfg.ProviderBackend); err != nil {
		return nil, err
	}
	for kind, backend := range cfg.KindRoutes {
		if err := checkBackend("PROVIDER_ROUTE_"+strings.ToUpper(kind), backend); err != nil {
			return nil, err
		}
	}
	if cfg.UsesBackend(BackendTaskAPI) && cfg.TaskAPIBaseURL == "" {
		return nil, fmt.Errorf("TASKAPI_BASE_URL is required for provider backend %q", BackendTaskAPI)
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("POLL_INTERVAL must be positive, got %s", cfg.PollInterval)
	}
	if cfg.DBMaxConns < 1 {
		return nil, fmt.Errorf("DB_MAX_CONNS must be at least 1, got %d", cfg.DBMaxConns)
	}
	if cfg.PollJitter < 0 || cfg.PollJitter > 1 {
		return nil, fmt.Errorf("POLL_JITTER must be within [0,1], got %v", cfg.PollJitter)
	}

	return cfg, nil
}

// UsesBackend reports whether backend serves the default or a routed kind.
func (c *Config) UsesBackend(backend string) bool {
	if c.ProviderBackend == backend {
		return true
	}
	for _, b := range c.KindRoutes {
		if b == backend {
			return true
		}
	}
	return false
}

func checkBackend(key, backend string) error {
	switch backend {
	case BackendTaskAPI, BackendDashScope, BackendSynthetic:
		return nil
	}
	return fmt.Errorf("unknown %s %q", key, backend)
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("90s") and bare seconds ("90").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	v = strings.TrimSpace(v)
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
