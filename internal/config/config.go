// Package config turns viper settings into the typed configuration used by
// the CLI and the API server.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/nimora/nimora/pkg/browser"
	"github.com/nimora/nimora/pkg/cache"
	"github.com/nimora/nimora/pkg/ecampus"
	"github.com/spf13/viper"
)

const devSigningKey = "dev-signing-secret-change"

// Page drivers selectable with scraper.browser.
const (
	BrowserHTTP   = "http"
	BrowserChrome = "chrome"
)

type Ecampus struct {
	BaseURL   string
	UserAgent string
	Proxy     string
}

type Scraper struct {
	Timeout         time.Duration
	SelectorTimeout time.Duration
	RetryMax        int
	MaxSessions     int64
	// Browser picks the page driver; chrome runs the portal's scripts.
	Browser    string
	ChromePath string
	Headful    bool
}

type Feedback struct {
	Disabled bool
	Pause    time.Duration
}

type Cache struct {
	Backend   string
	RedisAddr string
	DSN       string
	TTLs      map[cache.Kind]time.Duration
	// PruneInterval is how often expired entries are swept from stores
	// that keep them (memory, sqlite, postgres).
	PruneInterval time.Duration
}

type Server struct {
	Listen    string
	Env       string
	RateLimit int
	// AllowOrigins lists the browser origins allowed to call the API.
	// "*" allows any origin without credentials.
	AllowOrigins []string
}

type Auth struct {
	Required   bool
	SigningKey string
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Config is the full runtime configuration.
type Config struct {
	Ecampus  Ecampus
	Scraper  Scraper
	Feedback Feedback
	Cache    Cache
	Server   Server
	Auth     Auth
}

// SetDefaults registers every key with its default value.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("ecampus.baseurl", ecampus.DefaultBaseURL)
	v.SetDefault("ecampus.useragent", browser.DefaultUserAgent)
	v.SetDefault("ecampus.proxy", "")

	v.SetDefault("scraper.timeout", 30*time.Second)
	v.SetDefault("scraper.selectortimeout", 10*time.Second)
	v.SetDefault("scraper.retrymax", 0)
	v.SetDefault("scraper.maxsessions", 8)
	v.SetDefault("scraper.browser", BrowserHTTP)
	v.SetDefault("scraper.chromepath", "")
	v.SetDefault("scraper.headful", false)

	v.SetDefault("feedback.disabled", false)
	v.SetDefault("feedback.pause", 500*time.Millisecond)

	v.SetDefault("cache.backend", cache.BackendMemory)
	v.SetDefault("cache.redisaddr", "localhost:6379")
	v.SetDefault("cache.dsn", "nimora.sqlite")
	v.SetDefault("cache.pruneinterval", 10*time.Minute)
	for _, kind := range cache.Kinds {
		v.SetDefault("cache.ttl."+string(kind), cache.DefaultTTLs[kind])
	}

	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.env", "dev")
	v.SetDefault("server.ratelimit", 60)
	v.SetDefault("server.alloworigins", []string{"http://localhost:5173"})

	v.SetDefault("auth.required", true)
	v.SetDefault("auth.signingkey", devSigningKey)
	v.SetDefault("auth.issuer", "nimora")
	v.SetDefault("auth.accessttl", 15*time.Minute)
	v.SetDefault("auth.refreshttl", 24*time.Hour)
}

// Load reads and validates the configuration held by v.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		Ecampus: Ecampus{
			BaseURL:   strings.TrimRight(v.GetString("ecampus.baseurl"), "/"),
			UserAgent: v.GetString("ecampus.useragent"),
			Proxy:     v.GetString("ecampus.proxy"),
		},
		Scraper: Scraper{
			Timeout:         v.GetDuration("scraper.timeout"),
			SelectorTimeout: v.GetDuration("scraper.selectortimeout"),
			RetryMax:        v.GetInt("scraper.retrymax"),
			MaxSessions:     v.GetInt64("scraper.maxsessions"),
			Browser:         strings.ToLower(v.GetString("scraper.browser")),
			ChromePath:      v.GetString("scraper.chromepath"),
			Headful:         v.GetBool("scraper.headful"),
		},
		Feedback: Feedback{
			Disabled: v.GetBool("feedback.disabled"),
			Pause:    v.GetDuration("feedback.pause"),
		},
		Cache: Cache{
			Backend:   strings.ToLower(v.GetString("cache.backend")),
			RedisAddr: v.GetString("cache.redisaddr"),
			DSN:       v.GetString("cache.dsn"),
			TTLs:      make(map[cache.Kind]time.Duration, len(cache.Kinds)),

			PruneInterval: v.GetDuration("cache.pruneinterval"),
		},
		Server: Server{
			Listen:    v.GetString("server.listen"),
			Env:       v.GetString("server.env"),
			RateLimit: v.GetInt("server.ratelimit"),

			AllowOrigins: v.GetStringSlice("server.alloworigins"),
		},
		Auth: Auth{
			Required:   v.GetBool("auth.required"),
			SigningKey: v.GetString("auth.signingkey"),
			Issuer:     v.GetString("auth.issuer"),
			AccessTTL:  v.GetDuration("auth.accessttl"),
			RefreshTTL: v.GetDuration("auth.refreshttl"),
		},
	}
	for _, kind := range cache.Kinds {
		cfg.Cache.TTLs[kind] = v.GetDuration("cache.ttl." + string(kind))
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.Ecampus.BaseURL == "" {
		return fmt.Errorf("ecampus.baseurl must be set")
	}
	if c.Scraper.Timeout <= 0 || c.Scraper.SelectorTimeout <= 0 {
		return fmt.Errorf("scraper timeouts must be positive")
	}
	if c.Scraper.RetryMax < 0 {
		return fmt.Errorf("scraper.retrymax must not be negative")
	}
	switch c.Scraper.Browser {
	case BrowserHTTP, BrowserChrome:
	default:
		return fmt.Errorf("unknown scraper.browser %q", c.Scraper.Browser)
	}
	switch c.Cache.Backend {
	case cache.BackendMemory, cache.BackendRedis, cache.BackendSQLite, cache.BackendPostgres:
	default:
		return fmt.Errorf("unknown cache.backend %q", c.Cache.Backend)
	}
	for kind, ttl := range c.Cache.TTLs {
		if ttl <= 0 {
			return fmt.Errorf("cache.ttl.%s must be positive", kind)
		}
	}
	if c.Auth.Required && c.Auth.SigningKey == "" {
		return fmt.Errorf("auth.signingkey must be set when auth.required is true")
	}
	return nil
}

// Production reports whether the server runs in release mode.
func (c Config) Production() bool {
	return strings.EqualFold(c.Server.Env, "prod") || strings.EqualFold(c.Server.Env, "production")
}

// InsecureSigningKey reports whether the built-in development key is in use.
func (c Config) InsecureSigningKey() bool {
	return c.Auth.SigningKey == devSigningKey
}
