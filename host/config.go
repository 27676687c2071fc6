package host

import (
	"context"
	"log/slog"
	"time"
)

// LogLevel mirrors the three-way verbosity knob from spec.md §6; it maps
// onto slog levels rather than introducing a parallel severity scheme.
type LogLevel string

const (
	LogQuiet LogLevel = "quiet"
	LogInfo  LogLevel = "info"
	LogDebug LogLevel = "debug"
)

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogQuiet:
		// One above the highest standard level: effectively disables output
		// through a level-gated handler without requiring a no-op Logger.
		return slog.LevelError + 4
	default:
		return slog.LevelInfo
	}
}

// ErrorContext carries the metadata an OnError callback needs to report a
// failed action without reaching back into runtime internals.
type ErrorContext struct {
	Slug         string
	Params       map[string]any
	User         User
	Organization Organization
}

// Config collects every recognized option key from spec.md §6. Zero-valued
// fields are filled in by withDefaults; APIKey and Endpoint have no default
// and must be supplied by the caller.
type Config struct {
	APIKey   string
	Endpoint string

	RetryInterval                      time.Duration
	PingInterval                       time.Duration
	PingTimeout                        time.Duration
	ConnectTimeout                     time.Duration
	SendTimeout                        time.Duration
	CloseUnresponsiveConnectionTimeout time.Duration
	ReinitializeBatchTimeout           time.Duration
	RetryChunkInterval                 time.Duration
	// MaxResendAttempts is a *int, not an int, because 0 is a meaningful
	// caller choice (spec.md §8: "maxResendAttempts = 0 produces exactly one
	// attempt and then fails") and must be distinguishable from "unset".
	MaxResendAttempts        *int
	CompleteHTTPRequestDelay time.Duration

	LogLevel           LogLevel
	Logger             *slog.Logger
	OnError            func(err error, ec ErrorContext)
	VerboseMessageLogs bool

	// OAuth configures the client-credentials flow some self-hosted
	// deployments authenticate the connection with in place of a static
	// apiKey. When set, the default dialer exchanges it for a bearer token
	// and attaches it as the Authorization header instead of x-api-key.
	OAuth *OAuthConfig
}

// OAuthConfig is the client-credentials configuration for OAuth-authenticated
// deployments (spec.md §6's apiKey is the common case; this is the
// alternative the reference deployment also supports for service accounts).
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
}

// withDefaults returns a copy of cfg with every unset field filled in to the
// reference deployment's tuning, mirroring the teacher's optional-pointer,
// default-filled option structs.
func (cfg Config) withDefaults() Config {
	if cfg.RetryInterval == 0 {
		cfg.RetryInterval = 3 * time.Second
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.PingTimeout == 0 {
		cfg.PingTimeout = 5 * time.Second
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.SendTimeout == 0 {
		cfg.SendTimeout = 5 * time.Second
	}
	if cfg.CloseUnresponsiveConnectionTimeout == 0 {
		cfg.CloseUnresponsiveConnectionTimeout = 3 * time.Minute
	}
	if cfg.ReinitializeBatchTimeout == 0 {
		cfg.ReinitializeBatchTimeout = 200 * time.Millisecond
	}
	if cfg.RetryChunkInterval == 0 {
		cfg.RetryChunkInterval = 3 * time.Second
	}
	if cfg.MaxResendAttempts == nil {
		defaultAttempts := 5
		cfg.MaxResendAttempts = &defaultAttempts
	}
	if cfg.CompleteHTTPRequestDelay == 0 {
		cfg.CompleteHTTPRequestDelay = 500 * time.Millisecond
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = LogInfo
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

func (cfg Config) logger() *slog.Logger {
	return slog.New(levelFilterHandler{h: cfg.Logger.Handler(), min: cfg.LogLevel.slogLevel()})
}

// levelFilterHandler gates records below min without requiring callers to
// rebuild every *slog.Logger call site with a dynamic level check.
type levelFilterHandler struct {
	h   slog.Handler
	min slog.Level
}

func (h levelFilterHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.min && h.h.Enabled(ctx, level)
}

func (h levelFilterHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.h.Handle(ctx, r)
}

func (h levelFilterHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return levelFilterHandler{h: h.h.WithAttrs(attrs), min: h.min}
}

func (h levelFilterHandler) WithGroup(name string) slog.Handler {
	return levelFilterHandler{h: h.h.WithGroup(name), min: h.min}
}
