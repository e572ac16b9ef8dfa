// Package config loads runtime settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/go-playground/validator.v9"
)

// Config holds every knob the API process reads at boot.
type Config struct {
	DatabaseURL        string        `validate:"required"`
	Addr               string        `validate:"required"`
	JWTSecret          string        `validate:"required,min=16"`
	LogLevel           string        `validate:"oneof=debug info warn error"`
	LogFormat          string        `validate:"oneof=json text"`
	AutoMigrate        bool
	LockStaleAfter     time.Duration `validate:"gt=0"`
	SweepSchedule      string        `validate:"required"`
	OutboxSchedule     string        `validate:"required"`
	OutboxBatchSize    int           `validate:"gt=0,lte=500"`
	OutboxMaxAttempts  int           `validate:"gt=0"`
	SessionIdleTimeout time.Duration `validate:"gt=0"`
	ReleaseDelay       time.Duration `validate:"gte=0"`
	MessagingURL       string        `validate:"omitempty,url"`
	MessagingToken     string
	WSAllowedOrigins   []string
	DBMaxConns         int32 `validate:"gte=0"`
}

// Load reads the optional env file at path (empty means ".env") and then the
// process environment. Variables already set in the environment win.
func Load(path string) (Config, error) {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load %s: %w", path, err)
	}

	var p parser
	cfg := Config{
		DatabaseURL:        env("DATABASE_URL", ""),
		Addr:               env("ADDR", ":8080"),
		JWTSecret:          env("JWT_SECRET", ""),
		LogLevel:           strings.ToLower(env("LOG_LEVEL", "info")),
		LogFormat:          strings.ToLower(env("LOG_FORMAT", "json")),
		AutoMigrate:        p.envBool("AUTO_MIGRATE", false),
		LockStaleAfter:     p.envDuration("LOCK_STALE_AFTER", 15*time.Minute),
		SweepSchedule:      env("SWEEP_SCHEDULE", "@every 1m"),
		OutboxSchedule:     env("OUTBOX_SCHEDULE", "@every 5s"),
		OutboxBatchSize:    p.envInt("OUTBOX_BATCH_SIZE", 20),
		OutboxMaxAttempts:  p.envInt("OUTBOX_MAX_ATTEMPTS", 5),
		SessionIdleTimeout: p.envDuration("SESSION_IDLE_TIMEOUT", 30*time.Minute),
		ReleaseDelay:       p.envDuration("RELEASE_DELAY", 0),
		MessagingURL:       env("MESSAGING_URL", ""),
		MessagingToken:     env("MESSAGING_TOKEN", ""),
		WSAllowedOrigins:   splitList(env("WS_ALLOWED_ORIGINS", "")),
		DBMaxConns:         int32(p.envInt("DB_MAX_CONNS", 0)),
	}
	if len(p.bad) > 0 {
		return Config{}, fmt.Errorf("config: unparsable values: %s", strings.Join(p.bad, ", "))
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks struct-level constraints.
func Validate(cfg Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s(%s)", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("config: invalid fields: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("config: validate: %w", err)
	}
	return nil
}

func env(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

// parser collects every malformed variable so Load reports them together.
type parser struct {
	bad []string
}

func (p *parser) fail(key, raw string) {
	p.bad = append(p.bad, fmt.Sprintf("%s=%q", key, raw))
}

func (p *parser) envInt(key string, fallback int) int {
	raw := env(key, "")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		p.fail(key, raw)
		return fallback
	}
	return n
}

func (p *parser) envBool(key string, fallback bool) bool {
	raw := env(key, "")
	if raw == "" {
		return fallback
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		p.fail(key, raw)
		return fallback
	}
	return b
}

// envDuration accepts Go duration strings ("90s") or bare seconds ("90").
func (p *parser) envDuration(key string, fallback time.Duration) time.Duration {
	raw := env(key, "")
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return time.Duration(n) * time.Second
	}
	p.fail(key, raw)
	return fallback
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
