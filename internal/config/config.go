// Package config collects every runtime tunable into one explicit struct.
// Values are read from the environment exactly once at startup; nothing else
// in the codebase reads feedback-related env vars directly.
package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/feedbacktome/feedbacktome/internal/utils"
)

type LLMConfig struct {
	APIKey            string
	BaseURL           string
	FastModel         string
	FastFallback      string
	ReasoningModel    string
	ReasoningFallback string
	Timeout           time.Duration
}

type EmailConfig struct {
	APIKey   string
	Endpoint string
	Sender   string
}

type Config struct {
	Addr          string
	DBPath        string
	MigrationsDir string
	BaseURL       string
	// DevMode skips email confirmation and enables the in-memory store
	// when no database path is configured.
	DevMode bool

	StartingCredits            int
	MinimumSubmissionsRequired int
	MagicLinkTTL               time.Duration
	PresetQualities            []string
	RatingMin                  int
	RatingMax                  int

	LLM   LLMConfig
	Email EmailConfig
}

// FromEnv builds the configuration from environment variables with the
// documented defaults.
func FromEnv() Config {
	return Config{
		Addr:          utils.SafeEnv("FTM_ADDR", ":8080"),
		DBPath:        utils.SafeEnv("FTM_DB_PATH", ""),
		MigrationsDir: utils.SafeEnv("FTM_MIGRATIONS_DIR", ""),
		BaseURL:       utils.SafeEnv("FTM_BASE_URL", "https://feedback-to.me"),
		DevMode:       envBool("FTM_DEV_MODE", false),

		StartingCredits:            envInt("FTM_STARTING_CREDITS", 5),
		MinimumSubmissionsRequired: envInt("FTM_MINIMUM_SUBMISSIONS_REQUIRED", 5),
		MagicLinkTTL:               time.Duration(envInt("FTM_MAGIC_LINK_EXPIRY_DAYS", 30)) * 24 * time.Hour,
		PresetQualities:            splitList(utils.SafeEnv("FTM_FEEDBACK_QUALITIES", "Communication,Leadership,Technical Skills,Teamwork,Problem Solving")),
		RatingMin:                  1,
		RatingMax:                  8,

		LLM: LLMConfig{
			APIKey:            utils.SafeEnv("OPENROUTER_API_KEY", ""),
			BaseURL:           utils.SafeEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
			FastModel:         utils.SafeEnv("LLM_MODEL_FAST", "google/gemini-2.0-flash-001"),
			FastFallback:      utils.SafeEnv("LLM_MODEL_FAST_FALLBACK", "anthropic/claude-3.5-haiku"),
			ReasoningModel:    utils.SafeEnv("LLM_MODEL_REASONING", "google/gemini-2.0-flash-thinking-exp"),
			ReasoningFallback: utils.SafeEnv("LLM_MODEL_REASONING_FALLBACK", "anthropic/claude-sonnet-4"),
			Timeout:           time.Duration(envInt("FTM_LLM_TIMEOUT_SECONDS", 60)) * time.Second,
		},
		Email: EmailConfig{
			APIKey:   utils.SafeEnv("SMTP2GO_API_KEY", ""),
			Endpoint: utils.SafeEnv("SMTP2GO_EMAIL_ENDPOINT", "https://api.smtp2go.com/v3"),
			Sender:   utils.SafeEnv("FTM_EMAIL_SENDER", "noreply@feedback-to.me"),
		},
	}
}

func envInt(key string, fallback int) int {
	v := utils.SafeEnv(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := strings.ToLower(strings.TrimSpace(utils.SafeEnv(key, "")))
	if v == "" {
		return fallback
	}
	return v == "1" || v == "true" || v == "yes"
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
