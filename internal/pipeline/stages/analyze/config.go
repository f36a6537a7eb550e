// internal/pipeline/stages/analyze/config.go
package analyze

import "time"

type Config struct {
	Provider    string
	MaxAttempts int
	BaseDelay   time.Duration
	Timeout     time.Duration // 0 = no per-call timeout
}

func LoadConfig() *Config {
	return &Config{
		Provider:    "gemini",
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
	}
}
