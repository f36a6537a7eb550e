// internal/pipeline/stages/fetch/config.go
package fetch

import "time"

type Config struct {
	Provider    string
	MaxAttempts int
	BaseDelay   time.Duration
	Timeout     time.Duration // 0 = no per-call timeout
	BatchSize   int
}

func LoadConfig() *Config {
	return &Config{
		Provider:    "gemini",
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		BatchSize:   10,
	}
}
