// internal/pipeline/stages/organize/config.go
package organize

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
		MaxAttempts: 2,
		BaseDelay:   1 * time.Second,
	}
}
