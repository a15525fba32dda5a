package config

import "time"

// TestConfig returns a config suitable for testing: no simulated latency,
// a short debounce and no rate limiting.
func TestConfig() *Config {
	cfg := defaultConfig()
	cfg.Database = DatabaseConfig{
		Path:    ":memory:",
		Timeout: 1 * time.Second,
	}
	cfg.Service.Latency = 0
	cfg.Service.HTTPTimeout = 5 * time.Second
	cfg.Service.UserAgent = "roster-test/1.0"
	cfg.Machine.Debounce = 10 * time.Millisecond
	cfg.Server.RateLimit = 0
	cfg.Server.Burst = 0
	cfg.Log = LogConfig{Level: "debug"}
	return cfg
}
