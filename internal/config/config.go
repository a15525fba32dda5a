package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Service  ServiceConfig  `mapstructure:"service"`
	Machine  MachineConfig  `mapstructure:"machine"`
	Search   SearchConfig   `mapstructure:"search"`
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	UI       UIConfig       `mapstructure:"ui"`
	Keys     KeyConfig      `mapstructure:"keys"`
}

type DatabaseConfig struct {
	Path        string        `mapstructure:"path"`
	Timeout     time.Duration `mapstructure:"timeout"`
	SearchIndex string        `mapstructure:"search_index"`
}

const (
	ServiceModeLocal = "local"
	ServiceModeHTTP  = "http"

	SearchEngineSimple = "simple"
	SearchEngineBleve  = "bleve"
)

type ServiceConfig struct {
	// Mode is "local" to query the database in process or "http" to call
	// a people API at BaseURL.
	Mode        string        `mapstructure:"mode"`
	BaseURL     string        `mapstructure:"base_url"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
	UserAgent   string        `mapstructure:"user_agent"`
	Latency     time.Duration `mapstructure:"latency"`
}

type MachineConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
}

type SearchConfig struct {
	Engine string `mapstructure:"engine"`
	Limit  int    `mapstructure:"limit"`
}

type ServerConfig struct {
	Addr        string        `mapstructure:"addr"`
	RateLimit   float64       `mapstructure:"rate_limit"`
	Burst       int           `mapstructure:"burst"`
	FailureRate float64       `mapstructure:"failure_rate"`
	Latency     time.Duration `mapstructure:"latency"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

type UIConfig struct {
	Colors UIColors `mapstructure:"colors"`
}

type UIColors struct {
	Primary    string `mapstructure:"primary"`
	Secondary  string `mapstructure:"secondary"`
	Accent     string `mapstructure:"accent"`
	Background string `mapstructure:"background"`
	Surface    string `mapstructure:"surface"`
	Text       string `mapstructure:"text"`
	Muted      string `mapstructure:"muted"`
	Error      string `mapstructure:"error"`
	Success    string `mapstructure:"success"`
}

type KeyConfig struct {
	Bindings KeyBindings `mapstructure:"bindings"`
}

type KeyBindings struct {
	Quit             string `mapstructure:"quit"`
	Retry            string `mapstructure:"retry"`
	ToggleEmployee   string `mapstructure:"toggle_employee"`
	ToggleContractor string `mapstructure:"toggle_contractor"`
	FocusSearch      string `mapstructure:"focus_search"`
	Open             string `mapstructure:"open"`
	Back             string `mapstructure:"back"`
	Help             string `mapstructure:"help"`
}

func defaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".roster")

	return &Config{
		Database: DatabaseConfig{
			Path:        filepath.Join(dataDir, "roster.db"),
			Timeout:     1 * time.Second,
			SearchIndex: filepath.Join(dataDir, "index.bleve"),
		},
		Service: ServiceConfig{
			Mode:        ServiceModeLocal,
			BaseURL:     "http://127.0.0.1:8080",
			HTTPTimeout: 10 * time.Second,
			UserAgent:   "roster/1.0 (https://github.com/pders01/roster)",
			Latency:     500 * time.Millisecond,
		},
		Machine: MachineConfig{
			Debounce: 500 * time.Millisecond,
		},
		Search: SearchConfig{
			Engine: SearchEngineSimple,
			Limit:  0,
		},
		Server: ServerConfig{
			Addr:        "127.0.0.1:8080",
			RateLimit:   10,
			Burst:       20,
			FailureRate: 0,
			Latency:     0,
		},
		Log: LogConfig{
			Level: "info",
			File:  filepath.Join(dataDir, "roster.log"),
		},
		UI: UIConfig{
			Colors: UIColors{
				Primary:    "#FF6B6B",
				Secondary:  "#4ECDC4",
				Accent:     "#95E1D3",
				Background: "#1A1A2E",
				Surface:    "#16213E",
				Text:       "#EAEAEA",
				Muted:      "#94A3B8",
				Error:      "#F87171",
				Success:    "#4ADE80",
			},
		},
		Keys: KeyConfig{
			Bindings: KeyBindings{
				Quit:             "ctrl+c",
				Retry:            "ctrl+r",
				ToggleEmployee:   "ctrl+e",
				ToggleContractor: "ctrl+t",
				FocusSearch:      "/",
				Open:             "enter",
				Back:             "esc",
				Help:             "?",
			},
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v, defaultConfig())

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		homeDir, _ := os.UserHomeDir()
		configDir := filepath.Join(homeDir, ".config", "roster")

		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(configDir)
		v.AddConfigPath(".")
	}

	// ROSTER_SERVICE_MODE overrides service.mode and so on.
	v.SetEnvPrefix("ROSTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	expandPaths(&config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// setDefaults registers every leaf key so file values merge per key and
// AutomaticEnv can override any of them.
func setDefaults(v *viper.Viper, cfg *Config) {
	defaults := map[string]any{
		"database.path":         cfg.Database.Path,
		"database.timeout":      cfg.Database.Timeout,
		"database.search_index": cfg.Database.SearchIndex,

		"service.mode":         cfg.Service.Mode,
		"service.base_url":     cfg.Service.BaseURL,
		"service.http_timeout": cfg.Service.HTTPTimeout,
		"service.user_agent":   cfg.Service.UserAgent,
		"service.latency":      cfg.Service.Latency,

		"machine.debounce": cfg.Machine.Debounce,

		"search.engine": cfg.Search.Engine,
		"search.limit":  cfg.Search.Limit,

		"server.addr":         cfg.Server.Addr,
		"server.rate_limit":   cfg.Server.RateLimit,
		"server.burst":        cfg.Server.Burst,
		"server.failure_rate": cfg.Server.FailureRate,
		"server.latency":      cfg.Server.Latency,

		"log.level": cfg.Log.Level,
		"log.file":  cfg.Log.File,

		"ui.colors.primary":    cfg.UI.Colors.Primary,
		"ui.colors.secondary":  cfg.UI.Colors.Secondary,
		"ui.colors.accent":     cfg.UI.Colors.Accent,
		"ui.colors.background": cfg.UI.Colors.Background,
		"ui.colors.surface":    cfg.UI.Colors.Surface,
		"ui.colors.text":       cfg.UI.Colors.Text,
		"ui.colors.muted":      cfg.UI.Colors.Muted,
		"ui.colors.error":      cfg.UI.Colors.Error,
		"ui.colors.success":    cfg.UI.Colors.Success,

		"keys.bindings.quit":              cfg.Keys.Bindings.Quit,
		"keys.bindings.retry":             cfg.Keys.Bindings.Retry,
		"keys.bindings.toggle_employee":   cfg.Keys.Bindings.ToggleEmployee,
		"keys.bindings.toggle_contractor": cfg.Keys.Bindings.ToggleContractor,
		"keys.bindings.focus_search":      cfg.Keys.Bindings.FocusSearch,
		"keys.bindings.open":              cfg.Keys.Bindings.Open,
		"keys.bindings.back":              cfg.Keys.Bindings.Back,
		"keys.bindings.help":              cfg.Keys.Bindings.Help,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

// Validate checks the enumerated and ranged settings.
func (c *Config) Validate() error {
	switch c.Service.Mode {
	case ServiceModeLocal, ServiceModeHTTP:
	default:
		return fmt.Errorf("service.mode must be %q or %q, got %q", ServiceModeLocal, ServiceModeHTTP, c.Service.Mode)
	}
	switch c.Search.Engine {
	case SearchEngineSimple, SearchEngineBleve:
	default:
		return fmt.Errorf("search.engine must be %q or %q, got %q", SearchEngineSimple, SearchEngineBleve, c.Search.Engine)
	}
	if c.Server.FailureRate < 0 || c.Server.FailureRate > 1 {
		return fmt.Errorf("server.failure_rate must be between 0 and 1, got %v", c.Server.FailureRate)
	}
	if c.Machine.Debounce < 0 {
		return fmt.Errorf("machine.debounce must not be negative")
	}
	return nil
}

// expandPath expands ~ to home directory and converts to absolute path
func expandPath(path string) string {
	if path == "" {
		return path
	}

	if len(path) >= 2 && path[:2] == "~/" {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, path[2:])
	}

	if !filepath.IsAbs(path) {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}

	return path
}

func expandPaths(cfg *Config) {
	cfg.Database.Path = expandPath(cfg.Database.Path)
	cfg.Database.SearchIndex = expandPath(cfg.Database.SearchIndex)
	cfg.Log.File = expandPath(cfg.Log.File)
}

func Save(config *Config, path string) error {
	v := viper.New()

	// Durations as strings for TOML readability
	v.Set("database", map[string]any{
		"path":         config.Database.Path,
		"timeout":      config.Database.Timeout.String(),
		"search_index": config.Database.SearchIndex,
	})
	v.Set("service", map[string]any{
		"mode":         config.Service.Mode,
		"base_url":     config.Service.BaseURL,
		"http_timeout": config.Service.HTTPTimeout.String(),
		"user_agent":   config.Service.UserAgent,
		"latency":      config.Service.Latency.String(),
	})
	v.Set("machine", map[string]any{
		"debounce": config.Machine.Debounce.String(),
	})
	v.Set("search", map[string]any{
		"engine": config.Search.Engine,
		"limit":  config.Search.Limit,
	})
	v.Set("server", map[string]any{
		"addr":         config.Server.Addr,
		"rate_limit":   config.Server.RateLimit,
		"burst":        config.Server.Burst,
		"failure_rate": config.Server.FailureRate,
		"latency":      config.Server.Latency.String(),
	})
	v.Set("log", map[string]any{
		"level": config.Log.Level,
		"file":  config.Log.File,
	})
	c := config.UI.Colors
	v.Set("ui", map[string]any{
		"colors": map[string]any{
			"primary":    c.Primary,
			"secondary":  c.Secondary,
			"accent":     c.Accent,
			"background": c.Background,
			"surface":    c.Surface,
			"text":       c.Text,
			"muted":      c.Muted,
			"error":      c.Error,
			"success":    c.Success,
		},
	})
	b := config.Keys.Bindings
	v.Set("keys", map[string]any{
		"bindings": map[string]any{
			"quit":              b.Quit,
			"retry":             b.Retry,
			"toggle_employee":   b.ToggleEmployee,
			"toggle_contractor": b.ToggleContractor,
			"focus_search":      b.FocusSearch,
			"open":              b.Open,
			"back":              b.Back,
			"help":              b.Help,
		},
	})

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	return v.WriteConfigAs(path)
}

func GenerateDefaultConfig(path string) error {
	return Save(defaultConfig(), path)
}
