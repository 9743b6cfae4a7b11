package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// BackupConfig controls periodic SQLite snapshots.
type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	IntervalHours int    `yaml:"interval_hours"`
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

type Config struct {
	Server struct {
		Port               int     `yaml:"port"`
		PublicBaseURL      string  `yaml:"public_base_url"`
		RateLimitPerSecond float64 `yaml:"rate_limit_per_second"`
		RateLimitBurst     int     `yaml:"rate_limit_burst"`

		// APIKeys guard the dashboard routes. Empty disables the check.
		APIKeys        []string `yaml:"api_keys"`
		// TrustedProxies may set X-Forwarded-For for rate limiting.
		TrustedProxies []string `yaml:"trusted_proxies"`
	} `yaml:"server"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Backup BackupConfig `yaml:"backup"`

	Redis struct {
		Address       string `yaml:"address"`
		Password      string `yaml:"password"`
		DB            int    `yaml:"db"`
		StateTTLHours int    `yaml:"state_ttl_hours"`
	} `yaml:"redis"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Booking struct {
		Timezone         string `yaml:"timezone"`
		AllowPastManual  bool   `yaml:"allow_past_manual"`
		DashboardPerPage int    `yaml:"dashboard_per_page"`
	} `yaml:"booking"`

	WhatsApp struct {
		VerifyToken       string `yaml:"verify_token"`
		DefaultQuoteURL   string `yaml:"default_quote_url"`
		MessagesPerMinute int    `yaml:"messages_per_minute"`
	} `yaml:"whatsapp"`

	Telegram struct {
		BotToken     string  `yaml:"bot_token"`
		ManagerChats []int64 `yaml:"manager_chats"`
		DigestHour   int     `yaml:"digest_hour"`
	} `yaml:"telegram"`

	Sheets struct {
		Enabled         bool   `yaml:"enabled"`
		CredentialsFile string `yaml:"credentials_file"`
		SpreadsheetID   string `yaml:"spreadsheet_id"`
		SheetName       string `yaml:"sheet_name"`
	} `yaml:"sheets"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	CatalogPath         string `yaml:"catalog_path"`
	CatalogWatchSeconds int    `yaml:"catalog_watch_seconds"`
	FlowPath            string `yaml:"flow_path"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.PublicBaseURL == "" {
		c.Server.PublicBaseURL = "http://localhost:8080"
	}
	if c.Server.RateLimitPerSecond <= 0 {
		c.Server.RateLimitPerSecond = 10
	}
	if c.Server.RateLimitBurst <= 0 {
		c.Server.RateLimitBurst = 20
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/fotoagenda.db"
	}
	if c.Backup.Path == "" {
		c.Backup.Path = "data/backups"
	}
	if c.Redis.StateTTLHours <= 0 {
		c.Redis.StateTTLHours = 72
	}
	if c.Booking.Timezone == "" {
		c.Booking.Timezone = "America/Mexico_City"
	}
	if c.Booking.DashboardPerPage <= 0 {
		c.Booking.DashboardPerPage = 50
	}
	if c.WhatsApp.MessagesPerMinute <= 0 {
		c.WhatsApp.MessagesPerMinute = 20
	}
	if c.Telegram.DigestHour <= 0 || c.Telegram.DigestHour > 23 {
		c.Telegram.DigestHour = 20
	}
	if c.Sheets.SheetName == "" {
		c.Sheets.SheetName = "Reservas"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.CatalogPath == "" {
		c.CatalogPath = "configs/catalog.yaml"
	}
}

// Location returns the business time zone, falling back to UTC when it cannot be loaded.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Booking.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) CatalogWatchInterval() time.Duration {
	if c.CatalogWatchSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.CatalogWatchSeconds) * time.Second
}

func (c *Config) StateTTL() time.Duration {
	return time.Duration(c.Redis.StateTTLHours) * time.Hour
}

func (c *Config) BackupInterval() time.Duration {
	if c.Backup.IntervalHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.Backup.IntervalHours) * time.Hour
}
