package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Telegram struct {
		BotToken  string `yaml:"bot_token"`
		WebAppURL string `yaml:"webapp_url"`
	} `yaml:"telegram"`

	Sheets struct {
		SpreadsheetID   string `yaml:"spreadsheet_id"`
		CredentialsFile string `yaml:"credentials_file"`
	} `yaml:"sheets"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Backup struct {
		Enabled       bool   `yaml:"enabled"`
		IntervalHours int    `yaml:"interval_hours"`
		Path          string `yaml:"path"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"backup"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Webhook struct {
		CallbackURL string `yaml:"callback_url"`
	} `yaml:"webhook"`

	Server struct {
		Port           int      `yaml:"port"`
		MetricsPort    int      `yaml:"metrics_port"`
		RateLimitRPS   float64  `yaml:"rate_limit_rps"`
		RateLimitBurst int      `yaml:"rate_limit_burst"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"server"`

	Admin struct {
		Keyword string  `yaml:"keyword"`
		IDs     []int64 `yaml:"ids"`
	} `yaml:"admin"`

	Booking struct {
		Timezone      string `yaml:"timezone"`
		PurgeSchedule string `yaml:"purge_schedule"`
	} `yaml:"booking"`
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

	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/okoshko.db"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 9090
	}
	if cfg.Booking.PurgeSchedule == "" {
		cfg.Booking.PurgeSchedule = "0 3 * * *"
	}

	return &cfg, nil
}
