package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/garyjia/approval-gateway/internal/notify"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Token         TokenConfig         `mapstructure:"token"`
	Webhook       WebhookConfig       `mapstructure:"webhook"`
	SMTP          SMTPConfig          `mapstructure:"smtp"`
	Slack         SlackConfig         `mapstructure:"slack"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Sweeper       SweeperConfig       `mapstructure:"sweeper"`
	Logger        LoggerConfig        `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PublicURL    string        `mapstructure:"public_url"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsDir   string        `mapstructure:"migrations_dir"`
}

// TokenConfig holds decision token configuration
type TokenConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// WebhookConfig holds outbound webhook configuration
type WebhookConfig struct {
	Timeout       time.Duration     `mapstructure:"timeout"`
	Secret        string            `mapstructure:"secret"`
	TargetSecrets map[string]string `mapstructure:"target_secrets"`
	MaxAttempts   int               `mapstructure:"max_attempts"`
	LookupTimeout time.Duration     `mapstructure:"lookup_timeout"`
}

// SMTPConfig holds SMTP settings for the email channel
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

// SlackConfig holds Slack bot settings
type SlackConfig struct {
	BotToken string `mapstructure:"bot_token"`
}

// NotificationsConfig holds routing configuration
type NotificationsConfig struct {
	DefaultChannel string               `mapstructure:"default_channel"`
	DefaultTarget  string               `mapstructure:"default_target"`
	SendTimeout    time.Duration        `mapstructure:"send_timeout"`
	Routes         []notify.StaticRoute `mapstructure:"routes"`
}

// SweeperConfig holds expiry sweeper configuration
type SweeperConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	bindEnvVars()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)
	viper.SetDefault("server.public_url", "http://localhost:8080")

	viper.SetDefault("database.path", "data/gateway.db")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	viper.SetDefault("database.migrations_dir", "migrations")

	viper.SetDefault("token.ttl", 24*time.Hour)

	viper.SetDefault("webhook.timeout", 10*time.Second)
	viper.SetDefault("webhook.max_attempts", 3)
	viper.SetDefault("webhook.lookup_timeout", 5*time.Second)

	viper.SetDefault("smtp.port", 587)

	viper.SetDefault("notifications.default_channel", "webhook")
	viper.SetDefault("notifications.send_timeout", 15*time.Second)

	viper.SetDefault("sweeper.interval", 30*time.Second)

	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.output_path", "stdout")
	viper.SetDefault("logger.format", "json")
}

// bindEnvVars binds environment variables to configuration
func bindEnvVars() {
	viper.BindEnv("webhook.secret", "WEBHOOK_SECRET")
	viper.BindEnv("smtp.host", "SMTP_HOST")
	viper.BindEnv("smtp.username", "SMTP_USERNAME")
	viper.BindEnv("smtp.password", "SMTP_PASSWORD")
	viper.BindEnv("smtp.from", "SMTP_FROM")
	viper.BindEnv("slack.bot_token", "SLACK_BOT_TOKEN")
	viper.BindEnv("server.public_url", "PUBLIC_URL")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Token.TTL <= 0 {
		return fmt.Errorf("token.ttl must be positive")
	}
	if c.Sweeper.Interval <= 0 {
		return fmt.Errorf("sweeper.interval must be positive")
	}

	for i, route := range c.Notifications.Routes {
		if route.Channel == "" {
			return fmt.Errorf("notifications.routes[%d].channel is required", i)
		}
		if route.Target == "" {
			return fmt.Errorf("notifications.routes[%d].target is required", i)
		}
	}

	return nil
}
