package config

import (
	"fmt"
	"log"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	InputPath  string `envconfig:"INPUT_PATH" default:"./data/DSG_final.csv" validate:"required"`
	InputSheet string `envconfig:"INPUT_SHEET"`

	ListenAddr      string        `envconfig:"LISTEN_ADDR" default:"127.0.0.1:8050" validate:"required,hostname_port"`
	Title           string        `envconfig:"DASHBOARD_TITLE" default:"Sports Jerseys Aggregation Dashboard" validate:"required"`
	TopN            int           `envconfig:"TOP_N" default:"5" validate:"min=1,max=50"`
	ChartWorkers    int           `envconfig:"CHART_WORKERS" default:"4" validate:"min=1,max=32"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s" validate:"gt=0"`
	RequestTimeout  time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s" validate:"gt=0"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn warning error"`

	WatchInput     bool   `envconfig:"WATCH_INPUT" default:"false"`
	ReloadSchedule string `envconfig:"RELOAD_SCHEDULE"`

	StoreEnabled     bool   `envconfig:"STORE_ENABLED" default:"false"`
	PostgresHost     string `envconfig:"POSTGRES_HOST" default:"localhost"`
	PostgresPort     string `envconfig:"POSTGRES_PORT" default:"5432"`
	PostgresUser     string `envconfig:"POSTGRES_USER" default:"dashboard"`
	PostgresPassword string `envconfig:"POSTGRES_PASSWORD" default:"dashboard"`
	PostgresDB       string `envconfig:"POSTGRES_DB" default:"listings_db"`
	PostgresSSLMode  string `envconfig:"POSTGRES_SSLMODE" default:"disable" validate:"oneof=disable allow prefer require verify-ca verify-full"`

	ChromeBin       string        `envconfig:"CHROME_BIN"`
	SnapshotTimeout time.Duration `envconfig:"SNAPSHOT_TIMEOUT" default:"60s" validate:"gt=0"`
	MaxRetries      int           `envconfig:"MAX_RETRIES" default:"3" validate:"min=1,max=10"`
}

// Load reads the .env file, then the environment, and returns a validated Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: read env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints. Call it again after applying flag overrides.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config: invalid: %w", err)
	}
	return nil
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}
