package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"PriceWatch/internal/browser"
	"PriceWatch/internal/logger"
	"PriceWatch/internal/notify"
	"PriceWatch/internal/queue"
	"PriceWatch/internal/scheduler"
	"PriceWatch/internal/scraper"
	"PriceWatch/internal/tracker"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// DatabaseConfig locates the sqlite file.
type DatabaseConfig struct {
	Path string `yaml:"path" env:"DATABASE_PATH" env-default:"pricewatch.db" validate:"required"`
}

// RedisConfig holds the job queue connection.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379" validate:"required,hostname_port"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0" validate:"gte=0"`
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	Address     string        `yaml:"address" env:"SERVER_ADDRESS" env-default:"localhost:8080" validate:"required"`
	Timeout     time.Duration `yaml:"timeout" env:"SERVER_TIMEOUT" env-default:"4s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env:"SERVER_IDLE_TIMEOUT" env-default:"60s"`
	// ScrapeTimeout bounds a synchronous /scrape/once request.
	ScrapeTimeout time.Duration `yaml:"scrape_timeout" env:"SERVER_SCRAPE_TIMEOUT" env-default:"3m"`
}

// CatalogConfig locates the product seed file.
type CatalogConfig struct {
	Path string `yaml:"path" env:"CATALOG_PATH" env-default:"catalog.yml"`
}

// BlobConfig selects where screenshots are written.
type BlobConfig struct {
	Root    string `yaml:"root" env:"BLOB_ROOT" env-default:"screenshots" validate:"required"`
	BaseURL string `yaml:"base_url" env:"BLOB_BASE_URL" validate:"omitempty,url"`
}

// Config is the complete structure for the config.yml file.
type Config struct {
	Env       string              `yaml:"env" env:"APP_ENV" env-default:"local" validate:"oneof=local dev prod"`
	Log       logger.Config       `yaml:"log"`
	Database  DatabaseConfig      `yaml:"database"`
	Redis     RedisConfig         `yaml:"redis"`
	RabbitMQ  notify.Config       `yaml:"rabbitmq"`
	Scraper   scraper.Options     `yaml:"scraper"`
	Browser   browser.Config      `yaml:"browser"`
	Queue     queue.Options       `yaml:"queue"`
	Worker    queue.WorkerOptions `yaml:"worker"`
	Tracker   tracker.Options     `yaml:"tracker"`
	Scheduler scheduler.Config    `yaml:"scheduler"`
	Server    ServerConfig        `yaml:"server"`
	Catalog   CatalogConfig       `yaml:"catalog"`
	Blob      BlobConfig          `yaml:"blob"`
}

// loadEnvFiles loads ENV_FILE when set, otherwise .env.local and then .env.
// Missing files are ignored and existing variables are never overridden.
func loadEnvFiles() error {
	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load env file %s: %w", envFile, err)
		}
		return nil
	}
	for _, name := range []string{".env.local", ".env"} {
		if err := godotenv.Load(name); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", name, err)
		}
	}
	return nil
}

// Load reads path and applies environment overrides. A missing file is not an
// error: the configuration then comes from the environment and the defaults.
func Load(path string) (*Config, error) {
	if err := loadEnvFiles(); err != nil {
		return nil, err
	}

	var cfg Config
	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if errors.Is(err, os.ErrNotExist) {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("read config from env: %w", err)
		}
	} else {
		return nil, fmt.Errorf("stat config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// MustLoad is Load for main packages.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Validate checks the values that have no usable fallback.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
