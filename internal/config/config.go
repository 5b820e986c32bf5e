package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const EnvPrefix = "POS"

type Config struct {
	Port                string        `envconfig:"PORT" default:"8080"`
	AllowedOrigin       string        `envconfig:"ALLOWED_ORIGIN" default:"http://127.0.0.1:3000"`
	DatabaseURL         string        `envconfig:"DATABASE_URL"`
	AutoMigrate         bool          `envconfig:"AUTO_MIGRATE" default:"true"`
	SeedDemoCatalogue   bool          `envconfig:"SEED_DEMO_CATALOGUE" default:"false"`
	InventoryAPIURL     string        `envconfig:"INVENTORY_API_URL"`
	InventoryAPIToken   string        `envconfig:"INVENTORY_API_TOKEN"`
	RedisAddr           string        `envconfig:"REDIS_ADDR"`
	RedisPassword       string        `envconfig:"REDIS_PASSWORD"`
	RedisDB             int           `envconfig:"REDIS_DB" default:"0"`
	BatchCacheTTL       time.Duration `envconfig:"BATCH_CACHE_TTL" default:"10m"`
	AuthSecret          string        `envconfig:"AUTH_SECRET"`
	AccessTokenTTL      time.Duration `envconfig:"ACCESS_TOKEN_TTL" default:"8h"`
	LogLevel            string        `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat           string        `envconfig:"LOG_FORMAT" default:"json"`
	ResetDelay          time.Duration `envconfig:"RESET_DELAY" default:"1500ms"`
	CollaboratorTimeout time.Duration `envconfig:"COLLABORATOR_TIMEOUT" default:"10s"`
	ExpiryWarningDays   int           `envconfig:"EXPIRY_WARNING_DAYS" default:"3"`
	Timezone            string        `envconfig:"TIMEZONE" default:"Asia/Kolkata"`
}

// Load reads an optional .env file and then the process environment.
// Variables already set in the environment win over the file.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	cfg.AuthSecret = strings.TrimSpace(cfg.AuthSecret)
	if cfg.ExpiryWarningDays < 0 {
		cfg.ExpiryWarningDays = 3
	}
	if cfg.ResetDelay < 0 {
		cfg.ResetDelay = 0
	}
	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

// Location resolves Timezone, falling back to UTC for unknown zones.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(strings.TrimSpace(c.Timezone))
	if err != nil || c.Timezone == "" {
		return time.UTC
	}
	return loc
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

// SeedPassword returns the dev seed password for a role, read from
// SEED_<ROLE>_PASSWORD.
func SeedPassword(role string, fallback string) string {
	return getEnv("SEED_"+strings.ToUpper(role)+"_PASSWORD", fallback)
}
