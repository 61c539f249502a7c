package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"golang.org/x/crypto/bcrypt"
)

const (
	DriverSQLite  = "sqlite"
	DriverMongoDB = "mongodb"
)

type Config struct {
	Env      string         `yaml:"env" env:"ENV" env-default:"local"`
	Storage  StorageConfig  `yaml:"storage"`
	HTTP     HTTPConfig     `yaml:"http"`
	Tokens   TokensConfig   `yaml:"tokens"`
	Session  SessionConfig  `yaml:"session"`
	Security SecurityConfig `yaml:"security"`
}

type StorageConfig struct {
	Driver string      `yaml:"driver" env:"STORAGE_DRIVER" env-default:"sqlite"`
	Path   string      `yaml:"path" env:"STORAGE_PATH" env-default:"./storage/authd.db"`
	Mongo  MongoConfig `yaml:"mongo"`
}

type MongoConfig struct {
	URI      string        `yaml:"uri" env:"MONGO_URI" env-default:"mongodb://localhost:27017"`
	Database string        `yaml:"database" env:"MONGO_DATABASE" env-default:"authd"`
	Timeout  time.Duration `yaml:"timeout" env-default:"10s"`
}

type HTTPConfig struct {
	Port            int           `yaml:"port" env:"HTTP_PORT" env-default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env-default:"5s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env-default:"10s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env-default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env-default:"10s"`
}

// TokensConfig holds one secret and TTL per token kind. Changing a secret
// invalidates every outstanding token of that kind.
type TokensConfig struct {
	AccessSecret  string        `yaml:"access_secret" env:"ACCESS_TOKEN_SECRET" env-required:"true"`
	AccessTTL     time.Duration `yaml:"access_ttl" env:"ACCESS_TOKEN_TTL" env-default:"15m"`
	RefreshSecret string        `yaml:"refresh_secret" env:"REFRESH_TOKEN_SECRET" env-required:"true"`
	RefreshTTL    time.Duration `yaml:"refresh_ttl" env:"REFRESH_TOKEN_TTL" env-default:"240h"`
}

type SessionConfig struct {
	// InsecureCookies drops the Secure flag, for plain-HTTP local development.
	InsecureCookies      bool `yaml:"insecure_cookies" env:"SESSION_INSECURE_COOKIES"`
	KeepOnPasswordChange bool `yaml:"keep_on_password_change" env:"SESSION_KEEP_ON_PASSWORD_CHANGE"`
}

type SecurityConfig struct {
	BcryptCost int `yaml:"bcrypt_cost" env:"BCRYPT_COST" env-default:"10"`
}

// MustLoad reads the config from the path given by the -config flag or CONFIG_PATH and panics on failure.
func MustLoad() *Config {
	path := fetchConfigPath()
	if path == "" {
		panic("config path is empty")
	}

	return MustLoadPath(path)
}

func MustLoadPath(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err.Error())
	}

	return cfg
}

func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Driver {
	case DriverSQLite:
		if c.Storage.Path == "" {
			errs = append(errs, errors.New("storage.path is required for sqlite"))
		}
	case DriverMongoDB:
		if c.Storage.Mongo.URI == "" || c.Storage.Mongo.Database == "" {
			errs = append(errs, errors.New("storage.mongo.uri and storage.mongo.database are required for mongodb"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}

	if c.Tokens.AccessSecret == c.Tokens.RefreshSecret {
		errs = append(errs, errors.New("tokens.access_secret and tokens.refresh_secret must differ"))
	}
	if c.Tokens.AccessTTL <= 0 || c.Tokens.RefreshTTL <= 0 {
		errs = append(errs, errors.New("token TTLs must be positive"))
	}
	if c.Tokens.AccessTTL >= c.Tokens.RefreshTTL {
		errs = append(errs, errors.New("tokens.access_ttl must be shorter than tokens.refresh_ttl"))
	}

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid http.port %d", c.HTTP.Port))
	}

	if c.Security.BcryptCost < bcrypt.MinCost || c.Security.BcryptCost > bcrypt.MaxCost {
		errs = append(errs, fmt.Errorf("security.bcrypt_cost must be within [%d, %d]", bcrypt.MinCost, bcrypt.MaxCost))
	}

	return errors.Join(errs...)
}

// fetchConfigPath fetches config path from command line flag or environment variable.
// Priority: flag > env > default.
// Default value is empty string.
func fetchConfigPath() string {
	var res string

	flag.StringVar(&res, "config", "", "path to config file")
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}

	return res
}
