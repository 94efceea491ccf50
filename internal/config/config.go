// Package config loads bizdir settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"

	"bizdir/internal/blob"
)

// Prefix is prepended to every variable name.
const Prefix = "BIZDIR_"

// Config is the complete runtime configuration.
type Config struct {
	Storage     Storage   `envPrefix:"STORAGE_"`
	Assets      Assets    `envPrefix:"ASSETS_"`
	Redis       Redis     `envPrefix:"REDIS_"`
	Log         Log       `envPrefix:"LOG_"`
	Directory   Directory `envPrefix:"DIRECTORY_"`
	MetricsAddr string    `env:"METRICS_ADDR" envDefault:":9090"`
}

// Storage selects the record store backend.
type Storage struct {
	Driver        string `env:"DRIVER" envDefault:"sqlite"`
	SQLitePath    string `env:"SQLITE_PATH" envDefault:"bizdir.db"`
	PostgresDSN   string `env:"POSTGRES_DSN"`
	MongoURI      string `env:"MONGO_URI" envDefault:"mongodb://localhost:27017"`
	MongoDatabase string `env:"MONGO_DATABASE" envDefault:"bizdir"`
}

// Assets configures the object store and upload limits.
type Assets struct {
	Driver        string        `env:"DRIVER" envDefault:"fs"`
	FSRoot        string        `env:"FS_ROOT" envDefault:"data/assets"`
	PublicBaseURL string        `env:"PUBLIC_BASE_URL"`
	S3Bucket      string        `env:"S3_BUCKET"`
	S3Region      string        `env:"S3_REGION" envDefault:"us-east-1"`
	S3Endpoint    string        `env:"S3_ENDPOINT"`
	S3AccessKey   string        `env:"S3_ACCESS_KEY_ID"`
	S3SecretKey   string        `env:"S3_SECRET_ACCESS_KEY"`
	S3PathStyle   bool          `env:"S3_PATH_STYLE" envDefault:"false"`
	HostURL       string        `env:"HOST_URL"`
	HostAPIKey    string        `env:"HOST_API_KEY"`
	HostTimeout   time.Duration `env:"HOST_TIMEOUT" envDefault:"30s"`
	UploadRate    float64       `env:"UPLOAD_RATE" envDefault:"5"`
	UploadBurst   int           `env:"UPLOAD_BURST" envDefault:"5"`
	MaxImageBytes int64         `env:"MAX_IMAGE_BYTES" envDefault:"5242880"`
}

// Redis enables the cross-process allocation lock when Addr is set.
type Redis struct {
	Addr     string `env:"ADDR"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
}

// Log configures the zap logger and its optional rotating file.
type Log struct {
	Level      string `env:"LEVEL" envDefault:"info"`
	Format     string `env:"FORMAT" envDefault:"json"`
	Service    string `env:"SERVICE" envDefault:"bizdir"`
	File       string `env:"FILE"`
	MaxSizeMB  int    `env:"MAX_SIZE_MB" envDefault:"100"`
	MaxBackups int    `env:"MAX_BACKUPS" envDefault:"5"`
	MaxAgeDays int    `env:"MAX_AGE_DAYS" envDefault:"28"`
}

// Directory holds business rules that vary per deployment.
type Directory struct {
	IdentifierPrefix string `env:"IDENTIFIER_PREFIX" envDefault:"BIZ"`
	CallingCode      string `env:"CALLING_CODE" envDefault:"+252"`
	TaxonomySeed     string `env:"TAXONOMY_SEED"`
}

var (
	storageDrivers = []string{"memory", "sqlite", "postgres", "mongo"}
	assetDrivers   = []string{string(blob.DriverFilesystem), string(blob.DriverMemory), string(blob.DriverS3), string(blob.DriverHTTPHost)}
)

// Load reads the given .env files (or ./.env when none are named) into the
// process environment without overriding variables already set, then parses
// the configuration. Missing files are ignored.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}
	return parse(env.Options{Prefix: Prefix})
}

// Parse builds a configuration from an explicit variable set instead of the
// process environment.
func Parse(environment map[string]string) (Config, error) {
	return parse(env.Options{Prefix: Prefix, Environment: environment})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects unknown drivers and settings a driver cannot run without.
func (c Config) Validate() error {
	if !contains(storageDrivers, c.Storage.Driver) {
		return fmt.Errorf("unknown storage driver %q (want one of %s)", c.Storage.Driver, strings.Join(storageDrivers, ", "))
	}
	if !contains(assetDrivers, c.Assets.Driver) {
		return fmt.Errorf("unknown assets driver %q (want one of %s)", c.Assets.Driver, strings.Join(assetDrivers, ", "))
	}
	if c.Assets.Driver == string(blob.DriverS3) && c.Assets.S3Bucket == "" {
		return errors.New(Prefix + "ASSETS_S3_BUCKET is required for the s3 driver")
	}
	if c.Assets.Driver == string(blob.DriverHTTPHost) && c.Assets.HostURL == "" {
		return errors.New(Prefix + "ASSETS_HOST_URL is required for the httphost driver")
	}
	if c.Assets.UploadRate <= 0 || c.Assets.UploadBurst <= 0 {
		return errors.New("upload rate and burst must be positive")
	}
	return nil
}

// Blob converts the asset settings into an object store configuration.
func (a Assets) Blob() blob.Config {
	return blob.Config{
		Driver:        blob.Driver(a.Driver),
		FSRoot:        a.FSRoot,
		PublicBaseURL: a.PublicBaseURL,
		S3: blob.S3Config{
			Region:          a.S3Region,
			Bucket:          a.S3Bucket,
			Endpoint:        a.S3Endpoint,
			AccessKeyID:     a.S3AccessKey,
			SecretAccessKey: a.S3SecretKey,
			PathStyle:       a.S3PathStyle,
		},
		HTTPHost: blob.HTTPHostConfig{
			BaseURL: a.HostURL,
			APIKey:  a.HostAPIKey,
			Timeout: a.HostTimeout,
		},
	}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
