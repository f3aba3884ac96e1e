package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverMemory   = "memory"
)

// ICSConfig describes a single ICS subscription source.
type ICSConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// ID is an internal identifier used for de-dup, status rows and logging.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
}

// SourceID returns ID, falling back to Name and then URL.
func (c ICSConfig) SourceID() string {
	switch {
	case c.ID != "":
		return c.ID
	case c.Name != "":
		return c.Name
	default:
		return c.URL
	}
}

// GoogleConfig enables the Google Calendar API source. The refresh token is
// obtained out of band; this service never runs the consent flow.
type GoogleConfig struct {
	ClientID     string `yaml:"client_id" json:"client_id" env:"GOOGLE_CLIENT_ID"`
	ClientSecret string `yaml:"client_secret" json:"-" env:"GOOGLE_CLIENT_SECRET"`
	RefreshToken string `yaml:"refresh_token" json:"-" env:"GOOGLE_REFRESH_TOKEN"`
	// CalendarID defaults to "primary".
	CalendarID string `yaml:"calendar_id" json:"calendar_id"`
}

// Enabled reports whether enough credentials are present to call the API.
func (g *GoogleConfig) Enabled() bool {
	return g != nil && g.ClientID != "" && g.ClientSecret != "" && g.RefreshToken != ""
}

// StoreConfig selects and configures the metrics store.
type StoreConfig struct {
	// Driver is one of "postgres", "mongo", "memory".
	Driver string `yaml:"driver" json:"driver" env:"STORE_DRIVER"`
	// URL is the connection string (postgres:// or mongodb://).
	URL string `yaml:"url" json:"-" env:"DATABASE_URL"`
	// Database is the Mongo database name; ignored for postgres.
	Database string `yaml:"database" json:"database"`
}

// InfluxConfig enables the optional time-series sink.
type InfluxConfig struct {
	URL    string `yaml:"url" json:"url" env:"INFLUXDB_URL"`
	Token  string `yaml:"token" json:"-" env:"INFLUXDB_TOKEN"`
	Org    string `yaml:"org" json:"org"`
	Bucket string `yaml:"bucket" json:"bucket"`
}

// Enabled reports whether the sink is fully configured.
func (c *InfluxConfig) Enabled() bool {
	return c != nil && c.URL != "" && c.Token != "" && c.Org != "" && c.Bucket != ""
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen" env:"LISTEN"`

	// Timezone is the IANA timezone used as reference zone for day
	// boundaries and working hours (e.g. "Asia/Seoul").
	Timezone string `yaml:"timezone" json:"timezone" env:"TIMEZONE"`

	// UserID is the owner the metrics are stored under.
	UserID string `yaml:"user_id" json:"user_id" env:"USER_ID"`

	// OrgDomain is the organisation e-mail domain; attendees outside it make
	// a meeting external. Empty disables external classification.
	OrgDomain string `yaml:"org_domain" json:"org_domain" env:"ORG_DOMAIN"`

	// RefreshCron is a cron-style schedule string (e.g. "0 * * * *")
	// for periodic sync.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// BackfillDays is how many days (including today) each sync recomputes.
	BackfillDays int `yaml:"backfill_days" json:"backfill_days"`

	LogLevel  string `yaml:"log_level" json:"log_level" env:"LOG_LEVEL"`
	LogFormat string `yaml:"log_format" json:"log_format" env:"LOG_FORMAT"`

	// CacheDir holds the ICS HTTP cache.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	Google *GoogleConfig `yaml:"google,omitempty" json:"google,omitempty"`

	// ICS is the list of subscribed ICS sources.
	ICS []ICSConfig `yaml:"ics" json:"ics"`

	// EventsFile is an optional JSON export of Google Calendar events used
	// as an additional source.
	EventsFile string `yaml:"events_file,omitempty" json:"events_file,omitempty"`

	Store StoreConfig `yaml:"store" json:"store"`

	// RedisURL enables the shared sync lock and read cache. Empty means
	// in-process equivalents.
	RedisURL string `yaml:"redis_url,omitempty" json:"-" env:"REDIS_URL"`

	Influx *InfluxConfig `yaml:"influx,omitempty" json:"influx,omitempty"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:       "127.0.0.1:8080",
		Timezone:     "UTC",
		UserID:       "default",
		RefreshCron:  "0 * * * *",
		BackfillDays: 7,
		LogLevel:     "info",
		LogFormat:    "text",
		CacheDir:     "./var/ics-cache",
		ICS:          []ICSConfig{},
		Store: StoreConfig{
			Driver:   DriverMemory,
			Database: "workpattern",
		},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()

	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.UserID == "" {
		c.UserID = def.UserID
	}
	if c.RefreshCron == "" {
		c.RefreshCron = def.RefreshCron
	}
	if c.BackfillDays <= 0 {
		c.BackfillDays = def.BackfillDays
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		c.LogFormat = def.LogFormat
	}
	if c.CacheDir == "" {
		c.CacheDir = def.CacheDir
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
	if c.Store.Driver == "" {
		// A URL without a driver is most likely postgres.
		if c.Store.URL != "" {
			c.Store.Driver = DriverPostgres
		} else {
			c.Store.Driver = def.Store.Driver
		}
	}
	if c.Store.Database == "" {
		c.Store.Database = def.Store.Database
	}
	if c.Google != nil && c.Google.CalendarID == "" {
		c.Google.CalendarID = "primary"
	}
}

// Validate reports configuration values that would make the service fail
// at runtime.
func (c *Config) Validate() error {
	var errs []error

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone %q: %w", c.Timezone, err))
	}
	if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
		errs = append(errs, fmt.Errorf("refresh %q: %w", c.RefreshCron, err))
	}
	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres, DriverMongo:
		if c.Store.URL == "" {
			errs = append(errs, fmt.Errorf("store.url is required for driver %q", c.Store.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not one of postgres, mongo, memory", c.Store.Driver))
	}
	seen := make(map[string]bool, len(c.ICS))
	for i, src := range c.ICS {
		if src.URL == "" {
			errs = append(errs, fmt.Errorf("ics[%d]: url is empty", i))
			continue
		}
		id := src.SourceID()
		if seen[id] {
			errs = append(errs, fmt.Errorf("ics[%d]: duplicate id %q", i, id))
		}
		seen[id] = true
	}

	return errors.Join(errs...)
}

// Location returns the configured timezone, or UTC if it cannot be loaded.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - In both cases, overlay environment variables (a .env file next to the
//     working directory is loaded first if present) and normalize defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	cfg, err := readFile(path)
	if err != nil {
		return cfg, err
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return cfg, nil
}

func readFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

// applyEnv overlays secrets and deployment settings from the environment.
// Only variables that are actually set override file values.
func applyEnv(cfg *Config) error {
	// Missing .env is the normal case outside development.
	_ = godotenv.Load()

	if cfg.Google == nil {
		cfg.Google = &GoogleConfig{}
	}
	if cfg.Influx == nil {
		cfg.Influx = &InfluxConfig{}
	}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: "WORKPATTERN_"}); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	if *cfg.Google == (GoogleConfig{}) {
		cfg.Google = nil
	}
	if *cfg.Influx == (InfluxConfig{}) {
		cfg.Influx = nil
	}
	return nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".workpattern-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
