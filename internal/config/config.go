// Package config provides configuration loading and validation for the CLI.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/jonathan/wallpaper-archiver/internal/logging"
	"github.com/jonathan/wallpaper-archiver/internal/schemas"
	"github.com/jonathan/wallpaper-archiver/internal/types"
)

// Manifest backends
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// DefaultManifestFile is the SQLite file name under the archive root.
const DefaultManifestFile = "manifest.db"

// Config is the archiver configuration. A file may also hold named
// profiles that are laid over the top-level settings.
type Config struct {
	Root            string         `json:"root" yaml:"root" validate:"required"`
	Tiers           []string       `json:"tiers" yaml:"tiers" validate:"min=1,dive,oneof=4k 2k 1k 4K 2K 1K"`
	Workers         int            `json:"workers" yaml:"workers" validate:"gte=1,lte=256"`
	CPUWorkers      int            `json:"cpu_workers,omitempty" yaml:"cpu_workers,omitempty" validate:"gte=0"`
	GenerateMissing bool           `json:"generate_missing" yaml:"generate_missing"`
	Revalidate      bool           `json:"revalidate" yaml:"revalidate"`
	CategoryMirrors bool           `json:"category_mirrors" yaml:"category_mirrors"`
	Exact           bool           `json:"exact" yaml:"exact"`
	Manifest        ManifestConfig `json:"manifest" yaml:"manifest"`
	Fetch           FetchConfig    `json:"fetch" yaml:"fetch"`
	Dedup           DedupConfig    `json:"dedup" yaml:"dedup"`
	Sources         SourcesConfig  `json:"sources" yaml:"sources"`
	Replica         ReplicaConfig  `json:"replica" yaml:"replica"`
	Metrics         MetricsConfig  `json:"metrics" yaml:"metrics"`
	Log             logging.Config `json:"log" yaml:"log"`
}

// ManifestConfig selects the manifest backend and lock service.
type ManifestConfig struct {
	Backend     string   `json:"backend" yaml:"backend" validate:"oneof=sqlite postgres"`
	Path        string   `json:"path,omitempty" yaml:"path,omitempty"` // SQLite file; defaults to <root>/manifest.db
	DatabaseURL string   `json:"database_url,omitempty" yaml:"database_url,omitempty" validate:"required_if=Backend postgres"`
	RedisURL    string   `json:"redis_url,omitempty" yaml:"redis_url,omitempty"` // enables cross-process leases
	LeaseTTL    Duration `json:"lease_ttl" yaml:"lease_ttl" validate:"gte=0"`
}

// FetchConfig tunes the HTTP executor.
type FetchConfig struct {
	Timeout         Duration `json:"timeout" yaml:"timeout" validate:"gte=0"`
	UserAgent       string   `json:"user_agent,omitempty" yaml:"user_agent,omitempty"`
	HTTPConcurrency int      `json:"http_concurrency" yaml:"http_concurrency" validate:"gte=1"`
	HostRPS         float64  `json:"host_rps" yaml:"host_rps" validate:"gte=0"`
	HostBurst       int      `json:"host_burst" yaml:"host_burst" validate:"gte=0"`
	Robots          string   `json:"robots" yaml:"robots" validate:"oneof=on off strict"`
	MaxAttempts     int      `json:"max_attempts" yaml:"max_attempts" validate:"gte=1,lte=20"`
	BaseDelay       Duration `json:"base_delay" yaml:"base_delay" validate:"gte=0"`
	MaxDelay        Duration `json:"max_delay" yaml:"max_delay" validate:"gtefield=BaseDelay"`
}

// DedupConfig configures duplicate detection.
type DedupConfig struct {
	Strategy  string `json:"strategy" yaml:"strategy" validate:"oneof=identity content perceptual"`
	Policy    string `json:"policy" yaml:"policy" validate:"oneof=keep skip"`
	Threshold int    `json:"threshold" yaml:"threshold" validate:"gte=0,lte=64"`
	Algorithm string `json:"algorithm" yaml:"algorithm" validate:"oneof=phash dhash ahash"`
	Digest    string `json:"digest" yaml:"digest" validate:"oneof=sha256 blake2b"`
}

// SourcesConfig selects adapters and the listing window.
type SourcesConfig struct {
	Enabled     []string        `json:"enabled" yaml:"enabled" validate:"min=1"`
	N           int             `json:"n,omitempty" yaml:"n,omitempty" validate:"gte=0"`
	Since       string          `json:"since,omitempty" yaml:"since,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Years       int             `json:"years,omitempty" yaml:"years,omitempty" validate:"gte=0,lte=30"` // archive backfill depth
	Query       string          `json:"query,omitempty" yaml:"query,omitempty"`
	Market      string          `json:"market" yaml:"market"`
	BingHost    string          `json:"bing_host,omitempty" yaml:"bing_host,omitempty"`
	ArchiveHost string          `json:"archive_host,omitempty" yaml:"archive_host,omitempty"`
	Wallhaven   WallhavenConfig `json:"wallhaven" yaml:"wallhaven"`
	Openverse   OpenverseConfig `json:"openverse" yaml:"openverse"`
	Wikimedia   WikimediaConfig `json:"wikimedia" yaml:"wikimedia"`
	Q360        Q360Config      `json:"q360" yaml:"q360"`
}

// WallhavenConfig configures the wallhaven adapter.
type WallhavenConfig struct {
	APIKey   string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	Sorting  string `json:"sorting,omitempty" yaml:"sorting,omitempty" validate:"omitempty,oneof=date_added toplist random"`
	TopRange string `json:"top_range,omitempty" yaml:"top_range,omitempty"`
	Seed     string `json:"seed,omitempty" yaml:"seed,omitempty"`
}

// OpenverseConfig configures the openverse adapter.
type OpenverseConfig struct {
	Token string `json:"token,omitempty" yaml:"token,omitempty"`
}

// WikimediaConfig configures the wikimedia adapter.
type WikimediaConfig struct {
	Category  string `json:"category,omitempty" yaml:"category,omitempty"`
	UserAgent string `json:"user_agent,omitempty" yaml:"user_agent,omitempty"`
}

// Q360Config configures the q360 adapter.
type Q360Config struct {
	Categories []int `json:"categories,omitempty" yaml:"categories,omitempty"`
}

// ReplicaConfig enables the object-storage replica when Endpoint is set.
type ReplicaConfig struct {
	Endpoint  string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Bucket    string `json:"bucket,omitempty" yaml:"bucket,omitempty"`
	Prefix    string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	AccessKey string `json:"access_key,omitempty" yaml:"access_key,omitempty" validate:"required_with=Endpoint"`
	SecretKey string `json:"secret_key,omitempty" yaml:"secret_key,omitempty" validate:"required_with=Endpoint"`
	UseSSL    bool   `json:"use_ssl,omitempty" yaml:"use_ssl,omitempty"`
}

// MetricsConfig configures run metrics.
type MetricsConfig struct {
	Namespace   string `json:"namespace" yaml:"namespace"`
	PushGateway string `json:"push_gateway,omitempty" yaml:"push_gateway,omitempty" validate:"omitempty,url"`
	Job         string `json:"job" yaml:"job"`
}

// Default returns the configuration used for every field a file leaves out.
func Default() Config {
	return Config{
		Root:            "wallpapers",
		Tiers:           []string{"4k", "2k", "1k"},
		Workers:         4,
		GenerateMissing: true,
		CategoryMirrors: true,
		Manifest: ManifestConfig{
			Backend:  BackendSQLite,
			LeaseTTL: Duration(10 * time.Minute),
		},
		Fetch: FetchConfig{
			Timeout:         Duration(30 * time.Second),
			HTTPConcurrency: 16,
			HostRPS:         4,
			HostBurst:       4,
			Robots:          "on",
			MaxAttempts:     4,
			BaseDelay:       Duration(500 * time.Millisecond),
			MaxDelay:        Duration(30 * time.Second),
		},
		Dedup: DedupConfig{
			Strategy:  "content",
			Policy:    "skip",
			Threshold: 5,
			Algorithm: "phash",
			Digest:    "sha256",
		},
		Sources: SourcesConfig{
			Enabled: []string{"bing-daily"},
			Market:  "en-US",
		},
		Metrics: MetricsConfig{
			Namespace: "wallarchive",
			Job:       "wallarchive",
		},
		Log: logging.Config{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// LoadConfig loads a JSON or YAML file (chosen by extension), checks it
// against the config schema and lays the named profile, if any, over the
// top-level settings. Fields the file leaves out keep their defaults.
func LoadConfig(path, profile string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return Parse(data, formatOf(path), profile)
}

// Parse decodes config content in the given format ("json" or "yaml").
func Parse(data []byte, format, profile string) (*Config, error) {
	var doc map[string]any
	switch format {
	case "yaml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	}
	if doc == nil {
		doc = map[string]any{}
	}

	if err := schemas.ValidateConfig(doc); err != nil {
		return nil, fmt.Errorf("config does not match schema: %w", err)
	}
	return fromDocument(doc, profile)
}

// Profiles lists the profile names of a config file.
func Profiles(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var doc struct {
		Profiles map[string]any `json:"profiles" yaml:"profiles"`
	}
	if formatOf(path) == "yaml" {
		err = yaml.Unmarshal(data, &doc)
	} else {
		err = json.Unmarshal(data, &doc)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return sortedKeys(doc.Profiles), nil
}

func formatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "json"
	}
}

func fromDocument(doc map[string]any, profile string) (*Config, error) {
	profiles, _ := doc["profiles"].(map[string]any)
	base := make(map[string]any, len(doc))
	for k, v := range doc {
		if k != "profiles" {
			base[k] = v
		}
	}

	cfg := Default()
	if err := overlay(&cfg, base); err != nil {
		return nil, err
	}
	if profile != "" {
		p, ok := profiles[profile].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("unknown profile %q (available: %s)", profile, strings.Join(sortedKeys(profiles), ", "))
		}
		if err := overlay(&cfg, p); err != nil {
			return nil, fmt.Errorf("profile %q: %w", profile, err)
		}
	}
	return &cfg, nil
}

// overlay decodes doc onto cfg; nested sections merge field by field and
// lists are replaced.
func overlay(cfg *Config, doc map[string]any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to re-encode config: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ApplyEnv fills secrets and connection strings from the environment.
// Values already set in the file win, except LOG_LEVEL and LOG_FORMAT,
// which always override.
func (c *Config) ApplyEnv(getenv func(string) string) {
	fill := func(dst *string, key string) {
		if *dst == "" {
			*dst = getenv(key)
		}
	}
	fill(&c.Manifest.DatabaseURL, "DATABASE_URL")
	fill(&c.Manifest.RedisURL, "REDIS_URL")
	fill(&c.Sources.Wallhaven.APIKey, "WALLHAVEN_API_KEY")
	fill(&c.Sources.Openverse.Token, "OPENVERSE_TOKEN")
	fill(&c.Sources.Wikimedia.UserAgent, "WIKIMEDIA_USER_AGENT")
	fill(&c.Replica.AccessKey, "MINIO_ACCESS_KEY")
	fill(&c.Replica.SecretKey, "MINIO_SECRET_KEY")
	fill(&c.Metrics.PushGateway, "PUSHGATEWAY_URL")

	if v := getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := getenv("LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks field ranges and the cross-field rules the schema cannot
// express.
func (c *Config) Validate() error {
	var errs []error
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("config error: %w", err)
		}
		for _, fe := range verrs {
			errs = append(errs, fmt.Errorf("config error: '%s' failed '%s' check", fieldPath(fe), fe.Tag()))
		}
	}
	if _, err := c.Resolutions(); err != nil {
		errs = append(errs, fmt.Errorf("config error: %w", err))
	}
	if _, err := c.SinceTime(); err != nil {
		errs = append(errs, fmt.Errorf("config error: 'sources.since': %w", err))
	}
	return errors.Join(errs...)
}

// fieldPath renders the json path of a failed field without the root type.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		ns = ns[i+1:]
	}
	return ns
}

// Resolutions returns the configured tiers, highest first.
func (c *Config) Resolutions() ([]types.Resolution, error) {
	return types.ParseResolutions(c.Tiers)
}

// SinceTime returns the parsed since date, zero when unset.
func (c *Config) SinceTime() (time.Time, error) {
	if c.Sources.Since == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", c.Sources.Since)
}

// ManifestPath returns the SQLite manifest file.
func (c *Config) ManifestPath() string {
	if c.Manifest.Path != "" {
		return c.Manifest.Path
	}
	return filepath.Join(c.Root, DefaultManifestFile)
}
