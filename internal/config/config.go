// internal/config/config.go
package conf

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config is the application config (config.json), with PCM_* environment
// overrides applied on top. Priority: ENV > file > defaults.
type Config struct {
	AutoStart           bool                       `json:"auto_start"`
	SyncIntervalSeconds int                        `json:"sync_interval_seconds"`
	LogLevel            string                     `json:"log_level"`
	Database            DatabaseConfig             `json:"database"`
	Redis               RedisConfig                `json:"redis"`
	Jobs                JobsConfig                 `json:"jobs"`
	Importer            ImporterConfig             `json:"importer"`
	Sources             []SourceConfig             `json:"sources"`
	Notifiers           map[string]json.RawMessage `json:"notifiers"` // name -> raw notifier config
}

type DatabaseConfig struct {
	Driver string `json:"driver"` // sqlite | sqlite3 | mysql | postgres
	DSN    string `json:"dsn"`    // for sqlite: file path, empty = app dir
}

// RedisConfig enables the distributed entity lock when Addr is set.
type RedisConfig struct {
	Addr      string `json:"addr"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	LockTTLMs int    `json:"lock_ttl_ms"`
}

type JobsConfig struct {
	ChunkSize         int `json:"chunk_size"`
	MaxErrors         int `json:"max_errors"`
	Workers           int `json:"workers"`
	StaleAfterSeconds int `json:"stale_after_seconds"`
}

type ImporterConfig struct {
	WatchDir string `json:"watch_dir"`
	SourceID string `json:"source_id"`
	Format   string `json:"format,omitempty"` // empty = by file extension
}

type SourceConfig struct {
	SourceID           string            `json:"source_id"`
	Name               string            `json:"name"`
	FieldMappings      map[string]string `json:"field_mappings,omitempty"`
	AutoPublishEnabled bool              `json:"auto_publish_enabled"`
	MinScoreThreshold  int               `json:"min_score_threshold"`
	RequiredFields     []string          `json:"required_fields,omitempty"`
}

func Default() *Config {
	cfg := &Config{
		AutoStart:           false,
		SyncIntervalSeconds: 30,
		LogLevel:            "info",
		Database:            DatabaseConfig{Driver: "sqlite"},
		Redis:               RedisConfig{LockTTLMs: 30000},
		Importer: ImporterConfig{
			WatchDir: "./feeds_in",
			SourceID: "pcm",
		},
		Sources: []SourceConfig{
			{
				SourceID:           "pcm",
				Name:               "PCM warehouse export",
				AutoPublishEnabled: false,
				MinScoreThreshold:  60,
				RequiredFields:     []string{"name", "price"},
				FieldMappings: map[string]string{
					"kod":          "entity_code",
					"nazwa":        "name",
					"opis1":        "description",
					"cena_detal":   "price",
					"plik_zdjecia": "image",
				},
			},
		},
		Notifiers: map[string]json.RawMessage{},
	}
	cfg.applyDefaults()
	return cfg
}

func LoadOrCreate(path string) (*Config, bool, error) {
	_ = os.MkdirAll(filepath.Dir(path), 0o755)

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := Default()
			if err := Save(path, cfg); err != nil {
				return nil, false, fmt.Errorf("save default config: %w", err)
			}
			cfg.ApplyEnv()
			return cfg, true, nil
		}
		return nil, false, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	var cfg Config
	if err := json.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, false, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	cfg.ApplyEnv()
	return &cfg, false, nil
}

func Save(path string, cfg *Config) error {
	_ = os.MkdirAll(filepath.Dir(path), 0o755)
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(cfg)
}

func (c *Config) applyDefaults() {
	if c.Notifiers == nil {
		c.Notifiers = map[string]json.RawMessage{}
	}
	if c.SyncIntervalSeconds <= 0 {
		c.SyncIntervalSeconds = 30
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Redis.LockTTLMs <= 0 {
		c.Redis.LockTTLMs = 30000
	}
	if c.Jobs.ChunkSize <= 0 {
		c.Jobs.ChunkSize = 100
	}
	if c.Jobs.MaxErrors <= 0 {
		c.Jobs.MaxErrors = 1000
	}
	if c.Jobs.Workers <= 0 {
		c.Jobs.Workers = 1
	}
	if c.Jobs.StaleAfterSeconds <= 0 {
		c.Jobs.StaleAfterSeconds = 1800
	}
}

// ApplyEnv loads .env (if present) and overrides file values with PCM_* variables.
func (c *Config) ApplyEnv() {
	_ = godotenv.Load()

	c.LogLevel = getEnv("PCM_LOG_LEVEL", c.LogLevel)
	c.Database.Driver = getEnv("PCM_DB_DRIVER", c.Database.Driver)
	c.Database.DSN = getEnv("PCM_DB_DSN", c.Database.DSN)
	c.Redis.Addr = getEnv("PCM_REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("PCM_REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("PCM_REDIS_DB", c.Redis.DB)
	c.Jobs.ChunkSize = getEnvInt("PCM_JOB_CHUNK_SIZE", c.Jobs.ChunkSize)
	c.Jobs.Workers = getEnvInt("PCM_JOB_WORKERS", c.Jobs.Workers)
	c.Importer.WatchDir = getEnv("PCM_WATCH_DIR", c.Importer.WatchDir)
	c.Importer.SourceID = getEnv("PCM_IMPORT_SOURCE", c.Importer.SourceID)
	if v := os.Getenv("PCM_AUTO_START"); v != "" {
		c.AutoStart = v == "1" || strings.EqualFold(v, "true")
	}
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
