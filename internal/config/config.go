package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"sgcars-go/internal/updater"
)

// Defaults applied to zero-valued settings after decoding.
const (
	DefaultConcurrency   = 4
	DefaultReadCacheSize = 128
	DefaultServerAddr    = "127.0.0.1:8080"
	DefaultTimeout       = 60
	DefaultUserAgent     = "sgcars-updater/1.0"
)

// Config represents the main configuration for sgcars.
type Config struct {
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	Database   DatabaseConfig   `toml:"database"`
	Cache      CacheConfig      `toml:"cache"`
	Vault      VaultConfig      `toml:"vault"`
	Encryption EncryptionConfig `toml:"encryption"`
	HTTP       HTTPConfig       `toml:"http"`
	Updater    UpdaterConfig    `toml:"updater"`
	ReadCache  ReadCacheConfig  `toml:"read_cache"`
	Server     ServerConfig     `toml:"server"`
	Datasets   []DatasetConfig  `toml:"datasets"`
}

// DatabaseConfig represents configuration for the destination store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// CacheConfig represents configuration for the change cache.
type CacheConfig struct {
	Type string `toml:"type"`           // "bolt" or "memory"
	Path string `toml:"path,omitempty"` // only used for type=bolt
}

// VaultConfig represents configuration for archive retention.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type VaultConfig struct {
	Type string `toml:"type"` // "none", "memory", "s3", or "filesystem"
	Name string `toml:"name,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket string `toml:"s3_bucket,omitempty"`
	S3Prefix string `toml:"s3_prefix,omitempty"`
	S3Region string `toml:"s3_region,omitempty"`

	// S3Endpoint points the client at an S3-compatible service (MinIO, R2).
	S3Endpoint     string `toml:"s3_endpoint,omitempty"`
	S3AccessKey    string `toml:"s3_access_key,omitempty"`
	S3SecretKey    string `toml:"s3_secret_key,omitempty"`
	S3UsePathStyle bool   `toml:"s3_use_path_style,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty"`
}

// EncryptionConfig holds paths to the age key pair used for retained archives.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "none" (default), "age" or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// HTTPConfig tunes archive downloads.
type HTTPConfig struct {
	TimeoutSeconds    int     `toml:"timeout_seconds"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	UserAgent         string  `toml:"user_agent"`
}

// UpdaterConfig tunes the engine.
type UpdaterConfig struct {
	BatchSize   int    `toml:"batch_size"`
	Atomic      bool   `toml:"atomic"`
	Concurrency int    `toml:"concurrency"`
	ScratchDir  string `toml:"scratch_dir"`
}

// ReadCacheConfig sizes the LRU cache in front of status queries.
type ReadCacheConfig struct {
	Size int `toml:"size"`
}

// ServerConfig configures the HTTP trigger.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// NewConfig creates a complete default Config rooted at baseDir, including
// the built-in datasets.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir:  baseDir,
		LogDir:   filepath.Join(baseDir, "log"),
		Database: DatabaseConfig{Type: "sqlite", DataDir: filepath.Join(baseDir, "db")},
		Cache:    CacheConfig{Type: "bolt", Path: filepath.Join(baseDir, "cache", "checksums.db")},
		Vault:    VaultConfig{Type: "none"},
		Encryption: EncryptionConfig{
			Type:           "none",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "sgcars.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "sgcars.key"),
		},
		HTTP: HTTPConfig{
			TimeoutSeconds:    DefaultTimeout,
			RequestsPerSecond: 1,
			UserAgent:         DefaultUserAgent,
		},
		Updater: UpdaterConfig{
			BatchSize:   updater.DefaultBatchSize,
			Concurrency: DefaultConcurrency,
			ScratchDir:  filepath.Join(baseDir, "scratch"),
		},
		ReadCache: ReadCacheConfig{Size: DefaultReadCacheSize},
		Server:    ServerConfig{Addr: DefaultServerAddr},
		Datasets:  BuiltinDatasets(),
	}
}

// applyDefaults fills zero-valued tuning settings.
func (c *Config) applyDefaults() {
	if c.Updater.BatchSize <= 0 {
		c.Updater.BatchSize = updater.DefaultBatchSize
	}
	if c.Updater.Concurrency <= 0 {
		c.Updater.Concurrency = DefaultConcurrency
	}
	if c.ReadCache.Size <= 0 {
		c.ReadCache.Size = DefaultReadCacheSize
	}
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultServerAddr
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		c.HTTP.TimeoutSeconds = DefaultTimeout
	}
	if c.Vault.Type == "" {
		c.Vault.Type = "none"
	}
	if c.Encryption.Type == "" {
		c.Encryption.Type = "none"
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
