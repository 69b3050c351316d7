package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for panelup.
type Config struct {
	// CurrentVersion is the installed version assumed until the first
	// successful install records one in the settings table.
	CurrentVersion string `toml:"current_version"`
	InstallRoot    string `toml:"install_root"`
	BaseDir        string `toml:"base_dir"`
	LogDir         string `toml:"log_dir"`

	Release    ReleaseConfig    `toml:"release"`
	Cache      CacheConfig      `toml:"cache"`
	Backup     BackupConfig     `toml:"backup"`
	Policy     PolicyConfig     `toml:"policy"`
	Database   DatabaseConfig   `toml:"database"`
	Vault      VaultConfig      `toml:"vault"`
	Encryption EncryptionConfig `toml:"encryption"`
	Server     ServerConfig     `toml:"server"`
}

// ReleaseConfig describes where releases are published.
type ReleaseConfig struct {
	Repository string `toml:"repository"` // "owner/name"
	APIBaseURL string `toml:"api_base_url,omitempty"`
	Token      string `toml:"token,omitempty"`
	UserAgent  string `toml:"user_agent,omitempty"`
	AssetName  string `toml:"asset_name,omitempty"`

	// Timeouts are Go duration strings, e.g. "30s".
	MetadataTimeout string `toml:"metadata_timeout,omitempty"`
	DownloadTimeout string `toml:"download_timeout,omitempty"`
}

// CacheConfig holds the artifact cache location.
type CacheConfig struct {
	Dir         string `toml:"dir"`
	KeepScratch int    `toml:"keep_scratch"`
}

// BackupConfig controls pre-install snapshots.
type BackupConfig struct {
	Dir             string       `toml:"dir"`
	Include         []string     `toml:"include,omitempty"`
	RequireComplete bool         `toml:"require_complete"`
	Export          ExportConfig `toml:"export"`
}

// ExportConfig controls shipping snapshots to the vault.
type ExportConfig struct {
	Enabled bool `toml:"enabled"`
	Encrypt bool `toml:"encrypt"`
}

// PolicyConfig adds protected paths on top of the built-in ones.
type PolicyConfig struct {
	ExtraSkipDirs     []string `toml:"extra_skip_dirs,omitempty"`
	ExtraSkipFiles    []string `toml:"extra_skip_files,omitempty"`
	ExtraSkipPatterns []string `toml:"extra_skip_patterns,omitempty"`
}

// DatabaseConfig represents configuration for the settings and history database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// VaultConfig represents configuration for the backup export vault.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type VaultConfig struct {
	Type string `toml:"type"` // "memory", "s3", or "filesystem"
	Name string `toml:"name"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket    string `toml:"s3_bucket,omitempty"`
	S3Prefix    string `toml:"s3_prefix,omitempty"`
	S3Region    string `toml:"s3_region,omitempty"`
	S3Endpoint  string `toml:"s3_endpoint,omitempty"`
	S3AccessKey string `toml:"s3_access_key,omitempty"`
	S3SecretKey string `toml:"s3_secret_key,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty"`
}

// EncryptionConfig holds paths to the age key pair used for backup exports.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// ServerConfig configures the admin HTTP surface.
type ServerConfig struct {
	ListenAddr        string `toml:"listen_addr"`
	AdminUser         string `toml:"admin_user"`
	AdminPasswordHash string `toml:"admin_password_hash,omitempty"`
}

// NewConfig creates a new Config for installRoot with data under baseDir.
func NewConfig(installRoot, baseDir string) *Config {
	return &Config{
		CurrentVersion: "0.0.0",
		InstallRoot:    installRoot,
		BaseDir:        baseDir,
		LogDir:         filepath.Join(baseDir, "log"),
		Release: ReleaseConfig{
			MetadataTimeout: "30s",
			DownloadTimeout: "120s",
		},
		Cache: CacheConfig{
			Dir:         filepath.Join(baseDir, "cache"),
			KeepScratch: 3,
		},
		Backup: BackupConfig{
			Dir:             filepath.Join(baseDir, "backups"),
			RequireComplete: true,
		},
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Vault: VaultConfig{
			Type:        "filesystem",
			Name:        "local",
			FSVaultRoot: filepath.Join(baseDir, "vault"),
		},
		Encryption: EncryptionConfig{
			Type:           "age",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "panelup.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "panelup.key"),
		},
		Server: ServerConfig{
			ListenAddr: "127.0.0.1:8377",
			AdminUser:  "admin",
		},
	}
}

// Validate checks the settings every command depends on.
func (c *Config) Validate() error {
	var problems []string
	if c.InstallRoot == "" {
		problems = append(problems, "install_root is not set")
	} else if !filepath.IsAbs(c.InstallRoot) {
		problems = append(problems, "install_root must be an absolute path")
	}
	if c.Release.Repository == "" {
		problems = append(problems, "release.repository is not set")
	}
	if _, err := c.Release.Timeouts(); err != nil {
		problems = append(problems, err.Error())
	}
	if c.Backup.Dir == "" {
		problems = append(problems, "backup.dir is not set")
	}
	if c.Cache.Dir == "" {
		problems = append(problems, "cache.dir is not set")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Timeouts parses the metadata and download timeouts. Empty values are zero,
// which leaves the choice to the release client.
func (r ReleaseConfig) Timeouts() ([2]time.Duration, error) {
	var out [2]time.Duration
	for i, raw := range []string{r.MetadataTimeout, r.DownloadTimeout} {
		if raw == "" {
			continue
		}
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			return out, fmt.Errorf("invalid release timeout %q", raw)
		}
		out[i] = d
	}
	return out, nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
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

// WriteToFile replaces the config file at path.
func WriteToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// The file may carry a token and a password hash.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
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

	if err := WriteToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
