// Package config loads marksync configuration from file, environment, and
// defaults via viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the merged runtime configuration for both the sync daemon and
// the server.
type Config struct {
	// ServerURL of the marksync backend the client syncs against.
	ServerURL string `mapstructure:"server_url"`

	// Token authenticating this client; empty means logged out.
	Token string `mapstructure:"token"`

	// DataDir for client-side state (tree snapshot, id mapping).
	DataDir string `mapstructure:"data_dir"`

	// SyncFolderTitle of the reserved local folder that gets mirrored.
	SyncFolderTitle string `mapstructure:"sync_folder_title"`

	// MaxDepth bounds folder-tree walks.
	MaxDepth int `mapstructure:"max_depth"`

	// SyncOnStartup runs a full sync when the daemon starts.
	SyncOnStartup bool `mapstructure:"sync_on_startup"`

	// ImportFile, when set, is watched for bulk bookmark imports.
	ImportFile string `mapstructure:"import_file"`

	// Listen address of the server (serve mode).
	Listen string `mapstructure:"listen"`

	// EncryptionKey protects stored bookmark payloads (serve mode).
	EncryptionKey string `mapstructure:"encryption_key"`

	// AuthTokens maps accepted bearer tokens to user ids (serve mode).
	AuthTokens map[string]string `mapstructure:"auth_tokens"`

	// LogFile enables rotated file logging; empty logs to stderr.
	LogFile string `mapstructure:"log_file"`
}

// Load reads configuration. An explicit path must exist; otherwise the
// well-known locations are searched and a missing file just means
// defaults plus environment.
//
// Environment variables use the MARKSYNC_ prefix, e.g. MARKSYNC_TOKEN.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Every key gets a default so environment overrides bind during
	// Unmarshal even without a config file.
	v.SetDefault("server_url", "http://localhost:8383")
	v.SetDefault("token", "")
	v.SetDefault("data_dir", defaultDataDir())
	v.SetDefault("sync_folder_title", "Synced Bookmarks")
	v.SetDefault("max_depth", 10)
	v.SetDefault("sync_on_startup", true)
	v.SetDefault("import_file", "")
	v.SetDefault("listen", ":8383")
	v.SetDefault("encryption_key", "")
	v.SetDefault("log_file", "")

	v.SetEnvPrefix("MARKSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("marksync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "marksync"))
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".marksync"
	}
	return filepath.Join(home, ".marksync")
}

// IDMapPath returns the id-mapping database location.
func (c *Config) IDMapPath() string {
	return filepath.Join(c.DataDir, "idmap.db")
}

// TreePath returns the local tree snapshot location.
func (c *Config) TreePath() string {
	return filepath.Join(c.DataDir, "tree.json")
}

// ServerDBPath returns the server bookmark database location.
func (c *Config) ServerDBPath() string {
	return filepath.Join(c.DataDir, "bookmarks.db")
}
