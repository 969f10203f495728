// Package config provides configuration loading for the tabdoc commands.
// Settings come from an optional YAML file, then a .env file, then the
// process environment; Validate reports every problem at once.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/hyperjump/tabdoc/internal/layout"
	"github.com/hyperjump/tabdoc/internal/tabular"
)

// DefaultPath is the config file used when none is given.
const DefaultPath = "tabdoc.yaml"

// Config holds all configuration for the application.
type Config struct {
	Debug    bool           `yaml:"debug"`
	Data     DataConfig     `yaml:"data"`
	Layout   LayoutConfig   `yaml:"layout"`
	Document DocumentConfig `yaml:"document"`
	History  HistoryConfig  `yaml:"history"`
	RPC      ServerConfig   `yaml:"rpc"`
	XMLRPC   ServerConfig   `yaml:"xmlrpc"`
}

// DataConfig locates the tabular source.
type DataConfig struct {
	// Path is the CSV or XLSX file. Empty means pick a known file from the working directory.
	Path      string `yaml:"path"`
	Sheet     string `yaml:"sheet"`
	Delimiter string `yaml:"delimiter"`
}

// LayoutConfig holds explicit layout overrides. Empty fields are inferred from the source header.
type LayoutConfig struct {
	IDColumn  string `yaml:"id_column"`
	RootTag   string `yaml:"root_tag"`
	ItemTag   string `yaml:"item_tag"`
	IDAttr    string `yaml:"id_attr"`
	Query     string `yaml:"query"`
	MaxRows   int    `yaml:"max_rows"`
	ChunkSize int    `yaml:"chunk_size"`
}

// DocumentConfig holds where the served document lives.
type DocumentConfig struct {
	XMLPath         string `yaml:"xml_path"`
	XSDPath         string `yaml:"xsd_path"`
	ValidateUploads bool   `yaml:"validate_uploads"`
	// Watch reloads the document when the file changes on disk.
	Watch *bool `yaml:"watch"`
}

// WatchOrDefault returns whether to watch the document file; defaults to true when unset.
func (d *DocumentConfig) WatchOrDefault() bool {
	if d.Watch != nil {
		return *d.Watch
	}
	return true
}

// HistoryConfig holds the upload ledger location. An empty path disables it.
type HistoryConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// ServerConfig holds listener settings for one protocol.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// Workers and QueueSize size the request worker pool (RPC only).
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
	// QueueWait is how long a request waits for a queue slot before the
	// server answers busy (RPC only).
	QueueWait time.Duration `yaml:"queue_wait"`
	// MaxMessageBytes bounds one request.
	MaxMessageBytes int64         `yaml:"max_message_bytes"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Overrides converts the layout settings for layout.Resolve.
func (c *Config) Overrides() layout.Overrides {
	return layout.Overrides{
		IDColumn:  c.Layout.IDColumn,
		RootTag:   c.Layout.RootTag,
		ItemTag:   c.Layout.ItemTag,
		IDAttr:    c.Layout.IDAttr,
		Query:     c.Layout.Query,
		MaxRows:   c.Layout.MaxRows,
		ChunkSize: c.Layout.ChunkSize,
	}
}

// SourceOptions converts the data settings for tabular.Open.
func (c *Config) SourceOptions() tabular.Options {
	var delim rune
	if r := []rune(c.Data.Delimiter); len(r) == 1 {
		delim = r[0]
	}
	return tabular.Options{Sheet: c.Data.Sheet, Delimiter: delim}
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Data.Path = expandPath(cfg.Data.Path, configDir)
	cfg.Document.XMLPath = expandPath(cfg.Document.XMLPath, configDir)
	cfg.Document.XSDPath = expandPath(cfg.Document.XSDPath, configDir)
	cfg.History.DatabasePath = expandPath(cfg.History.DatabasePath, configDir)

	return &cfg, nil
}

// Default returns a config with every default applied.
func Default() *Config {
	var cfg Config
	ApplyDefaults(&cfg)
	return &cfg
}

// Resolve builds the effective configuration: the YAML file at path (a missing
// file is only an error when required), then dotenv files, then the environment.
// The result is validated.
func Resolve(path string, required bool, dotenv ...string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		if required || !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		cfg = Default()
	}
	if err := LoadDotEnv(dotenv...); err != nil {
		return nil, err
	}
	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads variables from the given files (".env" when none are given)
// without overriding the existing environment. Missing files are skipped.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// expandPath converts a path starting with "./" to one relative to configDir.
// Other relative paths are left relative to the working directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
