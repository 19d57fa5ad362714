// Package config handles loading application configuration from a YAML file
// with environment variable overrides.
//
// Config file format (nxt-zim.yaml):
//
//	listen_addr: ":8080"
//	root: "/wiki"
//	library_files: ["/srv/zim/library.xml"]
//	archive_dir: "/srv/zim"
//	monitor_library: true
//
// Configuration sources, in increasing priority order:
//  1. Built-in defaults
//  2. YAML config file (located by FindConfigFile or explicit path)
//  3. Environment variables (NXT_ZIM_LISTEN_ADDR, NXT_ZIM_ROOT, ...)
//
// Command-line flags are applied on top by the entrypoint.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "NXT_ZIM_"

// Config holds all application configuration.
type Config struct {
	// ListenAddr is the TCP address for the HTTP server (e.g. ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// Root is the URL prefix under which everything is served ("" or "/wiki").
	Root string `yaml:"root"`

	// LibraryFiles are library.xml files to load. The first one not marked
	// read-only receives the books added at runtime.
	LibraryFiles []string `yaml:"library_files"`

	// Archives are archive paths served in addition to the library files.
	Archives []string `yaml:"archives"`

	// ArchiveDir is scanned for archives at startup and on reload.
	ArchiveDir string `yaml:"archive_dir"`

	// Threads sizes the burst of the global rate limiter.
	Threads int `yaml:"threads"`

	// SearchLimit caps the number of books one search may span. 0 disables.
	SearchLimit int `yaml:"search_limit"`

	Verbose            bool `yaml:"verbose"`
	Taskbar            bool `yaml:"taskbar"`
	BlockExternalLinks bool `yaml:"block_external_links"`

	// IPConnectionLimit caps concurrent requests per client address. 0 disables.
	IPConnectionLimit int `yaml:"ip_connection_limit"`

	// RateLimit is the global request rate in requests per second. 0 disables.
	RateLimit float64 `yaml:"rate_limit"`

	// MonitorLibrary reloads the library files when they change on disk.
	MonitorLibrary bool `yaml:"monitor_library"`

	// NoDateAlias disables the short names without date suffix.
	NoDateAlias bool `yaml:"nodatealias"`

	// CustomIndex replaces the generated welcome page.
	CustomIndex string `yaml:"custom_index"`

	// StorePath is the SQLite snapshot database. Empty disables the store.
	StorePath string `yaml:"store_path"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Timeouts are duration strings in YAML (e.g. "30s"). "0" disables.
	ReadTimeoutStr  string `yaml:"read_timeout"`
	WriteTimeoutStr string `yaml:"write_timeout"`
	IdleTimeoutStr  string `yaml:"idle_timeout"`

	// Parsed forms of the timeout strings, filled by Load.
	ReadTimeout  time.Duration `yaml:"-"`
	WriteTimeout time.Duration `yaml:"-"`
	IdleTimeout  time.Duration `yaml:"-"`
}

// Default returns a Config populated with sensible defaults.
func Default() Config {
	return Config{
		ListenAddr:      ":8080",
		Threads:         4,
		SearchLimit:     0,
		Taskbar:         true,
		LogLevel:        "info",
		LogFormat:       "console",
		ReadTimeoutStr:  "30s",
		WriteTimeoutStr: "60s",
		IdleTimeoutStr:  "120s",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    60 * time.Second,
		IdleTimeout:     120 * time.Second,
	}
}

// Load reads configuration from the YAML file at path (if non-empty), then
// applies environment variable overrides on top. Returns the merged Config.
// If path is empty, only defaults and environment variables are applied.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %q: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}

	var err error
	if cfg.ReadTimeout, err = parseTimeout("read_timeout", cfg.ReadTimeoutStr); err != nil {
		return cfg, err
	}
	if cfg.WriteTimeout, err = parseTimeout("write_timeout", cfg.WriteTimeoutStr); err != nil {
		return cfg, err
	}
	if cfg.IdleTimeout, err = parseTimeout("idle_timeout", cfg.IdleTimeoutStr); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overrides cfg with the NXT_ZIM_* variables that are set.
// List values are separated by the OS path list separator.
func applyEnv(cfg *Config) error {
	str := func(name string, dst *string) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}
	list := func(name string, dst *[]string) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			*dst = filepath.SplitList(v)
		}
	}
	var errs []string
	boolean := func(name string, dst *bool) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, EnvPrefix+name)
				return
			}
			*dst = b
		}
	}
	integer := func(name string, dst *int) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, EnvPrefix+name)
				return
			}
			*dst = n
		}
	}

	str("LISTEN_ADDR", &cfg.ListenAddr)
	str("ROOT", &cfg.Root)
	list("LIBRARY_FILES", &cfg.LibraryFiles)
	list("ARCHIVES", &cfg.Archives)
	str("ARCHIVE_DIR", &cfg.ArchiveDir)
	integer("THREADS", &cfg.Threads)
	integer("SEARCH_LIMIT", &cfg.SearchLimit)
	boolean("VERBOSE", &cfg.Verbose)
	boolean("TASKBAR", &cfg.Taskbar)
	boolean("BLOCK_EXTERNAL_LINKS", &cfg.BlockExternalLinks)
	integer("IP_CONNECTION_LIMIT", &cfg.IPConnectionLimit)
	if v := os.Getenv(EnvPrefix + "RATE_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, EnvPrefix+"RATE_LIMIT")
		} else {
			cfg.RateLimit = f
		}
	}
	boolean("MONITOR_LIBRARY", &cfg.MonitorLibrary)
	boolean("NODATEALIAS", &cfg.NoDateAlias)
	str("CUSTOM_INDEX", &cfg.CustomIndex)
	str("STORE_PATH", &cfg.StorePath)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("LOG_FORMAT", &cfg.LogFormat)
	str("READ_TIMEOUT", &cfg.ReadTimeoutStr)
	str("WRITE_TIMEOUT", &cfg.WriteTimeoutStr)
	str("IDLE_TIMEOUT", &cfg.IdleTimeoutStr)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment value for %s", strings.Join(errs, ", "))
	}
	return nil
}

// parseTimeout parses a duration string. An empty string or "0" disables
// the timeout.
func parseTimeout(name, s string) (time.Duration, error) {
	if s == "" || s == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parse %s %q: %w", name, s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("parse %s %q: negative duration", name, s)
	}
	return d, nil
}

// Validate reports settings the server cannot start with.
func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is empty")
	}
	if len(c.LibraryFiles) == 0 && len(c.Archives) == 0 && c.ArchiveDir == "" {
		return fmt.Errorf("nothing to serve: set library_files, archives or archive_dir")
	}
	if c.Threads < 1 {
		return fmt.Errorf("threads must be at least 1, got %d", c.Threads)
	}
	if c.SearchLimit < 0 || c.IPConnectionLimit < 0 || c.RateLimit < 0 {
		return fmt.Errorf("limits must not be negative")
	}
	return nil
}

// FindConfigFile returns the path to the first config file found in the
// standard search order, or "" if none is found.
//
// Search order:
//  1. NXT_ZIM_CONFIG environment variable (explicit override)
//  2. ./nxt-zim.yaml (current working directory)
//  3. ~/.config/nxt-zim/config.yaml (XDG user config)
func FindConfigFile() string {
	if p := os.Getenv(EnvPrefix + "CONFIG"); p != "" {
		return p
	}

	if _, err := os.Stat("nxt-zim.yaml"); err == nil {
		return "nxt-zim.yaml"
	}

	if home, err := os.UserHomeDir(); err == nil {
		p := filepath.Join(home, ".config", "nxt-zim", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
