// ABOUTME: Runtime configuration: defaults, then a YAML file, then .env files, then the environment.
// ABOUTME: CLI flags are applied on top by the caller.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/2389/sdrhub/internal/factory"
	"github.com/2389/sdrhub/internal/logging"
	"github.com/2389/sdrhub/internal/modules"
)

// DefaultFile is read when no config file is named and it exists.
const DefaultFile = "sdrhub.yaml"

// Environment variables
const (
	EnvRoot       = "SDRHUB_ROOT"
	EnvPluginPath = "SDRHUB_PLUGIN_PATH"
	EnvCacheTTL   = "SDRHUB_CACHE_TTL"
	EnvDBPath     = "SDRHUB_DB_PATH"
	EnvListen     = "SDRHUB_LISTEN"
	EnvAPIToken   = "SDRHUB_API_TOKEN"
	EnvJWTSecret  = "SDRHUB_JWT_SECRET"
	EnvLogLevel   = "SDRHUB_LOG_LEVEL"
	EnvLogFormat  = "SDRHUB_LOG_FORMAT"
	EnvLogFile    = "SDRHUB_LOG_FILE"
)

type Config struct {
	Root       string          `yaml:"root"`
	PluginPath []string        `yaml:"plugin_path"`
	CacheTTL   time.Duration   `yaml:"cache_ttl"`
	DBPath     string          `yaml:"db_path"`
	Listen     string          `yaml:"listen"`
	APIToken   string          `yaml:"api_token"`
	JWTSecret  string          `yaml:"jwt_secret"`
	Log        logging.Options `yaml:"log"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Root:     modules.DefaultRoot,
		CacheTTL: factory.DefaultTTL,
		Listen:   "127.0.0.1:9300",
		Log: logging.Options{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// DefaultEnvFiles lists the .env files read when none are named: the working
// directory first, then the home directory.
func DefaultEnvFiles() []string {
	files := []string{".env"}
	if home, err := os.UserHomeDir(); err == nil {
		files = append(files, filepath.Join(home, ".env"))
	}
	return files
}

// Load builds the configuration. path names a YAML file; when empty,
// DefaultFile is used if present. envFiles are read with godotenv and fill in
// variables missing from the process environment; missing files are skipped.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()

	if path == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			path = DefaultFile
		}
	}
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}

	dotenv, err := readEnvFiles(envFiles)
	if err != nil {
		return nil, err
	}
	lookup := func(key string) string {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			return v
		}
		return dotenv[key]
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}

	if cfg.DBPath == "" {
		cfg.DBPath = DefaultDBPath()
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func readEnvFiles(files []string) (map[string]string, error) {
	merged := map[string]string{}
	for _, f := range files {
		vars, err := godotenv.Read(f)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("read %s: %w", f, err)
		}
		// earlier files win, like godotenv.Load
		for k, v := range vars {
			if _, ok := merged[k]; !ok {
				merged[k] = v
			}
		}
	}
	return merged, nil
}

func (c *Config) applyEnv(lookup func(string) string) error {
	if v := lookup(EnvRoot); v != "" {
		c.Root = v
	}
	if v := lookup(EnvPluginPath); v != "" {
		c.PluginPath = modules.SplitPathList(v)
	}
	if v := lookup(EnvCacheTTL); v != "" {
		ttl, err := ParseTTL(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvCacheTTL, err)
		}
		c.CacheTTL = ttl
	}
	if v := lookup(EnvDBPath); v != "" {
		c.DBPath = v
	}
	if v := lookup(EnvListen); v != "" {
		c.Listen = v
	}
	if v := lookup(EnvAPIToken); v != "" {
		c.APIToken = v
	}
	if v := lookup(EnvJWTSecret); v != "" {
		c.JWTSecret = v
	}
	if v := lookup(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := lookup(EnvLogFormat); v != "" {
		c.Log.Format = v
	}
	if v := lookup(EnvLogFile); v != "" {
		c.Log.File = v
	}
	return nil
}

// ParseTTL accepts a Go duration ("1500ms") or a number of seconds ("1.5").
func ParseTTL(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if d, err := time.ParseDuration(v); err == nil {
		if d < 0 {
			return 0, fmt.Errorf("negative ttl %q", v)
		}
		return d, nil
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(secs) || secs < 0 || secs > float64(math.MaxInt64)/float64(time.Second) {
		return 0, fmt.Errorf("invalid ttl %q", v)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// DefaultDBPath returns ./sdrhub.db when it exists, otherwise
// $XDG_DATA_HOME/sdrhub/sdrhub.db (or the platform equivalent).
func DefaultDBPath() string {
	cwdPath := "./sdrhub.db"
	if _, err := os.Stat(cwdPath); err == nil {
		return cwdPath
	}

	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil || homeDir == "" || homeDir == "/" {
			slog.Warn("could not determine home directory, using working directory", "home", homeDir, "error", err)
			return cwdPath
		}
		if runtime.GOOS == "windows" {
			dataHome = os.Getenv("LOCALAPPDATA")
			if dataHome == "" {
				dataHome = filepath.Join(homeDir, "AppData", "Local")
			}
		} else {
			dataHome = filepath.Join(homeDir, ".local", "share")
		}
	}

	dataDir := filepath.Join(dataHome, "sdrhub")
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		slog.Warn("could not create data directory, using working directory", "dir", dataDir, "error", err)
		return cwdPath
	}
	return filepath.Join(dataDir, "sdrhub.db")
}
