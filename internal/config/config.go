package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all process-wide configuration of the agent. Per-account
// settings (lifetime, confirmation) arrive over IPC and live on the
// account records instead.
type Config struct {
	// DefaultTimeout is the account lifetime in seconds applied when an
	// add or autoload request does not carry its own. 0 means accounts
	// never expire.
	DefaultTimeout int64 `env:"OIDCD_DEFAULT_TIMEOUT" yaml:"default_timeout"`

	// NoAutoload disables asking the frontend for a config when an
	// access_token request names an unknown shortname.
	NoAutoload bool `env:"OIDCD_NO_AUTOLOAD" yaml:"no_autoload"`

	// Confirm requires frontend confirmation for every access_token
	// request, regardless of the per-account flag.
	Confirm bool `env:"OIDCD_CONFIRM" yaml:"confirm"`

	// RequestTimeout bounds each network round trip to the provider and
	// each frontend exchange.
	RequestTimeout time.Duration `env:"OIDCD_REQUEST_TIMEOUT" yaml:"request_timeout"`

	// CacheDir holds the issuer discovery cache database. Defaults to
	// ~/.cache/oidcd.
	CacheDir string `env:"OIDCD_CACHE_DIR" yaml:"cache_dir"`

	// SocketDir overrides the directory the agent socket is created in.
	// Empty means a fresh 0700 directory under the system temp dir.
	SocketDir string `env:"OIDCD_SOCKET_DIR" yaml:"socket_dir"`

	// Prompter is the frontend command started with the agent. It
	// inherits the frontend pipe pair on stdin/stdout. Empty runs the
	// agent without a prompter: autoload and credential prompts are then
	// answered as cancelled, and confirmation as denied.
	Prompter string `env:"OIDCD_PROMPTER" yaml:"prompter"`
}

// warnInsecureFile checks whether a file holding configuration has overly
// permissive permissions. Group or world readable files risk exposing
// settings that name issuers and client ids.
func warnInsecureFile(path string) {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: %s has insecure permissions %04o; recommended 0600", path, mode)
	}
}

// Load reads configuration. Order of precedence, lowest first: the YAML
// file named by OIDCD_CONFIG (if any), then environment variables. A .env
// file in the working directory is loaded into the environment first.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureFile(".env")

	cfg := &Config{RequestTimeout: 30 * time.Second}

	if path := os.Getenv("OIDCD_CONFIG"); path != "" {
		warnInsecureFile(path)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if cfg.CacheDir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			base = os.TempDir()
		}
		cfg.CacheDir = filepath.Join(base, "oidcd")
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.DefaultTimeout < 0 {
		return fmt.Errorf("OIDCD_DEFAULT_TIMEOUT must not be negative, got %d", c.DefaultTimeout)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("OIDCD_REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout)
	}
	return nil
}
