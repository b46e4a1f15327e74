// Package config loads vdstore configuration with viper.
//
// Sources, lowest precedence first: built-in defaults, the config file
// (vdstore.yaml in the working directory or $HOME/.config/vdstore, or an
// explicit path), and VDSTORE_* environment variables. Command-line flags
// are applied by the CLI on top of the loaded Config.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	configFileName = "vdstore"
	configFileType = "yaml"
	envPrefix      = "VDSTORE"

	// Config keys.
	KeyStorePath       = "store_path"
	KeyRegistryPath    = "registry_path"
	KeyRowsMax         = "rows_max"
	KeySiteURL         = "site_url"
	KeyPIDPrefix       = "pid_prefix"
	KeyAsyncHash       = "async_hash"
	KeyHashMaxAttempts = "hash_max_attempts"
	KeyHashRetryDelay  = "hash_retry_delay"
	KeyPackages        = "packages"
)

// Defaults.
const (
	DefaultStorePath       = "vdstore.db"
	DefaultRegistryPath    = "vdstore-queries.db"
	DefaultRowsMax         = 100
	DefaultSiteURL         = "http://localhost:5000"
	DefaultPIDPrefix       = "local"
	DefaultHashMaxAttempts = 3
	DefaultHashRetryDelay  = 500 * time.Millisecond
)

// Config holds everything needed to construct a datastore service.
type Config struct {
	// StorePath is the SQLite file of the record store.
	StorePath string `mapstructure:"store_path"`
	// RegistryPath is the SQLite file of the query registry.
	RegistryPath string `mapstructure:"registry_path"`
	// RowsMax caps the rows of a single query page.
	RowsMax int `mapstructure:"rows_max"`
	// SiteURL is the base of landing-page and resolve URLs.
	SiteURL string `mapstructure:"site_url"`
	// PIDPrefix is the prefix of locally minted PIDs.
	PIDPrefix string `mapstructure:"pid_prefix"`
	// AsyncHash defers result-set hashing of searches to the hash worker.
	AsyncHash       bool          `mapstructure:"async_hash"`
	HashMaxAttempts int           `mapstructure:"hash_max_attempts"`
	HashRetryDelay  time.Duration `mapstructure:"hash_retry_delay"`
	// Packages maps resource ids to their citation context. The "*" entry
	// applies to resources without their own.
	Packages map[string]Package `mapstructure:"packages"`
}

// Package is the citation context of a resource.
type Package struct {
	Title        string            `mapstructure:"title"`
	Author       string            `mapstructure:"author"`
	Maintainer   string            `mapstructure:"maintainer"`
	ResourceName string            `mapstructure:"resource_name"`
	Extras       map[string]string `mapstructure:"extras"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		StorePath:       DefaultStorePath,
		RegistryPath:    DefaultRegistryPath,
		RowsMax:         DefaultRowsMax,
		SiteURL:         DefaultSiteURL,
		PIDPrefix:       DefaultPIDPrefix,
		HashMaxAttempts: DefaultHashMaxAttempts,
		HashRetryDelay:  DefaultHashRetryDelay,
	}
}

// Load reads the configuration. With an empty path the standard locations
// are searched and a missing file is not an error; an explicit path must
// exist.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configFileName)
		v.SetConfigType(configFileType)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "vdstore"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault(KeyStorePath, d.StorePath)
	v.SetDefault(KeyRegistryPath, d.RegistryPath)
	v.SetDefault(KeyRowsMax, d.RowsMax)
	v.SetDefault(KeySiteURL, d.SiteURL)
	v.SetDefault(KeyPIDPrefix, d.PIDPrefix)
	v.SetDefault(KeyAsyncHash, d.AsyncHash)
	v.SetDefault(KeyHashMaxAttempts, d.HashMaxAttempts)
	v.SetDefault(KeyHashRetryDelay, d.HashRetryDelay)
}

// Validate checks that cfg can construct a service.
func (c Config) Validate() error {
	var errs []error
	if c.StorePath == "" {
		errs = append(errs, fmt.Errorf("%s is required", KeyStorePath))
	}
	if c.RegistryPath == "" {
		errs = append(errs, fmt.Errorf("%s is required", KeyRegistryPath))
	}
	if c.RowsMax <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive, got %d", KeyRowsMax, c.RowsMax))
	}
	if c.HashMaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive, got %d", KeyHashMaxAttempts, c.HashMaxAttempts))
	}
	if c.HashRetryDelay < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative", KeyHashRetryDelay))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
