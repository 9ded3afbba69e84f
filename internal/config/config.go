package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the config file looked up in the working directory when no
// explicit path is given.
const FileName = "wasmtoolchain.yaml"

// Config captures how a session locates, fetches and selects tools.
type Config struct {
	Version int `yaml:"version"`

	// Offline forbids network access; artifacts must come from VendorRoot
	// or SharedVendorDir.
	Offline         bool   `yaml:"offline"`
	VendorRoot      string `yaml:"vendor_root,omitempty"`
	SharedVendorDir string `yaml:"shared_vendor_dir,omitempty"`
	MirrorURL       string `yaml:"mirror_url,omitempty"`
	CacheDir        string `yaml:"cache_dir,omitempty"`

	RegistryDir string `yaml:"registry_dir,omitempty"`
	BundlesFile string `yaml:"bundles_file,omitempty"`
	CatalogFile string `yaml:"catalog_file,omitempty"`

	DefaultBundle string `yaml:"default_bundle,omitempty"`
	Strategy      string `yaml:"strategy"`
	LinkVendor    bool   `yaml:"link_vendor"`
	Concurrency   int    `yaml:"concurrency"`

	Download DownloadConfig `yaml:"download"`

	// GitHubAPI is the release API used by `checksums update`.
	GitHubAPI   string `yaml:"github_api,omitempty"`
	GitHubToken string `yaml:"-"`
}

// DownloadConfig tunes the retrying HTTP client.
type DownloadConfig struct {
	Attempts        int           `yaml:"attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	Timeout         time.Duration `yaml:"timeout"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Version:     1,
		Strategy:    "auto",
		Concurrency: 4,
		Download: DownloadConfig{
			Attempts:        4,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     10 * time.Second,
			Timeout:         5 * time.Minute,
		},
	}
}

// Load reads the YAML configuration from disk if it exists, otherwise returns
// the default configuration. Relative paths in the file are resolved against
// the file's directory.
func Load(path string) (Config, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := Default()
			cfg.ApplyDefaults()
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.ApplyDefaults()

	base, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return Config{}, fmt.Errorf("resolve config dir: %w", err)
	}
	cfg.ResolvePaths(base)
	return cfg, nil
}

// ApplyDefaults fills fields the YAML left at their zero value.
func (c *Config) ApplyDefaults() {
	defaults := Default()

	if c.Version == 0 {
		c.Version = defaults.Version
	}
	if c.Strategy == "" {
		c.Strategy = defaults.Strategy
	}
	if c.Concurrency <= 0 {
		c.Concurrency = defaults.Concurrency
	}
	if c.Download.Attempts <= 0 {
		c.Download.Attempts = defaults.Download.Attempts
	}
	if c.Download.InitialInterval <= 0 {
		c.Download.InitialInterval = defaults.Download.InitialInterval
	}
	if c.Download.MaxInterval <= 0 {
		c.Download.MaxInterval = defaults.Download.MaxInterval
	}
	if c.Download.Timeout <= 0 {
		c.Download.Timeout = defaults.Download.Timeout
	}
}

// ResolvePaths makes every relative directory or file setting absolute
// against base.
func (c *Config) ResolvePaths(base string) {
	for _, p := range []*string{&c.VendorRoot, &c.SharedVendorDir, &c.CacheDir, &c.RegistryDir, &c.BundlesFile, &c.CatalogFile} {
		*p = resolvePath(base, *p)
	}
}

func resolvePath(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

// Marshal returns the YAML encoding of the configuration.
func (c Config) Marshal() ([]byte, error) {
	buf, err := yaml.Marshal(&c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return buf, nil
}
