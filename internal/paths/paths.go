package paths

import (
	"fmt"
	"os"
	"path/filepath"

	"wasmtoolchain/internal/config"
)

// Paths captures the canonical locations a session reads and writes.
type Paths struct {
	// ConfigFile is the config file in effect; it need not exist.
	ConfigFile string
	CacheDir   string
	LogsDir    string
}

var userCacheDir = os.UserCacheDir

// Resolve determines the config file from the optional --config flag, falling
// back to wasmtoolchain.yaml in the working directory.
func Resolve(configFlag string) (Paths, error) {
	var (
		file string
		err  error
	)
	if configFlag != "" {
		file, err = filepath.Abs(configFlag)
	} else {
		var wd string
		wd, err = os.Getwd()
		file = filepath.Join(wd, config.FileName)
	}
	if err != nil {
		return Paths{}, fmt.Errorf("resolve config path: %w", err)
	}

	root, err := DefaultCacheRoot()
	if err != nil {
		return Paths{}, err
	}
	return Paths{
		ConfigFile: file,
		CacheDir:   root,
		LogsDir:    filepath.Join(root, "logs"),
	}, nil
}

// ApplyConfig points the cache and logs at the configured cache_dir, which
// already reflects WASMTOOLCHAIN_CACHE_DIR after config.ApplyEnv.
func ApplyConfig(p Paths, cfg config.Config) Paths {
	if cfg.CacheDir == "" {
		return p
	}
	dir := cfg.CacheDir
	if !filepath.IsAbs(dir) {
		if abs, err := filepath.Abs(dir); err == nil {
			dir = abs
		}
	}
	p.CacheDir = filepath.Clean(dir)
	p.LogsDir = filepath.Join(p.CacheDir, "logs")
	return p
}

// DefaultCacheRoot returns the per-user cache root, honoring
// WASMTOOLCHAIN_CACHE_DIR.
func DefaultCacheRoot() (string, error) {
	if dir := os.Getenv(config.EnvCacheDir); dir != "" {
		return filepath.Abs(dir)
	}
	base, err := userCacheDir()
	if err != nil {
		home, herr := os.UserHomeDir()
		if herr != nil {
			return "", fmt.Errorf("detect user cache dir: %w", err)
		}
		base = filepath.Join(home, ".cache")
	}
	return filepath.Join(base, "wasmtoolchain"), nil
}

// EnsureDirs creates the cache and logs directories.
func (p Paths) EnsureDirs() error {
	for _, dir := range []string{p.CacheDir, p.LogsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// FileExists reports whether a path exists and is a regular file.
func FileExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

// DirExists reports whether a path exists and is a directory.
func DirExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}
