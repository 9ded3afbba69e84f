package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Environment variables honored by ApplyEnv.
// EnvVendorDir names the shared vendor directory consulted before the mirror;
// EnvVendorRoot names the snapshot offline mode reads from.
const (
	EnvOffline     = "BAZEL_WASM_OFFLINE"
	EnvVendorDir   = "BAZEL_WASM_VENDOR_DIR"
	EnvMirror      = "BAZEL_WASM_MIRROR"
	EnvVendorRoot  = "WASMTOOLCHAIN_VENDOR_ROOT"
	EnvCacheDir    = "WASMTOOLCHAIN_CACHE_DIR"
	EnvGitHubToken = "GITHUB_TOKEN"
)

var lookupEnv = os.LookupEnv

// ApplyEnv overlays environment settings on top of the file configuration.
// Sessions call it once at startup and never consult the environment again.
func (c *Config) ApplyEnv() error {
	if raw, ok := lookupEnv(EnvOffline); ok && strings.TrimSpace(raw) != "" {
		offline, err := parseBool(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvOffline, err)
		}
		c.Offline = offline
	}
	if v, ok := lookupEnv(EnvVendorDir); ok && strings.TrimSpace(v) != "" {
		c.SharedVendorDir = strings.TrimSpace(v)
	}
	if v, ok := lookupEnv(EnvVendorRoot); ok && strings.TrimSpace(v) != "" {
		c.VendorRoot = strings.TrimSpace(v)
	}
	if v, ok := lookupEnv(EnvMirror); ok && strings.TrimSpace(v) != "" {
		c.MirrorURL = strings.TrimSpace(v)
	}
	if v, ok := lookupEnv(EnvCacheDir); ok && strings.TrimSpace(v) != "" {
		c.CacheDir = strings.TrimSpace(v)
	}
	if v, ok := lookupEnv(EnvGitHubToken); ok && strings.TrimSpace(v) != "" {
		c.GitHubToken = strings.TrimSpace(v)
	}
	return nil
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "yes", "on":
		return true, nil
	case "no", "off":
		return false, nil
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, fmt.Errorf("invalid boolean %q", raw)
	}
	return v, nil
}
