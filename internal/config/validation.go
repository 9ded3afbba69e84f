package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
)

// ValidationResult captures a single validation finding.
type ValidationResult struct {
	Level   string `json:"level"` // "error" or "warning"
	Message string `json:"message"`
}

// Validate checks the effective configuration. knownStrategies lists the
// accepted strategy names (pass the selector's aliases).
func (c Config) Validate(knownStrategies []string) []ValidationResult {
	var results []ValidationResult
	results = append(results, c.validateDirs()...)
	results = append(results, c.validateMirror()...)
	results = append(results, c.validateGitHubAPI()...)
	results = append(results, c.validateOffline()...)
	results = append(results, c.validateStrategy(knownStrategies)...)
	results = append(results, c.validateDownload()...)
	return results
}

// HasErrors reports whether any result is an error.
func HasErrors(results []ValidationResult) bool {
	for _, r := range results {
		if r.Level == "error" {
			return true
		}
	}
	return false
}

func (c Config) validateDirs() []ValidationResult {
	var results []ValidationResult
	dirs := []struct{ label, path string }{
		{"vendor_root", c.VendorRoot},
		{"shared_vendor_dir", c.SharedVendorDir},
		{"registry_dir", c.RegistryDir},
	}
	for _, d := range dirs {
		if d.path == "" {
			continue
		}
		info, err := os.Stat(d.path)
		switch {
		case err != nil:
			level := "error"
			if d.label == "shared_vendor_dir" {
				// a shared dir on a network mount may come and go
				level = "warning"
			}
			results = append(results, ValidationResult{
				Level:   level,
				Message: fmt.Sprintf("%s %q not found", d.label, d.path),
			})
		case !info.IsDir():
			results = append(results, ValidationResult{
				Level:   "error",
				Message: fmt.Sprintf("%s %q is not a directory", d.label, d.path),
			})
		}
	}
	files := []struct{ label, path string }{
		{"bundles_file", c.BundlesFile},
		{"catalog_file", c.CatalogFile},
	}
	for _, f := range files {
		if f.path == "" {
			continue
		}
		if _, err := os.Stat(f.path); err != nil {
			results = append(results, ValidationResult{
				Level:   "error",
				Message: fmt.Sprintf("%s %q not found", f.label, f.path),
			})
		}
	}
	return results
}

func (c Config) validateMirror() []ValidationResult {
	if c.MirrorURL == "" {
		return nil
	}
	if !isHTTPURL(c.MirrorURL) {
		return []ValidationResult{{
			Level:   "error",
			Message: fmt.Sprintf("mirror_url %q must be an absolute http(s) URL", c.MirrorURL),
		}}
	}
	if c.Offline {
		return []ValidationResult{{
			Level:   "warning",
			Message: "mirror_url is ignored in offline mode",
		}}
	}
	return nil
}

func (c Config) validateGitHubAPI() []ValidationResult {
	if c.GitHubAPI == "" || isHTTPURL(c.GitHubAPI) {
		return nil
	}
	return []ValidationResult{{
		Level:   "error",
		Message: fmt.Sprintf("github_api %q must be an absolute http(s) URL", c.GitHubAPI),
	}}
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func (c Config) validateOffline() []ValidationResult {
	if c.Offline && c.VendorRoot == "" && c.SharedVendorDir == "" {
		return []ValidationResult{{
			Level:   "warning",
			Message: "offline mode without vendor_root or shared_vendor_dir can only serve already cached tools",
		}}
	}
	return nil
}

func (c Config) validateStrategy(known []string) []ValidationResult {
	if len(known) == 0 {
		return nil
	}
	value := strings.ToLower(strings.TrimSpace(c.Strategy))
	for _, k := range known {
		if k == value {
			return nil
		}
	}
	return []ValidationResult{{
		Level:   "error",
		Message: fmt.Sprintf("strategy %q is not one of %s", c.Strategy, strings.Join(known, ", ")),
	}}
}

func (c Config) validateDownload() []ValidationResult {
	var results []ValidationResult
	if c.Download.Attempts > 20 {
		results = append(results, ValidationResult{
			Level:   "warning",
			Message: fmt.Sprintf("download.attempts %d is unusually high", c.Download.Attempts),
		})
	}
	if c.Download.MaxInterval < c.Download.InitialInterval {
		results = append(results, ValidationResult{
			Level:   "error",
			Message: "download.max_interval is shorter than download.initial_interval",
		})
	}
	return results
}
