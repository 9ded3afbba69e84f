package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), FileName))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Strategy != "auto" || cfg.Concurrency != 4 || cfg.Download.Attempts != 4 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Download.InitialInterval != 500*time.Millisecond || cfg.Download.Timeout != 5*time.Minute {
		t.Fatalf("unexpected download defaults %+v", cfg.Download)
	}
}

func TestLoadResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	doc := `
offline: true
vendor_root: third_party/wasm
registry_dir: /opt/checksums
mirror_url: https://mirror.corp.example/wasm
download:
  attempts: 2
  initial_interval: 50ms
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Offline {
		t.Fatal("offline not decoded")
	}
	if want := filepath.Join(dir, "third_party/wasm"); cfg.VendorRoot != want {
		t.Fatalf("vendor root = %s, want %s", cfg.VendorRoot, want)
	}
	if cfg.RegistryDir != "/opt/checksums" {
		t.Fatalf("absolute path rewritten: %s", cfg.RegistryDir)
	}
	if cfg.Download.Attempts != 2 || cfg.Download.InitialInterval != 50*time.Millisecond {
		t.Fatalf("download not decoded: %+v", cfg.Download)
	}
	if cfg.Download.MaxInterval != 10*time.Second {
		t.Fatalf("max interval default not applied: %v", cfg.Download.MaxInterval)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte("download: [1, 2"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected unmarshal error")
	}
}

func TestApplyEnvOverridesFile(t *testing.T) {
	t.Setenv(EnvOffline, "1")
	t.Setenv(EnvVendorDir, "/nfs/shared-vendor")
	t.Setenv(EnvVendorRoot, "/srv/vendor")
	t.Setenv(EnvMirror, "https://mirror.example")
	t.Setenv(EnvCacheDir, "/tmp/wtc")

	cfg := Default()
	cfg.VendorRoot = "/from/file"
	cfg.SharedVendorDir = "/from/file/shared"
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if !cfg.Offline || cfg.VendorRoot != "/srv/vendor" || cfg.MirrorURL != "https://mirror.example" || cfg.CacheDir != "/tmp/wtc" {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if cfg.SharedVendorDir != "/nfs/shared-vendor" {
		t.Fatalf("shared vendor dir = %q, want /nfs/shared-vendor", cfg.SharedVendorDir)
	}
}

func TestGitHubTokenComesOnlyFromEnv(t *testing.T) {
	t.Setenv(EnvGitHubToken, "ghp_secret")

	cfg := Default()
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if cfg.GitHubToken != "ghp_secret" {
		t.Fatalf("token = %q", cfg.GitHubToken)
	}
	out, err := cfg.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(out), "ghp_secret") {
		t.Fatalf("token leaked into config output:\n%s", out)
	}
}

func TestApplyEnvVendorDirIsSharedCache(t *testing.T) {
	t.Setenv(EnvOffline, "")
	t.Setenv(EnvVendorRoot, "")
	t.Setenv(EnvVendorDir, "/nfs/shared-vendor")

	cfg := Default()
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if cfg.Offline {
		t.Fatal("vendor dir must not switch on offline mode")
	}
	if cfg.SharedVendorDir != "/nfs/shared-vendor" || cfg.VendorRoot != "" {
		t.Fatalf("got shared=%q root=%q", cfg.SharedVendorDir, cfg.VendorRoot)
	}
}

func TestApplyEnvOfflineValues(t *testing.T) {
	cases := map[string]bool{"true": true, "yes": true, "ON": true, "0": false, "false": false, "off": false}
	for raw, want := range cases {
		t.Setenv(EnvOffline, raw)
		cfg := Config{Offline: !want}
		if err := cfg.ApplyEnv(); err != nil {
			t.Fatalf("%q: %v", raw, err)
		}
		if cfg.Offline != want {
			t.Errorf("%q: offline = %v", raw, cfg.Offline)
		}
	}

	t.Setenv(EnvOffline, "maybe")
	cfg := Config{}
	if err := cfg.ApplyEnv(); err == nil {
		t.Fatal("expected error for invalid boolean")
	}
}

func TestApplyEnvIgnoresUnsetAndBlank(t *testing.T) {
	orig := lookupEnv
	t.Cleanup(func() { lookupEnv = orig })
	lookupEnv = func(key string) (string, bool) {
		if key == EnvMirror {
			return "  ", true
		}
		return "", false
	}
	cfg := Config{MirrorURL: "https://keep.example", Offline: true}
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if cfg.MirrorURL != "https://keep.example" || !cfg.Offline {
		t.Fatalf("blank env changed config: %+v", cfg)
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.MirrorURL = "https://mirror.example"
	data, err := cfg.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	back, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v\n%s", err, data)
	}
	if back.MirrorURL != cfg.MirrorURL || back.Download != cfg.Download {
		t.Fatalf("round trip mismatch: %+v", back)
	}
}
