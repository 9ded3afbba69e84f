package cli

import (
	"fmt"
	"strings"
	"testing"

	"wasmtoolchain/internal/config"
)

func TestJoinComma(t *testing.T) {
	tests := []struct {
		input []string
		want  string
	}{
		{nil, ""},
		{[]string{"a"}, "a"},
		{[]string{"a", "b"}, "a, b"},
		{[]string{"a", "b", "c"}, "a, b, c"},
	}

	for _, tt := range tests {
		got := joinComma(tt.input)
		if got != tt.want {
			t.Errorf("joinComma(%v) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestCheckConfigWithError(t *testing.T) {
	result := checkConfig(config.Config{}, fmt.Errorf("config file not found"))

	if result.Status != "error" {
		t.Errorf("got status=%q, want error", result.Status)
	}
	if result.Name != "Config" {
		t.Errorf("got name=%q, want Config", result.Name)
	}
}

func TestCheckConfigValid(t *testing.T) {
	result := checkConfig(config.Default(), nil)

	if result.Status != "ok" {
		t.Errorf("got status=%q, want ok (%s)", result.Status, result.Summary)
	}
}

func TestCheckConfigWarning(t *testing.T) {
	cfg := config.Default()
	cfg.Offline = true
	result := checkConfig(cfg, nil)

	if result.Status != "warning" {
		t.Errorf("got status=%q, want warning", result.Status)
	}
}

func TestCheckSourcesMissingVendorDir(t *testing.T) {
	cfg := config.Default()
	cfg.VendorRoot = "/does/not/exist"
	result := checkSources(cfg)

	if result.Status != "warning" || !strings.Contains(result.Summary, "vendor") {
		t.Errorf("got %+v", result)
	}
}

func TestCheckSourcesPublicOnly(t *testing.T) {
	result := checkSources(config.Default())
	if result.Status != "ok" || result.Summary != "public origin only" {
		t.Errorf("got %+v", result)
	}
}

func TestDoctorRunsAllChecks(t *testing.T) {
	cfgFile := isolate(t)
	out, err := execute(t, cfgFile, "doctor")
	if err != nil {
		t.Fatalf("doctor: %v", err)
	}
	for _, name := range []string{"Config:", "Host:", "Registry:", "Bundles:", "Sources:", "Cache:"} {
		if !strings.Contains(out, name) {
			t.Errorf("expected %s in doctor output:\n%s", name, out)
		}
	}
}
