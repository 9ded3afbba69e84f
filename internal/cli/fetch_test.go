package cli

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"wasmtoolchain/internal/engine"
	"wasmtoolchain/internal/registry"
)

func TestSummarizeFetch(t *testing.T) {
	results := []engine.Result{
		{Request: engine.Request{ToolName: "wasm-tools"}, Response: engine.Response{Version: "1.240.0", SourceKind: engine.SourceOrigin, BinaryPath: "/c/wasm-tools"}},
		{Request: engine.Request{ToolName: "wac", Platform: "macos-aarch64"}, Response: engine.Response{Version: "0.8.0", Cached: true, SourceKind: engine.SourceLocal}},
		{Request: engine.Request{ToolName: "wkg", Platform: "plan9"}, Err: errors.New("unsupported_platform")},
	}

	rows, counts := summarizeFetch(results, "linux_amd64")
	if counts.Installed != 1 || counts.Cached != 1 || counts.Failed != 1 {
		t.Fatalf("counts = %+v", counts)
	}
	if rows[0].Platform != "linux_amd64" || rows[0].Status != "installed" {
		t.Errorf("row 0 = %+v", rows[0])
	}
	if rows[1].Platform != "darwin_arm64" || rows[1].Status != "cached" {
		t.Errorf("row 1 = %+v", rows[1])
	}
	if rows[2].Platform != "plan9" || rows[2].Error == "" || rows[2].Version != "" {
		t.Errorf("row 2 = %+v", rows[2])
	}
}

func TestWriteFetchTable(t *testing.T) {
	cmd := newFetchCmd()
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	rows := []fetchRowResult{
		{Tool: "wasm-tools", Platform: "linux_amd64", Version: "1.240.0", Status: "installed", Source: "mirror", Path: "/c/bin/wasm-tools"},
		{Tool: "wkg", Platform: "linux_amd64", Status: "failed", Error: "checksum_mismatch"},
	}
	writeFetchTable(cmd, rows, fetchCounts{Installed: 1, Failed: 1})

	got := out.String()
	for _, want := range []string{"TOOL", "wasm-tools", "mirror", "Installed: 1", "Failed: 1"} {
		if !strings.Contains(got, want) {
			t.Errorf("expected %q in table:\n%s", want, got)
		}
	}
	if !strings.Contains(errOut.String(), "wkg/linux_amd64: checksum_mismatch") {
		t.Errorf("expected failure detail on stderr, got %q", errOut.String())
	}
}

func TestBuildFetchProgressModelNormalizesPlatforms(t *testing.T) {
	reqs := []engine.Request{
		{ToolName: "wasm-tools"},
		{ToolName: "wasm-tools", Platform: "macos-aarch64"},
	}
	model := buildFetchProgressModel(reqs, registry.Platform("linux_amd64"))
	view := model.View()
	for _, want := range []string{"linux_amd64", "darwin_arm64", "pending"} {
		if !strings.Contains(view, want) {
			t.Errorf("expected %q in view:\n%s", want, view)
		}
	}
}
