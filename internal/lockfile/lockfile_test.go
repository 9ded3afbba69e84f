package lockfile

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func sampleEntries() []Entry {
	return []Entry{
		{Tool: "wasmtime", Version: "38.0.1", Platform: "linux_amd64", Digest: "sha256:aa", Source: "https://example.com/wasmtime"},
		{Tool: "wasm-tools", Version: "1.240.0", Platform: "linux_amd64", Digest: "sha256:bb"},
		{Tool: "wasm-tools", Version: "1.240.0", Platform: "darwin_arm64", Digest: "sha256:cc"},
	}
}

func TestCanonicalBytesIndependentOfEntryOrder(t *testing.T) {
	entries := sampleEntries()
	a, err := New("stable-2025-12", entries).Canonical()
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	reversed := []Entry{entries[2], entries[0], entries[1]}
	b, err := Lock{Version: SchemaVersion, Bundle: "stable-2025-12", Entries: reversed}.Canonical()
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("canonical bytes differ:\n%s\n%s", a, b)
	}
	if !strings.HasPrefix(string(a), `{"bundle":"stable-2025-12","entries":[{"digest":"sha256:cc"`) {
		t.Fatalf("keys not in canonical order: %s", a)
	}
}

func TestDigestIsStable(t *testing.T) {
	l := New("b", sampleEntries())
	d1, err := l.Digest()
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	d2, _ := New("b", sampleEntries()).Digest()
	if d1 != d2 || !strings.HasPrefix(d1, "sha256:") || len(d1) != len("sha256:")+64 {
		t.Fatalf("unexpected digests %q %q", d1, d2)
	}
	l.Entries[0].Digest = "sha256:dd"
	d3, _ := l.Digest()
	if d3 == d1 {
		t.Fatal("digest did not change with content")
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "wasm.lock.json")
	want := New("stable-2025-12", sampleEntries())
	if err := Write(path, want); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := Read(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(Diff(want, got)) != 0 || got.Bundle != want.Bundle {
		t.Fatalf("round trip changed lock: %+v", got)
	}
	raw, _ := os.ReadFile(path)
	if !bytes.HasSuffix(raw, []byte("}\n")) {
		t.Fatalf("lock should end with newline: %q", raw)
	}
}

func TestReadRejectsBadLocks(t *testing.T) {
	cases := map[string]string{
		"version":    `{"version":2,"entries":[]}`,
		"incomplete": `{"version":1,"entries":[{"tool":"wac","version":"0.8.0","platform":"linux_amd64"}]}`,
		"duplicate": `{"version":1,"entries":[` +
			`{"tool":"wac","version":"0.8.0","platform":"linux_amd64","digest":"sha256:a"},` +
			`{"tool":"wac","version":"0.7.0","platform":"linux_amd64","digest":"sha256:b"}]}`,
		"syntax": `{`,
	}
	for name, doc := range cases {
		path := filepath.Join(t.TempDir(), name+".json")
		if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := Read(path); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestDiff(t *testing.T) {
	old := New("b", sampleEntries())
	next := New("b", []Entry{
		{Tool: "wasmtime", Version: "38.0.2", Platform: "linux_amd64", Digest: "sha256:ee"},
		{Tool: "wasm-tools", Version: "1.240.0", Platform: "linux_amd64", Digest: "sha256:bb", Source: "mirror"},
		{Tool: "wac", Version: "0.8.0", Platform: "linux_amd64", Digest: "sha256:ff"},
	})

	changes := Diff(old, next)
	if len(changes) != 3 {
		t.Fatalf("expected 3 changes, got %v", changes)
	}
	want := []struct {
		kind     ChangeKind
		tool     string
		platform string
	}{
		{Added, "wac", "linux_amd64"},
		{Removed, "wasm-tools", "darwin_arm64"},
		{Changed, "wasmtime", "linux_amd64"},
	}
	for i, w := range want {
		c := changes[i]
		if c.Kind != w.kind || c.Tool != w.tool || c.Platform != w.platform {
			t.Errorf("change %d = %+v, want %+v", i, c, w)
		}
	}
	if got := changes[2].String(); got != "~ wasmtime/linux_amd64 38.0.1 -> 38.0.2" {
		t.Errorf("changed string = %q", got)
	}
	if got := changes[0].String(); got != "+ wac@0.8.0/linux_amd64" {
		t.Errorf("added string = %q", got)
	}
}
