package wasmcheck

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

var (
	emptyModule    = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	componentStart = []byte{0x00, 0x61, 0x73, 0x6d, 0x0d, 0x00, 0x01, 0x00}
)

func writeTemp(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestInspectCompilesMinimalCoreModule(t *testing.T) {
	path := writeTemp(t, "empty.wasm", emptyModule)
	res, err := Inspect(context.Background(), path)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if res.Kind != KindCoreModule || res.Size != 8 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestInspectAcceptsComponentHeader(t *testing.T) {
	path := writeTemp(t, "comp.wasm", componentStart)
	res, err := Inspect(context.Background(), path)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if res.Kind != KindComponent {
		t.Fatalf("kind = %s, want component", res.Kind)
	}
}

func TestInspectRejectsCorruptCoreModule(t *testing.T) {
	// valid preamble followed by a section id with a truncated length
	data := append(append([]byte{}, emptyModule...), 0x01, 0xff)
	path := writeTemp(t, "broken.wasm", data)
	if _, err := Inspect(context.Background(), path); err == nil {
		t.Fatal("expected compile error")
	}
}

func TestClassifyRejectsNonWasm(t *testing.T) {
	cases := map[string][]byte{
		"short":       {0x00, 0x61},
		"elf":         []byte("\x7fELF\x02\x01\x01\x00"),
		"bad version": {0x00, 0x61, 0x73, 0x6d, 0x02, 0x00, 0x00, 0x00},
	}
	for name, data := range cases {
		if _, err := Classify(data); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestInspectMissingFile(t *testing.T) {
	if _, err := Inspect(context.Background(), filepath.Join(t.TempDir(), "nope.wasm")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
