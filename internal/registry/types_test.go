package registry

import (
	"slices"
	"strings"
	"testing"
)

func TestArchiveKindFor(t *testing.T) {
	tests := map[string]ArchiveKind{
		"wasm-tools-1.0-x86_64-linux.tar.gz": ArchiveTarGz,
		"tool.tgz":                           ArchiveTarGz,
		"wasmtime-v38-x86_64-linux.tar.xz":   ArchiveTarXz,
		"thing.tar.zst":                      ArchiveTarZs,
		"wasmtime-v38-x86_64-windows.zip":    ArchiveZip,
		"wac-cli-x86_64-apple-darwin":        ArchiveRaw,
		"file-ops.wasm":                      ArchiveRaw,
	}
	for name, want := range tests {
		if got := ArchiveKindFor(name); got != want {
			t.Errorf("%s: got %s want %s", name, got, want)
		}
	}
}

func TestLayoutPathsOrder(t *testing.T) {
	l := Layout{StripPrefix: "wasm-tools-1.0-x86_64-linux", Candidates: []string{"wasm-tools", "bin/wasm-tools", "wasm-tools/wasm-tools"}}
	want := []string{
		"wasm-tools-1.0-x86_64-linux/wasm-tools",
		"wasm-tools-1.0-x86_64-linux/bin/wasm-tools",
		"wasm-tools-1.0-x86_64-linux/wasm-tools/wasm-tools",
		"wasm-tools",
		"bin/wasm-tools",
		"wasm-tools/wasm-tools",
	}
	if got := l.Paths(); !slices.Equal(got, want) {
		t.Fatalf("paths = %v", got)
	}
}

func TestLayoutFind(t *testing.T) {
	l := Layout{StripPrefix: "pkg", Candidates: []string{"tool", "bin/tool"}}

	found, tried, ok := l.Find(func(rel string) bool { return rel == "bin/tool" })
	if !ok || found != "bin/tool" {
		t.Fatalf("found=%q ok=%v", found, ok)
	}
	if len(tried) != 4 {
		t.Fatalf("expected 4 tried paths, got %v", tried)
	}

	_, tried, ok = l.Find(func(string) bool { return false })
	if ok {
		t.Fatal("expected no match")
	}
	if !slices.Contains(tried, "pkg/tool") || !slices.Contains(tried, "bin/tool") {
		t.Fatalf("expected every candidate reported, got %v", tried)
	}
}

func TestParseDigest(t *testing.T) {
	hex := strings.Repeat("ab", 32)
	d, err := ParseDigest(hex)
	if err != nil || d.Algorithm != SHA256 {
		t.Fatalf("bare hex: %+v %v", d, err)
	}
	d, err = ParseDigest("BLAKE3:" + strings.ToUpper(hex))
	if err != nil || d.Algorithm != BLAKE3 || d.Hex != hex {
		t.Fatalf("blake3: %+v %v", d, err)
	}
	for _, bad := range []string{"", "sha256:abc", "md5:" + hex, "sha256:" + strings.Repeat("zz", 32)} {
		if _, err := ParseDigest(bad); err == nil {
			t.Errorf("%q: expected error", bad)
		}
	}
}

func TestDigestSum(t *testing.T) {
	const sha = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	d := Digest{Algorithm: SHA256, Hex: sha}
	got, err := d.Sum(strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	if !d.Matches(got) {
		t.Fatalf("sha256(hello) = %s", got)
	}

	b3 := Digest{Algorithm: BLAKE3}
	sum, err := b3.Sum(strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("blake3 sum: %v", err)
	}
	if len(sum) != 64 || sum == sha {
		t.Fatalf("unexpected blake3 sum %s", sum)
	}
}
