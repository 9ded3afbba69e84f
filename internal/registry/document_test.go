package registry

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"wasmtoolchain/internal/toolerr"
)

const gadgetTool = `// gadget: test tool with a custom tag prefix
{
  "tool_name": "gadget",
  "github_repo": "acme/gadget",
  "tag_prefix": "gadget-",
  "latest_version": "1.2.0",
  "url_template": "https://github.com/{repo}/releases/download/gadget-{version}/{filename}",
  "filename_template": "gadget-{version}-{url_suffix}",
  "versions": {
    "1.2.0": {
      "release_date": "2025-01-02",
      "platforms": {
        "linux_amd64": {"sha256": "1111111111111111111111111111111111111111111111111111111111111111", "url_suffix": "x86_64-linux.tar.gz"},
        "darwin_arm64": {"blake3": "2222222222222222222222222222222222222222222222222222222222222222", "url_suffix": "arm64-macos.tar.gz", "platform_name": "arm64-macos"}
      }
    }
  }
}
`

func writeGadget(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "gadget.jsonc"), []byte(gadgetTool), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "half-done.jsonc"), []byte(missingDigestTool), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return dir
}

func TestOpenDocumentUnknownToolListsKnown(t *testing.T) {
	dir := writeGadget(t)
	_, err := OpenDocument(dir, "gizmo")
	if !errors.Is(err, toolerr.KindUnknownTool) {
		t.Fatalf("expected unknown tool, got %v", err)
	}
	var te *toolerr.Error
	if !errors.As(err, &te) || !slices.Equal(te.Alternatives, []string{"gadget", "half-done"}) {
		t.Fatalf("alternatives = %+v", te)
	}
}

func TestDocumentTags(t *testing.T) {
	doc, err := OpenDocument(writeGadget(t), "gadget")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if got := doc.Tag("1.3.0"); got != "gadget-1.3.0" {
		t.Fatalf("tag = %s", got)
	}
	for tag, want := range map[string]string{"gadget-1.3.0": "1.3.0", "v1.3.0": "1.3.0", "1.3.0": "1.3.0"} {
		if got := doc.VersionFromTag(tag); got != want {
			t.Errorf("VersionFromTag(%q) = %q, want %q", tag, got, want)
		}
	}

	plain, err := OpenDocument(filepath.Join("data", "tools"), "wasm-tools")
	if err != nil {
		t.Fatalf("open wasm-tools: %v", err)
	}
	if got := plain.Tag("1.241.0"); got != "v1.241.0" {
		t.Fatalf("default tag = %s", got)
	}
}

func TestDocumentAssetsFollowLatestVersion(t *testing.T) {
	doc, err := OpenDocument(writeGadget(t), "gadget")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	assets, err := doc.Assets("1.3.0")
	if err != nil {
		t.Fatalf("assets: %v", err)
	}
	if len(assets) != 2 {
		t.Fatalf("assets = %+v", assets)
	}
	mac, linux := assets[0], assets[1]
	if mac.Platform != "darwin_arm64" || mac.Filename != "gadget-1.3.0-arm64-macos.tar.gz" || mac.Algorithm != BLAKE3 {
		t.Fatalf("darwin asset = %+v", mac)
	}
	if linux.Algorithm != SHA256 || linux.URL != "https://github.com/acme/gadget/releases/download/gadget-1.3.0/gadget-1.3.0-x86_64-linux.tar.gz" {
		t.Fatalf("linux asset = %+v", linux)
	}
}

func TestDocumentAddVersionAndSave(t *testing.T) {
	dir := writeGadget(t)
	doc, err := OpenDocument(dir, "gadget")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	sum := strings.Repeat("ab", 32)
	if err := doc.AddVersion("1.3.0", "2025-03-04", map[Platform]string{"linux_amd64": sum}); err != nil {
		t.Fatalf("add version: %v", err)
	}
	if err := doc.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}

	reg, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if latest, _ := reg.Latest("gadget"); latest != "1.3.0" {
		t.Fatalf("latest = %s", latest)
	}
	rec, err := reg.Lookup(ToolIdentity{Name: "gadget", Version: "1.3.0", Platform: "linux_amd64"})
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if rec.Digest.String() != "sha256:"+sum || rec.ReleaseDate != "2025-03-04" {
		t.Fatalf("record = %+v", rec)
	}
	if _, err := reg.Lookup(ToolIdentity{Name: "gadget", Version: "1.3.0", Platform: "darwin_arm64"}); !errors.Is(err, toolerr.KindUnsupportedPlatform) {
		t.Fatalf("unhashed platform should be absent, got %v", err)
	}
	if !reg.Has("gadget", "1.2.0") {
		t.Fatal("older version dropped")
	}
}

func TestDocumentAddOlderVersionKeepsLatest(t *testing.T) {
	doc, err := OpenDocument(writeGadget(t), "gadget")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := doc.AddVersion("1.1.9", "", map[Platform]string{"darwin_arm64": strings.Repeat("cd", 32)}); err != nil {
		t.Fatalf("add version: %v", err)
	}
	if doc.Latest() != "1.2.0" {
		t.Fatalf("latest = %s", doc.Latest())
	}
}

func TestDocumentAddVersionRejectsBadDigest(t *testing.T) {
	doc, err := OpenDocument(writeGadget(t), "gadget")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := doc.AddVersion("1.3.0", "", map[Platform]string{"linux_amd64": "nothex"}); err == nil {
		t.Fatal("expected digest error")
	}
	if doc.HasVersion("1.3.0") {
		t.Fatal("failed add must leave the document unchanged")
	}
	if err := doc.AddVersion("1.3.0", "", map[Platform]string{"windows_amd64": strings.Repeat("ab", 32)}); err == nil {
		t.Fatal("expected error for platform without template entry")
	}
}
