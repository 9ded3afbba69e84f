package checksums

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"wasmtoolchain/internal/fetch"
	"wasmtoolchain/internal/registry"
	"wasmtoolchain/internal/toolerr"
)

// upstream fakes the GitHub releases API and the asset download host.
type upstream struct {
	*httptest.Server
	downloads atomic.Int64

	mu       sync.Mutex
	releases map[string]Release // keyed by API path
	files    map[string][]byte  // keyed by download path
	auth     string
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	u := &upstream{releases: map[string]Release{}, files: map[string][]byte{}}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.mu.Lock()
		defer u.mu.Unlock()
		if strings.HasPrefix(r.URL.Path, "/download/") {
			u.downloads.Add(1)
			data, ok := u.files[r.URL.Path]
			if !ok {
				http.NotFound(w, r)
				return
			}
			_, _ = w.Write(data)
			return
		}
		u.auth = r.Header.Get("Authorization")
		rel, ok := u.releases[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(rel)
	}))
	t.Cleanup(u.Close)
	return u
}

func (u *upstream) file(name string, data []byte) Asset {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.files["/download/"+name] = data
	return Asset{Name: name, BrowserDownloadURL: u.URL + "/download/" + name, Size: int64(len(data))}
}

func (u *upstream) release(path string, rel Release) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.releases["/repos/acme/gadget/releases/"+path] = rel
}

func (u *upstream) authorization() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.auth
}

func sha(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

var (
	linux120  = []byte("gadget 1.2.0 linux")
	darwin120 = []byte("gadget 1.2.0 darwin")
)

// writeRegistry writes a gadget tool whose 1.2.0 linux digest is correct and
// whose darwin digest is stale.
func writeRegistry(t *testing.T, u *upstream) string {
	t.Helper()
	dir := t.TempDir()
	doc := fmt.Sprintf(`// gadget fixture
{
  "tool_name": "gadget",
  "github_repo": "acme/gadget",
  "tag_prefix": "gadget-",
  "latest_version": "1.2.0",
  "url_template": "%s/download/{filename}",
  "filename_template": "gadget-{version}-{url_suffix}",
  "versions": {
    "1.1.0": {
      "platforms": {
        "linux_amd64": {"sha256": "%s", "url_suffix": "linux.bin"}
      }
    },
    "1.2.0": {
      "release_date": "2025-01-02",
      "platforms": {
        "linux_amd64": {"sha256": "%s", "url_suffix": "linux.bin"},
        "darwin_arm64": {"sha256": "%s", "url_suffix": "darwin.bin"}
      }
    }
  }
}
`, u.URL, sha([]byte("gone")), sha(linux120), sha([]byte("something else")))
	if err := os.WriteFile(filepath.Join(dir, "gadget.jsonc"), []byte(doc), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return dir
}

func newSummer(t *testing.T) *fetch.Fetcher {
	t.Helper()
	f, err := fetch.New(nil, nil, fetch.Options{
		CacheDir:        t.TempDir(),
		Attempts:        2,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}
	return f
}

func TestValidateRehashesLatestVersion(t *testing.T) {
	u := newUpstream(t)
	u.file("gadget-1.2.0-linux.bin", linux120)
	u.file("gadget-1.2.0-darwin.bin", darwin120)
	reg, err := registry.LoadDir(writeRegistry(t, u))
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}

	report, err := Validate(context.Background(), reg, newSummer(t), ValidateOptions{})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if len(report.Checks) != 2 || report.Valid != 1 || report.Mismatched != 1 || report.OK() {
		t.Fatalf("report = %+v", report)
	}
	for _, c := range report.Checks {
		if c.Identity.Platform == "darwin_arm64" && c.Actual != "sha256:"+sha(darwin120) {
			t.Fatalf("darwin actual = %s", c.Actual)
		}
	}
}

func TestValidateAllVersionsReportsUnreachableAssets(t *testing.T) {
	u := newUpstream(t)
	u.file("gadget-1.2.0-linux.bin", linux120)
	u.file("gadget-1.2.0-darwin.bin", darwin120)
	reg, err := registry.LoadDir(writeRegistry(t, u))
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}

	report, err := Validate(context.Background(), reg, newSummer(t), ValidateOptions{Tools: []string{"gadget"}, AllVersions: true})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if len(report.Checks) != 3 || report.Failed != 1 {
		t.Fatalf("report = %+v", report)
	}
}

func TestValidateUnknownTool(t *testing.T) {
	u := newUpstream(t)
	reg, err := registry.LoadDir(writeRegistry(t, u))
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}
	_, err = Validate(context.Background(), reg, newSummer(t), ValidateOptions{Tools: []string{"gizmo"}})
	if !errors.Is(err, toolerr.KindUnknownTool) {
		t.Fatalf("expected unknown tool, got %v", err)
	}
	if n := u.downloads.Load(); n != 0 {
		t.Fatalf("no downloads expected, got %d", n)
	}
}

func TestUpdateRecordsLatestRelease(t *testing.T) {
	u := newUpstream(t)
	dir := writeRegistry(t, u)
	linux130 := []byte("gadget 1.3.0 linux")
	u.release("latest", Release{
		TagName:     "gadget-1.3.0",
		PublishedAt: time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC),
		Assets:      []Asset{u.file("gadget-1.3.0-linux.bin", linux130)},
	})

	core, logs := observer.New(zap.WarnLevel)
	up := &Updater{
		Releases: &ReleaseClient{BaseURL: u.URL, Token: "ghp_test"},
		Sum:      newSummer(t),
		Logger:   zap.New(core),
	}
	res, err := up.Update(context.Background(), dir, "gadget", UpdateOptions{})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !res.Updated || res.Version != "1.3.0" || res.Previous != "1.2.0" || res.Change != ChangeMinor || res.ReleaseDate != "2025-03-04" {
		t.Fatalf("result = %+v", res)
	}
	if got := u.authorization(); got != "Bearer ghp_test" {
		t.Fatalf("authorization = %q", got)
	}
	if logs.FilterMessage("release has no asset for platform").Len() != 1 {
		t.Fatalf("expected a warning for the missing darwin asset, got %v", logs.All())
	}

	reg, err := registry.LoadDir(dir)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if latest, _ := reg.Latest("gadget"); latest != "1.3.0" {
		t.Fatalf("latest = %s", latest)
	}
	rec, err := reg.Lookup(registry.ToolIdentity{Name: "gadget", Version: "1.3.0", Platform: "linux_amd64"})
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !rec.Digest.Matches(sha(linux130)) {
		t.Fatalf("digest = %s", rec.Digest)
	}
	if _, err := reg.Lookup(registry.ToolIdentity{Name: "gadget", Version: "1.3.0", Platform: "darwin_arm64"}); !errors.Is(err, toolerr.KindUnsupportedPlatform) {
		t.Fatalf("darwin must be absent, got %v", err)
	}
}

func TestUpdateDryRunLeavesFile(t *testing.T) {
	u := newUpstream(t)
	dir := writeRegistry(t, u)
	u.release("latest", Release{
		TagName: "gadget-2.0.0",
		Assets: []Asset{
			u.file("gadget-2.0.0-linux.bin", []byte("linux 2")),
			u.file("gadget-2.0.0-darwin.bin", []byte("darwin 2")),
		},
	})
	before, _ := os.ReadFile(filepath.Join(dir, "gadget.jsonc"))

	up := &Updater{Releases: &ReleaseClient{BaseURL: u.URL}, Sum: newSummer(t)}
	res, err := up.Update(context.Background(), dir, "gadget", UpdateOptions{DryRun: true})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if res.Updated || res.Change != ChangeMajor || len(res.Platforms) != 2 {
		t.Fatalf("result = %+v", res)
	}
	after, _ := os.ReadFile(filepath.Join(dir, "gadget.jsonc"))
	if string(before) != string(after) {
		t.Fatal("dry run rewrote the tool file")
	}
}

func TestUpdateSkipsRecordedVersion(t *testing.T) {
	u := newUpstream(t)
	dir := writeRegistry(t, u)
	u.release("latest", Release{TagName: "gadget-1.2.0"})

	up := &Updater{Releases: &ReleaseClient{BaseURL: u.URL}, Sum: newSummer(t)}
	res, err := up.Update(context.Background(), dir, "gadget", UpdateOptions{})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if res.Updated || res.Change != ChangeNone {
		t.Fatalf("result = %+v", res)
	}
	if n := u.downloads.Load(); n != 0 {
		t.Fatalf("no downloads expected, got %d", n)
	}
}

func TestUpdatePinnedVersionFallsBackToBareTag(t *testing.T) {
	u := newUpstream(t)
	dir := writeRegistry(t, u)
	u.release("tags/1.2.1", Release{
		TagName: "1.2.1",
		Assets:  []Asset{u.file("gadget-1.2.1-darwin.bin", []byte("darwin 1.2.1"))},
	})

	up := &Updater{Releases: &ReleaseClient{BaseURL: u.URL}, Sum: newSummer(t)}
	res, err := up.Update(context.Background(), dir, "gadget", UpdateOptions{Version: "1.2.1"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !res.Updated || res.Change != ChangePatch || res.Tag != "1.2.1" {
		t.Fatalf("result = %+v", res)
	}
}

func TestUpdateFailsWhenNothingHashed(t *testing.T) {
	u := newUpstream(t)
	dir := writeRegistry(t, u)
	u.release("latest", Release{
		TagName: "gadget-1.3.0",
		Assets: []Asset{
			{Name: "gadget-1.3.0-linux.bin", BrowserDownloadURL: u.URL + "/download/missing"},
		},
	})
	before, _ := os.ReadFile(filepath.Join(dir, "gadget.jsonc"))

	up := &Updater{Releases: &ReleaseClient{BaseURL: u.URL}, Sum: newSummer(t)}
	_, err := up.Update(context.Background(), dir, "gadget", UpdateOptions{})
	if !errors.Is(err, toolerr.KindDownloadFailed) {
		t.Fatalf("expected download_failed, got %v", err)
	}
	after, _ := os.ReadFile(filepath.Join(dir, "gadget.jsonc"))
	if string(before) != string(after) {
		t.Fatal("failed update rewrote the tool file")
	}
}

func TestUpdateMissingRelease(t *testing.T) {
	u := newUpstream(t)
	dir := writeRegistry(t, u)
	up := &Updater{Releases: &ReleaseClient{BaseURL: u.URL}, Sum: newSummer(t)}
	if _, err := up.Update(context.Background(), dir, "gadget", UpdateOptions{Version: "9.9.9"}); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		previous, next string
		want           Change
	}{
		{"", "1.0.0", ChangeInitial},
		{"1.2.0", "2.0.0", ChangeMajor},
		{"1.2.0", "1.3.0", ChangeMinor},
		{"1.2.0", "1.2.1", ChangePatch},
		{"1.2.0", "1.2.0", ChangeNone},
		{"1.2.0", "1.1.0", ChangeBackport},
		{"27", "28", ChangeMajor},
		{"nightly", "1.0.0", ChangeUnknown},
	}
	for _, tc := range cases {
		if got := classify(tc.previous, tc.next); got != tc.want {
			t.Errorf("classify(%q, %q) = %s, want %s", tc.previous, tc.next, got, tc.want)
		}
	}
}
