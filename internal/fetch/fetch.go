// Package fetch materializes verified tool binaries into the local cache.
//
// A fetch looks the identity up in the checksum registry, returns an existing
// install when its marker matches the registry digest, and otherwise resolves
// a source, downloads and verifies the bytes, extracts them into a staging
// directory, locates the binary and renames the result into place.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"wasmtoolchain/internal/registry"
	"wasmtoolchain/internal/source"
	"wasmtoolchain/internal/toolerr"
)

const markerFileName = ".artifact.json"

// Lookuper resolves identities to registry records.
type Lookuper interface {
	Lookup(id registry.ToolIdentity) (registry.ToolRecord, error)
}

// SourceResolver picks where an artifact is read from.
type SourceResolver interface {
	Resolve(id registry.ToolIdentity, filename, defaultURL string) (source.ResolvedSource, error)
}

// Artifact is a materialized, verified binary. The caller owns its lifetime
// on disk.
type Artifact struct {
	BinaryPath string                `json:"binary_path"`
	InstallDir string                `json:"install_dir"`
	Record     registry.ToolRecord   `json:"record"`
	Source     source.ResolvedSource `json:"source"`
	Cached     bool                  `json:"cached"`
}

// Options configures a Fetcher.
type Options struct {
	CacheDir        string
	LinkVendor      bool
	Attempts        int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// Timeout bounds a single download attempt. Zero means no limit.
	Timeout    time.Duration
	HTTPClient *http.Client
	Runner     Runner
	Logger     *zap.Logger
	Progress   func(Event)
	UserAgent  string
}

// Fetcher downloads, verifies and installs artifacts. It is safe for
// concurrent use.
type Fetcher struct {
	registry Lookuper
	sources  SourceResolver
	opts     Options
	logger   *zap.Logger
	group    singleflight.Group
	manifest *manifestStore
}

// New returns a Fetcher rooted at opts.CacheDir.
func New(reg Lookuper, sources SourceResolver, opts Options) (*Fetcher, error) {
	if opts.CacheDir == "" {
		return nil, errors.New("fetch: cache dir is required")
	}
	abs, err := filepath.Abs(opts.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("resolve cache dir: %w", err)
	}
	opts.CacheDir = abs
	if opts.Attempts <= 0 {
		opts.Attempts = 4
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 500 * time.Millisecond
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = 10 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Runner == nil {
		opts.Runner = CmdRunner{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "wasmtoolchain/1.0"
	}
	return &Fetcher{
		registry: reg,
		sources:  sources,
		opts:     opts,
		logger:   opts.Logger,
		manifest: newManifestStore(filepath.Join(abs, manifestFileName)),
	}, nil
}

// CacheDir returns the absolute cache root.
func (f *Fetcher) CacheDir() string { return f.opts.CacheDir }

// InstallDir is where an identity's artifact lives once installed.
func (f *Fetcher) InstallDir(id registry.ToolIdentity) string {
	return filepath.Join(f.opts.CacheDir, "tools", id.Name, id.Version, string(id.Platform))
}

func (f *Fetcher) stagingDir() string { return filepath.Join(f.opts.CacheDir, "staging") }
func (f *Fetcher) locksDir() string   { return filepath.Join(f.opts.CacheDir, "locks") }

// Fetch returns a verified binary for id, installing it if needed.
func (f *Fetcher) Fetch(ctx context.Context, id registry.ToolIdentity) (Artifact, error) {
	rec, err := f.registry.Lookup(id)
	if err != nil {
		f.emit(Event{Identity: id, Stage: StageFailed, Err: err})
		return Artifact{}, err
	}

	if art, ok := f.installed(rec); ok {
		f.emit(Event{Identity: rec.Identity, Stage: StageCached})
		return art, nil
	}

	// The shared install outlives any single caller; each caller stops
	// waiting on its own context.
	storage := rec.StorageIdentity()
	ch := f.group.DoChan(storage.Key(), func() (any, error) {
		return f.install(context.WithoutCancel(ctx), rec)
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		err := fmt.Errorf("fetch %s: %w", rec.Identity.Key(), ctx.Err())
		f.emit(Event{Identity: rec.Identity, Stage: StageFailed, Err: err})
		return Artifact{}, err
	case res = <-ch:
	}
	if res.Err != nil {
		f.emit(Event{Identity: rec.Identity, Stage: StageFailed, Err: res.Err})
		return Artifact{}, res.Err
	}
	art := res.Val.(Artifact)
	art.Record = rec
	if res.Shared {
		f.logger.Debug("joined in-flight fetch", zap.String("tool", storage.Key()))
	}
	return art, nil
}

func (f *Fetcher) install(ctx context.Context, rec registry.ToolRecord) (Artifact, error) {
	storage := rec.StorageIdentity()

	unlock, err := acquireLock(ctx, f.locksDir(), storage.Key())
	if err != nil {
		return Artifact{}, err
	}
	defer unlock()

	// Another process may have finished while we waited.
	if art, ok := f.installed(rec); ok {
		f.emit(Event{Identity: rec.Identity, Stage: StageCached})
		return art, nil
	}

	f.emit(Event{Identity: rec.Identity, Stage: StageResolving})
	src, err := f.sources.Resolve(storage, rec.Filename, rec.URL)
	if err != nil {
		return Artifact{}, err
	}

	if err := os.MkdirAll(f.stagingDir(), 0o755); err != nil {
		return Artifact{}, fmt.Errorf("prepare staging dir: %w", err)
	}
	stage, err := os.MkdirTemp(f.stagingDir(), storage.Name+"-")
	if err != nil {
		return Artifact{}, fmt.Errorf("create staging dir: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.RemoveAll(stage)
		}
	}()

	payload := filepath.Join(stage, "payload")
	if err := os.Mkdir(payload, 0o755); err != nil {
		return Artifact{}, fmt.Errorf("create payload dir: %w", err)
	}

	switch src.Kind {
	case source.Local:
		if err := f.placeLocal(ctx, rec, src.Path, payload); err != nil {
			return Artifact{}, err
		}
	case source.Remote:
		archive, err := f.download(ctx, rec, src, stage)
		if err != nil {
			return Artifact{}, err
		}
		if err := f.unpack(ctx, rec, archive, payload); err != nil {
			return Artifact{}, err
		}
		_ = os.Remove(archive)
	default:
		return Artifact{}, fmt.Errorf("unknown source kind %q", src.Kind)
	}

	rel, err := locateBinary(rec, payload)
	if err != nil {
		return Artifact{}, err
	}
	if runtime.GOOS != "windows" && rec.Archive != registry.ArchiveRaw {
		if err := os.Chmod(filepath.Join(payload, filepath.FromSlash(rel)), 0o755); err != nil {
			return Artifact{}, fmt.Errorf("chmod %s: %w", rel, err)
		}
	}

	m := marker{
		Identity:    storage,
		Digest:      rec.Digest.String(),
		Binary:      rel,
		Source:      src,
		InstalledAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := writeMarker(payload, m); err != nil {
		return Artifact{}, err
	}

	dest := f.InstallDir(storage)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return Artifact{}, fmt.Errorf("prepare install dir: %w", err)
	}
	if err := os.RemoveAll(dest); err != nil {
		return Artifact{}, fmt.Errorf("replace install dir: %w", err)
	}
	if err := os.Rename(payload, dest); err != nil {
		return Artifact{}, fmt.Errorf("commit install dir: %w", err)
	}
	committed = true
	_ = os.RemoveAll(stage)

	art := Artifact{
		BinaryPath: filepath.Join(dest, filepath.FromSlash(rel)),
		InstallDir: dest,
		Record:     rec,
		Source:     src,
	}
	if err := f.manifest.record(ctx, f.locksDir(), newManifestEntry(art, m.InstalledAt)); err != nil {
		f.logger.Warn("update manifest", zap.String("tool", storage.Key()), zap.Error(err))
	}

	f.logger.Info("installed tool",
		zap.String("tool", storage.Key()),
		zap.String("origin", string(src.Origin)),
		zap.String("path", art.BinaryPath))
	f.emit(Event{Identity: rec.Identity, Stage: StageInstalled, Origin: src.Origin})
	return art, nil
}

// placeLocal materializes a trusted vendor copy into payload.
func (f *Fetcher) placeLocal(ctx context.Context, rec registry.ToolRecord, path, payload string) error {
	if rec.Archive != registry.ArchiveRaw {
		return f.unpack(ctx, rec, path, payload)
	}
	dest := filepath.Join(payload, rec.Binary)
	if f.opts.LinkVendor {
		abs, err := filepath.Abs(path)
		if err != nil {
			return fmt.Errorf("resolve vendor path: %w", err)
		}
		if err := os.Symlink(abs, dest); err == nil {
			return nil
		}
		f.logger.Debug("symlink failed, copying instead", zap.String("path", abs))
	}
	if err := copyFile(path, dest); err != nil {
		return fmt.Errorf("copy vendor artifact: %w", err)
	}
	return chmodExec(dest)
}

func (f *Fetcher) unpack(ctx context.Context, rec registry.ToolRecord, archive, payload string) error {
	f.emit(Event{Identity: rec.Identity, Stage: StageExtracting})
	if rec.Archive == registry.ArchiveRaw {
		dest := filepath.Join(payload, rec.Binary)
		if err := os.Rename(archive, dest); err != nil {
			if err := copyFile(archive, dest); err != nil {
				return fmt.Errorf("place binary: %w", err)
			}
		}
		return chmodExec(dest)
	}
	if err := extractArchive(ctx, f.opts.Runner, rec.Archive, archive, payload); err != nil {
		return fmt.Errorf("extract %s: %w", rec.Filename, err)
	}
	return nil
}

// locateBinary applies the record layout to an extracted payload.
func locateBinary(rec registry.ToolRecord, payload string) (string, error) {
	found, tried, ok := rec.Layout.Find(func(rel string) bool {
		info, err := os.Stat(filepath.Join(payload, filepath.FromSlash(rel)))
		return err == nil && info.Mode().IsRegular()
	})
	if !ok {
		return "", toolerr.New(toolerr.KindBinaryNotFound).
			Tool(rec.Identity.Name, rec.Identity.Version, string(rec.Identity.Platform)).
			Paths(tried...).
			Detail("archive %s has none of the expected binary paths", rec.Filename).
			Build()
	}
	return found, nil
}

// installed returns the existing artifact when its marker records the same
// digest the registry expects and the binary is still present.
func (f *Fetcher) installed(rec registry.ToolRecord) (Artifact, bool) {
	dir := f.InstallDir(rec.StorageIdentity())
	m, err := readMarker(dir)
	if err != nil {
		return Artifact{}, false
	}
	if m.Digest != rec.Digest.String() || m.Binary == "" {
		return Artifact{}, false
	}
	bin := filepath.Join(dir, filepath.FromSlash(m.Binary))
	if info, err := os.Stat(bin); err != nil || !info.Mode().IsRegular() {
		return Artifact{}, false
	}
	return Artifact{
		BinaryPath: bin,
		InstallDir: dir,
		Record:     rec,
		Source:     m.Source,
		Cached:     true,
	}, true
}

type marker struct {
	Identity    registry.ToolIdentity `json:"identity"`
	Digest      string                `json:"digest"`
	Binary      string                `json:"binary"`
	Source      source.ResolvedSource `json:"source"`
	InstalledAt string                `json:"installed_at"`
}

func readMarker(dir string) (marker, error) {
	data, err := os.ReadFile(filepath.Join(dir, markerFileName))
	if err != nil {
		return marker{}, err
	}
	var m marker
	if err := json.Unmarshal(data, &m); err != nil {
		return marker{}, fmt.Errorf("decode marker: %w", err)
	}
	if strings.Contains(m.Binary, "..") {
		return marker{}, fmt.Errorf("marker binary path %q escapes install dir", m.Binary)
	}
	return m, nil
}

func writeMarker(dir string, m marker) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal marker: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, markerFileName), data, 0o644); err != nil {
		return fmt.Errorf("write marker: %w", err)
	}
	return nil
}

func (f *Fetcher) emit(ev Event) {
	if f.opts.Progress != nil {
		f.opts.Progress(ev)
	}
}
