package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"wasmtoolchain/internal/source"
)

const manifestFileName = "manifest.json"

// ManifestEntry records one installed artifact.
type ManifestEntry struct {
	Tool        string        `json:"tool"`
	Version     string        `json:"version"`
	Platform    string        `json:"platform"`
	Digest      string        `json:"digest"`
	Origin      source.Origin `json:"origin"`
	Location    string        `json:"location"`
	BinaryPath  string        `json:"binary_path"`
	InstalledAt string        `json:"installed_at"`
}

// Key is the identity key the entry is stored under.
func (e ManifestEntry) Key() string {
	return e.Tool + "@" + e.Version + "/" + e.Platform
}

// Manifest is the persisted index of installed artifacts.
type Manifest struct {
	Entries map[string]ManifestEntry `json:"entries"`
}

// Sorted returns the entries ordered by key.
func (m Manifest) Sorted() []ManifestEntry {
	out := make([]ManifestEntry, 0, len(m.Entries))
	for _, e := range m.Entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

func newManifestEntry(art Artifact, installedAt string) ManifestEntry {
	id := art.Record.StorageIdentity()
	return ManifestEntry{
		Tool:        id.Name,
		Version:     id.Version,
		Platform:    string(id.Platform),
		Digest:      art.Record.Digest.String(),
		Origin:      art.Source.Origin,
		Location:    art.Source.Location(),
		BinaryPath:  art.BinaryPath,
		InstalledAt: installedAt,
	}
}

type manifestStore struct {
	mu   sync.Mutex
	path string
}

func newManifestStore(path string) *manifestStore {
	return &manifestStore{path: path}
}

func (s *manifestStore) load() (Manifest, error) {
	contents, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Manifest{Entries: map[string]ManifestEntry{}}, nil
		}
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}

	var manifest Manifest
	if err := json.Unmarshal(contents, &manifest); err != nil {
		return Manifest{}, fmt.Errorf("unmarshal manifest: %w", err)
	}
	if manifest.Entries == nil {
		manifest.Entries = map[string]ManifestEntry{}
	}
	return manifest, nil
}

// record adds entry under both the in-process mutex and the manifest lock
// file shared with other processes.
func (s *manifestStore) record(ctx context.Context, locksDir string, entry ManifestEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := acquireLock(ctx, locksDir, "manifest")
	if err != nil {
		return err
	}
	defer unlock()

	m, err := s.load()
	if err != nil {
		return err
	}
	m.Entries[entry.Key()] = entry
	return s.save(m)
}

func (s *manifestStore) save(m Manifest) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("prepare manifest directory: %w", err)
	}

	buf, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), "manifest-*.json")
	if err != nil {
		return fmt.Errorf("create temp manifest: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		return fmt.Errorf("write manifest temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close manifest temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace manifest: %w", err)
	}
	return nil
}

// Installed returns the manifest of artifacts this cache has installed.
func (f *Fetcher) Installed() (Manifest, error) {
	f.manifest.mu.Lock()
	defer f.manifest.mu.Unlock()
	return f.manifest.load()
}
