// Package lockfile records the exact tool artifacts a build resolved so a
// later run, or another machine, can be audited against them. Locks are
// written as RFC 8785 canonical JSON; the sha256 of those bytes is the lock's
// fingerprint.
package lockfile

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/gowebpki/jcs"
)

// SchemaVersion is written into every lock.
const SchemaVersion = 1

// Entry pins one tool on one platform.
type Entry struct {
	Tool     string `json:"tool"`
	Version  string `json:"version"`
	Platform string `json:"platform"`
	Digest   string `json:"digest"`
	Source   string `json:"source,omitempty"`
}

// Key identifies the entry within a lock.
func (e Entry) Key() string {
	return e.Tool + "@" + e.Version + "/" + e.Platform
}

func (e Entry) slot() string { return e.Tool + "/" + e.Platform }

// Lock is the full set of pinned artifacts.
type Lock struct {
	Version int     `json:"version"`
	Bundle  string  `json:"bundle,omitempty"`
	Entries []Entry `json:"entries"`
}

// New builds a lock with sorted entries.
func New(bundle string, entries []Entry) Lock {
	l := Lock{Version: SchemaVersion, Bundle: bundle, Entries: append([]Entry(nil), entries...)}
	l.sort()
	return l
}

func (l *Lock) sort() {
	sort.Slice(l.Entries, func(i, j int) bool {
		a, b := l.Entries[i], l.Entries[j]
		if a.Tool != b.Tool {
			return a.Tool < b.Tool
		}
		if a.Platform != b.Platform {
			return a.Platform < b.Platform
		}
		return a.Version < b.Version
	})
}

// Canonical returns the lock's canonical JSON bytes.
func (l Lock) Canonical() ([]byte, error) {
	l.Entries = append([]Entry(nil), l.Entries...)
	l.sort()
	if l.Entries == nil {
		l.Entries = []Entry{}
	}
	raw, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("marshal lock: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize lock: %w", err)
	}
	return canonical, nil
}

// Digest returns the sha256 fingerprint of the canonical form.
func (l Lock) Digest() (string, error) {
	canonical, err := l.Canonical()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// Write stores the lock at path atomically.
func Write(path string, l Lock) error {
	data, err := l.Canonical()
	if err != nil {
		return err
	}
	data = append(data, '\n')

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ensure lock dir: %w", err)
		}
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".lock-*.json")
	if err != nil {
		return fmt.Errorf("create temp lock: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write lock: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close lock: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace lock: %w", err)
	}
	return nil
}

// Read loads a lock written by Write or by hand.
func Read(path string) (Lock, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Lock{}, fmt.Errorf("read lock: %w", err)
	}
	var l Lock
	if err := json.Unmarshal(data, &l); err != nil {
		return Lock{}, fmt.Errorf("parse lock %s: %w", path, err)
	}
	if l.Version != SchemaVersion {
		return Lock{}, fmt.Errorf("lock %s: unsupported version %d", path, l.Version)
	}
	seen := make(map[string]bool, len(l.Entries))
	for _, e := range l.Entries {
		if e.Tool == "" || e.Version == "" || e.Platform == "" || e.Digest == "" {
			return Lock{}, fmt.Errorf("lock %s: incomplete entry %+v", path, e)
		}
		if seen[e.slot()] {
			return Lock{}, fmt.Errorf("lock %s: %s pinned twice", path, e.slot())
		}
		seen[e.slot()] = true
	}
	l.sort()
	return l, nil
}

// ChangeKind classifies a difference between two locks.
type ChangeKind string

const (
	Added   ChangeKind = "added"
	Removed ChangeKind = "removed"
	Changed ChangeKind = "changed"
)

// Change is one tool/platform slot that differs.
type Change struct {
	Kind     ChangeKind `json:"kind"`
	Tool     string     `json:"tool"`
	Platform string     `json:"platform"`
	Old      *Entry     `json:"old,omitempty"`
	New      *Entry     `json:"new,omitempty"`
}

func (c Change) String() string {
	switch c.Kind {
	case Added:
		return fmt.Sprintf("+ %s", c.New.Key())
	case Removed:
		return fmt.Sprintf("- %s", c.Old.Key())
	}
	if c.Old.Version != c.New.Version {
		return fmt.Sprintf("~ %s/%s %s -> %s", c.Tool, c.Platform, c.Old.Version, c.New.Version)
	}
	return fmt.Sprintf("~ %s digest %s -> %s", c.New.Key(), c.Old.Digest, c.New.Digest)
}

// Diff lists the slots whose pin differs between old and next, sorted by
// tool then platform. Source changes alone are not reported.
func Diff(old, next Lock) []Change {
	before := make(map[string]Entry, len(old.Entries))
	for _, e := range old.Entries {
		before[e.slot()] = e
	}
	after := make(map[string]Entry, len(next.Entries))
	for _, e := range next.Entries {
		after[e.slot()] = e
	}

	var changes []Change
	for slot, o := range before {
		n, ok := after[slot]
		switch {
		case !ok:
			changes = append(changes, Change{Kind: Removed, Tool: o.Tool, Platform: o.Platform, Old: &o})
		case n.Version != o.Version || n.Digest != o.Digest:
			changes = append(changes, Change{Kind: Changed, Tool: o.Tool, Platform: o.Platform, Old: &o, New: &n})
		}
	}
	for slot, n := range after {
		if _, ok := before[slot]; ok {
			continue
		}
		changes = append(changes, Change{Kind: Added, Tool: n.Tool, Platform: n.Platform, New: &n})
	}
	sort.Slice(changes, func(i, j int) bool {
		if changes[i].Tool != changes[j].Tool {
			return changes[i].Tool < changes[j].Tool
		}
		return changes[i].Platform < changes[j].Platform
	})
	return changes
}
