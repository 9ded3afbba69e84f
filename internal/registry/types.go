package registry

import (
	"path"
	"strings"
)

// ToolIdentity is the lookup key used everywhere in the engine.
type ToolIdentity struct {
	Name     string   `json:"name"`
	Version  string   `json:"version"`
	Platform Platform `json:"platform"`
}

// Key renders the identity as name@version/platform.
func (id ToolIdentity) Key() string {
	return id.Name + "@" + id.Version + "/" + string(id.Platform)
}

func (id ToolIdentity) String() string { return id.Key() }

// ArchiveKind describes how the downloaded bytes are packaged.
type ArchiveKind string

const (
	ArchiveRaw   ArchiveKind = "raw"
	ArchiveTarGz ArchiveKind = "tar.gz"
	ArchiveTarXz ArchiveKind = "tar.xz"
	ArchiveTarZs ArchiveKind = "tar.zst"
	ArchiveZip   ArchiveKind = "zip"
)

// ArchiveKindFor infers the archive kind from a file name.
func ArchiveKindFor(filename string) ArchiveKind {
	name := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return ArchiveTarGz
	case strings.HasSuffix(name, ".tar.xz"), strings.HasSuffix(name, ".txz"):
		return ArchiveTarXz
	case strings.HasSuffix(name, ".tar.zst"), strings.HasSuffix(name, ".tzst"):
		return ArchiveTarZs
	case strings.HasSuffix(name, ".zip"):
		return ArchiveZip
	default:
		return ArchiveRaw
	}
}

// Layout locates the runnable binary inside an extracted archive.
type Layout struct {
	// StripPrefix is the top-level directory most release archives wrap
	// their contents in. Empty when the archive is flat.
	StripPrefix string `json:"strip_prefix,omitempty"`
	// Candidates are relative paths tried in order, with and without the
	// strip prefix.
	Candidates []string `json:"candidates"`
}

// Paths returns every relative path the layout will try, in order.
func (l Layout) Paths() []string {
	out := make([]string, 0, len(l.Candidates)*2)
	seen := make(map[string]bool, len(l.Candidates)*2)
	add := func(p string) {
		p = path.Clean(p)
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	if l.StripPrefix != "" {
		for _, c := range l.Candidates {
			add(path.Join(l.StripPrefix, c))
		}
	}
	for _, c := range l.Candidates {
		add(c)
	}
	return out
}

// Find returns the first path for which exists reports true, along with
// every path tried. It performs no I/O itself.
func (l Layout) Find(exists func(rel string) bool) (string, []string, bool) {
	tried := l.Paths()
	for i, p := range tried {
		if exists(p) {
			return p, tried[:i+1], true
		}
	}
	return "", tried, false
}

// ToolRecord is the verified metadata for one ToolIdentity.
type ToolRecord struct {
	Identity ToolIdentity `json:"identity"`
	// RecordPlatform is the registry key the record came from; PlatformAny
	// for universal tools, otherwise equal to Identity.Platform.
	RecordPlatform Platform    `json:"record_platform"`
	Digest         Digest      `json:"digest"`
	Archive        ArchiveKind `json:"archive"`
	Filename       string      `json:"filename"`
	URL            string      `json:"url"`
	GitHubRepo     string      `json:"github_repo,omitempty"`
	ReleaseDate    string      `json:"release_date,omitempty"`
	Binary         string      `json:"binary"`
	Layout         Layout      `json:"layout"`
}

// StorageIdentity is the identity used for filesystem namespacing. Universal
// records share one slot regardless of the requested platform.
func (r ToolRecord) StorageIdentity() ToolIdentity {
	id := r.Identity
	if r.RecordPlatform != "" {
		id.Platform = r.RecordPlatform
	}
	return id
}
