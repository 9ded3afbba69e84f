// Package source decides where an artifact's bytes come from: an offline
// vendor snapshot, a shared vendor directory, a mirror or the public origin.
package source

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"wasmtoolchain/internal/registry"
	"wasmtoolchain/internal/toolerr"
)

// Kind distinguishes local files from URLs.
type Kind string

const (
	Local  Kind = "local"
	Remote Kind = "remote"
)

// Origin names the rule that produced a ResolvedSource.
type Origin string

const (
	OriginVendor Origin = "vendor"
	OriginShared Origin = "shared"
	OriginMirror Origin = "mirror"
	OriginPublic Origin = "origin"
)

// ResolvedSource is a concrete location for an artifact.
type ResolvedSource struct {
	Kind   Kind   `json:"kind"`
	Path   string `json:"path,omitempty"`
	URL    string `json:"url,omitempty"`
	Origin Origin `json:"origin"`
}

// Location returns the path or URL, whichever applies.
func (s ResolvedSource) Location() string {
	if s.Kind == Local {
		return s.Path
	}
	return s.URL
}

// Config is the source-related slice of the session configuration.
type Config struct {
	Offline    bool
	VendorRoot string
	SharedDir  string
	MirrorURL  string
}

// VendorPath is the layout every vendor tree uses:
// {root}/{tool}/{version}/{platform}/{filename}.
func VendorPath(root string, id registry.ToolIdentity, filename string) string {
	return filepath.Join(root, id.Name, id.Version, string(id.Platform), filename)
}

// MirrorURL joins the mirror base with the vendor layout.
func MirrorURL(base string, id registry.ToolIdentity, filename string) string {
	base = strings.TrimRight(base, "/")
	return base + "/" + strings.Join([]string{
		url.PathEscape(id.Name),
		url.PathEscape(id.Version),
		url.PathEscape(string(id.Platform)),
		url.PathEscape(filename),
	}, "/")
}

// Plan is the pure resolution algorithm. exists reports whether a local path
// is present. Notices are non-fatal conditions the caller should surface.
func Plan(cfg Config, id registry.ToolIdentity, filename, defaultURL string, exists func(string) bool) (ResolvedSource, []string, error) {
	var notices []string

	if cfg.Offline {
		var tried []string
		if cfg.VendorRoot != "" {
			p := VendorPath(cfg.VendorRoot, id, filename)
			if exists(p) {
				return ResolvedSource{Kind: Local, Path: p, Origin: OriginVendor}, nil, nil
			}
			tried = append(tried, p)
		}
		if cfg.SharedDir != "" {
			p := VendorPath(cfg.SharedDir, id, filename)
			if exists(p) {
				return ResolvedSource{Kind: Local, Path: p, Origin: OriginShared}, nil, nil
			}
			tried = append(tried, p)
		}
		b := toolerr.New(toolerr.KindOfflineArtifactMissing).
			Tool(id.Name, id.Version, string(id.Platform)).
			Paths(tried...)
		if len(tried) == 0 {
			b.Detail("offline mode is set but no vendor root is configured")
		} else {
			b.Detail("offline mode forbids network access; vendor the artifact first")
		}
		return ResolvedSource{}, nil, b.Build()
	}

	if cfg.SharedDir != "" {
		p := VendorPath(cfg.SharedDir, id, filename)
		if exists(p) {
			return ResolvedSource{Kind: Local, Path: p, Origin: OriginShared}, nil, nil
		}
		notices = append(notices, "shared vendor directory has no "+p)
	}

	if cfg.MirrorURL != "" {
		return ResolvedSource{Kind: Remote, URL: MirrorURL(cfg.MirrorURL, id, filename), Origin: OriginMirror}, notices, nil
	}

	if defaultURL == "" {
		return ResolvedSource{}, notices, toolerr.New(toolerr.KindInvalidInput).
			Tool(id.Name, id.Version, string(id.Platform)).
			Detail("registry record has no download URL").
			Build()
	}
	return ResolvedSource{Kind: Remote, URL: defaultURL, Origin: OriginPublic}, notices, nil
}

// Resolver applies Plan against the real filesystem.
type Resolver struct {
	cfg    Config
	logger *zap.Logger
	exists func(string) bool
}

// NewResolver captures cfg; later environment changes are not observed.
func NewResolver(cfg Config, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{cfg: cfg, logger: logger, exists: fileExists}
}

// Config returns the captured configuration.
func (r *Resolver) Config() Config { return r.cfg }

// Resolve picks a source for id.
func (r *Resolver) Resolve(id registry.ToolIdentity, filename, defaultURL string) (ResolvedSource, error) {
	src, notices, err := Plan(r.cfg, id, filename, defaultURL, r.exists)
	for _, n := range notices {
		r.logger.Warn(n, zap.String("tool", id.Key()))
	}
	if err != nil {
		return ResolvedSource{}, err
	}
	r.logger.Debug("source resolved",
		zap.String("tool", id.Key()),
		zap.String("origin", string(src.Origin)),
		zap.String("location", src.Location()))
	return src, nil
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}
