// Package bundle maps curated bundle names to per-tool versions and applies
// the version precedence used by every resolution: pin, bundle, fallback.
package bundle

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"wasmtoolchain/internal/toolerr"
)

//go:embed data/bundles.yaml
var embeddedBundles []byte

// Status marks how much a bundle should be trusted.
type Status string

const (
	StatusStable     Status = "stable"
	StatusBeta       Status = "beta"
	StatusDeprecated Status = "deprecated"
)

// Bundle is a named, curated set of tool versions.
type Bundle struct {
	Name        string            `yaml:"-" json:"name"`
	Status      Status            `yaml:"status" json:"status"`
	Description string            `yaml:"description,omitempty" json:"description,omitempty"`
	Tools       map[string]string `yaml:"tools" json:"tools"`
	Notes       []string          `yaml:"notes,omitempty" json:"notes,omitempty"`
}

// ToolNames returns the bundle's tool names, sorted.
func (b Bundle) ToolNames() []string {
	names := make([]string, 0, len(b.Tools))
	for name := range b.Tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type bundleFile struct {
	Default string            `yaml:"default"`
	Bundles map[string]Bundle `yaml:"bundles"`
}

// Set is the loaded, read-only collection of bundles.
type Set struct {
	bundles     map[string]Bundle
	defaultName string
	logger      *zap.Logger
}

// Option configures a Set.
type Option func(*Set)

// WithLogger routes resolution audit logs to l.
func WithLogger(l *zap.Logger) Option {
	return func(s *Set) {
		if l != nil {
			s.logger = l
		}
	}
}

// Default returns the bundles compiled into the binary.
func Default(opts ...Option) (*Set, error) {
	return Parse(embeddedBundles, opts...)
}

// Load reads a bundles file from disk.
func Load(path string, opts ...Option) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bundles: %w", err)
	}
	return Parse(data, opts...)
}

// Parse decodes and validates a bundles document.
func Parse(data []byte, opts ...Option) (*Set, error) {
	var doc bundleFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal bundles: %w", err)
	}
	if len(doc.Bundles) == 0 {
		return nil, errors.New("bundles file defines no bundles")
	}

	var errs []error
	bundles := make(map[string]Bundle, len(doc.Bundles))
	for name, b := range doc.Bundles {
		b.Name = name
		if b.Status == "" {
			b.Status = StatusStable
		}
		switch b.Status {
		case StatusStable, StatusBeta, StatusDeprecated:
		default:
			errs = append(errs, fmt.Errorf("bundle %s: unknown status %q", name, b.Status))
		}
		if len(b.Tools) == 0 {
			errs = append(errs, fmt.Errorf("bundle %s: no tools", name))
		}
		for tool, version := range b.Tools {
			if version == "" {
				errs = append(errs, fmt.Errorf("bundle %s: tool %s has no version", name, tool))
			}
		}
		bundles[name] = b
	}
	if doc.Default != "" {
		if _, ok := bundles[doc.Default]; !ok {
			errs = append(errs, fmt.Errorf("default bundle %s is not defined", doc.Default))
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	s := &Set{bundles: bundles, defaultName: doc.Default, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Names returns every bundle name, sorted.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.bundles))
	for name := range s.bundles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultName is the bundle the file marks as default, possibly empty.
func (s *Set) DefaultName() string {
	return s.defaultName
}

// Get returns the named bundle or an UnknownBundle error listing the known
// names.
func (s *Set) Get(name string) (Bundle, error) {
	b, ok := s.bundles[name]
	if !ok {
		return Bundle{}, toolerr.New(toolerr.KindUnknownBundle).
			Detail("bundle %q", name).
			Alternatives(s.Names()...).
			Build()
	}
	return b, nil
}

// Query is the input to version resolution.
type Query struct {
	Tool     string
	Bundle   string
	Explicit string
	Fallback string
}

// From records which precedence rule produced a version.
type From string

const (
	FromPin      From = "pin"
	FromBundle   From = "bundle"
	FromFallback From = "fallback"
)

// Resolution is a resolved version plus where it came from.
type Resolution struct {
	Tool    string `json:"tool"`
	Version string `json:"version"`
	From    From   `json:"from"`
	Bundle  string `json:"bundle,omitempty"`
}

// ResolveVersion returns the version to use for q.Tool.
func (s *Set) ResolveVersion(q Query) (string, error) {
	res, err := s.Resolve(q)
	if err != nil {
		return "", err
	}
	return res.Version, nil
}

// Resolve applies the precedence explicit pin, bundle entry, fallback. A
// named bundle that does not contain the tool falls through to the fallback;
// with no fallback the error lists the bundle's tools.
func (s *Set) Resolve(q Query) (Resolution, error) {
	if q.Tool == "" {
		return Resolution{}, toolerr.New(toolerr.KindInvalidInput).Detail("tool name is required").Build()
	}

	if q.Explicit != "" {
		res := Resolution{Tool: q.Tool, Version: q.Explicit, From: FromPin, Bundle: q.Bundle}
		s.audit(res)
		return res, nil
	}

	var (
		bundle    Bundle
		bundleErr error
	)
	if q.Bundle != "" {
		bundle, bundleErr = s.Get(q.Bundle)
		if bundleErr == nil {
			if bundle.Status == StatusDeprecated {
				s.logger.Warn("bundle is deprecated",
					zap.String("bundle", bundle.Name),
					zap.Strings("notes", bundle.Notes))
			}
			if version, ok := bundle.Tools[q.Tool]; ok {
				res := Resolution{Tool: q.Tool, Version: version, From: FromBundle, Bundle: bundle.Name}
				s.audit(res)
				return res, nil
			}
		}
	}

	if q.Fallback != "" {
		if bundleErr != nil {
			s.logger.Warn("unknown bundle, using fallback version",
				zap.String("bundle", q.Bundle),
				zap.String("tool", q.Tool),
				zap.String("version", q.Fallback))
		}
		res := Resolution{Tool: q.Tool, Version: q.Fallback, From: FromFallback}
		s.audit(res)
		return res, nil
	}

	if bundleErr != nil {
		return Resolution{}, bundleErr
	}

	b := toolerr.New(toolerr.KindVersionUnresolved).Tool(q.Tool, "", "")
	if q.Bundle != "" {
		b.Detail("tool %s is not in bundle %s", q.Tool, q.Bundle).Alternatives(bundle.ToolNames()...)
	} else {
		b.Detail("no version pinned, no bundle named and no fallback version")
	}
	return Resolution{}, b.Build()
}

func (s *Set) audit(res Resolution) {
	s.logger.Info("resolved tool version",
		zap.String("tool", res.Tool),
		zap.String("version", res.Version),
		zap.String("from", string(res.From)),
		zap.String("bundle", res.Bundle))
}

// VersionIndex is the subset of the checksum registry Check needs.
type VersionIndex interface {
	Has(tool, version string) bool
}

// Check reports bundle entries the registry cannot serve. Warnings are
// informational; resolution still honours the bundle.
func (s *Set) Check(index VersionIndex) []string {
	var warnings []string
	for _, name := range s.Names() {
		b := s.bundles[name]
		for _, tool := range b.ToolNames() {
			version := b.Tools[tool]
			if !index.Has(tool, version) {
				warnings = append(warnings, fmt.Sprintf("bundle %s: %s %s is not in the checksum registry", name, tool, version))
			}
		}
	}
	return warnings
}
