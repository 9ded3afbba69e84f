package engine

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"wasmtoolchain/internal/bundle"
	"wasmtoolchain/internal/lockfile"
	"wasmtoolchain/internal/registry"
	"wasmtoolchain/internal/toolerr"
)

// Lock pins every tool of a bundle on each platform without downloading
// anything. Tools the registry does not publish for a platform are skipped
// with a warning; any other lookup failure aborts.
func (s *Session) Lock(bundleName string, platforms ...string) (lockfile.Lock, error) {
	if bundleName == "" {
		bundleName = s.DefaultBundle()
	}
	b, err := s.bundles.Get(bundleName)
	if err != nil {
		return lockfile.Lock{}, err
	}
	if len(platforms) == 0 {
		platforms = []string{string(s.host)}
	}

	normalized := make([]registry.Platform, 0, len(platforms))
	for _, raw := range platforms {
		p, err := registry.NormalizePlatform(raw)
		if err != nil {
			return lockfile.Lock{}, toolerr.New(toolerr.KindUnsupportedPlatform).Detail("%v", err).Build()
		}
		normalized = append(normalized, p)
	}

	var (
		entries []lockfile.Entry
		errs    []error
	)
	for _, tool := range b.ToolNames() {
		res, err := s.bundles.Resolve(bundle.Query{Tool: tool, Bundle: b.Name})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, p := range normalized {
			rec, err := s.registry.Lookup(registry.ToolIdentity{Name: tool, Version: res.Version, Platform: p})
			if errors.Is(err, toolerr.KindUnsupportedPlatform) {
				s.logger.Warn("tool not published for platform",
					zap.String("tool", tool),
					zap.String("version", res.Version),
					zap.String("platform", string(p)))
				continue
			}
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", tool, err))
				continue
			}
			entries = append(entries, lockfile.Entry{
				Tool:     tool,
				Version:  res.Version,
				Platform: string(p),
				Digest:   rec.Digest.String(),
				Source:   rec.URL,
			})
		}
	}
	if len(errs) > 0 {
		return lockfile.Lock{}, errors.Join(errs...)
	}
	return lockfile.New(b.Name, entries), nil
}
