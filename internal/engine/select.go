package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"wasmtoolchain/internal/bundle"
	"wasmtoolchain/internal/registry"
	"wasmtoolchain/internal/selector"
	"wasmtoolchain/internal/toolerr"
	"wasmtoolchain/internal/wasmcheck"
)

// ComponentRequest asks for one implementation of a component. When
// Implementations is empty the catalog entry for ComponentName is used.
type ComponentRequest struct {
	ComponentName   string                    `json:"component_name"`
	Implementations []selector.Implementation `json:"implementations,omitempty"`
	Strategy        string                    `json:"strategy,omitempty"`
	ExplicitChoice  string                    `json:"explicit_choice,omitempty"`
	BundleName      string                    `json:"bundle_name,omitempty"`
}

// ComponentResponse is the chosen implementation.
type ComponentResponse struct {
	ComponentName   string                `json:"component_name"`
	SelectedName    string                `json:"selected_name"`
	StrategyApplied selector.StrategyKind `json:"strategy_applied"`
	ExecutablePath  string                `json:"executable_path"`
	Available       []string              `json:"available"`
	FallbackFrom    string                `json:"fallback_from,omitempty"`
	Skipped         []selector.Skip       `json:"skipped,omitempty"`
}

// SelectComponent picks and materializes an implementation. The strategy is
// the request's, else explicit when a choice is named, else the component's
// default, else the configured one.
func (s *Session) SelectComponent(ctx context.Context, req ComponentRequest) (ComponentResponse, error) {
	impls := req.Implementations
	var defaultStrategy string
	if len(impls) == 0 {
		comp, err := s.catalog.Component(req.ComponentName)
		if err != nil {
			return ComponentResponse{}, err
		}
		impls = comp.Implementations
		defaultStrategy = comp.DefaultStrategy
	}

	raw := req.Strategy
	switch {
	case raw != "":
	case req.ExplicitChoice != "":
		raw = string(selector.StrategyExplicit)
	case defaultStrategy != "":
		raw = defaultStrategy
	default:
		raw = s.cfg.Strategy
	}
	kind, err := selector.ParseStrategy(raw)
	if err != nil {
		return ComponentResponse{}, err
	}

	m := selector.MaterializerFunc(func(ctx context.Context, impl selector.Implementation) (string, error) {
		return s.materialize(ctx, impl, req.BundleName)
	})
	choice, err := selector.Select(ctx, impls, selector.Strategy{Kind: kind, Choice: req.ExplicitChoice}, m)
	if err != nil {
		return ComponentResponse{}, err
	}

	if choice.FallbackFrom != "" {
		s.logger.Warn("preferred implementation unavailable",
			zap.String("component", req.ComponentName),
			zap.String("preferred", choice.FallbackFrom),
			zap.String("selected", choice.Selected.Name))
	}
	s.logger.Info("selected implementation",
		zap.String("component", req.ComponentName),
		zap.String("implementation", choice.Selected.Name),
		zap.String("strategy", string(choice.Strategy)),
		zap.String("path", choice.ExecutablePath))

	return ComponentResponse{
		ComponentName:   req.ComponentName,
		SelectedName:    choice.Selected.Name,
		StrategyApplied: choice.Strategy,
		ExecutablePath:  choice.ExecutablePath,
		Available:       choice.Available,
		FallbackFrom:    choice.FallbackFrom,
		Skipped:         choice.Skipped,
	}, nil
}

// materialize turns an implementation into a checked wasm file, fetching it
// through the registry when it names a tool.
func (s *Session) materialize(ctx context.Context, impl selector.Implementation, bundleName string) (string, error) {
	var path string
	switch {
	case impl.Tool != "":
		version := impl.Version
		if version == "" {
			res, err := s.bundles.Resolve(bundle.Query{Tool: impl.Tool, Bundle: orDefault(bundleName, s.DefaultBundle())})
			if err != nil {
				return "", err
			}
			version = res.Version
		}
		art, err := s.fetcher.Fetch(ctx, registry.ToolIdentity{Name: impl.Tool, Version: version, Platform: s.host})
		if err != nil {
			return "", err
		}
		path = art.BinaryPath
	case impl.Path != "":
		abs, err := filepath.Abs(impl.Path)
		if err != nil {
			return "", fmt.Errorf("resolve %s: %w", impl.Path, err)
		}
		info, err := os.Stat(abs)
		if err != nil || !info.Mode().IsRegular() {
			return "", toolerr.New(toolerr.KindBinaryNotFound).
				Detail("implementation %s", impl.Name).
				Paths(abs).
				Build()
		}
		path = abs
	default:
		return "", toolerr.New(toolerr.KindInvalidInput).
			Detail("implementation %s names neither a tool nor a path", impl.Name).
			Build()
	}

	res, err := wasmcheck.Inspect(ctx, path)
	if err != nil {
		return "", err
	}
	s.logger.Debug("implementation materialized",
		zap.String("implementation", impl.Name),
		zap.String("kind", string(res.Kind)),
		zap.Int64("size", res.Size))
	return path, nil
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}
