// Package selector chooses between interchangeable implementations of a
// component by strategy. A strategy only orders the candidates: unless the
// caller names one explicitly, the first candidate whose executable
// materializes wins.
package selector

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"wasmtoolchain/internal/toolerr"
)

// StrategyKind names a selection policy.
type StrategyKind string

const (
	StrategyExplicit    StrategyKind = "explicit"
	StrategyAuto        StrategyKind = "auto"
	StrategyPerformance StrategyKind = "performance"
	StrategySecurity    StrategyKind = "security"
	StrategyMinimalSize StrategyKind = "minimal-size"
)

var strategyAliases = map[string]StrategyKind{
	"explicit":         StrategyExplicit,
	"auto":             StrategyAuto,
	"":                 StrategyAuto,
	"performance":      StrategyPerformance,
	"fast":             StrategyPerformance,
	"security":         StrategySecurity,
	"security-focused": StrategySecurity,
	"secure":           StrategySecurity,
	"minimal-size":     StrategyMinimalSize,
	"minimal":          StrategyMinimalSize,
	"size":             StrategyMinimalSize,
}

// Strategies lists the canonical strategy names.
func Strategies() []StrategyKind {
	return []StrategyKind{StrategyAuto, StrategyPerformance, StrategySecurity, StrategyMinimalSize, StrategyExplicit}
}

// StrategyNames lists every accepted strategy spelling, aliases included,
// sorted.
func StrategyNames() []string {
	names := make([]string, 0, len(strategyAliases))
	for name := range strategyAliases {
		if name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// ParseStrategy maps a strategy name or alias to its kind.
func ParseStrategy(raw string) (StrategyKind, error) {
	if kind, ok := strategyAliases[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return kind, nil
	}
	names := make([]string, 0, len(Strategies()))
	for _, s := range Strategies() {
		names = append(names, string(s))
	}
	return "", toolerr.New(toolerr.KindInvalidInput).
		Detail("unknown strategy %q", raw).
		Alternatives(names...).
		Build()
}

// Strategy is a policy plus, for explicit selection, the chosen name.
type Strategy struct {
	Kind   StrategyKind
	Choice string
}

func (s Strategy) String() string {
	if s.Kind == StrategyExplicit {
		return string(s.Kind) + "(" + s.Choice + ")"
	}
	return string(s.Kind)
}

// Implementation is one candidate for a component.
type Implementation struct {
	Name string `yaml:"name" json:"name"`
	// Tool and Version reference a checksum registry entry; Path a local file.
	Tool         string       `yaml:"tool,omitempty" json:"tool,omitempty"`
	Version      string       `yaml:"version,omitempty" json:"version,omitempty"`
	Path         string       `yaml:"path,omitempty" json:"path,omitempty"`
	Capabilities Capabilities `yaml:"capabilities" json:"capabilities"`
}

// Materializer turns an implementation into an executable path.
type Materializer interface {
	Materialize(ctx context.Context, impl Implementation) (string, error)
}

// MaterializerFunc adapts a function to Materializer.
type MaterializerFunc func(ctx context.Context, impl Implementation) (string, error)

func (f MaterializerFunc) Materialize(ctx context.Context, impl Implementation) (string, error) {
	return f(ctx, impl)
}

// Skip records a candidate that failed to materialize.
type Skip struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

// Choice is the outcome of a selection. Selected always names an
// implementation whose executable materialized.
type Choice struct {
	Selected       Implementation `json:"selected"`
	ExecutablePath string         `json:"executable_path"`
	Strategy       StrategyKind   `json:"strategy"`
	Available      []string       `json:"available"`
	// FallbackFrom is the preferred candidate when a lower-ranked one won.
	FallbackFrom string `json:"fallback_from,omitempty"`
	Skipped      []Skip `json:"skipped,omitempty"`
}

// Rank orders impls by preference for kind. Ties keep declaration order.
// Explicit has no ranking and returns impls unchanged.
func Rank(impls []Implementation, kind StrategyKind) []Implementation {
	ranked := append([]Implementation(nil), impls...)
	var less func(a, b Capabilities) bool
	switch kind {
	case StrategyAuto:
		less = func(a, b Capabilities) bool {
			return a.PerformanceOptimized && !b.PerformanceOptimized
		}
	case StrategyPerformance:
		less = func(a, b Capabilities) bool {
			if a.Performance != b.Performance {
				return a.Performance > b.Performance
			}
			if a.PerformanceOptimized != b.PerformanceOptimized {
				return a.PerformanceOptimized
			}
			return a.Parallelism && !b.Parallelism
		}
	case StrategySecurity:
		less = func(a, b Capabilities) bool {
			if a.Security != b.Security {
				return a.Security > b.Security
			}
			return a.BinarySize.sizeRank() < b.BinarySize.sizeRank()
		}
	case StrategyMinimalSize:
		less = func(a, b Capabilities) bool {
			if a.BinarySize.sizeRank() != b.BinarySize.sizeRank() {
				return a.BinarySize.sizeRank() < b.BinarySize.sizeRank()
			}
			return a.Security > b.Security
		}
	default:
		return ranked
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return less(ranked[i].Capabilities, ranked[j].Capabilities)
	})
	return ranked
}

// Select picks an implementation for strategy, materializing candidates in
// rank order until one succeeds. Explicit selection never falls back.
func Select(ctx context.Context, impls []Implementation, strategy Strategy, m Materializer) (Choice, error) {
	if len(impls) == 0 {
		return Choice{}, toolerr.New(toolerr.KindNoImplementation).
			Detail("no implementations to select from").
			Build()
	}
	names := make([]string, len(impls))
	seen := make(map[string]bool, len(impls))
	for i, impl := range impls {
		if impl.Name == "" {
			return Choice{}, toolerr.New(toolerr.KindInvalidInput).Detail("implementation %d has no name", i).Build()
		}
		if seen[impl.Name] {
			return Choice{}, toolerr.New(toolerr.KindInvalidInput).Detail("duplicate implementation %q", impl.Name).Build()
		}
		seen[impl.Name] = true
		names[i] = impl.Name
	}

	kind := strategy.Kind
	if kind == "" {
		kind = StrategyAuto
	}

	if kind == StrategyExplicit {
		return selectExplicit(ctx, impls, names, strategy.Choice, m)
	}

	ranked := Rank(impls, kind)
	choice := Choice{Strategy: kind, Available: names}
	for _, impl := range ranked {
		if err := ctx.Err(); err != nil {
			return Choice{}, err
		}
		path, err := m.Materialize(ctx, impl)
		if err != nil {
			choice.Skipped = append(choice.Skipped, Skip{Name: impl.Name, Error: err.Error()})
			continue
		}
		choice.Selected = impl
		choice.ExecutablePath = path
		if impl.Name != ranked[0].Name {
			choice.FallbackFrom = ranked[0].Name
		}
		return choice, nil
	}

	details := make([]string, len(choice.Skipped))
	for i, s := range choice.Skipped {
		details[i] = fmt.Sprintf("%s: %s", s.Name, s.Error)
	}
	return Choice{}, toolerr.New(toolerr.KindImplementationUnavailable).
		Detail("strategy %s: no implementation could be materialized (%s)", kind, strings.Join(details, "; ")).
		Alternatives(names...).
		Build()
}

func selectExplicit(ctx context.Context, impls []Implementation, names []string, choice string, m Materializer) (Choice, error) {
	if choice == "" {
		return Choice{}, toolerr.New(toolerr.KindInvalidInput).
			Detail("explicit strategy requires an implementation name").
			Alternatives(names...).
			Build()
	}
	for _, impl := range impls {
		if impl.Name != choice {
			continue
		}
		path, err := m.Materialize(ctx, impl)
		if err != nil {
			return Choice{}, toolerr.New(toolerr.KindImplementationUnavailable).
				Detail("explicit choice %q could not be materialized", choice).
				Cause(err).
				Build()
		}
		return Choice{
			Selected:       impl,
			ExecutablePath: path,
			Strategy:       StrategyExplicit,
			Available:      names,
		}, nil
	}
	return Choice{}, toolerr.New(toolerr.KindUnknownImplementation).
		Detail("no implementation named %q", choice).
		Alternatives(names...).
		Build()
}
