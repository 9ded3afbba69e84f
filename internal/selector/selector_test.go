package selector

import (
	"context"
	"errors"
	"slices"
	"sort"
	"testing"

	"wasmtoolchain/internal/toolerr"
)

var (
	tinygo = Implementation{Name: "tinygo", Tool: "file-ops-tinygo", Capabilities: Capabilities{
		Security: LevelHigh, Performance: LevelMedium, BinarySize: SizeCompact, StreamingIO: true,
	}}
	rust = Implementation{Name: "rust", Tool: "file-ops-rust", Capabilities: Capabilities{
		Security: LevelHigh, Performance: LevelHigh, BinarySize: SizeStandard, StreamingIO: true,
		Parallelism: true, PerformanceOptimized: true,
	}}
)

// materializeExcept succeeds for every implementation not named in broken.
func materializeExcept(broken ...string) Materializer {
	return MaterializerFunc(func(_ context.Context, impl Implementation) (string, error) {
		if slices.Contains(broken, impl.Name) {
			return "", errors.New("download failed")
		}
		return "/cache/" + impl.Name + ".wasm", nil
	})
}

func TestSecurityPrefersSmallerBinaryOnTie(t *testing.T) {
	choice, err := Select(context.Background(), []Implementation{rust, tinygo}, Strategy{Kind: StrategySecurity}, materializeExcept())
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if choice.Selected.Name != "tinygo" {
		t.Fatalf("selected %s, want tinygo", choice.Selected.Name)
	}
	if choice.ExecutablePath != "/cache/tinygo.wasm" || choice.FallbackFrom != "" {
		t.Fatalf("unexpected choice %+v", choice)
	}
}

func TestSecurityFallsBackWhenPreferredRemoved(t *testing.T) {
	choice, err := Select(context.Background(), []Implementation{rust}, Strategy{Kind: StrategySecurity}, materializeExcept())
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if choice.Selected.Name != "rust" {
		t.Fatalf("selected %s, want rust", choice.Selected.Name)
	}
}

func TestEveryStrategyFallsBackWhenPreferredCannotMaterialize(t *testing.T) {
	impls := []Implementation{tinygo, rust}
	for _, kind := range []StrategyKind{StrategyAuto, StrategyPerformance, StrategySecurity, StrategyMinimalSize} {
		t.Run(string(kind), func(t *testing.T) {
			preferred := Rank(impls, kind)[0]
			choice, err := Select(context.Background(), impls, Strategy{Kind: kind}, materializeExcept(preferred.Name))
			if err != nil {
				t.Fatalf("select: %v", err)
			}
			if choice.Selected.Name == preferred.Name {
				t.Fatalf("selected the broken implementation %s", preferred.Name)
			}
			if choice.FallbackFrom != preferred.Name {
				t.Fatalf("fallback from = %q, want %q", choice.FallbackFrom, preferred.Name)
			}
			if len(choice.Skipped) != 1 || choice.Skipped[0].Name != preferred.Name {
				t.Fatalf("unexpected skipped %+v", choice.Skipped)
			}
			if choice.Strategy != kind {
				t.Fatalf("strategy = %s", choice.Strategy)
			}
		})
	}
}

func TestStrategyPreferences(t *testing.T) {
	impls := []Implementation{tinygo, rust}
	tests := map[StrategyKind]string{
		StrategyAuto:        "rust",
		StrategyPerformance: "rust",
		StrategySecurity:    "tinygo",
		StrategyMinimalSize: "tinygo",
	}
	for kind, want := range tests {
		choice, err := Select(context.Background(), impls, Strategy{Kind: kind}, materializeExcept())
		if err != nil {
			t.Fatalf("%s: %v", kind, err)
		}
		if choice.Selected.Name != want {
			t.Errorf("%s selected %s, want %s", kind, choice.Selected.Name, want)
		}
	}
}

func TestAutoWithoutPerformanceFlagKeepsDeclaredOrder(t *testing.T) {
	a := Implementation{Name: "a", Path: "a.wasm"}
	b := Implementation{Name: "b", Path: "b.wasm"}
	choice, err := Select(context.Background(), []Implementation{a, b}, Strategy{}, materializeExcept())
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if choice.Selected.Name != "a" || choice.Strategy != StrategyAuto {
		t.Fatalf("unexpected choice %+v", choice)
	}
}

func TestEmptySetIsAlwaysFatal(t *testing.T) {
	for _, kind := range Strategies() {
		_, err := Select(context.Background(), nil, Strategy{Kind: kind, Choice: "tinygo"}, materializeExcept())
		if !errors.Is(err, toolerr.KindNoImplementation) {
			t.Errorf("%s: expected no_implementation_available, got %v", kind, err)
		}
	}
}

func TestExplicitNeverFallsBack(t *testing.T) {
	impls := []Implementation{tinygo, rust}

	choice, err := Select(context.Background(), impls, Strategy{Kind: StrategyExplicit, Choice: "rust"}, materializeExcept())
	if err != nil || choice.Selected.Name != "rust" {
		t.Fatalf("explicit rust: %+v %v", choice, err)
	}

	_, err = Select(context.Background(), impls, Strategy{Kind: StrategyExplicit, Choice: "rust"}, materializeExcept("rust"))
	if !errors.Is(err, toolerr.KindImplementationUnavailable) {
		t.Fatalf("expected implementation_unavailable, got %v", err)
	}

	_, err = Select(context.Background(), impls, Strategy{Kind: StrategyExplicit, Choice: "zig"}, materializeExcept())
	if !errors.Is(err, toolerr.KindUnknownImplementation) {
		t.Fatalf("expected unknown_implementation, got %v", err)
	}
	var te *toolerr.Error
	if !errors.As(err, &te) || !slices.Equal(te.Alternatives, []string{"tinygo", "rust"}) {
		t.Fatalf("expected alternatives, got %v", err)
	}

	_, err = Select(context.Background(), impls, Strategy{Kind: StrategyExplicit}, materializeExcept())
	if !errors.Is(err, toolerr.KindInvalidInput) {
		t.Fatalf("expected invalid_input without a choice, got %v", err)
	}
}

func TestAllCandidatesUnavailable(t *testing.T) {
	_, err := Select(context.Background(), []Implementation{tinygo, rust}, Strategy{Kind: StrategySecurity}, materializeExcept("tinygo", "rust"))
	if !errors.Is(err, toolerr.KindImplementationUnavailable) {
		t.Fatalf("expected implementation_unavailable, got %v", err)
	}
}

func TestDuplicateNamesRejected(t *testing.T) {
	_, err := Select(context.Background(), []Implementation{tinygo, tinygo}, Strategy{}, materializeExcept())
	if !errors.Is(err, toolerr.KindInvalidInput) {
		t.Fatalf("expected invalid_input, got %v", err)
	}
}

func TestParseStrategyAliases(t *testing.T) {
	tests := map[string]StrategyKind{
		"":                 StrategyAuto,
		"AUTO":             StrategyAuto,
		"security-focused": StrategySecurity,
		"security":         StrategySecurity,
		"minimal":          StrategyMinimalSize,
		"size":             StrategyMinimalSize,
		"performance":      StrategyPerformance,
		"explicit":         StrategyExplicit,
	}
	for in, want := range tests {
		got, err := ParseStrategy(in)
		if err != nil || got != want {
			t.Errorf("%q: got %s, %v", in, got, err)
		}
	}
	if _, err := ParseStrategy("cheapest"); !errors.Is(err, toolerr.KindInvalidInput) {
		t.Fatalf("expected invalid_input, got %v", err)
	}
}

func TestRankIsStableOnTies(t *testing.T) {
	a := Implementation{Name: "a", Capabilities: Capabilities{Security: LevelMedium}}
	b := Implementation{Name: "b", Capabilities: Capabilities{Security: LevelMedium}}
	c := Implementation{Name: "c", Capabilities: Capabilities{Security: LevelHigh}}
	got := Rank([]Implementation{a, b, c}, StrategySecurity)
	names := []string{got[0].Name, got[1].Name, got[2].Name}
	if !slices.Equal(names, []string{"c", "a", "b"}) {
		t.Fatalf("rank = %v", names)
	}
}

func TestCanceledContextStopsSelection(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Select(ctx, []Implementation{tinygo, rust}, Strategy{Kind: StrategyAuto}, materializeExcept())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestStrategyNamesIncludeAliases(t *testing.T) {
	names := StrategyNames()
	if !sort.StringsAreSorted(names) {
		t.Fatalf("names not sorted: %v", names)
	}
	for _, want := range []string{"auto", "minimal", "secure", "explicit"} {
		if !slices.Contains(names, want) {
			t.Errorf("StrategyNames() missing %q", want)
		}
	}
	for _, n := range names {
		if n == "" {
			t.Error("StrategyNames() contains the empty alias")
		}
	}
}
