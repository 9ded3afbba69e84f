package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"wasmtoolchain/internal/engine"
	"wasmtoolchain/internal/selector"
)

// strategyValue is a pflag.Value that accepts strategy names and aliases.
type strategyValue struct {
	kind selector.StrategyKind
}

var _ pflag.Value = (*strategyValue)(nil)

func (v *strategyValue) String() string { return string(v.kind) }
func (v *strategyValue) Type() string   { return "strategy" }

func (v *strategyValue) Set(raw string) error {
	kind, err := selector.ParseStrategy(raw)
	if err != nil {
		return err
	}
	v.kind = kind
	return nil
}

var (
	selectStrategy strategyValue
	selectChoice   string
	selectBundle   string
	selectImplFile string
)

func newSelectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "select [component]",
		Short: "Choose and materialize a component implementation",
		Long: `Select ranks the component's implementations by strategy and returns the
first whose executable materializes. With --choice only that implementation
is tried. Without a component, the catalog is listed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runSelect,
	}

	cmd.Flags().Var(&selectStrategy, "strategy", "Selection strategy: "+strings.Join(selector.StrategyNames(), ", "))
	cmd.Flags().StringVar(&selectChoice, "choice", "", "Implementation to use; never falls back")
	cmd.Flags().StringVar(&selectBundle, "bundle", "", "Bundle used for implementations without a version")
	cmd.Flags().StringVar(&selectImplFile, "implementations", "", "YAML file listing implementations instead of the catalog entry")
	_ = cmd.RegisterFlagCompletionFunc("strategy", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return selector.StrategyNames(), cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

func runSelect(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	env, err := openSession(cmd, sessionSetup{console: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	defer env.Close()

	if len(args) == 0 {
		return writeCatalog(cmd, env.session.Catalog())
	}

	req := engine.ComponentRequest{
		ComponentName:  args[0],
		Strategy:       string(selectStrategy.kind),
		ExplicitChoice: selectChoice,
		BundleName:     selectBundle,
	}
	if selectImplFile != "" {
		impls, err := loadImplementations(selectImplFile)
		if err != nil {
			return err
		}
		req.Implementations = impls
	}

	resp, err := env.session.SelectComponent(ctx, req)
	if err != nil {
		return err
	}
	if outputJSON {
		return writeJSON(cmd, resp)
	}

	w := newTable(cmd.OutOrStdout())
	fmt.Fprintf(w, "component:\t%s\n", resp.ComponentName)
	fmt.Fprintf(w, "selected:\t%s\n", resp.SelectedName)
	fmt.Fprintf(w, "strategy:\t%s\n", resp.StrategyApplied)
	fmt.Fprintf(w, "available:\t%s\n", joinComma(resp.Available))
	if resp.FallbackFrom != "" {
		fmt.Fprintf(w, "fallback from:\t%s\n", resp.FallbackFrom)
	}
	fmt.Fprintf(w, "path:\t%s\n", resp.ExecutablePath)
	w.Flush()
	for _, s := range resp.Skipped {
		fmt.Fprintf(cmd.ErrOrStderr(), "  skipped %s: %s\n", s.Name, s.Error)
	}
	return nil
}

func loadImplementations(path string) ([]selector.Implementation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read implementations: %w", err)
	}
	var impls []selector.Implementation
	if err := yaml.Unmarshal(data, &impls); err != nil {
		return nil, fmt.Errorf("parse implementations %s: %w", path, err)
	}
	return impls, nil
}

func writeCatalog(cmd *cobra.Command, catalog *selector.Catalog) error {
	var comps []selector.Component
	for _, name := range catalog.Names() {
		c, err := catalog.Component(name)
		if err != nil {
			return err
		}
		comps = append(comps, c)
	}
	if outputJSON {
		return writeJSON(cmd, comps)
	}
	w := newTable(cmd.OutOrStdout())
	fmt.Fprintln(w, "COMPONENT\tSTRATEGY\tIMPLEMENTATIONS")
	for _, c := range comps {
		names := make([]string, 0, len(c.Implementations))
		for _, impl := range c.Implementations {
			names = append(names, impl.Name)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", c.Name, nonEmptyOrDash(c.DefaultStrategy), joinComma(names))
	}
	return w.Flush()
}
