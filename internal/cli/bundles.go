package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"wasmtoolchain/internal/bundle"
)

func newBundlesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bundles",
		Short: "Inspect the curated tool bundles",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List bundles and their status",
		Args:  cobra.NoArgs,
		RunE:  runBundlesList,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show [bundle]",
		Short: "Show the tool versions a bundle pins",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runBundlesShow,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Report bundle versions the checksum registry cannot serve",
		Args:  cobra.NoArgs,
		RunE:  runBundlesCheck,
	})

	return cmd
}

type bundleSummary struct {
	bundle.Bundle
	Default bool `json:"default"`
}

func runBundlesList(cmd *cobra.Command, _ []string) error {
	env, err := openSession(cmd, sessionSetup{})
	if err != nil {
		return err
	}
	defer env.Close()

	set := env.session.Bundles()
	var rows []bundleSummary
	for _, name := range set.Names() {
		b, err := set.Get(name)
		if err != nil {
			return err
		}
		rows = append(rows, bundleSummary{Bundle: b, Default: name == env.session.DefaultBundle()})
	}
	if outputJSON {
		return writeJSON(cmd, rows)
	}
	w := newTable(cmd.OutOrStdout())
	fmt.Fprintln(w, "BUNDLE\tSTATUS\tTOOLS\tDESCRIPTION")
	for _, r := range rows {
		name := r.Name
		if r.Default {
			name += " *"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", name, r.Status, len(r.Tools), nonEmptyOrDash(r.Description))
	}
	return w.Flush()
}

func runBundlesShow(cmd *cobra.Command, args []string) error {
	env, err := openSession(cmd, sessionSetup{})
	if err != nil {
		return err
	}
	defer env.Close()

	name := env.session.DefaultBundle()
	if len(args) == 1 {
		name = args[0]
	}
	b, err := env.session.Bundles().Get(name)
	if err != nil {
		return err
	}
	if outputJSON {
		return writeJSON(cmd, b)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Bundle: %s (%s)\n", b.Name, b.Status)
	if b.Description != "" {
		fmt.Fprintln(out, b.Description)
	}
	w := newTable(out)
	fmt.Fprintln(w, "TOOL\tVERSION\tREGISTRY")
	for _, tool := range b.ToolNames() {
		known := "ok"
		if !env.session.Registry().Has(tool, b.Tools[tool]) {
			known = "missing"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", tool, b.Tools[tool], known)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	for _, note := range b.Notes {
		fmt.Fprintf(out, "note: %s\n", note)
	}
	return nil
}

func runBundlesCheck(cmd *cobra.Command, _ []string) error {
	env, err := openSession(cmd, sessionSetup{})
	if err != nil {
		return err
	}
	defer env.Close()

	warnings := env.session.Bundles().Check(env.session.Registry())
	if outputJSON {
		if warnings == nil {
			warnings = []string{}
		}
		return writeJSON(cmd, warnings)
	}
	if len(warnings) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "All bundle versions are in the checksum registry.")
		return nil
	}
	for _, w := range warnings {
		fmt.Fprintln(cmd.OutOrStdout(), w)
	}
	return nil
}
