package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"wasmtoolchain/internal/registry"
	"wasmtoolchain/internal/toolerr"
)

var toolsShowVersion string

func newToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect the checksum registry and the installed tools",
	}

	cmd.AddCommand(newToolsListCmd())
	cmd.AddCommand(newToolsShowCmd())
	cmd.AddCommand(newToolsInstalledCmd())

	return cmd
}

func newToolsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the tools the registry can verify",
		Args:  cobra.NoArgs,
		RunE:  runToolsList,
	}
}

func newToolsShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <tool>",
		Short: "Show a tool's versions, platforms and digests",
		Args:  cobra.ExactArgs(1),
		RunE:  runToolsShow,
	}
	cmd.Flags().StringVar(&toolsShowVersion, "version", "", "Only show this version")
	return cmd
}

func newToolsInstalledCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "installed",
		Short: "List artifacts installed in the cache",
		Args:  cobra.NoArgs,
		RunE:  runToolsInstalled,
	}
}

type toolSummary struct {
	Name     string   `json:"name"`
	Latest   string   `json:"latest"`
	Versions []string `json:"versions"`
	Repo     string   `json:"github_repo,omitempty"`
}

func runToolsList(cmd *cobra.Command, _ []string) error {
	env, err := openSession(cmd, sessionSetup{console: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	defer env.Close()

	reg := env.session.Registry()
	var tools []toolSummary
	for _, name := range reg.Tools() {
		latest, _ := reg.Latest(name)
		tools = append(tools, toolSummary{
			Name:     name,
			Latest:   latest,
			Versions: reg.Versions(name),
			Repo:     reg.GitHubRepo(name),
		})
	}

	if outputJSON {
		return writeJSON(cmd, tools)
	}
	if len(tools) == 0 {
		cmd.Println("(no tools in registry)")
		return nil
	}
	w := newTable(cmd.OutOrStdout())
	fmt.Fprintln(w, "TOOL\tLATEST\tVERSIONS\tREPO")
	for _, t := range tools {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", t.Name, t.Latest, len(t.Versions), nonEmptyOrDash(t.Repo))
	}
	return w.Flush()
}

type platformDigest struct {
	Version  string `json:"version"`
	Platform string `json:"platform"`
	Digest   string `json:"digest"`
	URL      string `json:"url"`
}

func runToolsShow(cmd *cobra.Command, args []string) error {
	env, err := openSession(cmd, sessionSetup{console: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	defer env.Close()

	rows, err := toolDigests(env.session.Registry(), args[0], toolsShowVersion)
	if err != nil {
		return err
	}
	if outputJSON {
		return writeJSON(cmd, rows)
	}
	w := newTable(cmd.OutOrStdout())
	fmt.Fprintln(w, "VERSION\tPLATFORM\tDIGEST")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.Version, r.Platform, r.Digest)
	}
	return w.Flush()
}

// toolDigests lists every verifiable artifact of a tool, newest version first.
func toolDigests(reg *registry.Registry, tool, version string) ([]platformDigest, error) {
	versions := reg.Versions(tool)
	if len(versions) == 0 {
		return nil, toolerr.New(toolerr.KindUnknownTool).Tool(tool, "", "").Alternatives(reg.Tools()...).Build()
	}
	if version != "" {
		if !reg.Has(tool, version) {
			return nil, toolerr.New(toolerr.KindUnknownVersion).Tool(tool, version, "").Alternatives(versions...).Build()
		}
		versions = []string{version}
	}

	var rows []platformDigest
	for _, v := range versions {
		for _, p := range reg.Platforms(tool, v) {
			rec, err := reg.Lookup(registry.ToolIdentity{Name: tool, Version: v, Platform: p})
			if err != nil {
				return nil, err
			}
			rows = append(rows, platformDigest{Version: v, Platform: string(p), Digest: rec.Digest.String(), URL: rec.URL})
		}
	}
	return rows, nil
}

func runToolsInstalled(cmd *cobra.Command, _ []string) error {
	env, err := openSession(cmd, sessionSetup{console: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	defer env.Close()

	manifest, err := env.session.Fetcher().Installed()
	if err != nil {
		return err
	}
	entries := manifest.Sorted()
	if outputJSON {
		return writeJSON(cmd, entries)
	}
	if len(entries) == 0 {
		cmd.Println("(nothing installed)")
		return nil
	}
	w := newTable(cmd.OutOrStdout())
	fmt.Fprintln(w, "TOOL\tVERSION\tPLATFORM\tORIGIN\tINSTALLED\tPATH")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", e.Tool, e.Version, e.Platform, e.Origin, e.InstalledAt, e.BinaryPath)
	}
	return w.Flush()
}
