package cli

import (
	"context"
	"fmt"
	"io"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"wasmtoolchain/internal/engine"
	"wasmtoolchain/internal/registry"
	"wasmtoolchain/internal/tui"
)

var (
	fetchBundle     string
	fetchPlatforms  []string
	fetchNoProgress bool
)

func newFetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch [tool...]",
		Short: "Populate the cache with verified tool binaries",
		Long: `Fetch installs the named tools, or every tool of the bundle when none are
named, for each requested platform. Requests run concurrently; one failure
does not stop the others.`,
		RunE: runFetch,
	}

	cmd.Flags().StringVar(&fetchBundle, "bundle", "", "Bundle to take versions from (default: configured default bundle)")
	cmd.Flags().StringSliceVar(&fetchPlatforms, "platform", nil, "Target platform (repeat for several; default: host)")
	cmd.Flags().BoolVar(&fetchNoProgress, "no-progress", false, "Disable interactive progress output")

	return cmd
}

type fetchRowResult struct {
	Tool     string `json:"tool"`
	Platform string `json:"platform"`
	Version  string `json:"version,omitempty"`
	Status   string `json:"status"`
	Source   string `json:"source,omitempty"`
	Path     string `json:"path,omitempty"`
	Digest   string `json:"digest,omitempty"`
	Error    string `json:"error,omitempty"`
}

type fetchCounts struct {
	Installed int `json:"installed"`
	Cached    int `json:"cached"`
	Failed    int `json:"failed"`
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	out := cmd.OutOrStdout()
	mode := tui.DetectMode(out, fetchNoProgress, outputJSON)

	setup := sessionSetup{console: cmd.ErrOrStderr()}
	if mode == tui.ModeTUI {
		setup = sessionSetup{relay: &tui.Relay{}}
	}
	env, err := openSession(cmd, setup)
	if err != nil {
		return err
	}
	defer env.Close()

	reqs, err := fetchRequests(env.session, args, fetchBundle, fetchPlatforms)
	if err != nil {
		return err
	}

	var (
		results []engine.Result
		runErr  error
	)
	work := func(ctx context.Context) {
		results, runErr = env.session.ResolveAll(ctx, reqs)
	}

	if mode == tui.ModeTUI {
		model := buildFetchProgressModel(reqs, env.session.HostPlatform())
		err := tui.RunWithWork(ctx, out, model, func(ctx context.Context, send func(tea.Msg)) {
			setup.relay.Attach(send)
			defer setup.relay.Detach()
			work(ctx)
		})
		if err != nil {
			return err
		}
	} else {
		work(ctx)
	}

	rows, counts := summarizeFetch(results, env.session.HostPlatform())
	switch mode {
	case tui.ModeJSON:
		if err := writeJSON(cmd, struct {
			Rows    []fetchRowResult `json:"rows"`
			Summary fetchCounts      `json:"summary"`
		}{rows, counts}); err != nil {
			return err
		}
	case tui.ModeTUI:
		printFetchSummary(out, counts)
	default:
		writeFetchTable(cmd, rows, counts)
	}
	return runErr
}

// fetchRequests expands CLI arguments into engine requests. Without tool
// names the whole bundle is fetched.
func fetchRequests(s *engine.Session, tools []string, bundleName string, platforms []string) ([]engine.Request, error) {
	if len(tools) == 0 {
		return s.BundleTools(bundleName, platforms...)
	}
	if len(platforms) == 0 {
		platforms = []string{""}
	}
	reqs := make([]engine.Request, 0, len(tools)*len(platforms))
	for _, tool := range tools {
		for _, p := range platforms {
			reqs = append(reqs, engine.Request{ToolName: tool, BundleName: bundleName, Platform: p})
		}
	}
	return reqs, nil
}

// displayPlatform is the normalized platform a request will resolve to, or
// the raw value when it does not normalize.
func displayPlatform(raw string, host registry.Platform) string {
	if raw == "" {
		return string(host)
	}
	if p, err := registry.NormalizePlatform(raw); err == nil {
		return string(p)
	}
	return raw
}

func buildFetchProgressModel(reqs []engine.Request, host registry.Platform) tui.ProgressModel {
	model := tui.NewProgressModel("Fetching", tui.FetchColumns)
	for _, req := range reqs {
		platform := displayPlatform(req.Platform, host)
		model.AddRow(tui.RowKey(req.ToolName, platform), []string{
			req.ToolName,
			platform,
			nonEmptyOrDash(req.ExplicitVersion),
			"pending",
			"-",
			"-",
		})
	}
	return model
}

func summarizeFetch(results []engine.Result, host registry.Platform) ([]fetchRowResult, fetchCounts) {
	rows := make([]fetchRowResult, 0, len(results))
	var counts fetchCounts
	for _, r := range results {
		row := fetchRowResult{
			Tool:     r.Request.ToolName,
			Platform: displayPlatform(r.Request.Platform, host),
		}
		switch {
		case r.Err != nil:
			counts.Failed++
			row.Status = "failed"
			row.Error = r.Err.Error()
		case r.Response.Cached:
			counts.Cached++
			row.Status = "cached"
		default:
			counts.Installed++
			row.Status = "installed"
		}
		if r.Err == nil {
			row.Version = r.Response.Version
			row.Source = string(r.Response.SourceKind)
			row.Path = r.Response.BinaryPath
			row.Digest = r.Response.DigestUsed
		}
		rows = append(rows, row)
	}
	return rows, counts
}

func writeFetchTable(cmd *cobra.Command, rows []fetchRowResult, counts fetchCounts) {
	w := newTable(cmd.OutOrStdout())
	fmt.Fprintln(w, "TOOL\tPLATFORM\tVERSION\tSTATUS\tSOURCE\tPATH")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Tool, r.Platform, nonEmptyOrDash(r.Version), r.Status, nonEmptyOrDash(r.Source), nonEmptyOrDash(r.Path))
	}
	w.Flush()
	printFetchSummary(cmd.OutOrStdout(), counts)
	for _, r := range rows {
		if r.Error != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "  %s/%s: %s\n", r.Tool, r.Platform, r.Error)
		}
	}
}

func printFetchSummary(out io.Writer, counts fetchCounts) {
	fmt.Fprintf(out, "\nInstalled: %d  Cached: %d  Failed: %d\n", counts.Installed, counts.Cached, counts.Failed)
}
