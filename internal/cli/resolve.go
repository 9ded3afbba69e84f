package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"wasmtoolchain/internal/engine"
)

var (
	resolveVersion  string
	resolvePin      string
	resolvePlatform string
	resolveBundle   string
)

func newResolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <tool>",
		Short: "Materialize one verified tool binary and print its path",
		Long: `Resolve picks the tool version (explicit pin, then bundle, then --version),
finds the artifact (vendor tree, shared dir, mirror, then the public origin),
verifies its checksum and prints the path of the executable.`,
		Args: cobra.ExactArgs(1),
		RunE: runResolve,
	}

	cmd.Flags().StringVar(&resolveVersion, "version", "", "Version used when neither a pin nor the bundle decides")
	cmd.Flags().StringVar(&resolvePin, "pin", "", "Explicit version that overrides every bundle")
	cmd.Flags().StringVar(&resolvePlatform, "platform", "", "Target platform (default: host)")
	cmd.Flags().StringVar(&resolveBundle, "bundle", "", "Bundle to take the version from")

	return cmd
}

func runResolve(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	env, err := openSession(cmd, sessionSetup{console: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	defer env.Close()

	resp, err := env.session.Resolve(ctx, engine.Request{
		ToolName:        args[0],
		Version:         resolveVersion,
		Platform:        resolvePlatform,
		BundleName:      resolveBundle,
		ExplicitVersion: resolvePin,
	})
	if err != nil {
		return err
	}

	if outputJSON {
		return writeJSON(cmd, resp)
	}
	writeResolveResponse(cmd, resp)
	return nil
}

func writeResolveResponse(cmd *cobra.Command, resp engine.Response) {
	w := newTable(cmd.OutOrStdout())
	fmt.Fprintf(w, "tool:\t%s\n", resp.Tool)
	fmt.Fprintf(w, "version:\t%s (%s)\n", resp.Version, resp.VersionFrom)
	fmt.Fprintf(w, "platform:\t%s\n", resp.Platform)
	fmt.Fprintf(w, "source:\t%s (%s)\n", resp.SourceKind, nonEmptyOrDash(resp.Location))
	fmt.Fprintf(w, "digest:\t%s\n", resp.DigestUsed)
	fmt.Fprintf(w, "cached:\t%t\n", resp.Cached)
	fmt.Fprintf(w, "path:\t%s\n", resp.BinaryPath)
	w.Flush()
}
