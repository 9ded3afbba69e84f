package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"wasmtoolchain/internal/fetch"
)

var (
	vendorBundle    string
	vendorPlatforms []string
	vendorDir      string
)

func newVendorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vendor [tool...]",
		Short: "Copy verified artifacts into a vendor tree for offline use",
		Long: `Vendor stores the unextracted, checksum-verified artifacts under
<dir>/<tool>/<version>/<platform>/ so a session with offline: true and
vendor_root pointing at <dir> can install them without network access.`,
		RunE: runVendor,
	}

	cmd.Flags().StringVar(&vendorBundle, "bundle", "", "Bundle to vendor (default: configured default bundle)")
	cmd.Flags().StringSliceVar(&vendorPlatforms, "platform", nil, "Platform to vendor (repeat for several; default: host)")
	cmd.Flags().StringVar(&vendorDir, "dir", "", "Vendor root (default: vendor_root from config)")

	return cmd
}

func runVendor(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	env, err := openSession(cmd, sessionSetup{console: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	defer env.Close()

	root := vendorDir
	if root == "" {
		root = env.cfg.VendorRoot
	}
	if root == "" {
		return errors.New("no vendor root: pass --dir or set vendor_root")
	}

	reqs, err := fetchRequests(env.session, args, vendorBundle, vendorPlatforms)
	if err != nil {
		return err
	}
	results, vendorErr := env.session.Vendor(ctx, reqs, root)

	var done []fetch.VendorResult
	for _, r := range results {
		if r.Path != "" {
			done = append(done, r)
		}
	}
	if outputJSON {
		if err := writeJSON(cmd, done); err != nil {
			return err
		}
		return vendorErr
	}

	w := newTable(cmd.OutOrStdout())
	fmt.Fprintln(w, "TOOL\tVERSION\tPLATFORM\tSTATUS\tSOURCE\tPATH")
	for _, r := range done {
		status := "vendored"
		if r.Existing {
			status = "present"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Identity.Name, r.Identity.Version, r.Identity.Platform, status, nonEmptyOrDash(string(r.Origin)), r.Path)
	}
	w.Flush()
	return vendorErr
}
