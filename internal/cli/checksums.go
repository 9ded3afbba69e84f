package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"wasmtoolchain/internal/checksums"
	"wasmtoolchain/internal/registry"
	"wasmtoolchain/internal/toolerr"
)

var (
	checksumsDir         string
	checksumsRemote      bool
	checksumsAllVersions bool
	updateAll            bool
	updateVersion        string
	updateDryRun         bool
	updateForce          bool
)

func newChecksumsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checksums",
		Short: "Maintain checksum registry files",
	}
	validate := &cobra.Command{
		Use:   "validate [tool...]",
		Short: "Validate registry files against the schema and digest rules",
		Long: `Validate loads every tool file in --dir (default: registry_dir from config,
or the built-in registry), checks it against the JSON schema, and builds
every tool/version/platform record so malformed digests and templates are
caught before release.

With --remote each record of the latest version (every version with
--all-versions) is downloaded again and its digest compared with the
registry. Tool arguments limit the remote check.`,
		RunE: runChecksumsValidate,
	}
	validate.Flags().StringVar(&checksumsDir, "dir", "", "Directory of registry tool files")
	validate.Flags().BoolVar(&checksumsRemote, "remote", false, "Download artifacts and compare their digests")
	validate.Flags().BoolVar(&checksumsAllVersions, "all-versions", false, "With --remote, check every recorded version")

	update := &cobra.Command{
		Use:   "update [tool...]",
		Short: "Record digests of new upstream releases",
		Long: `Update asks the GitHub releases API for the latest release of each tool
(or --version), downloads every platform asset the tool file expects,
and writes the new version with its digests into the tool file in --dir
(default: registry_dir from config). The built-in registry is read-only.

Platforms whose asset is missing are skipped with a warning. Set
GITHUB_TOKEN to raise the API rate limit.`,
		RunE: runChecksumsUpdate,
	}
	update.Flags().StringVar(&checksumsDir, "dir", "", "Directory of registry tool files")
	update.Flags().BoolVar(&updateAll, "all", false, "Update every tool in the directory")
	update.Flags().StringVar(&updateVersion, "version", "", "Record this release instead of the latest")
	update.Flags().BoolVar(&updateDryRun, "dry-run", false, "Hash the assets without writing the tool file")
	update.Flags().BoolVar(&updateForce, "force", false, "Re-record a version that is already present")

	cmd.AddCommand(validate, update)
	return cmd
}

type checksumReport struct {
	Source  string   `json:"source"`
	Tools   []string `json:"tools"`
	Records int      `json:"records"`
	Errors  []string `json:"errors,omitempty"`

	Remote *checksums.Report `json:"remote,omitempty"`
}

func runChecksumsValidate(cmd *cobra.Command, args []string) error {
	if len(args) > 0 && !checksumsRemote {
		return toolerr.New(toolerr.KindInvalidInput).
			Detail("tool arguments require --remote").
			Build()
	}
	var (
		reg    *registry.Registry
		source string
		err    error
	)
	dir := checksumsDir
	if dir == "" {
		_, cfg, cfgErr := loadConfig()
		if cfgErr != nil {
			return cfgErr
		}
		dir = cfg.RegistryDir
	}
	if dir != "" {
		source = dir
		if _, err = registry.ValidateDir(dir); err == nil {
			reg, err = registry.LoadDir(dir)
		}
	} else {
		source = "built-in"
		reg, err = registry.Default()
	}
	if err != nil {
		return err
	}

	report := validateRecords(reg)
	report.Source = source
	if checksumsRemote {
		remote, err := validateRemote(cmd, reg, args)
		if err != nil {
			return err
		}
		report.Remote = &remote
	}

	if outputJSON {
		if err := writeJSON(cmd, report); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Registry: %s\n", report.Source)
		fmt.Fprintf(cmd.OutOrStdout(), "Tools: %s\n", joinComma(report.Tools))
		fmt.Fprintf(cmd.OutOrStdout(), "Records: %d\n", report.Records)
		for _, e := range report.Errors {
			fmt.Fprintf(cmd.ErrOrStderr(), "  %s\n", e)
		}
		if report.Remote != nil {
			writeRemoteTable(cmd, *report.Remote)
		}
	}
	if len(report.Errors) > 0 {
		return errors.New("checksum registry has invalid records")
	}
	if report.Remote != nil && !report.Remote.OK() {
		return toolerr.New(toolerr.KindChecksumMismatch).
			Detail("%d mismatched, %d failed of %d remote checks",
				report.Remote.Mismatched, report.Remote.Failed, len(report.Remote.Checks)).
			Build()
	}
	return nil
}

// validateRemote re-hashes records through the session fetcher so the
// configured retry policy and timeouts apply.
func validateRemote(cmd *cobra.Command, reg *registry.Registry, tools []string) (checksums.Report, error) {
	env, err := openSession(cmd, sessionSetup{console: cmd.ErrOrStderr()})
	if err != nil {
		return checksums.Report{}, err
	}
	defer env.Close()
	if env.cfg.Offline {
		return checksums.Report{}, toolerr.New(toolerr.KindInvalidInput).
			Detail("--remote needs network access; offline mode is on").
			Build()
	}
	return checksums.Validate(commandContext(cmd), reg, env.session.Fetcher(), checksums.ValidateOptions{
		Tools:       tools,
		AllVersions: checksumsAllVersions,
		Concurrency: env.cfg.Concurrency,
	})
}

func writeRemoteTable(cmd *cobra.Command, report checksums.Report) {
	tw := newTable(cmd.OutOrStdout())
	fmt.Fprintln(tw, "TOOL\tVERSION\tPLATFORM\tSTATUS\tDETAIL")
	for _, c := range report.Checks {
		detail := c.Error
		if c.Status == checksums.StatusMismatch {
			detail = fmt.Sprintf("expected %s, got %s", c.Expected, c.Actual)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", c.Identity.Name, c.Identity.Version, c.Identity.Platform, c.Status, detail)
	}
	_ = tw.Flush()
	fmt.Fprintf(cmd.OutOrStdout(), "Remote: %d valid, %d mismatched, %d failed\n", report.Valid, report.Mismatched, report.Failed)
}

func runChecksumsUpdate(cmd *cobra.Command, args []string) error {
	switch {
	case updateAll && len(args) > 0:
		return toolerr.New(toolerr.KindInvalidInput).Detail("--all cannot be combined with tool names").Build()
	case !updateAll && len(args) == 0:
		return toolerr.New(toolerr.KindInvalidInput).Detail("name a tool or pass --all").Build()
	case updateVersion != "" && len(args) != 1:
		return toolerr.New(toolerr.KindInvalidInput).Detail("--version needs exactly one tool").Build()
	}

	env, err := openSession(cmd, sessionSetup{console: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	defer env.Close()

	dir := checksumsDir
	if dir == "" {
		dir = env.cfg.RegistryDir
	}
	if dir == "" {
		return toolerr.New(toolerr.KindInvalidInput).
			Detail("the built-in registry is read-only; pass --dir or set registry_dir").
			Build()
	}
	if env.cfg.Offline {
		return toolerr.New(toolerr.KindInvalidInput).
			Detail("checksums update needs network access; offline mode is on").
			Build()
	}

	tools := args
	if updateAll {
		if tools, err = registry.ValidateDir(dir); err != nil {
			return err
		}
	}

	updater := &checksums.Updater{
		Releases: &checksums.ReleaseClient{
			BaseURL: env.cfg.GitHubAPI,
			Token:   env.cfg.GitHubToken,
		},
		Sum:    env.session.Fetcher(),
		Logger: env.logger,
	}
	results, runErr := updater.UpdateAll(commandContext(cmd), dir, tools, checksums.UpdateOptions{
		Version: updateVersion,
		DryRun:  updateDryRun,
		Force:   updateForce,
	})

	if outputJSON {
		if err := writeJSON(cmd, results); err != nil {
			return err
		}
		return runErr
	}
	tw := newTable(cmd.OutOrStdout())
	fmt.Fprintln(tw, "TOOL\tPREVIOUS\tRELEASE\tCHANGE\tPLATFORMS\tRESULT")
	for _, r := range results {
		hashed := 0
		for _, p := range r.Platforms {
			if p.Error == "" {
				hashed++
			}
		}
		outcome := "up to date"
		switch {
		case r.Updated:
			outcome = "updated " + filepath.Base(r.Path)
		case r.DryRun && r.Change != checksums.ChangeNone:
			outcome = "dry run"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d/%d\t%s\n", r.Tool, r.Previous, r.Version, r.Change, hashed, len(r.Platforms), outcome)
	}
	_ = tw.Flush()
	return runErr
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// validateRecords builds the record of every tool, version and platform.
func validateRecords(reg *registry.Registry) checksumReport {
	report := checksumReport{Tools: reg.Tools()}
	for _, tool := range report.Tools {
		for _, version := range reg.Versions(tool) {
			for _, p := range reg.Platforms(tool, version) {
				rec, err := reg.Lookup(registry.ToolIdentity{Name: tool, Version: version, Platform: p})
				if err != nil {
					report.Errors = append(report.Errors, err.Error())
					continue
				}
				if err := rec.Digest.Validate(); err != nil {
					report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", rec.Identity, err))
					continue
				}
				report.Records++
			}
		}
	}
	return report
}
