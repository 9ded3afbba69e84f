package cli

import (
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"wasmtoolchain/internal/config"
	"wasmtoolchain/internal/engine"
	"wasmtoolchain/internal/paths"
	"wasmtoolchain/internal/registry"
	"wasmtoolchain/internal/selector"
)

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, data files and cache health",
		Args:  cobra.NoArgs,
		RunE:  runDoctor,
	}
}

type healthCheck struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "ok", "warning", "error"
	Summary string `json:"summary"`
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	pp, cfg, cfgErr := loadConfig()

	var checks []healthCheck
	checks = append(checks, checkConfig(cfg, cfgErr))
	checks = append(checks, checkHost())
	if cfgErr != nil {
		return writeDoctorResult(cmd, pp.ConfigFile, checks)
	}

	env, err := openSession(cmd, sessionSetup{})
	if err != nil {
		checks = append(checks, healthCheck{Name: "Session", Status: "error", Summary: err.Error()})
		return writeDoctorResult(cmd, pp.ConfigFile, checks)
	}
	defer env.Close()

	checks = append(checks, checkRegistry(env.session))
	checks = append(checks, checkBundles(env.session))
	checks = append(checks, checkSources(cfg))
	checks = append(checks, checkCache(env.session))

	return writeDoctorResult(cmd, pp.ConfigFile, checks)
}

func checkConfig(cfg config.Config, cfgErr error) healthCheck {
	if cfgErr != nil {
		return healthCheck{Name: "Config", Status: "error", Summary: cfgErr.Error()}
	}

	var warnings, errors int
	for _, v := range cfg.Validate(selector.StrategyNames()) {
		switch v.Level {
		case "warning":
			warnings++
		case "error":
			errors++
		}
	}

	summary := fmt.Sprintf("strategy %s, concurrency %d", cfg.Strategy, cfg.Concurrency)
	if errors > 0 {
		return healthCheck{Name: "Config", Status: "error", Summary: fmt.Sprintf("%s; %d errors", summary, errors)}
	}
	if warnings > 0 {
		return healthCheck{Name: "Config", Status: "warning", Summary: fmt.Sprintf("%s; %d warnings", summary, warnings)}
	}
	return healthCheck{Name: "Config", Status: "ok", Summary: summary}
}

func checkHost() healthCheck {
	p, err := registry.HostPlatform()
	if err != nil {
		return healthCheck{Name: "Host", Status: "error", Summary: err.Error()}
	}
	return healthCheck{Name: "Host", Status: "ok", Summary: string(p)}
}

func checkRegistry(s *engine.Session) healthCheck {
	tools := s.Registry().Tools()
	report := validateRecords(s.Registry())
	if len(report.Errors) > 0 {
		return healthCheck{Name: "Registry", Status: "error", Summary: fmt.Sprintf("%d invalid records", len(report.Errors))}
	}
	return healthCheck{Name: "Registry", Status: "ok", Summary: fmt.Sprintf("%d tools, %d records", len(tools), report.Records)}
}

func checkBundles(s *engine.Session) healthCheck {
	drift := s.Bundles().Check(s.Registry())
	summary := fmt.Sprintf("%d bundles, default %s", len(s.Bundles().Names()), s.DefaultBundle())
	if len(drift) > 0 {
		return healthCheck{Name: "Bundles", Status: "warning", Summary: fmt.Sprintf("%s; %d versions missing from registry", summary, len(drift))}
	}
	return healthCheck{Name: "Bundles", Status: "ok", Summary: summary}
}

func checkSources(cfg config.Config) healthCheck {
	var parts []string
	if cfg.Offline {
		parts = append(parts, "offline")
	}
	for _, dir := range []struct{ label, path string }{
		{"vendor", cfg.VendorRoot},
		{"shared", cfg.SharedVendorDir},
	} {
		if dir.path == "" {
			continue
		}
		ok, _ := paths.DirExists(dir.path)
		if !ok {
			return healthCheck{Name: "Sources", Status: "warning", Summary: fmt.Sprintf("%s dir %s does not exist", dir.label, dir.path)}
		}
		parts = append(parts, dir.label+" "+dir.path)
	}
	if cfg.MirrorURL != "" {
		parts = append(parts, "mirror "+cfg.MirrorURL)
	}
	if len(parts) == 0 {
		parts = append(parts, "public origin only")
	}
	return healthCheck{Name: "Sources", Status: "ok", Summary: joinComma(parts)}
}

func checkCache(s *engine.Session) healthCheck {
	manifest, err := s.Fetcher().Installed()
	if err != nil {
		return healthCheck{Name: "Cache", Status: "warning", Summary: "could not read install manifest: " + err.Error()}
	}
	return healthCheck{
		Name:    "Cache",
		Status:  "ok",
		Summary: fmt.Sprintf("%d installed in %s", len(manifest.Entries), s.Fetcher().CacheDir()),
	}
}

func writeDoctorResult(cmd *cobra.Command, configFile string, checks []healthCheck) error {
	if outputJSON {
		data, err := json.MarshalIndent(checks, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}

	bold := lipgloss.NewStyle().Bold(true).Inline(true)
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Inline(true)
	yellow := lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Inline(true)
	red := lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Inline(true)

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, bold.Render("TOOLCHAIN HEALTH:")+" "+configFile)

	for _, c := range checks {
		var statusStr string
		switch c.Status {
		case "ok":
			statusStr = green.Render("OK")
		case "warning":
			statusStr = yellow.Render("WARN")
		case "error":
			statusStr = red.Render("ERROR")
		}
		fmt.Fprintf(out, "  %-12s %s    %s\n", c.Name+":", statusStr, c.Summary)
	}

	return nil
}
