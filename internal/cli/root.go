package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"wasmtoolchain/internal/config"
	"wasmtoolchain/internal/engine"
	"wasmtoolchain/internal/logx"
	"wasmtoolchain/internal/paths"
	"wasmtoolchain/internal/selector"
	"wasmtoolchain/internal/toolerr"
	"wasmtoolchain/internal/tui"
)

var (
	configPath string
	outputJSON bool
	verbose    bool
)

// Execute runs the root cobra command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps error kinds onto process exit statuses.
func exitCode(err error) int {
	switch toolerr.KindOf(err) {
	case toolerr.KindChecksumMismatch:
		return 3
	case toolerr.KindOfflineArtifactMissing:
		return 4
	case toolerr.KindUnknownTool, toolerr.KindUnknownVersion, toolerr.KindUnsupportedPlatform,
		toolerr.KindUnknownBundle, toolerr.KindInvalidInput, toolerr.KindUnknownImplementation:
		return 2
	}
	return 1
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "wasmtoolchain",
		Short:         "Resolve, verify and cache WebAssembly toolchain binaries",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to "+config.FileName+" (default: working directory)")
	cmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output machine-readable JSON")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output to stderr")

	cmd.AddCommand(newResolveCmd())
	cmd.AddCommand(newFetchCmd())
	cmd.AddCommand(newVendorCmd())
	cmd.AddCommand(newSelectCmd())
	cmd.AddCommand(newLockCmd())
	cmd.AddCommand(newToolsCmd())
	cmd.AddCommand(newBundlesCmd())
	cmd.AddCommand(newChecksumsCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newDoctorCmd())

	return cmd
}

// loadConfig resolves the config file and applies the environment overlay.
func loadConfig() (paths.Paths, config.Config, error) {
	pp, err := paths.Resolve(configPath)
	if err != nil {
		return paths.Paths{}, config.Config{}, err
	}
	cfg, err := config.Load(pp.ConfigFile)
	if err != nil {
		return paths.Paths{}, config.Config{}, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return paths.Paths{}, config.Config{}, err
	}
	pp = paths.ApplyConfig(pp, cfg)
	cfg.CacheDir = pp.CacheDir
	return pp, cfg, nil
}

// runtimeEnv is everything a command needs once configuration is settled.
type runtimeEnv struct {
	paths   paths.Paths
	cfg     config.Config
	logger  *zap.Logger
	closer  io.Closer
	session *engine.Session
}

func (e *runtimeEnv) Close() {
	if e.closer != nil {
		_ = e.closer.Close()
	}
}

type sessionSetup struct {
	// console receives warn-level logs; nil keeps them in the log file only.
	console io.Writer
	relay   *tui.Relay
}

// openSession loads configuration, starts logging and builds the engine
// session. Configuration errors stop here before anything is fetched.
func openSession(cmd *cobra.Command, setup sessionSetup) (*runtimeEnv, error) {
	pp, cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	results := cfg.Validate(selector.StrategyNames())
	if config.HasErrors(results) {
		var msgs []string
		for _, r := range results {
			if r.Level == "error" {
				msgs = append(msgs, r.Message)
			}
		}
		return nil, fmt.Errorf("invalid configuration %s: %s", pp.ConfigFile, strings.Join(msgs, "; "))
	}
	if err := pp.EnsureDirs(); err != nil {
		return nil, err
	}

	logger, closer, err := logx.New(logx.Options{LogsDir: pp.LogsDir, Console: setup.console, Verbose: verbose})
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		logger.Warn("config", zap.String("detail", r.Message))
	}
	logger.Debug("session starting",
		zap.String("command", cmd.CommandPath()),
		zap.String("config", pp.ConfigFile),
		zap.String("cache_dir", pp.CacheDir),
		zap.Bool("offline", cfg.Offline))

	opts := []engine.Option{engine.WithLogger(logger)}
	if setup.relay != nil {
		opts = append(opts, engine.WithProgress(setup.relay.Report))
	}
	session, err := engine.New(cfg, opts...)
	if err != nil {
		_ = closer.Close()
		return nil, err
	}
	return &runtimeEnv{paths: pp, cfg: cfg, logger: logger, closer: closer, session: session}, nil
}
