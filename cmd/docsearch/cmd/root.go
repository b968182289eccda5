// Package cmd provides the CLI commands for docsearch.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/docsearch/internal/config"
	"github.com/Aman-CERP/docsearch/internal/errors"
	"github.com/Aman-CERP/docsearch/internal/logging"
	"github.com/Aman-CERP/docsearch/internal/profiling"
	"github.com/Aman-CERP/docsearch/pkg/docsearch"
	"github.com/Aman-CERP/docsearch/pkg/version"
)

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configPath string
	dataDir    string
	debug      bool
	profile    profiling.Options
}

// app carries state from PersistentPreRunE to the commands.
type app struct {
	flags          globalFlags
	logger         *slog.Logger
	logCfg         logging.Config
	loggingCleanup func()
	profiler       *profiling.Session
}

// NewRootCmd creates the root command for the docsearch CLI.
func NewRootCmd() *cobra.Command {
	a := &app{logger: slog.Default()}

	cmd := &cobra.Command{
		Use:   "docsearch",
		Short: "Semantic search over a documentation corpus",
		Long: `docsearch indexes a documentation corpus (a GitHub repository or a
local directory of markdown) into a local vector index and answers
natural-language queries against it.

  docsearch index                 # fetch, chunk and embed the docs
  docsearch search "button styles"
  docsearch status
  docsearch doctor                # check the setup`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("docsearch version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&a.flags.configPath, "config", "", "Config file (default: .docsearch.yaml in the working directory)")
	cmd.PersistentFlags().StringVar(&a.flags.dataDir, "data-dir", "", "Index directory (default: ~/.docsearch)")
	cmd.PersistentFlags().BoolVar(&a.flags.debug, "debug", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&a.flags.profile.CPU, "profile-cpu", "", "Write a CPU profile to this file")
	cmd.PersistentFlags().StringVar(&a.flags.profile.Heap, "profile-mem", "", "Write a heap profile to this file on exit")
	cmd.PersistentFlags().StringVar(&a.flags.profile.Trace, "profile-trace", "", "Write an execution trace to this file")

	cmd.PersistentPreRunE = a.start
	cmd.PersistentPostRunE = a.stop

	cmd.AddCommand(newIndexCmd(a))
	cmd.AddCommand(newSearchCmd(a))
	cmd.AddCommand(newStatusCmd(a))
	cmd.AddCommand(newDoctorCmd(a))
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// Execute runs the root command and prints failures for humans.
func Execute() error {
	err := NewRootCmd().Execute()
	if err != nil {
		_, _ = fmt.Fprint(os.Stderr, errors.FormatForCLI(err))
	}
	return err
}

// start sets up logging and profiling before any command runs.
func (a *app) start(_ *cobra.Command, _ []string) error {
	a.startLogging()
	if !a.flags.profile.Enabled() {
		return nil
	}
	p, err := profiling.Start(a.flags.profile)
	if err != nil {
		return err
	}
	a.profiler = p
	return nil
}

// stop flushes profiles and closes the log file.
func (a *app) stop(_ *cobra.Command, _ []string) error {
	var err error
	if a.profiler != nil {
		err = a.profiler.Stop()
		a.profiler = nil
	}
	if a.loggingCleanup != nil {
		a.loggingCleanup()
		a.loggingCleanup = nil
	}
	return err
}

func (a *app) startLogging() {
	logCfg := logging.DefaultConfig()
	if a.flags.debug {
		logCfg = logging.DebugConfig()
	}
	a.setupLogging(logCfg)
	if a.flags.debug {
		a.logger.Debug("debug_logging_enabled", slog.String("log_file", logCfg.FilePath))
	}
}

// setupLogging replaces the active logger. The CLI stays usable without a
// log file, so setup failures keep the previous logger.
func (a *app) setupLogging(logCfg logging.Config) {
	if a.loggingCleanup != nil && logCfg == a.logCfg {
		return
	}
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return
	}
	if a.loggingCleanup != nil {
		a.loggingCleanup()
	}
	a.logger = logger
	a.logCfg = logCfg
	a.loggingCleanup = cleanup
	slog.SetDefault(logger)
}

// applyLoggingConfig honors the logging section of the loaded config.
func (a *app) applyLoggingConfig(cfg *config.Config) {
	logCfg := a.logCfg
	if logCfg.FilePath == "" {
		logCfg = logging.DefaultConfig()
	}
	if cfg.Logging.File != "" {
		logCfg.FilePath = cfg.Logging.File
	}
	if cfg.Logging.Level != "" && !a.flags.debug {
		logCfg.Level = cfg.Logging.Level
	}
	if cfg.Logging.MaxSizeMB > 0 {
		logCfg.MaxSizeMB = cfg.Logging.MaxSizeMB
	}
	if cfg.Logging.MaxFiles > 0 {
		logCfg.MaxFiles = cfg.Logging.MaxFiles
	}
	a.setupLogging(logCfg)
}

// loadConfig loads layered configuration and applies the flag overrides.
func (a *app) loadConfig() (*config.Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	cfg, err := config.LoadFile(wd, a.flags.configPath)
	if err != nil {
		return nil, errors.ConfigError(err.Error(), nil).
			WithSuggestion("Check " + config.ProjectFileName + " or the file passed to --config")
	}
	if a.flags.dataDir != "" {
		cfg.Index.DataDir = a.flags.dataDir
	}
	a.applyLoggingConfig(cfg)
	a.logger.Debug("config_loaded",
		slog.String("source_kind", cfg.Source.Kind),
		slog.String("data_dir", cfg.Index.DataDir))
	return cfg, nil
}

// openClient loads configuration and opens the index.
func (a *app) openClient(ctx context.Context, opts ...docsearch.Option) (*docsearch.Client, *config.Config, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	opts = append([]docsearch.Option{docsearch.WithLogger(a.logger)}, opts...)
	c, err := docsearch.Open(ctx, cfg, opts...)
	if err != nil {
		return nil, nil, err
	}
	return c, cfg, nil
}

// sourceLabel names the configured source before it is opened.
func sourceLabel(cfg *config.Config) string {
	if cfg.Source.Kind == "dir" {
		if abs, err := filepath.Abs(cfg.Source.Dir); err == nil {
			return "dir:" + abs
		}
		return "dir:" + cfg.Source.Dir
	}
	ref := cfg.Source.Ref
	if ref == "" {
		ref = "main"
	}
	return fmt.Sprintf("github:%s/%s@%s", cfg.Source.Owner, cfg.Source.Repo, ref)
}
