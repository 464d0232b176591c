// Package cmd provides the CLI commands for repoindex.
package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/repoindex/internal/config"
	"github.com/Aman-CERP/repoindex/internal/daemon"
	"github.com/Aman-CERP/repoindex/internal/logging"
	"github.com/Aman-CERP/repoindex/pkg/version"
)

// skipConfig marks commands that must run without a loadable config.
const skipConfig = "skip-config"

// Global flags and the state PersistentPreRunE derives from them.
var (
	configPath string
	logLevel   string
	debugMode  bool

	appConfig      *config.Config
	loggingCleanup func()
)

// NewRootCmd creates the root command for the repoindex CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repoindex",
		Short: "Incremental search indexing for versioned repositories",
		Long: `repoindex keeps search indices in step with repository commits.

It diffs each repository's head against the last indexed commit and
applies only the changes, recovering from interrupted updates. The
daemon runs a scheduler per index kind and, with Redis coordination,
a pool of workers consuming queued index tasks.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("repoindex version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (layered over the user config)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override (debug, info, warn, error)")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.repoindex/logs/")

	cmd.PersistentPreRunE = setup
	cmd.PersistentPostRunE = teardown

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newUpdateCmd())
	cmd.AddCommand(newDropCmd())
	cmd.AddCommand(newPassCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newEnqueueCmd())
	cmd.AddCommand(newTriggerCmd())
	cmd.AddCommand(newRepoCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// setup loads the configuration and installs the default logger.
func setup(cmd *cobra.Command, _ []string) error {
	if _, ok := cmd.Annotations[skipConfig]; ok {
		return nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	appConfig = cfg

	logCfg := logging.Config{
		Level:         cfg.Logging.Level,
		Format:        cfg.Logging.Format,
		FilePath:      cfg.Logging.File,
		MaxSizeMB:     cfg.Logging.MaxSizeMB,
		MaxFiles:      cfg.Logging.MaxFiles,
		WriteToStderr: true,
	}
	if logLevel != "" {
		if !logging.ValidLevel(logLevel) {
			return fmt.Errorf("invalid --log-level %q", logLevel)
		}
		logCfg.Level = logLevel
	}
	if debugMode {
		logCfg.Level = "debug"
		if logCfg.FilePath == "" {
			logCfg.FilePath = logging.DefaultLogPath()
		}
	}

	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	return nil
}

func teardown(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// openComponents opens the stores and managers of the loaded config.
func openComponents(ctx context.Context) (*daemon.Components, error) {
	if appConfig == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	return daemon.Open(ctx, appConfig, slog.Default())
}

// selectKinds returns kind alone, or every enabled kind when kind is empty.
func selectKinds(comp *daemon.Components, kind string) ([]string, error) {
	if kind == "" {
		return comp.Kinds(), nil
	}
	if _, err := comp.Manager(kind); err != nil {
		return nil, err
	}
	return []string{kind}, nil
}

func daemonConfig() daemon.Config {
	return daemon.DefaultConfig(appConfig.DataDir)
}
