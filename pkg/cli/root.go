// Package cli wires the rcgraph commands. Each command is an ordinary
// caller of the memory, graph and cache packages and prints a short
// report of what it observed.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"rcgraph/pkg/config"
	"rcgraph/pkg/logger"
	"rcgraph/pkg/memory"
)

// app carries the state shared by all subcommands once the root has
// loaded its configuration.
type app struct {
	cfg  *config.Config
	mode memory.Mode
	lggr logger.Logger

	// injected loggers are owned by the caller and not synced
	injected bool
}

// NewRootCmd builds the command tree. A nil lggr means a production
// logger is built from the loaded configuration.
func NewRootCmd(lggr logger.Logger) *cobra.Command {
	a := &app{lggr: lggr, injected: lggr != nil}
	var (
		cfgPath  string
		envFile  string
		mode     string
		logLevel string
	)

	root := &cobra.Command{
		Use:   "rcgraph",
		Short: "Reference-counted node graphs with strong and weak edges",
		Long: `rcgraph exercises shared ownership with strong and weak handles:
strong cycles that leak, weak back edges that do not, runtime-checked
borrows and concurrent clone/release.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgPath, envFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("mode") {
				cfg.Mode = mode
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return a.init(cfg)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if !a.injected && a.lggr != nil {
				_ = a.lggr.Sync()
			}
		},
	}

	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "rcgraph.yaml", "Config file (optional)")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Dotenv file loaded before the config (optional)")
	root.PersistentFlags().StringVarP(&mode, "mode", "m", "", "Memory mode: single or threadsafe")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")

	root.AddCommand(
		a.newLeakCmd(),
		a.newWeakCmd(),
		a.newStressCmd(),
		a.newBorrowCmd(),
		a.newCacheCmd(),
		a.newInspectCmd(),
	)
	return root
}

func (a *app) init(cfg *config.Config) error {
	mode, err := cfg.MemoryMode()
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.mode = mode
	if a.injected {
		return nil
	}
	lggr, err := cfg.Logger()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	a.lggr = lggr.Named("rcgraph")
	return nil
}

// Execute runs the command tree against os.Args.
func Execute() error {
	return NewRootCmd(nil).Execute()
}
