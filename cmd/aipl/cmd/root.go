// Package cmd provides the CLI commands for aipl.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/AnshuML/Aipl/internal/config"
	"github.com/AnshuML/Aipl/internal/errors"
	"github.com/AnshuML/Aipl/internal/logging"
	"github.com/AnshuML/Aipl/internal/profiling"
	"github.com/AnshuML/Aipl/internal/service"
	"github.com/AnshuML/Aipl/pkg/version"
)

// skipConfigAnnotation marks commands that run without loading config or
// opening the log file.
const skipConfigAnnotation = "aipl/skip-config"

// rootState is shared by every subcommand of one root command.
type rootState struct {
	configFile string
	debug      bool
	embedder   string
	profile    profiling.Config

	cfg         *config.Config
	prevLogger  *slog.Logger
	logsCleanup func()
	profiler    *profiling.Session
}

// NewRootCmd creates the root command for the aipl CLI.
func NewRootCmd() *cobra.Command {
	cmd, _ := newRoot()
	return cmd
}

func newRoot() (*cobra.Command, *rootState) {
	state := &rootState{}

	cmd := &cobra.Command{
		Use:   "aipl",
		Short: "Department document store with hybrid retrieval",
		Long: `aipl stores documents per department and answers questions by
combining keyword (BM25) and semantic (vector) retrieval.

Documents live in a local SQLite chunk store. Each department has its own
vector index, rebuilt on demand or by the drop-folder watcher.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("aipl version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&state.configFile, "config", "c", "", "Config file (default: .aipl.yaml in the working directory)")
	cmd.PersistentFlags().BoolVar(&state.debug, "debug", false, "Enable debug logging to stderr and ~/.aipl/logs/")
	cmd.PersistentFlags().StringVar(&state.embedder, "embedder", "", "Override the embedding provider (openai, ollama, static)")
	cmd.PersistentFlags().StringVar(&state.profile.CPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&state.profile.Heap, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&state.profile.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = func(c *cobra.Command, _ []string) error {
		if skipsConfig(c) {
			return nil
		}
		return state.setup()
	}
	cmd.PersistentPostRunE = func(_ *cobra.Command, _ []string) error {
		state.finish()
		return nil
	}

	cmd.AddCommand(newAddCmd(state))
	cmd.AddCommand(newIngestCmd(state))
	cmd.AddCommand(newDeleteCmd(state))
	cmd.AddCommand(newListCmd(state))
	cmd.AddCommand(newDepartmentsCmd(state))
	cmd.AddCommand(newQueryCmd(state))
	cmd.AddCommand(newRebuildCmd(state))
	cmd.AddCommand(newPurgeCmd(state))
	cmd.AddCommand(newStatusCmd(state))
	cmd.AddCommand(newVerifyCmd(state))
	cmd.AddCommand(newWatchCmd(state))
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newConfigCmd(state))
	cmd.AddCommand(newVersionCmd())

	return cmd, state
}

// Execute runs the root command and prints any error to stderr.
func Execute() error {
	cmd, state := newRoot()
	err := cmd.Execute()
	state.finish()
	if err != nil {
		fmt.Fprint(os.Stderr, errors.FormatForCLI(err))
	}
	return err
}

func skipsConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations[skipConfigAnnotation] == "true" {
			return true
		}
	}
	return false
}

func skipConfig() map[string]string {
	return map[string]string{skipConfigAnnotation: "true"}
}

// setup loads configuration and installs the file logger.
func (s *rootState) setup() error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}
	cfg, err := config.Load(cwd, s.configFile)
	if err != nil {
		return err
	}
	if s.embedder != "" {
		cfg.Embeddings.Provider = s.embedder
	}
	s.cfg = cfg

	logCfg := logging.Config{
		Level:         cfg.Logging.Level,
		FilePath:      cfg.Logging.File,
		MaxSizeMB:     cfg.Logging.MaxSizeMB,
		MaxFiles:      cfg.Logging.MaxFiles,
		WriteToStderr: cfg.Logging.Stderr,
	}
	if logCfg.FilePath == "" {
		logCfg.FilePath = logging.DefaultLogPath()
	}
	if s.debug {
		logCfg.Level = "debug"
		logCfg.WriteToStderr = true
	}

	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	s.prevLogger = slog.Default()
	s.logsCleanup = cleanup
	slog.SetDefault(logger)
	slog.Debug("config_loaded",
		slog.String("data_dir", cfg.Storage.DataDir),
		slog.String("provider", cfg.Embeddings.Provider))

	if s.profile.Enabled() {
		if s.profiler, err = profiling.Start(s.profile); err != nil {
			return err
		}
	}
	return nil
}

// finish stops profiling, restores the previous logger and closes the log
// file. Safe to call more than once.
func (s *rootState) finish() {
	if s.profiler != nil {
		if err := s.profiler.Stop(); err != nil {
			slog.Warn("profiling_stop_failed", slog.String("error", err.Error()))
		}
		s.profiler = nil
	}
	if s.logsCleanup == nil {
		return
	}
	slog.SetDefault(s.prevLogger)
	s.logsCleanup()
	s.logsCleanup = nil
}

// openService builds a Service from the loaded configuration.
func (s *rootState) openService() (*service.Service, error) {
	if s.cfg == nil {
		return nil, errors.ConfigError("configuration not loaded", nil)
	}
	return service.New(s.cfg)
}
