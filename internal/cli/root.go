package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ppiankov/defuse/internal/config"
	"github.com/ppiankov/defuse/internal/pipeline"
)

const version = "defuse v0.1.0"

// app holds the state of one command invocation.
type app struct {
	v        *viper.Viper
	cfgFile  string
	verbose  bool
	runID    string
	closeLog func()
}

// Execute runs the root command with the process arguments.
func Execute() error {
	return run(os.Args[1:], os.Stdout, os.Stderr)
}

func run(args []string, stdout, stderr io.Writer) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{v: viper.New(), runID: uuid.NewString()}
	defer a.close()

	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "defuse",
		Short: "Defuse - confusing question generation and defusion checks",
		Long: `Defuse builds question sets whose premises contradict a source document.

Facts are extracted from each document, partly replaced with plausible
fabrications, and turned into questions. A response model answers every
question, and an evaluation model checks whether the question carried a
false assumption and whether the answer pointed it out.

Tables are CSV files. Each stage appends columns and never overwrites them.`,
		SilenceErrors:     true,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default: $HOME/.defuse/config.yaml)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "verbose output (debug logging)")

	root.AddCommand(
		a.versionCmd(),
		a.configCmd(),
		a.modelsCmd(),
		a.stagesCmd(),
		a.stageCmd(),
		a.runCmd(),
		a.metricsCmd(),
	)
	return root
}

func (a *app) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

// setup reads the config file and installs the logger.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	if a.cfgFile == "" {
		if home, err := os.UserHomeDir(); err == nil {
			a.v.AddConfigPath(filepath.Join(home, ".defuse"))
		}
		a.v.SetConfigType("yaml")
		a.v.SetConfigName("config")
	}
	config.Configure(a.v, a.cfgFile)
	if err := config.Read(a.v); err != nil {
		return err
	}

	logCfg := config.LogConfig{
		Level:  a.v.GetString("log.level"),
		Format: a.v.GetString("log.format"),
	}
	if a.verbose {
		logCfg.Level = "debug"
	}
	logger, closeLog, err := config.InitLogger(logCfg, zap.String("run_id", a.runID))
	if err != nil {
		return err
	}
	a.closeLog = closeLog

	if used := a.v.ConfigFileUsed(); used != "" {
		logger.Debug("using config file", zap.String("path", used))
	}
	return nil
}

func (a *app) close() {
	if a.closeLog != nil {
		a.closeLog()
	}
}

// config decodes and validates the merged configuration.
func (a *app) config() (*config.Config, error) {
	return config.Load(a.v)
}

// pipeline wires gateway, prompts and stage runner from the configuration.
func (a *app) pipeline() (*pipeline.Pipeline, error) {
	cfg, err := a.config()
	if err != nil {
		return nil, err
	}
	gw, err := cfg.BuildGateway()
	if err != nil {
		return nil, err
	}
	store, err := cfg.LoadPrompts()
	if err != nil {
		return nil, err
	}
	return cfg.BuildPipeline(gw, store)
}
