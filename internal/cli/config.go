package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/defuse/internal/config"
)

func (a *app) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage Defuse configuration",
		Long: `Manage Defuse configuration files and settings.

Configuration hierarchy (highest to lowest priority):
1. CLI flags
2. Environment variables (DEFUSE_*, e.g. DEFUSE_PIPELINE_NUM_Q)
3. Config file (~/.defuse/config.yaml)
4. Defaults`,
	}
	cmd.AddCommand(a.configShowCmd(), a.configInitCmd())
	return cmd
}

func (a *app) configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Long:  `Display the merged configuration (defaults, config file, env vars) as YAML.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.config()
			if err != nil {
				return err
			}

			if used := a.v.ConfigFileUsed(); used != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "Configuration file: %s\n\n", used)
			} else {
				fmt.Fprintf(cmd.ErrOrStderr(), "No configuration file found (using defaults)\n\n")
			}

			data, err := yaml.Marshal(cfg)
			if err != nil {
				return eris.Wrap(err, "marshal config")
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func (a *app) configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Initialize default configuration file",
		Long:  `Create a configuration file holding every default (~/.defuse/config.yaml unless a path is given).`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath(args)
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err == nil && !force {
				return eris.Errorf("config file already exists: %s\nUse 'defuse config show' to view it, or --force to overwrite", path)
			}
			if err := writeDefaultConfig(path); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✓ Created default configuration: %s\n", path)
			fmt.Fprintf(out, "\nAPI keys are read from the environment:\n")
			fmt.Fprintf(out, "  export OPENAI_API_KEY=sk-...\n")
			fmt.Fprintf(out, "  export RUNPOD_API_KEY=... RUNPOD_ENDPOINT_ID=...\n")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configPath(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", eris.Wrap(err, "find home directory")
	}
	return filepath.Join(home, ".defuse", "config.yaml"), nil
}

func writeDefaultConfig(path string) error {
	data, err := yaml.Marshal(config.Default())
	if err != nil {
		return eris.Wrap(err, "marshal config")
	}
	header := "# Defuse configuration\n" +
		"#\n" +
		"# Every key can be overridden with a DEFUSE_ environment variable,\n" +
		"# dots replaced by underscores (pipeline.num_q -> DEFUSE_PIPELINE_NUM_Q).\n\n"

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrap(err, "create config directory")
	}
	if err := os.WriteFile(path, append([]byte(header), data...), 0o644); err != nil {
		return eris.Wrapf(err, "write %s", path)
	}
	return nil
}
