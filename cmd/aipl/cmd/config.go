package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AnshuML/Aipl/internal/config"
	"github.com/AnshuML/Aipl/internal/output"
)

func newConfigCmd(state *rootState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage user configuration",
		Long: `Manage the user/global configuration file.

Configuration precedence (lowest to highest):
  1. Hardcoded defaults
  2. User config (~/.config/aipl/config.yaml)
  3. Project config (.aipl.yaml), or the file given with --config
  4. .env in the working directory
  5. Environment variables (AIPL_*, OPENAI_API_KEY)`,
		Example: `  # Create user config with defaults
  aipl config init

  # Show effective configuration
  aipl config show

  # Print user config file path
  aipl config path`,
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd(state))
	cmd.AddCommand(newConfigPathCmd())

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create user configuration file",
		Long: `Write the default configuration to ~/.config/aipl/config.yaml
(or $XDG_CONFIG_HOME/aipl/config.yaml if XDG_CONFIG_HOME is set).

An existing file is kept unless --force is given, in which case it is
backed up first.`,
		Annotations: skipConfig(),
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, backup, err := config.InitUserConfig(force)
			if err != nil {
				return err
			}
			out := output.New(cmd.OutOrStdout())
			out.Successf("Created user configuration at %s", path)
			if backup != "" {
				out.Statusf("", "Previous file saved to %s", backup)
			}
			out.Status("", "Run 'aipl config show' to verify")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing configuration (keeps a backup)")

	return cmd
}

func newConfigShowCmd(state *rootState) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		Long: `Show the configuration after merging every source. API keys are
redacted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := *state.cfg
			if cfg.Embeddings.OpenAIAPIKey != "" {
				cfg.Embeddings.OpenAIAPIKey = "***"
			}

			if jsonOutput {
				return output.New(cmd.OutOrStdout()).JSON(cfg)
			}
			data, err := yaml.Marshal(&cfg)
			if err != nil {
				return fmt.Errorf("failed to encode config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "path",
		Short:       "Print user config file path",
		Annotations: skipConfig(),
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), config.GetUserConfigPath())
			return nil
		},
	}
}
