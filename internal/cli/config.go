package cli

import (
	"fmt"

	"github.com/harun/dbperms-mcp/internal/config"
	"github.com/harun/dbperms-mcp/pkg/databricks"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and edit the configuration",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Long: `Load the config file, apply environment overrides and report every
problem found. Exits non-zero when the configuration is invalid.`,
	Args: cobra.NoArgs,
	RunE: runConfigValidate,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with credentials masked",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set one configuration key in the config file",
	Example: `  dbperms-mcp config set databricks.host https://adb-123.azuredatabricks.net
  dbperms-mcp config set tools.deny '["category:shares"]'`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file path",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), config.NewLoader(cfgFile).Path())
		return nil
	},
}

func init() {
	configCmd.AddCommand(configValidateCmd, configShowCmd, configSetCmd, configPathCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := validateConfig(cfg); err != nil {
		return err
	}

	reg, err := filteredRegistry(databricks.NewService(nil), cfg)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Configuration is valid (%d tools exposed)\n", reg.Len())
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), cfg.String())
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	if err := loader.Set(args[0], args[1]); err != nil {
		return err
	}

	// Reject edits that leave the file unreadable
	if _, err := loader.Load(); err != nil {
		return fmt.Errorf("config file no longer loads after setting %s: %w", args[0], err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Set %s in %s\n", args[0], loader.Path())
	return nil
}
