package cli

import (
	"encoding/json"
	"fmt"

	"github.com/harun/dbperms-mcp/pkg/toolexecutor"
	"github.com/spf13/cobra"
)

var callParams string

var callCmd = &cobra.Command{
	Use:   "call <tool>",
	Short: "Call one tool and print its result",
	Long: `Call one tool against the configured workspace and print the response
envelope as JSON. The command exits non-zero when the call fails.`,
	Example: `  dbperms-mcp call get_permission_levels --params '{"object_type":"clusters"}'`,
	Args:    cobra.ExactArgs(1),
	RunE:    runCall,
}

func init() {
	callCmd.Flags().StringVarP(&callParams, "params", "p", "{}", "tool parameters as a JSON object")
	rootCmd.AddCommand(callCmd)
}

func runCall(cmd *cobra.Command, args []string) error {
	var params map[string]interface{}
	if err := json.Unmarshal([]byte(callParams), &params); err != nil {
		return fmt.Errorf("invalid --params: must be a JSON object: %w", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := validateConfig(cfg); err != nil {
		return err
	}

	logs, err := setupLogger(cmd, cfg)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer logs.Close()

	audit, err := openAudit(cfg, cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer audit.Close()

	dispatcher, err := newDispatcher(cfg, nil, audit)
	if err != nil {
		return err
	}

	ctx := toolexecutor.ContextWithCaller(cmd.Context(), "cli")
	env := dispatcher.Dispatch(ctx, args[0], params)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetEscapeHTML(false)
	if err := enc.Encode(env); err != nil {
		return err
	}

	if env.IsError() {
		return fmt.Errorf("tool call failed (%s)", env.Kind)
	}
	return nil
}
