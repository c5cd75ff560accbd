package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/harun/dbperms-mcp/pkg/databricks"
	"github.com/harun/dbperms-mcp/pkg/toolexecutor"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var toolsOutput string

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the exposed tools",
	Long: `List the tools exposed after applying the tools policy of the config file.
No workspace credentials are needed.`,
	RunE: runTools,
}

func init() {
	toolsCmd.Flags().StringVarP(&toolsOutput, "output", "o", "table", "output format (table, json, yaml)")
	rootCmd.AddCommand(toolsCmd)
}

// toolInfo is the listing form of a tool definition
type toolInfo struct {
	Name        string                 `json:"name" yaml:"name"`
	Category    string                 `json:"category" yaml:"category"`
	ReadOnly    bool                   `json:"read_only" yaml:"read_only"`
	Description string                 `json:"description" yaml:"description"`
	InputSchema map[string]interface{} `json:"input_schema" yaml:"input_schema"`
}

func runTools(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Listing never calls the workspace, so the service needs no client
	reg, err := filteredRegistry(databricks.NewService(nil), cfg)
	if err != nil {
		return err
	}

	return writeTools(cmd.OutOrStdout(), reg, toolsOutput)
}

func writeTools(w io.Writer, reg *toolexecutor.Registry, format string) error {
	defs := reg.List()
	infos := make([]toolInfo, 0, len(defs))
	for _, def := range defs {
		infos = append(infos, toolInfo{
			Name:        def.Name,
			Category:    string(def.Category),
			ReadOnly:    def.ReadOnly,
			Description: def.Description,
			InputSchema: reg.InputSchema(def.Name),
		})
	}

	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(infos)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(infos); err != nil {
			return err
		}
		return enc.Close()
	case "table", "":
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tCATEGORY\tACCESS")
		for _, info := range infos {
			access := "write"
			if info.ReadOnly {
				access = "read"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", info.Name, info.Category, access)
		}
		fmt.Fprintf(tw, "\n%d tools\n", len(infos))
		return tw.Flush()
	default:
		return fmt.Errorf("unknown output format: %s (must be one of: table, json, yaml)", format)
	}
}
