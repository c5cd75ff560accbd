// Command dbperms-mcp serves Databricks permissions and credentials
// management as MCP tools.
package main

import (
	"fmt"
	"os"

	"github.com/harun/dbperms-mcp/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
