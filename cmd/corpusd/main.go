// Corpusd is the tenant-scoped knowledge retrieval daemon.
//
// It ingests workspace entities (files, meetings, tasks, messages,
// notes) into per-organization corpora, backed by an embedded chromem
// store or a remote Qdrant server, and answers semantic queries scoped
// to the current tenant over HTTP.
//
// Usage:
//
//	# Start the daemon with defaults
//	corpusd serve
//
//	# Configure via file and environment
//	corpusd serve --config ~/.config/corpusd/config.yaml
//	SERVER_PORT=8080 RETRIEVAL_PROVIDER=qdrant corpusd serve
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "corpusd",
	Short: "Tenant-scoped knowledge retrieval daemon",
	Long: `corpusd ingests workspace entities into per-organization knowledge
corpora and answers semantic queries scoped to the current tenant.`,
	Version: version,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("corpusd\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
