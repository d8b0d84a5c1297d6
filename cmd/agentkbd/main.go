package main

import (
	"fmt"
	"os"

	"github.com/cloo-solutions/agentkb/internal/cli"
	"github.com/cloo-solutions/agentkb/internal/cli/admin"
	"github.com/spf13/cobra"
)

func main() {
	var debug bool

	rootCmd := &cobra.Command{
		Use:   "agentkbd",
		Short: "agentkb daemon and CLI",
		Long:  "agentkb ingests content into per-agent vector knowledge bases and serves semantic search",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			admin.SetupLogging(debug || os.Getenv("AGENTKB_DEBUG") == "true")
		},
		SilenceUsage: true,
	}

	cli.AddHelpJSONFlag(rootCmd)
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.AddCommand(admin.ServeCmd())
	rootCmd.AddCommand(admin.MigrateCmd())
	rootCmd.AddCommand(admin.IngestCmd())
	rootCmd.AddCommand(admin.SearchCmd())
	rootCmd.AddCommand(admin.StatsCmd())
	rootCmd.AddCommand(admin.ClearCmd())

	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	handled, err := cli.CheckHelpJSON(rootCmd, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if handled {
		return
	}
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
