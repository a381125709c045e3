// Package cmd implements the polychat command-line surface: the gateway
// process itself plus migrate/doctor operational subcommands, following
// vanducng-goclaw's flat cmd package (one cobra command per file, all
// registered on rootCmd in init()).
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X github.com/polychat-dev/polychat/cmd.Version=v1.0.0"
var Version = "dev"

var (
	cfgFile     string
	overrideDir string
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "polychat",
	Short: "polychat — multi-platform conversational bot gateway",
	Long:  "polychat: ingests Telegram and Max messages through a shared pipeline of spam filtering, layered chat settings, LLM dispatch with tool-calling, and album-aware media handling.",
	Run: func(cmd *cobra.Command, args []string) {
		runGateway()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.toml", "base config file")
	rootCmd.PersistentFlags().StringVar(&overrideDir, "config-override-dir", "", "directory of override *.toml fragments, merged over --config in filename order")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(gatewayCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(doctorCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("polychat %s\n", Version)
		},
	}
}

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run the gateway process (default command)",
		Run: func(cmd *cobra.Command, args []string) {
			runGateway()
		},
	}
}

// Execute runs the root command, exiting the process non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
