package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for jscryptoscan.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jscryptoscan",
		Short: "Discover cryptographic algorithms used by a web page's JavaScript",
		Long: `jscryptoscan fetches the scripts a web page loads and identifies the
cryptographic algorithms they use.

Redirects (HTTP, meta refresh and script-driven) are followed to the final
document. Inline and external scripts are analyzed with a local signature
table and, when DEEPSEEK_API_KEY is set, by a remote reasoning model that
describes the algorithms, key derivation and custom routines it finds.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags that apply to all commands
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().Bool("log-json", false, "Write logs as JSON")

	cmd.AddCommand(NewAnalyzeCmd())
	cmd.AddCommand(NewHistoryCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
