package main

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nao1215/jscryptoscan/internal/config"
)

//go:embed templates/jscryptoscan.yaml
var configTemplate embed.FS

// configTemplatePath is the template's path inside configTemplate.
const configTemplatePath = "templates/jscryptoscan.yaml"

// configFileName is the default configuration file name.
const configFileName = config.DefaultConfigFile

// NewInitCmd creates the init command.
func NewInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a new jscryptoscan configuration file",
		Long: `Initialize creates a new .jscryptoscan configuration file in the current directory.

The generated file includes:
- The inference API endpoint, model and limits
- Crawler timeouts, worker count and script blocklist
- Commented examples for caching, prompts and per-site cookies

Examples:
  # Create .jscryptoscan in current directory
  jscryptoscan init

  # Create config file at a specific path
  jscryptoscan init -o ~/.config/jscryptoscan/config.yaml

  # Force overwrite existing file
  jscryptoscan init -f`,
		Args: cobra.NoArgs,
		RunE: runInitCmd,
	}

	cmd.Flags().StringP("output", "o", configFileName,
		"Output file path for the configuration")
	cmd.Flags().BoolP("force", "f", false,
		"Overwrite existing configuration file")

	return cmd
}

// runInitCmd executes the init command.
func runInitCmd(cmd *cobra.Command, _ []string) error {
	outputPath, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}

	force, err := cmd.Flags().GetBool("force")
	if err != nil {
		return err
	}

	if !force {
		if _, err := os.Stat(outputPath); err == nil {
			return fmt.Errorf("configuration file already exists: %s (use -f to overwrite)", outputPath)
		}
	}

	content, err := configTemplate.ReadFile(configTemplatePath)
	if err != nil {
		return fmt.Errorf("failed to read config template: %w", err)
	}

	dir := filepath.Dir(outputPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	// The file may carry session cookies, so only the owner can read it.
	if err := os.WriteFile(outputPath, content, 0o600); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created configuration file: %s\n", outputPath)
	fmt.Fprintln(out, "\nSet your API key before running an analysis:")
	fmt.Fprintf(out, "  export %s=sk-...\n", config.DefaultAPIKeyEnv)

	return nil
}
