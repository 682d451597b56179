package root

import (
	"github.com/spf13/cobra"
)

// rootCmd is the base command for the onboarding admin CLI. Subcommands
// (bootstrap, tenant, etc.) are attached here.
var rootCmd = &cobra.Command{
	Use:           "arcims",
	Short:         "Onboarding platform admin CLI",
	Long:          "Administrative utilities for the onboarding platform (database bootstrap, tenant management).",
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

// Root returns the mutable root command for wiring from subpackages.
func Root() *cobra.Command {
	return rootCmd
}
