package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	var destroy bool

	rootCmd := &cobra.Command{
		Use:   "groundwork",
		Short: "Groundwork - Single-host deployment orchestrator",
		Long: `Groundwork drives a full single-host deployment from one settings file:
it provisions the infrastructure, waits for the host to come up, configures
the application stack and reconciles TLS certificates, in one sequential run.

The workflow:
  - Validate the settings file (all problems reported at once)
  - Provision the server, DNS records and optional volumes
  - Wait for the host to answer on SSH, then let cloud-init settle
  - Run the configuration engine (bootstrap pass, HTTP only)
  - Reconcile the TLS certificate for the configured domains
  - Re-run the configuration engine with SSL enabled when a certificate exists

Rerunning after a failure is safe: every step is idempotent and the run
resumes from current infrastructure state.`,
		Example: `  # Deploy using ./groundwork.yml
  groundwork

  # Deploy with an explicit settings file
  groundwork --config production.yml

  # Tear everything down
  groundwork --destroy`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if destroy {
				return runWorkflow(cmd.Context(), cmd.OutOrStdout(), workflowTeardown)
			}
			return runWorkflow(cmd.Context(), cmd.OutOrStdout(), workflowApply)
		},
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "groundwork.yml", "settings file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.Flags().BoolVar(&destroy, "destroy", false, "tear down the provisioned infrastructure")

	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}
