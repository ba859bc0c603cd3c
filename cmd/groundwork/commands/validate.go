package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/groundworkhq/groundwork/pkg/config"
)

func newValidateCommand() *cobra.Command {
	var teardown bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the settings file without deploying",
		Long: `Validate the settings file and report every problem at once.

Checks performed:
  - All required keys are present (conditionally required keys are
    attributed to the feature flag that demands them)
  - Values are well-formed (domains, email addresses, ports)
  - The SSH private key file is readable only by its owner`,
		Example: `  # Validate ./groundwork.yml
  groundwork validate

  # Validate the minimal set needed for --destroy
  groundwork validate --teardown`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			applyLogFlags()

			raw, err := config.Load(configPath)
			if err != nil {
				return err
			}

			if teardown {
				_, err = config.ValidateTeardown(raw)
			} else {
				_, err = config.Validate(raw)
			}
			if err != nil {
				fmt.Fprintln(cmd.OutOrStdout(), err)
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", configPath)
			return nil
		},
	}

	cmd.Flags().BoolVar(&teardown, "teardown", false, "check only the keys teardown needs")

	return cmd
}
