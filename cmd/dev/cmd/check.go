package cmd

import (
	"fmt"
	"log/slog"

	"github.com/gophertribe/devtool/test"
	"github.com/spf13/cobra"
)

// CheckCmd runs the unit tests and the linters; --integ adds the hardware
// tests that need an adapter plugged in.
func CheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run tests and linting",
		RunE: func(cmd *cobra.Command, args []string) error {
			lint, _ := cmd.Flags().GetBool("lint")
			integ, _ := cmd.Flags().GetBool("integ")
			slog.Info("running tests")
			if err := test.Test(); err != nil {
				return fmt.Errorf("failed to run tests: %w", err)
			}
			if lint {
				slog.Info("running linters")
				if err := test.Lint(); err != nil {
					return fmt.Errorf("failed to run linting: %w", err)
				}
			}
			if integ {
				slog.Info("running integration tests")
				if err := test.Integ(); err != nil {
					return fmt.Errorf("failed to run integration testing: %w", err)
				}
			}
			return nil
		},
	}
	cmd.Flags().Bool("lint", true, "run linters after the tests")
	cmd.Flags().Bool("integ", false, "run integration tests against a connected adapter")
	return cmd
}
