package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/duealert/pkg/models"
)

var capabilityCmd = &cobra.Command{
	Use:   "capability",
	Short: "Show or change the desktop notification permission",
	Long: `Commands for the stored desktop notification decision. A running engine
watches the file and applies changes immediately.`,
}

var capabilityStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the stored notification permission",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Capability == nil {
			return fmt.Errorf("capability file not initialized")
		}
		state, err := Capability.Load()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", state, Capability.Path())
		return nil
	},
}

func capabilitySetter(state models.CapabilityState, short string) *cobra.Command {
	return &cobra.Command{
		Use:   stateVerb(state),
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if Capability == nil {
				return fmt.Errorf("capability file not initialized")
			}
			if err := Capability.Save(state); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Desktop notifications %s.\n", state)
			return nil
		},
	}
}

func stateVerb(state models.CapabilityState) string {
	if state == models.CapabilityGranted {
		return "grant"
	}
	return "deny"
}

var capabilityResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget the stored decision so the next start asks again",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Capability == nil {
			return fmt.Errorf("capability file not initialized")
		}
		if err := Capability.Reset(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Notification permission reset.")
		return nil
	},
}

func init() {
	capabilityCmd.AddCommand(
		capabilityStatusCmd,
		capabilitySetter(models.CapabilityGranted, "Allow desktop notifications"),
		capabilitySetter(models.CapabilityDenied, "Block desktop notifications"),
		capabilityResetCmd,
	)
	rootCmd.AddCommand(capabilityCmd)
}
