package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"ciphera/internal/domain"
)

// resetDeviceCmd triggers the terminal escalation of the key-mismatch
// recovery ladder directly: clear every local device, binding, and
// sync-queue record, and force a fresh identity for this installation.
func resetDeviceCmd() *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "reset-device",
		Short: "Wipe local multi-device state and re-register from scratch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if owner == "" {
				return fmt.Errorf("--owner is required")
			}
			ownerName := domain.Username(owner)

			if err := appCtx.DeviceRegistry.CompleteDeviceReset(ownerName, appCtx.DeviceID); err != nil {
				return fmt.Errorf("resetting device state: %w", err)
			}
			if err := appCtx.DeviceRegistry.ForceReregistration(cmd.Context(), ownerName, appCtx.DeviceID, passphrase); err != nil {
				return fmt.Errorf("re-registering after reset: %w", err)
			}
			fmt.Printf("Device %s reset and re-registered for %s\n", appCtx.DeviceID, ownerName)
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "account username owning this device")
	return cmd
}
