package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"ciphera/internal/domain"
	"ciphera/internal/services/multidevice"
)

// devicesCmd groups the multi-device directory operations: listing the
// devices registered for an account, registering this device, and
// explicitly trusting a peer device.
func devicesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "Manage the multi-device registry",
	}
	cmd.AddCommand(
		devicesListCmd(),
		devicesAddCmd(),
		devicesTrustCmd(),
	)
	return cmd
}

func devicesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <owner>",
		Short: "List the devices registered for owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner := domain.Username(args[0])
			devices, err := appCtx.DeviceRegistry.ListDevices(owner)
			if err != nil {
				return fmt.Errorf("listing devices for %q: %w", owner, err)
			}
			if len(devices) == 0 {
				fmt.Println("No devices registered.")
				return nil
			}
			for _, d := range devices {
				fmt.Printf("%s  status=%-8s fingerprint=%s\n", d.Device, d.Status, d.Fingerprint)
			}
			return nil
		},
	}
}

func devicesAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <owner>",
		Short: "Register this installation as a device for owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner := domain.Username(args[0])

			identity, err := appCtx.IdentityService.LoadIdentity(passphrase)
			if err != nil {
				return fmt.Errorf("loading identity: %w", err)
			}
			rec := domain.DeviceRecord{
				Owner:       owner,
				Device:      appCtx.DeviceID,
				IdentityKey: identity.XPub,
				SigningKey:  identity.EdPub,
				Fingerprint: multidevice.DeviceFingerprint(identity.XPub, appCtx.DeviceID),
			}
			if err := appCtx.DeviceRegistry.EnsureDeviceRegistration(cmd.Context(), owner, rec); err != nil {
				return fmt.Errorf("registering device: %w", err)
			}
			fmt.Printf("Device %s registered for %s (pending trust)\n", appCtx.DeviceID, owner)
			return nil
		},
	}
}

func devicesTrustCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trust <owner> <device>",
		Short: "Explicitly mark a device trusted after out-of-band verification",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner := domain.Username(args[0])
			device := domain.DeviceID(args[1])
			if err := appCtx.DeviceRegistry.TrustDevice(owner, device); err != nil {
				return fmt.Errorf("trusting device %q for %q: %w", device, owner, err)
			}
			fmt.Printf("Device %s trusted for %s\n", device, owner)
			return nil
		},
	}
}
