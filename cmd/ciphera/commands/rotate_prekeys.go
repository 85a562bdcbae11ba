package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"ciphera/internal/domain"
)

// rotatePreKeysCmd regenerates the Signed Pre-Key and a fresh batch of
// One-Time Pre-Keys, then republishes the bundle to the relay. Intended to
// run on the interval in SPEC_FULL's signed pre-key rotation schedule,
// whether invoked by an operator or a cron-style caller.
func rotatePreKeysCmd() *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "rotate-prekeys <username>",
		Short: "Rotate the signed pre-key and one-time pre-keys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			usernameValue := domain.Username(args[0])

			_, _, err := appCtx.PreKeyService.GenerateAndStorePreKeys(passphrase, count)
			if err != nil {
				return fmt.Errorf("rotating prekeys: %w", err)
			}

			bundle, err := appCtx.PreKeyService.LoadPreKeyBundle(passphrase, usernameValue, relayURL)
			if err != nil {
				return fmt.Errorf("loading rotated bundle for %q: %w", usernameValue, err)
			}

			if err := appCtx.RelayClient.RegisterPreKeyBundle(cmd.Context(), bundle); err != nil {
				return fmt.Errorf("republishing rotated bundle: %w", err)
			}

			fmt.Printf("Rotated pre-keys for %s (%d one-time keys)\n", usernameValue, count)
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 10, "number of one-time pre-keys to generate")
	return cmd
}
