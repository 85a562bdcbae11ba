package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"ciphera/internal/domain"
)

// conversationCmd groups operations on a multi-device conversation binding.
func conversationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conversation",
		Short: "Manage multi-device conversation bindings",
	}
	cmd.AddCommand(conversationSetupCmd())
	return cmd
}

func conversationSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup <conversation> <peer>",
		Short: "Bind a conversation to every trusted device of peer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			conv := domain.ConversationID(args[0])
			peer := domain.Username(args[1])

			bindings, err := appCtx.ConversationBinder.SetupConversationEncryption(cmd.Context(), conv, peer)
			if err != nil {
				return fmt.Errorf("setting up conversation %q with %q: %w", conv, peer, err)
			}
			fmt.Printf("Conversation %s bound to %d device(s) of %s\n", conv, len(bindings), peer)
			for _, b := range bindings {
				fmt.Printf("  device=%s fingerprint=%s\n", b.Device, b.DeviceFingerprint)
			}
			return nil
		},
	}
}
