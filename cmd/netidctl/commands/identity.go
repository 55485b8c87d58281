package commands

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matheus3301/netid/internal/identity"
)

// identityCmd works offline: it never contacts the daemon.
func identityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Encode and decode identities",
	}

	var primary, secondary string
	encode := &cobra.Command{
		Use:   "encode",
		Short: "Encode an identity to its tagged binary form (hex)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := identity.New(primary, secondary)
			if err != nil {
				return err
			}
			b, err := id.Encode()
			if err != nil {
				return err
			}
			printIdentity(id, b)
			return nil
		},
	}
	encode.Flags().StringVar(&primary, "primary", "", "primary component")
	encode.Flags().StringVar(&secondary, "secondary", "", "secondary component")

	decode := &cobra.Command{
		Use:   "decode <hex|display-form>",
		Short: "Decode a hex encoding or a p:/s: display form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := decodeIdentity(args[0])
			if err != nil {
				return err
			}
			b, err := id.Encode()
			if err != nil {
				return err
			}
			printIdentity(id, b)
			return nil
		},
	}

	cmd.AddCommand(encode, decode)
	return cmd
}

// decodeIdentity accepts either the hex of the binary encoding or the
// display form produced by Identity.String.
func decodeIdentity(s string) (identity.Identity, error) {
	if b, err := hex.DecodeString(s); err == nil && len(b) > 0 {
		return identity.Decode(b)
	}
	return identity.Parse(s)
}

func printIdentity(id identity.Identity, encoded []byte) {
	if jsonOut {
		outputJSON(map[string]any{
			"display":     id.String(),
			"primary":     id.Primary(),
			"secondary":   id.Secondary(),
			"tag":         int(id.Tag()),
			"encoded":     hex.EncodeToString(encoded),
			"fingerprint": id.Fingerprint(),
		})
		return
	}
	fmt.Printf("Display:     %s\n", id.String())
	fmt.Printf("Primary:     %s\n", id.Primary())
	fmt.Printf("Secondary:   %s\n", id.Secondary())
	fmt.Printf("Tag:         %d\n", id.Tag())
	fmt.Printf("Encoded:     %s\n", hex.EncodeToString(encoded))
	fmt.Printf("Fingerprint: %s\n", id.Fingerprint())
}
