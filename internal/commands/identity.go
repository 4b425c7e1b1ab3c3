package commands

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/Priceless-P/BoxPeer-Web/internal/identity"
)

// IdentityCmd represents the identity command
var IdentityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Display the node's peer ID",
	Long: `Display the node's peer ID and public key.
The identity is generated and stored on first use.`,
	Args: cobra.NoArgs,
	RunE: runIdentity,
}

func runIdentity(cmd *cobra.Command, args []string) (err error) {
	e, err := setup()
	if err != nil {
		return err
	}
	defer multierr.AppendInvoke(&err, multierr.Invoke(e.close))

	id, err := identity.New(e.store, e.cfg.Identity.Slot, e.log).GetOrCreate(context.Background())
	if err != nil {
		return err
	}
	pub, err := id.PublicKey().Raw()
	if err != nil {
		return fmt.Errorf("failed to read public key: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Peer ID: %s\n", id.PeerID())
	fmt.Fprintf(out, "Public key: %s\n", hex.EncodeToString(pub))
	return nil
}
