package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Priceless-P/BoxPeer-Web/internal/identity"
	"github.com/Priceless-P/BoxPeer-Web/internal/node"
)

// AddCmd represents the add command
var AddCmd = &cobra.Command{
	Use:   "add <file>...",
	Short: "Add files to the local blockstore",
	Long: `Add files to the local blockstore so the gateway can serve them.
Prints the CID of each file.

When [p2p] is enabled, each file is also announced on the DHT.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAdd,
}

func runAdd(cmd *cobra.Command, args []string) (err error) {
	ctx := context.Background()

	e, err := setup()
	if err != nil {
		return err
	}
	defer multierr.AppendInvoke(&err, multierr.Invoke(e.close))

	bs, err := e.blocks()
	if err != nil {
		return err
	}

	var n *node.Node
	if e.cfg.P2P.Enabled {
		id, err := identity.New(e.store, e.cfg.Identity.Slot, e.log).GetOrCreate(ctx)
		if err != nil {
			return err
		}
		n, err = node.New(ctx, id, e.cfg.P2P, e.log)
		if err != nil {
			return fmt.Errorf("failed to start libp2p host: %w", err)
		}
		defer multierr.AppendInvoke(&err, multierr.Invoke(n.Close))
	}

	out := cmd.OutOrStdout()
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		c, err := bs.Put(ctx, data)
		if err != nil {
			return fmt.Errorf("failed to add %s: %w", path, err)
		}
		if n != nil {
			if pc, err := n.Publish(ctx, data); err != nil {
				return fmt.Errorf("failed to publish %s: %w", path, err)
			} else if !pc.Equals(c) {
				e.log.Warn("published under a different CID", zap.Stringer("stored", c), zap.Stringer("published", pc))
			}
		}
		fmt.Fprintf(out, "%s\t%s\n", c, path)
	}
	return nil
}
