package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Priceless-P/BoxPeer-Web/internal/blockstore"
	"github.com/Priceless-P/BoxPeer-Web/internal/gateway"
	"github.com/Priceless-P/BoxPeer-Web/internal/identity"
	"github.com/Priceless-P/BoxPeer-Web/internal/node"
	"github.com/Priceless-P/BoxPeer-Web/internal/protocol"
)

// ServeCmd represents the serve command
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve stored content over the retrieval gateway",
	Long: `Serve the node's stored content to fetchers over WebSocket.

The node directory holds:
  - config/boxpeer.toml: node configuration (optional)
  - storage/: durable storage (identity key, content blocks)

When [p2p] is enabled, a libp2p host is started with the node identity.
Stored blocks are announced on the DHT, and CIDs missing locally are
fetched from peers before the gateway answers.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	return serve(ctx, cmd, sigCh)
}

// serve runs the gateway (and the libp2p node when enabled) until stop fires
// or the gateway shuts down
func serve(ctx context.Context, cmd *cobra.Command, stop <-chan os.Signal) (err error) {
	e, err := setup()
	if err != nil {
		return err
	}
	defer multierr.AppendInvoke(&err, multierr.Invoke(e.close))

	id, err := identity.New(e.store, e.cfg.Identity.Slot, e.log).GetOrCreate(ctx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Peer ID: %s\n", id.PeerID())

	blocks, err := e.blocks()
	if err != nil {
		return err
	}

	var source protocol.ContentSource = blocks
	if e.cfg.P2P.Enabled {
		n, err := node.New(ctx, id, e.cfg.P2P, e.log)
		if err != nil {
			return fmt.Errorf("failed to start libp2p host: %w", err)
		}
		defer func() {
			if cerr := n.Close(); cerr != nil {
				e.log.Warn("failed to close libp2p host", zap.Error(cerr))
			}
		}()
		for _, addr := range n.FullAddrs() {
			fmt.Fprintf(out, "Listening on %s\n", addr)
		}
		source = blockstore.NewChain(blocks, n, e.log)

		pubCtx, pubCancel := context.WithCancel(ctx)
		published := make(chan struct{})
		go func() {
			defer close(published)
			count, err := n.PublishAll(pubCtx, blocks)
			if err != nil && pubCtx.Err() == nil {
				e.log.Warn("failed to publish stored blocks", zap.Error(err))
			}
			e.log.Info("published stored blocks", zap.Int("count", count))
		}()
		// runs before the node closes
		defer func() {
			pubCancel()
			<-published
		}()
	}

	gw := gateway.New(ctx, e.cfg, source, e.log)
	if err := gw.Start(); err != nil {
		return fmt.Errorf("failed to start gateway: %w", err)
	}
	defer multierr.AppendInvoke(&err, multierr.Invoke(gw.Stop))
	fmt.Fprintf(out, "Gateway running at %s\n", gw.URL())

	select {
	case <-stop:
		fmt.Fprintln(out, "\nShutting down...")
	case <-gw.Done():
		e.log.Info("gateway context cancelled")
	case <-ctx.Done():
	}
	return nil
}
