package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Priceless-P/BoxPeer-Web/internal/commands"
)

var rootCmd = &cobra.Command{
	Use:   "boxpeer-node",
	Short: "BoxPeer client node",
	Long: `boxpeer-node is a BoxPeer client node.
It keeps a persistent Ed25519 identity, fetches content by CID from a
retrieval gateway over WebSocket, and serves its own stored content to
other nodes.

Running without a subcommand is the same as "serve".

The --dir directory holds:
  - config/boxpeer.toml: node configuration (optional)
  - storage/: durable storage (identity key, content blocks)`,
	SilenceUsage: true,
	Args:         cobra.NoArgs,
	RunE:         commands.ServeCmd.RunE,
}

func init() {
	commands.AddPersistentFlags(rootCmd)

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.FetchCmd)
	rootCmd.AddCommand(commands.IdentityCmd)
	rootCmd.AddCommand(commands.AddCmd)
	rootCmd.AddCommand(commands.LsCmd)
	rootCmd.AddCommand(commands.VersionCmd)
	rootCmd.AddCommand(commands.AboutCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
