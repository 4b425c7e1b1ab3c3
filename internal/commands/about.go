package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// AboutCmd represents the about command
var AboutCmd = &cobra.Command{
	Use:   "about",
	Short: "Display information about boxpeer-node",
	Long:  `Display project information for boxpeer-node.`,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "boxpeer-node - BoxPeer client node")
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Fetches content by CID from a BoxPeer retrieval gateway")
		fmt.Fprintln(out, "and serves locally stored content to other nodes.")
		fmt.Fprintln(out, "Project URL: https://github.com/Priceless-P/BoxPeer-Web")
	},
}
