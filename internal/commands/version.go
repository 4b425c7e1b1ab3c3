package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

const Version = "0.1.0"

// VersionCmd represents the version command
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Display the version of boxpeer-node",
	Long:  `Display the current version of boxpeer-node.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "boxpeer-node version %s\n", Version)
	},
}
