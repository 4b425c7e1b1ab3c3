package commands

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

// LsCmd represents the ls command
var LsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List CIDs in the local blockstore",
	Long: `List the CIDs held in the local blockstore.
These are the files the gateway can serve.`,
	Args: cobra.NoArgs,
	RunE: runLs,
}

func runLs(cmd *cobra.Command, args []string) (err error) {
	e, err := setup()
	if err != nil {
		return err
	}
	defer multierr.AppendInvoke(&err, multierr.Invoke(e.close))

	bs, err := e.blocks()
	if err != nil {
		return err
	}
	cids, err := bs.List(context.Background())
	if err != nil {
		return fmt.Errorf("failed to list blockstore: %w", err)
	}

	names := make([]string, len(cids))
	for i, c := range cids {
		names[i] = c.String()
	}
	sort.Strings(names)

	out := cmd.OutOrStdout()
	if len(names) == 0 {
		fmt.Fprintln(out, "No files in blockstore")
		return nil
	}
	for _, name := range names {
		fmt.Fprintln(out, name)
	}
	return nil
}
