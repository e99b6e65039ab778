package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func openCmd(o *options) *cobra.Command {
	var post string
	cmd := &cobra.Command{
		Use:   "open <board>",
		Short: "Open a board's store, optionally append an entry, and list its log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(func(a *app) error {
				ctx := cmd.Context()
				store, err := a.boards.Open(ctx, args[0])
				if err != nil {
					return fmt.Errorf("board %s unavailable: %w", args[0], err)
				}
				if post != "" {
					if _, err := store.Add(ctx, []byte(post)); err != nil {
						return err
					}
				}
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "address\t%s\n", store.Address())
				fmt.Fprintf(w, "entries\t%d\n", store.OpLogLength())
				for _, e := range store.Entries() {
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", e.Clock, e.Hash, e.Author, e.Payload)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&post, "post", "", "entry payload to append")
	return cmd
}
