package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func resolveCmd(o *options) *cobra.Command {
	var probe bool
	cmd := &cobra.Command{
		Use:   "resolve <handle>",
		Short: "Resolve a user handle to its content address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(func(a *app) error {
				ctx := cmd.Context()
				addr, err := a.ids.Resolve(ctx, args[0])
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "address\t%s\n", addr)
				if probe {
					a.ids.ClassifyPeer(ctx, addr)
					fmt.Fprintf(w, "status\t%s\n", a.ids.Lookup(args[0]).Status)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&probe, "probe", false, "also check the peer's version marker")
	return cmd
}
