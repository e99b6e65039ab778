package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"xdao.co/boards/kv"
)

func favouritesCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "favourites",
		Aliases: []string{"favorites"},
		Short:   "List favourite boards",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(func(a *app) error {
				boards, err := favourites(a.st.Settings)
				if err != nil {
					return err
				}
				for _, b := range boards {
					fmt.Fprintln(cmd.OutOrStdout(), b)
				}
				return nil
			})
		},
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "add <board>",
			Short: "Add a favourite board",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return o.withApp(func(a *app) error {
					return updateFavourites(a.st.Settings, func(boards []string) []string {
						for _, b := range boards {
							if b == args[0] {
								return boards
							}
						}
						return append(boards, args[0])
					})
				})
			},
		},
		&cobra.Command{
			Use:   "remove <board>",
			Short: "Remove a favourite board",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return o.withApp(func(a *app) error {
					return updateFavourites(a.st.Settings, func(boards []string) []string {
						out := boards[:0]
						for _, b := range boards {
							if b != args[0] {
								out = append(out, b)
							}
						}
						return out
					})
				})
			},
		},
	)
	return cmd
}

func favourites(s kv.Store) ([]string, error) {
	var boards []string
	if _, err := kv.GetJSON(s, kv.FavouriteBoardsKey, &boards); err != nil {
		return nil, err
	}
	return boards, nil
}

func updateFavourites(s kv.Store, update func([]string) []string) error {
	boards, err := favourites(s)
	if err != nil {
		return err
	}
	return kv.SetJSON(s, kv.FavouriteBoardsKey, update(boards))
}
