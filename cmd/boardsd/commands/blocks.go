package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ipfs/go-cid"
	"github.com/spf13/cobra"

	"xdao.co/boards/storage"
	"xdao.co/boards/storage/blockstore"
)

func blocksCmd(o *options) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "blocks",
		Short: "Read and write raw blocks in the configured block store",
	}
	cmd.PersistentFlags().StringVar(&dir, "dir", "", "use a localfs block store in dir instead of the configured backends")

	open := func() (storage.CAS, func() error, error) {
		cfg := o.cfg.Blockstore
		if dir != "" {
			cfg = &blockstore.Config{Backends: []blockstore.BackendConfig{{Name: "localfs", Settings: map[string]string{"dir": dir}}}}
		}
		if cfg == nil {
			return nil, nil, errors.New("no block store configured; use --dir or a config blockstore section")
		}
		return cfg.Open()
	}

	put := &cobra.Command{
		Use:   "put <file>",
		Short: "Store a file as a raw block and print its CID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", filepath.Base(args[0]), err)
			}
			cas, closeFn, err := open()
			if err != nil {
				return err
			}
			defer closeFn()
			id, err := cas.Put(b)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id.String())
			return nil
		},
	}

	var outPath string
	get := &cobra.Command{
		Use:   "get <cid>",
		Short: "Fetch a raw block",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := cid.Decode(args[0])
			if err != nil {
				return storage.ErrInvalidCID
			}
			cas, closeFn, err := open()
			if err != nil {
				return err
			}
			defer closeFn()
			b, err := cas.Get(id)
			if err != nil {
				return err
			}
			if outPath == "" {
				_, err = cmd.OutOrStdout().Write(b)
				return err
			}
			return os.WriteFile(outPath, b, 0o600)
		},
	}
	get.Flags().StringVar(&outPath, "out", "", "output file (default stdout)")

	backends := &cobra.Command{
		Use:   "backends",
		Short: "List supported block store backends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, b := range blockstore.List() {
				if b.Description == "" {
					fmt.Fprintln(cmd.OutOrStdout(), b.Name)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", b.Name, b.Description)
			}
			return nil
		},
	}

	cmd.AddCommand(put, get, backends)
	return cmd
}
