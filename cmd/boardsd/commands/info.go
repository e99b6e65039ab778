package commands

import (
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"

	"xdao.co/boards/diag"
	"xdao.co/boards/statusapi"
)

var errNoStatusURL = errors.New("no status endpoint configured; use --status-url")

func infoCmd(o *options) *cobra.Command {
	var fromStatus bool
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Print a diagnostics snapshot",
		Long: "Print a diagnostics snapshot of this process after starting its node, " +
			"or with --from-status the snapshot served by --status-url.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")

			if fromStatus {
				if o.cfg.StatusURL == "" {
					return errNoStatusURL
				}
				snap, err := statusapi.NewClient(o.cfg.StatusURL).Info(ctx)
				if err != nil {
					return err
				}
				return enc.Encode(snap)
			}

			var snap diag.Snapshot
			err := o.withApp(func(a *app) error {
				if _, err := a.boot.Database(ctx); err != nil {
					return err
				}
				snap = a.diag.Snapshot(ctx)
				return nil
			})
			if err != nil {
				return err
			}
			return enc.Encode(snap)
		},
	}
	cmd.Flags().BoolVar(&fromStatus, "from-status", false, "fetch the snapshot from the status endpoint")
	return cmd
}
