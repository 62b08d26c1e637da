// File: cmd/recordings.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/recplay/internal/observability"
	"github.com/xkilldash9x/recplay/internal/upload"
)

func newRecordingsCmd() *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:   "recordings",
		Short: "List the recordings held by the storage service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("server") {
				cfg.SetRecorderServerURL(serverURL)
			}

			rc := cfg.Recorder()
			client, err := upload.New(rc.ServerURL, rc.UploadTimeout, observability.GetLogger())
			if err != nil {
				return err
			}
			names, err := client.List(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(names) == 0 {
				fmt.Fprintln(out, "no recordings")
				return nil
			}
			for _, name := range names {
				fmt.Fprintln(out, name)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "", "storage service base URL (overrides recorder.server_url)")
	return cmd
}
