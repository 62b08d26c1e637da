// File: cmd/run.go
package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/recplay/api/schemas"
	"github.com/xkilldash9x/recplay/internal/observability"
	"github.com/xkilldash9x/recplay/internal/upload"
)

func newRunCmd() *cobra.Command {
	var (
		serverURL string
		mode      string
	)

	cmd := &cobra.Command{
		Use:   "run <recording>",
		Short: "Ask the storage service to replay a recording",
		Long: `Dispatches a stored recording to the playback engine through POST /run
and prints the engine's output. Modes: local, remote. When --mode is omitted
the service applies its runner.default_mode.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("server") {
				cfg.SetRecorderServerURL(serverURL)
			}

			client, err := upload.New(cfg.Recorder().ServerURL, cfg.Recorder().UploadTimeout, observability.GetLogger())
			if err != nil {
				return err
			}

			runCtx := ctx
			if t := cfg.Runner().Timeout; t > 0 {
				var cancel context.CancelFunc
				// Leave the service room to report the kill before the client gives up.
				runCtx, cancel = context.WithTimeout(ctx, t+cfg.Recorder().UploadTimeout)
				defer cancel()
			}

			res, err := client.Run(runCtx, schemas.RunRequest{File: args[0], Mode: strings.ToLower(mode)})
			if err != nil {
				return err
			}
			printRunResult(cmd, res)
			if !res.OK {
				return fmt.Errorf("playback failed with exit code %d", res.ExitCode)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "", "storage service base URL (overrides recorder.server_url)")
	cmd.Flags().StringVarP(&mode, "mode", "m", "", "playback mode: local or remote")
	return cmd
}

func printRunResult(cmd *cobra.Command, res *schemas.RunResult) {
	out := cmd.OutOrStdout()
	if res.Stdout != "" {
		fmt.Fprint(out, ensureNewline(res.Stdout))
	}
	if res.Stderr != "" {
		fmt.Fprint(cmd.ErrOrStderr(), ensureNewline(res.Stderr))
	}
	fmt.Fprintf(out, "exit code: %d\n", res.ExitCode)
}

func ensureNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
