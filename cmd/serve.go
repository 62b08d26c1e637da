// File: cmd/serve.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/recplay/internal/observability"
	"github.com/xkilldash9x/recplay/internal/server"
)

func newServeCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the storage and dispatch service",
		Long: `Serves POST /save, GET /recordings, POST /run and GET /ping.
Recordings are written to server.recordings_dir; /run launches the playback
engine found in runner.artifact_dir.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.SetServerPort(port)
			}

			logger := observability.GetLogger()
			srv, err := server.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize server: %w", err)
			}

			logger.Info("Starting recording service.",
				zap.String("addr", cfg.Server().Addr()),
				zap.String("recordings_dir", cfg.Server().RecordingsDir),
				zap.String("artifact_dir", cfg.Runner().ArtifactDir))
			return srv.Start(ctx)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 3000, "listen port (overrides server.port and PORT)")
	return cmd
}
