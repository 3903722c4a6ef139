// -- cmd/serve.go --
package cmd

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/halcyondata/browser-operator/internal/browser"
	"github.com/halcyondata/browser-operator/internal/config"
	"github.com/halcyondata/browser-operator/internal/jobs"
	"github.com/halcyondata/browser-operator/internal/mcp"
	"github.com/halcyondata/browser-operator/internal/notes"
	"github.com/halcyondata/browser-operator/internal/observability"
	"github.com/halcyondata/browser-operator/internal/operator"
	"github.com/halcyondata/browser-operator/internal/oracle"
)

const shutdownGrace = 30 * time.Second

func newServeCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the JSON-RPC surface over stdio.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	// Stdout carries the protocol stream, so the console core goes to stderr.
	observability.InitializeLogger(cfg.Logger)
	defer observability.Sync()
	logger := observability.GetLogger()
	logger.Info("Starting browser operator.", zap.String("version", Version))

	sessions := browser.NewManager(cfg, logger)

	oc, err := oracle.NewClient(cfg.Oracle, cfg.Browser.ViewportWidth, cfg.Browser.ViewportHeight, logger)
	if err != nil {
		return err
	}

	op := operator.New(sessions, oc, cfg, logger)
	jm := jobs.NewManager(op, cfg.Jobs, cfg.Agent.OperationTimeout, logger)

	ns, err := notes.NewStore(cfg.Notes.Dir, logger)
	if err != nil {
		return err
	}

	srv := mcp.NewServer(jm, op, ns, logger)
	serveErr := srv.Serve(ctx, os.Stdin, os.Stdout)
	if errors.Is(serveErr, context.Canceled) {
		serveErr = nil
	}

	// Drain in dependency order: stop accepting and finishing jobs first,
	// then flush and close the sessions those jobs were using.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := jm.Close(shutdownCtx); err != nil {
		logger.Warn("Job drain did not complete cleanly.", zap.Error(err))
	}
	if err := sessions.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Session shutdown did not complete cleanly.", zap.Error(err))
	}

	logger.Info("Browser operator stopped.")
	return serveErr
}
