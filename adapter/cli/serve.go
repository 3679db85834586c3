package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/creditd/adapter/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook ingestion server",
	Long: `Starts the HTTP server that receives billing gateway webhooks and
serves read-only credit queries. The outbox processor runs in-process
unless disabled, so committed events reach the event bus without a
separate worker.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if container == nil {
		return errors.New("no container configured")
	}
	ctx := cmd.Context()
	cfg := container.Config

	webhookHandler := api.NewWebhookHandler(container.Verifier, container.Reconciler, logger)
	creditsHandler := api.NewCreditsHandler(container.UserRepo, container.LedgerRepo, logger)

	serverCfg := api.DefaultServerConfig()
	if cfg.ListenAddr != "" {
		serverCfg.Addr = cfg.ListenAddr
	}
	server := api.NewServer(serverCfg, webhookHandler, creditsHandler, logger)

	if cfg.OutboxProcessorEnabled {
		if err := container.OutboxProcessor.Start(ctx); err != nil {
			return fmt.Errorf("start outbox processor: %w", err)
		}
		defer container.OutboxProcessor.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
