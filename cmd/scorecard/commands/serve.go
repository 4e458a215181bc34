package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/jinford/repo-scorecard/internal/interface/api"
)

// shutdownTimeout はサーバ停止時に処理中リクエストを待つ上限
const shutdownTimeout = 10 * time.Second

// ServerStartAction はHTTPサーバを起動するコマンドのアクション
func ServerStartAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	addr := cmd.String("addr")
	if addr == "" {
		addr = appCtx.Config.HTTPAddr
	}

	server := api.NewServer(appCtx.Runner, addr)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting HTTP server", slog.String("addr", addr))
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to run HTTP server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}

	return <-errCh
}
