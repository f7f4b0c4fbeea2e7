package cli

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/keepsakehq/keepsake/internal/config"
	"github.com/keepsakehq/keepsake/internal/engine"
	"github.com/keepsakehq/keepsake/internal/gateway"
	"github.com/keepsakehq/keepsake/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log := newLogger()

	store, backend, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	gw := gateway.New(backend, store, cfg.GatewayOptions(), log)
	compactor := engine.NewCompactor(store, nil, cfg.CompactorOptions(), log)

	srv := server.New(store, gw, compactor, server.Options{
		APIToken:        cfg.Server.APIToken,
		RateLimitPerSec: cfg.Server.RateLimitPerSec,
		RateLimitBurst:  cfg.Server.RateLimitBurst,
		Version:         version,
	}, log)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Compaction.Interval > 0 {
		srv.StartCompactionLoop(ctx, cfg.Compaction.Interval)
		log.Info().Dur("interval", cfg.Compaction.Interval).Msg("background compaction enabled")
	}

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", addr).Str("engine", cfg.Storage.Engine).Msg("keepsake serving")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			os.Exit(1)
		}
	}()

	<-done
	log.Info().Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
