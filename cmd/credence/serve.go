package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/benaskins/credence/internal/api"
	"github.com/benaskins/credence/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the credence API",
	Long:  "Serve the key management API and reload the service catalog when the config file changes.",
	RunE:  runServe,
}

var serveAddr string

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "TCP address for the API (overrides api_addr)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	rt, err := setup()
	if err != nil {
		return err
	}
	defer rt.Close()

	addr := rt.cfg.APIAddr
	if serveAddr != "" {
		addr = serveAddr
	}

	slog.Info("credence starting", "config", rt.cfgPath, "store", rt.cfg.Store.Driver, "sources", rt.resolver.Sources())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	srv := api.NewServer(rt.resolver, rt.registry, rt.store, api.Options{
		Gatherer:       rt.prom,
		WriteRateLimit: rt.cfg.WriteRateLimit,
		WriteBurst:     rt.cfg.WriteBurst,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenTCP(addr)
	}()

	go func() {
		if err := config.Watch(ctx, rt.cfgPath, func() { reloadCatalog(rt) }); err != nil {
			slog.Warn("config watcher stopped", "error", err)
		}
	}()

	select {
	case sig := <-sigCh:
		slog.Info("received signal, shutting down", "signal", sig)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("API server: %w", err)
		}
	}

	cancel()
	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("API shutdown", "error", err)
	}

	slog.Info("credence stopped")
	return nil
}

// reloadCatalog swaps in service definitions from a changed config file.
// Store and listener settings need a restart.
func reloadCatalog(rt *runtime) {
	cfg, _, err := loadConfig()
	if err != nil {
		slog.Error("config reload failed, keeping current catalog", "error", err)
		return
	}
	if err := rt.registry.Replace(cfg.Catalog()); err != nil {
		slog.Error("config reload failed, keeping current catalog", "error", err)
		return
	}
	if changed := restartOnlyChanges(rt.cfg, cfg); len(changed) > 0 {
		slog.Warn("config changes take effect after restart", "settings", changed)
	}
	slog.Info("service catalog reloaded", "services", len(rt.registry.All()))
}

// restartOnlyChanges names the settings that differ between old and next
// but are fixed for the life of the process.
func restartOnlyChanges(old, next *config.Config) []string {
	var changed []string
	if old.Store != next.Store {
		changed = append(changed, "store")
	}
	if old.APIAddr != next.APIAddr {
		changed = append(changed, "api_addr")
	}
	if old.StrictCallerMatch != next.StrictCallerMatch {
		changed = append(changed, "strict_caller_match")
	}
	if old.DisableFallback != next.DisableFallback {
		changed = append(changed, "disable_fallback")
	}
	if old.ShouldPersistCallerKeys() != next.ShouldPersistCallerKeys() {
		changed = append(changed, "persist_caller_keys")
	}
	if old.WriteRateLimit != next.WriteRateLimit || old.WriteBurst != next.WriteBurst {
		changed = append(changed, "write_rate_limit")
	}
	return changed
}
