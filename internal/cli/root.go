// Package cli provides the command-line interface for fleetcmd.
package cli

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

	"github.com/treykane/fleetcmd/internal/api"
	"github.com/treykane/fleetcmd/internal/appconfig"
	"github.com/treykane/fleetcmd/internal/executor"
	"github.com/treykane/fleetcmd/internal/room"
	"github.com/treykane/fleetcmd/internal/sshpool"
	"github.com/treykane/fleetcmd/internal/store"
	"github.com/treykane/fleetcmd/internal/stream"
)

const version = "0.1.0"

// sweepInterval is how often expired rooms are removed. Room TTLs are long
// (an hour by default); a minute of slack on expiry is immaterial.
const sweepInterval = time.Minute

// NewRootCommand creates the root cobra command. Running it with no
// subcommand starts the server.
func NewRootCommand() *cobra.Command {
	var addr string
	var dbPath string
	var configDir string
	root := &cobra.Command{
		Use:          "fleetcmd",
		Short:        "Concurrent SSH command executor with a streaming web API",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configDir != "" {
				appconfig.SetConfigDir(configDir)
			}
			return runServer(cmd.Context(), addr, dbPath)
		},
	}
	root.Flags().StringVar(&addr, "addr", "", "listen address (overrides config file)")
	root.Flags().StringVar(&dbPath, "db", "", "sqlite database path (overrides config file)")
	root.Flags().StringVar(&configDir, "config-dir", "", "config directory (default: XDG config dir)")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the fleetcmd version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("fleetcmd " + version)
		},
	})
	return root
}

// runServer wires the components together and serves until interrupted.
func runServer(ctx context.Context, addrFlag, dbFlag string) error {
	setupLogging()

	cfg, err := appconfig.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if addrFlag != "" {
		cfg.Addr = addrFlag
	}
	if dbFlag != "" {
		cfg.DatabasePath = dbFlag
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer st.Close()
	slog.Info("database ready", "path", cfg.DatabasePath)

	poolCfg := sshpool.DefaultConfig()
	poolCfg.ReapInterval = cfg.Pool.ReapInterval
	poolCfg.IdleAfter = cfg.Pool.IdleAfter
	poolCfg.HealthAfter = cfg.Pool.HealthAfter
	pool := sshpool.New(poolCfg)
	go pool.RunReaper(ctx)

	rooms := room.NewRegistry(cfg.RoomTTL)
	go rooms.RunSweeper(ctx, sweepInterval)

	sched := executor.New(pool, st, executor.Limits{
		BatchHosts:   cfg.Limits.BatchHosts,
		HostCommands: cfg.Limits.HostCommands,
	})
	gateway := stream.NewGateway(rooms, sched)
	server := api.NewServer(rooms, st, gateway, cfg.CORS.AllowedOrigins)

	httpSrv := &http.Server{Addr: cfg.Addr, Handler: server.Router()}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", cfg.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	}
}

// setupLogging installs the default slog handler. DEBUG_MODE raises
// verbosity.
func setupLogging() {
	level := slog.LevelInfo
	if appconfig.Debug() {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
