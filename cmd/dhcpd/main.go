// Command dhcpd wires the DHCPv4 server core to a real UDP socket,
// persistence backend, lifecycle bus, telemetry, and admin HTTP surface. It
// is the only package in this module that handles signals; it reads the
// backend settings from the environment itself and leaves the server
// configuration to internal/config's env loader. Uses a signal.NotifyContext/atomic.Bool
// readiness/fan-in errCh daemon shape, wrapped in a cobra command tree.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"dhcpd/internal/config"
	"dhcpd/internal/lease"
	"dhcpd/internal/persistence"
	"dhcpd/internal/server"
	"dhcpd/internal/transport"
	"dhcpd/pkg/adminhttp"
	"dhcpd/pkg/bus"
	"dhcpd/pkg/metrics"
	"dhcpd/pkg/telemetry"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "dhcpd",
		Short:         "DHCPv4 server core",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newMigrateCommand())
	return cmd
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the DHCP server, admin HTTP surface, and persistence writer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending Postgres schema migrations for the postgres persistence backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context())
		},
	}
}

func runMigrate(ctx context.Context) error {
	dsn := os.Getenv("DHCPD_POSTGRES_DSN")
	if dsn == "" {
		return errors.New("DHCPD_POSTGRES_DSN is required")
	}

	pool, err := persistence.OpenPool(ctx, dsn)
	if err != nil {
		return fmt.Errorf("open pool: %w", err)
	}
	defer pool.Close()

	return persistence.Migrate(ctx, pool)
}

func runServe(parentCtx context.Context) error {
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	shutdownTelemetry, _, logger, err := telemetry.Init(ctx, "dhcpd", cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "dhcpd: telemetry shutdown error: %v\n", err)
		}
	}()

	tr, err := transport.Listen(cfg.Endpoint, cfg.BindInterface)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	table := lease.New(cfg.OfferExpiration)

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build persistence store: %w", err)
	}

	var persist *persistence.Queue
	if store != nil {
		if records, err := store.Read(ctx, cfg.PersistencePath); err != nil {
			logger.Printf("WARN failed to load persisted leases: %v", err)
		} else {
			table.Lock()
			for _, rec := range records {
				table.Put(lease.Key(recordKey(rec)), rec)
			}
			table.Unlock()
			logger.Printf("INFO loaded %d persisted lease records", len(records))
		}
		persist = persistence.NewQueue(store, cfg.PersistencePath, table, logger)
	}

	natsBus, err := bus.New(cfg.NATSURL)
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	defer natsBus.Close()

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	srv := server.New(cfg, tr, table, persist, natsBus, m, logger)

	var ready atomic.Bool
	errCh := make(chan error, 2)

	go func() {
		if err := srv.Run(ctx, &ready); err != nil {
			errCh <- fmt.Errorf("dhcp: %w", err)
		}
	}()

	adminServer := &http.Server{
		Addr:    cfg.AdminAddr,
		Handler: adminhttp.Router(registry, table, &ready, "dhcpd"),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := adminServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "dhcpd: admin http shutdown error: %v\n", err)
		}
	}()

	logger.Printf("INFO admin http listening on %s", adminServer.Addr)
	go func() {
		if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("admin http: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return nil
	}
}

// buildStore selects a ClientStore implementation from DHCPD_STORE_BACKEND
// (file, postgres, s3; empty disables persistence entirely).
func buildStore(ctx context.Context, cfg config.Configuration) (persistence.ClientStore, error) {
	backend := os.Getenv("DHCPD_STORE_BACKEND")
	pools := []persistence.PoolRange{{Start: cfg.PoolStart, End: cfg.PoolEnd}}
	for _, r := range cfg.Reservations {
		pools = append(pools, persistence.PoolRange{Start: r.PoolStart, End: r.PoolEnd})
	}

	switch backend {
	case "":
		return nil, nil
	case "file":
		return &persistence.FileStore{Pools: pools}, nil
	case "postgres":
		dsn := os.Getenv("DHCPD_POSTGRES_DSN")
		if dsn == "" {
			return nil, errors.New("DHCPD_POSTGRES_DSN is required for the postgres backend")
		}
		pool, err := persistence.OpenPool(ctx, dsn)
		if err != nil {
			return nil, err
		}
		if err := persistence.Migrate(ctx, pool); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return &persistence.PostgresStore{Pool: pool}, nil
	case "s3":
		endpoint := os.Getenv("DHCPD_S3_ENDPOINT")
		region := os.Getenv("DHCPD_S3_REGION")
		accessKey := os.Getenv("DHCPD_S3_ACCESS_KEY")
		secretKey := os.Getenv("DHCPD_S3_SECRET_KEY")
		bucket := os.Getenv("DHCPD_S3_BUCKET")
		forcePathStyle := os.Getenv("DHCPD_S3_FORCE_PATH_STYLE") == "true"
		s3Store, err := persistence.NewS3Store(ctx, endpoint, region, accessKey, secretKey, bucket, forcePathStyle)
		if err != nil {
			return nil, err
		}
		s3Store.Pools = pools
		return s3Store, nil
	default:
		return nil, fmt.Errorf("unknown DHCPD_STORE_BACKEND %q", backend)
	}
}

func recordKey(rec *lease.Record) string {
	if len(rec.Identifier) > 0 {
		return string(rec.Identifier)
	}
	return string(rec.HardwareAddress)
}
