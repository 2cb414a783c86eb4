// Command poolctl runs a connection pool against a configured database and
// serves its admin surface until interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/guileen/connpool/admin"
	"github.com/guileen/connpool/config"
	"github.com/guileen/connpool/driver"
	_ "github.com/guileen/connpool/driver/netdriver"
	_ "github.com/guileen/connpool/driver/pgxdriver"
	_ "github.com/guileen/connpool/driver/sqldriver"
	"github.com/guileen/connpool/logger"
	"github.com/guileen/connpool/pool"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		logger.Error("poolctl failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to a .yaml or .toml config file")
	driverName := flag.String("driver", "", "registered driver name, overrides the config file")
	dsn := flag.String("dsn", "", "data source name, overrides the config file")
	addr := flag.String("addr", "", "admin listen address, overrides the config file")
	warm := flag.Int("warm", 0, "open and release this many connections at startup")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags]\n\nDrivers: %v\n\n", os.Args[0], driver.Drivers())
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Read(*configPath)
	if err != nil {
		return err
	}
	if *driverName != "" {
		cfg.Driver.Name = *driverName
	}
	if *dsn != "" {
		cfg.Driver.DSN = *dsn
	}
	if *addr != "" {
		cfg.Admin.Addr = *addr
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger.Configure(cfg.LoggerConfig())
	startTime := time.Now()
	logger.Info("Starting poolctl", "driver", cfg.Driver.Name, "pool", cfg.Pool.Name)

	drv, err := driver.Open(cfg.Driver.Name, cfg.Driver.DSN)
	if err != nil {
		return err
	}
	poolConfig, err := cfg.PoolConfig()
	if err != nil {
		return err
	}
	p, err := pool.New(poolConfig, drv)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *warm > 0 {
		if err := warmUp(ctx, p, *warm); err != nil {
			logger.Warn("Warm-up incomplete", "error", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	if cfg.Admin.Addr != "" {
		server := newAdminServer(cfg.Admin.Addr, p)
		g.Go(func() error {
			logger.Info("Admin server listening", "addr", cfg.Admin.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	} else {
		g.Go(func() error {
			<-ctx.Done()
			return nil
		})
	}
	logger.Info("poolctl initialized", "init_duration", time.Since(startTime).String())

	runErr := g.Wait()

	shutdownStart := time.Now()
	logger.Info("Shutting down pool...", "stats", p.Stats())
	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	closeErr := p.Close(closeCtx)
	logger.Info("Pool shutdown complete", "shutdown_duration", time.Since(shutdownStart).String())

	return errors.Join(runErr, closeErr)
}

func newAdminServer(addr string, p *pool.Pool) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           admin.NewHandler(p).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// warmUp opens n connections at once and returns them to the idle set.
func warmUp(ctx context.Context, p *pool.Pool, n int) error {
	if limit := p.Config().MaxActive; limit > 0 && n > limit {
		n = limit
	}
	conns := make([]*pool.Conn, 0, n)
	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()
	for i := 0; i < n; i++ {
		c, err := p.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("warm connection %d of %d: %w", i+1, n, err)
		}
		conns = append(conns, c)
	}
	logger.Info("Pool warmed", "connections", n)
	return nil
}
