package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/sync/errgroup"

	"shipflow/auth"
	"shipflow/cache"
	"shipflow/catalog"
	"shipflow/db"
	"shipflow/quote"
	"shipflow/shipment"
	"shipflow/tracking"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("api exited", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connString := os.Getenv("DATABASE_URL")
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	httpAddr := os.Getenv("HTTP_ADDR")
	if httpAddr == "" {
		httpAddr = ":8080"
	}

	pool, err := db.NewPool(ctx, connString)
	if err != nil {
		return err
	}
	defer pool.Close()

	// The quote cache is optional: without REDIS_ADDR every quote is
	// computed fresh.
	var quoteCache quote.Cache
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		redisCache, err := cache.NewRedis(ctx, addr)
		if err != nil {
			return err
		}
		defer redisCache.Close()
		quoteCache = redisCache
	} else {
		logger.Warn("REDIS_ADDR not set, quote caching disabled")
	}

	catalogRepo := catalog.NewRepository(pool)
	quoteEngine := quote.NewEngine(catalogRepo, quoteCache, logger)
	shipmentService := shipment.NewService(shipment.NewRepository(pool), catalogRepo, quoteEngine)
	authService := auth.NewService(auth.NewRepository(pool), jwtSecret)

	registry := tracking.NewRegistry(logger)
	gate := tracking.NewGate(ownershipAuthorizer{shipmentService}, registry)

	// The listener holds its own connection because LISTEN registrations
	// are per-connection state a pool would recycle.
	listenerConn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return err
	}
	listener := tracking.NewListener(listenerConn, registry, logger)
	if err := listener.Start(ctx); err != nil {
		return err
	}

	server := NewServer(authService, quoteEngine, shipmentService, catalogRepo, gate, logger)
	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("api listening", "addr", httpAddr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", "error", err)
		}
		return listener.Stop(shutdownCtx)
	})

	return g.Wait()
}

// ownershipAuthorizer adapts shipment.Service to the gate's interface.
type ownershipAuthorizer struct {
	shipments *shipment.Service
}

func (a ownershipAuthorizer) Authorize(ctx context.Context, shipmentID, userID string) error {
	_, err := a.shipments.Authorize(ctx, shipmentID, userID)
	return err
}
