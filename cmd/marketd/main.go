// Command marketd runs the marketplace trading engine with its REST surface,
// the optional postgres mirror, and the optional offer expiry sweeper.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/estatechain/marketplace/internal/app/events"
	"github.com/estatechain/marketplace/internal/app/services/bank"
	mktsvc "github.com/estatechain/marketplace/internal/app/services/marketplace"
	"github.com/estatechain/marketplace/internal/app/services/offers"
	"github.com/estatechain/marketplace/internal/app/storage/memory"
	"github.com/estatechain/marketplace/internal/app/storage/postgres"
	"github.com/estatechain/marketplace/internal/app/system"
	"github.com/estatechain/marketplace/internal/config"
	"github.com/estatechain/marketplace/internal/httpapi"
	"github.com/estatechain/marketplace/internal/logging"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.NewDefault().WithError(err).Error("load configuration")
		os.Exit(1)
	}

	log := logging.New(os.Stdout, cfg.Logging.Level)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ledger := memory.New()
	eventLog := events.NewRingBuffer(cfg.Events.BufferSize)

	marketSvc := mktsvc.New(ledger, eventLog, log)
	offerSvc := offers.New(ledger, eventLog, log)
	bankSvc := bank.New(ledger, log)

	var services []system.Service

	if cfg.Postgres.Enabled {
		store, err := postgres.Open(ctx, cfg.Postgres.DSN)
		if err != nil {
			log.WithError(err).Error("connect postgres mirror")
			os.Exit(1)
		}
		defer store.Close()
		services = append(services, postgres.NewSyncer(store, ledger, eventLog, log))
	}
	if cfg.Sweeper.Enabled {
		services = append(services, offers.NewExpirySweeper(offerSvc, cfg.Sweeper.Interval, log))
	}

	for _, svc := range services {
		if err := svc.Start(ctx); err != nil {
			log.WithError(err).WithField("service", svc.Name()).Error("start service")
			os.Exit(1)
		}
	}

	handler := httpapi.NewHandler(marketSvc, offerSvc, bankSvc, eventLog, log)
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler.Router(httpapi.Options{RateLimitRPS: cfg.RateLimit.RequestsPerSecond, RateLimitBurst: cfg.RateLimit.Burst}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.Server.Addr).Info("marketd listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server shutdown")
	}
	for i := len(services) - 1; i >= 0; i-- {
		if err := services[i].Stop(shutdownCtx); err != nil {
			log.WithError(err).WithField("service", services[i].Name()).Warn("stop service")
		}
	}
	log.Info("marketd stopped")
}
