package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"compliance-ledger/internal/api"
	"compliance-ledger/internal/compliance"
	"compliance-ledger/internal/events"
	"compliance-ledger/internal/notify"
	"compliance-ledger/internal/observability"
	"compliance-ledger/internal/sale"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the event relay and the metrics endpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if cfg.Tracing {
				shutdown, err := observability.InitTracer(os.Stdout)
				if err != nil {
					return err
				}
				defer func() { _ = shutdown(context.Background()) }()
			}

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.deploy(ctx); err != nil {
				return err
			}
			return serve(ctx, a)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	logger := a.logger

	hub := notify.NewHub(nil, logger)
	defer hub.Close()

	publishers := []events.Publisher{events.NewLogPublisher(logger), hub}
	if a.cfg.AMQPURL != "" {
		amqpPub, err := notify.DialAMQP(a.cfg.AMQPURL, nil, logger)
		if err != nil {
			return err
		}
		defer func() { _ = amqpPub.Close() }()
		publishers = append(publishers, amqpPub)
	}
	if a.archive != nil {
		publishers = append(publishers, events.NewArchivePublisher(a.archive))
	}

	relay := events.NewRelay(events.RelayOptions{
		Store:      a.store,
		Publishers: publishers,
		Interval:   a.cfg.RelayInterval,
		Logger:     logger,
	})

	router := api.NewRouter(api.Options{
		Token:            a.token,
		Sale:             a.sale,
		Whitelist:        a.whitelist,
		Vault:            a.vault,
		Store:            a.store,
		Gates:            []compliance.Gate{a.whitelist},
		Tokens:           []sale.Minter{a.token},
		DepositAuthority: a.cfg.Deployment.Owner,
		Stream:           hub,
		MaxClockSkew:     a.cfg.RequestSkew,
		Logger:           logger,
	})

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", observability.Handler())

	servers := []*http.Server{
		{Addr: a.cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 10 * time.Second},
		{Addr: a.cfg.MetricsAddr, Handler: metricsMux, ReadHeaderTimeout: 10 * time.Second},
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			logger.Info("listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("listen %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		err := relay.Run(ctx)

		// Deliver what was committed before shutdown began.
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if _, ferr := relay.Flush(flushCtx); ferr != nil {
			logger.Warn("final relay flush failed", zap.Error(ferr))
		}
		return ignoreCanceled(err)
	})
	g.Go(func() error {
		housekeep(ctx, a, a.cfg.RelayInterval)
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		for _, srv := range servers {
			errs = append(errs, srv.Shutdown(shutdownCtx))
		}
		return errors.Join(errs...)
	})

	err := g.Wait()
	logger.Info("shutdown complete")
	return err
}

// housekeep keeps the pending queue gauges current and forgets request nonces
// that can no longer pass the clock skew check.
func housekeep(ctx context.Context, a *app, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if transfers, err := a.token.PendingTransfers(ctx); err == nil {
			observability.SetPendingEntries("transfers", len(transfers))
		} else if ctx.Err() == nil {
			a.logger.Warn("count pending transfers", zap.Error(err))
		}
		if mints, err := a.sale.PendingMints(ctx); err == nil {
			observability.SetPendingEntries("mints", len(mints))
		} else if ctx.Err() == nil {
			a.logger.Warn("count pending mints", zap.Error(err))
		}
		if err := api.PruneRequestNonces(ctx, a.store, time.Now(), a.cfg.RequestSkew); err != nil && ctx.Err() == nil {
			a.logger.Warn("prune request nonces", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
