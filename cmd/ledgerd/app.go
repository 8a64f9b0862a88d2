package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"compliance-ledger/internal/compliance"
	"compliance-ledger/internal/config"
	"compliance-ledger/internal/funds"
	"compliance-ledger/internal/sale"
	"compliance-ledger/internal/storage"
	chstore "compliance-ledger/internal/storage/clickhouse"
	"compliance-ledger/internal/storage/memory"
	"compliance-ledger/internal/storage/migrations"
	pgstore "compliance-ledger/internal/storage/postgres"
	"compliance-ledger/internal/token"
)

// app holds the ledger components built from one configuration.
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	store     storage.Store
	archive   storage.EventArchive // nil when no ClickHouse DSN is configured
	whitelist *compliance.Whitelist
	vault     *funds.Vault
	token     *token.Ledger
	sale      *sale.Sale

	closers []func()
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	built := false
	defer func() {
		if !built {
			a.close()
		}
	}()

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}
	if cfg.ClickHouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickHouseDSN)
		if err != nil {
			return nil, fmt.Errorf("clickhouse: %w", err)
		}
		a.closers = append(a.closers, func() { _ = conn.Close() })
		a.archive = chstore.NewEventArchive(conn)
	}

	members, err := a.openMembership(ctx)
	if err != nil {
		return nil, err
	}

	d := cfg.Deployment
	a.whitelist = compliance.NewWhitelist(d.Whitelist, d.Owner, members, logger)
	a.vault = funds.NewVault(a.store, logger)

	a.token, err = token.New(token.Options{
		Address: d.Token,
		Store:   a.store,
		Gate:    a.whitelist,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}
	a.sale, err = sale.New(sale.Options{
		Address: d.Sale,
		Store:   a.store,
		Gate:    a.whitelist,
		Token:   a.token,
		Escrow:  a.vault,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}

	built = true
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	if a.cfg.Storage == config.StorageMemory {
		a.store = memory.NewStore()
		return nil
	}

	pool, err := pgstore.NewPool(ctx, a.cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	a.closers = append(a.closers, pool.Close)
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		return fmt.Errorf("postgres migrations: %w", err)
	}
	a.store = pgstore.NewStore(pool)
	return nil
}

func (a *app) openMembership(ctx context.Context) (compliance.Membership, error) {
	if a.cfg.RedisAddr == "" {
		return compliance.NewMemoryMembership(), nil
	}

	client := redis.NewClient(&redis.Options{Addr: a.cfg.RedisAddr})
	a.closers = append(a.closers, func() { _ = client.Close() })
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis %s: %w", a.cfg.RedisAddr, err)
	}
	return compliance.NewRedisMembership(client, "ledger:whitelist:"+a.cfg.Deployment.Whitelist.String()), nil
}

// deploy writes the configured genesis when the instances do not exist yet. The
// token is deployed to the owner and handed to the sale in the same transaction
// so that only the sale can mint.
func (a *app) deploy(ctx context.Context) error {
	d := a.cfg.Deployment
	start, end := d.Window()

	err := a.store.Update(ctx, func(ctx context.Context, _ storage.Tx) error {
		if err := a.token.Deploy(ctx, token.Genesis{
			Owner:         d.Owner,
			Validator:     d.Validator,
			FeeRecipient:  d.FeeRecipient,
			TransferFee:   d.TransferFee,
			InitialSupply: d.InitialSupply,
		}); err != nil {
			return err
		}
		if err := a.token.TransferOwnership(ctx, d.Owner, d.Sale); err != nil {
			return err
		}
		return a.sale.Deploy(ctx, sale.Genesis{
			Owner:     d.Owner,
			Validator: d.Validator,
			Wallet:    d.Wallet,
			Rate:      d.Rate,
			StartTime: start,
			EndTime:   end,
		})
	})
	switch {
	case errors.Is(err, storage.ErrDuplicateKey):
		a.logger.Info("instances already deployed",
			zap.Stringer("token", d.Token),
			zap.Stringer("sale", d.Sale),
		)
		return nil
	case err != nil:
		return fmt.Errorf("deploy: %w", err)
	}

	a.logger.Info("instances deployed",
		zap.Stringer("token", d.Token),
		zap.Stringer("sale", d.Sale),
		zap.Uint64("initial_supply", d.InitialSupply),
		zap.Time("sale_start", start),
		zap.Time("sale_end", end),
	)
	return nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
