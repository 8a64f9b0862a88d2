// Package events relays committed outbox events to downstream publishers.
//
// Cores write events into the store outbox in the same transaction as the state
// change they describe. The relay reads them after commit, so a rolled-back
// operation never reaches a publisher. Each publisher has its own cursor and
// receives every event at least once, in sequence order.
package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"compliance-ledger/internal/domain"
	"compliance-ledger/internal/logging"
	"compliance-ledger/internal/observability"
	"compliance-ledger/internal/storage"
)

// Publisher delivers a batch of events. A non-nil error leaves the cursor of the
// publisher in place and the same batch is offered again on the next pass.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, events []*domain.Event) error
}

// RelayOptions contains configuration for creating a Relay.
type RelayOptions struct {
	Store      storage.Store
	Publishers []Publisher
	Interval   time.Duration // Default: 1s
	BatchSize  int           // Default: 100
	Logger     *zap.Logger
}

// Relay moves outbox events to publishers.
type Relay struct {
	store      storage.Store
	publishers []Publisher
	interval   time.Duration
	batchSize  int
	logger     *zap.Logger
}

// NewRelay creates a relay.
func NewRelay(opts RelayOptions) *Relay {
	interval := opts.Interval
	if interval <= 0 {
		interval = time.Second
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Relay{
		store:      opts.Store,
		publishers: opts.Publishers,
		interval:   interval,
		batchSize:  batchSize,
		logger:     logging.OrNop(opts.Logger).Named("relay"),
	}
}

func cursorName(p Publisher) string {
	return "relay:" + p.Name()
}

// Run flushes the outbox every interval until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("relay started", zap.Duration("interval", r.interval), zap.Int("publishers", len(r.publishers)))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("relay stopping")
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.Flush(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Warn("relay pass failed", zap.Error(err))
			}
		}
	}
}

// Flush delivers every pending event to every publisher and returns the number
// of deliveries. A failing publisher does not hold back the others.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	var (
		total int
		errs  []error
	)
	for _, p := range r.publishers {
		n, err := r.flushPublisher(ctx, p)
		total += n
		if err != nil {
			errs = append(errs, fmt.Errorf("publisher %s: %w", p.Name(), err))
		}
	}
	if len(errs) > 0 {
		return total, errors.Join(errs...)
	}
	observability.MarkRelayHealthy()
	return total, nil
}

func (r *Relay) flushPublisher(ctx context.Context, p Publisher) (int, error) {
	delivered := 0
	for {
		var batch []*domain.Event
		err := r.store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
			after, err := tx.Cursor(ctx, cursorName(p))
			if err != nil {
				return err
			}
			batch, err = tx.EventsAfter(ctx, after, r.batchSize)
			return err
		})
		if err != nil {
			return delivered, fmt.Errorf("read outbox: %w", err)
		}
		if len(batch) == 0 {
			return delivered, nil
		}

		err = p.Publish(ctx, batch)
		observability.RecordRelay(p.Name(), len(batch), err)
		if err != nil {
			return delivered, err
		}

		last := batch[len(batch)-1].Seq
		err = r.store.Update(ctx, func(ctx context.Context, tx storage.Tx) error {
			return tx.SetCursor(ctx, cursorName(p), last)
		})
		if err != nil {
			return delivered, fmt.Errorf("advance cursor to %d: %w", last, err)
		}
		delivered += len(batch)
		r.logger.Debug("relayed events",
			zap.String("publisher", p.Name()),
			zap.Int("count", len(batch)),
			zap.Uint64("cursor", last),
		)

		if len(batch) < r.batchSize {
			return delivered, nil
		}
	}
}
