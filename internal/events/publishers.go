package events

import (
	"context"

	"go.uber.org/zap"

	"compliance-ledger/internal/domain"
	"compliance-ledger/internal/logging"
	"compliance-ledger/internal/storage"
)

// LogPublisher writes each event as a structured log line.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher creates a publisher that logs to logger.
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logging.OrNop(logger).Named("events")}
}

func (p *LogPublisher) Name() string { return "log" }

func (p *LogPublisher) Publish(_ context.Context, events []*domain.Event) error {
	for _, e := range events {
		p.logger.Info("event",
			zap.Uint64("seq", e.Seq),
			zap.String("id", e.ID),
			zap.String("kind", string(e.Kind)),
			zap.String("contract", e.Contract.String()),
			zap.String("from", e.From.String()),
			zap.String("to", e.To.String()),
			zap.Uint64("value", e.Value),
			zap.Uint64("fee", e.Fee),
			zap.Uint64("amount", e.Amount),
			zap.Uint64("nonce", e.Nonce),
			zap.Uint64("reason", e.Reason),
		)
	}
	return nil
}

// ArchivePublisher copies events into an append-only archive for indexers.
type ArchivePublisher struct {
	archive storage.EventArchive
}

// NewArchivePublisher creates a publisher backed by archive.
func NewArchivePublisher(archive storage.EventArchive) *ArchivePublisher {
	return &ArchivePublisher{archive: archive}
}

func (p *ArchivePublisher) Name() string { return "archive" }

func (p *ArchivePublisher) Publish(ctx context.Context, events []*domain.Event) error {
	return p.archive.InsertBulk(ctx, events)
}
