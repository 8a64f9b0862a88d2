package clickhouse

import (
	"context"
	"fmt"

	"compliance-ledger/internal/domain"
	"compliance-ledger/internal/storage"
)

// EventArchive implements storage.EventArchive using ClickHouse.
// Rows are deduplicated by id: already archived IDs are skipped on insert
// and ReplacingMergeTree collapses any race on merge.
type EventArchive struct {
	conn *Conn
}

// NewEventArchive creates a new EventArchive.
func NewEventArchive(conn *Conn) *EventArchive {
	return &EventArchive{conn: conn}
}

// Compile-time interface check.
var _ storage.EventArchive = (*EventArchive)(nil)

const eventColumns = `
	id, seq, kind, contract, from_addr, to_addr,
	value, fee, amount, nonce, reason, previous, current, timestamp_ms
`

// InsertBulk archives events in one batch. Events already archived are skipped.
func (a *EventArchive) InsertBulk(ctx context.Context, events []*domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	var minSeq, maxSeq uint64
	for i, e := range events {
		if e == nil || e.ID == "" {
			return storage.ErrInvalidInput
		}
		if i == 0 || e.Seq < minSeq {
			minSeq = e.Seq
		}
		maxSeq = max(maxSeq, e.Seq)
	}
	archived, err := a.existing(ctx, minSeq, maxSeq)
	if err != nil {
		return fmt.Errorf("check existing: %w", err)
	}

	batch, err := a.conn.PrepareBatch(ctx, "INSERT INTO ledger_events ("+eventColumns+")")
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	appended := 0
	for _, e := range events {
		if _, ok := archived[e.ID]; ok {
			continue
		}
		archived[e.ID] = struct{}{}
		err = batch.Append(
			e.ID, e.Seq, string(e.Kind), string(e.Contract), string(e.From), string(e.To),
			e.Value, e.Fee, e.Amount, e.Nonce, e.Reason, e.Previous, e.Current, e.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
		appended++
	}
	if appended == 0 {
		return batch.Abort()
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByAddress returns archived events involving addr as sender, receiver or emitter.
func (a *EventArchive) GetByAddress(ctx context.Context, addr domain.Address) ([]*domain.Event, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM ledger_events FINAL
		WHERE from_addr = ? OR to_addr = ? OR contract = ?
		ORDER BY seq ASC
	`
	return a.query(ctx, query, string(addr), string(addr), string(addr))
}

// GetByKind returns archived events of kind emitted by contract.
func (a *EventArchive) GetByKind(ctx context.Context, contract domain.Address, kind domain.EventKind) ([]*domain.Event, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM ledger_events FINAL
		WHERE contract = ? AND kind = ?
		ORDER BY seq ASC
	`
	return a.query(ctx, query, string(contract), string(kind))
}

// existing returns the IDs already archived with seq in [from, to].
func (a *EventArchive) existing(ctx context.Context, from, to uint64) (map[string]struct{}, error) {
	rows, err := a.conn.Query(ctx, `SELECT id FROM ledger_events WHERE seq >= ? AND seq <= ?`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		result[id] = struct{}{}
	}
	return result, rows.Err()
}

func (a *EventArchive) query(ctx context.Context, query string, args ...any) ([]*domain.Event, error) {
	rows, err := a.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var result []*domain.Event
	for rows.Next() {
		var (
			e                        domain.Event
			kind, contract, from, to string
		)
		err := rows.Scan(
			&e.ID, &e.Seq, &kind, &contract, &from, &to,
			&e.Value, &e.Fee, &e.Amount, &e.Nonce, &e.Reason, &e.Previous, &e.Current, &e.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Kind = domain.EventKind(kind)
		e.Contract = domain.Address(contract)
		e.From = domain.Address(from)
		e.To = domain.Address(to)
		result = append(result, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return result, nil
}
