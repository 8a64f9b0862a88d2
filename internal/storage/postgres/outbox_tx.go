package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"

	"compliance-ledger/internal/domain"
	"compliance-ledger/internal/storage"
)

// outboxLockKey is the transaction-scoped advisory lock taken before the
// first outbox append. Sequence values are handed out at insert time, so
// appenders are serialized until commit to keep seq order equal to commit
// order; otherwise a relay could advance its cursor past a seq that is
// still uncommitted.
const outboxLockKey int64 = 0x6c65646765720001

// AppendEvent appends e to the outbox and assigns e.Seq.
func (t *pgTx) AppendEvent(ctx context.Context, e *domain.Event) error {
	if err := t.writable(); err != nil {
		return err
	}
	if e == nil || e.Kind == "" || e.ID == "" {
		return storage.ErrInvalidInput
	}
	if !t.outboxLocked {
		if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, outboxLockKey); err != nil {
			return fmt.Errorf("lock outbox: %w", err)
		}
		t.outboxLocked = true
	}
	query := `
		INSERT INTO ledger_events (
			id, kind, contract, from_addr, to_addr, value, fee, amount, nonce, reason, previous, current, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING seq
	`
	var seq int64
	err := t.tx.QueryRow(ctx, query,
		e.ID, string(e.Kind), string(e.Contract), string(e.From), string(e.To),
		toNumeric(e.Value), toNumeric(e.Fee), toNumeric(e.Amount), int64(e.Nonce), toNumeric(e.Reason),
		e.Previous, e.Current, e.Timestamp,
	).Scan(&seq)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("append event: %w", err)
	}
	e.Seq = uint64(seq)
	return nil
}

// EventsAfter returns up to limit events with seq > after, ordered by seq ASC.
// A non-positive limit returns all of them.
func (t *pgTx) EventsAfter(ctx context.Context, after uint64, limit int) ([]*domain.Event, error) {
	query := `
		SELECT seq, id::text, kind, contract, from_addr, to_addr, value, fee, amount, nonce, reason, previous, current, created_at
		FROM ledger_events
		WHERE seq > $1
		ORDER BY seq ASC
		LIMIT $2
	`
	var lim *int64
	if limit > 0 {
		l := int64(limit)
		lim = &l
	}
	rows, err := t.tx.Query(ctx, query, int64(after), lim)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var result []*domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return result, nil
}

// Cursor returns the last relayed seq for a named consumer, 0 if none.
func (t *pgTx) Cursor(ctx context.Context, name string) (uint64, error) {
	var seq int64
	err := t.tx.QueryRow(ctx, `SELECT seq FROM relay_cursors WHERE name = $1`, name).Scan(&seq)
	if err != nil {
		if isNotFoundError(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("get cursor: %w", err)
	}
	return uint64(seq), nil
}

// SetCursor stores the last relayed seq for a named consumer.
func (t *pgTx) SetCursor(ctx context.Context, name string, seq uint64) error {
	if err := t.writable(); err != nil {
		return err
	}
	query := `
		INSERT INTO relay_cursors (name, seq)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET seq = EXCLUDED.seq
	`
	if _, err := t.tx.Exec(ctx, query, name, int64(seq)); err != nil {
		return fmt.Errorf("set cursor: %w", err)
	}
	return nil
}

func scanEvent(row rowScanner) (*domain.Event, error) {
	var (
		e                          domain.Event
		seq, nonce                 int64
		kind, contract, from, to   string
		value, fee, amount, reason pgtype.Numeric
	)
	err := row.Scan(
		&seq, &e.ID, &kind, &contract, &from, &to,
		&value, &fee, &amount, &nonce, &reason, &e.Previous, &e.Current, &e.Timestamp,
	)
	if err != nil {
		return nil, err
	}
	e.Seq = uint64(seq)
	e.Kind = domain.EventKind(kind)
	e.Contract = domain.Address(contract)
	e.From = domain.Address(from)
	e.To = domain.Address(to)
	e.Nonce = uint64(nonce)
	for _, f := range []struct {
		dst *uint64
		src pgtype.Numeric
	}{
		{&e.Value, value}, {&e.Fee, fee}, {&e.Amount, amount}, {&e.Reason, reason},
	} {
		if *f.dst, err = fromNumeric(f.src); err != nil {
			return nil, err
		}
	}
	return &e, nil
}
