package postgres

import (
	"context"
	"fmt"

	"compliance-ledger/internal/domain"
	"compliance-ledger/internal/storage"
)

// UseRequestNonce records a signed request nonce. Returns storage.ErrDuplicateKey on reuse.
func (t *pgTx) UseRequestNonce(ctx context.Context, caller domain.Address, nonce string, usedAt int64) error {
	if err := t.writable(); err != nil {
		return err
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO request_nonces (caller, nonce, used_at) VALUES ($1, $2, $3)`,
		string(caller), nonce, usedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("use request nonce: %w", err)
	}
	return nil
}

// PruneRequestNonces deletes nonces recorded before the given unix time.
func (t *pgTx) PruneRequestNonces(ctx context.Context, before int64) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, err := t.tx.Exec(ctx, `DELETE FROM request_nonces WHERE used_at < $1`, before); err != nil {
		return fmt.Errorf("prune request nonces: %w", err)
	}
	return nil
}
