package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"

	"compliance-ledger/internal/domain"
	"compliance-ledger/internal/storage"
)

// TokenState returns the state of a token instance. Returns ErrNotFound if not deployed.
func (t *pgTx) TokenState(ctx context.Context, token domain.Address) (*domain.TokenState, error) {
	query := `
		SELECT token, owner, validator, gate, fee_recipient, transfer_fee, total_supply, current_nonce
		FROM token_states
		WHERE token = $1
	`
	var (
		s                  domain.TokenState
		fee, supply        pgtype.Numeric
		nonce              int64
		addr, owner, valid string
		gate, recipient    string
	)
	err := t.tx.QueryRow(ctx, query, string(token)).Scan(
		&addr, &owner, &valid, &gate, &recipient, &fee, &supply, &nonce,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get token state: %w", err)
	}

	s.Address = domain.Address(addr)
	s.Owner = domain.Address(owner)
	s.Validator = domain.Address(valid)
	s.Gate = domain.Address(gate)
	s.FeeRecipient = domain.Address(recipient)
	s.CurrentNonce = uint64(nonce)
	if s.TransferFee, err = fromNumeric(fee); err != nil {
		return nil, fmt.Errorf("scan transfer_fee: %w", err)
	}
	if s.TotalSupply, err = fromNumeric(supply); err != nil {
		return nil, fmt.Errorf("scan total_supply: %w", err)
	}
	return &s, nil
}

// PutTokenState inserts or replaces the state of a token instance.
func (t *pgTx) PutTokenState(ctx context.Context, s *domain.TokenState) error {
	if err := t.writable(); err != nil {
		return err
	}
	if s == nil || s.Address.IsZero() {
		return storage.ErrInvalidInput
	}
	query := `
		INSERT INTO token_states (token, owner, validator, gate, fee_recipient, transfer_fee, total_supply, current_nonce)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (token) DO UPDATE SET
			owner = EXCLUDED.owner,
			validator = EXCLUDED.validator,
			gate = EXCLUDED.gate,
			fee_recipient = EXCLUDED.fee_recipient,
			transfer_fee = EXCLUDED.transfer_fee,
			total_supply = EXCLUDED.total_supply,
			current_nonce = EXCLUDED.current_nonce
	`
	_, err := t.tx.Exec(ctx, query,
		string(s.Address), string(s.Owner), string(s.Validator), string(s.Gate), string(s.FeeRecipient),
		toNumeric(s.TransferFee), toNumeric(s.TotalSupply), int64(s.CurrentNonce),
	)
	if err != nil {
		return fmt.Errorf("put token state: %w", err)
	}
	return nil
}

// Balance returns the token balance of holder, 0 if none.
func (t *pgTx) Balance(ctx context.Context, token, holder domain.Address) (uint64, error) {
	query := `SELECT amount FROM token_balances WHERE token = $1 AND holder = $2`
	return t.amount(ctx, "get balance", query, string(token), string(holder))
}

// SetBalance sets the token balance of holder. A zero balance removes the row.
func (t *pgTx) SetBalance(ctx context.Context, token, holder domain.Address, amount uint64) error {
	if err := t.writable(); err != nil {
		return err
	}
	if amount == 0 {
		_, err := t.tx.Exec(ctx, `DELETE FROM token_balances WHERE token = $1 AND holder = $2`, string(token), string(holder))
		if err != nil {
			return fmt.Errorf("clear balance: %w", err)
		}
		return nil
	}
	query := `
		INSERT INTO token_balances (token, holder, amount)
		VALUES ($1, $2, $3)
		ON CONFLICT (token, holder) DO UPDATE SET amount = EXCLUDED.amount
	`
	if _, err := t.tx.Exec(ctx, query, string(token), string(holder), toNumeric(amount)); err != nil {
		return fmt.Errorf("set balance: %w", err)
	}
	return nil
}

// Balances returns all non-zero balances of a token instance.
func (t *pgTx) Balances(ctx context.Context, token domain.Address) (map[domain.Address]uint64, error) {
	rows, err := t.tx.Query(ctx, `SELECT holder, amount FROM token_balances WHERE token = $1`, string(token))
	if err != nil {
		return nil, fmt.Errorf("query balances: %w", err)
	}
	defer rows.Close()

	result := make(map[domain.Address]uint64)
	for rows.Next() {
		var (
			holder string
			amount pgtype.Numeric
		)
		if err := rows.Scan(&holder, &amount); err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		v, err := fromNumeric(amount)
		if err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		result[domain.Address(holder)] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate balances: %w", err)
	}
	return result, nil
}

// PendingTransfer returns the pending transfer with nonce. Returns ErrNotFound if absent.
func (t *pgTx) PendingTransfer(ctx context.Context, token domain.Address, nonce uint64) (*domain.PendingTransfer, error) {
	query := `
		SELECT nonce, from_addr, to_addr, value, fee
		FROM pending_transfers
		WHERE token = $1 AND nonce = $2
	`
	p, err := scanPendingTransfer(t.tx.QueryRow(ctx, query, string(token), int64(nonce)))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get pending transfer: %w", err)
	}
	return p, nil
}

// InsertPendingTransfer adds a pending transfer. Returns ErrDuplicateKey if the nonce exists.
func (t *pgTx) InsertPendingTransfer(ctx context.Context, token domain.Address, p *domain.PendingTransfer) error {
	if err := t.writable(); err != nil {
		return err
	}
	if p == nil {
		return storage.ErrInvalidInput
	}
	query := `
		INSERT INTO pending_transfers (token, nonce, from_addr, to_addr, value, fee)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := t.tx.Exec(ctx, query,
		string(token), int64(p.Nonce), string(p.From), string(p.To), toNumeric(p.Value), toNumeric(p.Fee),
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert pending transfer: %w", err)
	}
	return nil
}

// DeletePendingTransfer removes a pending transfer. Returns ErrNotFound if absent.
func (t *pgTx) DeletePendingTransfer(ctx context.Context, token domain.Address, nonce uint64) error {
	if err := t.writable(); err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM pending_transfers WHERE token = $1 AND nonce = $2`, string(token), int64(nonce))
	if err != nil {
		return fmt.Errorf("delete pending transfer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// PendingTransfers returns all pending transfers of a token instance, ordered by nonce ASC.
func (t *pgTx) PendingTransfers(ctx context.Context, token domain.Address) ([]*domain.PendingTransfer, error) {
	query := `
		SELECT nonce, from_addr, to_addr, value, fee
		FROM pending_transfers
		WHERE token = $1
		ORDER BY nonce ASC
	`
	rows, err := t.tx.Query(ctx, query, string(token))
	if err != nil {
		return nil, fmt.Errorf("query pending transfers: %w", err)
	}
	defer rows.Close()

	var result []*domain.PendingTransfer
	for rows.Next() {
		p, err := scanPendingTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending transfer: %w", err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending transfers: %w", err)
	}
	return result, nil
}

// amount runs a single-column NUMERIC query, returning 0 when no row matches.
func (t *pgTx) amount(ctx context.Context, op, query string, args ...any) (uint64, error) {
	var n pgtype.Numeric
	if err := t.tx.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		if isNotFoundError(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	v, err := fromNumeric(n)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return v, nil
}

// rowScanner is implemented by pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPendingTransfer(row rowScanner) (*domain.PendingTransfer, error) {
	var (
		nonce      int64
		from, to   string
		value, fee pgtype.Numeric
	)
	if err := row.Scan(&nonce, &from, &to, &value, &fee); err != nil {
		return nil, err
	}
	p := &domain.PendingTransfer{
		From:  domain.Address(from),
		To:    domain.Address(to),
		Nonce: uint64(nonce),
	}
	var err error
	if p.Value, err = fromNumeric(value); err != nil {
		return nil, err
	}
	if p.Fee, err = fromNumeric(fee); err != nil {
		return nil, err
	}
	return p, nil
}
