package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"

	"compliance-ledger/internal/domain"
	"compliance-ledger/internal/storage"
)

// SaleState returns the state of a sale instance. Returns ErrNotFound if not deployed.
func (t *pgTx) SaleState(ctx context.Context, sale domain.Address) (*domain.SaleState, error) {
	query := `
		SELECT sale, owner, validator, gate, token, wallet, rate, start_time, end_time, current_mint_nonce, finalized
		FROM sale_states
		WHERE sale = $1
	`
	var (
		s                      domain.SaleState
		addr, owner, validator string
		gate, token, wallet    string
		rate                   pgtype.Numeric
		nonce                  int64
	)
	err := t.tx.QueryRow(ctx, query, string(sale)).Scan(
		&addr, &owner, &validator, &gate, &token, &wallet, &rate,
		&s.StartTime, &s.EndTime, &nonce, &s.Finalized,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get sale state: %w", err)
	}

	s.Address = domain.Address(addr)
	s.Owner = domain.Address(owner)
	s.Validator = domain.Address(validator)
	s.Gate = domain.Address(gate)
	s.Token = domain.Address(token)
	s.Wallet = domain.Address(wallet)
	s.CurrentMintNonce = uint64(nonce)
	if s.Rate, err = fromNumeric(rate); err != nil {
		return nil, fmt.Errorf("scan rate: %w", err)
	}
	return &s, nil
}

// PutSaleState inserts or replaces the state of a sale instance.
func (t *pgTx) PutSaleState(ctx context.Context, s *domain.SaleState) error {
	if err := t.writable(); err != nil {
		return err
	}
	if s == nil || s.Address.IsZero() {
		return storage.ErrInvalidInput
	}
	query := `
		INSERT INTO sale_states (sale, owner, validator, gate, token, wallet, rate, start_time, end_time, current_mint_nonce, finalized)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (sale) DO UPDATE SET
			owner = EXCLUDED.owner,
			validator = EXCLUDED.validator,
			gate = EXCLUDED.gate,
			token = EXCLUDED.token,
			wallet = EXCLUDED.wallet,
			rate = EXCLUDED.rate,
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			current_mint_nonce = EXCLUDED.current_mint_nonce,
			finalized = EXCLUDED.finalized
	`
	_, err := t.tx.Exec(ctx, query,
		string(s.Address), string(s.Owner), string(s.Validator), string(s.Gate), string(s.Token), string(s.Wallet),
		toNumeric(s.Rate), s.StartTime, s.EndTime, int64(s.CurrentMintNonce), s.Finalized,
	)
	if err != nil {
		return fmt.Errorf("put sale state: %w", err)
	}
	return nil
}

// PendingMint returns the pending mint with nonce. Returns ErrNotFound if absent.
func (t *pgTx) PendingMint(ctx context.Context, sale domain.Address, nonce uint64) (*domain.PendingMint, error) {
	query := `
		SELECT nonce, beneficiary, token_amount, contribution_amount
		FROM pending_mints
		WHERE sale = $1 AND nonce = $2
	`
	m, err := scanPendingMint(t.tx.QueryRow(ctx, query, string(sale), int64(nonce)))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get pending mint: %w", err)
	}
	return m, nil
}

// InsertPendingMint adds a pending mint. Returns ErrDuplicateKey if the nonce exists.
func (t *pgTx) InsertPendingMint(ctx context.Context, sale domain.Address, m *domain.PendingMint) error {
	if err := t.writable(); err != nil {
		return err
	}
	if m == nil {
		return storage.ErrInvalidInput
	}
	query := `
		INSERT INTO pending_mints (sale, nonce, beneficiary, token_amount, contribution_amount)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := t.tx.Exec(ctx, query,
		string(sale), int64(m.Nonce), string(m.Beneficiary), toNumeric(m.TokenAmount), toNumeric(m.ContributionAmount),
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert pending mint: %w", err)
	}
	return nil
}

// DeletePendingMint removes a pending mint. Returns ErrNotFound if absent.
func (t *pgTx) DeletePendingMint(ctx context.Context, sale domain.Address, nonce uint64) error {
	if err := t.writable(); err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM pending_mints WHERE sale = $1 AND nonce = $2`, string(sale), int64(nonce))
	if err != nil {
		return fmt.Errorf("delete pending mint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// PendingMints returns all pending mints of a sale instance, ordered by nonce ASC.
func (t *pgTx) PendingMints(ctx context.Context, sale domain.Address) ([]*domain.PendingMint, error) {
	query := `
		SELECT nonce, beneficiary, token_amount, contribution_amount
		FROM pending_mints
		WHERE sale = $1
		ORDER BY nonce ASC
	`
	rows, err := t.tx.Query(ctx, query, string(sale))
	if err != nil {
		return nil, fmt.Errorf("query pending mints: %w", err)
	}
	defer rows.Close()

	var result []*domain.PendingMint
	for rows.Next() {
		m, err := scanPendingMint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending mint: %w", err)
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending mints: %w", err)
	}
	return result, nil
}

// RejectedMintBalance returns the refundable balance of investor, 0 if none.
func (t *pgTx) RejectedMintBalance(ctx context.Context, sale, investor domain.Address) (uint64, error) {
	query := `SELECT amount FROM rejected_mint_balances WHERE sale = $1 AND investor = $2`
	return t.amount(ctx, "get rejected mint balance", query, string(sale), string(investor))
}

// SetRejectedMintBalance sets the refundable balance of investor. Zero removes the row.
func (t *pgTx) SetRejectedMintBalance(ctx context.Context, sale, investor domain.Address, amount uint64) error {
	if err := t.writable(); err != nil {
		return err
	}
	if amount == 0 {
		_, err := t.tx.Exec(ctx, `DELETE FROM rejected_mint_balances WHERE sale = $1 AND investor = $2`, string(sale), string(investor))
		if err != nil {
			return fmt.Errorf("clear rejected mint balance: %w", err)
		}
		return nil
	}
	query := `
		INSERT INTO rejected_mint_balances (sale, investor, amount)
		VALUES ($1, $2, $3)
		ON CONFLICT (sale, investor) DO UPDATE SET amount = EXCLUDED.amount
	`
	if _, err := t.tx.Exec(ctx, query, string(sale), string(investor), toNumeric(amount)); err != nil {
		return fmt.Errorf("set rejected mint balance: %w", err)
	}
	return nil
}

// NativeBalance returns the native balance of holder, 0 if none.
func (t *pgTx) NativeBalance(ctx context.Context, holder domain.Address) (uint64, error) {
	return t.amount(ctx, "get native balance", `SELECT amount FROM native_balances WHERE holder = $1`, string(holder))
}

// SetNativeBalance sets the native balance of holder. Zero removes the row.
func (t *pgTx) SetNativeBalance(ctx context.Context, holder domain.Address, amount uint64) error {
	if err := t.writable(); err != nil {
		return err
	}
	if amount == 0 {
		if _, err := t.tx.Exec(ctx, `DELETE FROM native_balances WHERE holder = $1`, string(holder)); err != nil {
			return fmt.Errorf("clear native balance: %w", err)
		}
		return nil
	}
	query := `
		INSERT INTO native_balances (holder, amount)
		VALUES ($1, $2)
		ON CONFLICT (holder) DO UPDATE SET amount = EXCLUDED.amount
	`
	if _, err := t.tx.Exec(ctx, query, string(holder), toNumeric(amount)); err != nil {
		return fmt.Errorf("set native balance: %w", err)
	}
	return nil
}

func scanPendingMint(row rowScanner) (*domain.PendingMint, error) {
	var (
		nonce                int64
		beneficiary          string
		tokens, contribution pgtype.Numeric
	)
	if err := row.Scan(&nonce, &beneficiary, &tokens, &contribution); err != nil {
		return nil, err
	}
	m := &domain.PendingMint{
		Beneficiary: domain.Address(beneficiary),
		Nonce:       uint64(nonce),
	}
	var err error
	if m.TokenAmount, err = fromNumeric(tokens); err != nil {
		return nil, err
	}
	if m.ContributionAmount, err = fromNumeric(contribution); err != nil {
		return nil, err
	}
	return m, nil
}
