package memory

import (
	"context"
	"sort"

	"compliance-ledger/internal/domain"
	"compliance-ledger/internal/storage"
)

// memTx implements storage.Tx directly over the live state. Every write
// records how to restore the previous value.
type memTx struct {
	st       *state
	readOnly bool
	undo     []func()
}

// rollback reverts every write made through t, newest first.
func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

// remember records the current value of m[k] on t's undo log.
func remember[K comparable, V any](t *memTx, m map[K]V, k K) {
	prev, had := m[k]
	t.undo = append(t.undo, func() {
		if had {
			m[k] = prev
		} else {
			delete(m, k)
		}
	})
}

func (t *memTx) writable() error {
	if t.readOnly {
		return storage.ErrReadOnly
	}
	return nil
}

func (t *memTx) TokenState(_ context.Context, token domain.Address) (*domain.TokenState, error) {
	s, ok := t.st.tokens[token]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &s, nil
}

func (t *memTx) PutTokenState(_ context.Context, s *domain.TokenState) error {
	if err := t.writable(); err != nil {
		return err
	}
	if s == nil || s.Address.IsZero() {
		return storage.ErrInvalidInput
	}
	remember(t, t.st.tokens, s.Address)
	t.st.tokens[s.Address] = *s
	return nil
}

func (t *memTx) Balance(_ context.Context, token, holder domain.Address) (uint64, error) {
	return t.st.balances[holderKey{token, holder}], nil
}

func (t *memTx) SetBalance(_ context.Context, token, holder domain.Address, amount uint64) error {
	if err := t.writable(); err != nil {
		return err
	}
	key := holderKey{token, holder}
	remember(t, t.st.balances, key)
	if amount == 0 {
		delete(t.st.balances, key)
		return nil
	}
	t.st.balances[key] = amount
	return nil
}

func (t *memTx) Balances(_ context.Context, token domain.Address) (map[domain.Address]uint64, error) {
	result := make(map[domain.Address]uint64)
	for key, amount := range t.st.balances {
		if key.contract == token {
			result[key.holder] = amount
		}
	}
	return result, nil
}

func (t *memTx) PendingTransfer(_ context.Context, token domain.Address, nonce uint64) (*domain.PendingTransfer, error) {
	p, ok := t.st.transfers[nonceKey{token, nonce}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &p, nil
}

func (t *memTx) InsertPendingTransfer(_ context.Context, token domain.Address, p *domain.PendingTransfer) error {
	if err := t.writable(); err != nil {
		return err
	}
	if p == nil {
		return storage.ErrInvalidInput
	}
	key := nonceKey{token, p.Nonce}
	if _, exists := t.st.transfers[key]; exists {
		return storage.ErrDuplicateKey
	}
	remember(t, t.st.transfers, key)
	t.st.transfers[key] = *p
	return nil
}

func (t *memTx) DeletePendingTransfer(_ context.Context, token domain.Address, nonce uint64) error {
	if err := t.writable(); err != nil {
		return err
	}
	key := nonceKey{token, nonce}
	if _, exists := t.st.transfers[key]; !exists {
		return storage.ErrNotFound
	}
	remember(t, t.st.transfers, key)
	delete(t.st.transfers, key)
	return nil
}

func (t *memTx) PendingTransfers(_ context.Context, token domain.Address) ([]*domain.PendingTransfer, error) {
	var result []*domain.PendingTransfer
	for key, p := range t.st.transfers {
		if key.contract == token {
			pCopy := p
			result = append(result, &pCopy)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Nonce < result[j].Nonce
	})
	return result, nil
}

func (t *memTx) SaleState(_ context.Context, sale domain.Address) (*domain.SaleState, error) {
	s, ok := t.st.sales[sale]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &s, nil
}

func (t *memTx) PutSaleState(_ context.Context, s *domain.SaleState) error {
	if err := t.writable(); err != nil {
		return err
	}
	if s == nil || s.Address.IsZero() {
		return storage.ErrInvalidInput
	}
	remember(t, t.st.sales, s.Address)
	t.st.sales[s.Address] = *s
	return nil
}

func (t *memTx) PendingMint(_ context.Context, sale domain.Address, nonce uint64) (*domain.PendingMint, error) {
	m, ok := t.st.mints[nonceKey{sale, nonce}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &m, nil
}

func (t *memTx) InsertPendingMint(_ context.Context, sale domain.Address, m *domain.PendingMint) error {
	if err := t.writable(); err != nil {
		return err
	}
	if m == nil {
		return storage.ErrInvalidInput
	}
	key := nonceKey{sale, m.Nonce}
	if _, exists := t.st.mints[key]; exists {
		return storage.ErrDuplicateKey
	}
	remember(t, t.st.mints, key)
	t.st.mints[key] = *m
	return nil
}

func (t *memTx) DeletePendingMint(_ context.Context, sale domain.Address, nonce uint64) error {
	if err := t.writable(); err != nil {
		return err
	}
	key := nonceKey{sale, nonce}
	if _, exists := t.st.mints[key]; !exists {
		return storage.ErrNotFound
	}
	remember(t, t.st.mints, key)
	delete(t.st.mints, key)
	return nil
}

func (t *memTx) PendingMints(_ context.Context, sale domain.Address) ([]*domain.PendingMint, error) {
	var result []*domain.PendingMint
	for key, m := range t.st.mints {
		if key.contract == sale {
			mCopy := m
			result = append(result, &mCopy)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Nonce < result[j].Nonce
	})
	return result, nil
}

func (t *memTx) RejectedMintBalance(_ context.Context, sale, investor domain.Address) (uint64, error) {
	return t.st.rejected[holderKey{sale, investor}], nil
}

func (t *memTx) SetRejectedMintBalance(_ context.Context, sale, investor domain.Address, amount uint64) error {
	if err := t.writable(); err != nil {
		return err
	}
	key := holderKey{sale, investor}
	remember(t, t.st.rejected, key)
	if amount == 0 {
		delete(t.st.rejected, key)
		return nil
	}
	t.st.rejected[key] = amount
	return nil
}

func (t *memTx) NativeBalance(_ context.Context, holder domain.Address) (uint64, error) {
	return t.st.native[holder], nil
}

func (t *memTx) SetNativeBalance(_ context.Context, holder domain.Address, amount uint64) error {
	if err := t.writable(); err != nil {
		return err
	}
	remember(t, t.st.native, holder)
	if amount == 0 {
		delete(t.st.native, holder)
		return nil
	}
	t.st.native[holder] = amount
	return nil
}

func (t *memTx) AppendEvent(_ context.Context, e *domain.Event) error {
	if err := t.writable(); err != nil {
		return err
	}
	if e == nil || e.Kind == "" {
		return storage.ErrInvalidInput
	}
	n := len(t.st.events)
	t.undo = append(t.undo, func() { t.st.events = t.st.events[:n] })
	e.Seq = uint64(n) + 1
	t.st.events = append(t.st.events, *e)
	return nil
}

func (t *memTx) EventsAfter(_ context.Context, after uint64, limit int) ([]*domain.Event, error) {
	// Seq n lives at index n-1.
	if after >= uint64(len(t.st.events)) {
		return nil, nil
	}
	tail := t.st.events[after:]
	if limit > 0 && len(tail) > limit {
		tail = tail[:limit]
	}
	result := make([]*domain.Event, 0, len(tail))
	for _, e := range tail {
		eCopy := e
		result = append(result, &eCopy)
	}
	return result, nil
}

func (t *memTx) Cursor(_ context.Context, name string) (uint64, error) {
	return t.st.cursors[name], nil
}

func (t *memTx) SetCursor(_ context.Context, name string, seq uint64) error {
	if err := t.writable(); err != nil {
		return err
	}
	remember(t, t.st.cursors, name)
	t.st.cursors[name] = seq
	return nil
}

var _ storage.Tx = (*memTx)(nil)

func (t *memTx) UseRequestNonce(_ context.Context, caller domain.Address, nonce string, usedAt int64) error {
	if err := t.writable(); err != nil {
		return err
	}
	key := requestKey{caller, nonce}
	if _, ok := t.st.requests[key]; ok {
		return storage.ErrDuplicateKey
	}
	remember(t, t.st.requests, key)
	t.st.requests[key] = usedAt
	return nil
}

func (t *memTx) PruneRequestNonces(_ context.Context, before int64) error {
	if err := t.writable(); err != nil {
		return err
	}
	for key, usedAt := range t.st.requests {
		if usedAt < before {
			remember(t, t.st.requests, key)
			delete(t.st.requests, key)
		}
	}
	return nil
}
