// Package sale implements the token sale: investors register contributions, the
// validator approves them into minted tokens or rejects them into refundable balances.
package sale

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"compliance-ledger/internal/compliance"
	"compliance-ledger/internal/domain"
	"compliance-ledger/internal/logging"
	"compliance-ledger/internal/observability"
	"compliance-ledger/internal/storage"
)

const component = "sale"

// Minter is the token instance the sale mints into. The sale must own it.
type Minter interface {
	Address() domain.Address
	Mint(ctx context.Context, caller, to domain.Address, amount uint64) error
	TransferOwnership(ctx context.Context, caller, newOwner domain.Address) error
}

// Escrow moves native value. Implementations must join the transaction carried by ctx.
type Escrow interface {
	Transfer(ctx context.Context, from, to domain.Address, amount uint64) error
}

// Options configures a Sale.
type Options struct {
	Address domain.Address
	Store   storage.Store
	Gate    compliance.Gate
	Token   Minter
	Escrow  Escrow
	Clock   func() time.Time // defaults to time.Now
	Logger  *zap.Logger
}

// Genesis is the initial configuration written by Deploy.
type Genesis struct {
	Owner     domain.Address
	Validator domain.Address
	Wallet    domain.Address // receives contributions of approved purchases
	Rate      uint64         // tokens per contribution unit
	StartTime time.Time
	EndTime   time.Time
}

func (g Genesis) validate() error {
	switch {
	case g.Owner.IsZero():
		return fmt.Errorf("owner: %w", domain.ErrInvalidAddress)
	case g.Validator.IsZero():
		return fmt.Errorf("validator: %w", domain.ErrInvalidAddress)
	case g.Wallet.IsZero():
		return fmt.Errorf("wallet: %w", domain.ErrInvalidAddress)
	case g.Rate == 0:
		return fmt.Errorf("rate: %w", domain.ErrZeroAmount)
	case !g.EndTime.After(g.StartTime):
		return fmt.Errorf("%w: end time %s is not after start time %s",
			storage.ErrInvalidInput, g.EndTime.Format(time.RFC3339), g.StartTime.Format(time.RFC3339))
	}
	return nil
}

// Sale is one sale instance.
type Sale struct {
	address domain.Address
	store   storage.Store
	escrow  Escrow
	clock   func() time.Time
	logger  *zap.Logger

	mu    sync.RWMutex
	gate  compliance.Gate
	token Minter
}

// New attaches to the sale instance at opts.Address.
func New(opts Options) (*Sale, error) {
	if opts.Address.IsZero() {
		return nil, fmt.Errorf("new sale: %w", domain.ErrInvalidAddress)
	}
	if opts.Store == nil || opts.Gate == nil || opts.Token == nil || opts.Escrow == nil {
		return nil, fmt.Errorf("new sale: store, gate, token and escrow are required")
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Sale{
		address: opts.Address,
		store:   opts.Store,
		escrow:  opts.Escrow,
		clock:   clock,
		gate:    opts.Gate,
		token:   opts.Token,
		logger:  logging.OrNop(opts.Logger).Named(component).With(zap.String("sale", opts.Address.String())),
	}, nil
}

// Address returns the instance address, which also holds escrowed contributions.
func (s *Sale) Address() domain.Address {
	return s.address
}

// Gate returns the compliance gate in force.
func (s *Sale) Gate() compliance.Gate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gate
}

// Token returns the token instance minted into.
func (s *Sale) Token() Minter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Deploy writes the initial state. Returns storage.ErrDuplicateKey if already deployed.
func (s *Sale) Deploy(ctx context.Context, g Genesis) error {
	if err := g.validate(); err != nil {
		return fmt.Errorf("deploy sale: %w", err)
	}
	return s.run(ctx, "deploy", func(ctx context.Context, o *op) error {
		if _, err := o.SaleState(ctx, s.address); err == nil {
			return storage.ErrDuplicateKey
		} else if !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		st := &domain.SaleState{
			Address:   s.address,
			Roles:     domain.Roles{Owner: g.Owner, Validator: g.Validator},
			Gate:      o.gate.Address(),
			Token:     o.token.Address(),
			Wallet:    g.Wallet,
			Rate:      g.Rate,
			StartTime: g.StartTime.UnixMilli(),
			EndTime:   g.EndTime.UnixMilli(),
		}
		if err := o.PutSaleState(ctx, st); err != nil {
			return err
		}
		e := o.event(domain.EventDeployed)
		e.To = g.Owner
		return o.emit(ctx, e)
	})
}

type op struct {
	storage.Tx
	sale   *Sale
	gate   compliance.Gate
	token  Minter
	now    int64
	events []*domain.Event
}

func (o *op) event(kind domain.EventKind) *domain.Event {
	return domain.NewEvent(kind, o.sale.address)
}

func (o *op) emit(ctx context.Context, e *domain.Event) error {
	if err := o.AppendEvent(ctx, e); err != nil {
		return fmt.Errorf("append %s event: %w", e.Kind, err)
	}
	o.events = append(o.events, e)
	return nil
}

func (o *op) state(ctx context.Context) (*domain.SaleState, error) {
	st, err := o.SaleState(ctx, o.sale.address)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, domain.ErrNotDeployed
	}
	return st, err
}

func (o *op) pending(ctx context.Context, nonce uint64) (*domain.PendingMint, error) {
	m, err := o.PendingMint(ctx, o.sale.address, nonce)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: mint nonce %d", domain.ErrNoSuchPendingEntry, nonce)
	}
	return m, err
}

// run executes fn in a read-write transaction. Token mints and escrow movements
// issued by fn join the same transaction.
func (s *Sale) run(ctx context.Context, name string, fn func(ctx context.Context, o *op) error) error {
	started := time.Now()
	now := s.clock().UnixMilli()
	err := s.store.Update(ctx, func(ctx context.Context, tx storage.Tx) error {
		s.mu.RLock()
		o := &op{Tx: tx, sale: s, gate: s.gate, token: s.token, now: now}
		s.mu.RUnlock()
		if err := fn(ctx, o); err != nil {
			return err
		}
		storage.AfterCommit(ctx, s.store, func() { s.logEvents(ctx, o.events) })
		return nil
	})
	observability.RecordOperation(component, name, started, err)
	if err != nil {
		return fmt.Errorf("%s: %w", strings.ReplaceAll(name, "_", " "), err)
	}
	return nil
}

func (s *Sale) logEvents(ctx context.Context, events []*domain.Event) {
	logger := logging.WithTrace(ctx, s.logger)
	for _, e := range events {
		observability.RecordEvent(e.Kind)
		logger.Info(string(e.Kind),
			zap.Uint64("seq", e.Seq),
			zap.String("from", e.From.String()),
			zap.String("to", e.To.String()),
			zap.Uint64("tokens", e.Value),
			zap.Uint64("contribution", e.Amount),
			zap.Uint64("nonce", e.Nonce),
		)
	}
}

func (s *Sale) view(ctx context.Context, fn func(ctx context.Context, tx storage.Tx, st *domain.SaleState) error) error {
	return s.store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		st, err := (&op{Tx: tx, sale: s}).state(ctx)
		if err != nil {
			return err
		}
		return fn(ctx, tx, st)
	})
}
