// Package token implements the compliance-gated token ledger.
//
// Transfers are two-phase: the sender proposes, the validator approves or rejects.
// Balances change only on approval, and both parties must pass the compliance gate
// at proposal and again at approval.
package token

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

const component = "token"

// Options configures a Ledger.
type Options struct {
	Address domain.Address  // instance address
	Store   storage.Store   // shared with every instance that must commit atomically with this one
	Gate    compliance.Gate // compliance gate in force; must match the stored gate address
	Logger  *zap.Logger
}

// Genesis is the initial configuration written by Deploy.
type Genesis struct {
	Owner         domain.Address
	Validator     domain.Address
	FeeRecipient  domain.Address // defaults to Owner
	TransferFee   uint64
	InitialSupply uint64 // credited to Owner
}

// Ledger is one token instance.
type Ledger struct {
	address domain.Address
	store   storage.Store
	logger  *zap.Logger

	mu   sync.RWMutex
	gate compliance.Gate
}

// New attaches to the token instance at opts.Address. The instance must be deployed
// before any operation other than Deploy succeeds.
func New(opts Options) (*Ledger, error) {
	if opts.Address.IsZero() {
		return nil, fmt.Errorf("new token: %w", domain.ErrInvalidAddress)
	}
	if opts.Store == nil || opts.Gate == nil {
		return nil, fmt.Errorf("new token: store and gate are required")
	}
	return &Ledger{
		address: opts.Address,
		store:   opts.Store,
		gate:    opts.Gate,
		logger:  logging.OrNop(opts.Logger).Named(component).With(zap.String("token", opts.Address.String())),
	}, nil
}

// Address returns the instance address.
func (l *Ledger) Address() domain.Address {
	return l.address
}

// Gate returns the compliance gate in force.
func (l *Ledger) Gate() compliance.Gate {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.gate
}

// Deploy writes the initial state. Returns storage.ErrDuplicateKey if already deployed.
func (l *Ledger) Deploy(ctx context.Context, g Genesis) error {
	if g.Owner.IsZero() {
		return fmt.Errorf("deploy token: owner: %w", domain.ErrInvalidAddress)
	}
	if g.FeeRecipient.IsZero() {
		g.FeeRecipient = g.Owner
	}

	return l.run(ctx, "deploy", func(ctx context.Context, o *op) error {
		if _, err := o.TokenState(ctx, l.address); err == nil {
			return storage.ErrDuplicateKey
		} else if !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		st := &domain.TokenState{
			Address:      l.address,
			Roles:        domain.Roles{Owner: g.Owner, Validator: g.Validator},
			Gate:         o.gate.Address(),
			FeeRecipient: g.FeeRecipient,
			TransferFee:  g.TransferFee,
			TotalSupply:  g.InitialSupply,
		}
		if err := o.PutTokenState(ctx, st); err != nil {
			return err
		}
		if err := o.SetBalance(ctx, l.address, g.Owner, g.InitialSupply); err != nil {
			return err
		}

		e := o.event(domain.EventDeployed)
		e.To = g.Owner
		e.Value = g.InitialSupply
		return o.emit(ctx, e)
	})
}

// op is the context of one ledger operation inside a store transaction.
type op struct {
	storage.Tx
	ledger *Ledger
	gate   compliance.Gate
	events []*domain.Event
}

func (o *op) event(kind domain.EventKind) *domain.Event {
	return domain.NewEvent(kind, o.ledger.address)
}

func (o *op) emit(ctx context.Context, e *domain.Event) error {
	if err := o.AppendEvent(ctx, e); err != nil {
		return fmt.Errorf("append %s event: %w", e.Kind, err)
	}
	o.events = append(o.events, e)
	return nil
}

// state loads the instance state, mapping an absent instance to ErrNotDeployed.
func (o *op) state(ctx context.Context) (*domain.TokenState, error) {
	st, err := o.TokenState(ctx, o.ledger.address)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, domain.ErrNotDeployed
	}
	return st, err
}

func (o *op) credit(ctx context.Context, holder domain.Address, amount uint64) error {
	bal, err := o.Balance(ctx, o.ledger.address, holder)
	if err != nil {
		return err
	}
	next, err := domain.AddAmount(bal, amount)
	if err != nil {
		return err
	}
	return o.SetBalance(ctx, o.ledger.address, holder, next)
}

func (o *op) debit(ctx context.Context, holder domain.Address, amount uint64) error {
	bal, err := o.Balance(ctx, o.ledger.address, holder)
	if err != nil {
		return err
	}
	next, err := domain.Debit(bal, amount)
	if err != nil {
		return err
	}
	return o.SetBalance(ctx, o.ledger.address, holder, next)
}

// run executes fn in a read-write transaction and records the outcome.
// Events emitted by fn are logged once the outermost transaction commits.
func (l *Ledger) run(ctx context.Context, name string, fn func(ctx context.Context, o *op) error) error {
	started := time.Now()
	err := l.store.Update(ctx, func(ctx context.Context, tx storage.Tx) error {
		o := &op{Tx: tx, ledger: l, gate: l.Gate()}
		if err := fn(ctx, o); err != nil {
			return err
		}
		// A joined transaction may still be rolled back by the caller.
		storage.AfterCommit(ctx, l.store, func() { l.logEvents(ctx, o.events) })
		return nil
	})
	observability.RecordOperation(component, name, started, err)
	if err != nil {
		return fmt.Errorf("%s: %w", strings.ReplaceAll(name, "_", " "), err)
	}
	return nil
}

func (l *Ledger) logEvents(ctx context.Context, events []*domain.Event) {
	logger := logging.WithTrace(ctx, l.logger)
	for _, e := range events {
		observability.RecordEvent(e.Kind)
		logger.Info(string(e.Kind),
			zap.Uint64("seq", e.Seq),
			zap.String("from", e.From.String()),
			zap.String("to", e.To.String()),
			zap.Uint64("value", e.Value),
			zap.Uint64("fee", e.Fee),
			zap.Uint64("nonce", e.Nonce),
		)
	}
}

// view executes fn in a read-only transaction against the deployed state.
func (l *Ledger) view(ctx context.Context, fn func(ctx context.Context, tx storage.Tx, st *domain.TokenState) error) error {
	return l.store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		st, err := (&op{Tx: tx, ledger: l}).state(ctx)
		if err != nil {
			return err
		}
		return fn(ctx, tx, st)
	})
}
