// Package funds moves native value, the currency contributions are paid in.
//
// Balances live in the ledger store so that a value movement commits or rolls
// back together with the ledger operation that caused it.
package funds

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"compliance-ledger/internal/domain"
	"compliance-ledger/internal/logging"
	"compliance-ledger/internal/storage"
)

// Receiver is notified when an address receives native value.
// A non-nil error refuses the value and aborts the surrounding operation.
type Receiver interface {
	Receive(ctx context.Context, from domain.Address, amount uint64) error
}

// ReceiverFunc adapts a function to Receiver.
type ReceiverFunc func(ctx context.Context, from domain.Address, amount uint64) error

func (f ReceiverFunc) Receive(ctx context.Context, from domain.Address, amount uint64) error {
	return f(ctx, from, amount)
}

// Vault holds native balances.
type Vault struct {
	store  storage.Store
	logger *zap.Logger

	mu        sync.RWMutex
	receivers map[domain.Address]Receiver
}

// NewVault creates a vault over store.
func NewVault(store storage.Store, logger *zap.Logger) *Vault {
	return &Vault{
		store:     store,
		logger:    logging.OrNop(logger).Named("funds"),
		receivers: make(map[domain.Address]Receiver),
	}
}

// Register installs the receive hook of addr, replacing any previous one. A nil r removes it.
func (v *Vault) Register(addr domain.Address, r Receiver) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if r == nil {
		delete(v.receivers, addr)
		return
	}
	v.receivers[addr] = r
}

func (v *Vault) receiver(addr domain.Address) Receiver {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.receivers[addr]
}

// Deposit credits value entering the ledger from outside.
func (v *Vault) Deposit(ctx context.Context, to domain.Address, amount uint64) error {
	if to.IsZero() {
		return fmt.Errorf("deposit: %w", domain.ErrInvalidAddress)
	}
	if amount == 0 {
		return fmt.Errorf("deposit: %w", domain.ErrZeroAmount)
	}
	err := v.store.Update(ctx, func(ctx context.Context, tx storage.Tx) error {
		return credit(ctx, tx, to, amount)
	})
	if err != nil {
		return fmt.Errorf("deposit to %s: %w", to, err)
	}
	v.logger.Debug("deposit", zap.String("to", to.String()), zap.Uint64("amount", amount))
	return nil
}

// Transfer moves amount from one holder to another. It joins the transaction carried by ctx,
// so a refusal by the receiver rolls back the caller's writes too.
func (v *Vault) Transfer(ctx context.Context, from, to domain.Address, amount uint64) error {
	if to.IsZero() {
		return fmt.Errorf("native transfer: %w", domain.ErrInvalidAddress)
	}
	err := v.store.Update(ctx, func(ctx context.Context, tx storage.Tx) error {
		bal, err := tx.NativeBalance(ctx, from)
		if err != nil {
			return err
		}
		rest, err := domain.Debit(bal, amount)
		if err != nil {
			return err
		}
		if err := tx.SetNativeBalance(ctx, from, rest); err != nil {
			return err
		}
		if err := credit(ctx, tx, to, amount); err != nil {
			return err
		}
		if r := v.receiver(to); r != nil {
			if err := r.Receive(ctx, from, amount); err != nil {
				return fmt.Errorf("%w: %v", domain.ErrTransferRefused, err)
			}
		}
		storage.AfterCommit(ctx, v.store, func() {
			v.logger.Debug("native transfer",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
				zap.Uint64("amount", amount),
			)
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("native transfer %s -> %s: %w", from, to, err)
	}
	return nil
}

// Balance returns the native balance of holder.
func (v *Vault) Balance(ctx context.Context, holder domain.Address) (uint64, error) {
	var bal uint64
	err := v.store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		bal, err = tx.NativeBalance(ctx, holder)
		return err
	})
	return bal, err
}

func credit(ctx context.Context, tx storage.Tx, to domain.Address, amount uint64) error {
	bal, err := tx.NativeBalance(ctx, to)
	if err != nil {
		return err
	}
	next, err := domain.AddAmount(bal, amount)
	if err != nil {
		return err
	}
	return tx.SetNativeBalance(ctx, to, next)
}
