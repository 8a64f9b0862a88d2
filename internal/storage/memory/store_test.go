package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"compliance-ledger/internal/domain"
	"compliance-ledger/internal/storage"
)

var (
	token  = domain.DeriveAddress("token")
	sale   = domain.DeriveAddress("sale")
	alice  = domain.DeriveAddress("alice")
	bob    = domain.DeriveAddress("bob")
	failed = errors.New("body failed")
)

func TestStore_UpdateCommits(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	err := store.Update(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.PutTokenState(ctx, &domain.TokenState{Address: token, TotalSupply: 1000}); err != nil {
			return err
		}
		return tx.SetBalance(ctx, token, alice, 1000)
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	err = store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		st, err := tx.TokenState(ctx, token)
		if err != nil {
			return err
		}
		if st.TotalSupply != 1000 {
			t.Errorf("TotalSupply mismatch: got %d, want 1000", st.TotalSupply)
		}
		bal, _ := tx.Balance(ctx, token, alice)
		if bal != 1000 {
			t.Errorf("Balance mismatch: got %d, want 1000", bal)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
}

func TestStore_UpdateRollsBackOnError(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	err := store.Update(ctx, func(ctx context.Context, tx storage.Tx) error {
		_ = tx.SetNativeBalance(ctx, alice, 50)
		_ = tx.AppendEvent(ctx, domain.NewEvent(domain.EventMint, token))
		return failed
	})
	if !errors.Is(err, failed) {
		t.Fatalf("expected body error, got %v", err)
	}

	_ = store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		bal, _ := tx.NativeBalance(ctx, alice)
		if bal != 0 {
			t.Errorf("write survived rollback: balance %d", bal)
		}
		events, _ := tx.EventsAfter(ctx, 0, 0)
		if len(events) != 0 {
			t.Errorf("event survived rollback: %d events", len(events))
		}
		return nil
	})
}

func TestStore_NestedUpdateJoins(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	err := store.Update(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.SetNativeBalance(ctx, alice, 10); err != nil {
			return err
		}
		// The nested call sees the outer write and shares its fate.
		return store.Update(ctx, func(ctx context.Context, inner storage.Tx) error {
			bal, _ := inner.NativeBalance(ctx, alice)
			if bal != 10 {
				t.Errorf("nested tx did not see outer write: %d", bal)
			}
			_ = inner.SetNativeBalance(ctx, bob, 5)
			return failed
		})
	})
	if !errors.Is(err, failed) {
		t.Fatalf("expected nested error, got %v", err)
	}

	_ = store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		a, _ := tx.NativeBalance(ctx, alice)
		b, _ := tx.NativeBalance(ctx, bob)
		if a != 0 || b != 0 {
			t.Errorf("writes survived rollback: alice=%d bob=%d", a, b)
		}
		return nil
	})
}

func TestStore_ViewIsReadOnly(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	err := store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.SetBalance(ctx, token, alice, 1)
	})
	if !errors.Is(err, storage.ErrReadOnly) {
		t.Errorf("expected ErrReadOnly, got %v", err)
	}

	err = store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		return store.Update(ctx, func(context.Context, storage.Tx) error { return nil })
	})
	if !errors.Is(err, storage.ErrReadOnly) {
		t.Errorf("expected ErrReadOnly from Update inside View, got %v", err)
	}
}

func TestStore_PendingTransfers(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	err := store.Update(ctx, func(ctx context.Context, tx storage.Tx) error {
		for _, n := range []uint64{2, 0, 1} {
			p := &domain.PendingTransfer{From: alice, To: bob, Value: 10 * n, Nonce: n}
			if err := tx.InsertPendingTransfer(ctx, token, p); err != nil {
				return err
			}
		}
		dup := &domain.PendingTransfer{From: alice, To: bob, Nonce: 1}
		if err := tx.InsertPendingTransfer(ctx, token, dup); !errors.Is(err, storage.ErrDuplicateKey) {
			t.Errorf("expected ErrDuplicateKey, got %v", err)
		}
		if err := tx.DeletePendingTransfer(ctx, token, 0); err != nil {
			return err
		}
		if err := tx.DeletePendingTransfer(ctx, token, 0); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound on second delete, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	_ = store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		list, _ := tx.PendingTransfers(ctx, token)
		if len(list) != 2 || list[0].Nonce != 1 || list[1].Nonce != 2 {
			t.Errorf("unexpected pending list: %+v", list)
		}
		if _, err := tx.PendingTransfer(ctx, token, 0); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		other, _ := tx.PendingTransfers(ctx, sale)
		if len(other) != 0 {
			t.Errorf("pending transfers leaked across instances: %d", len(other))
		}
		return nil
	})
}

func TestStore_PendingMintsAndRefunds(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	err := store.Update(ctx, func(ctx context.Context, tx storage.Tx) error {
		m := &domain.PendingMint{Beneficiary: alice, TokenAmount: 40, ContributionAmount: 4, Nonce: 0}
		if err := tx.InsertPendingMint(ctx, sale, m); err != nil {
			return err
		}
		return tx.SetRejectedMintBalance(ctx, sale, alice, 4)
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	_ = store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		m, err := tx.PendingMint(ctx, sale, 0)
		if err != nil {
			t.Fatalf("PendingMint failed: %v", err)
		}
		if m.TokenAmount != 40 {
			t.Errorf("TokenAmount mismatch: got %d, want 40", m.TokenAmount)
		}
		refund, _ := tx.RejectedMintBalance(ctx, sale, alice)
		if refund != 4 {
			t.Errorf("refund mismatch: got %d, want 4", refund)
		}
		return nil
	})
}

func TestStore_Outbox(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	err := store.Update(ctx, func(ctx context.Context, tx storage.Tx) error {
		for i := 0; i < 3; i++ {
			if err := tx.AppendEvent(ctx, domain.NewEvent(domain.EventTransfer, token)); err != nil {
				return err
			}
		}
		return tx.SetCursor(ctx, "log", 1)
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	_ = store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		cursor, _ := tx.Cursor(ctx, "log")
		events, _ := tx.EventsAfter(ctx, cursor, 1)
		if len(events) != 1 || events[0].Seq != 2 {
			t.Errorf("unexpected events after cursor: %+v", events)
		}
		all, _ := tx.EventsAfter(ctx, 0, 0)
		if len(all) != 3 {
			t.Errorf("expected 3 events, got %d", len(all))
		}
		none, _ := tx.EventsAfter(ctx, 3, 10)
		if len(none) != 0 {
			t.Errorf("expected no events after last seq, got %d", len(none))
		}
		return nil
	})
}

func TestStore_ConcurrentUpdates(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.Update(ctx, func(ctx context.Context, tx storage.Tx) error {
				bal, _ := tx.NativeBalance(ctx, alice)
				return tx.SetNativeBalance(ctx, alice, bal+1)
			})
		}()
	}
	wg.Wait()

	_ = store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		bal, _ := tx.NativeBalance(ctx, alice)
		if bal != 50 {
			t.Errorf("lost updates: got %d, want 50", bal)
		}
		return nil
	})
}

func TestStore_RollbackRestoresPreviousValues(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	err := store.Update(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.SetBalance(ctx, token, alice, 100); err != nil {
			return err
		}
		if err := tx.InsertPendingTransfer(ctx, token, &domain.PendingTransfer{From: alice, To: bob, Value: 1, Nonce: 0}); err != nil {
			return err
		}
		if err := tx.SetCursor(ctx, "relay:log", 0); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, domain.NewEvent(domain.EventMint, token))
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	err = store.Update(ctx, func(ctx context.Context, tx storage.Tx) error {
		_ = tx.SetBalance(ctx, token, alice, 0)
		_ = tx.SetBalance(ctx, token, alice, 7)
		_ = tx.SetBalance(ctx, token, bob, 3)
		_ = tx.DeletePendingTransfer(ctx, token, 0)
		_ = tx.SetCursor(ctx, "relay:log", 1)
		_ = tx.AppendEvent(ctx, domain.NewEvent(domain.EventTransfer, token))
		return failed
	})
	if !errors.Is(err, failed) {
		t.Fatalf("expected body error, got %v", err)
	}

	_ = store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		a, _ := tx.Balance(ctx, token, alice)
		b, _ := tx.Balance(ctx, token, bob)
		if a != 100 || b != 0 {
			t.Errorf("balances not restored: alice=%d bob=%d", a, b)
		}
		if _, err := tx.PendingTransfer(ctx, token, 0); err != nil {
			t.Errorf("deleted pending transfer not restored: %v", err)
		}
		if cur, _ := tx.Cursor(ctx, "relay:log"); cur != 0 {
			t.Errorf("cursor not restored: %d", cur)
		}
		events, _ := tx.EventsAfter(ctx, 0, 0)
		if len(events) != 1 || events[0].Kind != domain.EventMint {
			t.Errorf("outbox not restored: %d events", len(events))
		}
		return nil
	})

	// The next append reuses the rolled back sequence number.
	_ = store.Update(ctx, func(ctx context.Context, tx storage.Tx) error {
		e := domain.NewEvent(domain.EventFeeSet, token)
		if err := tx.AppendEvent(ctx, e); err != nil {
			return err
		}
		if e.Seq != 2 {
			t.Errorf("Seq mismatch: got %d, want 2", e.Seq)
		}
		return nil
	})
}

func TestStore_RollbackOnPanic(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	func() {
		defer func() { _ = recover() }()
		_ = store.Update(ctx, func(ctx context.Context, tx storage.Tx) error {
			_ = tx.SetNativeBalance(ctx, alice, 5)
			panic("boom")
		})
	}()

	_ = store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		if bal, _ := tx.NativeBalance(ctx, alice); bal != 0 {
			t.Errorf("write survived panic: %d", bal)
		}
		return nil
	})
}

func TestStore_AfterCommit(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	var ran []string
	err := store.Update(ctx, func(ctx context.Context, tx storage.Tx) error {
		storage.AfterCommit(ctx, store, func() { ran = append(ran, "outer") })
		return store.Update(ctx, func(ctx context.Context, tx storage.Tx) error {
			storage.AfterCommit(ctx, store, func() { ran = append(ran, "inner") })
			if len(ran) != 0 {
				t.Errorf("hook ran before commit")
			}
			return nil
		})
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if len(ran) != 2 || ran[0] != "outer" || ran[1] != "inner" {
		t.Errorf("hooks mismatch: %v", ran)
	}

	ran = nil
	_ = store.Update(ctx, func(ctx context.Context, tx storage.Tx) error {
		return store.Update(ctx, func(ctx context.Context, tx storage.Tx) error {
			storage.AfterCommit(ctx, store, func() { ran = append(ran, "inner") })
			return nil
		})
	})
	if len(ran) != 1 {
		t.Errorf("committed nested hook did not run: %v", ran)
	}

	ran = nil
	_ = store.Update(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := store.Update(ctx, func(ctx context.Context, tx storage.Tx) error {
			storage.AfterCommit(ctx, store, func() { ran = append(ran, "inner") })
			return nil
		}); err != nil {
			return err
		}
		return failed
	})
	if len(ran) != 0 {
		t.Errorf("hook ran after rollback: %v", ran)
	}

	if storage.AfterCommit(ctx, store, func() {}) {
		t.Error("AfterCommit registered without a transaction")
	}
}

func TestStore_RequestNonces(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	use := func(caller domain.Address, nonce string, at int64) error {
		return store.Update(ctx, func(ctx context.Context, tx storage.Tx) error {
			return tx.UseRequestNonce(ctx, caller, nonce, at)
		})
	}

	if err := use(alice, "a", 100); err != nil {
		t.Fatalf("first use: %v", err)
	}
	if err := use(alice, "a", 100); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatalf("reuse: expected ErrDuplicateKey, got %v", err)
	}
	if err := use(bob, "a", 100); err != nil {
		t.Fatalf("other caller: %v", err)
	}
	if err := use(alice, "b", 200); err != nil {
		t.Fatalf("second nonce: %v", err)
	}

	// A nonce recorded by a rolled back transaction stays unused.
	err := store.Update(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.UseRequestNonce(ctx, alice, "c", 300); err != nil {
			return err
		}
		return failed
	})
	if !errors.Is(err, failed) {
		t.Fatalf("expected body error, got %v", err)
	}
	if err := use(alice, "c", 300); err != nil {
		t.Fatalf("nonce from rolled back tx: %v", err)
	}

	err = store.Update(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.PruneRequestNonces(ctx, 150)
	})
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if err := use(alice, "a", 100); err != nil {
		t.Fatalf("pruned nonce: %v", err)
	}
	if err := use(alice, "b", 200); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatalf("kept nonce: expected ErrDuplicateKey, got %v", err)
	}

	err = store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.UseRequestNonce(ctx, alice, "d", 400)
	})
	if !errors.Is(err, storage.ErrReadOnly) {
		t.Fatalf("view: expected ErrReadOnly, got %v", err)
	}
}
