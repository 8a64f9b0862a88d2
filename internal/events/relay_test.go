package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"compliance-ledger/internal/domain"
	"compliance-ledger/internal/storage"
	"compliance-ledger/internal/storage/memory"
)

var contract = domain.DeriveAddress("token")

type recordingPublisher struct {
	name string

	mu      sync.Mutex
	batches [][]*domain.Event
	fail    error
}

func (p *recordingPublisher) Name() string { return p.name }

func (p *recordingPublisher) Publish(_ context.Context, events []*domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.batches = append(p.batches, events)
	return nil
}

func (p *recordingPublisher) seqs() []uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []uint64
	for _, b := range p.batches {
		for _, e := range b {
			out = append(out, e.Seq)
		}
	}
	return out
}

func appendEvents(t *testing.T, store storage.Store, n int) {
	t.Helper()
	err := store.Update(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		for i := 0; i < n; i++ {
			if err := tx.AppendEvent(ctx, domain.NewEvent(domain.EventTransfer, contract)); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestRelay_FlushDeliversInOrder(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	pub := &recordingPublisher{name: "rec"}
	relay := NewRelay(RelayOptions{Store: store, Publishers: []Publisher{pub}, BatchSize: 2})

	appendEvents(t, store, 5)

	n, err := relay.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, pub.seqs())
	assert.Len(t, pub.batches, 3)

	n, err = relay.Flush(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "nothing new to deliver")

	appendEvents(t, store, 1)
	_, err = relay.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2, 3, 4, 5, 6}, pub.seqs())

	err = store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		cursor, err := tx.Cursor(ctx, "relay:rec")
		assert.Equal(t, uint64(6), cursor)
		return err
	})
	require.NoError(t, err)
}

func TestRelay_FailingPublisherRetriesAndIsolated(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	healthy := &recordingPublisher{name: "healthy"}
	broken := &recordingPublisher{name: "broken", fail: errors.New("broker unavailable")}
	relay := NewRelay(RelayOptions{Store: store, Publishers: []Publisher{broken, healthy}})

	appendEvents(t, store, 3)

	n, err := relay.Flush(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publisher broken")
	assert.Equal(t, 3, n)
	assert.Equal(t, []uint64{1, 2, 3}, healthy.seqs())
	assert.Empty(t, broken.seqs())

	broken.mu.Lock()
	broken.fail = nil
	broken.mu.Unlock()

	n, err = relay.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []uint64{1, 2, 3}, broken.seqs())
	assert.Equal(t, []uint64{1, 2, 3}, healthy.seqs())
}

func TestRelay_RolledBackEventsAreNeverRelayed(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	pub := &recordingPublisher{name: "rec"}
	relay := NewRelay(RelayOptions{Store: store, Publishers: []Publisher{pub}})

	errAbort := errors.New("abort")
	err := store.Update(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.AppendEvent(ctx, domain.NewEvent(domain.EventMint, contract)); err != nil {
			return err
		}
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)

	n, err := relay.Flush(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRelay_RunStopsOnCancel(t *testing.T) {
	store := memory.NewStore()
	pub := &recordingPublisher{name: "rec"}
	relay := NewRelay(RelayOptions{Store: store, Publishers: []Publisher{pub}, Interval: 5 * time.Millisecond})

	appendEvents(t, store, 2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	assert.Eventually(t, func() bool { return len(pub.seqs()) == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestLogPublisher(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	pub := NewLogPublisher(zap.New(core))

	e := domain.NewEvent(domain.EventTransferRejected, contract)
	e.Seq, e.Value, e.Reason = 7, 100, 3
	require.NoError(t, pub.Publish(context.Background(), []*domain.Event{e}))

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "TransferRejected", fields["kind"])
	assert.Equal(t, uint64(7), fields["seq"])
	assert.Equal(t, uint64(3), fields["reason"])
}

type fakeArchive struct {
	storage.EventArchive
	inserted []*domain.Event
}

func (a *fakeArchive) InsertBulk(_ context.Context, events []*domain.Event) error {
	a.inserted = append(a.inserted, events...)
	return nil
}

func TestArchivePublisher(t *testing.T) {
	archive := &fakeArchive{}
	pub := NewArchivePublisher(archive)
	assert.Equal(t, "archive", pub.Name())

	events := []*domain.Event{domain.NewEvent(domain.EventMint, contract), domain.NewEvent(domain.EventTransfer, contract)}
	require.NoError(t, pub.Publish(context.Background(), events))
	assert.Equal(t, events, archive.inserted)
}
