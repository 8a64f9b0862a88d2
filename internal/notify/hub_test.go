package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"compliance-ledger/internal/domain"
)

var (
	token = domain.DeriveAddress("token")
	alice = domain.DeriveAddress("alice")
	bob   = domain.DeriveAddress("bob")
)

func dial(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func transfer(seq uint64, from, to domain.Address) *domain.Event {
	e := domain.NewEvent(domain.EventTransfer, token)
	e.Seq, e.From, e.To, e.Value = seq, from, to, 1<<60
	return e
}

func TestHub_StreamsEvents(t *testing.T) {
	hub := NewHub(nil, nil)
	server := httptest.NewServer(hub)
	defer server.Close()
	defer hub.Close()

	conn := dial(t, server, "")
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, hub.Publish(context.Background(), []*domain.Event{transfer(1, alice, bob)}))

	msg := readMessage(t, conn)
	assert.Equal(t, uint64(1), msg.Seq)
	assert.Equal(t, "Transfer", msg.Kind)
	assert.Equal(t, alice.String(), msg.From)
	assert.Equal(t, uint64(1<<60), msg.Value)
}

func TestHub_AddressFilter(t *testing.T) {
	hub := NewHub(nil, nil)
	server := httptest.NewServer(hub)
	defer server.Close()
	defer hub.Close()

	conn := dial(t, server, "?address="+bob.String())
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	carol := domain.DeriveAddress("carol")
	require.NoError(t, hub.Publish(context.Background(), []*domain.Event{
		transfer(1, alice, carol),
		transfer(2, alice, bob),
	}))

	msg := readMessage(t, conn)
	assert.Equal(t, uint64(2), msg.Seq)
}

func TestHub_RejectsInvalidAddress(t *testing.T) {
	hub := NewHub(nil, nil)
	server := httptest.NewServer(hub)
	defer server.Close()

	resp, err := http.Get(server.URL + "?address=not-an-address")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHub_DropsSlowClient(t *testing.T) {
	hub := NewHub(nil, nil)
	slow := &client{send: make(chan []byte, 1)}
	hub.clients[slow] = struct{}{}

	require.NoError(t, hub.Publish(context.Background(), []*domain.Event{
		transfer(1, alice, bob),
		transfer(2, alice, bob),
	}))
	assert.Zero(t, hub.Clients())

	_, ok := <-slow.send
	assert.True(t, ok, "queued frame is still delivered")
	_, ok = <-slow.send
	assert.False(t, ok, "send channel is closed after the drop")
}

func TestHub_ClientDisconnect(t *testing.T) {
	hub := NewHub(nil, nil)
	server := httptest.NewServer(hub)
	defer server.Close()

	conn := dial(t, server, "")
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.Clients() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHub_PongKeepsClientAlive(t *testing.T) {
	hub := NewHub(&HubConfig{
		SendBuffer:   8,
		PingInterval: 20 * time.Millisecond,
		PongWait:     100 * time.Millisecond,
		WriteTimeout: time.Second,
	}, nil)
	server := httptest.NewServer(hub)
	defer server.Close()
	defer hub.Close()

	// The silent client never reads, so it never answers pings.
	dial(t, server, "")
	responsive := dial(t, server, "")
	go func() {
		for {
			// Reading processes pings and replies with pongs.
			if _, _, err := responsive.ReadMessage(); err != nil {
				return
			}
		}
	}()
	require.Eventually(t, func() bool { return hub.Clients() == 2 }, time.Second, 5*time.Millisecond)

	assert.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 1, hub.Clients(), "client answering pings stays connected")
}

func TestNewHub_DefaultPongWait(t *testing.T) {
	hub := NewHub(&HubConfig{SendBuffer: 1, PingInterval: time.Second, WriteTimeout: time.Second}, nil)
	assert.Equal(t, 2*time.Second, hub.config.PongWait)
	assert.Equal(t, 60*time.Second, NewHub(nil, nil).config.PongWait)
}
