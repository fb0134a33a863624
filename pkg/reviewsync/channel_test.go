package reviewsync

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// streamBackend serves a minimal SSE endpoint that emits a configurable
// number of alarm events per connection, then hangs up.
type streamBackend struct {
	eventsPerConnection int
	connections         atomic.Int32
}

func (sb *streamBackend) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/alarms/stream" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("access_token") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		sb.connections.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		for i := 0; i < sb.eventsPerConnection; i++ {
			fmt.Fprintf(w, "event: alarm\ndata: {\"ts\":%d}\n\n", time.Now().Unix())
			flusher.Flush()
		}
	})
}

func newChannelFixture(t *testing.T, backend *streamBackend) (*ChannelManager, chan struct{}, chan struct{}) {
	t.Helper()
	server := httptest.NewServer(backend.handler())
	t.Cleanup(server.Close)

	client, err := NewAPIClient(APIClientConfig{BaseURL: server.URL, Token: "stream-token"})
	require.NoError(t, err)

	counterSignals := make(chan struct{}, 64)
	listSignals := make(chan struct{}, 64)
	manager, err := NewChannelManager(ChannelManagerConfig{
		Client:               client,
		OnCounterInvalidated: func() { counterSignals <- struct{}{} },
		OnListInvalidated:    func() { listSignals <- struct{}{} },
	})
	require.NoError(t, err)
	return manager, counterSignals, listSignals
}

func waitForSignal(t *testing.T, signals chan struct{}, label string) {
	t.Helper()
	select {
	case <-signals:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s invalidation", label)
	}
}

func TestChannelSignalsBothInvalidationsPerEvent(t *testing.T) {
	manager, counterSignals, listSignals := newChannelFixture(t, &streamBackend{eventsPerConnection: 1})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	manager.Listen(ctx)
	defer manager.Close()

	waitForSignal(t, counterSignals, "counter")
	waitForSignal(t, listSignals, "list")
}

func TestChannelReconnectsAfterDisconnect(t *testing.T) {
	backend := &streamBackend{eventsPerConnection: 1}
	manager, counterSignals, _ := newChannelFixture(t, backend)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	manager.Listen(ctx)
	defer manager.Close()

	// Each connection delivers one event then drops; a second signal proves
	// the supervisor redialed.
	waitForSignal(t, counterSignals, "first connection")
	waitForSignal(t, counterSignals, "second connection")
	assert.GreaterOrEqual(t, backend.connections.Load(), int32(2))
}

func TestChannelSuppressesSecondListen(t *testing.T) {
	backend := &streamBackend{eventsPerConnection: 1}
	manager, counterSignals, _ := newChannelFixture(t, backend)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	manager.Listen(ctx)
	manager.Listen(ctx)
	defer manager.Close()

	waitForSignal(t, counterSignals, "counter")
	// One live connection at a time; a suppressed Listen must not dial.
	assert.Equal(t, int32(1), backend.connections.Load())
}

func TestChannelCloseStopsSupervisor(t *testing.T) {
	manager, counterSignals, _ := newChannelFixture(t, &streamBackend{eventsPerConnection: 1})

	manager.Listen(context.Background())
	waitForSignal(t, counterSignals, "counter")
	manager.Close()

	assert.Equal(t, StateClosed, manager.State())

	// A fresh Listen after Close is legal.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	manager.Listen(ctx)
	waitForSignal(t, counterSignals, "counter after reopen")
	manager.Close()
}

func TestChannelRequiresCredentialAndCallbacks(t *testing.T) {
	_, err := NewChannelManager(ChannelManagerConfig{})
	assert.Error(t, err)

	client, err := NewAPIClient(APIClientConfig{BaseURL: "http://localhost:1", Token: "token"})
	require.NoError(t, err)
	_, err = NewChannelManager(ChannelManagerConfig{Client: client, OnCounterInvalidated: func() {}})
	assert.Error(t, err, "both invalidation callbacks are mandatory")
}
