package reviewsync

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// ChannelState describes the push connection lifecycle.
type ChannelState string

const (
	// StateClosed means no connection exists and no supervisor is running.
	StateClosed ChannelState = "closed"
	// StateOpening means the supervisor is dialing or backing off for a redial.
	StateOpening ChannelState = "opening"
	// StateOpen means the event stream is connected and being consumed.
	StateOpen ChannelState = "open"
)

const alarmEventName = "alarm"

var errMissingCallbacks = errors.New("reviewsync: invalidation callbacks required")

// ChannelManagerConfig configures the push channel supervisor.
type ChannelManagerConfig struct {
	Client *APIClient
	// OnCounterInvalidated fires once per alarm event; the unread counter
	// refetches in response.
	OnCounterInvalidated func()
	// OnListInvalidated fires once per alarm event, independently of the
	// counter callback; an open notification panel refetches in response.
	OnListInvalidated func()
	// HTTPClient, when set, overrides the streaming client. It must not carry
	// a request timeout or the long-lived stream gets cut.
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// ChannelManager owns the one live push connection per session. The stream
// delivers named alarm events whose payload is treated purely as a trigger;
// dependents refetch rather than trust the pushed body. Transport failures are
// retried with exponential backoff until Close or context cancellation.
type ChannelManager struct {
	client               *APIClient
	httpClient           *http.Client
	onCounterInvalidated func()
	onListInvalidated    func()
	logger               *zap.Logger

	mu        sync.Mutex
	state     ChannelState
	listening bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewChannelManager constructs a manager in the closed state. A client with a
// valid credential is mandatory; without one the channel is never opened.
func NewChannelManager(cfg ChannelManagerConfig) (*ChannelManager, error) {
	if cfg.Client == nil {
		return nil, errMissingClient
	}
	if cfg.OnCounterInvalidated == nil || cfg.OnListInvalidated == nil {
		return nil, errMissingCallbacks
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChannelManager{
		client:               cfg.Client,
		httpClient:           httpClient,
		onCounterInvalidated: cfg.OnCounterInvalidated,
		onListInvalidated:    cfg.OnListInvalidated,
		logger:               logger,
		state:                StateClosed,
	}, nil
}

// State returns the current connection state.
func (cm *ChannelManager) State() ChannelState {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.state
}

// Listen starts the supervised stream. Calling Listen while a channel is
// already live is suppressed rather than opening a second connection.
func (cm *ChannelManager) Listen(ctx context.Context) {
	cm.mu.Lock()
	if cm.listening {
		cm.mu.Unlock()
		cm.logger.Debug("alarm channel already listening")
		return
	}
	streamCtx, cancel := context.WithCancel(ctx)
	cm.listening = true
	cm.state = StateOpening
	cm.cancel = cancel
	cm.done = make(chan struct{})
	done := cm.done
	cm.mu.Unlock()

	go cm.supervise(streamCtx, done)
}

// Close tears the channel down. It must be called at session end; a stream
// left open after logout keeps a stale credential live on the server.
func (cm *ChannelManager) Close() {
	cm.mu.Lock()
	if !cm.listening {
		cm.mu.Unlock()
		return
	}
	cancel := cm.cancel
	done := cm.done
	cm.mu.Unlock()

	cancel()
	<-done
}

func (cm *ChannelManager) supervise(ctx context.Context, done chan struct{}) {
	defer func() {
		cm.mu.Lock()
		cm.state = StateClosed
		cm.listening = false
		cm.cancel = nil
		cm.mu.Unlock()
		close(done)
	}()

	retryPolicy := backoff.NewExponentialBackOff()
	retryPolicy.InitialInterval = time.Second
	retryPolicy.MaxInterval = 30 * time.Second
	retryPolicy.MaxElapsedTime = 0

	for {
		connectedAt := time.Now()
		err := cm.consumeStream(ctx)
		if ctx.Err() != nil {
			return
		}
		cm.logger.Warn("alarm stream disconnected", zap.Error(err))

		// A connection that held for a while earns a fresh backoff window.
		if time.Since(connectedAt) > retryPolicy.MaxInterval {
			retryPolicy.Reset()
		}

		cm.mu.Lock()
		cm.state = StateOpening
		cm.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-time.After(retryPolicy.NextBackOff()):
		}
	}
}

func (cm *ChannelManager) consumeStream(ctx context.Context) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, cm.client.StreamURL(), nil)
	if err != nil {
		return err
	}
	request.Header.Set("Accept", "text/event-stream")

	response, err := cm.httpClient.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return classifyResponse(response.StatusCode, "stream_refused")
	}

	cm.mu.Lock()
	cm.state = StateOpen
	cm.mu.Unlock()
	cm.logger.Debug("alarm stream connected")

	reader := bufio.NewReader(response.Body)
	eventName := ""
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return err
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case line == "":
			if eventName == alarmEventName {
				cm.onCounterInvalidated()
				cm.onListInvalidated()
			}
			eventName = ""
		}
	}
}
