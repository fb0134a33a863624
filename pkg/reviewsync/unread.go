package reviewsync

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultPollInterval = 60 * time.Second

// UnreadSynchronizerConfig configures the unread badge reconciler.
type UnreadSynchronizerConfig struct {
	Client *APIClient
	// PollInterval is the fallback cadence for missed push events.
	PollInterval time.Duration
	// OnChange fires with the new value every time the local counter moves.
	OnChange func(count int64)
	Logger   *zap.Logger
}

// UnreadSynchronizer reconciles the optimistic local unread counter against
// the server's authoritative count. The server value always wins; the local
// copy is advisory and any divergence heals within one fetch cycle.
type UnreadSynchronizer struct {
	client       *APIClient
	pollInterval time.Duration
	onChange     func(count int64)
	logger       *zap.Logger

	mu    sync.Mutex
	count int64
}

// NewUnreadSynchronizer constructs a synchronizer with a zero counter.
func NewUnreadSynchronizer(cfg UnreadSynchronizerConfig) (*UnreadSynchronizer, error) {
	if cfg.Client == nil {
		return nil, errMissingClient
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UnreadSynchronizer{
		client:       cfg.Client,
		pollInterval: pollInterval,
		onChange:     cfg.OnChange,
		logger:       logger,
	}, nil
}

// Count returns the current local counter value.
func (us *UnreadSynchronizer) Count() int64 {
	us.mu.Lock()
	defer us.mu.Unlock()
	return us.count
}

// Run polls the authoritative count on the fixed interval until the context
// ends. A failed poll is swallowed and retried next cycle; a single missed
// poll is never surfaced.
func (us *UnreadSynchronizer) Run(ctx context.Context) {
	us.Refresh(ctx)

	ticker := time.NewTicker(us.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			us.Refresh(ctx)
		}
	}
}

// Refresh fetches the authoritative count immediately, superseding the poll
// schedule for this cycle. Channel events call this on every alarm push.
func (us *UnreadSynchronizer) Refresh(ctx context.Context) {
	count, err := us.client.UnreadCount(ctx)
	if err != nil {
		us.logger.Debug("unread count fetch failed", zap.Error(err))
		return
	}
	us.set(count)
}

// PanelOpened zeroes the counter optimistically the instant the notification
// panel opens, without waiting for the server. Listing the panel's alarms
// marks them read server-side, so the next authoritative fetch lands on the
// same zero.
func (us *UnreadSynchronizer) PanelOpened() {
	us.set(0)
}

func (us *UnreadSynchronizer) set(count int64) {
	us.mu.Lock()
	changed := us.count != count
	us.count = count
	us.mu.Unlock()
	if changed && us.onChange != nil {
		us.onChange(count)
	}
}
