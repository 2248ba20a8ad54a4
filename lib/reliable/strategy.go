package reliable

import (
	"context"
	"github.com/ValentinKolb/dStream/rpc/common"
	"sync"
	"time"
)

// --------------------------------------------------------------------------
// Exponential BackOff
// --------------------------------------------------------------------------

// BackOff waits Base before the first reconnect attempt and doubles the delay after
// every failed attempt, up to Max (0 = no cap). A successful connect resets the delay.
// It never gives up.
type BackOff struct {
	Base time.Duration
	Max  time.Duration

	mu      sync.Mutex
	current time.Duration
}

// NewBackOff creates an exponential backoff strategy
func NewBackOff(base, max time.Duration) *BackOff {
	return &BackOff{Base: base, Max: max}
}

// Next returns the delay before the next attempt and advances the backoff
func (b *BackOff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.current == 0 {
		b.current = b.Base
	}
	delay := b.current

	next := b.current * 2
	if next < b.current { // overflow
		next = b.current
	}
	if b.Max > 0 && next > b.Max {
		next = b.Max
	}
	b.current = next

	if b.Max > 0 && delay > b.Max {
		delay = b.Max
	}
	return delay
}

// Reset restarts the backoff at the base delay
func (b *BackOff) Reset() {
	b.mu.Lock()
	b.current = 0
	b.mu.Unlock()
}

// --------------------------------------------------------------------------
// Interface Methods (docu see IReconnectStrategy)
// --------------------------------------------------------------------------

func (b *BackOff) WhenDisconnected(ctx context.Context, _ DisconnectInfo) bool {
	return sleep(ctx, b.Next())
}

func (b *BackOff) WhenConnected() {
	b.Reset()
}

// --------------------------------------------------------------------------
// Fixed Delay
// --------------------------------------------------------------------------

// FixedDelay waits the same delay before every attempt and never gives up
type FixedDelay struct {
	Delay time.Duration
}

func (f FixedDelay) WhenDisconnected(ctx context.Context, _ DisconnectInfo) bool {
	return sleep(ctx, f.Delay)
}

func (f FixedDelay) WhenConnected() {}

// --------------------------------------------------------------------------
// Max Attempts
// --------------------------------------------------------------------------

// MaxAttempts wraps a strategy and gives up after Max consecutive failed attempts
type MaxAttempts struct {
	Strategy IReconnectStrategy
	Max      int
}

func (m MaxAttempts) WhenDisconnected(ctx context.Context, info DisconnectInfo) bool {
	if m.Max > 0 && info.Attempt > m.Max {
		return false
	}
	return m.Strategy.WhenDisconnected(ctx, info)
}

func (m MaxAttempts) WhenConnected() {
	m.Strategy.WhenConnected()
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// StrategyFromConfig returns the default strategy for a client configuration: an exponential
// backoff between the configured delays, limited to MaxReconnectAttempts if set
func StrategyFromConfig(config common.ClientConfig) IReconnectStrategy {
	var strategy IReconnectStrategy = NewBackOff(config.ReconnectBaseDelay(), config.ReconnectMaxDelay())
	if config.MaxReconnectAttempts > 0 {
		strategy = MaxAttempts{Strategy: strategy, Max: config.MaxReconnectAttempts}
	}
	return strategy
}

// sleep waits for d and returns false if ctx is done first
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
