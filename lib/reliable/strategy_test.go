package reliable

import (
	"context"
	"github.com/ValentinKolb/dStream/rpc/common"
	"reflect"
	"testing"
	"time"
)

// TestBackOffSequence tests that the delay doubles up to the cap
func TestBackOffSequence(t *testing.T) {
	tests := []struct {
		name     string
		base     time.Duration
		max      time.Duration
		expected []time.Duration
	}{
		{
			name:     "Capped",
			base:     10 * time.Millisecond,
			max:      80 * time.Millisecond,
			expected: []time.Duration{10, 20, 40, 80, 80, 80},
		},
		{
			name:     "Uncapped",
			base:     time.Millisecond,
			max:      0,
			expected: []time.Duration{1, 2, 4, 8, 16, 32},
		},
		{
			name:     "CapNotPowerOfTwo",
			base:     30 * time.Millisecond,
			max:      100 * time.Millisecond,
			expected: []time.Duration{30, 60, 100, 100},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBackOff(tt.base, tt.max)
			unit := time.Millisecond
			var got []time.Duration
			for range tt.expected {
				got = append(got, b.Next()/unit)
			}
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("Expected delays %v, got %v", tt.expected, got)
			}

			// delays never decrease without a reset
			for i := 1; i < len(got); i++ {
				if got[i] < got[i-1] {
					t.Errorf("Delay decreased from %v to %v", got[i-1], got[i])
				}
			}
		})
	}
}

// TestBackOffReset tests that a successful connect restarts at the base delay
func TestBackOffReset(t *testing.T) {
	b := NewBackOff(5*time.Millisecond, time.Second)
	b.Next()
	b.Next()
	b.Next()

	b.WhenConnected()
	if d := b.Next(); d != 5*time.Millisecond {
		t.Errorf("Expected base delay after reset, got %v", d)
	}
}

// TestBackOffCancel tests that waiting stops when the context is done
func TestBackOffCancel(t *testing.T) {
	b := NewBackOff(time.Hour, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	if b.WhenDisconnected(ctx, DisconnectInfo{Attempt: 1}) {
		t.Error("Expected WhenDisconnected to return false for a cancelled context")
	}
	if time.Since(start) > time.Second {
		t.Error("WhenDisconnected did not return promptly")
	}
}

// TestMaxAttempts tests that the wrapper gives up after the configured attempts
func TestMaxAttempts(t *testing.T) {
	strategy := MaxAttempts{Strategy: FixedDelay{}, Max: 2}
	ctx := context.Background()

	for attempt := 1; attempt <= 2; attempt++ {
		if !strategy.WhenDisconnected(ctx, DisconnectInfo{Attempt: attempt}) {
			t.Errorf("Expected attempt %d to be allowed", attempt)
		}
	}
	if strategy.WhenDisconnected(ctx, DisconnectInfo{Attempt: 3}) {
		t.Error("Expected attempt 3 to be refused")
	}
}

// TestStrategyFromConfig tests the strategy derived from the client configuration
func TestStrategyFromConfig(t *testing.T) {
	config := common.DefaultClientConfig()

	if _, ok := StrategyFromConfig(config).(*BackOff); !ok {
		t.Errorf("Expected *BackOff without attempt limit")
	}

	config.MaxReconnectAttempts = 3
	strategy, ok := StrategyFromConfig(config).(MaxAttempts)
	if !ok {
		t.Fatalf("Expected MaxAttempts with attempt limit")
	}
	if strategy.Max != 3 {
		t.Errorf("Expected max 3, got %d", strategy.Max)
	}
	backoff := strategy.Strategy.(*BackOff)
	if backoff.Base != config.ReconnectBaseDelay() || backoff.Max != config.ReconnectMaxDelay() {
		t.Errorf("Unexpected backoff delays %v / %v", backoff.Base, backoff.Max)
	}
}
