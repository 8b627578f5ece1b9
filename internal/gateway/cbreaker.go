package gateway

import (
	"sync"
	"time"

	"github.com/zapvia/campaign-gateway/internal/metrics"
)

type breakerState uint8

const (
	// breakerClosed passes traffic and counts consecutive failures.
	breakerClosed breakerState = iota
	// breakerOpen rejects everything until the cooldown elapses.
	breakerOpen
	// breakerProbing lets exactly one request through to test the instance.
	breakerProbing
)

func (s breakerState) String() string {
	switch s {
	case breakerOpen:
		return "open"
	case breakerProbing:
		return "probing"
	default:
		return "closed"
	}
}

// instanceBreaker sheds load from one gateway instance after repeated send
// failures. After the cooldown a single probe request decides whether the
// instance recovered; its outcome closes or re-opens the breaker.
type instanceBreaker struct {
	instanceID string
	threshold  int
	cooldown   time.Duration

	mu       sync.Mutex
	state    breakerState
	failures int
	reopenAt time.Time
}

func newInstanceBreaker(instanceID string, threshold int, cooldown time.Duration) *instanceBreaker {
	return &instanceBreaker{instanceID: instanceID, threshold: threshold, cooldown: cooldown}
}

// allow reports whether a send may proceed. When the cooldown has elapsed
// the calling goroutine claims the probe slot; concurrent callers are
// rejected until the probe resolves.
func (b *instanceBreaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		return true
	case breakerOpen:
		if time.Now().Before(b.reopenAt) {
			return false
		}
		b.transition(breakerProbing)
		return true
	default: // probing: one request in flight at a time
		return false
	}
}

func (b *instanceBreaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	if b.state != breakerClosed {
		b.transition(breakerClosed)
	}
}

func (b *instanceBreaker) failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == breakerProbing {
		b.reopenAt = time.Now().Add(b.cooldown)
		b.transition(breakerOpen)
		return
	}

	b.failures++
	if b.state == breakerClosed && b.failures >= b.threshold {
		b.reopenAt = time.Now().Add(b.cooldown)
		b.transition(breakerOpen)
	}
}

func (b *instanceBreaker) transition(to breakerState) {
	b.state = to
	metrics.BreakerTransitions.WithLabelValues(b.instanceID, to.String()).Inc()
}
