// Package connectivity tracks whether the remote store is reachable. The
// state is either pushed by the host (SetOnline) or fed by an active prober.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/kimhsiao/ledgersync/internal/logging"
)

// Monitor holds the current online state and fans transitions out to
// subscribers.
type Monitor struct {
	mu        sync.RWMutex
	online    bool
	changedAt time.Time
	subs      map[int]chan bool
	nextID    int
}

// NewMonitor creates a Monitor with the given initial state.
func NewMonitor(online bool) *Monitor {
	return &Monitor{
		online:    online,
		changedAt: time.Now(),
		subs:      make(map[int]chan bool),
	}
}

// IsOnline reports the current state.
func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// ChangedAt returns when the state last changed.
func (m *Monitor) ChangedAt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.changedAt
}

// SetOnline updates the state and reports whether it changed. Subscribers
// are only notified of transitions.
func (m *Monitor) SetOnline(online bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.online == online {
		return false
	}
	m.online = online
	m.changedAt = time.Now()

	logging.Info("Connectivity changed", map[string]interface{}{
		"is_online": online,
	})

	for _, ch := range m.subs {
		// Subscribers only care about the latest state.
		select {
		case <-ch:
		default:
		}
		ch <- online
	}
	return true
}

// Subscribe returns a channel receiving the new state after each transition
// and a function that cancels the subscription and closes the channel.
func (m *Monitor) Subscribe() (<-chan bool, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	ch := make(chan bool, 1)
	m.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.subs, id)
			close(ch)
		})
	}
}

// Pinger checks the remote store. *pgxpool.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Probe pings the remote store every interval and feeds the result into
// SetOnline until ctx is done. The first probe runs immediately.
func (m *Monitor) Probe(ctx context.Context, p Pinger, interval, timeout time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		m.probeOnce(ctx, p, timeout)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Monitor) probeOnce(ctx context.Context, p Pinger, timeout time.Duration) {
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := p.Ping(pingCtx)
	if err != nil && ctx.Err() != nil {
		// Shutting down, not a connectivity signal.
		return
	}
	if err != nil && m.IsOnline() {
		logging.Warn("Remote store unreachable", map[string]interface{}{
			"error": err.Error(),
		})
	}
	m.SetOnline(err == nil)
}
