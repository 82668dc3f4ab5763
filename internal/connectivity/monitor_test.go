package connectivity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMonitor_SetOnline(t *testing.T) {
	m := NewMonitor(false)
	if m.IsOnline() {
		t.Fatal("IsOnline() = true, want false")
	}

	before := m.ChangedAt()
	if !m.SetOnline(true) {
		t.Error("SetOnline(true) should report a change")
	}
	if m.SetOnline(true) {
		t.Error("SetOnline(true) twice should not report a change")
	}
	if !m.IsOnline() {
		t.Error("IsOnline() = false after SetOnline(true)")
	}
	if m.ChangedAt().Before(before) {
		t.Error("ChangedAt() went backwards")
	}
}

func TestMonitor_Subscribe(t *testing.T) {
	m := NewMonitor(false)
	ch, cancel := m.Subscribe()
	defer cancel()

	m.SetOnline(true)
	select {
	case v := <-ch:
		if !v {
			t.Error("received false, want true")
		}
	case <-time.After(time.Second):
		t.Fatal("no notification received")
	}

	// No transition, no notification.
	m.SetOnline(true)
	select {
	case v := <-ch:
		t.Fatalf("unexpected notification %v", v)
	default:
	}
}

func TestMonitor_SubscribeKeepsLatest(t *testing.T) {
	m := NewMonitor(false)
	ch, cancel := m.Subscribe()
	defer cancel()

	m.SetOnline(true)
	m.SetOnline(false)
	m.SetOnline(true)

	if v := <-ch; !v {
		t.Error("latest state = false, want true")
	}
	select {
	case v := <-ch:
		t.Fatalf("unexpected queued notification %v", v)
	default:
	}
}

func TestMonitor_Unsubscribe(t *testing.T) {
	m := NewMonitor(true)
	ch, cancel := m.Subscribe()
	cancel()
	cancel()

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after cancel")
	}
	// Must not panic on a closed subscription.
	m.SetOnline(false)
}

type fakePinger struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (p *fakePinger) Ping(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.err
}

func (p *fakePinger) setErr(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

func TestMonitor_Probe(t *testing.T) {
	m := NewMonitor(false)
	p := &fakePinger{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Probe(ctx, p, 10*time.Millisecond, time.Second)
		close(done)
	}()

	waitFor(t, func() bool { return m.IsOnline() })

	p.setErr(errors.New("connection refused"))
	waitFor(t, func() bool { return !m.IsOnline() })

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Probe() did not return after cancel")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
