package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kimhsiao/ledgersync/cmd/syncd/handlers"
	"github.com/kimhsiao/ledgersync/internal/config"
	"github.com/kimhsiao/ledgersync/internal/connectivity"
	"github.com/kimhsiao/ledgersync/internal/kv"
	"github.com/kimhsiao/ledgersync/internal/metrics"
	"github.com/kimhsiao/ledgersync/internal/models"
	syncpkg "github.com/kimhsiao/ledgersync/internal/sync"
	"github.com/kimhsiao/ledgersync/internal/sync/queue"
	"github.com/kimhsiao/ledgersync/internal/sync/scheduler"
)

type nopRemote struct{}

func (nopRemote) Insert(context.Context, string, map[string]interface{}) error { return nil }
func (nopRemote) UpdateByID(context.Context, string, string, map[string]interface{}) error {
	return nil
}
func (nopRemote) DeleteByID(context.Context, string, string) error { return nil }
func (nopRemote) UpdatedAt(context.Context, string, string) (time.Time, bool, error) {
	return time.Time{}, false, nil
}

func newTestApp(t *testing.T) (*httptest.Server, *syncpkg.SyncEngine, *connectivity.Monitor, *WSHub) {
	t.Helper()
	metrics.Register()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	monitor := connectivity.NewMonitor(false)
	q := queue.NewChangeQueue(kv.NewMemoryStore(), "", 0)
	engine := syncpkg.NewSyncEngine(q, nopRemote{}, monitor, nil, syncpkg.Config{})
	t.Cleanup(engine.Wait)

	hub := NewWSHub()
	go hub.Run(ctx)
	engine.SetEventHandler(hub.HandleSyncEvent)

	sched := scheduler.NewScheduler(engine, monitor, nil)
	h := handlers.NewSyncHandler(engine, sched, q, nil, monitor)

	srv := httptest.NewServer(newRouter(h, hub))
	t.Cleanup(srv.Close)
	return srv, engine, monitor, hub
}

func TestRouter_healthAndMetrics(t *testing.T) {
	srv, _, _, _ := newTestApp(t)

	resp, err := http.Get(srv.URL + "/api/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), `ledgersync_http_requests_total{code="200",method="GET",route="/api/health"}`) {
		t.Errorf("metrics missing health request counter")
	}
}

func TestRouter_notFound(t *testing.T) {
	srv, _, _, _ := newTestApp(t)

	resp, err := http.Get(srv.URL + "/api/nope")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
}

// TestWebSocket_syncEvents verifies engine events reach subscribed clients.
func TestWebSocket_syncEvents(t *testing.T) {
	srv, engine, monitor, hub := newTestApp(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]interface{}{"action": "subscribe", "events": []string{"sync.completed"}}); err != nil {
		t.Fatal(err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var ack map[string]interface{}
	if err := conn.ReadJSON(&ack); err != nil || ack["action"] != "subscribe_ack" {
		t.Fatalf("ack = %v, %v", ack, err)
	}
	if hub.ClientCount() != 1 {
		t.Errorf("ClientCount() = %d, want 1", hub.ClientCount())
	}

	ctx := context.Background()
	engine.RecordChange(ctx, models.EntityProduct, "p-1", models.ChangeDelete, nil)
	monitor.SetOnline(true)
	engine.SyncPendingChanges(ctx)

	// sync.started is filtered out by the subscription.
	var env WSEnvelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if env.Type != string(syncpkg.EventSyncCompleted) {
		t.Fatalf("event type = %s, want sync.completed", env.Type)
	}
	if env.Data["success"] != float64(1) {
		t.Errorf("event data = %v", env.Data)
	}
}

func TestIsLocalOrigin(t *testing.T) {
	tests := map[string]bool{
		"localhost:8787":   true,
		"127.0.0.1:8787":   true,
		"[::1]:8787":       true,
		"localhost":        true,
		"example.com:8787": false,
		"10.0.0.2":         false,
	}
	for host, want := range tests {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		r.Host = host
		if got := isLocalOrigin(r); got != want {
			t.Errorf("isLocalOrigin(%q) = %v, want %v", host, got, want)
		}
	}
}

func TestBroadcast_dropsWhenBackedUp(t *testing.T) {
	hub := NewWSHub()
	for i := 0; i < cap(hub.broadcast)+10; i++ {
		hub.Broadcast("sync.started", map[string]interface{}{"i": i})
	}
	if len(hub.broadcast) != cap(hub.broadcast) {
		t.Errorf("queued = %d, want %d", len(hub.broadcast), cap(hub.broadcast))
	}
	var env WSEnvelope
	if err := json.Unmarshal((<-hub.broadcast).payload, &env); err != nil || env.Type != "sync.started" {
		t.Errorf("queued message = %+v, %v", env, err)
	}
}

// =====================================================
// Storage Tests
// =====================================================

func TestOpenStorage(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		s, err := openStorage(ctx, config.StorageConfig{Driver: config.DriverMemory})
		if err != nil {
			t.Fatal(err)
		}
		defer s.Close()
		if s.repo != nil {
			t.Error("memory driver opened a database")
		}
	})

	t.Run("sqlite", func(t *testing.T) {
		s, err := openStorage(ctx, config.StorageConfig{Driver: config.DriverSQLite, DataDir: t.TempDir()})
		if err != nil {
			t.Fatal(err)
		}
		defer s.Close()
		if s.repo == nil {
			t.Fatal("sqlite driver has no repository")
		}
		if err := s.store.Set(ctx, "k", []byte("v")); err != nil {
			t.Fatal(err)
		}
		if v, ok, err := s.store.Get(ctx, "k"); err != nil || !ok || string(v) != "v" {
			t.Errorf("Get() = %q, %v, %v", v, ok, err)
		}
	})

	t.Run("redis unreachable", func(t *testing.T) {
		_, err := openStorage(ctx, config.StorageConfig{
			Driver:  config.DriverRedis,
			DataDir: t.TempDir(),
			Redis:   config.RedisConfig{Addr: "127.0.0.1:1"},
		})
		if err == nil {
			t.Error("openStorage() expected error for unreachable redis")
		}
	})
}
