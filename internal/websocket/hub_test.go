package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/feedcal/internal/model"
)

// mockClient creates a Client with a send channel but no real connection.
func mockClient(hub *Hub) *Client {
	return &Client{
		hub:  hub,
		conn: nil,
		send: make(chan []byte, sendBufferSize),
	}
}

func testRecord(key, status string) model.RunRecord {
	return model.RunRecord{
		FunctionKey:   key,
		Status:        status,
		Message:       "created 3 events, deleted 2",
		EventsCreated: 3,
		EventsDeleted: 2,
		CreatedAt:     time.Date(2026, 2, 5, 6, 0, 0, 0, time.UTC),
	}
}

func TestRegisterUnregister(t *testing.T) {
	hub := NewHub(slog.Default())

	c1 := mockClient(hub)
	c2 := mockClient(hub)

	hub.Register(c1)
	hub.Register(c2)

	if got := hub.ClientCount(); got != 2 {
		t.Fatalf("expected 2 clients, got %d", got)
	}

	hub.Unregister(c1)

	if got := hub.ClientCount(); got != 1 {
		t.Fatalf("expected 1 client after unregister, got %d", got)
	}

	hub.Unregister(c2)

	if got := hub.ClientCount(); got != 0 {
		t.Fatalf("expected 0 clients, got %d", got)
	}
}

func TestDoubleUnregister(t *testing.T) {
	hub := NewHub(slog.Default())
	c := mockClient(hub)
	hub.Register(c)
	hub.Unregister(c)
	// Should not panic
	hub.Unregister(c)

	if got := hub.ClientCount(); got != 0 {
		t.Fatalf("expected 0 clients, got %d", got)
	}
}

func TestBroadcastRun(t *testing.T) {
	hub := NewHub(slog.Default())

	c1 := mockClient(hub)
	c2 := mockClient(hub)
	hub.Register(c1)
	hub.Register(c2)

	hub.BroadcastRun(testRecord("school-lunch", model.RunStatusSuccess))

	for _, c := range []*Client{c1, c2} {
		select {
		case data := <-c.send:
			var got RunStatus
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got.Type != "run_status" {
				t.Errorf("expected type run_status, got %s", got.Type)
			}
			if got.FunctionKey != "school-lunch" {
				t.Errorf("expected function school-lunch, got %s", got.FunctionKey)
			}
			if got.EventsCreated != 3 || got.EventsDeleted != 2 {
				t.Errorf("counts = %d/%d, want 3/2", got.EventsCreated, got.EventsDeleted)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatal("timeout waiting for message")
		}
	}

	hub.Unregister(c1)
	hub.Unregister(c2)
}

func TestBroadcastEmptyHub(t *testing.T) {
	hub := NewHub(slog.Default())
	// Should not panic
	hub.BroadcastRun(testRecord("school-lunch", model.RunStatusError))
}

func TestBroadcastFullBuffer(t *testing.T) {
	hub := NewHub(slog.Default())

	c := mockClient(hub)
	hub.Register(c)

	// Fill the send buffer
	for i := 0; i < sendBufferSize; i++ {
		hub.BroadcastRun(testRecord("school-lunch", model.RunStatusSuccess))
	}

	// This should drop the message, not panic or block
	hub.BroadcastRun(testRecord("school-lunch", model.RunStatusSuccess))

	// Drain to verify buffer was full
	count := 0
	for {
		select {
		case <-c.send:
			count++
		default:
			goto done
		}
	}
done:
	if count != sendBufferSize {
		t.Errorf("expected %d messages, got %d", sendBufferSize, count)
	}

	hub.Unregister(c)
}

func TestNewRunStatus(t *testing.T) {
	msg := NewRunStatus(testRecord("district-notices", model.RunStatusError))
	if msg.Type != "run_status" {
		t.Errorf("expected type run_status, got %s", msg.Type)
	}
	if msg.FunctionKey != "district-notices" {
		t.Errorf("expected function district-notices, got %s", msg.FunctionKey)
	}
	if msg.Status != model.RunStatusError {
		t.Errorf("expected status error, got %s", msg.Status)
	}
	if msg.At.IsZero() {
		t.Error("expected At to carry the record timestamp")
	}
}

func TestConcurrentAccess(t *testing.T) {
	hub := NewHub(slog.Default())
	var wg sync.WaitGroup

	// Spawn goroutines that register, broadcast, and unregister concurrently
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := mockClient(hub)
			hub.Register(c)
			hub.BroadcastRun(testRecord("school-lunch", model.RunStatusSuccess))
			// Drain any messages
			for {
				select {
				case <-c.send:
				default:
					hub.Unregister(c)
					return
				}
			}
		}()
	}

	wg.Wait()

	if got := hub.ClientCount(); got != 0 {
		t.Errorf("expected 0 clients after concurrent test, got %d", got)
	}
}
