package events

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/trojahn-tecnologia/troia-assignment-engine/internal/types"
)

func TestNewHub(t *testing.T) {
	logger := zerolog.New(&bytes.Buffer{})
	hub := NewHub(logger)

	if hub == nil {
		t.Fatal("expected hub to be created")
	}

	if hub.clients == nil {
		t.Error("expected clients map to be initialized")
	}

	if hub.broadcast == nil {
		t.Error("expected broadcast channel to be initialized")
	}

	if hub.register == nil {
		t.Error("expected register channel to be initialized")
	}

	if hub.unregister == nil {
		t.Error("expected unregister channel to be initialized")
	}
}

func TestHubClientCount(t *testing.T) {
	logger := zerolog.New(&bytes.Buffer{})
	hub := NewHub(logger)

	// Initial count should be 0
	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}

	// Simulate adding clients
	hub.mu.Lock()
	hub.clients[&Client{id: "test1"}] = true
	hub.clients[&Client{id: "test2"}] = true
	hub.mu.Unlock()

	if hub.ClientCount() != 2 {
		t.Errorf("expected 2 clients, got %d", hub.ClientCount())
	}
}

func TestHubRegisterUnregister(t *testing.T) {
	logger := zerolog.New(&bytes.Buffer{})
	hub := NewHub(logger)

	// Start hub in goroutine
	go hub.Run()

	// Create mock client
	client := &Client{
		id:   "test-client",
		hub:  hub,
		send: make(chan []byte, 1),
	}

	// Register client
	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	if hub.ClientCount() != 1 {
		t.Errorf("expected 1 client after register, got %d", hub.ClientCount())
	}

	// Unregister client
	hub.unregister <- client
	time.Sleep(10 * time.Millisecond)

	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients after unregister, got %d", hub.ClientCount())
	}
}

func TestHubPublishReachesSubscribers(t *testing.T) {
	logger := zerolog.New(&bytes.Buffer{})
	hub := NewHub(logger)

	go hub.Run()

	client1 := &Client{
		id:   "client1",
		hub:  hub,
		send: make(chan []byte, 10),
	}

	client2 := &Client{
		id:   "client2",
		hub:  hub,
		send: make(chan []byte, 10),
	}

	hub.register <- client1
	hub.register <- client2
	time.Sleep(10 * time.Millisecond)

	event := types.AssignmentEvent{
		Type: types.EventAssignmentCreated,
		Assignment: types.Assignment{
			ID:        "as-1",
			CompanyID: "co-1",
			Status:    types.StatusAssigned,
		},
		Timestamp: time.Now(),
	}
	hub.Publish(event)

	for _, client := range []*Client{client1, client2} {
		select {
		case msg := <-client.send:
			var got types.AssignmentEvent
			if err := json.Unmarshal(msg, &got); err != nil {
				t.Fatalf("%s received invalid JSON: %v", client.id, err)
			}
			if got.Assignment.ID != "as-1" {
				t.Errorf("%s expected assignment as-1, got %s", client.id, got.Assignment.ID)
			}
			if got.Type != types.EventAssignmentCreated {
				t.Errorf("%s expected created event, got %s", client.id, got.Type)
			}
		case <-time.After(100 * time.Millisecond):
			t.Errorf("%s did not receive event", client.id)
		}
	}
}

func TestHubFiltersByCompany(t *testing.T) {
	logger := zerolog.New(&bytes.Buffer{})
	hub := NewHub(logger)

	go hub.Run()

	subscribed := &Client{
		id:        "subscribed",
		hub:       hub,
		send:      make(chan []byte, 10),
		companyID: "co-1",
	}

	other := &Client{
		id:        "other",
		hub:       hub,
		send:      make(chan []byte, 10),
		companyID: "co-2",
	}

	hub.register <- subscribed
	hub.register <- other
	time.Sleep(10 * time.Millisecond)

	hub.Publish(types.AssignmentEvent{
		Type:       types.EventAssignmentCreated,
		Assignment: types.Assignment{ID: "as-1", CompanyID: "co-1"},
		Timestamp:  time.Now(),
	})

	select {
	case <-subscribed.send:
	case <-time.After(100 * time.Millisecond):
		t.Error("subscribed client did not receive its tenant's event")
	}

	select {
	case <-other.send:
		t.Error("client for a different tenant received the event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcastRemovesSaturatedClient(t *testing.T) {
	logger := zerolog.New(&bytes.Buffer{})
	hub := NewHub(logger)

	stuck := &Client{id: "stuck", send: make(chan []byte, 1)}
	stuck.send <- []byte("backlog")

	hub.mu.Lock()
	hub.clients[stuck] = true
	hub.mu.Unlock()

	hub.broadcastFiltered(types.AssignmentEvent{
		Type:       types.EventAssignmentCreated,
		Assignment: types.Assignment{ID: "as-1", CompanyID: "co-1"},
	})

	if hub.ClientCount() != 0 {
		t.Errorf("expected saturated client removed, got %d clients", hub.ClientCount())
	}
	if _, ok := <-stuck.send; !ok {
		t.Error("expected backlog still readable before channel close")
	}
	if _, ok := <-stuck.send; ok {
		t.Error("expected send channel closed after removal")
	}
}
