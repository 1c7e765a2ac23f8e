package websocket

import (
	"testing"
	"time"

	"safety-listener/models"
)

func TestBroadcastWithZeroClients(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	done := make(chan struct{})
	go func() {
		hub.BroadcastAlert(models.AlertPayload{
			Message:        "no hardhat detected",
			Timestamp:      time.Now(),
			SiteID:         "S1",
			AreaID:         "A1",
			NoHardhatCount: 2,
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("BroadcastAlert blocked with zero connected clients")
	}

	// Give the hub loop a moment to drain the broadcast channel
	deadline := time.Now().Add(time.Second)
	for {
		_, broadcast := hub.GetStats()
		if broadcast == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected 1 broadcast recorded, got %d", broadcast)
		}
		time.Sleep(5 * time.Millisecond)
	}

	clients, _ := hub.GetStats()
	if clients != 0 {
		t.Errorf("expected 0 connected clients, got %d", clients)
	}
}

func TestRegisterUnregister(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	client := NewClient(hub, nil)
	hub.Register <- client

	deadline := time.Now().Add(time.Second)
	for {
		clients, _ := hub.GetStats()
		if clients == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("client was not registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.Unregister <- client

	deadline = time.Now().Add(time.Second)
	for {
		clients, _ := hub.GetStats()
		if clients == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("client was not unregistered")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBroadcastReachesRegisteredClient(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	client := NewClient(hub, nil)
	hub.Register <- client

	deadline := time.Now().Add(time.Second)
	for {
		clients, _ := hub.GetStats()
		if clients == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("client was not registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.BroadcastAlert(models.AlertPayload{Message: "alert", SiteID: "S1"})

	select {
	case data := <-client.send:
		if len(data) == 0 {
			t.Error("expected non-empty broadcast payload")
		}
	case <-time.After(time.Second):
		t.Fatal("registered client did not receive the broadcast")
	}
}
