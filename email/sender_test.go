package email

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"safety-listener/config"
	"safety-listener/models"
)

// fakeTransport fails a configurable number of times per address before
// succeeding; failAlways addresses never succeed
type fakeTransport struct {
	mu         sync.Mutex
	failFirst  int
	failAlways map[string]bool
	calls      map[string]int
}

func newFakeTransport(failFirst int) *fakeTransport {
	return &fakeTransport{
		failFirst:  failFirst,
		failAlways: make(map[string]bool),
		calls:      make(map[string]int),
	}
}

func (f *fakeTransport) Send(ctx context.Context, to string, msg models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[to]++
	if f.failAlways[to] {
		return errors.New("transport rejected message")
	}
	if f.calls[to] <= f.failFirst {
		return errors.New("temporary transport failure")
	}
	return nil
}

func (f *fakeTransport) callCount(to string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[to]
}

func testSender(transport Transport) *Sender {
	return NewSender(transport, &config.Config{
		MaxRetries:     3,
		RetryBaseDelay: time.Millisecond,
		SendTimeout:    time.Second,
	})
}

func TestDeliverSucceedsOnThirdAttempt(t *testing.T) {
	transport := newFakeTransport(2)
	sender := testSender(transport)

	result := sender.Deliver(context.Background(), "dana@site.example", "ev-1", models.Message{Subject: "s"})

	if !result.Delivered {
		t.Fatalf("expected delivery, got failure: %s", result.Error)
	}
	if result.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", result.Attempts)
	}
}

func TestDeliverFailsAtCeiling(t *testing.T) {
	transport := newFakeTransport(0)
	transport.failAlways["dana@site.example"] = true
	sender := testSender(transport)

	result := sender.Deliver(context.Background(), "dana@site.example", "ev-1", models.Message{Subject: "s"})

	if result.Delivered {
		t.Fatal("expected failure")
	}
	if result.Attempts != 3 {
		t.Errorf("expected attempts to equal the ceiling (3), got %d", result.Attempts)
	}
	if result.Error == "" {
		t.Error("failed result should carry the last error")
	}
}

func TestDeliverInvalidAddressNotRetried(t *testing.T) {
	transport := newFakeTransport(0)
	sender := testSender(transport)

	result := sender.Deliver(context.Background(), "not-an-address", "ev-1", models.Message{Subject: "s"})

	if result.Delivered {
		t.Fatal("expected validation failure")
	}
	if result.Attempts != 0 {
		t.Errorf("validation failure must not consume attempts, got %d", result.Attempts)
	}
	if transport.callCount("not-an-address") != 0 {
		t.Error("transport must not be called for an invalid address")
	}
}

func TestDeliverAllIsolatesFailures(t *testing.T) {
	transport := newFakeTransport(0)
	transport.failAlways["second@site.example"] = true
	sender := testSender(transport)

	recipients := []models.User{
		{ID: "u1", Email: "first@site.example"},
		{ID: "u2", Email: "second@site.example"},
		{ID: "u3", Email: "third@site.example"},
	}

	results := sender.DeliverAll(context.Background(), recipients, models.Event{ID: "ev-1"}, models.Message{Subject: "s"})

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if !results[0].Delivered || !results[2].Delivered {
		t.Error("failure for one recipient must not block the others")
	}
	if results[1].Delivered {
		t.Error("expected recipient 2 to fail")
	}
	if results[1].Attempts != 3 {
		t.Errorf("expected recipient 2 to exhaust 3 attempts, got %d", results[1].Attempts)
	}
}

func TestDeliverStopsOnCancel(t *testing.T) {
	transport := newFakeTransport(0)
	transport.failAlways["dana@site.example"] = true
	sender := NewSender(transport, &config.Config{
		MaxRetries:     3,
		RetryBaseDelay: time.Hour,
		SendTimeout:    time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	done := make(chan models.DeliveryResult, 1)
	go func() {
		done <- sender.Deliver(ctx, "dana@site.example", "ev-1", models.Message{Subject: "s"})
	}()

	select {
	case result := <-done:
		if result.Delivered {
			t.Error("cancelled delivery should not report success")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Deliver did not return after context cancellation")
	}
}
