package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishTransaction_Frame(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishTransaction(KindApplied, TransactionData{XID: "x1", Elements: []string{"e1", "e2"}}, false)

	select {
	case msg := <-ch:
		want := "id: x1\nevent: transaction.applied\ndata: {\"xid\":\"x1\",\"elements\":[\"e1\",\"e2\"]}\n\n"
		if string(msg) != want {
			t.Errorf("frame = %q, want %q", msg, want)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestPublishTransaction_URLThrottle(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// First event should trigger urls.updated.
	b.PublishTransaction(KindApplied, TransactionData{XID: "x1", Elements: []string{"e1"}}, true)
	// Second event immediately should NOT trigger another urls.updated.
	b.PublishTransaction(KindRolledBack, TransactionData{XID: "x2", Reverts: "x1"}, true)
	// Without URL changes there is never a urls.updated event.
	b.PublishTransaction(KindApplied, TransactionData{XID: "x3"}, false)

	// Drain and count events.
	time.Sleep(50 * time.Millisecond)
	urlCount := 0
	var txEvents []string
loop:
	for {
		select {
		case msg := <-ch:
			s := string(msg)
			if strings.Contains(s, "urls.updated") {
				urlCount++
			} else {
				txEvents = append(txEvents, s)
			}
		default:
			break loop
		}
	}

	if len(txEvents) != 3 {
		t.Fatalf("transaction events = %d, want 3", len(txEvents))
	}
	if !strings.Contains(txEvents[0], "event: transaction.applied") || !strings.Contains(txEvents[0], `"elements":["e1"]`) {
		t.Errorf("first event = %q", txEvents[0])
	}
	if !strings.Contains(txEvents[1], "event: transaction.rolled_back") || !strings.Contains(txEvents[1], `"reverts":"x1"`) {
		t.Errorf("second event = %q", txEvents[1])
	}
	if !strings.Contains(txEvents[2], `"elements":[]`) {
		t.Errorf("nil elements not sent as a list: %q", txEvents[2])
	}
	if urlCount != 1 {
		t.Errorf("urls events = %d, want 1 (throttled)", urlCount)
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	// Start handler in background.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	// Give handler time to subscribe.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.PublishTransaction(KindApplied, TransactionData{XID: "x"}, false)
	time.Sleep(50 * time.Millisecond)

	// Cancel context to disconnect.
	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: transaction.applied") {
		t.Errorf("handler output missing event: %q", body)
	}

	// Client should be cleaned up.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// Fill buffer (capacity 64) and then one more should not block.
	for i := 0; i < 70; i++ {
		b.PublishTransaction(KindApplied, TransactionData{XID: "x"}, false)
	}
	// If we reach here without deadlock, the test passes.
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	// Should be safe no-op after close.
	b.PublishTransaction(KindApplied, TransactionData{XID: "x"}, true)
}
