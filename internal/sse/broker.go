// Package sse implements a Server-Sent Events broker that announces
// committed and rolled back transactions.
package sse

import (
	"bytes"
	"net/http"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
)

// Transaction event kinds.
const (
	KindApplied    = "applied"
	KindRolledBack = "rolled_back"
)

// TransactionData is the payload of transaction.* events.
type TransactionData struct {
	XID      string   `json:"xid"`
	Reverts  string   `json:"reverts,omitempty"`
	Elements []string `json:"elements"`
}

// notice is one announced transaction, already framed.
type notice struct {
	frame       []byte
	urlsChanged bool
}

var urlsUpdatedFrame = []byte("event: urls.updated\ndata: {}\n\n")

// Broker fans transaction events out to SSE clients.
//
// The event loop owns the client set and the urls.updated throttle; the
// exported methods talk to it over channels.
type Broker struct {
	urlsMin time.Duration

	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte
	noticeCh      chan notice
	countCh       chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a new SSE broker. urls.updated events are sent at most
// once per urlsThrottle.
func NewBroker(urlsThrottle time.Duration) *Broker {
	if urlsThrottle <= 0 {
		urlsThrottle = 2 * time.Second
	}
	b := &Broker{
		urlsMin:       urlsThrottle,
		subscribeCh:   make(chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		noticeCh:      make(chan notice, 256),
		countCh:       make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	var lastURLs time.Time

	send := func(frame []byte) {
		for ch := range clients {
			select {
			case ch <- frame:
			default:
				// Slow client; drop rather than stall every other one.
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case ch := <-b.subscribeCh:
			clients[ch] = struct{}{}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case resp := <-b.countCh:
			resp <- len(clients)

		case n := <-b.noticeCh:
			send(n.frame)
			if n.urlsChanged && time.Since(lastURLs) >= b.urlsMin {
				lastURLs = time.Now()
				send(urlsUpdatedFrame)
			}
		}
	}
}

// Close stops the event loop and closes every client channel.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a new client and returns its channel.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}
	select {
	case b.subscribeCh <- ch:
	case <-b.stopped:
		close(ch)
	}
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients, 0 once closed.
func (b *Broker) ClientCount() int {
	resp := make(chan int, 1)
	select {
	case b.countCh <- resp:
		return <-resp
	case <-b.stopped:
		return 0
	}
}

// PublishTransaction announces a transaction of the given kind, followed by
// a throttled urls.updated event when it changed URLs. The frame carries
// the transaction id as its SSE id.
func (b *Broker) PublishTransaction(kind string, data TransactionData, urlsChanged bool) {
	if b.closed.Load() {
		return
	}
	if data.Elements == nil {
		data.Elements = []string{}
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	var buf bytes.Buffer
	if data.XID != "" {
		buf.WriteString("id: " + data.XID + "\n")
	}
	buf.WriteString("event: transaction." + kind + "\n")
	buf.WriteString("data: ")
	buf.Write(payload)
	buf.WriteString("\n\n")

	select {
	case b.noticeCh <- notice{frame: buf.Bytes(), urlsChanged: urlsChanged}:
	case <-b.stopped:
	}
}

// ServeHTTP streams events to one client until it disconnects.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
