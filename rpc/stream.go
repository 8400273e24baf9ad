package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"

	"mystra/core/events"
)

const (
	wsWriteTimeout   = 10 * time.Second
	subscriberBuffer = 64
)

// StreamEvent is the wire form of a committed event pushed to subscribers.
type StreamEvent struct {
	CallID     string            `json:"callId"`
	BlockTime  uint64            `json:"blockTime"`
	Sequence   int               `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

type subscriber struct {
	prefix string
	ch     chan StreamEvent
}

// Hub fans committed events out to websocket subscribers. Subscribers that
// fall behind lose events rather than stall the host.
type Hub struct {
	mu      sync.RWMutex
	subs    map[*subscriber]struct{}
	dropped atomic.Int64
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[*subscriber]struct{})}
}

// Emit implements events.Emitter.
func (h *Hub) Emit(evt events.Event) {
	committed, ok := evt.(events.Committed)
	if !ok || committed.Payload == nil {
		return
	}
	out := StreamEvent{
		CallID:     committed.CallID,
		BlockTime:  committed.BlockTime,
		Sequence:   committed.Sequence,
		Type:       committed.Payload.Type,
		Attributes: committed.Payload.Attributes,
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if sub.prefix != "" && !strings.HasPrefix(out.Type, sub.prefix) {
			continue
		}
		select {
		case sub.ch <- out:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe registers a subscriber for events whose type starts with prefix.
func (h *Hub) Subscribe(prefix string) (<-chan StreamEvent, func()) {
	sub := &subscriber{prefix: prefix, ch: make(chan StreamEvent, subscriberBuffer)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, sub)
			h.mu.Unlock()
		})
	}
}

// Dropped reports how many deliveries were skipped for slow subscribers.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// Subscribers reports the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	prefix := strings.TrimSpace(r.URL.Query().Get("type"))
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.cfg.AllowedOrigins})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	ctx := conn.CloseRead(r.Context())
	if err := s.streamEvents(ctx, conn, prefix); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, prefix string) error {
	updates, cancel := s.hub.Subscribe(prefix)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt := <-updates:
			data, err := json.Marshal(evt)
			if err != nil {
				return err
			}
			writeCtx, cancelWrite := context.WithTimeout(ctx, wsWriteTimeout)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancelWrite()
			if err != nil {
				return err
			}
		}
	}
}
