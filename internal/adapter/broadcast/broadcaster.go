// Package broadcast fans booking changes out to currently-connected
// observers. Cross-process delivery rides Redis pub/sub; when Redis is
// down the hub degrades to same-process-only delivery and resubscribes
// once the substrate recovers. Everything here is best-effort — a
// broadcast failure is logged, never surfaced to the booking transaction.
package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/srgjo27/court_reserve/internal/core/domain"
)

const channelPrefix = "court.live:"

type subscriber struct {
	courtID uuid.UUID
	ch      chan domain.Event
}

type Hub struct {
	client *redis.Client
	log    *slog.Logger

	mu   sync.RWMutex
	subs map[*subscriber]struct{}
	seen map[uuid.UUID]struct{}
}

func NewHub(client *redis.Client, log *slog.Logger) *Hub {
	return &Hub{
		client: client,
		log:    log,
		subs:   make(map[*subscriber]struct{}),
		seen:   make(map[uuid.UUID]struct{}),
	}
}

// Broadcast delivers to local observers immediately and to other
// processes via Redis. Slow local observers are skipped, not waited on.
func (h *Hub) Broadcast(e domain.Event) {
	// Mark before publishing so the relay loop drops our own echo.
	h.markSeen(e.ID)
	h.deliverLocal(e)

	if h.client == nil {
		return
	}
	body, err := json.Marshal(e)
	if err != nil {
		h.log.Error("broadcast marshal failed", "event_id", e.ID, "err", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.client.Publish(ctx, channelPrefix+e.CourtID.String(), body).Err(); err != nil {
		h.log.Warn("cross-process broadcast failed, local delivery only", "event_id", e.ID, "err", err)
	}
}

func (h *Hub) deliverLocal(e domain.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		if s.courtID != e.CourtID {
			continue
		}
		select {
		case s.ch <- e:
		default:
		}
	}
}

// Subscribe registers a live observer for one court. The returned cancel
// function must be called when the observer disconnects.
func (h *Hub) Subscribe(courtID uuid.UUID) (<-chan domain.Event, func()) {
	s := &subscriber{courtID: courtID, ch: make(chan domain.Event, 16)}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subs, s)
		h.mu.Unlock()
	}
	return s.ch, cancel
}

// Run consumes the cross-process channel and replays remote events into
// the local hub, deduplicating on event id so a process never re-delivers
// its own broadcasts. Reconnects with backoff until the context ends.
func (h *Hub) Run(ctx context.Context) {
	if h.client == nil {
		return
	}
	for {
		if ctx.Err() != nil {
			return
		}
		sub := h.client.PSubscribe(ctx, channelPrefix+"*")
		h.log.Info("broadcast relay subscribed")
		h.consume(ctx, sub)
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		h.log.Warn("broadcast relay lost, retrying")
		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
}

func (h *Hub) consume(ctx context.Context, sub *redis.PubSub) {
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var e domain.Event
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				h.log.Warn("broadcast payload unreadable", "err", err)
				continue
			}
			if h.markSeen(e.ID) {
				continue
			}
			h.deliverLocal(e)
		}
	}
}

// markSeen records an event id and reports whether it was already known.
// The set is pruned wholesale once it grows large; exact dedup only needs
// to cover the window in which a duplicate can realistically arrive.
func (h *Hub) markSeen(id uuid.UUID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.seen[id]; ok {
		return true
	}
	if len(h.seen) > 4096 {
		h.seen = make(map[uuid.UUID]struct{})
	}
	h.seen[id] = struct{}{}
	return false
}
