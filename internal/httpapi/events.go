package httpapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aleksvoss/murmur/internal/protocol"
	"github.com/aleksvoss/murmur/internal/turn"
)

const subscriberBuffer = 64

// Hub fans turn progress events out to per-conversation subscribers.
// Publishing never blocks a running turn; a saturated subscriber loses events.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan protocol.TurnEvent]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan protocol.TurnEvent]struct{})}
}

// Subscription delivers one conversation's events on C. C is closed when the
// subscription is cancelled or the conversation is removed.
type Subscription struct {
	C      <-chan protocol.TurnEvent
	cancel func()
}

func (s *Subscription) Close() { s.cancel() }

func (h *Hub) Subscribe(conversationID string) *Subscription {
	ch := make(chan protocol.TurnEvent, subscriberBuffer)

	h.mu.Lock()
	set := h.subs[conversationID]
	if set == nil {
		set = make(map[chan protocol.TurnEvent]struct{})
		h.subs[conversationID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			set, ok := h.subs[conversationID]
			if !ok {
				return
			}
			// Presence in the set means the channel is still open; absence
			// means CloseConversation already closed it.
			if _, ok := set[ch]; ok {
				delete(set, ch)
				close(ch)
			}
			if len(set) == 0 {
				delete(h.subs, conversationID)
			}
		})
	}
	return &Subscription{C: ch, cancel: cancel}
}

func (h *Hub) Publish(ev protocol.TurnEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[ev.ConversationID] {
		select {
		case ch <- ev:
		default:
			// Keep websocket delivery off the turn's critical path; drop
			// when a subscriber cannot keep up.
		}
	}
}

// CloseConversation drops every subscriber of one conversation.
func (h *Hub) CloseConversation(conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[conversationID] {
		close(ch)
	}
	delete(h.subs, conversationID)
}

func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.subs {
		n += len(set)
	}
	return n
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.conversations.Get(id); err != nil {
		respondError(w, http.StatusNotFound, protocol.CodeNotFound, err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub := s.hub.Subscribe(id)
	s.metrics.EventSubscribers.Set(float64(s.hub.SubscriberCount()))
	defer func() {
		sub.Close()
		s.metrics.EventSubscribers.Set(float64(s.hub.SubscriberCount()))
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Subscribers only listen; the read loop exists to notice the peer
	// going away.
	conn.SetReadLimit(512)
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}

// turnReporter bridges graph progress into hub events. Not safe for
// concurrent use; each turn gets its own.
type turnReporter struct {
	hub            *Hub
	conversationID string
	turnID         string
	seq            int
}

func newTurnReporter(hub *Hub, conversationID, turnID string) *turnReporter {
	return &turnReporter{hub: hub, conversationID: conversationID, turnID: turnID}
}

func (r *turnReporter) publish(name protocol.TurnEventName, stage string, status turn.Status, d time.Duration) {
	if r.hub == nil {
		return
	}
	r.seq++
	ev := protocol.TurnEvent{
		Type:           protocol.TypeTurnEvent,
		ConversationID: r.conversationID,
		TurnID:         r.turnID,
		Event:          name,
		Stage:          stage,
		Status:         protocol.StageStatus(status),
		Seq:            r.seq,
		TSMs:           time.Now().UnixMilli(),
	}
	if d > 0 {
		ev.DurationMs = float64(d) / float64(time.Millisecond)
	}
	r.hub.Publish(ev)
}

func (r *turnReporter) TurnStarted() {
	r.publish(protocol.EventTurnStarted, "", "", 0)
}

func (r *turnReporter) StageStarted(stage string) {
	r.publish(protocol.EventStageStarted, stage, "", 0)
}

func (r *turnReporter) StageCompleted(stage string, status turn.Status, d time.Duration) {
	r.publish(protocol.EventStageCompleted, stage, status, d)
}

func (r *turnReporter) TurnCompleted(status turn.Status, d time.Duration) {
	r.publish(protocol.EventTurnCompleted, "", status, d)
}
