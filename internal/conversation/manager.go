package conversation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var (
	ErrNotFound = errors.New("conversation not found")
	// ErrBusy means a turn is already in flight; turns within one
	// conversation are strictly sequential.
	ErrBusy = errors.New("conversation busy")
)

// Conversation is registry metadata only; message history lives in a Store.
type Conversation struct {
	ID             string    `json:"conversationId"`
	Status         Status    `json:"status"`
	ActiveTurnID   string    `json:"activeTurnId,omitempty"`
	TurnCount      int       `json:"turnCount"`
	CreatedAt      time.Time `json:"createdAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
}

// Manager owns the conversation registry. Ended and expired conversations
// are removed outright, so every lookup after that reports ErrNotFound.
type Manager struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
	idleTimeout   time.Duration
	onRemove      func(Conversation)
}

func NewManager(idleTimeout time.Duration) *Manager {
	if idleTimeout <= 0 {
		idleTimeout = 10 * time.Minute
	}
	return &Manager{
		conversations: make(map[string]*Conversation),
		idleTimeout:   idleTimeout,
	}
}

// SetRemoveHook registers a callback fired after a conversation leaves the
// registry, whether by End or by janitor expiry. Used to release history and
// event subscribers.
func (m *Manager) SetRemoveHook(hook func(Conversation)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onRemove = hook
}

func (m *Manager) Create() Conversation {
	now := time.Now().UTC()
	c := &Conversation{
		ID:             uuid.NewString(),
		Status:         StatusActive,
		CreatedAt:      now,
		LastActivityAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversations[c.ID] = c
	return *c
}

func (m *Manager) Get(id string) (Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conversations[id]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return *c, nil
}

// BeginTurn claims the conversation's single turn slot and returns the new
// turn ID. A second claim before CompleteTurn reports ErrBusy.
func (m *Manager) BeginTurn(id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok {
		return "", ErrNotFound
	}
	if c.ActiveTurnID != "" {
		return "", ErrBusy
	}
	c.ActiveTurnID = uuid.NewString()
	c.LastActivityAt = time.Now().UTC()
	return c.ActiveTurnID, nil
}

// CompleteTurn releases the turn slot. Best effort: the conversation may
// already be gone when a slow turn finishes.
func (m *Manager) CompleteTurn(id, turnID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok || c.ActiveTurnID != turnID {
		return
	}
	c.ActiveTurnID = ""
	c.TurnCount++
	c.LastActivityAt = time.Now().UTC()
}

// End removes the conversation and returns its final snapshot.
func (m *Manager) End(id string) (Conversation, error) {
	m.mu.Lock()
	c, ok := m.conversations[id]
	if !ok {
		m.mu.Unlock()
		return Conversation{}, ErrNotFound
	}
	delete(m.conversations, id)
	c.Status = StatusEnded
	c.ActiveTurnID = ""
	c.LastActivityAt = time.Now().UTC()
	snapshot := *c
	hook := m.onRemove
	m.mu.Unlock()

	if hook != nil {
		hook(snapshot)
	}
	return snapshot, nil
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireIdle()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conversations)
}

func (m *Manager) expireIdle() {
	now := time.Now().UTC()
	var expired []Conversation

	m.mu.Lock()
	for id, c := range m.conversations {
		if now.Sub(c.LastActivityAt) < m.idleTimeout {
			continue
		}
		delete(m.conversations, id)
		c.Status = StatusEnded
		c.ActiveTurnID = ""
		c.LastActivityAt = now
		expired = append(expired, *c)
	}
	hook := m.onRemove
	m.mu.Unlock()

	if hook != nil {
		for _, c := range expired {
			hook(c)
		}
	}
}
