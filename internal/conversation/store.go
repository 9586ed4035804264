package conversation

import (
	"context"
	"strings"
	"time"
)

// MessageRecord stores a single human or ai message. Audio never lands here;
// only text survives a turn.
type MessageRecord struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Store persists and retrieves conversation history.
type Store interface {
	Append(ctx context.Context, conversationID string, msgs []MessageRecord) error
	// History returns up to limit messages in chronological order.
	History(ctx context.Context, conversationID string, limit int) ([]MessageRecord, error)
	Clear(ctx context.Context, conversationID string) error
	Close() error
}

// NewStore creates a postgres-backed store when configured, otherwise in-memory.
func NewStore(ctx context.Context, databaseURL string, historyLimit int) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewInMemoryStore(historyLimit), nil
	}
	return NewPostgresStore(ctx, databaseURL)
}
