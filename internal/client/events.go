package client

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/aleksvoss/murmur/internal/protocol"
)

// EventStream is a live subscription to one conversation's turn progress.
// Events closes when the stream ends; Err reports why.
type EventStream struct {
	conn *websocket.Conn
	ch   chan protocol.TurnEvent
	done chan struct{}

	mu        sync.Mutex
	err       error
	closeOnce sync.Once
}

// StreamEvents opens the turn-progress websocket for one conversation.
func (c *Client) StreamEvents(ctx context.Context, conversationID string) (*EventStream, error) {
	target, err := wsURL(c.baseURL, conversationID)
	if err != nil {
		return nil, fmt.Errorf("open event stream: %w", err)
	}
	conn, res, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		if res != nil {
			return nil, fmt.Errorf("open event stream: HTTP %d: %w", res.StatusCode, err)
		}
		return nil, fmt.Errorf("open event stream: %w", err)
	}
	s := &EventStream{
		conn: conn,
		ch:   make(chan protocol.TurnEvent, 64),
		done: make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// Events yields turn events in arrival order until the stream ends.
func (s *EventStream) Events() <-chan protocol.TurnEvent { return s.ch }

// Err reports the read failure that ended the stream, if any. Valid once
// Events is closed. A stream ended by Close reports no error.
func (s *EventStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *EventStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

func (s *EventStream) readLoop() {
	defer close(s.ch)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				// Closed on purpose; not a stream failure.
			default:
				s.mu.Lock()
				s.err = err
				s.mu.Unlock()
			}
			return
		}
		ev, err := protocol.ParseEvent(data)
		if err != nil {
			// Unknown frame types are skipped, not fatal.
			continue
		}
		turnEv, ok := ev.(protocol.TurnEvent)
		if !ok {
			continue
		}
		select {
		case s.ch <- turnEv:
		case <-s.done:
			return
		}
	}
}

func wsURL(baseURL, conversationID string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base URL scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base URL host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/conversations/" + url.PathEscape(conversationID) + "/events"
	return u.String(), nil
}
