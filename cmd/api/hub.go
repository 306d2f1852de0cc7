package main

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/PaulBabatuyi/petmarket-gRPC/internal/chat"
	"github.com/PaulBabatuyi/petmarket-gRPC/internal/data"
)

// StreamSender defines the minimal interface the hub needs from a stream:
// the ability to send a message to the connected client.
type StreamSender interface {
	SendMsg(m any) error
}

// connection serializes sends; a gRPC stream must not be written from two
// goroutines at once.
type connection struct {
	mu sync.Mutex
	s  StreamSender
}

func (c *connection) send(m any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s.SendMsg(m)
}

// ConnectionHub manages the WatchInbox streams of connected users.
// It maps user email addresses to one or more active stream connections so the
// server can push inbox updates to all currently-connected endpoints for a user.
type ConnectionHub struct {
	mu      sync.RWMutex
	streams map[string]map[int64]*connection
	nextID  int64
	log     *zap.Logger
}

var _ chat.Notifier = (*ConnectionHub)(nil)

// NewConnectionHub creates a new hub instance.
func NewConnectionHub(log *zap.Logger) *ConnectionHub {
	if log == nil {
		log = zap.NewNop()
	}
	return &ConnectionHub{streams: make(map[string]map[int64]*connection), log: log}
}

// Register registers a stream for the given email and returns a connection id which
// should be used later to unregister the stream when it closes. The connection
// starts locked: nothing is pushed to it until release is called. release sends
// first, when non-nil, ahead of any queued push; it may be called more than once.
func (h *ConnectionHub) Register(email string, s StreamSender) (id int64, release func(first any) error) {
	conn := &connection{s: s}
	conn.mu.Lock()

	h.mu.Lock()
	if _, ok := h.streams[email]; !ok {
		h.streams[email] = make(map[int64]*connection)
	}
	h.nextID++
	id = h.nextID
	h.streams[email][id] = conn
	h.mu.Unlock()

	var once sync.Once
	release = func(first any) error {
		var err error
		once.Do(func() {
			if first != nil {
				err = s.SendMsg(first)
			}
			conn.mu.Unlock()
		})
		return err
	}
	return id, release
}

// Unregister removes a previously-registered stream for the given user/email.
func (h *ConnectionHub) Unregister(email string, id int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.streams[email]; ok {
		delete(conns, id)
		if len(conns) == 0 {
			delete(h.streams, email)
		}
	}
}

// SendToUser attempts to send m to all currently-connected streams for the
// given email. If the user is not connected, returns an error.
// The hub does best-effort delivery: it tries to send to all streams and returns
// the first error encountered (if any).
func (h *ConnectionHub) SendToUser(email string, m any) error {
	h.mu.RLock()
	conns := make(map[int64]*connection, len(h.streams[email]))
	for id, c := range h.streams[email] {
		conns[id] = c
	}
	h.mu.RUnlock()

	if len(conns) == 0 {
		return fmt.Errorf("user %s not connected", email)
	}

	var firstErr error
	// failed connections are dropped so stale streams do not linger
	var failedIDs []int64
	for id, c := range conns {
		if err := c.send(m); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			failedIDs = append(failedIDs, id)
		}
	}
	for _, id := range failedIDs {
		h.Unregister(email, id)
	}
	return firstErr
}

// MessageSent pushes the recipient's updated inbox row. Offline recipients
// see it in their next inbox snapshot.
func (h *ConnectionHub) MessageSent(recipient string, summary data.ConversationSummary) {
	frame, err := toStruct(inboxEvent{Type: inboxUpdate, Conversation: &summary})
	if err != nil {
		h.log.Error("encode inbox update", zap.Error(err))
		return
	}
	if err := h.SendToUser(recipient, frame); err != nil {
		h.log.Debug("inbox update not delivered", zap.String("recipient", recipient), zap.Error(err))
	}
}

// Connected reports how many streams email has open.
func (h *ConnectionHub) Connected(email string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.streams[email])
}
