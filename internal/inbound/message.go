package inbound

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ppiankov/pollmark/internal/source"
)

// Message is a received item with delivery headers.
type Message struct {
	Payload source.Item
	Headers Headers
}

// Headers carry delivery metadata. ID is unique per Receive call.
type Headers struct {
	ID        uuid.UUID
	Timestamp time.Time
	History   []HistoryEntry // set only when tracking is enabled
}

// HistoryEntry records a component the message passed through.
type HistoryEntry struct {
	Name      string
	Type      string
	Timestamp time.Time
}

// queue is an unbounded FIFO safe for concurrent use. pop never blocks.
type queue struct {
	mu    sync.Mutex
	items []source.Item
}

func (q *queue) push(item source.Item) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
}

func (q *queue) pop() (source.Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	item := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return item, true
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
