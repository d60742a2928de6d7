package broker

import (
	"context"
	"strconv"
	"sync"
)

// MemoryConsumer is an in-memory Consumer used by scheduler tests: a
// non-networked stand-in for the real broker, built for pull+ack instead
// of publish+subscribe.
type MemoryConsumer struct {
	mu      sync.Mutex
	queues  map[string][]*Message
	acked   map[string]bool
	nextSeq int
}

// NewMemoryConsumer returns an empty MemoryConsumer.
func NewMemoryConsumer() *MemoryConsumer {
	return &MemoryConsumer{
		queues: make(map[string][]*Message),
		acked:  make(map[string]bool),
	}
}

// Enqueue appends payload as a pending message on org's subject, for tests
// to set up broker state before exercising a populate routine.
func (c *MemoryConsumer) Enqueue(org, subject string, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextSeq++
	key := streamKey(org, subject)
	c.queues[key] = append(c.queues[key], &Message{
		ID:      key + "-" + strconv.Itoa(c.nextSeq),
		Payload: payload,
	})
}

func (c *MemoryConsumer) Pull(ctx context.Context, org, subject string) (*Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := streamKey(org, subject)
	q := c.queues[key]
	if len(q) == 0 {
		return nil, nil
	}
	msg := q[0]
	c.queues[key] = q[1:]
	return msg, nil
}

func (c *MemoryConsumer) Ack(ctx context.Context, org, subject string, msg *Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acked[msg.ID] = true
	return nil
}

// Acked reports whether a message with the given id has been acked —
// test-only introspection.
func (c *MemoryConsumer) Acked(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acked[id]
}
