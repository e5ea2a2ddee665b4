package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

const memoryQueueDepth = 4096

// Memory is a channel-backed in-process queue. Delivery is
// at-least-once: Requeue puts the same message id back at the tail.
// A message is delivered at most MaxDeliveries times, the first
// delivery included; a Requeue past that is dropped.
type Memory struct {
	mu            sync.Mutex
	queues        map[string]chan Message
	MaxDeliveries int
}

// NewMemory creates an in-memory queue. maxDeliveries caps total
// deliveries per message, the first included; zero means the default
// of 3.
func NewMemory(maxDeliveries int) *Memory {
	if maxDeliveries <= 0 {
		maxDeliveries = 3
	}
	return &Memory{
		queues:        make(map[string]chan Message),
		MaxDeliveries: maxDeliveries,
	}
}

func (m *Memory) channel(queue string) chan Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.queues[queue]
	if !ok {
		ch = make(chan Message, memoryQueueDepth)
		m.queues[queue] = ch
	}
	return ch
}

// Push enqueues a message and returns its transport-assigned id.
func (m *Memory) Push(ctx context.Context, queue, class string, args map[string]any) (string, error) {
	msg := Message{
		ID:         uuid.New().String(),
		Queue:      queue,
		Class:      class,
		Args:       args,
		Deliveries: 1,
	}
	select {
	case m.channel(queue) <- msg:
		return msg.ID, nil
	case <-ctx.Done():
		return "", ctx.Err()
	default:
		return "", fmt.Errorf("transport: queue %q full", queue)
	}
}

// Consume returns the delivery channel for a queue.
func (m *Memory) Consume(ctx context.Context, queue string) (<-chan Message, error) {
	return m.channel(queue), nil
}

// Requeue redelivers a message, preserving its id. Messages past the
// delivery cap are dropped.
func (m *Memory) Requeue(ctx context.Context, msg Message) error {
	if msg.Deliveries >= m.MaxDeliveries {
		return nil
	}
	msg.Deliveries++
	select {
	case m.channel(msg.Queue) <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("transport: queue %q full", msg.Queue)
	}
}

// TryPop synchronously takes the next message off a queue, if any.
// Drain loops use this for deterministic, single-threaded processing.
func (m *Memory) TryPop(queue string) (Message, bool) {
	select {
	case msg := <-m.channel(queue):
		return msg, true
	default:
		return Message{}, false
	}
}

// TryPopAny takes the next message from any queue, scanning in
// arbitrary order.
func (m *Memory) TryPopAny() (Message, bool) {
	m.mu.Lock()
	names := make([]string, 0, len(m.queues))
	for name := range m.queues {
		names = append(names, name)
	}
	m.mu.Unlock()
	for _, name := range names {
		if msg, ok := m.TryPop(name); ok {
			return msg, true
		}
	}
	return Message{}, false
}

// Pending reports the number of undelivered messages across all queues.
func (m *Memory) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, ch := range m.queues {
		n += len(ch)
	}
	return n
}
