package fabric

import (
	"context"
	"encoding/json"
	"sync"
)

// Memory is an in-process Fabric used by tests. Delivery is synchronous with
// Publish. A publish error can be injected to exercise failure paths.
type Memory struct {
	mu         sync.Mutex
	subs       map[string][]*memorySubscription
	published  []PublishedMessage
	publishErr error
}

// PublishedMessage records one Publish call for inspection by tests.
type PublishedMessage struct {
	Channel string
	Event   string
	Body    []byte
}

// NewMemory creates an empty in-process fabric.
func NewMemory() *Memory {
	return &Memory{subs: make(map[string][]*memorySubscription)}
}

// FailPublishes makes subsequent Publish calls return err (nil restores
// normal operation).
func (m *Memory) FailPublishes(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishErr = err
}

// Published returns a copy of every successfully published message.
func (m *Memory) Published() []PublishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PublishedMessage, len(m.published))
	copy(out, m.published)
	return out
}

func (m *Memory) Publish(ctx context.Context, channel, event string, body []byte) error {
	m.mu.Lock()
	if m.publishErr != nil {
		err := m.publishErr
		m.mu.Unlock()
		return err
	}
	m.published = append(m.published, PublishedMessage{Channel: channel, Event: event, Body: body})
	subs := make([]*memorySubscription, len(m.subs[channel]))
	copy(subs, m.subs[channel])
	m.mu.Unlock()

	for _, s := range subs {
		s.handler(event, body)
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, channel string, handler Handler) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub := &memorySubscription{fabric: m, channel: channel, handler: handler}
	m.subs[channel] = append(m.subs[channel], sub)
	return sub, nil
}

// PublishJSON marshals v and publishes it, for test convenience.
func (m *Memory) PublishJSON(ctx context.Context, channel, event string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return m.Publish(ctx, channel, event, raw)
}

type memorySubscription struct {
	fabric  *Memory
	channel string
	handler Handler
}

func (s *memorySubscription) Close() error {
	s.fabric.mu.Lock()
	defer s.fabric.mu.Unlock()
	subs := s.fabric.subs[s.channel]
	for i, other := range subs {
		if other == s {
			s.fabric.subs[s.channel] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	return nil
}
