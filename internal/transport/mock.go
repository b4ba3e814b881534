package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Homiakus/motto/internal/model"
)

// Mock is an in-memory Transport for tests: every Send is recorded, and
// responses/errors are scripted per call, the way the teacher's
// core/mock_discovery.go fakes its discovery backend rather than hitting a
// network service in unit tests.
type Mock struct {
	mu       sync.Mutex
	sent     []string
	handler  func(line string) (Response, error)
	events   chan Event
	closed   bool
}

// NewMock builds a Mock whose Send delegates to handler. A nil handler
// always succeeds, echoing the sent line back as the response.
func NewMock(handler func(line string) (Response, error)) *Mock {
	if handler == nil {
		handler = func(line string) (Response, error) {
			return Response{Line: line}, nil
		}
	}
	return &Mock{handler: handler, events: make(chan Event, 16)}
}

func (m *Mock) Send(ctx context.Context, line string, deadline time.Time) (Response, error) {
	m.mu.Lock()
	m.sent = append(m.sent, line)
	m.mu.Unlock()

	if ctx.Err() != nil {
		return Response{}, fmt.Errorf("%w: %v", model.ErrCancelled, ctx.Err())
	}

	resp, err := m.handler(line)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", model.ErrTransport, err)
	}
	resp.Received = time.Now()
	return resp, nil
}

func (m *Mock) Events() <-chan Event { return m.events }

// Emit pushes a synthetic device notification onto the Events channel, for
// tests exercising the Event Bus's transport-sourced events.
func (m *Mock) Emit(ev Event) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return
	}
	ev.Received = time.Now()
	m.events <- ev
}

func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.events)
	return nil
}

// SentLines returns a copy of every line passed to Send, in call order.
func (m *Mock) SentLines() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sent))
	copy(out, m.sent)
	return out
}
