package transport

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/Homiakus/motto/internal/model"
)

// TCP is a line-oriented Transport over a single TCP connection: every
// Send writes one line terminated by "\n" and waits for the next line
// read back, or the deadline, whichever comes first. Device discovery
// (serial port enumeration, baud negotiation, and the like) is out of
// scope (spec.md Non-goals); dialing an already-known address is the one
// mechanism cmd/mottoctl needs to exercise the core against something
// real.
type TCP struct {
	conn net.Conn

	mu      sync.Mutex // serializes writes; Send calls are additionally
	// serialized by the executor's built-in "transport" resource mutex
	resp   chan string
	events chan Event

	closeOnce sync.Once
	closed    chan struct{}
}

// DialTCP connects to addr and starts the background line reader.
func DialTCP(ctx context.Context, addr string) (*TCP, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", model.ErrTransport, addr, err)
	}
	t := &TCP{
		conn: conn, resp: make(chan string), events: make(chan Event, 16),
		closed: make(chan struct{}),
	}
	go t.readLoop()
	return t, nil
}

func (t *TCP) readLoop() {
	scanner := bufio.NewScanner(t.conn)
	for scanner.Scan() {
		line := scanner.Text()
		select {
		case t.resp <- line:
		default:
			select {
			case t.events <- Event{Source: "transport", Payload: map[string]any{"line": line}, Received: time.Now()}:
			case <-t.closed:
				return
			}
		}
	}
	close(t.events)
}

// Send implements Transport.
func (t *TCP) Send(ctx context.Context, line string, deadline time.Time) (Response, error) {
	t.mu.Lock()
	_, err := fmt.Fprintf(t.conn, "%s\n", line)
	t.mu.Unlock()
	if err != nil {
		return Response{}, fmt.Errorf("%w: write: %v", model.ErrTransport, err)
	}

	waitCtx := ctx
	if !deadline.IsZero() {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	select {
	case resp := <-t.resp:
		return Response{Line: resp, Received: time.Now()}, nil
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return Response{}, fmt.Errorf("%w: %v", model.ErrCancelled, ctx.Err())
		}
		return Response{}, fmt.Errorf("%w: no response before deadline", model.ErrTimeout)
	}
}

// Events implements Transport.
func (t *TCP) Events() <-chan Event { return t.events }

// Close implements Transport.
func (t *TCP) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		err = t.conn.Close()
	})
	return err
}
