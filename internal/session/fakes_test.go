package session

import (
	"context"
	"errors"
	"sync"
)

// recordingSink keeps every emitted event in order.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) all() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func (s *recordingSink) count(kind EventKind) int {
	n := 0
	for _, ev := range s.all() {
		if ev.Kind() == kind {
			n++
		}
	}
	return n
}

func (s *recordingSink) resolved() []Record {
	var out []Record
	for _, ev := range s.all() {
		if r, ok := ev.(PublishResolved); ok {
			out = append(out, r.Record)
		}
	}
	return out
}

// fakeConn records what the session sent.
type fakeConn struct {
	mu           sync.Mutex
	published    []Message
	subscribed   []string
	disconnected bool
	publishErr   error
	subscribeErr error
}

func (c *fakeConn) Publish(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr != nil {
		return c.publishErr
	}
	c.published = append(c.published, msg)
	return nil
}

func (c *fakeConn) Subscribe(pattern string, _ byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribeErr != nil {
		return c.subscribeErr
	}
	c.subscribed = append(c.subscribed, pattern)
	return nil
}

func (c *fakeConn) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
}

// operatorPublishes returns the publishes that carry a tracker ID.
func (c *fakeConn) operatorPublishes() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Message
	for _, m := range c.published {
		if m.ID != "" {
			out = append(out, m)
		}
	}
	return out
}

func (c *fakeConn) systemPublishes() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Message
	for _, m := range c.published {
		if m.ID == "" {
			out = append(out, m)
		}
	}
	return out
}

// fakeDialer hands out fakeConns and remembers the handlers of each dial.
// Passwords other than "secret" are refused as bad credentials.
type fakeDialer struct {
	mu       sync.Mutex
	conns    []*fakeConn
	opts     []DialOptions
	dialErr  error
	password string
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{password: "secret"}
}

func (d *fakeDialer) Dial(_ context.Context, opts DialOptions) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.dialErr != nil {
		return nil, d.dialErr
	}
	if opts.Password != d.password {
		return nil, errors.Join(ErrInvalidCredentials, errors.New("not authorised"))
	}

	c := &fakeConn{}
	d.conns = append(d.conns, c)
	d.opts = append(d.opts, opts)
	return c, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *fakeDialer) last() (*fakeConn, Handlers) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.conns)
	return d.conns[n-1], d.opts[n-1].Handlers
}

func (d *fakeDialer) lastOptions() DialOptions {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opts[len(d.opts)-1]
}
