package journal

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/mqtt-console/internal/session"
)

// Sink defaults.
const (
	defaultBuffer = 256
	writeTimeout  = 5 * time.Second
)

// Logger is the logging surface the sink needs.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Sink journals resolved deliveries and session lifecycle events.
//
// Emit is called under the session manager's lock, so it only queues; a
// single goroutine performs the inserts in event order.
type Sink struct {
	repo   Repository
	logger Logger

	mu      sync.RWMutex
	closed  bool
	queue   chan session.Event
	done    chan struct{}
	dropped atomic.Uint64
}

// NewSink starts the writer goroutine. buffer <= 0 uses the default queue size.
func NewSink(repo Repository, logger Logger, buffer int) *Sink {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	s := &Sink{
		repo:   repo,
		logger: logger,
		queue:  make(chan session.Event, buffer),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

// Emit implements session.Sink.
func (s *Sink) Emit(ev session.Event) {
	if !journalled(ev) {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}

	select {
	case s.queue <- ev:
	default:
		if n := s.dropped.Add(1); n == 1 || n%100 == 0 {
			s.logger.Warn("journal queue full, dropping events", "dropped", n)
		}
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (s *Sink) Dropped() uint64 {
	return s.dropped.Load()
}

// Close stops accepting events and waits for queued ones to be written.
func (s *Sink) Close() error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	<-s.done
	return nil
}

func (s *Sink) run() {
	defer close(s.done)
	for ev := range s.queue {
		s.write(ev)
	}
}

func (s *Sink) write(ev session.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	var err error
	switch e := ev.(type) {
	case session.PublishResolved:
		err = s.repo.CreateDelivery(ctx, deliveryFromRecord(e.Record))
	default:
		if se, ok := sessionEventFrom(ev); ok {
			err = s.repo.CreateSessionEvent(ctx, se)
		}
	}
	if err != nil {
		s.logger.Error("journal write failed", "event", ev.Kind(), "error", err)
	}
}

// journalled reports whether the sink stores this kind of event.
func journalled(ev session.Event) bool {
	switch ev.(type) {
	case session.PublishResolved, session.SessionEstablished, session.SessionFailed,
		session.SessionLost, session.SessionEnded:
		return true
	default:
		return false
	}
}

func deliveryFromRecord(rec session.Record) *Delivery {
	return &Delivery{
		RecordID:   rec.ID,
		Identity:   rec.Identity,
		Topic:      rec.Topic,
		Payload:    string(rec.Payload),
		Status:     rec.Status.String(),
		Reason:     rec.Reason,
		CreatedAt:  rec.CreatedAt,
		ResolvedAt: rec.ResolvedAt,
		LatencyMS:  rec.Latency().Milliseconds(),
	}
}

func sessionEventFrom(ev session.Event) (*SessionEvent, bool) {
	se := &SessionEvent{Kind: string(ev.Kind())}
	switch e := ev.(type) {
	case session.SessionEstablished:
		se.Identity = e.Identity
		se.Detail = e.Endpoint
		se.CreatedAt = e.At
	case session.SessionFailed:
		se.Identity = e.Identity
		se.Detail = e.KindName + ": " + e.Detail
	case session.SessionLost:
		se.Identity = e.Identity
		se.Detail = e.Reason
	case session.SessionEnded:
		se.Identity = e.Identity
		se.Detail = e.Reason
	default:
		return nil, false
	}
	return se, true
}
