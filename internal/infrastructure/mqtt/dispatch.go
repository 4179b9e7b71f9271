package mqtt

import "sync"

// dispatcher runs callbacks one at a time on its own goroutine.
//
// Paho invokes handlers on its internal goroutines and Disconnect waits for
// them. Callers of Client typically take a lock in those callbacks and may
// hold the same lock while calling Disconnect, so the client never runs a
// callback on a paho goroutine: it queues it here instead. enqueue never
// blocks.
type dispatcher struct {
	mu      sync.Mutex
	queue   []func()
	signal  chan struct{}
	stopped bool
	done    chan struct{}
}

func newDispatcher() *dispatcher {
	d := &dispatcher{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

// enqueue schedules fn. Calls after stop are dropped.
func (d *dispatcher) enqueue(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.queue = append(d.queue, fn)

	select {
	case d.signal <- struct{}{}:
	default:
	}
}

// stop drops anything still queued and ends the goroutine once the current
// callback returns. It does not wait, so a callback may call it.
func (d *dispatcher) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	d.queue = nil
	close(d.signal)
}

func (d *dispatcher) run() {
	defer close(d.done)

	for range d.signal {
		for {
			d.mu.Lock()
			if len(d.queue) == 0 || d.stopped {
				d.mu.Unlock()
				break
			}
			fn := d.queue[0]
			d.queue[0] = nil
			d.queue = d.queue[1:]
			d.mu.Unlock()

			fn()
		}
	}
}
