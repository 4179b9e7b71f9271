package console

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/nerrad567/mqtt-console/internal/session"
)

// timeLayout is the per-line clock.
const timeLayout = "15:04:05"

// syncWriter serialises writes from the REPL and from event callbacks.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// palette holds the line styles. Disabled colours print plain text.
type palette struct {
	sent    *color.Color
	recv    *color.Color
	ack     *color.Color
	fail    *color.Color
	system  *color.Color
	warn    *color.Color
	label   *color.Color
	subtle  *color.Color
	enabled bool
}

func newPalette(enabled bool) *palette {
	p := &palette{
		sent:    color.New(color.FgGreen),
		recv:    color.New(color.FgBlue, color.Bold),
		ack:     color.New(color.FgHiGreen),
		fail:    color.New(color.FgRed, color.Bold),
		system:  color.New(color.FgHiBlack, color.Italic),
		warn:    color.New(color.FgYellow),
		label:   color.New(color.FgMagenta),
		subtle:  color.New(color.FgHiBlack),
		enabled: enabled,
	}
	if !enabled {
		for _, c := range []*color.Color{p.sent, p.recv, p.ack, p.fail, p.system, p.warn, p.label, p.subtle} {
			c.DisableColor()
		}
	} else {
		for _, c := range []*color.Color{p.sent, p.recv, p.ack, p.fail, p.system, p.warn, p.label, p.subtle} {
			c.EnableColor()
		}
	}
	return p
}

// Renderer prints core events to the terminal. It implements session.Sink.
type Renderer struct {
	out     *syncWriter
	palette *palette
	now     func() time.Time
}

// NewRenderer writes to out. colour forces ANSI colours on or off.
func NewRenderer(out io.Writer, colour bool) *Renderer {
	return &Renderer{
		out:     &syncWriter{w: out},
		palette: newPalette(colour),
		now:     time.Now,
	}
}

// Writer returns the synchronised writer shared with the REPL.
func (r *Renderer) Writer() io.Writer {
	return r.out
}

// Emit implements session.Sink.
func (r *Renderer) Emit(ev session.Event) {
	p := r.palette

	switch e := ev.(type) {
	case session.SessionEstablished:
		r.line(p.system, "logged in as %s at %s (client %s)", e.Identity, e.Endpoint, e.ClientID)
	case session.SessionFailed:
		r.line(p.fail, "login failed [%s]: %s", e.KindName, e.Guidance)
		if e.Detail != "" && e.Detail != e.Guidance {
			r.line(p.subtle, "  %s", e.Detail)
		}
	case session.SessionLost:
		r.line(p.fail, "connection lost: %s", e.Reason)
	case session.SessionEnded:
		r.line(p.system, "session for %s ended: %s", e.Identity, e.Reason)
	case session.Subscribed:
		if e.Auto {
			r.line(p.system, "subscribed to %s (automatic)", e.Pattern)
		} else {
			r.line(p.system, "subscribed to %s", e.Pattern)
		}
	case session.PublishAccepted:
		r.message(p.sent, "SENT", e.Record.Topic, e.Record.Payload, e.Record.ID)
	case session.PublishResolved:
		r.resolved(e.Record)
	case session.MessageReceived:
		r.message(p.recv, "RECV", e.Topic, e.Payload, "")
	}
}

func (r *Renderer) resolved(rec session.Record) {
	p := r.palette
	switch rec.Status {
	case session.StatusAcknowledged:
		r.line(p.ack, "ack  %s %s (%s)", rec.ID, rec.Topic, rec.Latency().Round(time.Millisecond))
	case session.StatusFailed:
		id := rec.ID
		if id == "" {
			id = "-"
		}
		r.line(p.fail, "FAIL %s %s: %s", id, rec.Topic, rec.Reason)
	}
}

// message prints a sent or received payload in the two-part layout the
// operator scans for: direction, topic, then the payload.
func (r *Renderer) message(c *color.Color, direction, topic string, payload []byte, id string) {
	p := r.palette
	suffix := ""
	if id != "" {
		suffix = " " + p.subtle.Sprint("["+id+"]")
	}
	fmt.Fprintf(r.out, "%s %s %s %s%s\n", //nolint:errcheck // terminal output
		p.subtle.Sprint(r.now().Format(timeLayout)),
		c.Sprint(direction),
		p.label.Sprint(topic),
		c.Sprint(string(payload)),
		suffix,
	)
}

func (r *Renderer) line(c *color.Color, format string, args ...any) {
	fmt.Fprintf(r.out, "%s %s\n", //nolint:errcheck // terminal output
		r.palette.subtle.Sprint(r.now().Format(timeLayout)),
		c.Sprintf(format, args...),
	)
}
