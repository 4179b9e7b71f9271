package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/nerrad567/mqtt-console/internal/journal"
	"github.com/nerrad567/mqtt-console/internal/session"
)

// Console defaults.
const (
	defaultPrompt       = "mqtt> "
	defaultHistoryLimit = 10

	// clearScreen moves the cursor home and erases the display.
	clearScreen = "\033[H\033[2J"
)

// Controller is the session surface the REPL drives.
// *session.Manager satisfies it.
type Controller interface {
	Connect(ctx context.Context, creds session.Credentials, endpoint session.Endpoint) (session.Snapshot, error)
	Disconnect() error
	Publish(topic string, payload []byte) session.Record
	Subscribe(pattern string) error
	Status() session.Snapshot
	Pending() []session.Record
}

// HistorySource lists journalled deliveries. journal.Repository satisfies it.
type HistorySource interface {
	ListDeliveries(ctx context.Context, filter journal.Filter) (*journal.ListResult, error)
}

// Options configure the REPL.
type Options struct {
	// Host, Port and TLS are the endpoint used when login omits them.
	Host string
	Port int
	TLS  bool

	// Prompt is printed before each command. Defaults to "mqtt> ".
	Prompt string
}

// Console reads operator commands and drives the session.
type Console struct {
	ctrl     Controller
	history  HistorySource
	renderer *Renderer
	out      io.Writer
	lines    *lineReader
	opts     Options

	// readPassword reads a secret without echo. Nil means read it as an
	// ordinary line.
	readPassword func() (string, error)
}

// New creates a Console reading commands from in and printing through
// renderer. When in is a terminal, passwords are read without echo.
func New(ctrl Controller, in io.Reader, renderer *Renderer, opts Options) *Console {
	if opts.Prompt == "" {
		opts.Prompt = defaultPrompt
	}

	c := &Console{
		ctrl:     ctrl,
		renderer: renderer,
		out:      renderer.Writer(),
		lines:    newLineReader(in),
		opts:     opts,
	}

	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fd := int(f.Fd())
		c.readPassword = func() (string, error) {
			b, err := term.ReadPassword(fd)
			fmt.Fprintln(c.out) //nolint:errcheck // terminal output
			if err != nil {
				return "", fmt.Errorf("reading password: %w", err)
			}
			return string(b), nil
		}
	}
	return c
}

// SetHistory enables the history command.
func (c *Console) SetHistory(h HistorySource) {
	c.history = h
}

// Run reads and executes commands until quit, end of input or ctx is done.
// quit and end of input end the active session first.
func (c *Console) Run(ctx context.Context) error {
	c.printf("type 'help' for commands\n")

	for {
		c.printf("%s", c.opts.Prompt)

		line, err := c.lines.ReadLine(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.printf("\n")
				c.logout(true)
				return nil
			}
			return err
		}

		if done := c.execute(ctx, line); done {
			return nil
		}
	}
}

// execute runs one command line and reports whether the REPL should stop.
func (c *Console) execute(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	args := strings.Fields(rest)

	switch strings.ToLower(cmd) {
	case "login", "connect":
		c.login(ctx, args)
	case "logout", "disconnect":
		c.logout(false)
	case "pub", "publish":
		c.publish(rest)
	case "sub", "subscribe":
		c.subscribe(args)
	case "status":
		c.status()
	case "pending":
		c.pending()
	case "history":
		c.showHistory(ctx, args)
	case "clear":
		c.printf("%s", clearScreen)
		c.system("console cleared")
	case "help", "?":
		c.help()
	case "quit", "exit":
		c.logout(true)
		return true
	default:
		c.warn("unknown command %q, type 'help' for commands", cmd)
	}
	return false
}

func (c *Console) login(ctx context.Context, args []string) {
	endpoint := session.Endpoint{Host: c.opts.Host, Port: c.opts.Port, TLS: c.opts.TLS}

	var username string
	if len(args) > 0 {
		username = args[0]
	}
	if len(args) > 1 {
		endpoint.Host = args[1]
	}
	if len(args) > 2 {
		port, err := strconv.Atoi(args[2])
		if err != nil || port < 1 || port > 65535 {
			c.warn("invalid port %q", args[2])
			return
		}
		endpoint.Port = port
	}

	if username == "" {
		c.printf("username: ")
		line, err := c.lines.ReadLine(ctx)
		if err != nil {
			c.warn("login cancelled: %v", err)
			return
		}
		username = strings.TrimSpace(line)
	}
	if username == "" {
		c.warn("a username is required")
		return
	}

	c.printf("password: ")
	password, err := c.password(ctx)
	if err != nil {
		c.warn("%v", err)
		return
	}

	// Connect reports failures through the renderer as SessionFailed.
	_, _ = c.ctrl.Connect(ctx, session.Credentials{Username: username, Password: password}, endpoint)
}

// password reads the secret from the terminal without echo unless line
// input is still in flight or buffered, in which case the next line is it.
func (c *Console) password(ctx context.Context) (string, error) {
	if c.readPassword != nil && c.lines.idle() {
		return c.readPassword()
	}
	line, err := c.lines.ReadLine(ctx)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// logout ends the session. quiet suppresses the "not logged in" notice.
func (c *Console) logout(quiet bool) {
	if err := c.ctrl.Disconnect(); err != nil {
		if errors.Is(err, session.ErrNoSession) {
			if !quiet {
				c.warn("not logged in")
			}
			return
		}
		c.warn("logout: %v", err)
	}
}

// publish takes the rest of the line verbatim so payloads keep their spaces.
func (c *Console) publish(rest string) {
	topic, payload, _ := strings.Cut(rest, " ")
	payload = strings.TrimLeft(payload, " ")
	if topic == "" || payload == "" {
		c.warn("usage: pub <topic> <payload>")
		return
	}
	// The outcome arrives as PublishAccepted/PublishResolved events.
	c.ctrl.Publish(topic, []byte(payload))
}

func (c *Console) subscribe(args []string) {
	if len(args) != 1 {
		c.warn("usage: sub <pattern>")
		return
	}
	if err := c.ctrl.Subscribe(args[0]); err != nil {
		if errors.Is(err, session.ErrNoSession) {
			c.warn("not logged in")
			return
		}
		c.warn("subscribe failed: %v", err)
	}
}

func (c *Console) status() {
	s := c.ctrl.Status()
	if !s.Connected {
		c.system("not logged in")
		return
	}

	c.field("identity", fmt.Sprintf("%s (%s)", s.Identity, s.Class))
	c.field("endpoint", s.Endpoint)
	c.field("client id", s.ClientID)
	c.field("presence", s.PresenceTopic)
	c.field("since", s.ConnectedAt.Format(time.DateTime))
	c.field("subscriptions", strings.Join(s.Subscriptions, ", "))
	c.field("pending", strconv.Itoa(s.Pending))
}

func (c *Console) pending() {
	recs := c.ctrl.Pending()
	if len(recs) == 0 {
		c.system("no pending publishes")
		return
	}

	now := time.Now()
	for _, r := range recs {
		c.printf("  %s  %s  %s  waiting %s\n",
			c.renderer.palette.subtle.Sprint(r.ID),
			c.renderer.palette.label.Sprint(r.Topic),
			string(r.Payload),
			now.Sub(r.CreatedAt).Round(time.Millisecond),
		)
	}
	c.system("%d pending", len(recs))
}

func (c *Console) showHistory(ctx context.Context, args []string) {
	if c.history == nil {
		c.warn("journal disabled")
		return
	}

	limit := defaultHistoryLimit
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			c.warn("usage: history [n]")
			return
		}
		limit = n
	}

	res, err := c.history.ListDeliveries(ctx, journal.Filter{Limit: limit})
	if err != nil {
		c.warn("history: %v", err)
		return
	}
	if len(res.Deliveries) == 0 {
		c.system("no deliveries journalled")
		return
	}

	p := c.renderer.palette
	for _, d := range res.Deliveries {
		status := p.ack.Sprint(d.Status)
		detail := fmt.Sprintf("%dms", d.LatencyMS)
		if d.Status == session.StatusFailed.String() {
			status = p.fail.Sprint(d.Status)
			detail = d.Reason
		}
		c.printf("  %s  %-12s  %s  %s  %s  %s\n",
			p.subtle.Sprint(d.ResolvedAt.Local().Format(time.DateTime)),
			status,
			d.Identity,
			p.label.Sprint(d.Topic),
			d.Payload,
			detail,
		)
	}
	c.system("showing %d of %d", len(res.Deliveries), res.Total)
}

func (c *Console) help() {
	c.printf(`commands:
  login [user] [host] [port]   log in (prompts for missing user and password)
  logout                       end the session
  pub <topic> <payload...>     publish a message
  sub <pattern>                subscribe to a topic pattern
  status                       show the session
  pending                      publishes awaiting acknowledgment
  history [n]                  last n journalled deliveries
  clear                        clear the screen
  quit                         log out and exit
`)
}

func (c *Console) field(name, value string) {
	c.printf("  %-14s %s\n", c.renderer.palette.label.Sprint(name), value)
}

func (c *Console) system(format string, args ...any) {
	c.renderer.line(c.renderer.palette.system, format, args...)
}

func (c *Console) warn(format string, args ...any) {
	c.renderer.line(c.renderer.palette.warn, format, args...)
}

func (c *Console) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...) //nolint:errcheck // terminal output
}

// lineReader reads lines on demand so nothing else consumes input while a
// command runs and the terminal can be handed to the password prompt.
type lineReader struct {
	br      *bufio.Reader
	pending chan lineResult
}

type lineResult struct {
	line string
	err  error
}

func newLineReader(in io.Reader) *lineReader {
	return &lineReader{br: bufio.NewReader(in)}
}

// idle reports that no read is in flight and nothing is buffered, so the
// underlying input may be read directly.
func (r *lineReader) idle() bool {
	return r.pending == nil && r.br.Buffered() == 0
}

// ReadLine returns the next line without its terminator. A read abandoned
// by ctx is picked up by the next call.
func (r *lineReader) ReadLine(ctx context.Context) (string, error) {
	if r.pending == nil {
		ch := make(chan lineResult, 1)
		r.pending = ch
		go func() {
			line, err := r.br.ReadString('\n')
			ch <- lineResult{line: line, err: err}
		}()
	}

	select {
	case res := <-r.pending:
		r.pending = nil
		if res.err != nil {
			if errors.Is(res.err, io.EOF) && res.line != "" {
				return strings.TrimRight(res.line, "\r\n"), nil
			}
			return "", res.err
		}
		return strings.TrimRight(res.line, "\r\n"), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
