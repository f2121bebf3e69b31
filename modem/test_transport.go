package modem

import (
	"context"
	"io"
	"slices"
	"strings"
	"sync"
	"time"
)

// TestClock is a simulated Clock. Sleep returns immediately after moving
// the clock forward, so waits of many seconds cost nothing in tests.
type TestClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewTestClock creates a clock set to a fixed instant.
// Exported for use in tests.
func NewTestClock() *TestClock {
	return &TestClock{now: time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *TestClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *TestClock) Sleep(d time.Duration) {
	c.Advance(d)
}

// Advance moves the clock forward by d.
func (c *TestClock) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Chunk is one piece of simulated modem output, delivered After the
// previous chunk of the same reply (or after the triggering write).
type Chunk struct {
	After time.Duration
	Data  string
}

// DefaultLatency is the delay before a Respond chunk arrives.
const DefaultLatency = 20 * time.Millisecond

// Respond is a chunk arriving with the default latency.
func Respond(data string) Chunk {
	return Chunk{After: DefaultLatency, Data: data}
}

// After is a chunk arriving d after the previous one.
func After(d time.Duration, data string) Chunk {
	return Chunk{After: d, Data: data}
}

type script struct {
	command string
	replies [][]Chunk
}

type scheduled struct {
	due  time.Time
	data []byte
}

// TestTransport simulates a SIM800 on the far side of a serial line. It
// implements Transport, Port and Dialer. Written commands are answered
// from a script; output becomes available once the TestClock reaches its
// due time, so the whole exchange is deterministic.
type TestTransport struct {
	clock *TestClock

	mu       sync.Mutex
	scripts  []*script
	fallback []Chunk
	queue    []scheduled
	writes   []string
	writeErr error
	closeErr error
	closed   bool
}

// NewTestTransport creates a transport driven by clock. Commands without a
// script are answered with OK.
// Exported for use in tests.
func NewTestTransport(clock *TestClock) *TestTransport {
	return &TestTransport{
		clock:    clock,
		fallback: []Chunk{Respond("\r\nOK\r\n")},
	}
}

// On scripts the reply to writes starting with command. Each call queues
// one more reply; once the queue is down to its last reply, that reply is
// repeated. A reply without chunks means the modem stays silent.
func (t *TestTransport) On(command string, chunks ...Chunk) *TestTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.scripts {
		if s.command == command {
			s.replies = append(s.replies, chunks)
			return t
		}
	}
	t.scripts = append(t.scripts, &script{command: command, replies: [][]Chunk{chunks}})
	return t
}

// Default replaces the reply to unscripted commands.
func (t *TestTransport) Default(chunks ...Chunk) *TestTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fallback = chunks
	return t
}

// Emit schedules unsolicited output after d.
func (t *TestTransport) Emit(d time.Duration, data string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.schedule(t.clock.Now(), []Chunk{{After: d, Data: data}})
}

// FailWrites makes every following Write fail with err.
func (t *TestTransport) FailWrites(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writeErr = err
}

// SetCloseError makes Close return err.
func (t *TestTransport) SetCloseError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeErr = err
}

// Writes returns everything written so far, one entry per Write.
func (t *TestTransport) Writes() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.writes...)
}

// Count returns how many writes started with command.
func (t *TestTransport) Count(command string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, w := range t.writes {
		if strings.HasPrefix(w, command) {
			n++
		}
	}
	return n
}

func (t *TestTransport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Dial returns the transport itself.
func (t *TestTransport) Dial(ctx context.Context) (Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *TestTransport) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, io.ErrClosedPipe
	}
	if t.writeErr != nil {
		return 0, t.writeErr
	}

	cmd := string(p)
	t.writes = append(t.writes, cmd)
	t.schedule(t.clock.Now(), t.replyTo(cmd))
	return len(p), nil
}

func (t *TestTransport) replyTo(cmd string) []Chunk {
	for _, s := range t.scripts {
		if !strings.HasPrefix(cmd, s.command) {
			continue
		}
		reply := s.replies[0]
		if len(s.replies) > 1 {
			s.replies = s.replies[1:]
		}
		return reply
	}
	return t.fallback
}

func (t *TestTransport) schedule(from time.Time, chunks []Chunk) {
	due := from
	for _, c := range chunks {
		due = due.Add(c.After)
		t.queue = append(t.queue, scheduled{due: due, data: []byte(c.Data)})
	}
	slices.SortStableFunc(t.queue, func(a, b scheduled) int {
		return a.due.Compare(b.due)
	})
}

// Available reports the bytes whose due time has passed.
func (t *TestTransport) Available() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now()
	n := 0
	for _, s := range t.queue {
		if !s.due.After(now) {
			n += len(s.data)
		}
	}
	return n
}

func (t *TestTransport) ReadAvailable() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now()
	var out []byte
	rest := t.queue[:0]
	for _, s := range t.queue {
		if s.due.After(now) {
			rest = append(rest, s)
			continue
		}
		out = append(out, s.data...)
	}
	t.queue = rest
	return out
}

// Read returns due output without blocking. It returns io.EOF once closed.
func (t *TestTransport) Read(p []byte) (int, error) {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return 0, io.EOF
	}
	buf := t.ReadAvailable()
	n := copy(p, buf)
	if n < len(buf) {
		t.mu.Lock()
		t.queue = append([]scheduled{{due: t.clock.Now(), data: buf[n:]}}, t.queue...)
		t.mu.Unlock()
	}
	return n, nil
}

func (t *TestTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return t.closeErr
}
