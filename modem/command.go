package modem

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"i4.energy/across/sim800gw/at"
)

// settleDelay follows every exchange so the tail of a reply cannot
// interleave with the next command on the half-duplex line.
const settleDelay = 100 * time.Millisecond

// Outcome is the binary result of one command/response exchange.
type Outcome int

const (
	Failure Outcome = iota
	Success
)

func (o Outcome) String() string {
	if o == Success {
		return "success"
	}
	return "failure"
}

// Reply is what one exchange produced: the outcome and the raw output it was
// decided on.
type Reply struct {
	Outcome  Outcome
	Response string
}

func (r Reply) OK() bool {
	return r.Outcome == Success
}

// Err converts a failed reply into an error naming the command. Silence maps
// to ErrTimeout, any other output to ErrCommandFailed.
func (r Reply) Err(command string) error {
	command = strings.TrimSpace(command)
	switch {
	case r.OK():
		return nil
	case r.Response == "":
		return fmt.Errorf("%s: %w", command, ErrTimeout)
	}
	if line, ok := at.Result(r.Response); ok {
		return fmt.Errorf("%s: %w: %s", command, ErrCommandFailed, line)
	}
	return fmt.Errorf("%s: %w: %q", command, ErrCommandFailed, strings.TrimSpace(r.Response))
}

// SendAndWait writes command once and collects output for up to timeout.
// The outcome is Success iff token occurs anywhere in the output; an empty
// token accepts any non-empty output. Mismatch and silence are a Failure
// outcome, not an error: the error is reserved for transport failures.
//
// The command is sent verbatim and must carry its own terminator.
func (m *Modem) SendAndWait(ctx context.Context, command, token string, timeout time.Duration) (Reply, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ready(); err != nil {
		return Reply{}, err
	}
	return m.sendAndWait(ctx, command, token, timeout)
}

func (m *Modem) sendAndWait(ctx context.Context, command, token string, timeout time.Duration) (Reply, error) {
	if err := m.write(command); err != nil {
		return Reply{}, err
	}

	reply := Reply{Response: m.read(ctx, timeout)}
	if token == "" {
		if reply.Response != "" {
			reply.Outcome = Success
		}
	} else if strings.Contains(reply.Response, token) {
		reply.Outcome = Success
	}

	m.logger.Debug("exchange",
		zap.String("cmd", strings.TrimSpace(command)),
		zap.String("response", reply.Response),
		zap.Stringer("outcome", reply.Outcome),
	)

	m.clock.Sleep(settleDelay)
	return reply, nil
}

// exec sends command expecting OK and turns anything else into an error.
func (m *Modem) exec(ctx context.Context, command string, timeout time.Duration) (string, error) {
	reply, err := m.sendAndWait(ctx, command, "OK", timeout)
	if err != nil {
		return "", err
	}
	return reply.Response, reply.Err(command)
}

func (m *Modem) write(command string) error {
	if m.pump != nil {
		if err := m.pump.Err(); err != nil {
			return fmt.Errorf("transport: %w", err)
		}
	}
	if _, err := m.port.Write([]byte(command)); err != nil {
		return fmt.Errorf("write command %q: %w", strings.TrimSpace(command), err)
	}
	return nil
}
