package modem

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"i4.energy/across/sim800gw/at"
)

const (
	dialTimeout      = 30 * time.Second
	answerTimeout    = 10 * time.Second
	hangUpTimeout    = 10 * time.Second
	monitorWindow    = 10 * time.Second
	dialRetryPause   = 100 * time.Millisecond
	monitorPollPause = 100 * time.Millisecond
	preHangUpPause   = 300 * time.Millisecond
	nextAttemptPause = 1 * time.Second
)

// ActivityStatus is the phone activity reported by AT+CPAS.
type ActivityStatus int

const (
	ActivityReady      ActivityStatus = 0
	ActivityUnknown    ActivityStatus = 2
	ActivityRinging    ActivityStatus = 3
	ActivityInProgress ActivityStatus = 4
)

func (s ActivityStatus) String() string {
	switch s {
	case ActivityReady:
		return "ready"
	case ActivityRinging:
		return "ringing"
	case ActivityInProgress:
		return "call-in-progress"
	}
	return "unknown"
}

// Dial places a voice call. Success means the modem accepted the dial
// command, not that the remote side answered.
func (m *Modem) Dial(ctx context.Context, number string) error {
	if err := checkDialString("number", number); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ready(); err != nil {
		return err
	}
	_, err := m.exec(ctx, dialCommand(number), dialTimeout)
	return err
}

// Answer picks up an incoming call.
func (m *Modem) Answer(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ready(); err != nil {
		return err
	}
	_, err := m.exec(ctx, at.CmdAnswer, answerTimeout)
	return err
}

// HangUp ends the current call, incoming or outgoing.
func (m *Modem) HangUp(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ready(); err != nil {
		return err
	}
	_, err := m.exec(ctx, at.CmdHangUp, hangUpTimeout)
	return err
}

// CallStatus queries AT+CPAS.
func (m *Modem) CallStatus(ctx context.Context) (ActivityStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ready(); err != nil {
		return ActivityUnknown, err
	}
	resp, err := m.exec(ctx, at.CmdActivityStatus, DefaultReadTimeout)
	if err != nil {
		return ActivityUnknown, err
	}
	code, err := at.ParseActivityStatus(resp)
	if err != nil {
		return ActivityUnknown, err
	}
	return ActivityStatus(code), nil
}

// CallResult is the terminal result of a miss-call run.
type CallResult int

const (
	CallExhausted CallResult = iota
	CallSucceeded
)

func (r CallResult) String() string {
	if r == CallSucceeded {
		return "succeeded"
	}
	return "exhausted"
}

// CallAttempt is the state of one miss-call run while it loops.
type CallAttempt struct {
	Number string
	// Attempt is the 1-based number of the current attempt.
	Attempt   int
	Remaining int
	// Deadline ends the monitoring window of the current attempt.
	Deadline time.Time
	// Dialed reports whether the modem accepted the current dial command.
	Dialed bool
	// Last is the last call progress event, EventNoData if none was seen.
	Last at.EventKind
}

// MissCallReport summarises a finished miss-call run.
type MissCallReport struct {
	Result   CallResult
	Attempts int
	Last     at.EventKind
}

func (r MissCallReport) Succeeded() bool {
	return r.Result == CallSucceeded
}

// MissCall rings number and hangs up, so the callee sees a missed call.
//
// Each attempt dials, then watches call progress for up to ten seconds.
// Remote ringing, remote pickup and no answer all count as delivered and
// end the run. Busy, no dialtone, a dropped carrier or a silent window end
// the attempt and the next one starts, until maxAttempts are used up.
//
// The returned error is reserved for transport failures and cancellation;
// an exhausted run is reported through MissCallReport.
func (m *Modem) MissCall(ctx context.Context, number string, maxAttempts int) (MissCallReport, error) {
	if maxAttempts <= 0 {
		return MissCallReport{}, fmt.Errorf("attempts: %w", ErrInvalidArgument)
	}
	if err := checkDialString("number", number); err != nil {
		return MissCallReport{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ready(); err != nil {
		return MissCallReport{}, err
	}

	state := CallAttempt{Number: number, Remaining: maxAttempts}
	for state.Remaining > 0 {
		if err := ctx.Err(); err != nil {
			return m.missCallReport(CallExhausted, state), err
		}
		state.Attempt++
		state.Remaining--

		delivered, err := m.attemptCall(ctx, &state)
		if err != nil {
			return m.missCallReport(CallExhausted, state), err
		}
		m.logger.Debug("call attempt finished",
			zap.Int("attempt", state.Attempt),
			zap.Bool("dialed", state.Dialed),
			zap.Stringer("last", state.Last),
		)
		if delivered {
			return m.missCallReport(CallSucceeded, state), nil
		}
	}
	return m.missCallReport(CallExhausted, state), nil
}

// attemptCall runs one dial/monitor/hang-up cycle and reports whether the
// call reached the callee.
func (m *Modem) attemptCall(ctx context.Context, state *CallAttempt) (bool, error) {
	state.Dialed = false
	state.Last = at.EventNoData

	reply, err := m.sendAndWait(ctx, dialCommand(state.Number), at.OK, dialTimeout)
	if err != nil {
		return false, err
	}
	if !reply.OK() {
		m.clock.Sleep(dialRetryPause)
		return false, nil
	}
	state.Dialed = true

	state.Deadline = m.clock.Now().Add(monitorWindow)
	for m.clock.Now().Before(state.Deadline) && ctx.Err() == nil {
		ev := m.checkEvent(ctx)
		if ev.Terminal() {
			state.Last = ev.Kind
			break
		}
		// not ours, keep it for CheckEvent
		m.queue(ev)
		m.clock.Sleep(monitorPollPause)
	}

	m.clock.Sleep(preHangUpPause)
	if _, err := m.sendAndWait(ctx, at.CmdHangUp, at.OK, hangUpTimeout); err != nil {
		return false, err
	}

	switch state.Last {
	case at.EventRemoteRinging, at.EventRemoteConnected, at.EventNoAnswer:
		return true, nil
	}
	m.clock.Sleep(nextAttemptPause)
	return false, nil
}

func (m *Modem) missCallReport(result CallResult, state CallAttempt) MissCallReport {
	report := MissCallReport{Result: result, Attempts: state.Attempt, Last: state.Last}
	m.logger.Info("miss call finished",
		zap.String("number", state.Number),
		zap.Stringer("result", report.Result),
		zap.Int("attempts", report.Attempts),
	)
	return report
}

func dialCommand(number string) string {
	return fmt.Sprintf("ATD%s;\r\n", number)
}
