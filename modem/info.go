package modem

import (
	"context"
	"fmt"
	"strings"
	"time"

	"i4.energy/across/sim800gw/at"
)

const (
	registrationTimeout = 25 * time.Second
	registrationSettle  = 1 * time.Second
	operatorsTimeout    = 45 * time.Second
	pinTimeout          = 5 * time.Second
	clockRetryPause     = 50 * time.Millisecond
)

// RegistrationState is the network registration derived from AT+CREG?.
type RegistrationState int

const (
	NotRegistered RegistrationState = iota
	Registered
	NoResponse
)

func (s RegistrationState) String() string {
	switch s {
	case Registered:
		return "registered"
	case NoResponse:
		return "no-response"
	}
	return "not-registered"
}

// Code returns the numeric form of the state.
func (s RegistrationState) Code() int {
	return int(s)
}

// Registration reports whether the modem is registered on its home network
// or roaming.
func (m *Modem) Registration(ctx context.Context) (RegistrationState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ready(); err != nil {
		return NoResponse, err
	}
	return m.registration(ctx)
}

func (m *Modem) registration(ctx context.Context) (RegistrationState, error) {
	reply, err := m.sendAndWait(ctx, at.CmdRegistration, "", registrationTimeout)
	if err != nil {
		return NoResponse, err
	}
	switch {
	case reply.Response == "":
		return NoResponse, nil
	case strings.Contains(reply.Response, at.RegisteredHome),
		strings.Contains(reply.Response, at.RegisteredRoaming):
		m.clock.Sleep(registrationSettle)
		return Registered, nil
	}
	return NotRegistered, nil
}

// ProductInfo returns the identification text of ATI, e.g. "SIM800 R14.18".
func (m *Modem) ProductInfo(ctx context.Context) (string, error) {
	return m.query(ctx, at.CmdProductInfo, DefaultReadTimeout)
}

// Operators lists the networks in range (AT+COPS=?). The scan takes tens of
// seconds on a real network.
func (m *Modem) Operators(ctx context.Context) (string, error) {
	return m.query(ctx, at.CmdOperators, operatorsTimeout)
}

// Operator returns the currently selected network (AT+COPS?).
func (m *Modem) Operator(ctx context.Context) (string, error) {
	return m.query(ctx, at.CmdOperator, DefaultReadTimeout)
}

func (m *Modem) SignalQuality(ctx context.Context) (at.SignalQuality, error) {
	resp, err := m.command(ctx, at.CmdSignalQuality, DefaultReadTimeout)
	if err != nil {
		return at.SignalQuality{}, err
	}
	return at.ParseSignalQuality(resp)
}

// SetPIN unlocks the SIM.
func (m *Modem) SetPIN(ctx context.Context, pin string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ready(); err != nil {
		return err
	}
	return m.setPIN(ctx, pin)
}

func (m *Modem) setPIN(ctx context.Context, pin string) error {
	if err := checkPIN(pin); err != nil {
		return err
	}
	reply, err := m.sendAndWait(ctx, fmt.Sprintf("AT+CPIN=%s\r", pin), at.OK, pinTimeout)
	if err != nil {
		return err
	}
	// the PIN must not end up in error messages
	return reply.Err("AT+CPIN")
}

// SetSleepMode enables or disables slow clock (AT+CSCLK). While enabled the
// modem sleeps when DTR is high.
func (m *Modem) SetSleepMode(ctx context.Context, enabled bool) error {
	mode := 0
	if enabled {
		mode = 1
	}
	_, err := m.command(ctx, fmt.Sprintf("AT+CSCLK=%d\r\n", mode), DefaultReadTimeout)
	return err
}

// Functionality is the phone functionality level of AT+CFUN.
type Functionality int

const (
	FunctionalityMinimum Functionality = 0
	FunctionalityFull    Functionality = 1
	FunctionalityFlight  Functionality = 4
)

func (f Functionality) valid() bool {
	return f == FunctionalityMinimum || f == FunctionalityFull || f == FunctionalityFlight
}

func (m *Modem) SetFunctionality(ctx context.Context, f Functionality) error {
	if !f.valid() {
		return fmt.Errorf("functionality %d: %w", f, ErrInvalidArgument)
	}
	_, err := m.command(ctx, fmt.Sprintf("AT+CFUN=%d\r\n", f), DefaultReadTimeout)
	return err
}

// Clock reads the modem's real time clock. The modem occasionally rejects
// the first query after boot, so an ERROR is retried once.
func (m *Modem) Clock(ctx context.Context) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ready(); err != nil {
		return time.Time{}, err
	}

	reply, err := m.sendAndWait(ctx, at.CmdClock, at.OK, DefaultReadTimeout)
	if err != nil {
		return time.Time{}, err
	}
	if strings.Contains(reply.Response, at.ERROR) {
		m.clock.Sleep(clockRetryPause)
		if reply, err = m.sendAndWait(ctx, at.CmdClock, at.OK, DefaultReadTimeout); err != nil {
			return time.Time{}, err
		}
	}
	if !reply.OK() {
		return time.Time{}, reply.Err(at.CmdClock)
	}
	return at.ParseClock(reply.Response)
}

// NetworkTime asks the network for date and time (AT+CIPGSMLOC=2,1). It
// needs an active bearer profile.
func (m *Modem) NetworkTime(ctx context.Context) (time.Time, error) {
	resp, err := m.command(ctx, at.CmdLocationTime, DefaultReadTimeout)
	if err != nil {
		return time.Time{}, err
	}
	return at.ParseLocationTime(resp)
}

// query runs a command that answers with data and OK.
func (m *Modem) query(ctx context.Context, cmd string, timeout time.Duration) (string, error) {
	resp, err := m.command(ctx, cmd, timeout)
	if err != nil {
		return "", err
	}
	return cleanResponse(resp), nil
}

func (m *Modem) command(ctx context.Context, cmd string, timeout time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ready(); err != nil {
		return "", err
	}
	return m.exec(ctx, cmd, timeout)
}

// cleanResponse keeps the data lines of resp.
func cleanResponse(resp string) string {
	var data []string
	for _, line := range at.Lines(resp) {
		if at.ClassifyLine(line) == at.TypeData {
			data = append(data, line)
		}
	}
	return strings.Join(data, "\n")
}
