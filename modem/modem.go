package modem

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"i4.energy/across/sim800gw/at"
)

const (
	probePause    = 1500 * time.Millisecond
	simQueryWait  = 5 * time.Second
	simPollPause  = 500 * time.Millisecond
	simReadyWait  = 30 * time.Second
	maxPendingURC = 16
)

// Modem drives a SIM800-class modem over a half-duplex AT link.
//
// Every exported operation holds the modem lock for its whole duration, so
// at most one command is in flight and compound operations (sending an SMS,
// a miss-call run, a USSD session) are never interleaved with other traffic.
type Modem struct {
	mu sync.Mutex

	// transport provides the physical connection to the modem (serial, TCP, etc.)
	transport Transport
	// port is the polling view of transport the engine reads from
	port Port
	// pump is non-nil when port is a background reader over transport
	pump *streamPort

	config     Config
	clock      Clock
	logger     *zap.Logger
	classifier at.Classifier

	// pending holds events observed while a compound operation was waiting
	// for something else. CheckEvent hands them out first.
	pending []at.Event
	closed  bool
}

// New creates a new Modem with the given configuration.
// It establishes the transport connection and, unless WithoutSetup was
// used, powers the modem on and runs the initialization sequence.
//
// Returns ErrModemUnresponsive if the modem never answered the AT probe.
// The transport is closed whenever New fails after dialing.
func New(ctx context.Context, config Config) (*Modem, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	config.setDefaults()

	transport, err := config.dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}
	if transport == nil {
		return nil, ErrNotInitialized
	}

	m := &Modem{
		transport:  transport,
		config:     config,
		clock:      config.clock,
		logger:     config.logger,
		classifier: at.Classifier{Number: config.numberPolicy},
	}
	if p, ok := transport.(Port); ok {
		m.port = p
	} else {
		m.pump = newStreamPort(transport)
		m.port = m.pump
	}

	if config.skipSetup {
		return m, nil
	}

	if err := m.setup(ctx); err != nil {
		m.Close()
		return nil, fmt.Errorf("initialize modem: %w", err)
	}
	return m, nil
}

// Close shuts down the modem and releases the transport.
// After calling Close(), the modem cannot be reused.
func (m *Modem) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrAlreadyClosed
	}
	m.closed = true

	err := m.transport.Close()
	if m.pump != nil {
		<-m.pump.done
	}
	return err
}

func (m *Modem) ready() error {
	if m.closed {
		return ErrAlreadyClosed
	}
	if m.transport == nil {
		return ErrNotInitialized
	}
	return nil
}

// setup brings a freshly powered modem into the state the rest of the
// package relies on: echo off, text mode SMS on SIM storage, caller ID and
// new message indications enabled.
func (m *Modem) setup(ctx context.Context) error {
	if m.config.powerPin != nil {
		if err := m.powerOn(); err != nil {
			return err
		}
		m.clock.Sleep(m.config.bootDelay)
	}

	baud := fmt.Sprintf("AT+IPR=%d\r\n", m.config.baudRate)
	for _, cmd := range []string{baud, at.CmdEchoOff} {
		if _, err := m.sendAndWait(ctx, cmd, at.OK, m.config.atTimeout); err != nil {
			return err
		}
	}

	if _, err := m.probe(ctx); err != nil {
		return err
	}

	// message storage and indications are rejected while the SIM is locked
	if err := m.unlockSIM(ctx); err != nil {
		return err
	}

	commands := []string{
		baud,
		at.CmdEchoOff,
		at.CmdTextParams,
		at.CmdMoRing,
		at.CmdShowCallerLine,
		at.CmdUSSDEnable,
		at.CmdSetTextMode,
		at.CmdStorageSIM,
		at.CmdCallerID,
		at.CmdNewMsgIndicator,
	}
	for _, cmd := range commands {
		reply, err := m.sendAndWait(ctx, cmd, at.OK, m.config.atTimeout)
		if err != nil {
			return err
		}
		if !reply.OK() {
			m.logger.Warn("setup command not acknowledged",
				zap.String("cmd", strings.TrimSpace(cmd)),
				zap.String("response", reply.Response),
			)
		}
	}

	state, err := m.registration(ctx)
	if err != nil {
		return err
	}
	m.logger.Info("modem ready", zap.Stringer("registration", state))
	return nil
}

// probe sends AT until the modem answers OK and returns all output seen on
// the way. More than maxRetries failed probes mean the device cannot be
// brought up.
func (m *Modem) probe(ctx context.Context) (string, error) {
	var seen strings.Builder
	failures := 0
	for {
		reply, err := m.sendAndWait(ctx, at.CmdAt, at.OK, m.config.atTimeout)
		if err != nil {
			return seen.String(), err
		}
		seen.WriteString(reply.Response)
		if reply.OK() {
			return seen.String(), nil
		}

		failures++
		m.logger.Debug("AT probe failed", zap.Int("failures", failures))
		if failures > m.config.maxRetries {
			return seen.String(), ErrModemUnresponsive
		}
		if err := ctx.Err(); err != nil {
			return seen.String(), errors.Join(ErrModemUnresponsive, err)
		}
		m.clock.Sleep(probePause)
	}
}

func (m *Modem) unlockSIM(ctx context.Context) error {
	reply, err := m.sendAndWait(ctx, at.CmdSimStatus, at.OK, simQueryWait)
	if err != nil {
		return err
	}

	switch {
	case strings.Contains(reply.Response, at.SimReady):
		return nil
	case strings.Contains(reply.Response, at.SimPin):
		if m.config.simPIN == "" {
			return ErrSIMPinRequired
		}
		if err := m.setPIN(ctx, m.config.simPIN); err != nil {
			return err
		}
		return m.waitSIMReady(ctx)
	default:
		m.logger.Warn("unexpected SIM state", zap.String("response", reply.Response))
		return nil
	}
}

// waitSIMReady polls AT+CPIN? until the SIM reports READY. The SIM takes a
// moment to authenticate after the PIN is accepted.
func (m *Modem) waitSIMReady(ctx context.Context) error {
	deadline := m.clock.Now().Add(simReadyWait)
	for {
		reply, err := m.sendAndWait(ctx, at.CmdSimStatus, at.OK, simQueryWait)
		if err != nil {
			return err
		}
		if strings.Contains(reply.Response, at.SimReady) {
			return nil
		}
		if !m.clock.Now().Before(deadline) {
			return fmt.Errorf("SIM not ready after PIN: %w", ErrTimeout)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		m.clock.Sleep(simPollPause)
	}
}

// queue remembers an event for a later CheckEvent. The oldest event is
// dropped when the queue is full.
func (m *Modem) queue(ev at.Event) {
	if ev.Kind == at.EventNoData {
		return
	}
	if len(m.pending) == maxPendingURC {
		m.logger.Warn("dropping queued event", zap.Stringer("kind", m.pending[0].Kind))
		m.pending = m.pending[1:]
	}
	m.pending = append(m.pending, ev)
}
