package modem

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"i4.energy/across/sim800gw/at"
)

const (
	// DefaultUSSDTimeout bounds the wait for the network's USSD answer.
	DefaultUSSDTimeout = 20 * time.Second
	// DefaultWatchInterval is the pause between two polls of Watch.
	DefaultWatchInterval = 250 * time.Millisecond
)

// CheckEvent polls the modem once for unsolicited output and classifies
// it. Events held back by an earlier compound operation come first.
// An idle line yields an EventNoData event, never an error.
func (m *Modem) CheckEvent(ctx context.Context) (at.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ready(); err != nil {
		return at.Event{}, err
	}
	if len(m.pending) > 0 {
		ev := m.pending[0]
		m.pending = m.pending[1:]
		return ev, nil
	}
	return m.checkEvent(ctx), nil
}

func (m *Modem) checkEvent(ctx context.Context) at.Event {
	buf := m.read(ctx, EventPollTimeout)
	ev := m.classifier.Classify(buf)
	if ev.Kind != at.EventNoData {
		m.logger.Debug("event", zap.Stringer("kind", ev.Kind), zap.String("raw", buf))
	}
	return ev
}

// Watch polls CheckEvent every interval and delivers everything but
// EventNoData on the returned channel. The channel is closed when ctx is
// done or the modem is closed. A slow consumer delays polling, it does not
// lose events.
func (m *Modem) Watch(ctx context.Context, interval time.Duration) <-chan at.Event {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	events := make(chan at.Event)

	go func() {
		defer close(events)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			ev, err := m.CheckEvent(ctx)
			if err != nil {
				m.logger.Debug("watch stopped", zap.Error(err))
				return
			}
			if ev.Kind != at.EventNoData {
				select {
				case events <- ev:
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()

	return events
}

// SendUSSD starts a USSD session (e.g. "*140#") and waits up to timeout for
// the network's answer. Other events arriving meanwhile are kept for
// CheckEvent.
func (m *Modem) SendUSSD(ctx context.Context, code string, timeout time.Duration) (string, error) {
	if err := checkDialString("code", code); err != nil {
		return "", err
	}
	if timeout <= 0 {
		timeout = DefaultUSSDTimeout
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ready(); err != nil {
		return "", err
	}

	cmd := fmt.Sprintf("AT+CUSD=1,\"%s\"\r\n", code)
	reply, err := m.sendAndWait(ctx, cmd, at.OK, DefaultReadTimeout)
	if err != nil {
		return "", err
	}
	if strings.Contains(reply.Response, at.ERROR) {
		return "", reply.Err(cmd)
	}
	// a fast network answers within the command's own reply
	if ev := m.classifier.Classify(reply.Response); ev.Kind == at.EventUSSDReply {
		return ev.Payload, nil
	}

	deadline := m.clock.Now().Add(timeout)
	for m.clock.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		ev := m.checkEvent(ctx)
		if ev.Kind == at.EventUSSDReply {
			return ev.Payload, nil
		}
		m.queue(ev)
		m.clock.Sleep(pollInterval)
	}
	return "", fmt.Errorf("USSD %s: %w", code, ErrTimeout)
}
