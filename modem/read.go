package modem

import (
	"context"
	"strings"
	"time"
)

const (
	// DefaultReadTimeout bounds general queries.
	DefaultReadTimeout = 5 * time.Second
	// EventPollTimeout bounds one poll for unsolicited output.
	EventPollTimeout = 10 * time.Millisecond

	pollInterval = 13 * time.Millisecond
	drainGap     = 15 * time.Millisecond
)

// read accumulates modem output. It waits up to timeout for the first byte
// and returns "" if none arrives. Once data flows it keeps draining, with a
// short idle gap between drains, until a drain finds nothing new.
//
// Every call starts from an empty buffer; absence of data is not an error.
// A cancelled context ends the wait for the first byte early.
func (m *Modem) read(ctx context.Context, timeout time.Duration) string {
	deadline := m.clock.Now().Add(timeout)
	for m.port.Available() == 0 {
		if ctx.Err() != nil || !m.clock.Now().Before(deadline) {
			return ""
		}
		m.clock.Sleep(pollInterval)
	}

	var buf strings.Builder
	for m.port.Available() > 0 {
		buf.Write(m.port.ReadAvailable())
		m.clock.Sleep(drainGap)
	}
	return buf.String()
}
