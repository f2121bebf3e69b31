package modem

import "time"

// Clock is the time source of every wait in the package. All deadlines are
// computed from Now, all pauses go through Sleep.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time        { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }
