package at

import (
	"strconv"
	"strings"
)

// MinEventLength is the shortest buffer the classifier will look at.
// Anything shorter is a fragment and reported as EventNoData.
const MinEventLength = 6

// NumberPolicy rewrites the caller number extracted from a +CLIP report.
type NumberPolicy func(number string) string

// TrimLeading drops the first n characters of the number. TrimLeading(3)
// reproduces drivers that strip a "+98"-style country code.
func TrimLeading(n int) NumberPolicy {
	return func(number string) string {
		if n >= len(number) {
			return ""
		}
		return number[n:]
	}
}

// TrimPrefix removes prefix from the number when present.
func TrimPrefix(prefix string) NumberPolicy {
	return func(number string) string {
		return strings.TrimPrefix(number, prefix)
	}
}

// Classifier turns accumulated unsolicited output into an Event.
// The zero value reports caller numbers verbatim.
type Classifier struct {
	Number NumberPolicy
}

type rule struct {
	token  string
	kind   EventKind
	minLen int
	// match overrides the plain substring test
	match func(buf string) bool
	// extract builds the event; false degrades the result to EventNoData
	extract func(c Classifier, buf string) (Event, bool)
}

// The first matching rule wins, so the order is part of the protocol.
var rules = []rule{
	{token: UrcNewMsg, minLen: 14, extract: extractMessageIndex},
	{token: UrcCallerID, minLen: 11, extract: extractCaller},
	{token: UrcUSSD, extract: extractUSSD},
	{token: NoCarrier, kind: EventNoCarrier},
	{token: Ring, kind: EventRinging, match: containsBareRing},
	{token: NoDialtone, kind: EventNoDialtone},
	{token: Busy, kind: EventBusy},
	{token: NoAnswer, kind: EventNoAnswer},
	{token: MoRing, kind: EventRemoteRinging},
	{token: MoConnected, kind: EventRemoteConnected},
}

// Classify evaluates buf against the ordered rule table. It never fails:
// short buffers give EventNoData, unmatched ones EventUnrecognized.
func (c Classifier) Classify(buf string) Event {
	if len(buf) < MinEventLength {
		return Event{Kind: EventNoData, Raw: buf}
	}

	for _, r := range rules {
		if !r.matches(buf) {
			continue
		}
		if len(buf) < r.minLen {
			return Event{Kind: EventNoData, Raw: buf}
		}
		if r.extract == nil {
			return Event{Kind: r.kind, Raw: buf}
		}
		ev, ok := r.extract(c, buf)
		if !ok {
			return Event{Kind: EventNoData, Raw: buf}
		}
		ev.Raw = buf
		return ev
	}

	return Event{Kind: EventUnrecognized, Raw: buf}
}

// Classify uses the zero Classifier.
func Classify(buf string) Event {
	return Classifier{}.Classify(buf)
}

func (r rule) matches(buf string) bool {
	if r.match != nil {
		return r.match(buf)
	}
	return strings.Contains(buf, r.token)
}

// containsBareRing is true for a RING that is not the tail of "MO RING".
func containsBareRing(buf string) bool {
	for from := 0; ; {
		i := strings.Index(buf[from:], Ring)
		if i < 0 {
			return false
		}
		i += from
		if !strings.HasSuffix(buf[:i], "MO ") {
			return true
		}
		from = i + len(Ring)
	}
}

// +CMTI: "SM",7
func extractMessageIndex(_ Classifier, buf string) (Event, bool) {
	comma := strings.Index(buf, ",")
	if comma < 0 {
		return Event{}, false
	}

	end := strings.Index(buf, CR)
	if end >= 0 && comma > end {
		// a CR inside the storage name precedes the comma
		if next := strings.Index(buf[end+1:], CR); next >= 0 {
			end += 1 + next
		} else {
			end = -1
		}
	}
	if end < comma {
		end = len(buf)
		if i := strings.Index(buf[comma:], CR); i >= 0 {
			end = comma + i
		}
	}

	index, ok := leadingInt(buf[comma+1 : end])
	if !ok || index <= 0 {
		return Event{}, false
	}
	return Event{Kind: EventIncomingSMS, Index: index}, true
}

// +CLIP: "+983152401442",145,"",,"",0
func extractCaller(c Classifier, buf string) (Event, bool) {
	open := strings.Index(buf, `"`)
	if open < 0 {
		return Event{}, false
	}
	closing := strings.Index(buf[open+1:], `"`)
	if closing < 0 {
		return Event{}, false
	}

	number := buf[open+1 : open+1+closing]
	if c.Number != nil {
		number = c.Number(number)
	}
	return Event{Kind: EventIncomingCall, Number: number}, true
}

// +CUSD: 0,"Your balance is ...",15
func extractUSSD(_ Classifier, buf string) (Event, bool) {
	first := strings.Index(buf, `"`)
	if first < 0 {
		return Event{}, false
	}
	last := strings.LastIndex(buf, `"`)
	if last == first {
		last = len(buf)
	}
	return Event{Kind: EventUSSDReply, Payload: buf[first+1 : last]}, true
}

// leadingInt parses the integer at the start of s, ignoring leading
// whitespace and anything after the digits.
func leadingInt(s string) (int, bool) {
	s = strings.TrimLeft(s, " \t\r\n")
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}
