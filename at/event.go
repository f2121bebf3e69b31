package at

// EventKind is the classification of one chunk of unsolicited modem output.
type EventKind int

const (
	EventNoData EventKind = iota
	EventIncomingSMS
	EventIncomingCall
	EventUSSDReply
	EventNoCarrier
	EventRinging
	EventNoDialtone
	EventBusy
	EventNoAnswer
	EventRemoteRinging
	EventRemoteConnected
	EventUnrecognized
)

var eventNames = [...]string{
	EventNoData:          "no-data",
	EventIncomingSMS:     "incoming-sms",
	EventIncomingCall:    "incoming-call",
	EventUSSDReply:       "ussd-reply",
	EventNoCarrier:       "no-carrier",
	EventRinging:         "ringing",
	EventNoDialtone:      "no-dialtone",
	EventBusy:            "busy",
	EventNoAnswer:        "no-answer",
	EventRemoteRinging:   "remote-ringing",
	EventRemoteConnected: "remote-connected",
	EventUnrecognized:    "unrecognized",
}

func (k EventKind) String() string {
	if k < 0 || int(k) >= len(eventNames) {
		return "unknown"
	}
	return eventNames[k]
}

// Code returns the stable numeric value of the kind published with event
// messages. Unknown kinds return -1.
func (k EventKind) Code() int {
	switch k {
	case EventNoData:
		return 0
	case EventIncomingCall:
		return 1
	case EventIncomingSMS:
		return 2
	case EventUnrecognized:
		return 4
	case EventRinging:
		return 5
	case EventUSSDReply:
		return 6
	case EventNoAnswer:
		return 7
	case EventNoDialtone:
		return 8
	case EventBusy:
		return 9
	case EventNoCarrier:
		return 10
	case EventRemoteRinging:
		return 12
	case EventRemoteConnected:
		return 13
	}
	return -1
}

// Event is the result of one classification. Exactly one of Index, Number
// and Payload is meaningful depending on Kind.
type Event struct {
	Kind EventKind
	// Index is the storage slot of a new message (EventIncomingSMS).
	Index int
	// Number is the caller ID (EventIncomingCall), possibly empty when withheld.
	Number string
	// Payload is the USSD text (EventUSSDReply).
	Payload string
	// Raw is the accumulated buffer the event was derived from.
	Raw string
}

// Terminal reports whether the event ends an outbound call attempt.
func (e Event) Terminal() bool {
	switch e.Kind {
	case EventRemoteRinging, EventRemoteConnected, EventNoAnswer,
		EventNoDialtone, EventBusy, EventNoCarrier:
		return true
	}
	return false
}
