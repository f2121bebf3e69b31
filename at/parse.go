package at

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrMalformed is returned by the parsers when a reply carries the expected
// header but its fields are missing or unreadable.
var ErrMalformed = errors.New("malformed response")

// SignalQuality is the +CSQ report.
type SignalQuality struct {
	// RSSI 0..31, 99 when unknown
	RSSI int
	// BER 0..7 (RXQUAL), 99 when unknown
	BER int
}

// Known reports whether the modem could measure the signal.
func (q SignalQuality) Known() bool {
	return q.RSSI != 99
}

// DBm converts RSSI to dBm according to 27.007. It returns 0 when unknown.
func (q SignalQuality) DBm() int {
	switch {
	case q.RSSI == 99 || q.RSSI < 0:
		return 0
	case q.RSSI == 0:
		return -115
	case q.RSSI == 1:
		return -111
	case q.RSSI >= 31:
		return -52
	default:
		return -110 + (q.RSSI-2)*2
	}
}

// ParseSignalQuality reads "+CSQ: <rssi>,<ber>".
func ParseSignalQuality(resp string) (SignalQuality, error) {
	fields, err := fieldsAfter(resp, UrcSignalStrength)
	if err != nil {
		return SignalQuality{}, err
	}
	if len(fields) < 2 {
		return SignalQuality{}, fmt.Errorf("%w: %q", ErrMalformed, resp)
	}
	rssi, err1 := strconv.Atoi(fields[0])
	ber, err2 := strconv.Atoi(fields[1])
	if err1 != nil || err2 != nil {
		return SignalQuality{}, fmt.Errorf("%w: %q", ErrMalformed, resp)
	}
	return SignalQuality{RSSI: rssi, BER: ber}, nil
}

// ParseActivityStatus reads the status value of "+CPAS: <n>".
func ParseActivityStatus(resp string) (int, error) {
	i := strings.Index(resp, "+CPAS: ")
	if i < 0 {
		return 0, fmt.Errorf("%w: %q", ErrMalformed, resp)
	}
	n, ok := leadingInt(resp[i+len("+CPAS: "):])
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrMalformed, resp)
	}
	return n, nil
}

// ParseClock reads the +CCLK reply "yy/MM/dd,hh:mm:ss±zz". The date and
// time fields sit at fixed offsets 0..17 inside the quotes; zz is the
// offset from UTC in quarter hours.
func ParseClock(resp string) (time.Time, error) {
	first := strings.Index(resp, `"`)
	last := strings.LastIndex(resp, `"`)
	if first < 0 || last-first-1 < 17 {
		return time.Time{}, fmt.Errorf("%w: %q", ErrMalformed, resp)
	}
	s := resp[first+1 : last]

	var parts [6]int
	for i := range parts {
		n, err := strconv.Atoi(s[i*3 : i*3+2])
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %q", ErrMalformed, resp)
		}
		parts[i] = n
	}

	loc := time.UTC
	if tz := s[17:]; len(tz) > 1 {
		quarters, err := strconv.Atoi(tz)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %q", ErrMalformed, resp)
		}
		loc = time.FixedZone("", quarters*15*60)
	}

	return time.Date(2000+parts[0], time.Month(parts[1]), parts[2],
		parts[3], parts[4], parts[5], 0, loc), nil
}

// ParseLocationTime reads "+CIPGSMLOC: <code>,yyyy/MM/dd,hh:mm:ss" as
// returned for AT+CIPGSMLOC=2,1. A non-zero code is a network side failure.
func ParseLocationTime(resp string) (time.Time, error) {
	i := strings.Index(resp, "+CIPGSMLOC:")
	if i < 0 {
		return time.Time{}, fmt.Errorf("%w: %q", ErrMalformed, resp)
	}
	line := resp[i+len("+CIPGSMLOC:"):]
	if j := strings.Index(line, CR); j >= 0 {
		line = line[:j]
	}
	code, rest, found := strings.Cut(strings.TrimSpace(line), ",")
	if code != "0" {
		return time.Time{}, fmt.Errorf("location service error %s", code)
	}
	if !found {
		return time.Time{}, fmt.Errorf("%w: %q", ErrMalformed, resp)
	}
	t, err := time.Parse("2006/01/02,15:04:05", rest)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return t, nil
}

// Message is a stored text message as returned by AT+CMGR in text mode.
type Message struct {
	Status string // "REC UNREAD", "REC READ", "STO UNSENT", "STO SENT"
	Sender string
	Time   string
	Text   string
}

// ParseMessage splits a +CMGR reply into header fields and body.
//
//	+CMGR: "REC UNREAD","+989132383246","","19/01/17,10:06:21+14"
//	MESSAGE TEXT
//
//	OK
//
// The body is everything between the header line and the final OK line.
func ParseMessage(resp string) (Message, error) {
	start := strings.Index(resp, "+CMGR:")
	if start < 0 {
		return Message{}, fmt.Errorf("%w: %q", ErrMalformed, resp)
	}
	header := resp[start+len("+CMGR:"):]
	headerEnd := strings.Index(header, CRLF)
	if headerEnd < 0 {
		return Message{}, fmt.Errorf("%w: %q", ErrMalformed, resp)
	}
	body := header[headerEnd+len(CRLF):]
	header = header[:headerEnd]

	if i := strings.LastIndex(body, CRLF+OK); i >= 0 {
		body = body[:i]
	} else if strings.HasPrefix(body, OK) {
		body = ""
	}

	fields := splitQuoted(header)
	if len(fields) < 2 {
		return Message{}, fmt.Errorf("%w: %q", ErrMalformed, resp)
	}
	msg := Message{
		Status: fields[0],
		Sender: fields[1],
		Text:   strings.TrimRight(body, CRLF),
	}
	if len(fields) > 3 {
		msg.Time = fields[3]
	}
	return msg, nil
}

// ParseWhitelist reads "+CWHITELIST: <mode>[,<number>...]".
func ParseWhitelist(resp string) (int, []string, error) {
	fields, err := fieldsAfter(resp, "+CWHITELIST:")
	if err != nil {
		return 0, nil, err
	}
	mode, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %q", ErrMalformed, resp)
	}
	var numbers []string
	for _, f := range fields[1:] {
		if f != "" {
			numbers = append(numbers, f)
		}
	}
	return mode, numbers, nil
}

// fieldsAfter returns the comma separated, unquoted fields of the first
// line starting with header.
func fieldsAfter(resp, header string) ([]string, error) {
	i := strings.Index(resp, header)
	if i < 0 {
		return nil, fmt.Errorf("%w: %q", ErrMalformed, resp)
	}
	line := resp[i+len(header):]
	if j := strings.Index(line, CR); j >= 0 {
		line = line[:j]
	}
	fields := splitQuoted(line)
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrMalformed, resp)
	}
	return fields, nil
}

// splitQuoted splits on commas outside double quotes and strips the quotes.
func splitQuoted(line string) []string {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	var (
		fields []string
		cur    strings.Builder
		quoted bool
	)
	for _, r := range line {
		switch {
		case r == '"':
			quoted = !quoted
		case r == ',' && !quoted:
			fields = append(fields, strings.TrimSpace(cur.String()))
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	return append(fields, strings.TrimSpace(cur.String()))
}
