package at

import (
	"bufio"
	"bytes"
	"strings"
)

// Splitter is a bufio.SplitFunc for SIM800 output. Tokens are CRLF
// terminated lines, except the SMS input prompt "> " which the modem sends
// without a line ending and is returned as a token of its own.
//
// Echo is expected to be off (ATE0). With echo on, the echoed command is
// returned as an ordinary line before the reply.
//
// At EOF an unterminated remainder is returned as the last token, so a
// reply cut off by the accumulator's idle gap still yields its lines.
func Splitter(data []byte, atEOF bool) (advance int, token []byte, err error) {
	switch {
	case atEOF && len(data) == 0:
		return 0, nil, nil
	case bytes.HasPrefix(data, []byte(Prompt)):
		return len(Prompt), data[:len(Prompt)], nil
	}

	line, _, found := bytes.Cut(data, []byte(CRLF))
	if found {
		return len(line) + len(CRLF), line, nil
	}
	if atEOF {
		return len(data), data, nil
	}
	// request more data
	return 0, nil, nil
}

var _ bufio.SplitFunc = Splitter

// Lines splits an accumulated response into its non-empty lines.
func Lines(response string) []string {
	var lines []string
	scanner := bufio.NewScanner(strings.NewReader(response))
	scanner.Split(Splitter)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// ClassifyLine tells final result codes, unsolicited notifications, the
// SMS prompt and command data apart.
func ClassifyLine(line string) ResponseType {
	switch line {
	case Prompt:
		return TypePrompt
	case OK, ERROR, NoCarrier, NoDialtone, Busy, NoAnswer:
		return TypeFinal
	case Ring, MoRing, MoConnected:
		return TypeURC
	}

	for _, p := range []string{CmeError, CmsError} {
		if strings.HasPrefix(line, p) {
			return TypeFinal
		}
	}
	for _, p := range []string{UrcNewMsg, UrcCallerID, UrcUSSD, UrcMessageReport} {
		if strings.HasPrefix(line, p) {
			return TypeURC
		}
	}
	return TypeData
}

// Result returns the last final result line of response, such as "OK" or
// "+CME ERROR: 10". ok is false when the response has none.
func Result(response string) (line string, ok bool) {
	lines := Lines(response)
	for i := len(lines) - 1; i >= 0; i-- {
		if ClassifyLine(lines[i]) == TypeFinal {
			return lines[i], true
		}
	}
	return "", false
}
