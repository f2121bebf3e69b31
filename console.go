package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ergochat/readline"

	"i4.energy/across/sim800gw/at"
	"i4.energy/across/sim800gw/modem"
)

const (
	consolePrompt      = "AT> "
	consoleHistory     = ".sim800gw_history"
	consoleHistorySize = 500
)

const consoleHelp = `Type an AT command to send it, e.g. AT+CSQ.
  events   poll for one unsolicited event
  help     show this text
  exit     leave the console
`

// lineReader is the part of *readline.Instance the console uses.
type lineReader interface {
	Readline() (string, error)
}

// newLineReader opens a readline instance with history in the home
// directory.
func newLineReader() (*readline.Instance, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	return readline.NewFromConfig(&readline.Config{
		Prompt:       consolePrompt,
		HistoryFile:  filepath.Join(home, consoleHistory),
		HistoryLimit: consoleHistorySize,
	})
}

// runConsole sends every line read from rl to the modem and prints the raw
// reply. It returns nil on exit, EOF or interrupt.
func runConsole(ctx context.Context, m *modem.Modem, rl lineReader, out io.Writer, timeout time.Duration) error {
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		switch strings.ToLower(line) {
		case "":
			continue
		case "exit", "quit":
			return nil
		case "help":
			fmt.Fprint(out, consoleHelp)
			continue
		case "events":
			ev, err := m.CheckEvent(ctx)
			if err != nil {
				return err
			}
			printEvent(out, ev)
			continue
		}

		reply, err := m.SendAndWait(ctx, line+"\r\n", "", timeout)
		if err != nil {
			return err
		}
		if reply.Response == "" {
			fmt.Fprintln(out, "(no response)")
			continue
		}
		for _, l := range at.Lines(reply.Response) {
			fmt.Fprintln(out, l)
		}
	}
}

func printEvent(out io.Writer, ev at.Event) {
	switch ev.Kind {
	case at.EventNoData:
		fmt.Fprintln(out, "(no event)")
	case at.EventIncomingSMS:
		fmt.Fprintf(out, "%s index=%d\n", ev.Kind, ev.Index)
	case at.EventIncomingCall:
		fmt.Fprintf(out, "%s number=%q\n", ev.Kind, ev.Number)
	case at.EventUSSDReply:
		fmt.Fprintf(out, "%s payload=%q\n", ev.Kind, ev.Payload)
	default:
		fmt.Fprintln(out, ev.Kind)
	}
}
