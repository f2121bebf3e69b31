package modem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.bug.st/serial"
)

//go:generate go tool mockgen -destination=mock_transport.go -package=modem . Transport,Dialer,Port

// Transport represents an established, bidirectional byte stream to a GSM modem.
//
// A Transport is assumed to be already connected and ready for use. It provides
// the low-level I/O primitives required to send AT commands and receive responses.
// Typical implementations include serial ports, TCP connections to emulators,
// or in-memory fakes used for testing.
type Transport interface {
	io.ReadWriteCloser
}

// Dialer opens a Transport to a GSM modem.
//
// Dialer abstracts how the modem connection is created (for example, via a
// serial port, TCP-based emulator, or test double) and is intended to be used
// during modem construction only. Once a Transport is obtained, the Dialer is
// no longer needed.
type Dialer interface {
	// Dial is responsible for creating and returning a connected Transport. It may
	// perform blocking operations and should respect cancellation and deadlines
	// provided by the context. Dial returns an error if the transport cannot be
	// established.
	Dial(ctx context.Context) (Transport, error)
}

// Port is the polling view of a Transport the command engine works on. It
// never blocks: Available reports how many received bytes are waiting and
// ReadAvailable hands them over.
//
// A Transport that also implements Port is used as is. Any other Transport
// is drained by a background reader into an in-memory buffer.
type Port interface {
	io.Writer
	Available() int
	ReadAvailable() []byte
}

// SerialDialer opens a GSM modem over a serial port using go.bug.st/serial.
type SerialDialer struct {
	PortName string
	BaudRate int
	// Mode overrides BaudRate and the 8N1 framing when set.
	Mode *serial.Mode
}

func (d SerialDialer) Dial(ctx context.Context) (Transport, error) {
	if ctx == nil {
		return nil, errors.New("gsm: context is nil")
	}
	if d.PortName == "" {
		return nil, errors.New("gsm: serial port name is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mode := d.Mode
	if mode == nil {
		baud := d.BaudRate
		if baud == 0 {
			baud = DefaultBaudRate
		}
		mode = &serial.Mode{
			BaudRate: baud,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		}
	}

	port, err := serial.Open(d.PortName, mode)
	if err != nil {
		return nil, fmt.Errorf("gsm: open %s: %w", d.PortName, err)
	}
	return port, nil
}

// streamPort adapts a blocking Transport to Port. A single goroutine reads
// from the transport until it fails or is closed.
type streamPort struct {
	transport Transport

	mu  sync.Mutex
	buf []byte
	err error

	done chan struct{}
}

func newStreamPort(t Transport) *streamPort {
	p := &streamPort{
		transport: t,
		done:      make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *streamPort) run() {
	defer close(p.done)
	chunk := make([]byte, 256)
	for {
		n, err := p.transport.Read(chunk)
		p.mu.Lock()
		p.buf = append(p.buf, chunk[:n]...)
		if err != nil {
			p.err = err
		}
		p.mu.Unlock()
		if err != nil {
			return
		}
	}
}

func (p *streamPort) Write(b []byte) (int, error) {
	return p.transport.Write(b)
}

func (p *streamPort) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buf)
}

func (p *streamPort) ReadAvailable() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.buf
	p.buf = nil
	return out
}

// Err returns the error that stopped the reader, if any.
func (p *streamPort) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}
