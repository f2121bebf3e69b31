package modem_test

import (
	"fmt"

	"i4.energy/across/sim800gw/modem"
)

// mockSerial is a Transport that also offers the polling Port view, like a
// serial driver with an input buffer. Reads and writes the engine does go to
// the Port mock, Close goes to the Transport mock.
type mockSerial struct {
	*modem.MockTransport
	*modem.MockPort
}

func (s mockSerial) Write(p []byte) (int, error) {
	return s.MockPort.Write(p)
}

type MockSequenceBuilder struct {
	port  *modem.MockPort
	calls []any
}

func NewMockSequence(port *modem.MockPort) *MockSequenceBuilder {
	return &MockSequenceBuilder{
		port:  port,
		calls: []any{},
	}
}

// Exchange expects cmd to be written and answers with resp in one piece.
func (b *MockSequenceBuilder) Exchange(cmd, resp string) *MockSequenceBuilder {
	b.calls = append(b.calls,
		b.port.EXPECT().Write([]byte(cmd)).Return(len(cmd), nil),
		b.port.EXPECT().Available().Return(len(resp)).Times(2),
		b.port.EXPECT().ReadAvailable().Return([]byte(resp)),
		b.port.EXPECT().Available().Return(0),
	)
	return b
}

func (b *MockSequenceBuilder) OK(cmd string) *MockSequenceBuilder {
	return b.Exchange(cmd, "\r\nOK\r\n")
}

func (b *MockSequenceBuilder) BaudRate(baud int) *MockSequenceBuilder {
	return b.OK(fmt.Sprintf("AT+IPR=%d\r\n", baud))
}

func (b *MockSequenceBuilder) AT() *MockSequenceBuilder {
	return b.OK("AT\r\n")
}

func (b *MockSequenceBuilder) EchoOff() *MockSequenceBuilder {
	return b.OK("ATE0\r\n")
}

// Configure expects the feature setup block that follows the SIM check.
func (b *MockSequenceBuilder) Configure(baud int) *MockSequenceBuilder {
	b.BaudRate(baud).EchoOff()
	for _, cmd := range []string{
		"AT+CSMP=17,167,0,0\r\n",
		"AT+MORING=1\r\n",
		"AT+CLIR=0\r\n",
		"AT+CUSD=1\r\n",
		"AT+CMGF=1\r\n",
		"AT+CPMS=\"SM\",\"SM\",\"SM\"\r\n",
		"AT+CLIP=1\r\n",
		"AT+CNMI=2,1,0,0,0\r\n",
	} {
		b.OK(cmd)
	}
	return b
}

func (b *MockSequenceBuilder) SimReady() *MockSequenceBuilder {
	return b.Exchange("AT+CPIN?\r\n", "\r\n+CPIN: READY\r\n\r\nOK\r\n")
}

func (b *MockSequenceBuilder) SimPinRequired() *MockSequenceBuilder {
	return b.Exchange("AT+CPIN?\r\n", "\r\n+CPIN: SIM PIN\r\n\r\nOK\r\n")
}

func (b *MockSequenceBuilder) Registered() *MockSequenceBuilder {
	return b.Exchange("AT+CREG?\r\n", "\r\n+CREG: 0,1\r\n\r\nOK\r\n")
}

func (b *MockSequenceBuilder) Build() []any {
	return b.calls
}

// initMockCalls is the complete setup sequence of New at the default baud rate.
func initMockCalls(port *modem.MockPort) []any {
	return NewMockSequence(port).
		BaudRate(modem.DefaultBaudRate).
		EchoOff().
		AT().
		SimReady().
		Configure(modem.DefaultBaudRate).
		Registered().
		Build()
}
