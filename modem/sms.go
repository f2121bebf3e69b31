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
	smsPromptTimeout = 10 * time.Second
	smsSendTimeout   = 60 * time.Second
	smsDeleteTimeout = 25 * time.Second
)

// SMS represents a text message stored on the modem.
type SMS struct {
	Index  int
	Status string // "REC UNREAD", "REC READ", "STO UNSENT", "STO SENT"
	Sender string
	Time   string
	Text   string
}

// SendSMS sends a text message to the specified recipient.
//
// The message is sent in text mode (not PDU mode). The recipient should be
// in international format (e.g., "+1234567890").
//
// This method blocks until the message is accepted by the network or an error
// occurs. Network delivery (to the final recipient) happens asynchronously.
func (m *Modem) SendSMS(ctx context.Context, recipient, message string) error {
	if err := checkDialString("recipient", recipient); err != nil {
		return err
	}
	if err := checkBody(message); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ready(); err != nil {
		return err
	}

	cmd := fmt.Sprintf("AT+CMGS=\"%s\"\r", recipient)
	reply, err := m.sendAndWait(ctx, cmd, strings.TrimSpace(at.Prompt), smsPromptTimeout)
	if err != nil {
		return err
	}
	if !reply.OK() {
		return fmt.Errorf("did not receive SMS prompt: %w", reply.Err(cmd))
	}

	// The body goes out after the prompt; Ctrl-Z submits it.
	reply, err = m.sendAndWait(ctx, message+at.CtrlZ, at.OK, smsSendTimeout)
	if err != nil {
		return err
	}
	if reply.Response == "" {
		return fmt.Errorf("SMS send: %w", ErrTimeout)
	}
	if strings.Contains(reply.Response, at.ERROR) || !reply.OK() {
		return fmt.Errorf("SMS send: %w: %q", ErrCommandFailed, strings.TrimSpace(reply.Response))
	}

	m.logger.Info("sms sent", zap.String("to", recipient), zap.Int("length", len(message)))
	return nil
}

// ReadSMS reads the message stored at index. Reading an unread message marks
// it as read on the SIM. ErrNoSMS is returned for an empty slot.
func (m *Modem) ReadSMS(ctx context.Context, index int) (SMS, error) {
	if index <= 0 {
		return SMS{}, fmt.Errorf("index %d: %w", index, ErrInvalidArgument)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ready(); err != nil {
		return SMS{}, err
	}

	cmd := fmt.Sprintf("AT+CMGR=%d\r\n", index)
	resp, err := m.exec(ctx, cmd, DefaultReadTimeout)
	if err != nil {
		return SMS{}, err
	}
	if !strings.Contains(resp, "+CMGR:") {
		return SMS{}, fmt.Errorf("index %d: %w", index, ErrNoSMS)
	}

	msg, err := at.ParseMessage(resp)
	if err != nil {
		return SMS{}, err
	}
	return SMS{
		Index:  index,
		Status: msg.Status,
		Sender: msg.Sender,
		Time:   msg.Time,
		Text:   msg.Text,
	}, nil
}

// DeleteSMS removes the message stored at index.
func (m *Modem) DeleteSMS(ctx context.Context, index int) error {
	if index <= 0 {
		return fmt.Errorf("index %d: %w", index, ErrInvalidArgument)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ready(); err != nil {
		return err
	}
	_, err := m.exec(ctx, fmt.Sprintf("AT+CMGD=%d\r\n", index), smsDeleteTimeout)
	return err
}

// DeleteAllSMS empties the message storage.
func (m *Modem) DeleteAllSMS(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ready(); err != nil {
		return err
	}
	_, err := m.exec(ctx, at.CmdDeleteAllSMS, smsDeleteTimeout)
	return err
}
