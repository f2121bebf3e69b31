package modem

import (
	"context"
	"fmt"
	"strings"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"i4.energy/across/sim800gw/at"
)

// Power key timings of the SIM800 hardware design guide.
const (
	powerKeyLow     = 1 * time.Second
	powerOnSettle   = 2200 * time.Millisecond
	powerOffSettle  = 1700 * time.Millisecond
	resetPause      = 500 * time.Millisecond
	smsReadyTimeout = 30 * time.Second
)

// Pin drives the modem's PWRKEY line. periph.io gpio.PinOut satisfies it.
type Pin interface {
	Out(l gpio.Level) error
}

// OpenGPIOPin initialises the host drivers and looks up a GPIO by name,
// e.g. "GPIO17". The pin is left high, the idle level of PWRKEY.
func OpenGPIOPin(name string) (gpio.PinIO, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("init host: %w", err)
	}
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("gpio %q: %w", name, ErrNoPowerPin)
	}
	if err := pin.Out(gpio.High); err != nil {
		return nil, fmt.Errorf("gpio %q: %w", name, err)
	}
	return pin, nil
}

// PowerOn pulses PWRKEY to switch the modem on.
func (m *Modem) PowerOn() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ready(); err != nil {
		return err
	}
	return m.powerOn()
}

// PowerOff pulses PWRKEY to switch the modem off.
func (m *Modem) PowerOff() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ready(); err != nil {
		return err
	}
	return m.powerOff()
}

// Reset power cycles the modem and waits until it reports "SMS Ready".
// The settings applied by New are lost; the modem comes back with its
// stored profile.
func (m *Modem) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ready(); err != nil {
		return err
	}
	if err := m.powerOff(); err != nil {
		return err
	}
	m.clock.Sleep(resetPause)
	if err := m.powerOn(); err != nil {
		return err
	}
	seen, err := m.probe(ctx)
	if err != nil {
		return err
	}
	// the banner may already have come in with the probe replies
	if strings.Contains(seen, at.SmsReady) {
		return nil
	}

	deadline := m.clock.Now().Add(smsReadyTimeout)
	for m.clock.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		buf := m.read(ctx, time.Second)
		if strings.Contains(buf, at.SmsReady) {
			return nil
		}
		if buf != "" {
			m.queue(m.classifier.Classify(buf))
		}
	}
	return fmt.Errorf("wait for SMS Ready: %w", ErrTimeout)
}

func (m *Modem) powerOn() error {
	return m.pulse(powerOnSettle)
}

func (m *Modem) powerOff() error {
	return m.pulse(powerOffSettle)
}

func (m *Modem) pulse(settle time.Duration) error {
	pin := m.config.powerPin
	if pin == nil {
		return ErrNoPowerPin
	}
	if err := pin.Out(gpio.Low); err != nil {
		return fmt.Errorf("power key low: %w", err)
	}
	m.clock.Sleep(powerKeyLow)
	if err := pin.Out(gpio.High); err != nil {
		return fmt.Errorf("power key high: %w", err)
	}
	m.clock.Sleep(settle)
	return nil
}
