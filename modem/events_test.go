package modem_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"i4.energy/across/sim800gw/at"
	"i4.energy/across/sim800gw/modem"
)

func TestCheckEvent(t *testing.T) {
	ctx := context.Background()

	t.Run("idle line gives no data", func(t *testing.T) {
		m, _, _ := newTestModem(t)

		ev, err := m.CheckEvent(ctx)
		require.NoError(t, err)
		assert.Equal(t, at.EventNoData, ev.Kind)
	})

	t.Run("new message indication", func(t *testing.T) {
		m, transport, _ := newTestModem(t)
		transport.Emit(0, "\r\n+CMTI: \"SM\",7\r\n")

		ev, err := m.CheckEvent(ctx)
		require.NoError(t, err)
		assert.Equal(t, at.EventIncomingSMS, ev.Kind)
		assert.Equal(t, 7, ev.Index)
	})

	t.Run("caller number follows the configured policy", func(t *testing.T) {
		m, transport, _ := newTestModem(t, func(b *modem.ConfigBuilder) {
			b.WithNumberPolicy(at.TrimLeading(3))
		})
		transport.Emit(0, "\r\n+CLIP: \"+983152401442\",145,\"\",,\"\",0\r\n")

		ev, err := m.CheckEvent(ctx)
		require.NoError(t, err)
		assert.Equal(t, at.EventIncomingCall, ev.Kind)
		assert.Equal(t, "3152401442", ev.Number)
	})

	t.Run("fragment shorter than a notification", func(t *testing.T) {
		m, transport, _ := newTestModem(t)
		transport.Emit(0, "RING")

		ev, err := m.CheckEvent(ctx)
		require.NoError(t, err)
		assert.Equal(t, at.EventNoData, ev.Kind)
	})
}

func TestWatch(t *testing.T) {
	t.Run("delivers events and closes on cancel", func(t *testing.T) {
		defer goleak.VerifyNone(t)

		m, transport, _ := newTestModem(t)
		transport.Emit(0, "\r\n+CMTI: \"SM\",4\r\n")

		ctx, cancel := context.WithCancel(context.Background())
		events := m.Watch(ctx, time.Millisecond)

		select {
		case ev := <-events:
			assert.Equal(t, at.EventIncomingSMS, ev.Kind)
			assert.Equal(t, 4, ev.Index)
		case <-time.After(time.Second):
			t.Fatal("no event delivered")
		}

		cancel()
		for range events {
		}
	})

	t.Run("closes when the modem is closed", func(t *testing.T) {
		defer goleak.VerifyNone(t)

		m, _, _ := newTestModem(t)
		events := m.Watch(context.Background(), time.Millisecond)
		require.NoError(t, m.Close())

		select {
		case _, ok := <-events:
			assert.False(t, ok)
		case <-time.After(time.Second):
			t.Fatal("watch did not stop")
		}
	})
}

func TestSendUSSD(t *testing.T) {
	ctx := context.Background()

	t.Run("answer within the command reply", func(t *testing.T) {
		m, transport, _ := newTestModem(t)
		transport.On(`AT+CUSD=1,"*140#"`,
			modem.Respond("\r\nOK\r\n\r\n+CUSD: 0,\"Balance: 1200\",15\r\n"))

		payload, err := m.SendUSSD(ctx, "*140#", 0)
		require.NoError(t, err)
		assert.Equal(t, "Balance: 1200", payload)
	})

	t.Run("answer arriving later", func(t *testing.T) {
		m, transport, _ := newTestModem(t)
		transport.On(`AT+CUSD=1,"*555#"`,
			modem.Respond("\r\nOK\r\n"),
			modem.After(3*time.Second, "\r\n+CUSD: 0,\"Your number is 0912\",15\r\n"),
		)

		payload, err := m.SendUSSD(ctx, "*555#", 10*time.Second)
		require.NoError(t, err)
		assert.Equal(t, "Your number is 0912", payload)
	})

	t.Run("events meanwhile are kept", func(t *testing.T) {
		m, transport, _ := newTestModem(t)
		transport.On(`AT+CUSD=1,"*1#"`,
			modem.Respond("\r\nOK\r\n"),
			modem.After(time.Second, "\r\n+CMTI: \"SM\",9\r\n"),
			modem.After(time.Second, "\r\n+CUSD: 0,\"done\",15\r\n"),
		)

		payload, err := m.SendUSSD(ctx, "*1#", 0)
		require.NoError(t, err)
		assert.Equal(t, "done", payload)

		ev, err := m.CheckEvent(ctx)
		require.NoError(t, err)
		assert.Equal(t, at.EventIncomingSMS, ev.Kind)
		assert.Equal(t, 9, ev.Index)
	})

	t.Run("times out without an answer", func(t *testing.T) {
		m, _, _ := newTestModem(t)

		_, err := m.SendUSSD(ctx, "*140#", 5*time.Second)
		assert.ErrorIs(t, err, modem.ErrTimeout)
	})

	t.Run("rejected by the modem", func(t *testing.T) {
		m, transport, _ := newTestModem(t)
		transport.On("AT+CUSD=1,", modem.Respond("\r\nERROR\r\n"))

		_, err := m.SendUSSD(ctx, "*140#", 0)
		assert.ErrorIs(t, err, modem.ErrCommandFailed)
	})
}
