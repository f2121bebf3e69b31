package main

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"i4.energy/across/sim800gw/at"
	"i4.energy/across/sim800gw/modem"
)

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type fakeToken struct {
	err error
}

func (t fakeToken) Wait() bool                     { return true }
func (t fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t fakeToken) Error() error                   { return t.err }
func (t fakeToken) Done() <-chan struct{} {
	done := make(chan struct{})
	close(done)
	return done
}

type published struct {
	topic   string
	payload []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (p *fakePublisher) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{topic: topic, payload: payload.([]byte)})
	return fakeToken{err: p.err}
}

func newTestBridge(t *testing.T) (*Bridge, *fakePublisher) {
	t.Helper()

	config, err := LoadConfig(WithDefaults())
	require.NoError(t, err)

	b := NewBridge(config.MQTT, NewOutbox(&fakeSender{}, 0, 0, nil), zap.NewNop())
	pub := &fakePublisher{}
	b.pub = pub
	return b, pub
}

func TestBridgeSend(t *testing.T) {
	t.Run("valid request is queued", func(t *testing.T) {
		b, _ := newTestBridge(t)

		b.handleSend(nil, fakeMessage{
			topic:   "sms/send",
			payload: []byte(`{"to":"+1234567890","message":"Hi","id":"mq-1"}`),
		})

		job, ok := b.outbox.Status("mq-1")
		require.True(t, ok)
		assert.Equal(t, "+1234567890", job.To)
		assert.Equal(t, JobQueued, job.State)
	})

	t.Run("redelivered request is queued once", func(t *testing.T) {
		b, _ := newTestBridge(t)
		msg := fakeMessage{
			topic:   "sms/send",
			payload: []byte(`{"to":"+1234567890","message":"Hi","id":"mq-2"}`),
		}

		b.handleSend(nil, msg)
		b.handleSend(nil, msg)

		assert.Len(t, b.outbox.queue, 1)
	})

	t.Run("bad payloads are dropped", func(t *testing.T) {
		b, _ := newTestBridge(t)

		b.handleSend(nil, fakeMessage{topic: "sms/send", payload: []byte(`not json`)})
		b.handleSend(nil, fakeMessage{topic: "sms/send", payload: []byte(`{"to":"+1"}`)})

		assert.Empty(t, b.outbox.queue)
	})
}

func TestBridgePublish(t *testing.T) {
	t.Run("event topic", func(t *testing.T) {
		b, pub := newTestBridge(t)

		require.NoError(t, b.PublishEvent(EventMessage{ID: "e1", Kind: "incoming-call", Number: "0912"}))
		require.Len(t, pub.msgs, 1)
		assert.Equal(t, "sim800/events", pub.msgs[0].topic)

		var ev EventMessage
		require.NoError(t, json.Unmarshal(pub.msgs[0].payload, &ev))
		assert.Equal(t, "0912", ev.Number)
	})

	t.Run("broker error", func(t *testing.T) {
		b, pub := newTestBridge(t)
		pub.err = errors.New("not connected")

		assert.Error(t, b.PublishEvent(EventMessage{ID: "e1"}))
	})

	t.Run("not started", func(t *testing.T) {
		b := NewBridge(MQTTConfig{}, nil, nil)
		assert.Error(t, b.PublishEvent(EventMessage{}))
	})
}

type fakeReader struct {
	sms modem.SMS
	err error
}

func (r fakeReader) ReadSMS(_ context.Context, index int) (modem.SMS, error) {
	sms := r.sms
	sms.Index = index
	return sms, r.err
}

type collectingSink struct {
	events []EventMessage
}

func (s *collectingSink) PublishEvent(ev EventMessage) error {
	s.events = append(s.events, ev)
	return nil
}

func TestForwardEvents(t *testing.T) {
	t.Run("messages are read and calls published", func(t *testing.T) {
		events := make(chan at.Event, 4)
		events <- at.Event{Kind: at.EventIncomingSMS, Index: 7}
		events <- at.Event{Kind: at.EventUnrecognized, Raw: "+CPIN: READY"}
		events <- at.Event{Kind: at.EventIncomingCall, Number: "09121234567"}
		events <- at.Event{Kind: at.EventUSSDReply, Payload: "Balance"}
		close(events)

		sink := &collectingSink{}
		reader := fakeReader{sms: modem.SMS{Sender: "+98912", Text: "hello"}}
		forwardEvents(context.Background(), events, reader, sink, zap.NewNop())

		require.Len(t, sink.events, 3)
		assert.Equal(t, "incoming-sms", sink.events[0].Kind)
		assert.Equal(t, 2, sink.events[0].Code)
		require.NotNil(t, sink.events[0].SMS)
		assert.Equal(t, 7, sink.events[0].SMS.Index)
		assert.Equal(t, "hello", sink.events[0].SMS.Text)
		assert.Equal(t, "09121234567", sink.events[1].Number)
		assert.Equal(t, "Balance", sink.events[2].Payload)
		assert.NotEqual(t, sink.events[1].ID, sink.events[2].ID)
	})

	t.Run("read failure still publishes the index", func(t *testing.T) {
		events := make(chan at.Event, 1)
		events <- at.Event{Kind: at.EventIncomingSMS, Index: 3}
		close(events)

		sink := &collectingSink{}
		forwardEvents(context.Background(), events, fakeReader{err: modem.ErrTimeout}, sink, zap.NewNop())

		require.Len(t, sink.events, 1)
		assert.Nil(t, sink.events[0].SMS)
		assert.Equal(t, 3, sink.events[0].Index)
	})

	t.Run("without a sink events are only logged", func(t *testing.T) {
		events := make(chan at.Event, 1)
		events <- at.Event{Kind: at.EventRinging}
		close(events)

		assert.NotPanics(t, func() {
			forwardEvents(context.Background(), events, fakeReader{}, nil, zap.NewNop())
		})
	})
}
