package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"i4.energy/across/sim800gw/at"
	"i4.energy/across/sim800gw/modem"
)

const (
	mqttConnectTimeout = 10 * time.Second
	mqttPublishTimeout = 5 * time.Second
	mqttQuiesce        = 500 // ms
)

// publisher is the part of mqtt.Client the bridge publishes through.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// SendRequest is the payload accepted on the send topic and by POST /sms.
type SendRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
	// ID is an optional caller supplied job id
	ID string `json:"id,omitempty"`
}

func (r SendRequest) validate() error {
	if r.To == "" || r.Message == "" {
		return errors.New("both 'to' and 'message' fields are required")
	}
	return nil
}

// EventMessage is published for every modem event worth reporting.
type EventMessage struct {
	ID      string       `json:"id"`
	Kind    string       `json:"kind"`
	Code    int          `json:"code"`
	Index   int          `json:"index,omitempty"`
	Number  string       `json:"number,omitempty"`
	Payload string       `json:"payload,omitempty"`
	SMS     *smsResponse `json:"sms,omitempty"`
	Time    time.Time    `json:"time"`
}

// Bridge connects the gateway to an MQTT broker. Send requests arriving on
// the send topic go to the outbox, modem events are published on the event
// topic.
type Bridge struct {
	config MQTTConfig
	outbox *Outbox
	logger *zap.Logger

	client mqtt.Client
	pub    publisher
}

func NewBridge(config MQTTConfig, outbox *Outbox, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{config: config, outbox: outbox, logger: logger}
}

// Start connects to the broker. The client keeps reconnecting in the
// background, so a broker that is down at start is only logged.
func (b *Bridge) Start() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(b.config.Broker)
	opts.SetClientID(b.config.ClientID)
	if b.config.Username != "" {
		opts.SetUsername(b.config.Username)
		opts.SetPassword(b.config.Password)
	}
	opts.SetOrderMatters(false)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		b.logger.Warn("mqtt connection lost", zap.Error(err))
	})
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		b.logger.Info("mqtt connected", zap.String("topic", b.config.SendTopic))
		if token := c.Subscribe(b.config.SendTopic, 1, b.handleSend); token.Wait() && token.Error() != nil {
			b.logger.Error("mqtt subscribe failed", zap.Error(token.Error()))
		}
	})

	b.client = mqtt.NewClient(opts)
	b.pub = b.client

	token := b.client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		b.logger.Warn("mqtt broker not reachable yet, retrying in background",
			zap.String("broker", b.config.Broker))
		return nil
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

// Stop disconnects from the broker.
func (b *Bridge) Stop() {
	if b.client != nil {
		b.client.Disconnect(mqttQuiesce)
	}
}

func (b *Bridge) handleSend(_ mqtt.Client, msg mqtt.Message) {
	var req SendRequest
	if err := json.Unmarshal(msg.Payload(), &req); err != nil {
		b.logger.Warn("mqtt bad payload", zap.String("topic", msg.Topic()), zap.Error(err))
		return
	}
	if err := req.validate(); err != nil {
		b.logger.Warn("mqtt invalid send request", zap.Error(err))
		return
	}

	job, err := b.outbox.Enqueue(req.ID, req.To, req.Message)
	if err != nil {
		b.logger.Error("mqtt enqueue failed", zap.Error(err))
		return
	}
	b.logger.Debug("mqtt send queued", zap.String("id", job.ID))
}

// PublishEvent sends ev to the event topic.
func (b *Bridge) PublishEvent(ev EventMessage) error {
	if b.pub == nil {
		return errors.New("mqtt bridge not started")
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	token := b.pub.Publish(b.config.EventTopic, 1, false, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		return errors.New("mqtt publish timed out")
	}
	return token.Error()
}

// SMSReader fetches a stored message. *modem.Modem satisfies it.
type SMSReader interface {
	ReadSMS(ctx context.Context, index int) (modem.SMS, error)
}

// EventSink receives forwarded events.
type EventSink interface {
	PublishEvent(ev EventMessage) error
}

// forwardEvents turns modem events into EventMessages until events is
// closed. New messages are read from storage first. sink may be nil, in
// which case events are only logged.
func forwardEvents(ctx context.Context, events <-chan at.Event, reader SMSReader, sink EventSink, logger *zap.Logger) {
	for ev := range events {
		if ev.Kind == at.EventUnrecognized {
			logger.Debug("unrecognized modem output", zap.String("raw", ev.Raw))
			continue
		}

		msg := EventMessage{
			ID:      uuid.NewString(),
			Kind:    ev.Kind.String(),
			Code:    ev.Kind.Code(),
			Index:   ev.Index,
			Number:  ev.Number,
			Payload: ev.Payload,
			Time:    time.Now(),
		}

		switch ev.Kind {
		case at.EventIncomingSMS:
			sms, err := reader.ReadSMS(ctx, ev.Index)
			if err != nil {
				logger.Error("read incoming sms", zap.Int("index", ev.Index), zap.Error(err))
			} else {
				resp := newSMSResponse(sms)
				msg.SMS = &resp
				logger.Info("sms received", zap.Int("index", sms.Index), zap.String("from", sms.Sender))
			}
		case at.EventIncomingCall:
			logger.Info("incoming call", zap.String("from", ev.Number))
		default:
			logger.Debug("modem event", zap.Stringer("kind", ev.Kind))
		}

		if sink == nil {
			continue
		}
		if err := sink.PublishEvent(msg); err != nil {
			logger.Warn("publish event failed", zap.Stringer("kind", ev.Kind), zap.Error(err))
		}
	}
}
