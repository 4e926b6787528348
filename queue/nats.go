package queue

import (
	"context"

	"github.com/goliatone/go-errors"
	"github.com/nats-io/nats.go"
)

// NATS adapts a JetStream subject to the Queue contract. JetStream gives the
// at-least-once delivery and durability the activity pipeline assumes.
type NATS struct {
	js      nats.JetStreamContext
	subject string
	durable string
	sub     *nats.Subscription
}

var _ Queue = (*NATS)(nil)

// NATSConfig holds the adapter settings.
type NATSConfig struct {
	URL     string
	Stream  string
	Subject string
	Durable string
}

// ConnectNATS dials the server and ensures the stream exists.
func ConnectNATS(cfg NATSConfig) (*NATS, error) {
	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryOperation, "failed to connect to nats")
	}

	js, err := nc.JetStream()
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryOperation, "failed to open jetstream context")
	}

	if _, err := js.StreamInfo(cfg.Stream); err != nil {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:     cfg.Stream,
			Subjects: []string{cfg.Subject},
		})
		if err != nil {
			return nil, errors.Wrap(err, errors.CategoryOperation, "failed to create stream")
		}
	}

	return &NATS{js: js, subject: cfg.Subject, durable: cfg.Durable}, nil
}

func (n *NATS) Send(ctx context.Context, payload []byte) error {
	if _, err := n.js.Publish(n.subject, payload, nats.Context(ctx)); err != nil {
		return errors.Wrap(err, errors.CategoryOperation, "jetstream publish failed")
	}
	return nil
}

// Consume subscribes the handler with manual acks: an error leaves the
// message unacked for redelivery.
func (n *NATS) Consume(handler Handler) error {
	sub, err := n.js.Subscribe(n.subject, func(msg *nats.Msg) {
		if err := handler(context.Background(), msg.Data); err != nil {
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	}, nats.Durable(n.durable), nats.ManualAck())
	if err != nil {
		return errors.Wrap(err, errors.CategoryOperation, "jetstream subscribe failed")
	}

	n.sub = sub
	return nil
}

// Close drains the subscription.
func (n *NATS) Close() error {
	if n.sub != nil {
		return n.sub.Drain()
	}
	return nil
}
