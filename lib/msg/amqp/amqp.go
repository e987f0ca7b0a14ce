// Package amqp implements the message broker interface for AMQP compliant brokers (ie RabbitMQ)
package amqp

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"

	"github.com/tarancss/prvd/lib/log"
	"github.com/tarancss/prvd/lib/msg"
	"github.com/tarancss/prvd/lib/types"
)

// Amqp implements a connection to a broker and a channel for reuse.
type Amqp struct {
	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
	log  zerolog.Logger
}

// New instantiates a new amqp broker.
func New(uri string) (*Amqp, error) {
	r := &Amqp{log: log.WithComponent("amqp")}
	var err error

	if r.conn, err = amqp.Dial(uri); err != nil {
		return nil, err
	}
	r.log.Info().Msg("connected to message broker")

	return r, nil
}

var _ msg.Notifier = (*Amqp)(nil)

// Setup obtains an amqp channel and declares the "mb" topic exchange the bus publishes notifications to.
func (r *Amqp) Setup(x interface{}) error {
	// obtain a one-use channel
	channel, err := r.conn.Channel()
	if err != nil {
		return err
	}
	defer channel.Close()
	return channel.ExchangeDeclare(msg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil)
}

// Close terminates gracefully the connection to the AMQP message broker
func (r *Amqp) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ch != nil {
		if err := r.ch.Close(); err != nil {
			r.log.Warn().Err(err).Msg("closing amqp channel")
		}
		r.ch = nil
	}
	return r.conn.Close()
}

// channel returns the reusable channel, opening it if not present. r.mu must be held.
func (r *Amqp) channel() (*amqp.Channel, error) {
	if r.ch == nil {
		ch, err := r.conn.Channel()
		if err != nil {
			return nil, err
		}
		r.ch = ch
	}
	return r.ch, nil
}

// Notify publishes an accepted publish to the "mb" exchange with routing key publish.<subject>.
func (r *Amqp) Notify(p types.Published) error {
	jsonDoc, err := json.Marshal(p)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ch, err := r.channel()
	if err != nil {
		return err
	}
	m := amqp.Publishing{
		Headers:     amqp.Table{"x-publish-hash": p.Hash},
		Body:        jsonDoc,
		ContentType: "application/json",
		Timestamp:   p.TS,
	}
	if err = ch.Publish(msg.Exchange, msg.RoutingKey(p.Subject), false, false, m); err != nil {
		// a failed publish closes the channel, drop it so the next call reopens it
		r.ch = nil
		r.log.Error().Err(err).Str("subject", p.Subject).Msg("sending publish notification")
	}
	return err
}

// Notifications consumes the notifications whose routing key matches pattern (ie. "publish.#") through the named
// durable queue, pushing them to the returned channel. Messages are acknowledged once handed over.
func (r *Amqp) Notifications(queue, pattern string) (<-chan types.Published, <-chan error, error) {
	// consumers get their own channel so that publishing is not blocked by deliveries
	ch, err := r.conn.Channel()
	if err != nil {
		return nil, nil, err
	}
	if _, err = ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, nil, err
	}
	if err = ch.QueueBind(queue, pattern, msg.Exchange, false, nil); err != nil {
		ch.Close()
		return nil, nil, err
	}
	msgs, err := ch.Consume(queue, "prvd-"+queue, false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, nil, err
	}

	pubs := make(chan types.Published)
	errs := make(chan error, 1)
	go func() {
		defer close(pubs)
		for m := range msgs {
			var p types.Published
			if err := json.Unmarshal(m.Body, &p); err != nil {
				_ = m.Nack(false, false)
				select {
				case errs <- err:
				default:
					r.log.Warn().Err(err).Msg("dropping malformed notification")
				}
				continue
			}
			pubs <- p
			_ = m.Ack(false)
		}
	}()
	return pubs, errs, nil
}
