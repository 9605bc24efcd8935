// Package amqp implements the message broker interface for AMQP compliant brokers (ie RabbitMQ)
package amqp

import (
	"encoding/json"
	"sync"

	"github.com/op/go-logging"
	"github.com/streadway/amqp"

	"github.com/tarancss/fabbank/lib/block/types"
	"github.com/tarancss/fabbank/lib/msg"
)

var logger = logging.MustGetLogger("amqp")

// Exchange is the topic exchange where transaction events are published.
const Exchange = "te"

// Amqp implements a connection to a broker and a channel for reuse.
type Amqp struct {
	conn *amqp.Connection
	mu   sync.Mutex // guards ch, publishing is done from concurrent http handlers
	ch   *amqp.Channel
}

// New instantiates a new amqp broker.
func New(uri string) (msg.MsgBroker, error) {
	r := Amqp{}

	var err error

	if r.conn, err = amqp.Dial(uri); err != nil {
		return &r, err
	}

	logger.Infof("Connected to %s", uri)

	return &r, nil
}

// Setup obtains an amqp channel and declares the message broker exchange:
//
// - te ("transaction events"): the bank service publishes the outcome of every chaincode call to this exchange
func (r *Amqp) Setup(x interface{}) error {
	// obtain a one-use channel
	channel, err := r.conn.Channel()
	if err != nil {
		return err
	}
	defer channel.Close()

	return channel.ExchangeDeclare(Exchange, amqp.ExchangeTopic, true, false, false, false, nil)
}

// Close terminates gracefully the connection to the AMQP message broker
func (r *Amqp) Close() error {
	r.mu.Lock()
	if r.ch != nil {
		if err := r.ch.Close(); err != nil {
			logger.Errorf("Error closing amqp.Channel:%v", err)
		}

		r.ch = nil

		logger.Info("amqp.Channel closed!")
	}
	r.mu.Unlock()

	return r.conn.Close()
}

// channel returns the reusable channel, obtaining it if not present.
func (r *Amqp) channel() (*amqp.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ch == nil {
		ch, err := r.conn.Channel()
		if err != nil {
			return nil, err
		}

		r.ch = ch
	}

	return r.ch, nil
}

// Key returns the routing key of an event: <contract>.<function>.<status>.
func Key(contract string, e types.Event) string {
	return contract + "." + e.Function + "." + e.Status
}

// SendEvent publishes a transaction event to the "te" exchange
func (r *Amqp) SendEvent(contract string, e types.Event) error {
	// marshal to JSON
	jsonDoc, err := json.Marshal(e)
	if err != nil {
		return err
	}

	ch, err := r.channel()
	if err != nil {
		return err
	}
	// build body
	m := amqp.Publishing{
		Headers:     amqp.Table{"x-event-id": e.ID},
		Body:        jsonDoc,
		ContentType: "application/json",
		MessageId:   e.ID,
	}
	// publish
	if err = ch.Publish(Exchange, Key(contract, e), false, false, m); err != nil {
		logger.Errorf("[%s] Error sending transaction event to message broker %v", contract, err)
	}

	return err
}

// GetEvents consumes events from the "te" exchange for the given contract pushing them to the returned channel. The
// Mutex pointer is provided to ensure the consumed message has been fully dealt with by the management function, so
// the message consumed is only acknowledged when the mutex is unlocked.
func (r *Amqp) GetEvents(contract string, mut *sync.Mutex) (<-chan types.Event, <-chan error, error) {
	ch, err := r.channel()
	if err != nil {
		return nil, nil, err
	}
	// declare queue
	q, err := ch.QueueDeclare(Exchange+contract, true, false, false, false, nil)
	if err != nil {
		return nil, nil, err
	}
	// bind queue to exchange
	if err = ch.QueueBind(q.Name, contract+".*.*", Exchange, false, nil); err != nil {
		return nil, nil, err
	}
	// create channel for receiving events
	msgs, err := ch.Consume(q.Name, "journal-"+contract, false, false, false, false, nil)
	if err != nil {
		return nil, nil, err
	}
	// define channels to return
	eves := make(chan types.Event)
	errs := make(chan error)
	// start routine to consume messages from broker
	go func() {
		defer close(eves)
		defer close(errs)

		for m := range msgs {
			var e types.Event
			if err := json.Unmarshal(m.Body, &e); err != nil {
				errs <- err

				_ = m.Nack(false, false) // malformed events are dropped

				continue
			}

			eves <- e

			mut.Lock() // wait for journal to finish processing the event

			if err := m.Ack(false); err != nil {
				logger.Errorf("[%s] Error acknowledging event %s: %v", contract, e.ID, err)
			}
		}
	}()

	return eves, errs, nil
}
