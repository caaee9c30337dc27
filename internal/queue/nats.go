package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
)

// NATSQueue publishes to a JetStream subject and consumes through a durable queue group,
// so several workers share the load and messages survive worker restarts.
type NATSQueue struct {
	conn    *nats.Conn
	js      nats.JetStreamContext
	subject string
	durable string
}

// NewNATSQueue connects and makes sure a stream covers subject.
func NewNATSQueue(url, subject string, opts ...nats.Option) (*NATSQueue, error) {
	if subject == "" {
		return nil, errors.New("queue subject required")
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, err
	}

	stream := streamName(subject)
	if _, err := js.StreamInfo(stream); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			nc.Close()
			return nil, err
		}
		if _, err := js.AddStream(&nats.StreamConfig{Name: stream, Subjects: []string{subject}}); err != nil {
			nc.Close()
			return nil, err
		}
	}

	return &NATSQueue{conn: nc, js: js, subject: subject, durable: stream + "_WORKERS"}, nil
}

func streamName(subject string) string {
	r := strings.NewReplacer(".", "_", "*", "ALL", ">", "REST")
	return strings.ToUpper(r.Replace(subject))
}

// Close drains the connection.
func (q *NATSQueue) Close() {
	if q == nil {
		return
	}
	if err := q.conn.Drain(); err != nil {
		q.conn.Close()
	}
}

func (q *NATSQueue) Publish(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = q.js.Publish(q.subject, data, nats.Context(ctx))
	return err
}

// Consume acks each message once it has been handed to the reader.
func (q *NATSQueue) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	var mu sync.RWMutex
	closed := false

	_, err := q.js.QueueSubscribe(q.subject, q.durable, func(m *nats.Msg) {
		var msg Message
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			_ = m.Term()
			return
		}
		mu.RLock()
		defer mu.RUnlock()
		if closed {
			_ = m.Nak()
			return
		}
		select {
		case out <- msg:
			_ = m.Ack()
		case <-ctx.Done():
			_ = m.Nak()
		}
	}, nats.Durable(q.durable), nats.ManualAck(), nats.AckExplicit())
	if err != nil {
		return nil, err
	}

	go func() {
		<-ctx.Done()
		// the durable consumer outlives this reader; unacked messages are redelivered
		mu.Lock()
		closed = true
		close(out)
		mu.Unlock()
	}()
	return out, nil
}
