package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

// Message represents work to be processed.
type Message struct {
	Type string
	Body []byte
}

// Queue is the abstraction over different backends.
type Queue interface {
	Publish(ctx context.Context, msg Message) error
	Consume(ctx context.Context) (<-chan Message, error)
}

// InMemory is a minimal channel-backed queue for dev/testing.
type InMemory struct {
	ch chan Message
}

// NewInMemory creates a bounded in-memory queue.
func NewInMemory(size int) *InMemory {
	return &InMemory{ch: make(chan Message, size)}
}

// Publish enqueues a message.
func (q *InMemory) Publish(ctx context.Context, msg Message) error {
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume returns a channel for workers.
func (q *InMemory) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			select {
			case msg := <-q.ch:
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// RedisQueue implements a simple Redis list-backed queue.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue builds a queue using LPUSH/BRPOP semantics.
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = "attendance:queue"
	}
	return &RedisQueue{client: client, key: key}
}

// Publish enqueues a message.
func (q *RedisQueue) Publish(ctx context.Context, msg Message) error {
	return q.client.LPush(ctx, q.key, serialize(msg)).Err()
}

// Consume streams messages using BRPOP.
func (q *RedisQueue) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			res, err := q.client.BRPop(ctx, 5*time.Second, q.key).Result()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if !errors.Is(err, redis.Nil) {
					time.Sleep(time.Second)
				}
				continue
			}
			if len(res) == 2 {
				select {
				case out <- deserialize(res[1]):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// NATSQueue publishes on a subject and consumes through a queue group so
// several workers share the load.
type NATSQueue struct {
	conn    *nats.Conn
	subject string
	group   string
}

// NewNATSQueue connects to url.
func NewNATSQueue(url, subject, group string) (*NATSQueue, error) {
	conn, err := nats.Connect(url, nats.Name("swimschool-attendance"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	if subject == "" {
		subject = "attendance.queue"
	}
	if group == "" {
		group = "workers"
	}
	return &NATSQueue{conn: conn, subject: subject, group: group}, nil
}

// Publish sends a message on the subject.
func (q *NATSQueue) Publish(_ context.Context, msg Message) error {
	return q.conn.Publish(q.subject, []byte(serialize(msg)))
}

// Consume joins the queue group until ctx is done.
func (q *NATSQueue) Consume(ctx context.Context) (<-chan Message, error) {
	in := make(chan *nats.Msg, 64)
	sub, err := q.conn.ChanQueueSubscribe(q.subject, q.group, in)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", q.subject, err)
	}
	out := make(chan Message)
	go func() {
		defer close(out)
		defer func() { _ = sub.Unsubscribe() }()
		for {
			select {
			case m := <-in:
				select {
				case out <- deserialize(string(m.Data)):
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close drains the connection.
func (q *NATSQueue) Close() error {
	return q.conn.Drain()
}

// serialize stores messages as Type|Body.
func serialize(msg Message) string {
	return msg.Type + "|" + string(msg.Body)
}

func deserialize(s string) Message {
	typ, body, ok := strings.Cut(s, "|")
	if !ok {
		return Message{Body: []byte(s)}
	}
	return Message{Type: typ, Body: []byte(body)}
}
