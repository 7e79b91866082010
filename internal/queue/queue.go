package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// TypeRebuild asks a worker to regenerate lesson reminders from the calendar.
const TypeRebuild = "reminders.rebuild"

// DefaultKey is the Redis list rebuild requests are pushed to.
const DefaultKey = "liveclass:rebuilds"

// Message represents work to be processed.
type Message struct {
	Type string
	Body []byte
}

// RebuildRequest is the body of a TypeRebuild message.
type RebuildRequest struct {
	ID          string    `json:"id"`
	RequestedBy string    `json:"requestedBy,omitempty"`
	RequestedAt time.Time `json:"requestedAt"`
}

// NewRebuildMessage builds a rebuild request attributed to an operator.
func NewRebuildMessage(requestedBy string, at time.Time) (Message, RebuildRequest, error) {
	req := RebuildRequest{ID: uuid.NewString(), RequestedBy: requestedBy, RequestedAt: at.UTC()}
	body, err := json.Marshal(req)
	if err != nil {
		return Message{}, RebuildRequest{}, err
	}
	return Message{Type: TypeRebuild, Body: body}, req, nil
}

// DecodeRebuild reads the body of a TypeRebuild message.
func DecodeRebuild(msg Message) (RebuildRequest, error) {
	if msg.Type != TypeRebuild {
		return RebuildRequest{}, errors.New("not a rebuild request: " + msg.Type)
	}
	var req RebuildRequest
	if err := json.Unmarshal(msg.Body, &req); err != nil {
		return RebuildRequest{}, err
	}
	return req, nil
}

// Queue is the abstraction over different backends.
type Queue interface {
	Publish(ctx context.Context, msg Message) error
	Consume(ctx context.Context) (<-chan Message, error)
}

// InMemory is a channel-backed queue for single-process deployments and tests.
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

// Consume returns a channel for workers. It is closed when ctx ends.
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

// RedisQueue implements a Redis list-backed queue.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue builds a queue using LPUSH/BRPOP semantics.
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = DefaultKey
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
					log.Printf("queue %s: brpop: %v", q.key, err)
					time.Sleep(time.Second)
				}
				continue
			}
			if len(res) != 2 {
				continue
			}
			select {
			case out <- deserialize(res[1]):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
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
