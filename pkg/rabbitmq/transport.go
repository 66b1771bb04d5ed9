package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"quickcap-api/config"
)

// Queue names shared with the AI worker fleet. The result queue is
// ours to consume; the others are the workers' intake.
const (
	rpcQueue        = "quickcap"
	eventQueue      = "quickcap-nsfw"
	replyQueue      = "amq.rabbitmq.reply-to"
	NsfwResultQueue = "quickcap-nsfw-result"
)

// rpcEnvelope matches the worker fleet's message format: request/reply
// patterns are addressed as {cmd: name}, events as a bare routing name.
type rpcEnvelope struct {
	Pattern any             `json:"pattern"`
	Data    json.RawMessage `json:"data"`
	Id      string          `json:"id,omitempty"`
}

type rpcReply struct {
	Response json.RawMessage `json:"response"`
	Err      string          `json:"err,omitempty"`
}

type amqpTransport struct {
	cfg *config.RabbitMQ

	mu      sync.Mutex
	conn    *amqp.Connection
	ch      *amqp.Channel
	pending map[string]chan rpcReply
}

func newAMQPTransport(cfg *config.RabbitMQ) *amqpTransport {
	return &amqpTransport{
		cfg:     cfg,
		pending: make(map[string]chan rpcReply),
	}
}

func (t *amqpTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil && !t.conn.IsClosed() {
		return nil
	}

	conn, err := amqp.Dial(t.cfg.URL())
	if err != nil {
		return err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return err
	}

	if _, err := ch.QueueDeclare(rpcQueue, false, false, false, false, nil); err != nil {
		conn.Close()
		return err
	}
	if _, err := ch.QueueDeclare(eventQueue, false, false, false, false, nil); err != nil {
		conn.Close()
		return err
	}

	// Direct reply-to consumer; replies are routed back to the waiting
	// Request by correlation id.
	deliveries, err := ch.Consume(replyQueue, "", true, false, false, false, nil)
	if err != nil {
		conn.Close()
		return err
	}

	t.conn = conn
	t.ch = ch
	go t.dispatchReplies(deliveries)

	closed := make(chan *amqp.Error, 1)
	conn.NotifyClose(closed)
	go func() {
		<-closed
		t.mu.Lock()
		if t.conn == conn {
			t.conn = nil
			t.ch = nil
			t.failPending()
		}
		t.mu.Unlock()
	}()

	return nil
}

func (t *amqpTransport) dispatchReplies(deliveries <-chan amqp.Delivery) {
	for msg := range deliveries {
		t.mu.Lock()
		waiter, ok := t.pending[msg.CorrelationId]
		if ok {
			delete(t.pending, msg.CorrelationId)
		}
		t.mu.Unlock()
		if !ok {
			continue
		}

		var reply rpcReply
		if err := json.Unmarshal(msg.Body, &reply); err != nil {
			reply = rpcReply{Err: fmt.Sprintf("malformed reply: %v", err)}
		}
		waiter <- reply
	}
}

// failPending wakes every waiting Request with a closed-channel error.
// Callers classify it as transient and retry.
func (t *amqpTransport) failPending() {
	for id, waiter := range t.pending {
		delete(t.pending, id)
		waiter <- rpcReply{Err: "channel closed"}
	}
}

func (t *amqpTransport) Request(ctx context.Context, pattern string, body []byte, timeout time.Duration) ([]byte, error) {
	t.mu.Lock()
	if t.ch == nil {
		t.mu.Unlock()
		return nil, errors.New("channel/connection is not open")
	}
	ch := t.ch
	corrId := uuid.NewString()
	waiter := make(chan rpcReply, 1)
	t.pending[corrId] = waiter
	t.mu.Unlock()

	envelope, err := json.Marshal(rpcEnvelope{
		Pattern: map[string]string{"cmd": pattern},
		Data:    body,
		Id:      corrId,
	})
	if err != nil {
		t.abandon(corrId)
		return nil, err
	}

	err = ch.PublishWithContext(ctx, "", rpcQueue, false, false, amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: corrId,
		ReplyTo:       replyQueue,
		Body:          envelope,
	})
	if err != nil {
		t.abandon(corrId)
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case reply := <-waiter:
		if reply.Err != "" {
			return nil, errors.New(reply.Err)
		}
		return reply.Response, nil
	case <-timer.C:
		t.abandon(corrId)
		return nil, fmt.Errorf("reply timeout for pattern %q after %s", pattern, timeout)
	case <-ctx.Done():
		t.abandon(corrId)
		return nil, ctx.Err()
	}
}

func (t *amqpTransport) Publish(ctx context.Context, pattern string, body []byte) error {
	t.mu.Lock()
	ch := t.ch
	t.mu.Unlock()
	if ch == nil {
		return errors.New("channel/connection is not open")
	}

	envelope, err := json.Marshal(rpcEnvelope{Pattern: pattern, Data: body})
	if err != nil {
		return err
	}

	return ch.PublishWithContext(ctx, "", eventQueue, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        envelope,
	})
}

func (t *amqpTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	t.ch = nil
	t.failPending()
	return err
}

func (t *amqpTransport) abandon(corrId string) {
	t.mu.Lock()
	delete(t.pending, corrId)
	t.mu.Unlock()
}
