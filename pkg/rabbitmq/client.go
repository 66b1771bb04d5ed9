package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"quickcap-api/config"
)

// ErrBrokerUnavailable means the connection could not be established or
// re-established within the call's retry budget.
var ErrBrokerUnavailable = errors.New("broker unavailable")

// NoHandlerOrConnectivityError is returned by Send once its retries are
// exhausted on a transient failure: either the remote worker has no
// handler for the pattern or the broker is unreachable. Both trigger a
// local reconnect, so they share one type.
type NoHandlerOrConnectivityError struct {
	Pattern string
	Err     error
}

func (e *NoHandlerOrConnectivityError) Error() string {
	return fmt.Sprintf("connection issue or no handler found for pattern %q: %v", e.Pattern, e.Err)
}

func (e *NoHandlerOrConnectivityError) Unwrap() error {
	return e.Err
}

type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// transport is the wire beneath the client. The production
// implementation speaks AMQP; tests substitute a fake to exercise the
// retry and reconnect semantics.
type transport interface {
	Connect(ctx context.Context) error
	Request(ctx context.Context, pattern string, body []byte, timeout time.Duration) ([]byte, error)
	Publish(ctx context.Context, pattern string, body []byte) error
	Close() error
}

// Client owns the broker connection for the whole process. All state
// transitions go through connect(), serialized by one mutex, so
// concurrent Send/Emit calls never race a transition or start duplicate
// connect attempts.
type Client struct {
	t     transport
	cfg   config.Broker
	log   zerolog.Logger
	sleep func(context.Context, time.Duration) error

	// connectMu serializes connect attempts so only one is in flight;
	// mu guards the state word itself.
	connectMu sync.Mutex
	mu        sync.Mutex
	state     ConnState
}

func NewClient(ctx context.Context, t transport, cfg config.Broker) *Client {
	c := &Client{
		t:     t,
		cfg:   cfg,
		log:   *zerolog.Ctx(ctx),
		sleep: sleepCtx,
		state: StateDisconnected,
	}
	return c
}

// NewAMQPClient builds a client over a real AMQP transport.
func NewAMQPClient(ctx context.Context, rmq *config.RabbitMQ, cfg config.Broker) *Client {
	return NewClient(ctx, newAMQPTransport(rmq), cfg)
}

// State reports the current connection state.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// EnsureConnection is idempotent: already connected means true, anything
// else triggers a single connect attempt and reports the outcome.
func (c *Client) EnsureConnection(ctx context.Context) bool {
	return c.connect(ctx)
}

// connect is the single serialized entry point for state transitions.
// At most one attempt is in flight; concurrent callers block until it
// finishes and observe its outcome instead of dialing again.
func (c *Client) connect(ctx context.Context) bool {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	if c.state == StateConnected {
		c.mu.Unlock()
		return true
	}
	c.state = StateConnecting
	c.mu.Unlock()

	err := c.t.Connect(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.state = StateDisconnected
		c.log.Error().Err(err).Msg("failed to connect to broker")
		return false
	}
	c.state = StateConnected
	c.log.Info().Msg("broker connected")
	return true
}

// dropConnection marks the client disconnected and kicks off one
// background reconnect, independent of the caller's own retry budget.
func (c *Client) dropConnection() {
	c.mu.Lock()
	if c.state == StateConnecting {
		c.mu.Unlock()
		return
	}
	c.state = StateDisconnected
	c.mu.Unlock()

	go c.connect(context.Background())
}

// Send performs a request/reply call with bounded retry on transient
// failure, waiting attempt*step before each resubmission. Non-transient
// errors surface unmodified on the first occurrence; a remote worker's
// programming error must not be swallowed here.
func (c *Client) Send(ctx context.Context, pattern string, req any, reply any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request for %s: %w", pattern, err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.SendRetries; attempt++ {
		if attempt > 0 {
			c.log.Warn().
				Str("pattern", pattern).
				Int("attempt", attempt).
				Int("max", c.cfg.SendRetries).
				Msg("retrying broker send")
			if err := c.sleep(ctx, time.Duration(attempt)*c.cfg.RetryStep); err != nil {
				return err
			}
		}

		if !c.connect(ctx) {
			lastErr = ErrBrokerUnavailable
			continue
		}

		raw, err := c.t.Request(ctx, pattern, body, c.cfg.ReplyTimeout)
		if err == nil {
			if reply == nil {
				return nil
			}
			if err := json.Unmarshal(raw, reply); err != nil {
				return fmt.Errorf("unmarshal reply for %s: %w", pattern, err)
			}
			return nil
		}

		if !isTransient(err) {
			return err
		}

		c.log.Error().Err(err).Str("pattern", pattern).Msg("transient broker failure")
		lastErr = err
		c.dropConnection()
	}

	return &NoHandlerOrConnectivityError{Pattern: pattern, Err: lastErr}
}

// Emit is fire-and-forget: no reply, no retry loop. One failed publish
// is answered with a single reconnect and one re-emit; a second failure
// propagates. Callers use Emit only where at-most-one redelivery is
// acceptable.
func (c *Client) Emit(ctx context.Context, pattern string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event for %s: %w", pattern, err)
	}

	if !c.connect(ctx) {
		return fmt.Errorf("emit %s: %w", pattern, ErrBrokerUnavailable)
	}

	err = c.t.Publish(ctx, pattern, body)
	if err == nil {
		c.log.Debug().Str("pattern", pattern).Msg("event emitted")
		return nil
	}
	c.log.Error().Err(err).Str("pattern", pattern).Msg("emit failed, reconnecting once")

	c.mu.Lock()
	c.state = StateDisconnected
	c.mu.Unlock()

	if !c.connect(ctx) {
		return fmt.Errorf("emit %s: %w", pattern, ErrBrokerUnavailable)
	}

	if err := c.t.Publish(ctx, pattern, body); err != nil {
		return err
	}
	c.log.Debug().Str("pattern", pattern).Msg("event re-emitted after reconnection")
	return nil
}

// Close tears down the transport.
func (c *Client) Close() error {
	c.mu.Lock()
	c.state = StateDisconnected
	c.mu.Unlock()
	return c.t.Close()
}

// isTransient classifies failures that warrant a retry and a reconnect:
// the remote service has no handler for the pattern, the broker refused
// the connection, or the channel died underneath us.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrBrokerUnavailable) {
		return true
	}
	msg := err.Error()
	for _, marker := range []string{
		"no matching message handler",
		"connection refused",
		"channel closed",
		"channel/connection is not open",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
