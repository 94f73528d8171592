// Package protocol owns one appliance connection: it serializes command
// exchanges, applies the retry policy and decodes replies.
package protocol

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"anova-service/internal/command"
	"anova-service/internal/model"
	"anova-service/internal/retry"
	"anova-service/internal/transport"
	"anova-service/internal/utils"
)

const (
	DefaultCommandTimeout = 10 * time.Second
	DefaultAttempts       = 3
	DefaultRetryDelay     = 2 * time.Second
)

// Observer receives one call per exchange attempt
type Observer interface {
	ObserveExchange(address string, kind command.Kind, duration time.Duration, err error)
	ObserveRetry(address string, kind command.Kind)
}

// Option configures a Client
type Option func(*Client)

// WithRetryPolicy replaces the whole-exchange retry policy. Retryable is
// always set by the client.
func WithRetryPolicy(policy retry.Policy) Option {
	return func(c *Client) {
		c.policy = policy
	}
}

// WithCommandTimeout sets the reply timeout used when a caller passes zero
func WithCommandTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.commandTimeout = timeout
		}
	}
}

// WithObserver attaches an exchange observer
func WithObserver(observer Observer) Option {
	return func(c *Client) {
		c.observer = observer
	}
}

// Client is the protocol client for a single appliance
type Client struct {
	transport      transport.Transport
	logger         *utils.DeviceLogger
	policy         retry.Policy
	commandTimeout time.Duration
	observer       Observer

	// slot admits one exchange at a time; acquiring it honours cancellation
	slot chan struct{}

	mu    sync.RWMutex
	state model.ConnectionState
}

// NewClient creates a disconnected client over t
func NewClient(t transport.Transport, logger *zap.Logger, opts ...Option) *Client {
	identity := t.Identity()
	c := &Client{
		transport:      t,
		logger:         utils.NewDeviceLogger(logger, identity.Address, identity.Name, string(t.Mode())),
		policy:         retry.Policy{Attempts: DefaultAttempts, Delay: DefaultRetryDelay},
		commandTimeout: DefaultCommandTimeout,
		slot:           make(chan struct{}, 1),
		state:          model.StateDisconnected,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Identity returns the appliance this client is bound to
func (c *Client) Identity() model.Identity {
	return c.transport.Identity()
}

// Mode returns the transport mode resolved at construction
func (c *Client) Mode() model.TransportMode {
	return c.transport.Mode()
}

// State returns the current connection state
func (c *Client) State() model.ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsConnected reports whether exchanges may be attempted
func (c *Client) IsConnected() bool {
	state := c.State()
	return state == model.StateConnected || state == model.StateExchanging
}

// Stats returns transport statistics when the transport keeps them
func (c *Client) Stats() (transport.Stats, bool) {
	if s, ok := c.transport.(interface{ Stats() transport.Stats }); ok {
		return s.Stats(), true
	}
	return transport.Stats{}, false
}

// Connect opens the transport. Calling it while not disconnected is an error.
func (c *Client) Connect(ctx context.Context) error {
	address := c.Identity().Address

	c.mu.Lock()
	if c.state != model.StateDisconnected {
		c.mu.Unlock()
		return &ConnectionError{Address: address, Err: ErrAlreadyConnected}
	}
	c.state = model.StateConnecting
	c.mu.Unlock()

	err := c.transport.Open(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.state = model.StateDisconnected
		c.logger.LogConnection("connect", false, err)
		return &ConnectionError{Address: address, Err: err}
	}
	c.state = model.StateConnected
	c.logger.LogConnection("connect", true, nil)
	return nil
}

// Disconnect closes the transport. It is always safe to call.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.state == model.StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.state = model.StateDisconnected
	c.mu.Unlock()

	err := c.transport.Close()
	c.logger.LogConnection("disconnect", err == nil, err)
	if err != nil {
		return fmt.Errorf("failed to close transport: %w", err)
	}
	return nil
}

// SendCommand performs one logical exchange, retrying transient failures.
// A zero timeout uses the client default. Raw commands return the reply text;
// typed commands return their decoded value.
func (c *Client) SendCommand(ctx context.Context, cmd command.Command, timeout time.Duration) (any, error) {
	if !cmd.SupportsBLE() {
		return nil, &CommandError{Command: string(cmd.Kind()), Reason: "not supported over bluetooth", Err: ErrUnsupported}
	}
	frame, err := cmd.Encode()
	if err != nil {
		return nil, &CommandError{Command: string(cmd.Kind()), Reason: "invalid command", Err: err}
	}
	if timeout <= 0 {
		timeout = c.commandTimeout
	}

	policy := c.policy
	policy.Retryable = Retryable
	onRetry := policy.OnRetry
	policy.OnRetry = func(attempt int, err error) {
		c.logger.Warn("Command failed, retrying",
			zap.String("command", frame),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", policy.Attempts),
			zap.Error(err),
		)
		if c.observer != nil {
			c.observer.ObserveRetry(c.Identity().Address, cmd.Kind())
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}
	}

	var result any
	err = retry.Do(ctx, policy, func(ctx context.Context, attempt int) error {
		started := time.Now()
		value, err := c.exchange(ctx, cmd, frame, timeout)
		duration := time.Since(started)

		c.logger.LogExchange(string(cmd.Kind()), frame, attempt, duration, err)
		if c.observer != nil {
			c.observer.ObserveExchange(c.Identity().Address, cmd.Kind(), duration, err)
		}
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// exchange runs a single attempt while holding the exchange slot
func (c *Client) exchange(ctx context.Context, cmd command.Command, frame string, timeout time.Duration) (any, error) {
	select {
	case c.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-c.slot }()

	address := c.Identity().Address

	c.mu.Lock()
	if c.state != model.StateConnected {
		c.mu.Unlock()
		return nil, &ConnectionError{Address: address, Err: ErrNotConnected}
	}
	c.state = model.StateExchanging
	c.mu.Unlock()

	reply, err := c.transport.Exchange(ctx, frame, timeout)
	lost := errors.Is(err, transport.ErrLinkLost) || errors.Is(err, transport.ErrNotOpen)

	c.mu.Lock()
	if c.state == model.StateExchanging {
		if lost {
			c.state = model.StateDisconnected
		} else {
			c.state = model.StateConnected
		}
	}
	c.mu.Unlock()

	if err != nil {
		if lost {
			c.logger.LogConnection("link_lost", false, err)
			if cerr := c.transport.Close(); cerr != nil {
				c.logger.Debug("Failed to close lost transport", zap.Error(cerr))
			}
		}
		return nil, classify(ctx, address, frame, err)
	}
	return cmd.Decode(reply)
}

// classify maps a transport failure onto the client error taxonomy.
// Cancellation is returned untouched.
func classify(ctx context.Context, address, frame string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	switch {
	case errors.Is(err, transport.ErrTimeout):
		return &CommandError{Command: frame, Reason: "timed out", Err: err}
	case errors.Is(err, transport.ErrEmptyResponse):
		return &CommandError{Command: frame, Reason: "empty response", Err: err}
	case errors.Is(err, transport.ErrLinkLost), errors.Is(err, transport.ErrNotOpen):
		return &ConnectionError{Address: address, Err: err}
	default:
		return &CommandError{Command: frame, Reason: "transport failure", Err: err}
	}
}

// Retryable reports whether a SendCommand failure is transient. Capability
// mismatches, connection state errors, decode errors and cancellation are
// permanent.
func Retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrUnsupported) {
		return false
	}
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return false
	}
	var decodeErr *command.DecodeError
	return !errors.As(err, &decodeErr)
}

// Heartbeat probes liveness with a target temperature read. Decode failures
// are logged and swallowed: the appliance answered, so it is alive.
func (c *Client) Heartbeat(ctx context.Context) (*float64, error) {
	value, err := c.SendCommand(ctx, command.GetTargetTemperature(), 0)
	if err != nil {
		var decodeErr *command.DecodeError
		if errors.As(err, &decodeErr) {
			c.logger.Warn("Heartbeat reply could not be decoded",
				zap.String("raw", decodeErr.Raw),
				zap.Error(err),
			)
			return nil, nil
		}
		return nil, err
	}
	temp := value.(float64)
	return &temp, nil
}
