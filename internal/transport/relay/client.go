// Package relay talks to a remote relay process that owns the radio and
// performs exchanges on the caller's behalf.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"anova-service/internal/model"
	"anova-service/internal/transport"
)

// WriteRequest is the body of POST /write
type WriteRequest struct {
	Address string `json:"address" binding:"required"`
	Command string `json:"command" binding:"required"`
	// Timeout is the caller's reply timeout in seconds; zero uses the relay default
	Timeout float64 `json:"timeout,omitempty"`
}

// WriteResponse is the success body of POST /write
type WriteResponse struct {
	Result string `json:"result"`
}

// ErrorResponse is the failure body of every relay endpoint
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// Client calls a relay's HTTP API
type Client struct {
	baseURL    string
	httpClient *http.Client
	grace      time.Duration
	logger     *zap.Logger
}

// NewClient creates a relay client. grace is added to every reply timeout to
// cover the relay's own connect and notification wait.
func NewClient(baseURL string, grace time.Duration, logger *zap.Logger) *Client {
	if grace <= 0 {
		grace = transport.DefaultResponseGrace
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		grace:      grace,
		logger:     logger.With(zap.String("relay", baseURL)),
	}
}

// BaseURL returns the relay base address
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Ping requests the relay banner, bounded by the response grace
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.grace)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return &transport.Error{Op: "ping", Err: err}
	}

	var banner struct {
		Message string `json:"message"`
	}
	return c.do(req, "ping", &banner)
}

// Scan asks the relay to scan for timeout and returns everything it saw
func (c *Client) Scan(ctx context.Context, timeout time.Duration) ([]model.Advertisement, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout+c.grace)
	defer cancel()

	url := c.baseURL + "/scan"
	if timeout > 0 {
		url = fmt.Sprintf("%s?timeout=%g", url, timeout.Seconds())
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &transport.Error{Op: "scan", Err: err}
	}

	var devices []model.Advertisement
	if err := c.do(req, "scan", &devices); err != nil {
		return nil, err
	}
	return devices, nil
}

// Write sends frame to the appliance at address and returns the stripped reply
func (c *Client) Write(ctx context.Context, address, frame string, timeout time.Duration) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout+2*c.grace)
	defer cancel()

	body, err := json.Marshal(WriteRequest{Address: address, Command: frame, Timeout: timeout.Seconds()})
	if err != nil {
		return "", &transport.Error{Op: "write", Err: err}
	}
	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+"/write", bytes.NewReader(body))
	if err != nil {
		return "", &transport.Error{Op: "write", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Debug("Relay write",
		zap.String("address", address),
		zap.String("command", frame),
	)

	var resp WriteResponse
	if err := c.do(req, "write", &resp); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return "", &transport.Error{Op: "write", Detail: "relay did not answer in time", Err: transport.ErrTimeout}
		}
		return "", err
	}
	return transport.ReplyText([]byte(resp.Result))
}

func (c *Client) do(req *http.Request, op string, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &transport.Error{Op: op, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &transport.Error{Op: op, Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		relayErr := &transport.Error{Op: op, Status: resp.StatusCode}
		var body ErrorResponse
		if json.Unmarshal(payload, &body) == nil && body.Detail != "" {
			relayErr.Detail = body.Detail
		} else {
			relayErr.Detail = strings.TrimSpace(string(payload))
		}
		switch resp.StatusCode {
		case http.StatusGatewayTimeout:
			relayErr.Err = transport.ErrTimeout
		case http.StatusBadGateway:
			relayErr.Err = transport.ErrEmptyResponse
		}
		return relayErr
	}

	if err := json.Unmarshal(payload, out); err != nil {
		return &transport.Error{Op: op, Status: resp.StatusCode, Detail: "malformed relay response", Err: err}
	}
	return nil
}

// Transport is the relay variant of transport.Transport, bound to one appliance
type Transport struct {
	client   *Client
	identity model.Identity
}

// NewTransport binds a relay client to an appliance address
func NewTransport(client *Client, identity model.Identity) *Transport {
	return &Transport{client: client, identity: identity}
}

func (t *Transport) Mode() model.TransportMode {
	return model.TransportRelay
}

func (t *Transport) Identity() model.Identity {
	return t.identity
}

// Open checks that the relay answers. The relay holds the appliance link,
// so there is no local state to set up.
func (t *Transport) Open(ctx context.Context) error {
	return t.client.Ping(ctx)
}

func (t *Transport) Close() error {
	return nil
}

func (t *Transport) Exchange(ctx context.Context, frame string, timeout time.Duration) (string, error) {
	return t.client.Write(ctx, t.identity.Address, frame, timeout)
}
