package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/webpilot/webpilot/pkg/engine"
	"github.com/webpilot/webpilot/pkg/telemetry"
)

// defaultCommandTimeout bounds commands whose backend call carries no
// explicit timeout (current_url, auth_status, auth_refresh).
const defaultCommandTimeout = 10 * time.Second

// responseGrace pads the client read deadline past the command timeout.
// The driver enforces the timeout itself; the deadline only catches a hung
// connection.
const responseGrace = 5 * time.Second

// Config contains client configuration options.
type Config struct {
	// StartupTimeout bounds the wait for the driver's READY frame.
	StartupTimeout time.Duration

	// Logger receives client logs and relayed driver events.
	Logger zerolog.Logger

	// Metrics and Tracer are optional instrumentation. Each may be nil.
	Metrics *telemetry.Metrics
	Tracer  *telemetry.Tracer
}

// DriverError is a command failure reported by the driver.
type DriverError struct {
	Code      string
	Message   string
	Retryable bool
}

func (e *DriverError) Error() string {
	return e.Code + ": " + e.Message
}

// Client speaks the driver protocol over a single connection and implements
// engine.Backend. Commands are serialized; the engine issues one backend
// call at a time.
type Client struct {
	conn           io.ReadWriteCloser
	encoder        *Encoder
	decoder        *Decoder
	logger         zerolog.Logger
	metrics        *telemetry.Metrics
	tracer         *telemetry.Tracer
	startupTimeout time.Duration

	mu     sync.Mutex
	seq    int
	ready  *ReadyMessage
	closed bool

	authMu    sync.Mutex
	authIssue *engine.AuthIssue
}

// NewClient wraps an established connection. Call Start to perform the
// protocol handshake before issuing commands.
func NewClient(conn io.ReadWriteCloser, cfg Config) (*Client, error) {
	if conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = 10 * time.Second
	}

	return &Client{
		conn:           conn,
		encoder:        NewEncoder(conn),
		decoder:        NewDecoder(conn),
		logger:         cfg.Logger.With().Str("component", "driver-client").Logger(),
		metrics:        cfg.Metrics,
		tracer:         cfg.Tracer,
		startupTimeout: cfg.StartupTimeout,
	}, nil
}

// Dial connects to a driver daemon at endpoint (tcp://host:port or plain
// host:port), performs the handshake and returns a ready client.
func Dial(ctx context.Context, endpoint string, cfg Config) (*Client, error) {
	address := strings.TrimPrefix(endpoint, "tcp://")
	if address == "" || strings.Contains(address, "://") {
		return nil, fmt.Errorf("unsupported driver endpoint: %s", endpoint)
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to dial driver at %s: %w", address, err)
	}

	client, err := NewClient(conn, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := client.Start(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return client, nil
}

// Start waits for the driver's READY frame and seeds the cached session
// auth state.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("client is closed")
	}
	c.mu.Unlock()

	readyCtx, cancel := context.WithTimeout(ctx, c.startupTimeout)
	defer cancel()

	readyCh := make(chan *ReadyMessage, 1)
	errCh := make(chan error, 1)

	go func() {
		msg, err := c.decoder.Decode()
		if err != nil {
			errCh <- err
			return
		}
		if msg.Type != MessageTypeReady {
			errCh <- fmt.Errorf("expected READY, got %s", msg.Type)
			return
		}
		var ready ReadyMessage
		if err := ParseParams(msg.Data, &ready); err != nil {
			errCh <- err
			return
		}
		readyCh <- &ready
	}()

	select {
	case <-readyCtx.Done():
		return fmt.Errorf("timeout waiting for READY frame")
	case err := <-errCh:
		return fmt.Errorf("failed to receive READY: %w", err)
	case ready := <-readyCh:
		c.mu.Lock()
		c.ready = ready
		c.mu.Unlock()
		c.logger.Info().
			Str("driver", ready.Driver).
			Str("version", ready.Version).
			Msg("Driver session ready")
	}

	// Seed the cached session state so AuthIssue has an answer before the
	// first command completes.
	var status AuthStatusResult
	if err := c.call(ctx, CommandTypeAuthStatus, AuthStatusParams{}, defaultCommandTimeout, &status); err != nil {
		return fmt.Errorf("failed to query session auth state: %w", err)
	}
	c.setAuthIssue(statusToIssue(&status))

	return nil
}

// Ready returns the READY frame received during the handshake, or nil.
func (c *Client) Ready() *ReadyMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// Close closes the connection to the driver.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// Navigate implements engine.Backend.
func (c *Client) Navigate(ctx context.Context, url string, timeout time.Duration) (bool, error) {
	var result NavigateResult
	if err := c.call(ctx, CommandTypeNavigate, NavigateParams{URL: url}, timeout, &result); err != nil {
		return false, err
	}
	return result.Done, nil
}

// WaitForSelector implements engine.Backend.
func (c *Client) WaitForSelector(ctx context.Context, selector, state string, timeout time.Duration) (bool, error) {
	var result WaitSelectorResult
	params := WaitSelectorParams{Selector: selector, State: state}
	if err := c.call(ctx, CommandTypeWaitSelector, params, timeout, &result); err != nil {
		return false, err
	}
	return result.Done, nil
}

// Click implements engine.Backend.
func (c *Client) Click(ctx context.Context, selector string, timeout time.Duration) (bool, error) {
	var result ClickResult
	if err := c.call(ctx, CommandTypeClick, ClickParams{Selector: selector}, timeout, &result); err != nil {
		return false, err
	}
	return result.Done, nil
}

// Fill implements engine.Backend.
func (c *Client) Fill(ctx context.Context, selector, text string, timeout time.Duration) (bool, error) {
	var result FillResult
	params := FillParams{Selector: selector, Text: text}
	if err := c.call(ctx, CommandTypeFill, params, timeout, &result); err != nil {
		return false, err
	}
	return result.Done, nil
}

// Screenshot implements engine.Backend. The image crosses the wire in the
// DONE frame and the file is written on this side.
func (c *Client) Screenshot(ctx context.Context, path string, fullPage bool, timeout time.Duration) (bool, error) {
	var result ScreenshotResult
	if err := c.call(ctx, CommandTypeScreenshot, ScreenshotParams{FullPage: fullPage}, timeout, &result); err != nil {
		return false, err
	}
	if !result.Done {
		return false, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return false, fmt.Errorf("failed to create screenshot directory: %w", err)
	}
	if err := os.WriteFile(path, result.Data, 0644); err != nil {
		return false, fmt.Errorf("failed to write screenshot: %w", err)
	}
	return true, nil
}

// CurrentURL implements engine.Backend.
func (c *Client) CurrentURL(ctx context.Context) (string, error) {
	var result CurrentURLResult
	if err := c.call(ctx, CommandTypeCurrentURL, CurrentURLParams{}, defaultCommandTimeout, &result); err != nil {
		return "", err
	}
	return result.URL, nil
}

// AuthIssue implements engine.Backend. It answers from the cached state
// maintained by auth events and auth_status results and never blocks on
// the connection.
func (c *Client) AuthIssue() *engine.AuthIssue {
	c.authMu.Lock()
	defer c.authMu.Unlock()
	return c.authIssue
}

// RefreshAuthIfChanged implements engine.Backend.
func (c *Client) RefreshAuthIfChanged(ctx context.Context) (bool, error) {
	var result AuthRefreshResult
	if err := c.call(ctx, CommandTypeAuthRefresh, AuthRefreshParams{}, defaultCommandTimeout, &result); err != nil {
		return false, err
	}
	if result.Changed {
		c.setAuthIssue(nil)
	}
	return result.Changed, nil
}

// call executes one command round trip with tracing and metrics.
func (c *Client) call(ctx context.Context, cmdType CommandType, params interface{}, timeout time.Duration, result interface{}) error {
	var span trace.Span
	if c.tracer != nil {
		ctx, span = c.tracer.StartDriverSpan(ctx, string(cmdType))
		defer span.End()
	}

	start := time.Now()
	err := c.roundTrip(ctx, cmdType, params, timeout, result)
	c.metrics.RecordDriverCall(string(cmdType), time.Since(start))

	if err != nil {
		c.metrics.RecordDriverError(string(cmdType))
		if span != nil {
			telemetry.RecordError(span, err)
		}
		return err
	}
	if span != nil {
		telemetry.RecordSuccess(span)
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, cmdType CommandType, params interface{}, timeout time.Duration, result interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("client is closed")
	}
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}

	paramBytes, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}

	c.seq++
	cmd := &CommandMessage{
		ID:        fmt.Sprintf("cmd-%d", c.seq),
		Type:      cmdType,
		TimeoutMS: int(timeout / time.Millisecond),
		Params:    paramBytes,
	}
	if err := cmd.Validate(); err != nil {
		return fmt.Errorf("invalid command: %w", err)
	}

	if nc, ok := c.conn.(net.Conn); ok {
		_ = nc.SetReadDeadline(time.Now().Add(timeout + responseGrace))
		defer func() { _ = nc.SetReadDeadline(time.Time{}) }()
	}

	if err := c.encoder.Encode(MessageTypeCommand, cmd); err != nil {
		return fmt.Errorf("failed to send command: %w", err)
	}

	for {
		msg, err := c.decoder.Decode()
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}

		switch msg.Type {
		case MessageTypeEvent:
			var event EventMessage
			if err := ParseParams(msg.Data, &event); err != nil {
				return fmt.Errorf("failed to parse event: %w", err)
			}
			c.handleEvent(&event)

		case MessageTypeDone:
			var done DoneMessage
			if err := ParseParams(msg.Data, &done); err != nil {
				return fmt.Errorf("failed to parse done: %w", err)
			}
			if done.CommandID != cmd.ID {
				return fmt.Errorf("command ID mismatch: expected %s, got %s", cmd.ID, done.CommandID)
			}
			if result != nil && len(done.Result) > 0 {
				if err := json.Unmarshal(done.Result, result); err != nil {
					return fmt.Errorf("failed to parse result: %w", err)
				}
			}
			return nil

		case MessageTypeError:
			var errMsg ErrorMessage
			if err := ParseParams(msg.Data, &errMsg); err != nil {
				return fmt.Errorf("failed to parse error: %w", err)
			}
			if errMsg.CommandID != "" && errMsg.CommandID != cmd.ID {
				return fmt.Errorf("command ID mismatch: expected %s, got %s", cmd.ID, errMsg.CommandID)
			}
			return &DriverError{
				Code:      errMsg.Code,
				Message:   errMsg.Message,
				Retryable: errMsg.Retryable,
			}

		case MessageTypeExit:
			var exit ExitMessage
			if err := ParseParams(msg.Data, &exit); err != nil {
				return fmt.Errorf("driver exited")
			}
			return fmt.Errorf("driver exited: %s", exit.Reason)

		default:
			return fmt.Errorf("unexpected message type: %s", msg.Type)
		}
	}
}

// handleEvent relays a driver event to the logger and updates the cached
// auth state when the event carries one.
func (c *Client) handleEvent(event *EventMessage) {
	if event.Auth != nil {
		c.setAuthIssue(&engine.AuthIssue{
			Code:       event.Auth.Code,
			Message:    event.Auth.Message,
			DetectedAt: event.Auth.DetectedAt,
		})
	}

	logEvent := c.logger.Debug()
	if event.Level == "warn" {
		logEvent = c.logger.Warn()
	}
	logEvent.Str("command_id", event.CommandID).Msg(event.Message)
}

func (c *Client) setAuthIssue(issue *engine.AuthIssue) {
	c.authMu.Lock()
	c.authIssue = issue
	c.authMu.Unlock()
}

func statusToIssue(status *AuthStatusResult) *engine.AuthIssue {
	if status == nil || status.OK || status.Issue == nil {
		return nil
	}
	return &engine.AuthIssue{
		Code:       status.Issue.Code,
		Message:    status.Issue.Message,
		DetectedAt: status.Issue.DetectedAt,
	}
}
