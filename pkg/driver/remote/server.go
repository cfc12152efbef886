package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/webpilot/webpilot/pkg/engine"
)

var (
	errBadParams          = errors.New("invalid command params")
	errUnsupportedCommand = errors.New("unsupported command type")
)

// Server answers driver protocol commands against an engine.Backend. One
// Server may serve many connections; the backend for each connection is
// supplied by the caller, so daemons decide whether sessions share state.
type Server struct {
	driver  string
	version string
	logger  zerolog.Logger
}

// NewServer creates a protocol server identifying itself with the given
// driver name and version.
func NewServer(driver, version string, logger zerolog.Logger) *Server {
	return &Server{
		driver:  driver,
		version: version,
		logger:  logger.With().Str("component", "driver-server").Logger(),
	}
}

// ServeConn answers protocol commands on conn against backend until the
// peer disconnects or ctx is canceled. It closes conn before returning.
func (s *Server) ServeConn(ctx context.Context, conn io.ReadWriteCloser, backend engine.Backend) error {
	defer conn.Close()

	enc := NewEncoder(conn)
	dec := NewDecoder(conn)

	ready := &ReadyMessage{
		Version: s.version,
		Driver:  s.driver,
		PID:     os.Getpid(),
		Caps:    commandCaps(),
	}
	if err := enc.EncodeReady(ready); err != nil {
		return fmt.Errorf("failed to send READY: %w", err)
	}

	commands := 0
	for {
		if ctx.Err() != nil {
			_ = enc.EncodeExit(&ExitMessage{Reason: "shutdown", CommandsTotal: commands})
			return ctx.Err()
		}

		cmd, err := dec.DecodeCommand()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				_ = enc.EncodeExit(&ExitMessage{Reason: "connection_closed", CommandsTotal: commands})
				return nil
			}
			_ = enc.EncodeError(&ErrorMessage{Code: "PROTOCOL_ERROR", Message: err.Error()})
			return fmt.Errorf("failed to decode command: %w", err)
		}
		commands++

		s.handleCommand(ctx, enc, backend, cmd)
	}
}

func (s *Server) handleCommand(ctx context.Context, enc *Encoder, backend engine.Backend, cmd *CommandMessage) {
	timeout := time.Duration(cmd.TimeoutMS) * time.Millisecond
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result, err := s.dispatch(cmdCtx, backend, cmd, timeout)
	duration := time.Since(start).Seconds()

	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("command_id", cmd.ID).
			Str("command", string(cmd.Type)).
			Msg("Command failed")
		_ = enc.EncodeError(commandError(cmd.ID, err))
		return
	}

	// Session problems ride along as events so the controller's cached
	// auth state stays current between auth_status calls.
	if issue := backend.AuthIssue(); issue != nil {
		_ = enc.EncodeEvent(&EventMessage{
			CommandID: cmd.ID,
			Level:     "warn",
			Message:   "session auth issue: " + issue.Code,
			Auth: &AuthEvent{
				Code:       issue.Code,
				Message:    issue.Message,
				DetectedAt: issue.DetectedAt,
			},
		})
	}

	_ = enc.EncodeDone(&DoneMessage{
		CommandID: cmd.ID,
		Result:    result,
		Duration:  duration,
	})
}

func (s *Server) dispatch(ctx context.Context, backend engine.Backend, cmd *CommandMessage, timeout time.Duration) (json.RawMessage, error) {
	switch cmd.Type {
	case CommandTypeNavigate:
		var params NavigateParams
		if err := ParseParams(cmd.Params, &params); err != nil {
			return nil, fmt.Errorf("%w: %v", errBadParams, err)
		}
		done, err := backend.Navigate(ctx, params.URL, timeout)
		if err != nil {
			return nil, err
		}
		return json.Marshal(NavigateResult{Done: done})

	case CommandTypeWaitSelector:
		var params WaitSelectorParams
		if err := ParseParams(cmd.Params, &params); err != nil {
			return nil, fmt.Errorf("%w: %v", errBadParams, err)
		}
		done, err := backend.WaitForSelector(ctx, params.Selector, params.State, timeout)
		if err != nil {
			return nil, err
		}
		return json.Marshal(WaitSelectorResult{Done: done})

	case CommandTypeClick:
		var params ClickParams
		if err := ParseParams(cmd.Params, &params); err != nil {
			return nil, fmt.Errorf("%w: %v", errBadParams, err)
		}
		done, err := backend.Click(ctx, params.Selector, timeout)
		if err != nil {
			return nil, err
		}
		return json.Marshal(ClickResult{Done: done})

	case CommandTypeFill:
		var params FillParams
		if err := ParseParams(cmd.Params, &params); err != nil {
			return nil, fmt.Errorf("%w: %v", errBadParams, err)
		}
		done, err := backend.Fill(ctx, params.Selector, params.Text, timeout)
		if err != nil {
			return nil, err
		}
		return json.Marshal(FillResult{Done: done})

	case CommandTypeScreenshot:
		var params ScreenshotParams
		if err := ParseParams(cmd.Params, &params); err != nil {
			return nil, fmt.Errorf("%w: %v", errBadParams, err)
		}
		return s.captureScreenshot(ctx, backend, params, timeout)

	case CommandTypeCurrentURL:
		url, err := backend.CurrentURL(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(CurrentURLResult{URL: url})

	case CommandTypeAuthStatus:
		result := AuthStatusResult{OK: true}
		if issue := backend.AuthIssue(); issue != nil {
			result.OK = false
			result.Issue = &AuthEvent{
				Code:       issue.Code,
				Message:    issue.Message,
				DetectedAt: issue.DetectedAt,
			}
		}
		return json.Marshal(result)

	case CommandTypeAuthRefresh:
		changed, err := backend.RefreshAuthIfChanged(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(AuthRefreshResult{Changed: changed})

	default:
		return nil, fmt.Errorf("%w: %s", errUnsupportedCommand, cmd.Type)
	}
}

// captureScreenshot stages the capture in a temporary file and returns the
// bytes; the backend contract writes to a path on the driver's side.
func (s *Server) captureScreenshot(ctx context.Context, backend engine.Backend, params ScreenshotParams, timeout time.Duration) (json.RawMessage, error) {
	tmp, err := os.CreateTemp("", "webpilot-shot-*.png")
	if err != nil {
		return nil, fmt.Errorf("failed to create capture file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	done, err := backend.Screenshot(ctx, tmpPath, params.FullPage, timeout)
	if err != nil {
		return nil, err
	}
	if !done {
		return json.Marshal(ScreenshotResult{Done: false})
	}

	data, err := os.ReadFile(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read capture: %w", err)
	}
	return json.Marshal(ScreenshotResult{Done: true, Data: data})
}

func commandError(commandID string, err error) *ErrorMessage {
	msg := &ErrorMessage{
		CommandID: commandID,
		Code:      "BACKEND_ERROR",
		Message:   err.Error(),
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		msg.Code = "TIMEOUT"
		msg.Retryable = true
	case errors.Is(err, errBadParams):
		msg.Code = "BAD_PARAMS"
	case errors.Is(err, errUnsupportedCommand):
		msg.Code = "UNSUPPORTED_COMMAND"
	}

	return msg
}

func commandCaps() map[string]bool {
	caps := make(map[string]bool)
	for _, ct := range []CommandType{
		CommandTypeNavigate, CommandTypeWaitSelector, CommandTypeClick,
		CommandTypeFill, CommandTypeScreenshot, CommandTypeCurrentURL,
		CommandTypeAuthStatus, CommandTypeAuthRefresh,
	} {
		caps[string(ct)] = true
	}
	return caps
}
