package remote

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType represents the type of frame in the driver protocol.
type MessageType string

const (
	// MessageTypeReady indicates the driver session is ready for commands
	MessageTypeReady MessageType = "READY"
	// MessageTypeCommand indicates a command from the controller
	MessageTypeCommand MessageType = "CMD"
	// MessageTypeEvent indicates a progress or session event from the driver
	MessageTypeEvent MessageType = "EVENT"
	// MessageTypeDone indicates successful command completion
	MessageTypeDone MessageType = "DONE"
	// MessageTypeError indicates a command or protocol failure
	MessageTypeError MessageType = "ERROR"
	// MessageTypeExit indicates the driver is closing the session
	MessageTypeExit MessageType = "EXIT"
)

// CommandType represents the type of driver command to execute.
type CommandType string

const (
	// CommandTypeNavigate loads a URL
	CommandTypeNavigate CommandType = "navigate"
	// CommandTypeWaitSelector waits for a selector to reach a state
	CommandTypeWaitSelector CommandType = "wait_selector"
	// CommandTypeClick clicks the element matched by a selector
	CommandTypeClick CommandType = "click"
	// CommandTypeFill replaces the content of an input
	CommandTypeFill CommandType = "fill"
	// CommandTypeScreenshot captures the page
	CommandTypeScreenshot CommandType = "screenshot"
	// CommandTypeCurrentURL reports the URL the session is on
	CommandTypeCurrentURL CommandType = "current_url"
	// CommandTypeAuthStatus reports the session authentication state
	CommandTypeAuthStatus CommandType = "auth_status"
	// CommandTypeAuthRefresh reloads credentials if fresh ones are available
	CommandTypeAuthRefresh CommandType = "auth_refresh"
)

// Message is the envelope for every protocol frame.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ReadyMessage is sent once by the driver when the session is ready.
type ReadyMessage struct {
	Version  string            `json:"version"`
	Driver   string            `json:"driver"`
	PID      int               `json:"pid,omitempty"`
	Caps     map[string]bool   `json:"capabilities"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// CommandMessage contains a command for the driver to execute.
type CommandMessage struct {
	ID        string          `json:"id"`
	Type      CommandType     `json:"type"`
	TimeoutMS int             `json:"timeout_ms"`
	Params    json.RawMessage `json:"params"`
}

// EventMessage carries progress or session information during command
// execution.
type EventMessage struct {
	CommandID string            `json:"command_id"`
	Level     string            `json:"level"` // info, warn, debug
	Message   string            `json:"message"`
	Auth      *AuthEvent        `json:"auth,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// AuthEvent describes a session authentication problem observed by the
// driver.
type AuthEvent struct {
	Code       string    `json:"code"`
	Message    string    `json:"message"`
	DetectedAt time.Time `json:"detected_at"`
}

// DoneMessage indicates successful command completion.
type DoneMessage struct {
	CommandID string          `json:"command_id"`
	Result    json.RawMessage `json:"result"`
	Duration  float64         `json:"duration"` // seconds
}

// ErrorMessage indicates a command or protocol failure.
type ErrorMessage struct {
	CommandID string            `json:"command_id,omitempty"`
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
	Retryable bool              `json:"retryable"`
}

// ExitMessage is sent before the driver closes the session.
type ExitMessage struct {
	Reason        string `json:"reason"`
	ExitCode      int    `json:"exit_code"`
	CommandsTotal int    `json:"commands_total"`
}

// Command parameter and result structures for each command type

// NavigateParams contains parameters for page navigation.
type NavigateParams struct {
	URL string `json:"url"`
}

// NavigateResult contains the result of page navigation.
type NavigateResult struct {
	Done bool `json:"done"`
}

// WaitSelectorParams contains parameters for a selector wait.
type WaitSelectorParams struct {
	Selector string `json:"selector"`
	State    string `json:"state"` // visible, attached, hidden
}

// WaitSelectorResult reports whether the selector reached the state within
// the command timeout.
type WaitSelectorResult struct {
	Done bool `json:"done"`
}

// ClickParams contains parameters for a click.
type ClickParams struct {
	Selector string `json:"selector"`
}

// ClickResult contains the result of a click.
type ClickResult struct {
	Done bool `json:"done"`
}

// FillParams contains parameters for filling an input.
type FillParams struct {
	Selector string `json:"selector"`
	Text     string `json:"text"`
}

// FillResult contains the result of filling an input.
type FillResult struct {
	Done bool `json:"done"`
}

// ScreenshotParams contains parameters for a page capture.
type ScreenshotParams struct {
	FullPage bool `json:"full_page"`
}

// ScreenshotResult carries the captured image. Data is base64-encoded on
// the wire; the controller writes the file on its side.
type ScreenshotResult struct {
	Done bool   `json:"done"`
	Data []byte `json:"data,omitempty"`
}

// CurrentURLParams contains parameters for a URL query.
type CurrentURLParams struct{}

// CurrentURLResult contains the URL the session is on.
type CurrentURLResult struct {
	URL string `json:"url"`
}

// AuthStatusParams contains parameters for a session state query.
type AuthStatusParams struct{}

// AuthStatusResult reports the driver's view of the session. Issue is set
// when OK is false.
type AuthStatusResult struct {
	OK    bool       `json:"ok"`
	Issue *AuthEvent `json:"issue,omitempty"`
}

// AuthRefreshParams contains parameters for a credential reload.
type AuthRefreshParams struct{}

// AuthRefreshResult reports whether the driver picked up fresh credentials.
type AuthRefreshResult struct {
	Changed bool `json:"changed"`
}

// Validation methods

// Validate checks if the message type is valid.
func (mt MessageType) Validate() error {
	switch mt {
	case MessageTypeReady, MessageTypeCommand, MessageTypeEvent,
		MessageTypeDone, MessageTypeError, MessageTypeExit:
		return nil
	default:
		return fmt.Errorf("invalid message type: %s", mt)
	}
}

// Validate checks if the command type is valid.
func (ct CommandType) Validate() error {
	switch ct {
	case CommandTypeNavigate, CommandTypeWaitSelector, CommandTypeClick,
		CommandTypeFill, CommandTypeScreenshot, CommandTypeCurrentURL,
		CommandTypeAuthStatus, CommandTypeAuthRefresh:
		return nil
	default:
		return fmt.Errorf("invalid command type: %s", ct)
	}
}

// Validate checks if the command message is valid.
func (cmd *CommandMessage) Validate() error {
	if cmd.ID == "" {
		return fmt.Errorf("command ID is required")
	}
	if err := cmd.Type.Validate(); err != nil {
		return err
	}
	if cmd.TimeoutMS <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if len(cmd.Params) == 0 {
		return fmt.Errorf("command params are required")
	}
	return nil
}

// Validate checks if the event message is valid.
func (evt *EventMessage) Validate() error {
	if evt.CommandID == "" {
		return fmt.Errorf("command ID is required")
	}
	if evt.Level == "" {
		evt.Level = "info"
	}
	validLevels := map[string]bool{"info": true, "warn": true, "debug": true}
	if !validLevels[evt.Level] {
		return fmt.Errorf("invalid event level: %s", evt.Level)
	}
	return nil
}
