// Package events provides the event system for mcpwire connections.
package events

import (
	"encoding/json"
	"time"
)

// ConnectionState is the lifecycle state of one client connection.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateClosing
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// transitions lists the legal successors of each state. Closed is terminal.
var transitions = map[ConnectionState][]ConnectionState{
	StateDisconnected: {StateConnecting, StateClosing, StateClosed},
	StateConnecting:   {StateConnected, StateClosing},
	StateConnected:    {StateClosing},
	StateClosing:      {StateClosed},
}

// CanTransition reports whether from -> to is a legal state change.
func CanTransition(from, to ConnectionState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsActive returns true if the connection is open or transitioning.
func (s ConnectionState) IsActive() bool {
	return s == StateConnecting || s == StateConnected || s == StateClosing
}

// McpTool represents a tool exposed by an MCP server.
type McpTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// EventType identifies the kind of event.
type EventType int

const (
	EventStateChanged EventType = iota
	EventLogReceived
	EventToolsUpdated
	EventTransportError
	EventNotification
)

func (e EventType) String() string {
	switch e {
	case EventStateChanged:
		return "state_changed"
	case EventLogReceived:
		return "log_received"
	case EventToolsUpdated:
		return "tools_updated"
	case EventTransportError:
		return "transport_error"
	case EventNotification:
		return "notification"
	default:
		return "unknown"
	}
}

// Event is the base interface for all events.
type Event interface {
	Type() EventType
	ConnectionID() string
	Timestamp() time.Time
}

// baseEvent provides common fields for all events.
type baseEvent struct {
	connectionID string
	timestamp    time.Time
}

func newBase(connectionID string) baseEvent {
	return baseEvent{connectionID: connectionID, timestamp: time.Now()}
}

func (e baseEvent) ConnectionID() string { return e.connectionID }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

// StateChangedEvent is emitted on every connection state transition.
type StateChangedEvent struct {
	baseEvent
	OldState ConnectionState
	NewState ConnectionState
	// Reason is set when the transition was caused by a failure.
	Reason string
}

func (e StateChangedEvent) Type() EventType { return EventStateChanged }

// NewStateChangedEvent creates a new state changed event.
func NewStateChangedEvent(connectionID string, oldState, newState ConnectionState, reason string) StateChangedEvent {
	return StateChangedEvent{
		baseEvent: newBase(connectionID),
		OldState:  oldState,
		NewState:  newState,
		Reason:    reason,
	}
}

// LogReceivedEvent is emitted when stderr output is received from a server.
type LogReceivedEvent struct {
	baseEvent
	Line string
}

func (e LogReceivedEvent) Type() EventType { return EventLogReceived }

// NewLogReceivedEvent creates a new log received event.
func NewLogReceivedEvent(connectionID, line string) LogReceivedEvent {
	return LogReceivedEvent{baseEvent: newBase(connectionID), Line: line}
}

// ToolsUpdatedEvent is emitted when a tool listing completes.
type ToolsUpdatedEvent struct {
	baseEvent
	Tools []McpTool
}

func (e ToolsUpdatedEvent) Type() EventType { return EventToolsUpdated }

// NewToolsUpdatedEvent creates a new tools updated event.
func NewToolsUpdatedEvent(connectionID string, tools []McpTool) ToolsUpdatedEvent {
	return ToolsUpdatedEvent{baseEvent: newBase(connectionID), Tools: tools}
}

// TransportErrorEvent mirrors one record of the client's transport error log.
type TransportErrorEvent struct {
	baseEvent
	Category        string
	Operation       string
	Message         string
	LikelyServerBug bool
}

func (e TransportErrorEvent) Type() EventType { return EventTransportError }

// NewTransportErrorEvent creates a new transport error event.
func NewTransportErrorEvent(connectionID, category, operation, message string, likelyServerBug bool) TransportErrorEvent {
	return TransportErrorEvent{
		baseEvent:       newBase(connectionID),
		Category:        category,
		Operation:       operation,
		Message:         message,
		LikelyServerBug: likelyServerBug,
	}
}

// NotificationEvent carries a server-initiated notification.
type NotificationEvent struct {
	baseEvent
	Method string
	Params json.RawMessage
}

func (e NotificationEvent) Type() EventType { return EventNotification }

// NewNotificationEvent creates a new notification event.
func NewNotificationEvent(connectionID, method string, params json.RawMessage) NotificationEvent {
	return NotificationEvent{baseEvent: newBase(connectionID), Method: method, Params: params}
}
