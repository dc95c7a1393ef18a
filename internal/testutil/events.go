// Package testutil provides common test utilities.
package testutil

import (
	"slices"
	"sync"
	"time"

	"github.com/Bigsy/mcpwire/internal/events"
)

// EventCollector is a thread-safe event collector for test assertions.
// Subscribe it to an event bus and then query collected events.
type EventCollector struct {
	mu     sync.Mutex
	events []events.Event
	states map[string][]events.ConnectionState
	tools  map[string][]events.McpTool
	cond   *sync.Cond
}

// NewEventCollector creates a new EventCollector.
func NewEventCollector() *EventCollector {
	ec := &EventCollector{
		states: make(map[string][]events.ConnectionState),
		tools:  make(map[string][]events.McpTool),
	}
	ec.cond = sync.NewCond(&ec.mu)
	return ec
}

// Handler returns a function suitable for bus.Subscribe().
func (c *EventCollector) Handler(e events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.events = append(c.events, e)

	switch evt := e.(type) {
	case events.StateChangedEvent:
		c.states[evt.ConnectionID()] = append(c.states[evt.ConnectionID()], evt.NewState)
	case events.ToolsUpdatedEvent:
		c.tools[evt.ConnectionID()] = evt.Tools
	}

	c.cond.Broadcast()
}

// Events returns all collected events.
func (c *EventCollector) Events() []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.events)
}

// OfType returns the collected events of type t, in arrival order.
func (c *EventCollector) OfType(t events.EventType) []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []events.Event
	for _, e := range c.events {
		if e.Type() == t {
			out = append(out, e)
		}
	}
	return out
}

// StatesFor returns all states observed for a connection.
func (c *EventCollector) StatesFor(connID string) []events.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.states[connID])
}

// LastStateFor returns the most recent state for a connection.
// Returns StateDisconnected if no states have been observed.
func (c *EventCollector) LastStateFor(connID string) events.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	states := c.states[connID]
	if len(states) == 0 {
		return events.StateDisconnected
	}
	return states[len(states)-1]
}

// ToolsFor returns the most recent tools for a connection, or nil.
func (c *EventCollector) ToolsFor(connID string) []events.McpTool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.tools[connID])
}

// WaitForState blocks until the state is observed or timeout expires.
func (c *EventCollector) WaitForState(connID string, state events.ConnectionState, timeout time.Duration) bool {
	return c.waitFor(timeout, func() bool {
		return slices.Contains(c.states[connID], state)
	})
}

// WaitForEvent blocks until an event of type t has been collected or timeout expires.
func (c *EventCollector) WaitForEvent(t events.EventType, timeout time.Duration) bool {
	return c.waitFor(timeout, func() bool {
		return slices.ContainsFunc(c.events, func(e events.Event) bool { return e.Type() == t })
	})
}

// waitFor runs cond under the lock after every event until it holds.
func (c *EventCollector) waitFor(timeout time.Duration, cond func() bool) bool {
	expired := false
	timer := time.AfterFunc(timeout, func() {
		c.mu.Lock()
		expired = true
		c.mu.Unlock()
		c.cond.Broadcast()
	})
	defer timer.Stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		if cond() {
			return true
		}
		if expired {
			return false
		}
		c.cond.Wait()
	}
}

// Clear resets the collector's state.
func (c *EventCollector) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
	c.states = make(map[string][]events.ConnectionState)
	c.tools = make(map[string][]events.McpTool)
}

// StatesContainSequence checks if the observed states contain the expected sequence in order.
// The expected sequence doesn't need to be contiguous - there can be other states in between.
func StatesContainSequence(observed, expected []events.ConnectionState) bool {
	if len(expected) == 0 {
		return true
	}

	expectedIdx := 0
	for _, state := range observed {
		if state == expected[expectedIdx] {
			expectedIdx++
			if expectedIdx == len(expected) {
				return true
			}
		}
	}
	return false
}
