// Package mcp provides the client side of the MCP protocol: message framing,
// the stdio, SSE and streamable HTTP transports, and a Client that correlates
// requests with responses over any of them.
package mcp

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// Transport is the interface for MCP transports.
//
// A transport publishes inbound traffic on three channels. Messages and Errors
// are unbuffered and every send also selects on Done, so once Close returns
// nothing attributable to the transport is delivered any more.
type Transport interface {
	// Connect opens the underlying I/O channel.
	Connect(ctx context.Context) error
	// Send writes one envelope.
	Send(ctx context.Context, env *Envelope) error
	// Close tears the transport down. It is idempotent.
	Close() error
	// IsConnected reports whether the transport is usable for Send.
	IsConnected() bool

	Messages() <-chan *Envelope
	Errors() <-chan error
	// Done is closed when the transport ends, by Close or by a terminal failure.
	Done() <-chan struct{}
	// Err returns the terminal failure, or nil after an explicit Close.
	Err() error
}

// TransportKind names a remote carrier.
type TransportKind string

const (
	TransportStdio          TransportKind = "stdio"
	TransportSSE            TransportKind = "sse"
	TransportStreamableHTTP TransportKind = "http"
)

// emitter implements the outbound channel half of Transport.
type emitter struct {
	msgs chan *Envelope
	errs chan error
	done chan struct{}

	once      sync.Once
	mu        sync.Mutex
	err       error
	connected atomic.Bool
}

func newEmitter() emitter {
	return emitter{
		msgs: make(chan *Envelope),
		errs: make(chan error),
		done: make(chan struct{}),
	}
}

func (e *emitter) Messages() <-chan *Envelope { return e.msgs }
func (e *emitter) Errors() <-chan error       { return e.errs }
func (e *emitter) Done() <-chan struct{}      { return e.done }
func (e *emitter) IsConnected() bool          { return e.connected.Load() }

func (e *emitter) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// emitMessage blocks until the consumer takes env or the transport ends.
func (e *emitter) emitMessage(env *Envelope) bool {
	select {
	case <-e.done:
		return false
	default:
	}
	select {
	case e.msgs <- env:
		return true
	case <-e.done:
		return false
	}
}

func (e *emitter) emitError(err error) bool {
	select {
	case <-e.done:
		return false
	default:
	}
	select {
	case e.errs <- err:
		return true
	case <-e.done:
		return false
	}
}

// finish closes Done exactly once and records the cause. It reports whether
// this call was the one that closed it.
func (e *emitter) finish(err error) bool {
	first := false
	e.once.Do(func() {
		e.mu.Lock()
		e.err = err
		e.mu.Unlock()
		e.connected.Store(false)
		close(e.done)
		first = true
	})
	return first
}

func (e *emitter) finished() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// frameWriter serializes frame writes to a byte stream. A write runs on its
// own goroutine so that the caller can give up on a peer that stopped
// reading; the abandoned write keeps the stream until it completes or the
// stream is closed, so frames never interleave.
type frameWriter struct {
	w   io.Writer
	sem chan struct{}
}

func newFrameWriter(w io.Writer) *frameWriter {
	return &frameWriter{w: w, sem: make(chan struct{}, 1)}
}

// write sends frame, returning early with ctx's error or ErrClosed once done
// is closed.
func (fw *frameWriter) write(ctx context.Context, done <-chan struct{}, frame []byte) error {
	select {
	case fw.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return ErrClosed
	}

	result := make(chan error, 1)
	go func() {
		defer func() { <-fw.sem }()
		_, err := fw.w.Write(frame)
		result <- err
	}()

	select {
	case err := <-result:
		if err != nil {
			return &TransportError{Category: CategoryConnectionLost, Err: fmt.Errorf("write message: %w", err)}
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return ErrClosed
	}
}
