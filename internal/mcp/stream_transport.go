package mcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// pumpFrames feeds r through f and emits every envelope and framing error.
// It returns false if the transport ended first, otherwise the error that
// ended the stream.
func pumpFrames(e *emitter, r io.Reader, f *Framer, logger *slog.Logger) (bool, error) {
	buf := make([]byte, readChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			envs, errs := f.Feed(buf[:n])
			for _, ferr := range errs {
				logger.Warn("framing error", "err", ferr)
				if !e.emitError(ferr) {
					return false, nil
				}
			}
			for _, env := range envs {
				if !e.emitMessage(env) {
					return false, nil
				}
			}
		}
		if err != nil {
			return true, err
		}
	}
}

// StreamTransport implements Transport over an arbitrary byte stream pair,
// such as an in-process pipe or a socket, using the stdio framing.
type StreamTransport struct {
	emitter

	r       io.ReadCloser
	w       io.WriteCloser
	writer  *frameWriter
	framing FramingMode
	framer  *Framer
	logger  *slog.Logger

	mu      sync.Mutex
	started bool
	closing bool
	wg      sync.WaitGroup
}

// NewStreamTransport reads frames from r and writes frames to w.
func NewStreamTransport(r io.ReadCloser, w io.WriteCloser, mode FramingMode, limits FramerLimits, logger *slog.Logger) *StreamTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamTransport{
		emitter: newEmitter(),
		r:       r,
		w:       w,
		writer:  newFrameWriter(w),
		framing: mode,
		framer:  NewFramer(mode, limits),
		logger:  logger.With("transport", "stream"),
	}
}

// Connect starts reading from the stream.
func (t *StreamTransport) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closing || t.finished() {
		return ErrClosed
	}
	if t.started {
		return errors.New("stream transport already connected")
	}
	t.started = true
	t.connected.Store(true)
	t.wg.Add(1)
	go t.readLoop()
	return nil
}

// Send frames and writes one envelope. A write the peer is not reading
// returns when ctx ends or the transport closes.
func (t *StreamTransport) Send(ctx context.Context, env *Envelope) error {
	t.mu.Lock()
	closing, started := t.closing, t.started
	t.mu.Unlock()
	if closing || t.finished() {
		return ErrClosed
	}
	if !started {
		return ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := Encode(env)
	if err != nil {
		return err
	}
	t.logger.Debug("send", "payload", string(payload))

	return t.writer.write(ctx, t.Done(), EncodeFrame(t.framing, payload))
}

func (t *StreamTransport) readLoop() {
	defer t.wg.Done()

	alive, err := pumpFrames(&t.emitter, t.r, t.framer, t.logger)
	if !alive {
		return
	}

	t.mu.Lock()
	closing := t.closing
	t.mu.Unlock()
	if closing {
		return
	}

	msg := "stream closed by peer"
	if err != nil && !errors.Is(err, io.EOF) {
		msg = fmt.Sprintf("stream read failed: %v", err)
	}
	t.finish(&Error{Category: CategoryConnectionLost, Op: "read", Message: msg, Err: io.ErrUnexpectedEOF})
}

// Close closes both halves of the stream and waits for the reader.
func (t *StreamTransport) Close() error {
	t.mu.Lock()
	if t.closing {
		t.mu.Unlock()
		return nil
	}
	t.closing = true
	t.mu.Unlock()

	t.finish(nil)
	werr := t.w.Close()
	rerr := t.r.Close()
	t.wg.Wait()
	if err := errors.Join(werr, rerr); err != nil {
		return &TransportError{Category: CategoryShutdownError, Err: err}
	}
	return nil
}
