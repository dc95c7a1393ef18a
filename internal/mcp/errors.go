package mcp

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

var (
	// ErrClosed is returned when operating on a closed transport or client.
	ErrClosed = errors.New("connection closed")
	// ErrNotConnected is returned when a request is made before Connect succeeded.
	ErrNotConnected = errors.New("not connected")
	// ErrRequestTimeout is returned when a request's deadline passes without a response.
	ErrRequestTimeout = errors.New("request timed out")
)

// Category classifies transport-level failures.
type Category string

const (
	CategoryInvalidPayload    Category = "invalid_payload"
	CategoryBufferOverflow    Category = "buffer_overflow"
	CategoryConnectionRefused Category = "connection_refused"
	CategoryConnectionLost    Category = "connection_lost"
	CategoryProtocolViolation Category = "protocol_violation"
	CategoryTimeout           Category = "timeout"
	CategoryShutdownError     Category = "shutdown_error"
	CategoryUnknown           Category = "unknown"
)

// LikelyServerBug reports whether failures of this category usually point at
// the server rather than the environment.
func (c Category) LikelyServerBug() bool {
	switch c {
	case CategoryInvalidPayload, CategoryBufferOverflow, CategoryProtocolViolation:
		return true
	default:
		return false
	}
}

// TransportError is emitted on a transport's error channel.
type TransportError struct {
	Category Category
	// Fatal means the transport discarded local state (buffers, stream) to recover.
	Fatal bool
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Category, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func newTransportError(cat Category, fatal bool, format string, args ...any) *TransportError {
	return &TransportError{Category: cat, Fatal: fatal, Err: fmt.Errorf(format, args...)}
}

// Error is the failure type callers of Client receive. It never exposes a bare
// I/O error: the message carries the category and, when available, a
// diagnostic explanation of why the peer failed.
type Error struct {
	Category        Category
	Op              string
	Message         string
	LikelyServerBug bool
	Diagnostics     string
	Err             error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Diagnostics != "" {
		b.WriteString("\n")
		b.WriteString(e.Diagnostics)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// patternGroup is one entry of the ordered classification table.
type patternGroup struct {
	category Category
	patterns []string
}

// classificationTable is matched in order; the first group with a matching
// substring wins.
var classificationTable = []patternGroup{
	{CategoryInvalidPayload, []string{
		"invalid payload", "invalid json", "unexpected token", "invalid character",
		"cannot unmarshal", "unexpected end of json", "not a json object",
	}},
	{CategoryBufferOverflow, []string{
		"buffer overflow", "exceeds maximum", "too large", "buffer limit", "message size",
	}},
	{CategoryConnectionRefused, []string{
		"connection refused", "econnrefused", "no such host", "executable file not found",
		"no such file or directory", "permission denied", "enoent", "eacces",
		"unauthorized", "forbidden", "insecure url", "unexpected status",
	}},
	{CategoryConnectionLost, []string{
		"connection reset", "broken pipe", "epipe", "econnreset", "unexpected eof",
		"connection lost", "process exited", "stream closed", "closed pipe", "eof",
	}},
	{CategoryProtocolViolation, []string{
		"protocol", "content-length", "header", "jsonrpc", "unexpected response", "session expired",
	}},
	{CategoryTimeout, []string{
		"timeout", "timed out", "deadline exceeded", "etimedout",
	}},
	{CategoryShutdownError, []string{
		"shutdown", "signal: killed", "sigkill", "sigterm", "already closed",
	}},
}

// Classify maps an error to a category by matching its message against the
// ordered pattern table. Errors that already carry a category keep it.
func Classify(err error) Category {
	if err == nil {
		return CategoryUnknown
	}
	var te *TransportError
	if errors.As(err, &te) {
		return te.Category
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Category
	}
	msg := strings.ToLower(err.Error())
	for _, group := range classificationTable {
		for _, p := range group.patterns {
			if strings.Contains(msg, p) {
				return group.category
			}
		}
	}
	return CategoryUnknown
}

// TransportErrorRecord is one entry of the client's post-mortem error log.
type TransportErrorRecord struct {
	Timestamp       time.Time
	Category        Category
	Message         string
	RawError        error
	Operation       string
	LikelyServerBug bool
}

// DefaultErrorLogCap is the default number of records kept by an ErrorLog.
const DefaultErrorLogCap = 100

// ErrorLog is an append-only, capped collection of TransportErrorRecords.
// When full the oldest record is evicted.
type ErrorLog struct {
	mu      sync.Mutex
	cap     int
	records []TransportErrorRecord
}

// NewErrorLog returns a log holding at most capacity records.
func NewErrorLog(capacity int) *ErrorLog {
	if capacity <= 0 {
		capacity = DefaultErrorLogCap
	}
	return &ErrorLog{cap: capacity}
}

// Record classifies err and appends a record.
func (l *ErrorLog) Record(op string, err error) TransportErrorRecord {
	cat := Classify(err)
	rec := TransportErrorRecord{
		Timestamp:       time.Now(),
		Category:        cat,
		Message:         err.Error(),
		RawError:        err,
		Operation:       op,
		LikelyServerBug: cat.LikelyServerBug(),
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.records) >= l.cap {
		l.records = append(l.records[:0:0], l.records[1:]...)
	}
	l.records = append(l.records, rec)
	return rec
}

// Records returns a copy of the log.
func (l *ErrorLog) Records() []TransportErrorRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]TransportErrorRecord, len(l.records))
	copy(out, l.records)
	return out
}
