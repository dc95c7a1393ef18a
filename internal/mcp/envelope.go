package mcp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// JSON-RPC 2.0 error codes.
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

const jsonrpcVersion = "2.0"

// ErrInvalidPayload is returned by Decode for bytes that are not a JSON object.
var ErrInvalidPayload = errors.New("invalid payload")

// Kind identifies which member of the envelope union a message is.
type Kind int

const (
	KindRequest Kind = iota
	KindResponse
	KindNotification
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindNotification:
		return "notification"
	default:
		return "unknown"
	}
}

// ID is a JSON-RPC request identifier. Servers may echo numbers or strings.
type ID struct {
	num   int64
	str   string
	isStr bool
}

// NumberID returns a numeric ID.
func NumberID(n int64) ID { return ID{num: n} }

// StringID returns a string ID.
func StringID(s string) ID { return ID{str: s, isStr: true} }

// IsString reports whether the ID was a JSON string.
func (id ID) IsString() bool { return id.isStr }

// Number returns the numeric value; zero for string IDs.
func (id ID) Number() int64 { return id.num }

// String returns a printable form that is also unique across both kinds.
func (id ID) String() string {
	if id.isStr {
		return strconv.Quote(id.str)
	}
	return strconv.FormatInt(id.num, 10)
}

// MarshalJSON implements json.Marshaler.
func (id ID) MarshalJSON() ([]byte, error) {
	if id.isStr {
		return json.Marshal(id.str)
	}
	return []byte(strconv.FormatInt(id.num, 10)), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = StringID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	v, err := n.Int64()
	if err != nil {
		return fmt.Errorf("id must be an integer: %w", err)
	}
	*id = NumberID(v)
	return nil
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// NewRPCError creates a new RPC error with optional data.
func NewRPCError(code int, message string, data any) *RPCError {
	err := &RPCError{
		Code:    code,
		Message: message,
	}
	if data != nil {
		if dataBytes, jsonErr := json.Marshal(data); jsonErr == nil {
			err.Data = dataBytes
		}
	}
	return err
}

// Envelope is one protocol message: a request, a response or a notification.
type Envelope struct {
	Kind   Kind
	ID     *ID
	Method string
	Params json.RawMessage
	Result json.RawMessage
	Error  *RPCError
}

// NewRequest builds a request envelope, marshaling params when non-nil.
func NewRequest(id ID, method string, params any) (*Envelope, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Envelope{Kind: KindRequest, ID: &id, Method: method, Params: raw}, nil
}

// NewNotification builds a notification envelope.
func NewNotification(method string, params any) (*Envelope, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Envelope{Kind: KindNotification, Method: method, Params: raw}, nil
}

// NewResult builds a successful response envelope.
func NewResult(id ID, result any) (*Envelope, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return &Envelope{Kind: KindResponse, ID: &id, Result: raw}, nil
}

// NewErrorResponse builds an error response envelope.
func NewErrorResponse(id ID, rpcErr *RPCError) *Envelope {
	return &Envelope{Kind: KindResponse, ID: &id, Error: rpcErr}
}

func marshalParams(params any) (json.RawMessage, error) {
	switch p := params.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	return raw, nil
}

// wireMessage is the JSON shape of every envelope kind.
type wireMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *ID             `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// Encode serializes an envelope to JSON bytes.
func Encode(env *Envelope) ([]byte, error) {
	if env == nil {
		return nil, errors.New("encode: nil envelope")
	}
	msg := wireMessage{JSONRPC: jsonrpcVersion}
	switch env.Kind {
	case KindRequest:
		if env.ID == nil {
			return nil, errors.New("encode: request without id")
		}
		if env.Method == "" {
			return nil, errors.New("encode: request without method")
		}
		msg.ID, msg.Method, msg.Params = env.ID, env.Method, env.Params
	case KindNotification:
		if env.Method == "" {
			return nil, errors.New("encode: notification without method")
		}
		msg.Method, msg.Params = env.Method, env.Params
	case KindResponse:
		msg.ID = env.ID
		if env.Error != nil {
			msg.Error = env.Error
		} else {
			msg.Result = env.Result
			if msg.Result == nil {
				msg.Result = json.RawMessage("null")
			}
		}
	default:
		return nil, fmt.Errorf("encode: unknown envelope kind %d", env.Kind)
	}
	return json.Marshal(msg)
}

// Decode parses JSON bytes into an envelope. Any JSON object is accepted; an
// object without a method is treated as a response even when it has no id, so
// the caller can drop it as unmatched.
func Decode(data []byte) (*Envelope, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: not a JSON object", ErrInvalidPayload)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	env := &Envelope{}
	if raw, ok := fields["id"]; ok && !isNull(raw) {
		var id ID
		if err := json.Unmarshal(raw, &id); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		env.ID = &id
	}
	if raw, ok := fields["method"]; ok {
		if err := json.Unmarshal(raw, &env.Method); err != nil {
			return nil, fmt.Errorf("%w: method: %v", ErrInvalidPayload, err)
		}
	}
	if raw, ok := fields["params"]; ok {
		env.Params = raw
	}

	switch {
	case env.Method != "" && env.ID != nil:
		env.Kind = KindRequest
	case env.Method != "":
		env.Kind = KindNotification
	default:
		env.Kind = KindResponse
		if raw, ok := fields["error"]; ok && !isNull(raw) {
			var rpcErr RPCError
			if err := json.Unmarshal(raw, &rpcErr); err != nil {
				return nil, fmt.Errorf("%w: error: %v", ErrInvalidPayload, err)
			}
			env.Error = &rpcErr
		} else if raw, ok := fields["result"]; ok {
			env.Result = raw
		}
	}
	return env, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
