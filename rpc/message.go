package rpc

import (
	"encoding/json"

	"github.com/wippyai/lightbridge/errors"
)

// Version is the only JSON-RPC protocol version accepted.
const Version = "2.0"

// JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeEngineError    = -32000
	CodeDuplicateID    = -32001
	CodeSessionEnded   = -32002
)

// nullID is the id of responses to requests whose id could not be read.
var nullID = json.RawMessage("null")

// Request is an inbound JSON-RPC request object.
type Request struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is an outbound JSON-RPC response object.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

// Notification is an outbound subscription event.
type Notification struct {
	JSONRPC string             `json:"jsonrpc"`
	Method  string             `json:"method"`
	Params  NotificationParams `json:"params"`
}

// NotificationParams tags an event with its subscription id.
type NotificationParams struct {
	Subscription string          `json:"subscription"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        *ErrorObject    `json:"error,omitempty"`
}

// ErrorObject is the error member of a response.
type ErrorObject struct {
	Data    any    `json:"data,omitempty"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func (e *ErrorObject) Error() string {
	return e.Message
}

// ErrorFrom maps an error to its JSON-RPC representation.
func ErrorFrom(err error) *ErrorObject {
	if obj, ok := err.(*ErrorObject); ok {
		return obj
	}
	msg := err.Error()
	if e, ok := err.(*errors.Error); ok && e.Detail != "" {
		msg = e.Detail
		if e.Cause != nil {
			msg += ": " + e.Cause.Error()
		}
	}

	code := CodeEngineError
	switch errors.KindOf(err) {
	case errors.KindInvalidInput:
		code = CodeInvalidParams
	case errors.KindMalformedRequest:
		code = CodeInvalidRequest
	case errors.KindUnsupported:
		code = CodeMethodNotFound
	case errors.KindClosed:
		code = CodeSessionEnded
	}
	return &ErrorObject{Code: code, Message: msg}
}

func newError(code int, msg string) *ErrorObject {
	return &ErrorObject{Code: code, Message: msg}
}

// validID reports whether raw is a string, number or null.
func validID(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	switch c := raw[0]; {
	case c == '"', c == '-', c >= '0' && c <= '9':
		return true
	default:
		return string(raw) == "null"
	}
}

// validParams reports whether raw is absent, an array or an object.
func validParams(raw json.RawMessage) bool {
	if len(raw) == 0 || string(raw) == "null" {
		return true
	}
	return raw[0] == '[' || raw[0] == '{'
}
