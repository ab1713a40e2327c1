// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package jsonrpc implements the JSON-RPC 2.0 envelope used on the wire
// between the execution engine and provider instances.
package jsonrpc

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Version is the JSON-RPC protocol version this package produces.
const Version = "2.0"

var (
	// ErrInvalidMessage is returned when a message cannot be parsed or is
	// missing a required field for its role.
	ErrInvalidMessage = errors.New("jsonrpc: invalid message")

	// ErrMissingID is returned when a request or response lacks an id.
	ErrMissingID = errors.New("jsonrpc: missing id")
)

// Standard JSON-RPC 2.0 error codes, plus the Gleitzeit-specific range
// (-32000 to -32099) reserved for implementation-defined server errors.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	CodeProviderUnavailable = -32000
	CodeProviderTimeout     = -32001
	CodeCircuitOpen         = -32002
)

// Request is a JSON-RPC 2.0 request object.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      string          `json:"id"`
}

// Response is a JSON-RPC 2.0 response object. Exactly one of Result or
// Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      string          `json:"id"`
}

// Error is a JSON-RPC 2.0 error object. Data carries a "kind" field that
// maps to the Gleitzeit error taxonomy (pkg/errors) so callers can classify
// the failure without parsing Message.
type Error struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Kind returns the "kind" field of Data, if present, for error
// classification by callers that don't want to switch on Code.
func (e *Error) Kind() string {
	if e.Data == nil {
		return ""
	}
	k, _ := e.Data["kind"].(string)
	return k
}

// NewRequest builds a request with a generated id and marshalled params.
func NewRequest(method string, params any) (*Request, error) {
	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		raw = data
	}
	return &Request{
		JSONRPC: Version,
		Method:  method,
		Params:  raw,
		ID:      uuid.New().String(),
	}, nil
}

// NewResponse builds a success response for the given request id.
func NewResponse(id string, result any) (*Response, error) {
	var raw json.RawMessage
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("marshal result: %w", err)
		}
		raw = data
	}
	return &Response{JSONRPC: Version, Result: raw, ID: id}, nil
}

// NewErrorResponse builds an error response for the given request id.
func NewErrorResponse(id string, code int, message, kind string) *Response {
	var data map[string]any
	if kind != "" {
		data = map[string]any{"kind": kind}
	}
	return &Response{
		JSONRPC: Version,
		ID:      id,
		Error:   &Error{Code: code, Message: message, Data: data},
	}
}

// Validate checks that a request is well-formed.
func (r *Request) Validate() error {
	if r.JSONRPC != Version {
		return fmt.Errorf("%w: unsupported jsonrpc version %q", ErrInvalidMessage, r.JSONRPC)
	}
	if r.Method == "" {
		return fmt.Errorf("%w: missing method", ErrInvalidMessage)
	}
	if r.ID == "" {
		return ErrMissingID
	}
	return nil
}

// Validate checks that a response carries exactly one of result/error.
func (r *Response) Validate() error {
	if r.JSONRPC != Version {
		return fmt.Errorf("%w: unsupported jsonrpc version %q", ErrInvalidMessage, r.JSONRPC)
	}
	if r.ID == "" {
		return ErrMissingID
	}
	if (r.Result == nil) == (r.Error == nil) {
		return fmt.Errorf("%w: response must carry exactly one of result or error", ErrInvalidMessage)
	}
	return nil
}

// UnmarshalParams decodes the request's params into v.
func (r *Request) UnmarshalParams(v any) error {
	if r.Params == nil {
		return nil
	}
	return json.Unmarshal(r.Params, v)
}

// UnmarshalResult decodes the response's result into v.
func (r *Response) UnmarshalResult(v any) error {
	if r.Result == nil {
		return nil
	}
	return json.Unmarshal(r.Result, v)
}

// Marshal encodes a request to JSON.
func (r *Request) Marshal() ([]byte, error) { return json.Marshal(r) }

// Marshal encodes a response to JSON.
func (r *Response) Marshal() ([]byte, error) { return json.Marshal(r) }

// ParseRequest parses a JSON request and validates it.
func ParseRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &req, nil
}

// ParseResponse parses a JSON response and validates it.
func ParseResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := resp.Validate(); err != nil {
		return nil, err
	}
	return &resp, nil
}
