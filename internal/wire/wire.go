// Package wire defines the socket RPC message framing: requests
// correlated by callbackId, exactly one response per request, and
// server-pushed event frames.
package wire

import (
	"encoding/json"
	"fmt"
)

// Request is an inbound RPC frame.
type Request struct {
	Operation  string          `json:"operation"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	CallbackID string          `json:"callbackId"`
}

// UnmarshalJSON enforces frame structure: both the operation name and
// the correlation id are required.
func (r *Request) UnmarshalJSON(data []byte) error {
	type raw Request
	var v raw
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if v.Operation == "" {
		return fmt.Errorf("request frame missing operation")
	}
	if v.CallbackID == "" {
		return fmt.Errorf("request frame missing callbackId")
	}
	*r = Request(v)
	return nil
}

// Response is the reply to exactly one Request, matched by CallbackID.
type Response struct {
	CallbackID string          `json:"callbackId"`
	OK         bool            `json:"ok"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// NewResultResponse builds a success response carrying result.
func NewResultResponse(callbackID string, result any) (*Response, error) {
	var raw json.RawMessage
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal result: %w", err)
		}
		raw = data
	}
	return &Response{CallbackID: callbackID, OK: true, Result: raw}, nil
}

// NewErrorResponse builds a failure response with a client-facing
// message.
func NewErrorResponse(callbackID, message string) *Response {
	return &Response{CallbackID: callbackID, Error: message}
}

// Event is a server-pushed notification frame; Event is the topic name
// and Data the serialized event payload.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}
