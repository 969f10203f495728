// Package rpc is the WebSocket JSON front end. Each text frame carries one
// request envelope; responses echo the request id and may arrive out of order.
package rpc

import (
	"encoding/json"
	"errors"
)

// Protocol labels requests served here in metrics and upload history.
const Protocol = "ws"

// Path is the HTTP path the WebSocket endpoint is mounted on.
const Path = "/rpc"

// Methods.
const (
	MethodUpload       = "Upload"
	MethodCount        = "Count"
	MethodGetByID      = "GetByID"
	MethodExecuteQuery = "ExecuteQuery"
)

// ErrServerBusy is reported when the request queue is full.
var ErrServerBusy = errors.New("server busy")

// Request is the envelope sent by clients.
type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response carries either Result or Error.
type Response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

type UploadParams struct {
	XMLData string `json:"xml_data"`
	XSDData string `json:"xsd_data,omitempty"`
}

type UploadResult struct {
	OK       bool   `json:"ok"`
	Message  string `json:"message"`
	Records  int    `json:"records,omitempty"`
	UploadID string `json:"upload_id,omitempty"`
}

type CountResult struct {
	Count int `json:"count"`
}

type GetByIDParams struct {
	ID int `json:"id"`
}

type GetByIDResult struct {
	Text string `json:"text"`
}

type ExecuteQueryParams struct {
	Query string `json:"query"`
}

// ExecuteQueryResult holds node values in document order, or a single scalar
// or error string; Kind tells which.
type ExecuteQueryResult struct {
	Results []string `json:"results"`
	Kind    string   `json:"kind"`
}

// RemoteError is an error reported by the server in a response envelope.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string { return "rpc: " + e.Message }
