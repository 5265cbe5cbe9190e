// Package wire defines the JSON envelope exchanged with agent worker
// processes over stdin/stdout: exactly one ActionRequest written to a
// child's stdin, exactly one ActionResponse read back from its stdout.
package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ActionRequest is written to an agent's stdin, then stdin is closed.
type ActionRequest struct {
	RequestID     string          `json:"request_id"`
	APIVersion    *string         `json:"api_version"`
	Tool          string          `json:"tool"`
	Action        string          `json:"action"`
	Context       string          `json:"context"`
	PlanID        *string         `json:"plan_id"`
	TaskID        *string         `json:"task_id"`
	CorrelationID *string         `json:"correlation_id"`
	Payload       json.RawMessage `json:"payload"`
}

// ActionResult carries an agent's opaque success payload.
type ActionResult struct {
	OutputType string          `json:"output_type"`
	Data       string          `json:"data"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

// ActionError is the structured error payload an agent returns when
// status != "success". RawOutput preserves the agent's unparsed stdout
// for diagnostics when the failure happened after some output was
// already produced.
type ActionError struct {
	Code      int     `json:"code"`
	Message   string  `json:"message"`
	Detail    string  `json:"detail"`
	RawOutput *string `json:"raw_output,omitempty"`
}

// ActionResponse is read from an agent's stdout: exactly one JSON object,
// followed by process exit. Trailing whitespace is tolerated; additional
// JSON values are not.
type ActionResponse struct {
	RequestID     string          `json:"request_id"`
	APIVersion    *string         `json:"api_version"`
	Status        string          `json:"status"`
	Code          int             `json:"code"`
	Result        *ActionResult   `json:"result"`
	Error         *ActionError    `json:"error"`
	PlanID        *string         `json:"plan_id"`
	TaskID        *string         `json:"task_id"`
	CorrelationID *string         `json:"correlation_id"`
}

// Success reports whether the response counts as a successful attempt:
// status must be exactly "success" AND code must be exactly 0. A response
// with status "success" and a non-zero code is a failure classified by
// its code (open question in the design notes, resolved this way).
func (r *ActionResponse) Success() bool {
	return r != nil && r.Status == "success" && r.Code == 0
}

// ErrDuplicateJSON is returned when an agent emits more than one JSON
// value on stdout; only a single ActionResponse per invocation is valid.
var ErrDuplicateJSON = errors.New("wire: agent emitted more than one JSON value")

// ParseResponse decodes exactly one ActionResponse from raw agent stdout,
// tolerating trailing whitespace but rejecting a second JSON value and
// rejecting responses missing required fields.
func ParseResponse(raw []byte) (*ActionResponse, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	var resp ActionResponse
	if err := dec.Decode(&resp); err != nil {
		return nil, fmt.Errorf("wire: decode agent response: %w", err)
	}
	if dec.More() {
		return nil, ErrDuplicateJSON
	}
	if resp.RequestID == "" {
		return nil, errors.New("wire: response missing request_id")
	}
	if resp.Status == "" {
		return nil, errors.New("wire: response missing status")
	}
	return &resp, nil
}
