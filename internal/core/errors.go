package core

import "encoding/json"

// ErrorCode is the stable, caller-visible error taxonomy from the wire
// contract. Every terminal dispatch failure carries exactly one of these.
type ErrorCode string

const (
	ErrValidation         ErrorCode = "ValidationError"
	ErrPlanningFailed     ErrorCode = "PlanningFailed"
	ErrAgentUnavailable   ErrorCode = "AgentUnavailable"
	ErrInvalidRequest     ErrorCode = "InvalidRequest"
	ErrActionNotSupported ErrorCode = "ActionNotSupported"
	ErrTimeout            ErrorCode = "Timeout"
	ErrBackendFailure     ErrorCode = "BackendFailure"
	ErrInternal           ErrorCode = "Internal"
)

// OrchestratorError is the structured error surfaced to the HTTP caller.
type OrchestratorError struct {
	Code    ErrorCode       `json:"code"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details,omitempty"`
}

func (e *OrchestratorError) Error() string {
	if e == nil {
		return ""
	}
	return string(e.Code) + ": " + e.Message
}

// AgentErrorKind classifies a single agent invocation's failure, before it
// is mapped to the caller-visible ErrorCode. Each kind maps onto the
// ErrorCode of the same name, except that io also maps to BackendFailure;
// AgentErrorKind never takes ValidationError, PlanningFailed or
// AgentUnavailable, which only ever originate above the executor.
type AgentErrorKind string

const (
	KindInvalidRequest     AgentErrorKind = "invalid_request"
	KindActionNotSupported AgentErrorKind = "action_not_supported"
	KindTimeout            AgentErrorKind = "timeout"
	KindIO                 AgentErrorKind = "io"
	KindBackendFailure     AgentErrorKind = "backend_failure"
	KindInternal           AgentErrorKind = "internal"
)

// Retryable reports whether an attempt that failed with this kind should
// be retried, per the classification table in the executor design.
func (k AgentErrorKind) Retryable() bool {
	switch k {
	case KindInvalidRequest, KindActionNotSupported:
		return false
	case KindTimeout, KindIO, KindBackendFailure, KindInternal:
		return true
	default:
		return true
	}
}

// ErrorCode maps an AgentErrorKind onto the caller-visible taxonomy.
func (k AgentErrorKind) ErrorCode() ErrorCode {
	switch k {
	case KindInvalidRequest:
		return ErrInvalidRequest
	case KindActionNotSupported:
		return ErrActionNotSupported
	case KindTimeout:
		return ErrTimeout
	case KindIO, KindBackendFailure:
		return ErrBackendFailure
	default:
		return ErrInternal
	}
}

// AgentError is a single attempt's classified failure, recorded on the
// task and eventually surfaced (for the final attempt) to the caller.
type AgentError struct {
	Kind    AgentErrorKind
	Message string
	Raw     string // raw agent output, populated for BackendFailure diagnostics
}

// CodeToKind classifies a numeric agent response code per the executor's
// error classification table (spec §4.2):
//
//	[400,500)  -> InvalidRequest, not retryable
//	501        -> ActionNotSupported, not retryable
//	504        -> Timeout, retryable
//	other != 0 -> BackendFailure, retryable
func CodeToKind(code int) AgentErrorKind {
	switch {
	case code >= 400 && code < 500:
		return KindInvalidRequest
	case code == 501:
		return KindActionNotSupported
	case code == 504:
		return KindTimeout
	default:
		return KindBackendFailure
	}
}
