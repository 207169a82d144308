package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a pipeline failure.
type ErrorKind string

const (
	// KindTransport indicates a fetch or store against a location failed.
	// Retrying is left to the transport's owner; the engine never retries.
	KindTransport ErrorKind = "transport"

	// KindMissingResource indicates a stage read a declared slot that has no value yet.
	KindMissingResource ErrorKind = "missing_resource"

	// KindKeyNotFound indicates a read or write of an undeclared slot.
	// This is a wiring bug in the pipeline definition.
	KindKeyNotFound ErrorKind = "key_not_found"

	// KindNode wraps any failure raised while a node executes.
	KindNode ErrorKind = "node"

	// KindRetryLimit indicates the conditional cycle exceeded its bound.
	KindRetryLimit ErrorKind = "retry_limit"

	// KindRemoteCompute indicates a remote compute call failed or timed out.
	KindRemoteCompute ErrorKind = "remote_compute"

	// KindCancelled indicates the run was cancelled between stages.
	KindCancelled ErrorKind = "cancelled"

	// KindInvalid indicates an illegal node, graph or run configuration.
	KindInvalid ErrorKind = "invalid"
)

// EngineError represents a classified pipeline error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Kind is the error classification.
	Kind ErrorKind `json:"kind"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Node is the node identifier that was executing, if applicable.
	Node string `json:"node,omitempty"`

	// Unit is the unit (slot key) within the node, if applicable.
	Unit string `json:"unit,omitempty"`

	// Key is the resource slot involved, if applicable.
	Key string `json:"key,omitempty"`

	// Location is the resource location involved, if applicable.
	Location string `json:"location,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	var ctx []string
	if e.Node != "" {
		ctx = append(ctx, "node="+e.Node)
	}
	if e.Unit != "" {
		ctx = append(ctx, "unit="+e.Unit)
	}
	if e.Key != "" {
		ctx = append(ctx, "key="+e.Key)
	}
	if e.Location != "" {
		ctx = append(ctx, "location="+e.Location)
	}

	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	if len(ctx) > 0 {
		msg += " (" + strings.Join(ctx, ", ") + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
// A target without a code matches any error of the same kind.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	if e.Kind != t.Kind {
		return false
	}
	return t.Code == "" || e.Code == t.Code
}

// Sentinels for errors.Is checks against a kind.
var (
	ErrTransport       = &EngineError{Kind: KindTransport}
	ErrMissingResource = &EngineError{Kind: KindMissingResource}
	ErrKeyNotFound     = &EngineError{Kind: KindKeyNotFound}
	ErrNode            = &EngineError{Kind: KindNode}
	ErrRetryLimit      = &EngineError{Kind: KindRetryLimit}
	ErrRemoteCompute   = &EngineError{Kind: KindRemoteCompute}
	ErrCancelled       = &EngineError{Kind: KindCancelled}
	ErrInvalid         = &EngineError{Kind: KindInvalid}
)

// NewTransportError creates a transport error for the given operation ("fetch" or "store").
func NewTransportError(op, location string, err error) *EngineError {
	return &EngineError{
		Kind:     KindTransport,
		Message:  fmt.Sprintf("transport %s failed", op),
		Code:     ErrCodeTransportFailed,
		Location: location,
		Err:      err,
	}
}

// NewMissingResourceError creates an error for a declared slot without a value.
func NewMissingResourceError(key string) *EngineError {
	return &EngineError{
		Kind:    KindMissingResource,
		Message: "resource has no value",
		Code:    ErrCodeMissingResource,
		Key:     key,
	}
}

// NewKeyNotFoundError creates an error for an undeclared slot.
func NewKeyNotFoundError(key string) *EngineError {
	return &EngineError{
		Kind:    KindKeyNotFound,
		Message: "resource slot not declared",
		Code:    ErrCodeKeyNotFound,
		Key:     key,
	}
}

// NewNodeError wraps a failure raised by the named node.
func NewNodeError(node string, err error) *EngineError {
	return &EngineError{
		Kind:    KindNode,
		Message: "node execution failed",
		Code:    ErrCodeNodeFailed,
		Node:    node,
		Err:     err,
	}
}

// NewRetryLimitError creates the terminal error for an exhausted retry cycle.
func NewRetryLimitError(node string, limit int) *EngineError {
	return &EngineError{
		Kind:    KindRetryLimit,
		Message: fmt.Sprintf("retry limit of %d exceeded", limit),
		Code:    ErrCodeRetryLimitExceeded,
		Node:    node,
	}
}

// NewRemoteComputeError creates an error for a failed remote call.
func NewRemoteComputeError(message string, err error) *EngineError {
	return &EngineError{
		Kind:    KindRemoteCompute,
		Message: message,
		Code:    ErrCodeRemoteFailed,
		Err:     err,
	}
}

// NewCancelledError creates the error returned when a run is cancelled between stages.
func NewCancelledError(node string, err error) *EngineError {
	return &EngineError{
		Kind:    KindCancelled,
		Message: "run cancelled",
		Code:    ErrCodeCancelled,
		Node:    node,
		Err:     err,
	}
}

// NewInvalidError creates a configuration error.
func NewInvalidError(message string) *EngineError {
	return &EngineError{
		Kind:    KindInvalid,
		Message: message,
		Code:    ErrCodeValidation,
	}
}

// WithNode adds node context to an error.
func (e *EngineError) WithNode(node string) *EngineError {
	e.Node = node
	return e
}

// WithUnit adds unit context to an error.
func (e *EngineError) WithUnit(unit string) *EngineError {
	e.Unit = unit
	return e
}

// WithKey adds slot context to an error.
func (e *EngineError) WithKey(key string) *EngineError {
	e.Key = key
	return e
}

// WithLocation adds location context to an error.
func (e *EngineError) WithLocation(location string) *EngineError {
	e.Location = location
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// KindOf returns the kind of the innermost EngineError in the chain.
// A NodeError wrapping a TransportError reports KindTransport.
func KindOf(err error) ErrorKind {
	var kind ErrorKind
	for err != nil {
		if e, ok := err.(*EngineError); ok {
			kind = e.Kind
		}
		err = errors.Unwrap(err)
	}
	return kind
}

// IsTransport returns true if the chain contains a transport error.
func IsTransport(err error) bool {
	return errors.Is(err, ErrTransport)
}

// IsMissingResource returns true if the chain contains a missing resource error.
func IsMissingResource(err error) bool {
	return errors.Is(err, ErrMissingResource)
}

// IsKeyNotFound returns true if the chain contains a key-not-found error.
func IsKeyNotFound(err error) bool {
	return errors.Is(err, ErrKeyNotFound)
}

// IsRetryLimit returns true if the chain contains a retry limit error.
func IsRetryLimit(err error) bool {
	return errors.Is(err, ErrRetryLimit)
}

// IsCancelled returns true if the chain contains a cancellation error.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

// IsInvalid returns true if the chain contains a configuration error.
func IsInvalid(err error) bool {
	return errors.Is(err, ErrInvalid)
}

// IsRetryable returns true if the failure may succeed when the run is triggered again.
// Transport and remote compute failures are retryable by the caller.
func IsRetryable(err error) bool {
	return IsTransport(err) || errors.Is(err, ErrRemoteCompute)
}

// Common error codes.
const (
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeTimeout            = "TIMEOUT"
	ErrCodeTransportFailed    = "TRANSPORT_FAILED"
	ErrCodeMissingResource    = "MISSING_RESOURCE"
	ErrCodeKeyNotFound        = "KEY_NOT_FOUND"
	ErrCodeNodeFailed         = "NODE_FAILED"
	ErrCodeRetryLimitExceeded = "RETRY_LIMIT_EXCEEDED"
	ErrCodeRemoteFailed       = "REMOTE_COMPUTE_FAILED"
	ErrCodeCancelled          = "CANCELLED"
	ErrCodeMorphismFailed     = "MORPHISM_FAILED"
	ErrCodeOutputMismatch     = "OUTPUT_MISMATCH"
)
