package assembler

import (
	"errors"
	"fmt"
)

// ErrProcessingDisabled indicates an operator paused ingestion.
var ErrProcessingDisabled = errors.New("assembler: processing is disabled")

const (
	reasonMissingDatabase    = "missing_database"
	reasonMissingDependency  = "missing_dependency"
	reasonQueryFailed        = "query_failed"
	reasonEncodeFailed       = "encode_failed"
	reasonDecodeFailed       = "decode_failed"
	reasonInvalidTouchpoint  = "invalid_touchpoint"
	reasonProcessingDisabled = "processing_disabled"
	reasonResolveFailed      = "resolve_failed"
	reasonAssemblyFailed     = "assembly_failed"
	reasonPersistFailed      = "persist_failed"
)

// ServiceError carries a dotted operation.reason code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the dotted error code.
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}
