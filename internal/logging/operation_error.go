package logging

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// OperationError records which infrastructure call failed, for which session and
// after how many attempts.
type OperationError struct {
	Operation string
	SessionID string
	Attempts  int
	Err       error
}

// Error implements the error interface.
func (e *OperationError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(e.Operation)
	if e.SessionID != "" {
		fmt.Fprintf(&b, " (session_id=%s)", e.SessionID)
	}
	if e.Attempts > 1 {
		fmt.Fprintf(&b, " after %d attempts", e.Attempts)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Fields renders e as structured log fields.
func (e *OperationError) Fields() []zap.Field {
	fields := []zap.Field{zap.String("operation", e.Operation)}
	if e.SessionID != "" {
		fields = append(fields, zap.String("session_id", e.SessionID))
	}
	if e.Attempts > 0 {
		fields = append(fields, zap.Int("attempts", e.Attempts))
	}
	return append(fields, zap.Error(e.Err))
}

// NewOperationError wraps err with the operation name and session id.
// A nil err stays nil so call sites can wrap unconditionally.
func NewOperationError(operation, sessionID string, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Operation: operation, SessionID: sessionID, Err: err}
}

// ErrorFields returns the fields of the first OperationError in err's chain, or a
// plain error field.
func ErrorFields(err error) []zap.Field {
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return opErr.Fields()
	}
	return []zap.Field{zap.Error(err)}
}
