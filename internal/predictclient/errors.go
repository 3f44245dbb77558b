package predictclient

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
)

// ErrorKind classifies a failed prediction call.
type ErrorKind string

const (
	KindNetwork ErrorKind = "network"
	KindRemote  ErrorKind = "remote"
	KindParse   ErrorKind = "parse"
	KindTimeout ErrorKind = "timeout"
)

// ErrNoFile is returned by the remote strategy when there is no image to send.
var ErrNoFile = errors.New("no image to analyze")

// Generic messages shown when the backend gave nothing better.
const (
	MsgAnalyzeFailed  = "Failed to analyze image"
	MsgBatchFailed    = "Failed to analyze images"
	MsgModelInfo      = "Failed to fetch model info"
	MsgHealthFailed   = "Health check failed"
	MsgNetworkFailure = "Failed to reach prediction service"
	MsgTimeout        = "Prediction request timed out"
)

// PredictionError is returned by every strategy call that did not produce a result.
// For KindRemote the message is the backend's detail, verbatim.
type PredictionError struct {
	Kind       ErrorKind
	Detail     string
	StatusCode int
	Err        error
}

func (e *PredictionError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	switch e.Kind {
	case KindNetwork:
		return MsgNetworkFailure
	case KindTimeout:
		return MsgTimeout
	default:
		return MsgAnalyzeFailed
	}
}

func (e *PredictionError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a PredictionError anywhere in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var pErr *PredictionError
	if errors.As(err, &pErr) {
		return pErr.Kind, true
	}
	return "", false
}

type errorPayload struct {
	Detail string `json:"detail"`
}

func remoteError(status int, body []byte, fallback string) *PredictionError {
	detail := fallback
	var payload errorPayload
	if err := json.Unmarshal(body, &payload); err == nil && strings.TrimSpace(payload.Detail) != "" {
		detail = payload.Detail
	}
	return &PredictionError{Kind: KindRemote, Detail: detail, StatusCode: status}
}

func transportError(ctx context.Context, err error) *PredictionError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &PredictionError{Kind: KindTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &PredictionError{Kind: KindTimeout, Err: err}
	}
	return &PredictionError{Kind: KindNetwork, Err: err}
}
