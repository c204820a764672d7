// SPDX-License-Identifier: Unlicense OR MIT

package video

import (
	"errors"
	"fmt"
)

// Flow is the result of pushing or producing a buffer.
type Flow int8

const (
	FlowOK Flow = iota
	// FlowNotNegotiated means the stream format is not known yet. The
	// element stays usable.
	FlowNotNegotiated
	// FlowError is a fatal error of the element.
	FlowError
	// FlowEOS signals the end of the stream.
	FlowEOS
)

func (f Flow) String() string {
	switch f {
	case FlowOK:
		return "ok"
	case FlowNotNegotiated:
		return "not-negotiated"
	case FlowError:
		return "error"
	case FlowEOS:
		return "eos"
	default:
		return fmt.Sprintf("flow(%d)", int8(f))
	}
}

// flowErr carries a non-OK flow result and its cause.
type flowErr struct {
	Flow Flow
	Err  error
}

func (e *flowErr) Error() string {
	if e.Err == nil {
		return e.Flow.String()
	}
	return fmt.Sprintf("%v: %v", e.Flow, e.Err)
}

func (e *flowErr) Unwrap() error {
	return e.Err
}

// NewFlowError wraps err with a flow result.
func NewFlowError(f Flow, err error) error {
	return &flowErr{Flow: f, Err: err}
}

// FlowOf returns the flow result of err: FlowOK for nil, the carried
// flow of an error from NewFlowError, and FlowError otherwise.
func FlowOf(err error) Flow {
	if err == nil {
		return FlowOK
	}
	var fe *flowErr
	if errors.As(err, &fe) {
		return fe.Flow
	}
	return FlowError
}
