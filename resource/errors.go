// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package resource

import (
	"errors"
	"fmt"
)

// Failure classifies why a resource did not load.
type Failure int

// Failure kinds
const (
	FailureNone Failure = iota
	FailureDecode
	FailureUpload
	FailureThreading
	FailureUnknown
)

func (f Failure) String() string {
	switch f {
	case FailureNone:
		return "none"
	case FailureDecode:
		return "decode"
	case FailureUpload:
		return "upload"
	case FailureThreading:
		return "threading"
	default:
		return "unknown"
	}
}

// DecodeError is stored on a handle whose file could not be read or parsed.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %s", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// UploadError is stored on a handle whose data the graphics or audio
// context rejected.
type UploadError struct {
	Path string
	Err  error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s: %s", e.Path, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// ThreadingViolation is raised when a context bound operation runs on a
// thread that does not own the context.
type ThreadingViolation struct {
	Op     string
	Owner  int64
	Caller int64
}

func (e *ThreadingViolation) Error() string {
	return fmt.Sprintf("%s called from thread %d, context is owned by thread %d", e.Op, e.Caller, e.Owner)
}

// FailureKind maps err to its Failure kind.
func FailureKind(err error) Failure {
	if err == nil {
		return FailureNone
	}
	var (
		de *DecodeError
		ue *UploadError
		tv *ThreadingViolation
	)
	switch {
	case errors.As(err, &tv):
		return FailureThreading
	case errors.As(err, &ue):
		return FailureUpload
	case errors.As(err, &de):
		return FailureDecode
	}
	return FailureUnknown
}
