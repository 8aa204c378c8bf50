// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package queue moves resource loads from decode workers to the thread
// owning the graphics context. Background runs the CPU side on worker
// goroutines, Bound holds the uploads until the owner drains them once
// per frame.
package queue

import (
	"errors"
	"fmt"

	"github.com/devblok/korures/resource"
	log "github.com/sirupsen/logrus"
)

// ErrClosed is returned when submitting to a closed queue.
var ErrClosed = errors.New("queue is closed")

// Decoded is the CPU side result of a load.
type Decoded struct {
	// Payload is handed to the upload, or kept on the handle for CPU only resources.
	Payload interface{}

	// Info is typed metadata stored on the handle.
	Info interface{}

	// Size is the decoded size in bytes.
	Size int64

	// Resident completes the handle from decode even though the request
	// carries an upload.
	Resident bool
}

// Uploaded is the result of pushing a payload into a native context.
type Uploaded struct {
	IDs  []uint32
	Info interface{}
}

// DecodeFunc reads and decodes a resource. It must not touch any native context.
type DecodeFunc func() (Decoded, error)

// UploadFunc pushes a decoded payload into a native context. It only
// ever runs on the owning thread.
type UploadFunc func(payload interface{}) (Uploaded, error)

// LoadRequest asks for a handle to be decoded and, when Upload is set, uploaded.
type LoadRequest struct {
	Handle *resource.Handle
	Decode DecodeFunc
	Upload UploadFunc
}

// NeedsUpload reports whether the request continues on the owning thread.
func (r LoadRequest) NeedsUpload() bool {
	return r.Upload != nil
}

// UploadRequest carries a decoded payload to the owning thread.
type UploadRequest struct {
	Handle  *resource.Handle
	Payload interface{}
	Upload  UploadFunc
}

// Submitter accepts upload requests from any goroutine.
type Submitter interface {
	Submit(UploadRequest)
}

// Decode runs the CPU side of req on the calling goroutine and forwards
// the result to uploads when it needs one. Failures are logged and
// stored on the handle, they are never retried.
func Decode(req LoadRequest, uploads Submitter, logger log.FieldLogger) {
	h := req.Handle
	fields := log.Fields{"path": h.Key(), "kind": h.Kind()}

	out, err := safeDecode(req.Decode)
	if err != nil {
		failure := &resource.DecodeError{Path: string(h.Key()), Err: err}
		if h.Fail(failure) == nil {
			logger.WithFields(fields).WithError(err).Error("resource decode failed")
		}
		return
	}
	h.SetSize(out.Size)

	if !req.NeedsUpload() || out.Resident {
		if err := h.Complete(out.Payload, out.Info); err != nil {
			logger.WithFields(fields).Debug("decoded resource no longer wanted")
		}
		return
	}

	if err := h.Decoded(out.Payload, out.Info); err != nil {
		logger.WithFields(fields).Debug("decoded resource no longer wanted")
		return
	}
	uploads.Submit(UploadRequest{
		Handle:  h,
		Payload: out.Payload,
		Upload:  req.Upload,
	})
}

func safeDecode(fn DecodeFunc) (out Decoded, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("decoder panic: %v", r)
		}
	}()
	return fn()
}

func safeUpload(fn UploadFunc, payload interface{}) (out Uploaded, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("upload panic: %v", r)
		}
	}()
	return fn(payload)
}
