// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package pipeline

import "github.com/devblok/korures/texture"

// Mode selects where a load is decoded and when it is uploaded.
type Mode int

// Load modes
const (
	// Background decodes on a worker and queues the upload for the next pump.
	Background Mode = iota

	// Caller decodes on the calling goroutine and queues the upload.
	Caller

	// Immediate decodes and uploads before returning. Owner thread only.
	Immediate
)

func (m Mode) String() string {
	switch m {
	case Background:
		return "background"
	case Caller:
		return "caller"
	case Immediate:
		return "immediate"
	default:
		return "invalid"
	}
}

type request struct {
	texture texture.Options
	mode    Mode
}

// Option changes how Acquire loads a resource. Options only apply to the
// acquire that creates the handle, later acquires of the same path share
// whatever the first one asked for.
type Option func(*request)

// WithTexture sets the sampling options of a texture.
func WithTexture(opts texture.Options) Option {
	return func(r *request) {
		r.texture = opts
	}
}

// WithMode sets the load mode.
func WithMode(mode Mode) Option {
	return func(r *request) {
		r.mode = mode
	}
}
