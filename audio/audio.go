// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package audio decodes sounds into PCM and streams long ones into a
// playback source chunk by chunk.
package audio

import "errors"

// package errors
var (
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	ErrNotFound          = errors.New("audio object not found")
)

// BytesPerSample is the size of one signed 16 bit sample.
const BytesPerSample = 2

// Format describes interleaved signed 16 bit little endian PCM.
type Format struct {
	SampleRate int `json:"sample_rate"`
	Channels   int `json:"channels"`
}

// FrameSize returns the number of bytes in one sample frame.
func (f Format) FrameSize() int {
	return f.Channels * BytesPerSample
}

// Device owns audio buffers and the sources that play them.
// Implementations follow OpenAL semantics and are safe for concurrent use.
type Device interface {
	CreateBuffer(format Format, pcm []byte) (uint32, error)

	// BufferData replaces the contents of a buffer that is not queued.
	BufferData(id uint32, format Format, pcm []byte) error
	DeleteBuffer(id uint32) error

	CreateSource() (Source, error)
}

// Source plays a queue of buffers in order.
type Source interface {
	// SetLooping sets native looping of the queued buffers.
	SetLooping(loop bool)

	Queue(buffers ...uint32) error

	// Unqueue removes the n oldest processed buffers and returns their ids.
	Unqueue(n int) ([]uint32, error)

	// Processed returns the number of queued buffers that finished playing.
	Processed() int

	Play() error
	Stop() error
	Playing() bool

	SetVolume(volume float32)
	Volume() float32

	Close() error
}
