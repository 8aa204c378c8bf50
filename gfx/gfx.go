// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package gfx defines the native graphics context the resource pipeline
// uploads into, and the registry that tracks which buffers belong to
// which vertex array so they can be torn down together.
package gfx

import (
	"errors"

	glm "github.com/go-gl/mathgl/mgl32"
)

// package errors
var (
	ErrNotFound      = errors.New("gfx object not found")
	ErrStreamLength  = errors.New("vertex stream length does not match vertex count")
	ErrInvalidLayout = errors.New("vertex layout has no attributes")
)

// BufferTarget selects what a buffer is bound as.
type BufferTarget int

// Buffer targets
const (
	ArrayBuffer BufferTarget = iota
	ElementBuffer
)

// Usage hints how often buffer contents change.
type Usage int

// Buffer usages
const (
	StaticDraw Usage = iota
	DynamicDraw
	StreamDraw
)

// AttribPointer describes where one float attribute lives inside a buffer.
type AttribPointer struct {
	// Index is the shader attribute location.
	Index uint32

	// Size is the number of float components.
	Size int

	// Stride and Offset are in bytes.
	Stride int
	Offset int

	// Divisor is 0 for per vertex data and 1 for per instance data.
	Divisor uint32
}

// AddressMode selects how texture coordinates outside [0, 1] are sampled.
type AddressMode int

// Address modes
const (
	AddressRepeat AddressMode = iota
	AddressClampToEdge
	AddressClampToBorder
)

// Filter selects texture sampling.
type Filter int

// Filters
const (
	FilterLinear Filter = iota
	FilterNearest
)

// Sampler is the sampling state a texture is created with.
type Sampler struct {
	Address      AddressMode
	BorderColour glm.Vec4
	Filter       Filter
	Mipmap       bool

	// Anisotropy is the maximum anisotropic filtering level, 0 disables it.
	Anisotropy float32
}

// TextureDesc describes an RGBA8 texture. Levels[0] is the full size image,
// every following level halves both dimensions.
type TextureDesc struct {
	Width, Height int
	Sampler       Sampler
}

// Device is a native graphics context. It is not safe for concurrent
// use, every call has to come from the thread owning the context.
type Device interface {
	CreateVertexArray() (uint32, error)
	DeleteVertexArray(id uint32) error

	// CreateBuffer creates a buffer of size bytes, filled from data when
	// data is not nil.
	CreateBuffer(target BufferTarget, data []byte, size int, usage Usage) (uint32, error)
	UpdateBuffer(id uint32, offset int, data []byte) error
	DeleteBuffer(id uint32) error

	// SetAttribute points an attribute of vertex array vao at buffer.
	SetAttribute(vao, buffer uint32, attr AttribPointer) error

	CreateTexture(desc TextureDesc, levels [][]byte) (uint32, error)
	DeleteTexture(id uint32) error
}

// Releasable defines any memory-occupying item that can be freed.
type Releasable interface {

	// Release releases memory occupied by the implementing structure.
	Release()
}
