// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package gfx

import (
	"fmt"
	"unsafe"
)

// FloatSize is the size in bytes of one vertex component.
const FloatSize = 4

// Layout describes interleaved float vertex data. Offsets and Stride are
// counted in floats.
type Layout struct {
	Widths  []int
	Offsets []int
	Stride  int
}

// NewLayout computes offsets and stride for attributes of the given widths,
// offset i is the sum of widths before it and the stride is their total.
func NewLayout(widths ...int) Layout {
	l := Layout{
		Widths:  append([]int(nil), widths...),
		Offsets: make([]int, len(widths)),
	}
	for i, w := range widths {
		l.Offsets[i] = l.Stride
		l.Stride += w
	}
	return l
}

// StrideBytes returns the stride in bytes.
func (l Layout) StrideBytes() int {
	return l.Stride * FloatSize
}

// Attributes returns one pointer per attribute, numbered from start.
func (l Layout) Attributes(start uint32) []AttribPointer {
	attrs := make([]AttribPointer, len(l.Widths))
	for i, w := range l.Widths {
		attrs[i] = AttribPointer{
			Index:  start + uint32(i),
			Size:   w,
			Stride: l.StrideBytes(),
			Offset: l.Offsets[i] * FloatSize,
		}
	}
	return attrs
}

// Stream is one per vertex attribute, Width floats for every vertex.
type Stream struct {
	Width int
	Data  []float32
}

// Interleave packs the streams vertex by vertex: all attributes of vertex
// 0, then of vertex 1 and so on.
func Interleave(vertexCount int, streams ...Stream) ([]float32, Layout, error) {
	if len(streams) == 0 {
		return nil, Layout{}, ErrInvalidLayout
	}
	widths := make([]int, len(streams))
	for i, s := range streams {
		if s.Width < 1 {
			return nil, Layout{}, fmt.Errorf("stream %d: %w", i, ErrInvalidLayout)
		}
		if len(s.Data) != s.Width*vertexCount {
			return nil, Layout{}, fmt.Errorf("stream %d has %d floats, want %d: %w", i, len(s.Data), s.Width*vertexCount, ErrStreamLength)
		}
		widths[i] = s.Width
	}

	layout := NewLayout(widths...)
	out := make([]float32, 0, layout.Stride*vertexCount)
	for v := 0; v < vertexCount; v++ {
		for _, s := range streams {
			out = append(out, s.Data[v*s.Width:(v+1)*s.Width]...)
		}
	}
	return out, layout, nil
}

// Float32Bytes reinterprets data as its raw bytes in native order without copying.
func Float32Bytes(data []float32) []byte {
	if len(data) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&data[0])), len(data)*4)
}

// Uint32Bytes reinterprets data as its raw bytes without copying.
func Uint32Bytes(data []uint32) []byte {
	if len(data) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&data[0])), len(data)*4)
}
