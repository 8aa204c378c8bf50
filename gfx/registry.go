// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package gfx

import (
	"fmt"

	"github.com/devblok/korures/core"
	log "github.com/sirupsen/logrus"
)

// VertexArrayRecord lists the buffers owned by one vertex array, in the
// order they were attached.
type VertexArrayRecord struct {
	VAO        uint32
	Buffers    []uint32
	Attributes []AttribPointer
}

// NewRegistry creates a registry over dev, usable only on the thread guard was bound on.
func NewRegistry(dev Device, guard *core.Guard, logger log.FieldLogger) *Registry {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Registry{
		dev:     dev,
		guard:   guard,
		records: make(map[uint32]*VertexArrayRecord),
		owners:  make(map[uint32]uint32),
		logger:  logger,
	}
}

// Registry tracks every buffer created under a vertex array so that
// deleting the vertex array frees all of them exactly once. It has no
// lock, every method that touches the device checks it runs on the
// owning thread instead.
type Registry struct {
	dev   Device
	guard *core.Guard

	records map[uint32]*VertexArrayRecord
	order   []uint32
	owners  map[uint32]uint32 // buffer -> vao

	logger log.FieldLogger
}

// Device returns the device the registry creates objects on.
func (r *Registry) Device() Device {
	return r.dev
}

// CreateVertexArray creates an empty vertex array and starts tracking it.
func (r *Registry) CreateVertexArray() (uint32, error) {
	if err := r.guard.Enter("gfx.CreateVertexArray"); err != nil {
		return 0, err
	}
	vao, err := r.dev.CreateVertexArray()
	if err != nil {
		return 0, err
	}
	r.records[vao] = &VertexArrayRecord{VAO: vao}
	r.order = append(r.order, vao)
	return vao, nil
}

// AttachBuffer uploads data into a new static vertex buffer owned by vao.
func (r *Registry) AttachBuffer(vao uint32, data []byte) (uint32, error) {
	if err := r.guard.Enter("gfx.AttachBuffer"); err != nil {
		return 0, err
	}
	return r.attach(vao, ArrayBuffer, data, len(data), StaticDraw)
}

// AttachAttribute uploads one attribute stream of width floats per vertex
// into its own buffer and points attribute attr at it.
func (r *Registry) AttachAttribute(vao uint32, attr uint32, width int, data []float32) (uint32, error) {
	if err := r.guard.Enter("gfx.AttachAttribute"); err != nil {
		return 0, err
	}
	if data == nil {
		return 0, nil
	}
	raw := Float32Bytes(data)
	buffer, err := r.attach(vao, ArrayBuffer, raw, len(raw), StaticDraw)
	if err != nil {
		return 0, err
	}
	return buffer, r.point(vao, buffer, AttribPointer{Index: attr, Size: width})
}

// AttachInterleaved uploads interleaved data into one buffer and points
// one attribute per layout entry at it, starting at attribute start.
func (r *Registry) AttachInterleaved(vao uint32, layout Layout, start uint32, data []float32) (uint32, error) {
	if err := r.guard.Enter("gfx.AttachInterleaved"); err != nil {
		return 0, err
	}
	if len(layout.Widths) == 0 {
		return 0, ErrInvalidLayout
	}
	raw := Float32Bytes(data)
	buffer, err := r.attach(vao, ArrayBuffer, raw, len(raw), StaticDraw)
	if err != nil {
		return 0, err
	}
	for _, attr := range layout.Attributes(start) {
		if err := r.point(vao, buffer, attr); err != nil {
			return buffer, err
		}
	}
	return buffer, nil
}

// CreateInterleaved interleaves the streams and stores them in a new
// vertex array without an index buffer.
func (r *Registry) CreateInterleaved(vertexCount int, streams ...Stream) (uint32, Layout, error) {
	data, layout, err := Interleave(vertexCount, streams...)
	if err != nil {
		return 0, Layout{}, err
	}
	vao, err := r.CreateVertexArray()
	if err != nil {
		return 0, Layout{}, err
	}
	if _, err := r.AttachInterleaved(vao, layout, 0, data); err != nil {
		if derr := r.DeleteVertexArray(vao); derr != nil {
			r.logger.WithField("vao", vao).WithError(derr).Warn("vertex array rollback failed")
		}
		return 0, Layout{}, err
	}
	return vao, layout, nil
}

// AttachIndices uploads an index buffer owned by vao.
func (r *Registry) AttachIndices(vao uint32, indices []uint32) (uint32, error) {
	if err := r.guard.Enter("gfx.AttachIndices"); err != nil {
		return 0, err
	}
	raw := Uint32Bytes(indices)
	return r.attach(vao, ElementBuffer, raw, len(raw), StaticDraw)
}

// AttachDynamic creates an empty interleaved buffer big enough for
// maxVertices vertices, to be filled later with UpdateBuffer.
func (r *Registry) AttachDynamic(vao uint32, maxVertices int, start uint32, widths ...int) (uint32, Layout, error) {
	if err := r.guard.Enter("gfx.AttachDynamic"); err != nil {
		return 0, Layout{}, err
	}
	layout := NewLayout(widths...)
	if layout.Stride == 0 {
		return 0, Layout{}, ErrInvalidLayout
	}
	buffer, err := r.attach(vao, ArrayBuffer, nil, maxVertices*layout.StrideBytes(), DynamicDraw)
	if err != nil {
		return 0, Layout{}, err
	}
	for _, attr := range layout.Attributes(start) {
		if err := r.point(vao, buffer, attr); err != nil {
			return buffer, layout, err
		}
	}
	return buffer, layout, nil
}

// AttachStream creates an empty buffer of floatCount floats for data
// that is rewritten every frame, such as per instance attributes.
func (r *Registry) AttachStream(vao uint32, floatCount int) (uint32, error) {
	if err := r.guard.Enter("gfx.AttachStream"); err != nil {
		return 0, err
	}
	return r.attach(vao, ArrayBuffer, nil, floatCount*FloatSize, StreamDraw)
}

// AttachInstanced points attribute attr of vao at a per instance slice of
// buffer. stride and offset are counted in floats.
func (r *Registry) AttachInstanced(vao, buffer uint32, attr uint32, width, stride, offset int) error {
	if err := r.guard.Enter("gfx.AttachInstanced"); err != nil {
		return err
	}
	if owner, ok := r.owners[buffer]; !ok || owner != vao {
		return fmt.Errorf("buffer %d under vertex array %d: %w", buffer, vao, ErrNotFound)
	}
	return r.point(vao, buffer, AttribPointer{
		Index:   attr,
		Size:    width,
		Stride:  stride * FloatSize,
		Offset:  offset * FloatSize,
		Divisor: 1,
	})
}

// UpdateBuffer overwrites part of a tracked buffer, offset is in floats.
func (r *Registry) UpdateBuffer(buffer uint32, offset int, data []float32) error {
	if err := r.guard.Enter("gfx.UpdateBuffer"); err != nil {
		return err
	}
	if _, ok := r.owners[buffer]; !ok {
		return fmt.Errorf("buffer %d: %w", buffer, ErrNotFound)
	}
	return r.dev.UpdateBuffer(buffer, offset*FloatSize, Float32Bytes(data))
}

// DeleteVertexArray deletes every buffer owned by vao, then vao itself,
// and stops tracking it.
func (r *Registry) DeleteVertexArray(vao uint32) error {
	if err := r.guard.Enter("gfx.DeleteVertexArray"); err != nil {
		return err
	}
	rec, ok := r.records[vao]
	if !ok {
		return fmt.Errorf("vertex array %d: %w", vao, ErrNotFound)
	}
	r.forget(vao)

	var firstErr error
	for _, buffer := range rec.Buffers {
		delete(r.owners, buffer)
		if err := r.dev.DeleteBuffer(buffer); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := r.dev.DeleteVertexArray(vao); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// DisposeAll deletes every tracked vertex array, for shutdown.
func (r *Registry) DisposeAll() {
	if err := r.guard.Enter("gfx.DisposeAll"); err != nil {
		return
	}
	for len(r.order) > 0 {
		vao := r.order[len(r.order)-1]
		if err := r.DeleteVertexArray(vao); err != nil {
			r.logger.WithField("vao", vao).WithError(err).Warn("vertex array teardown failed")
		}
	}
}

// Lookup returns a copy of the record for vao.
func (r *Registry) Lookup(vao uint32) (VertexArrayRecord, bool) {
	rec, ok := r.records[vao]
	if !ok {
		return VertexArrayRecord{}, false
	}
	return VertexArrayRecord{
		VAO:        rec.VAO,
		Buffers:    append([]uint32(nil), rec.Buffers...),
		Attributes: append([]AttribPointer(nil), rec.Attributes...),
	}, true
}

// Len returns the number of tracked vertex arrays.
func (r *Registry) Len() int {
	return len(r.records)
}

func (r *Registry) attach(vao uint32, target BufferTarget, data []byte, size int, usage Usage) (uint32, error) {
	rec, ok := r.records[vao]
	if !ok {
		return 0, fmt.Errorf("vertex array %d: %w", vao, ErrNotFound)
	}
	buffer, err := r.dev.CreateBuffer(target, data, size, usage)
	if err != nil {
		return 0, err
	}
	rec.Buffers = append(rec.Buffers, buffer)
	r.owners[buffer] = vao
	return buffer, nil
}

func (r *Registry) point(vao, buffer uint32, attr AttribPointer) error {
	if err := r.dev.SetAttribute(vao, buffer, attr); err != nil {
		return err
	}
	rec := r.records[vao]
	rec.Attributes = append(rec.Attributes, attr)
	return nil
}

func (r *Registry) forget(vao uint32) {
	delete(r.records, vao)
	for i, v := range r.order {
		if v == vao {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}
