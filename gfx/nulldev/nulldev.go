// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package nulldev is a gfx.Device that keeps every object in memory.
// It backs headless tools and lets tests inspect what was created and
// deleted.
package nulldev

import (
	"fmt"
	"sync"

	"github.com/devblok/korures/gfx"
)

// Operation names accepted by Fail.
const (
	OpCreateVertexArray = "CreateVertexArray"
	OpDeleteVertexArray = "DeleteVertexArray"
	OpCreateBuffer      = "CreateBuffer"
	OpUpdateBuffer      = "UpdateBuffer"
	OpDeleteBuffer      = "DeleteBuffer"
	OpSetAttribute      = "SetAttribute"
	OpCreateTexture     = "CreateTexture"
	OpDeleteTexture     = "DeleteTexture"
)

// Buffer is a buffer as the device holds it.
type Buffer struct {
	Target gfx.BufferTarget
	Usage  gfx.Usage
	Data   []byte
}

// Texture is a texture as the device holds it.
type Texture struct {
	Desc   gfx.TextureDesc
	Levels [][]byte
}

// New creates an empty device.
func New() *Device {
	return &Device{
		vaos:     make(map[uint32][]gfx.AttribPointer),
		buffers:  make(map[uint32]*Buffer),
		textures: make(map[uint32]*Texture),
		failures: make(map[string]error),
	}
}

// Device implements gfx.Device in memory. Ids are shared between all
// object kinds and never reused.
type Device struct {
	mutex sync.Mutex
	next  uint32

	vaos     map[uint32][]gfx.AttribPointer
	buffers  map[uint32]*Buffer
	textures map[uint32]*Texture

	deletedBuffers []uint32
	deletedVAOs    []uint32
	failures       map[string]error
	calls          int
}

var _ gfx.Device = (*Device)(nil)

// Fail makes the next call of op return err.
func (d *Device) Fail(op string, err error) {
	d.mutex.Lock()
	d.failures[op] = err
	d.mutex.Unlock()
}

// CreateVertexArray implements gfx.Device
func (d *Device) CreateVertexArray() (uint32, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if err := d.failLocked(OpCreateVertexArray); err != nil {
		return 0, err
	}
	id := d.idLocked()
	d.vaos[id] = nil
	return id, nil
}

// DeleteVertexArray implements gfx.Device
func (d *Device) DeleteVertexArray(id uint32) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if err := d.failLocked(OpDeleteVertexArray); err != nil {
		return err
	}
	if _, ok := d.vaos[id]; !ok {
		return fmt.Errorf("vertex array %d: %w", id, gfx.ErrNotFound)
	}
	delete(d.vaos, id)
	d.deletedVAOs = append(d.deletedVAOs, id)
	return nil
}

// CreateBuffer implements gfx.Device
func (d *Device) CreateBuffer(target gfx.BufferTarget, data []byte, size int, usage gfx.Usage) (uint32, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if err := d.failLocked(OpCreateBuffer); err != nil {
		return 0, err
	}
	if size < len(data) {
		size = len(data)
	}
	buf := &Buffer{Target: target, Usage: usage, Data: make([]byte, size)}
	copy(buf.Data, data)
	id := d.idLocked()
	d.buffers[id] = buf
	return id, nil
}

// UpdateBuffer implements gfx.Device
func (d *Device) UpdateBuffer(id uint32, offset int, data []byte) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if err := d.failLocked(OpUpdateBuffer); err != nil {
		return err
	}
	buf, ok := d.buffers[id]
	if !ok {
		return fmt.Errorf("buffer %d: %w", id, gfx.ErrNotFound)
	}
	if offset < 0 || offset+len(data) > len(buf.Data) {
		return fmt.Errorf("buffer %d: write of %d bytes at %d overflows %d bytes", id, len(data), offset, len(buf.Data))
	}
	copy(buf.Data[offset:], data)
	return nil
}

// DeleteBuffer implements gfx.Device
func (d *Device) DeleteBuffer(id uint32) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if err := d.failLocked(OpDeleteBuffer); err != nil {
		return err
	}
	if _, ok := d.buffers[id]; !ok {
		return fmt.Errorf("buffer %d: %w", id, gfx.ErrNotFound)
	}
	delete(d.buffers, id)
	d.deletedBuffers = append(d.deletedBuffers, id)
	return nil
}

// SetAttribute implements gfx.Device
func (d *Device) SetAttribute(vao, buffer uint32, attr gfx.AttribPointer) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if err := d.failLocked(OpSetAttribute); err != nil {
		return err
	}
	if _, ok := d.vaos[vao]; !ok {
		return fmt.Errorf("vertex array %d: %w", vao, gfx.ErrNotFound)
	}
	if _, ok := d.buffers[buffer]; !ok {
		return fmt.Errorf("buffer %d: %w", buffer, gfx.ErrNotFound)
	}
	d.vaos[vao] = append(d.vaos[vao], attr)
	return nil
}

// CreateTexture implements gfx.Device
func (d *Device) CreateTexture(desc gfx.TextureDesc, levels [][]byte) (uint32, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if err := d.failLocked(OpCreateTexture); err != nil {
		return 0, err
	}
	if len(levels) == 0 || len(levels[0]) != desc.Width*desc.Height*4 {
		return 0, fmt.Errorf("texture %dx%d: level 0 has the wrong size", desc.Width, desc.Height)
	}
	tex := &Texture{Desc: desc, Levels: make([][]byte, len(levels))}
	for i, l := range levels {
		tex.Levels[i] = append([]byte(nil), l...)
	}
	id := d.idLocked()
	d.textures[id] = tex
	return id, nil
}

// DeleteTexture implements gfx.Device
func (d *Device) DeleteTexture(id uint32) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if err := d.failLocked(OpDeleteTexture); err != nil {
		return err
	}
	if _, ok := d.textures[id]; !ok {
		return fmt.Errorf("texture %d: %w", id, gfx.ErrNotFound)
	}
	delete(d.textures, id)
	return nil
}

// Buffer returns a live buffer.
func (d *Device) Buffer(id uint32) (Buffer, bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	buf, ok := d.buffers[id]
	if !ok {
		return Buffer{}, false
	}
	return *buf, true
}

// Texture returns a live texture.
func (d *Device) Texture(id uint32) (Texture, bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	tex, ok := d.textures[id]
	if !ok {
		return Texture{}, false
	}
	return *tex, true
}

// Attributes returns the attribute pointers set on a live vertex array.
func (d *Device) Attributes(vao uint32) ([]gfx.AttribPointer, bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	attrs, ok := d.vaos[vao]
	return append([]gfx.AttribPointer(nil), attrs...), ok
}

// DeletedBuffers returns every deleted buffer id in deletion order.
func (d *Device) DeletedBuffers() []uint32 {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return append([]uint32(nil), d.deletedBuffers...)
}

// DeletedVertexArrays returns every deleted vertex array id in deletion order.
func (d *Device) DeletedVertexArrays() []uint32 {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return append([]uint32(nil), d.deletedVAOs...)
}

// Stats is a count of live objects.
type Stats struct {
	VertexArrays int `json:"vertex_arrays"`
	Buffers      int `json:"buffers"`
	Textures     int `json:"textures"`
	Calls        int `json:"calls"`
}

// Stats returns how many objects are alive.
func (d *Device) Stats() Stats {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return Stats{
		VertexArrays: len(d.vaos),
		Buffers:      len(d.buffers),
		Textures:     len(d.textures),
		Calls:        d.calls,
	}
}

func (d *Device) failLocked(op string) error {
	d.calls++
	if err, ok := d.failures[op]; ok {
		delete(d.failures, op)
		return err
	}
	return nil
}

func (d *Device) idLocked() uint32 {
	d.next++
	return d.next
}
