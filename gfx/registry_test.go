// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package gfx_test

import (
	"errors"
	"testing"

	"github.com/devblok/korures/core"
	"github.com/devblok/korures/gfx"
	"github.com/devblok/korures/gfx/nulldev"
	"github.com/devblok/korures/resource"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry(t *testing.T, strict bool) (*gfx.Registry, *nulldev.Device) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	guard := core.BindOwner(strict, logger)
	t.Cleanup(guard.Release)
	dev := nulldev.New()
	return gfx.NewRegistry(dev, guard, logger), dev
}

func TestRegistryDeleteVertexArray(t *testing.T) {
	reg, dev := newRegistry(t, true)

	vao, err := reg.CreateVertexArray()
	require.NoError(t, err)
	a, err := reg.AttachAttribute(vao, 0, 3, []float32{0, 0, 0, 1, 1, 1})
	require.NoError(t, err)
	b, err := reg.AttachAttribute(vao, 1, 2, []float32{0, 0, 1, 1})
	require.NoError(t, err)
	idx, err := reg.AttachIndices(vao, []uint32{0, 1, 0})
	require.NoError(t, err)

	rec, ok := reg.Lookup(vao)
	require.True(t, ok)
	assert.Equal(t, []uint32{a, b, idx}, rec.Buffers)
	assert.Len(t, rec.Attributes, 2)

	buf, ok := dev.Buffer(idx)
	require.True(t, ok)
	assert.Equal(t, gfx.ElementBuffer, buf.Target)
	assert.Len(t, buf.Data, 12)

	require.NoError(t, reg.DeleteVertexArray(vao))
	_, ok = reg.Lookup(vao)
	assert.False(t, ok)
	assert.ElementsMatch(t, []uint32{a, b, idx}, dev.DeletedBuffers())
	assert.Equal(t, []uint32{vao}, dev.DeletedVertexArrays())
	assert.Equal(t, nulldev.Stats{Calls: dev.Stats().Calls}, dev.Stats())

	assert.ErrorIs(t, reg.DeleteVertexArray(vao), gfx.ErrNotFound, "buffers are freed exactly once")
	assert.Len(t, dev.DeletedBuffers(), 3)
}

func TestRegistryAttachNilSkipped(t *testing.T) {
	reg, dev := newRegistry(t, true)

	vao, err := reg.CreateVertexArray()
	require.NoError(t, err)
	buffer, err := reg.AttachAttribute(vao, 0, 3, nil)
	require.NoError(t, err)
	assert.Zero(t, buffer)
	assert.Equal(t, 0, dev.Stats().Buffers)
}

func TestRegistryCreateInterleaved(t *testing.T) {
	reg, dev := newRegistry(t, true)

	vao, layout, err := reg.CreateInterleaved(2,
		gfx.Stream{Width: 3, Data: []float32{1, 2, 3, 4, 5, 6}},
		gfx.Stream{Width: 2, Data: []float32{7, 8, 9, 10}},
	)
	require.NoError(t, err)
	assert.Equal(t, 5, layout.Stride)

	attrs, ok := dev.Attributes(vao)
	require.True(t, ok)
	require.Len(t, attrs, 2)
	assert.Equal(t, 12, attrs[1].Offset)
	assert.Equal(t, 20, attrs[1].Stride)

	rec, _ := reg.Lookup(vao)
	require.Len(t, rec.Buffers, 1)
	buf, _ := dev.Buffer(rec.Buffers[0])
	assert.Len(t, buf.Data, 40)

	_, _, err = reg.CreateInterleaved(2, gfx.Stream{Width: 3, Data: []float32{1}})
	assert.ErrorIs(t, err, gfx.ErrStreamLength)
	assert.Equal(t, 1, reg.Len())
}

func TestRegistryCreateInterleavedRollback(t *testing.T) {
	reg, dev := newRegistry(t, true)
	dev.Fail(nulldev.OpSetAttribute, errors.New("lost device"))

	_, _, err := reg.CreateInterleaved(1, gfx.Stream{Width: 2, Data: []float32{1, 2}})
	assert.Error(t, err)
	assert.Equal(t, 0, reg.Len())
	assert.Equal(t, 0, dev.Stats().Buffers)
	assert.Equal(t, 0, dev.Stats().VertexArrays)
}

func TestRegistryCreateInterleavedRollbackLogged(t *testing.T) {
	logger, hook := test.NewNullLogger()
	guard := core.BindOwner(true, logger)
	defer guard.Release()
	dev := nulldev.New()
	reg := gfx.NewRegistry(dev, guard, logger)

	dev.Fail(nulldev.OpSetAttribute, errors.New("lost device"))
	dev.Fail(nulldev.OpDeleteVertexArray, errors.New("still lost"))

	_, _, err := reg.CreateInterleaved(1, gfx.Stream{Width: 2, Data: []float32{1, 2}})
	assert.EqualError(t, err, "lost device")
	assert.Equal(t, 0, reg.Len())
	assert.Equal(t, 0, dev.Stats().Buffers)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "vertex array rollback failed", entry.Message)
	assert.EqualError(t, entry.Data["error"].(error), "still lost")
}

func TestRegistryDynamicAndInstanced(t *testing.T) {
	reg, dev := newRegistry(t, true)

	vao, err := reg.CreateVertexArray()
	require.NoError(t, err)
	dyn, layout, err := reg.AttachDynamic(vao, 10, 0, 3, 4)
	require.NoError(t, err)
	assert.Equal(t, 7, layout.Stride)
	buf, _ := dev.Buffer(dyn)
	assert.Len(t, buf.Data, 10*7*4)
	assert.Equal(t, gfx.DynamicDraw, buf.Usage)

	require.NoError(t, reg.UpdateBuffer(dyn, 7, []float32{1, 2, 3}))
	buf, _ = dev.Buffer(dyn)
	assert.Equal(t, gfx.Float32Bytes([]float32{1, 2, 3}), buf.Data[28:40])

	inst, err := reg.AttachStream(vao, 16)
	require.NoError(t, err)
	require.NoError(t, reg.AttachInstanced(vao, inst, 4, 4, 8, 4))
	rec, _ := reg.Lookup(vao)
	last := rec.Attributes[len(rec.Attributes)-1]
	assert.Equal(t, gfx.AttribPointer{Index: 4, Size: 4, Stride: 32, Offset: 16, Divisor: 1}, last)

	other, err := reg.CreateVertexArray()
	require.NoError(t, err)
	assert.ErrorIs(t, reg.AttachInstanced(other, inst, 0, 4, 4, 0), gfx.ErrNotFound, "buffer belongs to another vertex array")
	assert.ErrorIs(t, reg.UpdateBuffer(999, 0, []float32{1}), gfx.ErrNotFound)

	_, _, err = reg.AttachDynamic(vao, 10, 0)
	assert.ErrorIs(t, err, gfx.ErrInvalidLayout)
}

func TestRegistryDisposeAll(t *testing.T) {
	reg, dev := newRegistry(t, true)

	var vaos []uint32
	for i := 0; i < 3; i++ {
		vao, err := reg.CreateVertexArray()
		require.NoError(t, err)
		_, err = reg.AttachBuffer(vao, []byte{1, 2, 3, 4})
		require.NoError(t, err)
		vaos = append(vaos, vao)
	}
	reg.DisposeAll()

	assert.Equal(t, 0, reg.Len())
	assert.Equal(t, []uint32{vaos[2], vaos[1], vaos[0]}, dev.DeletedVertexArrays())
	assert.Len(t, dev.DeletedBuffers(), 3)
}

func TestRegistryUnknownVertexArray(t *testing.T) {
	reg, _ := newRegistry(t, true)

	_, err := reg.AttachBuffer(42, []byte{0})
	assert.ErrorIs(t, err, gfx.ErrNotFound)
	assert.ErrorIs(t, reg.DeleteVertexArray(42), gfx.ErrNotFound)
}

func TestRegistryForeignThread(t *testing.T) {
	reg, dev := newRegistry(t, false)

	errs := make(chan error, 1)
	go func() {
		_, err := reg.CreateVertexArray()
		errs <- err
	}()
	var violation *resource.ThreadingViolation
	assert.ErrorAs(t, <-errs, &violation)
	assert.Equal(t, "gfx.CreateVertexArray", violation.Op)
	assert.Equal(t, 0, dev.Stats().Calls, "the device is never touched")
}
