// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package resource defines the handle every load request fills in, the
// states it moves through and the errors it can end with.
package resource

import (
	"errors"
	"sync"
	"sync/atomic"
)

// State is a step of the resource lifecycle.
type State int32

// Lifecycle states. A handle only ever moves forward through them.
const (
	Created State = iota
	PendingDecode
	PendingUpload
	Loaded
	Failed
	Disposed
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case PendingDecode:
		return "pending-decode"
	case PendingUpload:
		return "pending-upload"
	case Loaded:
		return "loaded"
	case Failed:
		return "failed"
	case Disposed:
		return "disposed"
	default:
		return "invalid"
	}
}

// Terminal reports whether no load work remains for the state.
func (s State) Terminal() bool {
	return s == Loaded || s == Failed || s == Disposed
}

// ErrTransition is returned when a state change is not allowed from the current state.
var ErrTransition = errors.New("invalid resource state transition")

// New creates an unloaded handle for key. The handle is returned to the
// caller right away and is filled in by the loading machinery.
func New(key Key, kind Kind) *Handle {
	return &Handle{
		key:   key,
		kind:  kind,
		ready: make(chan struct{}),
	}
}

// Handle is the placeholder for a resource being loaded. Decode writes
// the payload, upload writes the GPU ids, readers check Loaded first.
type Handle struct {
	key  Key
	kind Kind

	state    atomic.Int32
	size     atomic.Int64
	onResize atomic.Pointer[func(*Handle)]

	mutex   sync.RWMutex
	gpuIDs  []uint32
	payload interface{}
	info    interface{}
	err     error

	readyOnce sync.Once
	ready     chan struct{}
}

// Key returns the normalized path of the resource.
func (h *Handle) Key() Key {
	return h.key
}

// Kind returns the kind of data the resource holds.
func (h *Handle) Kind() Kind {
	return h.kind
}

// State returns the current lifecycle state.
func (h *Handle) State() State {
	return State(h.state.Load())
}

// Loaded reports whether the resource is usable.
func (h *Handle) Loaded() bool {
	return h.State() == Loaded
}

// Ready returns a channel that is closed once the handle is Loaded or Failed.
func (h *Handle) Ready() <-chan struct{} {
	return h.ready
}

// Size returns the decoded size in bytes, used to budget the cache.
func (h *Handle) Size() int64 {
	return h.size.Load()
}

// SetSize records the decoded size in bytes and reports it to the
// OnResize callback.
func (h *Handle) SetSize(n int64) {
	h.size.Store(n)
	if fn := h.onResize.Load(); fn != nil {
		(*fn)(h)
	}
}

// OnResize sets the function SetSize calls after every change. Only the
// last one set is kept.
func (h *Handle) OnResize(fn func(*Handle)) {
	h.onResize.Store(&fn)
}

// GPUIDs returns a copy of the native object ids backing the resource.
func (h *Handle) GPUIDs() []uint32 {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	ids := make([]uint32, len(h.gpuIDs))
	copy(ids, h.gpuIDs)
	return ids
}

// Payload returns the decoded CPU data. It is dropped once uploaded.
func (h *Handle) Payload() interface{} {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.payload
}

// Info returns the typed metadata the loader attached, such as texture dimensions.
func (h *Handle) Info() interface{} {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.info
}

// Err returns the failure stored on a Failed handle.
func (h *Handle) Err() error {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.err
}

// Submit moves a Created handle to PendingDecode.
func (h *Handle) Submit() error {
	return h.advance(Created, PendingDecode)
}

// Decoded stores the decode result and moves to PendingUpload. The
// result is dropped when the handle left PendingDecode meanwhile.
func (h *Handle) Decoded(payload interface{}, info interface{}) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if err := h.advance(PendingDecode, PendingUpload); err != nil {
		return err
	}
	h.store(payload, info)
	return nil
}

// Complete marks a CPU only resource Loaded straight from decode.
func (h *Handle) Complete(payload interface{}, info interface{}) error {
	h.mutex.Lock()
	if err := h.advance(PendingDecode, Loaded); err != nil {
		h.mutex.Unlock()
		return err
	}
	h.store(payload, info)
	h.mutex.Unlock()
	h.markReady()
	return nil
}

// Uploaded stores the native ids, drops the payload and marks the handle Loaded.
func (h *Handle) Uploaded(ids []uint32, info interface{}) error {
	h.mutex.Lock()
	if err := h.advance(PendingUpload, Loaded); err != nil {
		h.mutex.Unlock()
		return err
	}
	h.gpuIDs = append(h.gpuIDs[:0], ids...)
	h.store(nil, info)
	h.mutex.Unlock()
	h.markReady()
	return nil
}

// store is called with the mutex held, right after a successful transition.
// State readers that see the new state block on the mutex until it is done.
func (h *Handle) store(payload interface{}, info interface{}) {
	h.payload = payload
	if info != nil {
		h.info = info
	}
}

// Fail moves a pending handle to Failed and stores err. Loaded and
// Disposed handles are left as they are.
func (h *Handle) Fail(err error) error {
	for {
		cur := h.State()
		if cur != Created && cur != PendingDecode && cur != PendingUpload {
			return ErrTransition
		}
		h.mutex.Lock()
		h.err = err
		h.payload = nil
		h.mutex.Unlock()
		if h.state.CompareAndSwap(int32(cur), int32(Failed)) {
			h.markReady()
			return nil
		}
	}
}

// Dispose marks the handle Disposed and returns the ids that were backing it.
// Releasing those ids is the caller's job.
func (h *Handle) Dispose() []uint32 {
	h.mutex.Lock()
	h.state.Store(int32(Disposed))
	ids := h.gpuIDs
	h.gpuIDs = nil
	h.payload = nil
	h.mutex.Unlock()
	h.markReady()
	return ids
}

func (h *Handle) advance(from, to State) error {
	if !h.state.CompareAndSwap(int32(from), int32(to)) {
		return ErrTransition
	}
	return nil
}

func (h *Handle) markReady() {
	h.readyOnce.Do(func() { close(h.ready) })
}
