// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package audio

import (
	"fmt"
	"sync"
)

// NewNullDevice creates a device that keeps buffers in memory and never
// makes a sound.
func NewNullDevice() *NullDevice {
	return &NullDevice{buffers: make(map[uint32][]byte)}
}

// NullDevice implements Device in memory.
type NullDevice struct {
	mutex   sync.Mutex
	next    uint32
	buffers map[uint32][]byte
	deleted []uint32
	sources []*NullSource
}

var _ Device = (*NullDevice)(nil)

// CreateBuffer implements Device
func (d *NullDevice) CreateBuffer(format Format, pcm []byte) (uint32, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.next++
	d.buffers[d.next] = append([]byte(nil), pcm...)
	return d.next, nil
}

// BufferData implements Device
func (d *NullDevice) BufferData(id uint32, format Format, pcm []byte) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if _, ok := d.buffers[id]; !ok {
		return fmt.Errorf("buffer %d: %w", id, ErrNotFound)
	}
	d.buffers[id] = append(d.buffers[id][:0], pcm...)
	return nil
}

// DeleteBuffer implements Device
func (d *NullDevice) DeleteBuffer(id uint32) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if _, ok := d.buffers[id]; !ok {
		return fmt.Errorf("buffer %d: %w", id, ErrNotFound)
	}
	delete(d.buffers, id)
	d.deleted = append(d.deleted, id)
	return nil
}

// CreateSource implements Device
func (d *NullDevice) CreateSource() (Source, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	src := &NullSource{volume: 1}
	d.sources = append(d.sources, src)
	return src, nil
}

// LiveBuffers returns the number of buffers not deleted.
func (d *NullDevice) LiveBuffers() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return len(d.buffers)
}

// BufferLen returns the number of PCM bytes in a live buffer.
func (d *NullDevice) BufferLen(id uint32) (int, bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	pcm, ok := d.buffers[id]
	return len(pcm), ok
}

// DeletedBuffers returns deleted buffer ids in deletion order.
func (d *NullDevice) DeletedBuffers() []uint32 {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return append([]uint32(nil), d.deleted...)
}

// NullSource implements Source. Buffers only finish playing when Advance
// says so.
type NullSource struct {
	mutex     sync.Mutex
	queue     []uint32
	processed int
	playing   bool
	looping   bool
	volume    float32
	closed    bool

	queued, unqueued int
}

var _ Source = (*NullSource)(nil)

// Advance marks the next n queued buffers as played.
func (s *NullSource) Advance(n int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.processed += n
	if s.processed >= len(s.queue) {
		s.processed = len(s.queue)
		s.playing = false
	}
}

// Counts returns how many buffers were queued and unqueued in total.
func (s *NullSource) Counts() (queued, unqueued int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.queued, s.unqueued
}

// Looping reports the native looping flag.
func (s *NullSource) Looping() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.looping
}

// SetLooping implements Source
func (s *NullSource) SetLooping(loop bool) {
	s.mutex.Lock()
	s.looping = loop
	s.mutex.Unlock()
}

// Queue implements Source
func (s *NullSource) Queue(buffers ...uint32) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.queue = append(s.queue, buffers...)
	s.queued += len(buffers)
	return nil
}

// Unqueue implements Source
func (s *NullSource) Unqueue(n int) ([]uint32, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if !s.playing && n <= len(s.queue) {
		s.processed = len(s.queue)
	}
	if n > s.processed {
		return nil, fmt.Errorf("unqueue %d buffers, %d processed", n, s.processed)
	}
	ids := append([]uint32(nil), s.queue[:n]...)
	s.queue = s.queue[n:]
	s.processed -= n
	s.unqueued += n
	return ids, nil
}

// Processed implements Source
func (s *NullSource) Processed() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.processed
}

// Play implements Source
func (s *NullSource) Play() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.playing = s.processed < len(s.queue)
	return nil
}

// Stop implements Source
func (s *NullSource) Stop() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.playing = false
	return nil
}

// Playing implements Source
func (s *NullSource) Playing() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.playing
}

// SetVolume implements Source
func (s *NullSource) SetVolume(volume float32) {
	s.mutex.Lock()
	s.volume = volume
	s.mutex.Unlock()
}

// Volume implements Source
func (s *NullSource) Volume() float32 {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.volume
}

// Close implements Source
func (s *NullSource) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.closed = true
	s.playing = false
	return nil
}
