// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package audio

import (
	"context"
	"io"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// StreamState is one sound being streamed into a source. The feeder
// mutates it under its own lock, the accessors take the same lock.
type StreamState struct {
	feeder  *Feeder
	name    string
	source  Source
	decoder *Decoder
	loop    bool

	// queued holds the buffers on the source, oldest first.
	queued    []uint32
	exhausted bool
	done      chan struct{}
}

// Name returns the name the stream was started with.
func (s *StreamState) Name() string {
	return s.name
}

// Done is closed once the stream finished and its buffers were deleted.
func (s *StreamState) Done() <-chan struct{} {
	return s.done
}

// Queued returns the ids of the buffers currently on the source.
func (s *StreamState) Queued() []uint32 {
	s.feeder.mutex.Lock()
	defer s.feeder.mutex.Unlock()
	return append([]uint32(nil), s.queued...)
}

// Exhausted reports whether the decoder reached the end of the data.
func (s *StreamState) Exhausted() bool {
	s.feeder.mutex.Lock()
	defer s.feeder.mutex.Unlock()
	return s.exhausted
}

// NewFeeder creates a feeder that keeps buffers chunks of chunkFrames
// frames queued on every stream.
func NewFeeder(dev Device, chunkFrames, buffers int, logger log.FieldLogger) *Feeder {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if chunkFrames < 1 {
		chunkFrames = 1
	}
	if buffers < 1 {
		buffers = 1
	}
	return &Feeder{
		dev:         dev,
		chunkFrames: chunkFrames,
		buffers:     buffers,
		logger:      logger,
	}
}

// Feeder refills the buffer queues of streaming sources as they play.
type Feeder struct {
	dev         Device
	chunkFrames int
	buffers     int

	mutex   sync.Mutex
	streams []*StreamState

	logger log.FieldLogger
}

// Start turns off native looping on src, queues the first chunks of dec
// and starts playing. With loop set the decoder is rewound at the end of
// the data. The feeder owns dec from here on.
func (f *Feeder) Start(name string, dec *Decoder, src Source, loop bool) (*StreamState, error) {
	state := &StreamState{
		feeder:  f,
		name:    name,
		source:  src,
		decoder: dec,
		loop:    loop,
		done:    make(chan struct{}),
	}
	src.SetLooping(false)

	for i := 0; i < f.buffers && !state.exhausted; i++ {
		chunk, err := f.next(state)
		if err != nil {
			f.teardown(state)
			return nil, err
		}
		if chunk == nil {
			break
		}
		id, err := f.dev.CreateBuffer(dec.Format(), chunk)
		if err != nil {
			f.teardown(state)
			return nil, err
		}
		if err := src.Queue(id); err != nil {
			f.dev.DeleteBuffer(id)
			f.teardown(state)
			return nil, err
		}
		state.queued = append(state.queued, id)
	}
	if err := src.Play(); err != nil {
		f.teardown(state)
		return nil, err
	}

	f.mutex.Lock()
	f.streams = append(f.streams, state)
	f.mutex.Unlock()
	f.logger.WithFields(log.Fields{
		"stream": name,
		"queued": len(state.queued),
	}).Debug("stream started")
	return state, nil
}

// Update refills every active stream once and drops the finished ones.
func (f *Feeder) Update() {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	active := f.streams[:0]
	for _, state := range f.streams {
		if f.update(state) {
			active = append(active, state)
			continue
		}
		f.teardown(state)
		f.logger.WithField("stream", state.name).Debug("stream finished")
	}
	for i := len(active); i < len(f.streams); i++ {
		f.streams[i] = nil
	}
	f.streams = active
}

// update unqueues exactly the processed buffers and refills as many of
// them as the decoder still has data for. It reports whether the stream
// is still playing.
func (f *Feeder) update(state *StreamState) bool {
	n := state.source.Processed()
	if n > len(state.queued) {
		n = len(state.queued)
	}
	if n > 0 {
		ids, err := state.source.Unqueue(n)
		if err != nil {
			f.logger.WithField("stream", state.name).WithError(err).Error("unqueue failed")
			return false
		}
		state.queued = state.queued[len(ids):]

		for _, id := range ids {
			if !f.refill(state, id) {
				f.dev.DeleteBuffer(id)
			}
		}
		// a source that ran dry stops by itself
		if len(state.queued) > 0 && !state.source.Playing() {
			state.source.Play()
		}
	}
	return !(state.exhausted && len(state.queued) == 0)
}

func (f *Feeder) refill(state *StreamState, id uint32) bool {
	if state.exhausted {
		return false
	}
	chunk, err := f.next(state)
	if err != nil {
		f.logger.WithField("stream", state.name).WithError(err).Error("stream decode failed")
		state.exhausted = true
		return false
	}
	if chunk == nil {
		return false
	}
	if err := f.dev.BufferData(id, state.decoder.Format(), chunk); err != nil {
		f.logger.WithField("stream", state.name).WithError(err).Error("buffer refill failed")
		return false
	}
	if err := state.source.Queue(id); err != nil {
		f.logger.WithField("stream", state.name).WithError(err).Error("buffer queue failed")
		return false
	}
	state.queued = append(state.queued, id)
	return true
}

// next returns the next chunk, nil once the stream is exhausted.
func (f *Feeder) next(state *StreamState) ([]byte, error) {
	chunk, err := state.decoder.Next(f.chunkFrames)
	if err == io.EOF && state.loop {
		if err := state.decoder.Rewind(); err != nil {
			return nil, err
		}
		chunk, err = state.decoder.Next(f.chunkFrames)
	}
	if err == io.EOF {
		state.exhausted = true
		return nil, nil
	}
	return chunk, err
}

func (f *Feeder) teardown(state *StreamState) {
	state.exhausted = true
	state.source.Stop()
	if len(state.queued) > 0 {
		if ids, err := state.source.Unqueue(len(state.queued)); err == nil {
			state.queued = state.queued[len(ids):]
			for _, id := range ids {
				f.dev.DeleteBuffer(id)
			}
		}
	}
	for _, id := range state.queued {
		f.dev.DeleteBuffer(id)
	}
	state.queued = nil
	state.decoder.Close()
	close(state.done)
}

// Stop ends a stream early.
func (f *Feeder) Stop(state *StreamState) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	for i, s := range f.streams {
		if s == state {
			f.streams = append(f.streams[:i], f.streams[i+1:]...)
			f.teardown(state)
			return
		}
	}
}

// Active returns the number of streams being fed.
func (f *Feeder) Active() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return len(f.streams)
}

// Run calls Update every interval until ctx is done, then stops every stream.
func (f *Feeder) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			f.Close()
			return
		case <-ticker.C:
			f.Update()
		}
	}
}

// Close stops every stream and deletes their buffers.
func (f *Feeder) Close() {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	for _, state := range f.streams {
		f.teardown(state)
	}
	f.streams = nil
}
