// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package sdlaudio implements audio.Device over SDL2 queued audio. Each
// source opens its own SDL audio device.
package sdlaudio

import (
	"fmt"
	"sync"

	"github.com/devblok/korures/audio"
	"github.com/veandco/go-sdl2/sdl"
)

// samples is the SDL audio buffer size in frames.
const samples = 4096

// New initialises the SDL audio subsystem.
func New() (*Device, error) {
	if err := sdl.InitSubSystem(sdl.INIT_AUDIO); err != nil {
		return nil, err
	}
	return &Device{buffers: make(map[uint32]buffer)}, nil
}

type buffer struct {
	format audio.Format
	pcm    []byte
}

// Device implements audio.Device
type Device struct {
	mutex   sync.Mutex
	next    uint32
	buffers map[uint32]buffer
}

var _ audio.Device = (*Device)(nil)

// CreateBuffer implements audio.Device
func (d *Device) CreateBuffer(format audio.Format, pcm []byte) (uint32, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.next++
	d.buffers[d.next] = buffer{format: format, pcm: append([]byte(nil), pcm...)}
	return d.next, nil
}

// BufferData implements audio.Device
func (d *Device) BufferData(id uint32, format audio.Format, pcm []byte) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	buf, ok := d.buffers[id]
	if !ok {
		return fmt.Errorf("buffer %d: %w", id, audio.ErrNotFound)
	}
	buf.format = format
	buf.pcm = append(buf.pcm[:0], pcm...)
	d.buffers[id] = buf
	return nil
}

// DeleteBuffer implements audio.Device
func (d *Device) DeleteBuffer(id uint32) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if _, ok := d.buffers[id]; !ok {
		return fmt.Errorf("buffer %d: %w", id, audio.ErrNotFound)
	}
	delete(d.buffers, id)
	return nil
}

// CreateSource implements audio.Device
func (d *Device) CreateSource() (audio.Source, error) {
	return &Source{dev: d, volume: 1}, nil
}

// Close shuts the SDL audio subsystem down. Sources must be closed first.
func (d *Device) Close() {
	sdl.QuitSubSystem(sdl.INIT_AUDIO)
}

func (d *Device) buffer(id uint32) (buffer, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	buf, ok := d.buffers[id]
	if !ok {
		return buffer{}, fmt.Errorf("buffer %d: %w", id, audio.ErrNotFound)
	}
	return buf, nil
}

type queued struct {
	id  uint32
	len uint32
}

// Source implements audio.Source. SDL does not track buffers, so the
// source counts bytes: a buffer is processed once SDL consumed all of it.
type Source struct {
	dev *Device

	mutex   sync.Mutex
	id      sdl.AudioDeviceID
	format  audio.Format
	opened  bool
	queue   []queued
	total   uint32
	looping bool
	volume  float32
}

var _ audio.Source = (*Source)(nil)

func (s *Source) openLocked(format audio.Format) error {
	if s.opened {
		if format != s.format {
			return fmt.Errorf("source opened for %+v, buffer is %+v", s.format, format)
		}
		return nil
	}
	spec := sdl.AudioSpec{
		Freq:     int32(format.SampleRate),
		Format:   sdl.AUDIO_S16LSB,
		Channels: uint8(format.Channels),
		Samples:  samples,
	}
	id, err := sdl.OpenAudioDevice("", false, &spec, nil, 0)
	if err != nil {
		return err
	}
	s.id, s.format, s.opened = id, format, true
	return nil
}

// SetLooping implements audio.Source. Looping replays every queued buffer
// once SDL ran out of data.
func (s *Source) SetLooping(loop bool) {
	s.mutex.Lock()
	s.looping = loop
	s.mutex.Unlock()
}

// Queue implements audio.Source
func (s *Source) Queue(buffers ...uint32) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for _, id := range buffers {
		buf, err := s.dev.buffer(id)
		if err != nil {
			return err
		}
		if err := s.openLocked(buf.format); err != nil {
			return err
		}
		pcm := audio.ScaleS16(buf.pcm, s.volume)
		if err := sdl.QueueAudio(s.id, pcm); err != nil {
			return err
		}
		s.queue = append(s.queue, queued{id: id, len: uint32(len(pcm))})
		s.total += uint32(len(pcm))
	}
	return nil
}

// Unqueue implements audio.Source
func (s *Source) Unqueue(n int) ([]uint32, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if processed := s.processedLocked(); n > processed {
		return nil, fmt.Errorf("unqueue %d buffers, %d processed", n, processed)
	}
	ids := make([]uint32, n)
	for i, q := range s.queue[:n] {
		ids[i] = q.id
		s.total -= q.len
	}
	s.queue = s.queue[n:]
	return ids, nil
}

// Processed implements audio.Source
func (s *Source) Processed() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.processedLocked()
}

func (s *Source) processedLocked() int {
	if !s.opened {
		return 0
	}
	remaining := sdl.GetQueuedAudioSize(s.id)
	if remaining == 0 && s.looping && len(s.queue) > 0 {
		s.requeueLocked()
		return 0
	}
	consumed := s.total - remaining
	n := 0
	for _, q := range s.queue {
		if consumed < q.len {
			break
		}
		consumed -= q.len
		n++
	}
	return n
}

func (s *Source) requeueLocked() {
	for _, q := range s.queue {
		buf, err := s.dev.buffer(q.id)
		if err != nil {
			continue
		}
		sdl.QueueAudio(s.id, audio.ScaleS16(buf.pcm, s.volume))
	}
}

// Play implements audio.Source
func (s *Source) Play() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.opened {
		sdl.PauseAudioDevice(s.id, false)
	}
	return nil
}

// Stop implements audio.Source. Everything queued counts as processed.
func (s *Source) Stop() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.opened {
		sdl.PauseAudioDevice(s.id, true)
		sdl.ClearQueuedAudio(s.id)
	}
	return nil
}

// Playing implements audio.Source
func (s *Source) Playing() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.opened &&
		sdl.GetAudioDeviceStatus(s.id) == sdl.AUDIO_PLAYING &&
		sdl.GetQueuedAudioSize(s.id) > 0
}

// SetVolume implements audio.Source. It applies to buffers queued afterwards.
func (s *Source) SetVolume(volume float32) {
	s.mutex.Lock()
	s.volume = volume
	s.mutex.Unlock()
}

// Volume implements audio.Source
func (s *Source) Volume() float32 {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.volume
}

// Close implements audio.Source
func (s *Source) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.opened {
		sdl.CloseAudioDevice(s.id)
		s.opened = false
	}
	s.queue, s.total = nil, 0
	return nil
}
