// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package pipeline

import (
	"fmt"
	"io"

	"github.com/devblok/korures/audio"
	"github.com/devblok/korures/model"
	"github.com/devblok/korures/queue"
	"github.com/devblok/korures/resource"
	"github.com/devblok/korures/texture"
	log "github.com/sirupsen/logrus"
)

// Acquire returns the handle for path, starting a load when the path is
// not cached. The kind of resource follows the file extension. It never
// waits on I/O unless the Caller or Immediate mode asks for it, errors
// end up on the handle.
func (p *Pipeline) Acquire(path string, opts ...Option) *resource.Handle {
	key := resource.NewKey(path)
	return p.acquire(key, resource.KindOf(key), opts)
}

// AcquireTexture is Acquire for an image, whatever its extension.
func (p *Pipeline) AcquireTexture(path string, tex texture.Options, opts ...Option) *resource.Handle {
	return p.acquire(resource.NewKey(path), resource.KindTexture, append([]Option{WithTexture(tex)}, opts...))
}

// AcquireMesh is Acquire for a COLLADA mesh, whatever its extension.
func (p *Pipeline) AcquireMesh(path string, opts ...Option) *resource.Handle {
	return p.acquire(resource.NewKey(path), resource.KindMesh, opts)
}

// AcquireSound is Acquire for a WAV or Ogg Vorbis sound, whatever its extension.
func (p *Pipeline) AcquireSound(path string, opts ...Option) *resource.Handle {
	return p.acquire(resource.NewKey(path), resource.KindSound, opts)
}

func (p *Pipeline) acquire(key resource.Key, kind resource.Kind, opts []Option) *resource.Handle {
	h, created := p.cache.GetOrCreate(key, func() *resource.Handle {
		return resource.New(key, kind)
	})
	if !created {
		return h
	}

	var r request
	for _, opt := range opts {
		opt(&r)
	}
	fields := log.Fields{"path": key, "kind": kind, "mode": r.mode}

	req := queue.LoadRequest{Handle: h}
	switch kind {
	case resource.KindTexture:
		req.Decode, req.Upload = p.textureLoader(key, r.texture)
	case resource.KindMesh:
		req.Decode, req.Upload = p.meshLoader(key)
	case resource.KindSound:
		req.Decode, req.Upload = p.soundLoader(key)
	default:
		h.Fail(&resource.DecodeError{Path: string(key), Err: ErrUnknownKind})
		p.logger.WithFields(fields).Error("no loader for resource")
		return h
	}

	switch r.mode {
	case Caller:
		if err := h.Submit(); err == nil {
			queue.Decode(req, p.uploads, p.logger)
		}
	case Immediate:
		if err := p.guard.Enter("pipeline.Acquire"); err != nil {
			h.Fail(err)
			return h
		}
		if err := h.Submit(); err == nil {
			queue.Decode(req, immediate{p.uploads}, p.logger)
		}
	default:
		if err := p.loads.Submit(req); err != nil {
			h.Fail(&resource.DecodeError{Path: string(key), Err: err})
			p.logger.WithFields(fields).WithError(err).Error("load not queued")
		}
	}
	return h
}

// immediate runs uploads as soon as they are submitted.
type immediate struct {
	uploads *queue.Bound
}

func (i immediate) Submit(req queue.UploadRequest) {
	i.uploads.Execute(req)
}

func (p *Pipeline) textureLoader(key resource.Key, opts texture.Options) (queue.DecodeFunc, queue.UploadFunc) {
	decode := func() (queue.Decoded, error) {
		data, err := p.src.ReadFile(key)
		if err != nil {
			return queue.Decoded{}, err
		}
		img, err := texture.Decode(data, opts)
		if err != nil {
			return queue.Decoded{}, err
		}
		return queue.Decoded{Payload: img, Size: img.Size()}, nil
	}
	upload := func(payload interface{}) (queue.Uploaded, error) {
		id, info, err := texture.Upload(p.dev, payload.(*texture.Image))
		if err != nil {
			return queue.Uploaded{}, err
		}
		return queue.Uploaded{IDs: []uint32{id}, Info: info}, nil
	}
	return decode, upload
}

func (p *Pipeline) meshLoader(key resource.Key) (queue.DecodeFunc, queue.UploadFunc) {
	decode := func() (queue.Decoded, error) {
		data, err := p.src.ReadFile(key)
		if err != nil {
			return queue.Decoded{}, err
		}
		mesh, err := model.ImportCollada(data)
		if err != nil {
			return queue.Decoded{}, err
		}
		return queue.Decoded{Payload: mesh, Size: mesh.Size()}, nil
	}
	upload := func(payload interface{}) (queue.Uploaded, error) {
		info, err := model.Upload(p.registry, payload.(*model.Mesh))
		if err != nil {
			return queue.Uploaded{}, err
		}
		return queue.Uploaded{IDs: []uint32{info.VAO}, Info: info}, nil
	}
	return decode, upload
}

// soundLoader decodes short sounds whole for a single buffer upload.
// Files of at least the streaming threshold are only probed, they stay
// on the CPU side and are decoded chunk by chunk when played.
func (p *Pipeline) soundLoader(key resource.Key) (queue.DecodeFunc, queue.UploadFunc) {
	open := func() (io.ReadCloser, error) {
		return p.src.Open(key)
	}
	decode := func() (queue.Decoded, error) {
		size, err := p.src.Size(key)
		if err != nil {
			return queue.Decoded{}, err
		}
		if threshold := p.cfg.Streaming.Threshold; threshold > 0 && size >= threshold {
			stream, err := audio.Probe(open)
			if err != nil {
				return queue.Decoded{}, err
			}
			return queue.Decoded{
				Payload:  stream,
				Info:     audio.Info{Format: stream.Format, Frames: stream.Frames, Streamed: true},
				Size:     size,
				Resident: true,
			}, nil
		}
		sound, err := audio.DecodeSound(open, p.cfg.Streaming.ChunkFrames)
		if err != nil {
			return queue.Decoded{}, err
		}
		return queue.Decoded{Payload: sound, Size: int64(len(sound.PCM))}, nil
	}
	upload := func(payload interface{}) (queue.Uploaded, error) {
		if p.audioDev == nil {
			return queue.Uploaded{}, ErrNoAudio
		}
		id, info, err := audio.Upload(p.audioDev, payload.(*audio.Sound))
		if err != nil {
			return queue.Uploaded{}, err
		}
		return queue.Uploaded{IDs: []uint32{id}, Info: info}, nil
	}
	return decode, upload
}

// PlayStream starts feeding a streamed sound into src. The stream keeps
// playing, and with loop set repeats, until it ends or is stopped with
// StopStream.
func (p *Pipeline) PlayStream(h *resource.Handle, src audio.Source, loop bool) (*audio.StreamState, error) {
	if p.feeder == nil {
		return nil, ErrNoAudio
	}
	if !h.Loaded() {
		return nil, fmt.Errorf("%s: %w", h.Key(), ErrNotLoaded)
	}
	stream, ok := h.Payload().(*audio.Stream)
	if !ok {
		return nil, fmt.Errorf("%s: %w", h.Key(), ErrNotStream)
	}
	dec, err := stream.Decoder()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", h.Key(), err)
	}
	return p.feeder.Start(string(h.Key()), dec, src, loop)
}

// StopStream stops a stream started with PlayStream and frees its buffers.
func (p *Pipeline) StopStream(state *audio.StreamState) {
	if p.feeder != nil {
		p.feeder.Stop(state)
	}
}

// PlaySound queues the buffer of a short sound on src and plays it.
func (p *Pipeline) PlaySound(h *resource.Handle, src audio.Source, loop bool) error {
	if !h.Loaded() {
		return fmt.Errorf("%s: %w", h.Key(), ErrNotLoaded)
	}
	ids := h.GPUIDs()
	if h.Kind() != resource.KindSound || len(ids) != 1 {
		return fmt.Errorf("%s: %w", h.Key(), ErrNotSound)
	}
	src.SetLooping(loop)
	if err := src.Queue(ids[0]); err != nil {
		return err
	}
	return src.Play()
}
