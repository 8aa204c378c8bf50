// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package pipeline is the entry point of resource loading. Acquire hands
// out a handle right away and loads it in the background. The thread
// that created the Pipeline pumps the finished decodes into the graphics
// and audio contexts once per frame.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/devblok/korures/audio"
	"github.com/devblok/korures/cache"
	"github.com/devblok/korures/core"
	"github.com/devblok/korures/gfx"
	"github.com/devblok/korures/queue"
	"github.com/devblok/korures/resource"
	"github.com/devblok/korures/source"
	log "github.com/sirupsen/logrus"
)

// package errors
var (
	ErrUnknownKind = errors.New("no loader for file type")
	ErrNoAudio     = errors.New("pipeline has no audio device")
	ErrNotLoaded   = errors.New("resource is not loaded")
	ErrNotStream   = errors.New("resource is not a streamed sound")
	ErrNotSound    = errors.New("resource is not a buffered sound")
)

// Stats is a snapshot of the pipeline.
type Stats struct {
	Cache         cache.Stats `json:"cache"`
	PendingDecode int         `json:"pending_decode"`
	PendingUpload int         `json:"pending_upload"`
	Uploaded      int         `json:"uploaded"`
	Streams       int         `json:"streams"`
}

// New creates a pipeline. The calling goroutine is locked to its thread
// and becomes the only one allowed to pump uploads and dispose
// resources, so New has to be called from the thread owning dev. audioDev
// may be nil, sounds then fail to upload.
func New(cfg core.Configuration, dev gfx.Device, audioDev audio.Device, src source.Source, logger log.FieldLogger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.StandardLogger()
	}

	guard := core.BindOwner(cfg.Pipeline.Strict, logger)
	uploads := queue.NewBound(guard, logger)
	ctx, cancel := context.WithCancel(context.Background())

	p := &Pipeline{
		cfg:      cfg,
		guard:    guard,
		dev:      dev,
		registry: gfx.NewRegistry(dev, guard, logger),
		audioDev: audioDev,
		src:      src,
		cache:    cache.New(cfg.Cache.ByteBudget, logger),
		uploads:  uploads,
		loads:    queue.NewBackground(cfg.Pipeline.Workers, uploads, logger),
		uploaded: make(map[*resource.Handle]struct{}),
		cancel:   cancel,
		logger:   logger,
	}
	uploads.OnLoaded(p.track)

	if audioDev != nil {
		p.feeder = audio.NewFeeder(audioDev, cfg.Streaming.ChunkFrames, cfg.Streaming.Buffers, logger)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.feeder.Run(ctx, cfg.Streaming.PollInterval.Std())
		}()
	}
	if interval := cfg.Cache.SweepInterval.Std(); interval > 0 {
		p.wg.Add(1)
		go p.sweep(ctx, interval)
	}
	if dir, ok := src.(*source.Dir); ok && cfg.Resources.Watch {
		if err := p.Watch(dir.Root()); err != nil {
			p.Close()
			return nil, err
		}
	}

	logger.WithFields(log.Fields{
		"workers": cfg.Pipeline.Workers,
		"budget":  cfg.Cache.ByteBudget,
		"strict":  cfg.Pipeline.Strict,
	}).Info("resource pipeline started")
	return p, nil
}

// Pipeline loads resources from a source into native contexts. Acquire
// and Stats are safe from any goroutine, everything that touches a
// context runs on the owning thread.
type Pipeline struct {
	cfg      core.Configuration
	guard    *core.Guard
	dev      gfx.Device
	registry *gfx.Registry
	audioDev audio.Device
	feeder   *audio.Feeder
	src      source.Source

	cache   *cache.Cache
	uploads *queue.Bound
	loads   *queue.Background

	mutex    sync.Mutex
	uploaded map[*resource.Handle]struct{}
	watchers []*source.Watcher

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once

	logger log.FieldLogger
}

// Registry returns the registry meshes are uploaded through.
func (p *Pipeline) Registry() *gfx.Registry {
	return p.registry
}

// Guard returns the owner thread guard.
func (p *Pipeline) Guard() *core.Guard {
	return p.guard
}

// PumpUploads runs queued uploads within budget and returns how many
// ran. A zero budget drains everything. Owner thread only, once per frame.
func (p *Pipeline) PumpUploads(budget queue.Budget) int {
	return p.uploads.Drain(budget)
}

// Pump runs PumpUploads with the configured per frame budget.
func (p *Pipeline) Pump() int {
	return p.PumpUploads(queue.Budget{
		MaxItems: p.cfg.Pipeline.UploadBudget,
		MaxTime:  p.cfg.Pipeline.UploadTimeBudget.Std(),
	})
}

// Evict drops path from the cache so the next Acquire loads it again.
// Handles already given out stay valid.
func (p *Pipeline) Evict(path string) bool {
	return p.cache.Evict(resource.NewKey(path))
}

// Sweep drops least recently used resources over the byte budget from the cache.
func (p *Pipeline) Sweep() int {
	return p.cache.Sweep()
}

func (p *Pipeline) sweep(ctx context.Context, interval time.Duration) {
	defer p.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := p.cache.Sweep(); n > 0 {
				p.logger.WithField("dropped", n).Debug("cache swept")
			}
		}
	}
}

// Watch evicts files under root from the cache as they change on disk.
func (p *Pipeline) Watch(root string) error {
	w, err := source.NewWatcher(root, func(key resource.Key) {
		if p.cache.Evict(key) {
			p.logger.WithField("path", key).Info("changed resource evicted")
		}
	}, p.logger)
	if err != nil {
		return err
	}
	p.mutex.Lock()
	p.watchers = append(p.watchers, w)
	p.mutex.Unlock()
	return nil
}

func (p *Pipeline) track(h *resource.Handle) {
	p.mutex.Lock()
	p.uploaded[h] = struct{}{}
	p.mutex.Unlock()
}

// Dispose releases the native objects of h and drops it from the cache.
// A handle still loading is disposed too, its upload is skipped.
func (p *Pipeline) Dispose(h *resource.Handle) error {
	if err := p.guard.Enter("pipeline.Dispose"); err != nil {
		return err
	}
	p.cache.EvictHandle(h)
	p.mutex.Lock()
	delete(p.uploaded, h)
	p.mutex.Unlock()
	return p.release(h)
}

func (p *Pipeline) release(h *resource.Handle) error {
	ids := h.Dispose()
	var errs []error
	for _, id := range ids {
		var err error
		switch h.Kind() {
		case resource.KindTexture:
			err = p.dev.DeleteTexture(id)
		case resource.KindMesh:
			err = p.registry.DeleteVertexArray(id)
		case resource.KindSound:
			if p.audioDev != nil {
				err = p.audioDev.DeleteBuffer(id)
			}
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("release %s %d: %w", h.Key(), id, err))
		}
	}
	return errors.Join(errs...)
}

// ReleaseAll stops every stream, releases every uploaded resource and
// clears the cache. Owner thread only.
func (p *Pipeline) ReleaseAll() {
	if err := p.guard.Enter("pipeline.ReleaseAll"); err != nil {
		return
	}
	if p.feeder != nil {
		p.feeder.Close()
	}

	p.mutex.Lock()
	handles := make([]*resource.Handle, 0, len(p.uploaded))
	for h := range p.uploaded {
		handles = append(handles, h)
	}
	p.uploaded = make(map[*resource.Handle]struct{})
	p.mutex.Unlock()

	for _, h := range handles {
		if err := p.release(h); err != nil {
			p.logger.WithField("path", h.Key()).WithError(err).Warn("resource release failed")
		}
	}
	p.registry.DisposeAll()
	p.cache.Clear()
	p.logger.WithField("released", len(handles)).Debug("all resources released")
}

// Stats returns a snapshot of the pipeline counters.
func (p *Pipeline) Stats() Stats {
	p.mutex.Lock()
	uploaded := len(p.uploaded)
	p.mutex.Unlock()

	s := Stats{
		Cache:         p.cache.Stats(),
		PendingDecode: p.loads.Pending(),
		PendingUpload: p.uploads.Len(),
		Uploaded:      uploaded,
	}
	if p.feeder != nil {
		s.Streams = p.feeder.Active()
	}
	return s
}

// Close waits for queued decodes, stops the background goroutines and
// releases everything. Owner thread only.
func (p *Pipeline) Close() {
	p.closeOnce.Do(func() {
		p.loads.Close()

		p.mutex.Lock()
		watchers := p.watchers
		p.watchers = nil
		p.mutex.Unlock()
		for _, w := range watchers {
			w.Close()
		}

		p.cancel()
		p.wg.Wait()
		p.ReleaseAll()
		p.guard.Release()
		p.logger.Info("resource pipeline closed")
	})
}
