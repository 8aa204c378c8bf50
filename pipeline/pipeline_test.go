// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package pipeline_test

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/devblok/korures/audio"
	"github.com/devblok/korures/core"
	"github.com/devblok/korures/gfx/nulldev"
	"github.com/devblok/korures/model"
	"github.com/devblok/korures/pipeline"
	"github.com/devblok/korures/queue"
	"github.com/devblok/korures/resource"
	"github.com/devblok/korures/source"
	"github.com/devblok/korures/texture"
	"github.com/faiface/beep"
	"github.com/faiface/beep/wav"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	toneFrames  = 1000
	musicFrames = 8000
)

type fixture struct {
	p     *pipeline.Pipeline
	dev   *nulldev.Device
	audio *audio.NullDevice
	root  string
}

func writePNG(t *testing.T, path string, size int) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	img.Set(0, 0, color.NRGBA{R: 10, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
}

func writeWAV(t *testing.T, path string, frames int) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	pos := 0
	tone := beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		for i := range samples {
			v := 0.25 * math.Sin(2*math.Pi*220*float64(pos)/8000)
			samples[i] = [2]float64{v, v}
			pos++
		}
		return len(samples), true
	})
	require.NoError(t, wav.Encode(f, beep.Take(frames, tone), beep.Format{SampleRate: 8000, NumChannels: 1, Precision: 2}))
	require.NoError(t, f.Close())
}

func writeAssets(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for _, name := range []string{"a.png", "b.png", "c.png", "d.png", "e.png"} {
		writePNG(t, filepath.Join(root, name), 4)
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "broken.png"), []byte("definitely not an image"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("hello"), 0644))

	dae, err := os.ReadFile("../model/testdata/quad.dae")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, "quad.dae"), dae, 0644))

	writeWAV(t, filepath.Join(root, "tone.wav"), toneFrames)
	writeWAV(t, filepath.Join(root, "music.wav"), musicFrames)
	return root
}

func newFixture(t *testing.T, configure func(*core.Configuration)) *fixture {
	t.Helper()
	cfg := core.DefaultConfiguration()
	cfg.Cache.SweepInterval = 0
	cfg.Streaming.ChunkFrames = 1024
	cfg.Streaming.Buffers = 3
	cfg.Streaming.PollInterval = core.Duration(time.Hour)
	cfg.Streaming.Threshold = 10000
	if configure != nil {
		configure(&cfg)
	}

	root := writeAssets(t)
	logger, _ := test.NewNullLogger()
	dev := nulldev.New()
	audioDev := audio.NewNullDevice()

	p, err := pipeline.New(cfg, dev, audioDev, source.NewDir(root), logger)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return &fixture{p: p, dev: dev, audio: audioDev, root: root}
}

// wait pumps uploads until h stops loading.
func (f *fixture) wait(t *testing.T, h *resource.Handle) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !h.State().Terminal() {
		if time.Now().After(deadline) {
			t.Fatalf("%s still %s", h.Key(), h.State())
		}
		f.p.PumpUploads(queue.Budget{})
		time.Sleep(time.Millisecond)
	}
}

func TestAcquireTexture(t *testing.T) {
	f := newFixture(t, nil)

	h := f.p.Acquire("./a.png", pipeline.WithTexture(texture.Options{}.ClampEdges()))
	assert.False(t, h.Loaded())
	f.wait(t, h)

	require.Equal(t, resource.Loaded, h.State(), "err: %v", h.Err())
	ids := h.GPUIDs()
	require.Len(t, ids, 1)
	tex, ok := f.dev.Texture(ids[0])
	require.True(t, ok)
	assert.Equal(t, 4, tex.Desc.Width)
	assert.Len(t, tex.Levels, 3)
	assert.Nil(t, h.Payload())
	assert.Equal(t, texture.Info{Width: 4, Height: 4, Levels: 3}, h.Info())

	select {
	case <-h.Ready():
	default:
		t.Error("ready not closed")
	}
	assert.Equal(t, 1, f.p.Stats().Uploaded)
}

func TestAcquireSameHandle(t *testing.T) {
	f := newFixture(t, nil)

	const callers = 16
	handles := make([]*resource.Handle, callers)
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			handles[i] = f.p.Acquire("a.png")
		}(i)
	}
	wg.Wait()

	for _, h := range handles[1:] {
		assert.Same(t, handles[0], h)
	}
	assert.EqualValues(t, 1, f.p.Stats().Cache.Misses)

	f.wait(t, handles[0])
	assert.Same(t, handles[0], f.p.Acquire("a.png"))
	assert.Equal(t, 1, f.dev.Stats().Textures)
}

func TestAcquireAfterSweep(t *testing.T) {
	f := newFixture(t, func(cfg *core.Configuration) {
		cfg.Cache.ByteBudget = 50
	})

	first := f.p.Acquire("a.png")
	f.wait(t, first)
	require.True(t, first.Loaded())
	require.Greater(t, first.Size(), int64(50))

	// inserting b goes over budget and sweeps a
	f.wait(t, f.p.Acquire("b.png"))

	second := f.p.Acquire("a.png")
	require.NotSame(t, first, second)
	f.wait(t, second)

	assert.True(t, first.Loaded())
	assert.True(t, second.Loaded())
	assert.NotEqual(t, first.GPUIDs(), second.GPUIDs())
	assert.Equal(t, 3, f.dev.Stats().Textures)
}

func TestPumpBudget(t *testing.T) {
	f := newFixture(t, nil)

	var handles []*resource.Handle
	for _, name := range []string{"a.png", "b.png", "c.png", "d.png", "e.png"} {
		handles = append(handles, f.p.Acquire(name))
	}
	require.Eventually(t, func() bool {
		s := f.p.Stats()
		return s.PendingDecode == 0 && s.PendingUpload == 5
	}, 5*time.Second, time.Millisecond)

	assert.Equal(t, 2, f.p.PumpUploads(queue.Budget{MaxItems: 2}))
	assert.Equal(t, 3, f.p.Stats().PendingUpload)
	assert.Equal(t, 2, f.dev.Stats().Textures)

	assert.Equal(t, 2, f.p.PumpUploads(queue.Budget{MaxItems: 2}))
	assert.Equal(t, 1, f.p.PumpUploads(queue.Budget{MaxItems: 2}))
	assert.Equal(t, 0, f.p.PumpUploads(queue.Budget{MaxItems: 2}))

	for _, h := range handles {
		assert.True(t, h.Loaded(), h.Key())
	}
}

func TestDecodeFailureIsFinal(t *testing.T) {
	f := newFixture(t, nil)

	h := f.p.Acquire("broken.png")
	<-h.Ready()
	for i := 0; i < 3; i++ {
		f.p.PumpUploads(queue.Budget{})
	}

	assert.Equal(t, resource.Failed, h.State())
	assert.Equal(t, resource.FailureDecode, resource.FailureKind(h.Err()))
	assert.ErrorIs(t, h.Err(), texture.ErrNotImage)
	assert.Same(t, h, f.p.Acquire("broken.png"))
	assert.Equal(t, 0, f.dev.Stats().Textures)

	missing := f.p.Acquire("missing.png")
	<-missing.Ready()
	assert.ErrorIs(t, missing.Err(), source.ErrNotExist)

	unknown := f.p.Acquire("notes.txt")
	assert.Equal(t, resource.Failed, unknown.State())
	assert.ErrorIs(t, unknown.Err(), pipeline.ErrUnknownKind)
}

func TestUploadFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.dev.Fail(nulldev.OpCreateTexture, errors.New("out of device memory"))

	h := f.p.Acquire("a.png")
	f.wait(t, h)
	f.p.PumpUploads(queue.Budget{})

	assert.Equal(t, resource.Failed, h.State())
	assert.Equal(t, resource.FailureUpload, resource.FailureKind(h.Err()))
	assert.Equal(t, 0, f.p.Stats().Uploaded)
}

func TestAcquireMesh(t *testing.T) {
	f := newFixture(t, nil)

	h := f.p.Acquire("quad.dae")
	f.wait(t, h)
	require.True(t, h.Loaded(), "err: %v", h.Err())

	info := h.Info().(model.Info)
	assert.Equal(t, 6, info.VertexCount)
	rec, ok := f.p.Registry().Lookup(info.VAO)
	require.True(t, ok)
	require.Len(t, rec.Buffers, 1)

	require.NoError(t, f.p.Dispose(h))
	assert.Equal(t, resource.Disposed, h.State())
	_, ok = f.p.Registry().Lookup(info.VAO)
	assert.False(t, ok)
	assert.Equal(t, rec.Buffers, f.dev.DeletedBuffers())
	assert.Equal(t, []uint32{info.VAO}, f.dev.DeletedVertexArrays())
	assert.NotSame(t, h, f.p.Acquire("quad.dae"))
}

func TestLoadModes(t *testing.T) {
	f := newFixture(t, nil)

	caller := f.p.Acquire("a.png", pipeline.WithMode(pipeline.Caller))
	assert.Equal(t, resource.PendingUpload, caller.State())
	f.p.PumpUploads(queue.Budget{})
	assert.True(t, caller.Loaded())

	immediate := f.p.AcquireTexture("b.png", texture.Options{}.WithoutMipmap(), pipeline.WithMode(pipeline.Immediate))
	require.True(t, immediate.Loaded(), "err: %v", immediate.Err())
	assert.Equal(t, 1, immediate.Info().(texture.Info).Levels)
	assert.Equal(t, 0, f.p.Stats().PendingUpload)
}

func TestDisposePending(t *testing.T) {
	f := newFixture(t, nil)

	h := f.p.Acquire("a.png", pipeline.WithMode(pipeline.Caller))
	require.Equal(t, resource.PendingUpload, h.State())
	require.NoError(t, f.p.Dispose(h))

	assert.Equal(t, 1, f.p.PumpUploads(queue.Budget{}))
	assert.Equal(t, resource.Disposed, h.State())
	assert.Equal(t, 0, f.dev.Stats().Textures)
}

func TestSounds(t *testing.T) {
	f := newFixture(t, nil)

	tone := f.p.Acquire("tone.wav")
	f.wait(t, tone)
	require.True(t, tone.Loaded(), "err: %v", tone.Err())
	ids := tone.GPUIDs()
	require.Len(t, ids, 1)
	n, ok := f.audio.BufferLen(ids[0])
	require.True(t, ok)
	assert.Equal(t, toneFrames*audio.BytesPerSample, n)

	src, err := f.audio.CreateSource()
	require.NoError(t, err)
	require.NoError(t, f.p.PlaySound(tone, src, false))
	assert.True(t, src.Playing())

	_, err = f.p.PlayStream(tone, src, false)
	assert.ErrorIs(t, err, pipeline.ErrNotStream)
}

func TestStreamedSound(t *testing.T) {
	f := newFixture(t, nil)

	music := f.p.AcquireSound("music.wav")
	<-music.Ready()
	require.True(t, music.Loaded(), "err: %v", music.Err())
	assert.Empty(t, music.GPUIDs())
	assert.Equal(t, audio.Info{Format: audio.Format{SampleRate: 8000, Channels: 1}, Frames: musicFrames, Streamed: true}, music.Info())

	src, err := f.audio.CreateSource()
	require.NoError(t, err)
	state, err := f.p.PlayStream(music, src, true)
	require.NoError(t, err)
	assert.Len(t, state.Queued(), 3)
	assert.Equal(t, 1, f.p.Stats().Streams)
	assert.Equal(t, 3, f.audio.LiveBuffers())

	assert.ErrorIs(t, f.p.PlaySound(music, src, false), pipeline.ErrNotSound)

	f.p.StopStream(state)
	<-state.Done()
	assert.Equal(t, 0, f.p.Stats().Streams)
	assert.Equal(t, 0, f.audio.LiveBuffers())
}

func TestReleaseAll(t *testing.T) {
	f := newFixture(t, nil)

	handles := []*resource.Handle{
		f.p.Acquire("a.png"),
		f.p.Acquire("quad.dae"),
		f.p.Acquire("tone.wav"),
	}
	for _, h := range handles {
		f.wait(t, h)
		require.True(t, h.Loaded(), "%s: %v", h.Key(), h.Err())
	}
	music := f.p.Acquire("music.wav")
	<-music.Ready()
	src, err := f.audio.CreateSource()
	require.NoError(t, err)
	_, err = f.p.PlayStream(music, src, false)
	require.NoError(t, err)

	f.p.ReleaseAll()

	for _, h := range handles {
		assert.Equal(t, resource.Disposed, h.State())
	}
	stats := f.dev.Stats()
	assert.Zero(t, stats.Textures)
	assert.Zero(t, stats.Buffers)
	assert.Zero(t, stats.VertexArrays)
	assert.Zero(t, f.audio.LiveBuffers())
	assert.Zero(t, f.p.Registry().Len())

	s := f.p.Stats()
	assert.Zero(t, s.Cache.Len)
	assert.Zero(t, s.Uploaded)
	assert.Zero(t, s.Streams)
}

func TestForeignThread(t *testing.T) {
	f := newFixture(t, func(cfg *core.Configuration) {
		cfg.Pipeline.Strict = false
	})

	h := f.p.Acquire("a.png")
	require.Eventually(t, func() bool {
		return f.p.Stats().PendingUpload == 1
	}, 5*time.Second, time.Millisecond)

	var (
		pumped     int
		disposeErr error
		immediate  *resource.Handle
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		pumped = f.p.PumpUploads(queue.Budget{})
		disposeErr = f.p.Dispose(h)
		immediate = f.p.Acquire("b.png", pipeline.WithMode(pipeline.Immediate))
	}()
	<-done

	assert.Zero(t, pumped)
	assert.Equal(t, resource.FailureThreading, resource.FailureKind(disposeErr))
	assert.Equal(t, resource.Failed, immediate.State())
	assert.Equal(t, resource.FailureThreading, resource.FailureKind(immediate.Err()))

	f.wait(t, h)
	assert.True(t, h.Loaded())
}

func TestWatchEvictsChangedFiles(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.p.Watch(f.root))

	h := f.p.Acquire("c.png")
	f.wait(t, h)

	writePNG(t, filepath.Join(f.root, "c.png"), 8)
	require.Eventually(t, func() bool {
		return f.p.Acquire("c.png") != h
	}, 5*time.Second, 10*time.Millisecond)
	assert.True(t, h.Loaded())
}

func TestNewInvalidConfiguration(t *testing.T) {
	cfg := core.DefaultConfiguration()
	cfg.Pipeline.Workers = 0
	_, err := pipeline.New(cfg, nulldev.New(), nil, source.NewDir(t.TempDir()), nil)
	assert.Error(t, err)

	// a zero poll interval would stop the stream feeder with a ticker panic
	cfg = core.DefaultConfiguration()
	cfg.Streaming.PollInterval = 0
	_, err = pipeline.New(cfg, nulldev.New(), audio.NewNullDevice(), source.NewDir(t.TempDir()), nil)
	assert.Error(t, err)
}

func TestWithoutAudio(t *testing.T) {
	logger, _ := test.NewNullLogger()
	p, err := pipeline.New(core.DefaultConfiguration(), nulldev.New(), nil, source.NewDir(writeAssets(t)), logger)
	require.NoError(t, err)
	defer p.Close()

	h := p.Acquire("tone.wav")
	deadline := time.Now().Add(5 * time.Second)
	for !h.State().Terminal() && time.Now().Before(deadline) {
		p.PumpUploads(queue.Budget{})
		time.Sleep(time.Millisecond)
	}
	assert.ErrorIs(t, h.Err(), pipeline.ErrNoAudio)
	assert.Equal(t, resource.FailureUpload, resource.FailureKind(h.Err()))
}
