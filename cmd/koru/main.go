// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Command koru opens a window, loads the resources given on the command
// line through the pipeline and pumps their uploads once per frame.
package main

import (
	"flag"
	"runtime"
	"time"

	"github.com/devblok/korures/audio"
	"github.com/devblok/korures/audio/sdlaudio"
	"github.com/devblok/korures/core"
	"github.com/devblok/korures/gfx/vkr"
	"github.com/devblok/korures/pipeline"
	"github.com/devblok/korures/queue"
	"github.com/devblok/korures/resource"
	"github.com/devblok/korures/source"
	log "github.com/sirupsen/logrus"
	"github.com/veandco/go-sdl2/sdl"
)

func init() {
	runtime.LockOSThread()
}

var (
	configPath = flag.String("config", "", "TOML configuration file")
	envFile    = flag.String("env", "", "dotenv file with KORU_* overrides")
	music      = flag.String("music", "", "sound to stream on a loop")
	uploadFrac = flag.Float64("upload-share", 0.25, "share of a frame spent on uploads")
)

func newWindow(cfg core.RendererConfiguration) (*sdl.Window, error) {
	return sdl.CreateWindow("Koru3D",
		sdl.WINDOWPOS_UNDEFINED,
		sdl.WINDOWPOS_UNDEFINED,
		int32(cfg.ScreenWidth),
		int32(cfg.ScreenHeight),
		sdl.WINDOW_VULKAN)
}

func main() {
	flag.Parse()

	if *envFile != "" {
		if err := core.LoadEnvFiles(*envFile); err != nil {
			log.Fatal(err)
		}
	}
	cfg, err := core.LoadConfiguration(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	logger := core.NewLogger(cfg.Log)

	if err := sdl.Init(sdl.INIT_VIDEO | sdl.INIT_EVENTS); err != nil {
		logger.Fatal(err)
	}
	defer sdl.Quit()

	if err := sdl.VulkanLoadLibrary(""); err != nil {
		logger.Fatal(err)
	}
	defer sdl.VulkanUnloadLibrary()

	window, err := newWindow(cfg.Renderer)
	if err != nil {
		logger.Fatal(err)
	}
	defer window.Destroy()

	instance, err := vkr.NewInstance(vkr.DefaultApplicationInfo, sdl.VulkanGetVkGetInstanceProcAddr(), window.VulkanGetInstanceExtensions(), cfg.Renderer)
	if err != nil {
		logger.Fatal(err)
	}
	defer instance.Destroy()

	device, err := vkr.NewDevice(instance, 0, cfg.Renderer, logger)
	if err != nil {
		logger.Fatal(err)
	}
	defer device.Destroy()

	var audioDev audio.Device
	if sdlAudio, err := sdlaudio.New(); err != nil {
		logger.WithError(err).Warn("audio disabled")
	} else {
		defer sdlAudio.Close()
		audioDev = sdlAudio
	}

	src, err := source.FromConfig(cfg.Resources)
	if err != nil {
		logger.Fatal(err)
	}

	p, err := pipeline.New(cfg, device, audioDev, src, logger)
	if err != nil {
		logger.Fatal(err)
	}
	defer p.Close()

	for _, path := range flag.Args() {
		p.Acquire(path)
	}
	var (
		musicHandle  *resource.Handle
		musicStarted bool
	)
	if *music != "" && audioDev != nil {
		musicHandle = p.AcquireSound(*music)
	}

	clock := core.NewTime(cfg.Time)
	defer clock.Stop()
	budget := queue.Budget{
		MaxItems: cfg.Pipeline.UploadBudget,
		MaxTime:  clock.FrameBudget(*uploadFrac),
	}

	for {
		<-clock.FpsTicker().C
		frame := clock.Frame()

		for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
			switch et := event.(type) {
			case *sdl.KeyboardEvent:
				if et.Keysym.Sym == sdl.K_ESCAPE {
					logger.Info("event loop exited")
					return
				}
			case *sdl.QuitEvent:
				logger.Info("event loop exited")
				return
			}
		}

		p.PumpUploads(budget)

		if musicHandle != nil && !musicStarted && musicHandle.State().Terminal() {
			musicStarted = true
			startMusic(p, audioDev, musicHandle, logger)
		}

		if fps := clock.Fps(); fps > 0 && frame%uint64(fps*5) == 0 {
			stats := p.Stats()
			mem := device.MemoryUsage()
			logger.WithFields(log.Fields{
				"uptime":         clock.Uptime().Round(time.Second),
				"pending_decode": stats.PendingDecode,
				"pending_upload": stats.PendingUpload,
				"uploaded":       stats.Uploaded,
				"cache_bytes":    stats.Cache.Bytes,
				"device_bytes":   mem.Bytes,
				"allocations":    mem.Allocations,
			}).Info("pipeline stats")
		}
	}
}

func startMusic(p *pipeline.Pipeline, dev audio.Device, h *resource.Handle, logger log.FieldLogger) {
	fields := log.Fields{"path": h.Key()}
	if err := h.Err(); err != nil {
		logger.WithFields(fields).WithError(err).Error("music did not load")
		return
	}
	src, err := dev.CreateSource()
	if err != nil {
		logger.WithFields(fields).WithError(err).Error("no audio source")
		return
	}
	if _, err := p.PlayStream(h, src, true); err == nil {
		return
	}
	if err := p.PlaySound(h, src, true); err != nil {
		logger.WithFields(fields).WithError(err).Error("music does not play")
	}
}
