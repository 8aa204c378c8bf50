// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Command korucli loads resources without a window, using in-memory
// devices, and prints how every load ended as JSON. With -devices it
// lists the Vulkan devices instead.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/devblok/korures/audio"
	"github.com/devblok/korures/core"
	"github.com/devblok/korures/gfx/nulldev"
	"github.com/devblok/korures/gfx/vkr"
	"github.com/devblok/korures/pipeline"
	"github.com/devblok/korures/queue"
	"github.com/devblok/korures/resource"
	"github.com/devblok/korures/source"
	log "github.com/sirupsen/logrus"
)

var (
	configPath = flag.String("config", "", "TOML configuration file")
	root       = flag.String("root", "", "resource directory, overrides the configuration")
	archive    = flag.String("archive", "", "kar archive, overrides the configuration")
	devices    = flag.Bool("devices", false, "list Vulkan devices and exit")
	timeout    = flag.Duration("timeout", 10*time.Second, "give up on loads after this long")
)

type report struct {
	Path   string      `json:"path"`
	Kind   string      `json:"kind"`
	State  string      `json:"state"`
	Error  string      `json:"error,omitempty"`
	Size   int64       `json:"size"`
	GPUIDs []uint32    `json:"gpu_ids,omitempty"`
	Info   interface{} `json:"info,omitempty"`
}

type output struct {
	Resources []report       `json:"resources"`
	Pipeline  pipeline.Stats `json:"pipeline"`
	Device    nulldev.Stats  `json:"device"`
}

func main() {
	flag.Parse()

	cfg, err := core.LoadConfiguration(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	logger := core.NewLogger(cfg.Log)

	if *devices {
		if err := listDevices(cfg.Renderer); err != nil {
			logger.Fatal(err)
		}
		return
	}

	if *root != "" {
		cfg.Resources.Root = *root
	}
	if *archive != "" {
		cfg.Resources.Archive = *archive
	}
	cfg.Resources.Watch = false

	src, err := source.FromConfig(cfg.Resources)
	if err != nil {
		logger.Fatal(err)
	}

	dev := nulldev.New()
	p, err := pipeline.New(cfg, dev, audio.NewNullDevice(), src, logger)
	if err != nil {
		logger.Fatal(err)
	}
	defer p.Close()

	handles := make([]*resource.Handle, 0, flag.NArg())
	for _, path := range flag.Args() {
		handles = append(handles, p.Acquire(path))
	}

	deadline := time.Now().Add(*timeout)
	for !done(handles) && time.Now().Before(deadline) {
		p.PumpUploads(queue.Budget{})
		time.Sleep(time.Millisecond)
	}

	out := output{
		Pipeline: p.Stats(),
		Device:   dev.Stats(),
	}
	for _, h := range handles {
		r := report{
			Path:   string(h.Key()),
			Kind:   h.Kind().String(),
			State:  h.State().String(),
			Size:   h.Size(),
			GPUIDs: h.GPUIDs(),
			Info:   h.Info(),
		}
		if err := h.Err(); err != nil {
			r.Error = err.Error()
		}
		out.Resources = append(out.Resources, r)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		logger.Fatal(err)
	}
}

func done(handles []*resource.Handle) bool {
	for _, h := range handles {
		if !h.State().Terminal() {
			return false
		}
	}
	return true
}

func listDevices(cfg core.RendererConfiguration) error {
	instance, err := vkr.NewInstance(vkr.DefaultApplicationInfo, nil, nil, cfg)
	if err != nil {
		return err
	}
	defer instance.Destroy()

	bytes, err := json.Marshal(instance.PhysicalDevicesInfo())
	if err != nil {
		return err
	}
	fmt.Printf("%s\n", bytes)
	return nil
}
