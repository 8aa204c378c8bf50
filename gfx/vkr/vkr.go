// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package vkr implements the gfx.Device over Vulkan.
package vkr

import (
	"fmt"

	vk "github.com/vulkan-go/vulkan"
)

// allocate gets memory for req and binds it with bind, freeing it again
// when binding fails.
func allocate(ma *MemoryAllocator, req vk.MemoryRequirements, prop vk.MemoryPropertyFlagBits, bind func(vk.DeviceMemory) vk.Result) (Memory, error) {
	req.Deref()
	memory, err := ma.Malloc(req, prop)
	if err != nil {
		return Memory{}, err
	}
	if err := vk.Error(bind(memory.Get())); err != nil {
		memory.Release()
		return Memory{}, fmt.Errorf("bind memory: %w", err)
	}
	return memory, nil
}

// NewBuffer creates a buffer of size bytes backed by its own allocation.
func NewBuffer(dev vk.Device, size uint, usage vk.BufferUsageFlagBits, prop vk.MemoryPropertyFlagBits, ma *MemoryAllocator) (Buffer, error) {
	createInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       vk.BufferUsageFlags(usage),
		SharingMode: vk.SharingModeExclusive,
	}
	var buffer vk.Buffer
	if err := vk.Error(vk.CreateBuffer(dev, &createInfo, nil, &buffer)); err != nil {
		return Buffer{}, fmt.Errorf("vk.CreateBuffer(): %w", err)
	}

	var req vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(dev, buffer, &req)
	memory, err := allocate(ma, req, prop, func(m vk.DeviceMemory) vk.Result {
		return vk.BindBufferMemory(dev, buffer, m, 0)
	})
	if err != nil {
		vk.DestroyBuffer(dev, buffer, nil)
		return Buffer{}, err
	}

	return Buffer{
		device: dev,
		buffer: buffer,
		size:   size,
		memory: memory,
	}, nil
}

// Buffer is a vertex, index or staging buffer with its memory.
type Buffer struct {
	device vk.Device
	buffer vk.Buffer
	size   uint

	memory Memory
}

// Mem returns the Memory that the buffer is based on.
func (b *Buffer) Mem() *Memory {
	return &b.memory
}

// Get returns the vulkan Buffer handle.
func (b *Buffer) Get() vk.Buffer {
	return b.buffer
}

// Size returns the requested size of the buffer in bytes.
func (b *Buffer) Size() uint {
	return b.size
}

// Release implements gfx.Releasable
func (b *Buffer) Release() {
	vk.DestroyBuffer(b.device, b.buffer, nil)
	b.memory.Release()
}

// NewImage creates a device local RGBA8 image with the given number of
// mip levels, ready to be copied into.
func NewImage(dev vk.Device, width, height, levels uint32, ma *MemoryAllocator) (Image, error) {
	createInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Extent: vk.Extent3D{
			Width:  width,
			Height: height,
			Depth:  1,
		},
		MipLevels:     levels,
		ArrayLayers:   1,
		Format:        vk.FormatR8g8b8a8Unorm,
		Tiling:        vk.ImageTilingOptimal,
		InitialLayout: vk.ImageLayoutUndefined,
		Usage:         vk.ImageUsageFlags(vk.ImageUsageTransferDstBit | vk.ImageUsageSampledBit),
		SharingMode:   vk.SharingModeExclusive,
		Samples:       vk.SampleCount1Bit,
	}

	var image vk.Image
	if err := vk.Error(vk.CreateImage(dev, &createInfo, nil, &image)); err != nil {
		return Image{}, fmt.Errorf("vk.CreateImage(): %w", err)
	}

	var req vk.MemoryRequirements
	vk.GetImageMemoryRequirements(dev, image, &req)
	memory, err := allocate(ma, req, vk.MemoryPropertyDeviceLocalBit, func(m vk.DeviceMemory) vk.Result {
		return vk.BindImageMemory(dev, image, m, 0)
	})
	if err != nil {
		vk.DestroyImage(dev, image, nil)
		return Image{}, err
	}

	return Image{
		device: dev,
		image:  image,
		levels: levels,
		memory: memory,
	}, nil
}

// Image is a sampled texture image with its memory.
type Image struct {
	device vk.Device
	image  vk.Image
	levels uint32
	memory Memory
}

// Get returns the vulkan Image handle.
func (i *Image) Get() vk.Image {
	return i.image
}

// Mem returns the underlying memory of the Image.
func (i *Image) Mem() *Memory {
	return &i.memory
}

// Release implements gfx.Releasable
func (i *Image) Release() {
	vk.DestroyImage(i.device, i.image, nil)
	i.memory.Release()
}

func safeString(s string) string {
	return s + "\x00"
}

func safeStrings(list []string) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = safeString(s)
	}
	return out
}
