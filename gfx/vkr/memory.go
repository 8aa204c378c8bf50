// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"

	vk "github.com/vulkan-go/vulkan"
)

// ErrNoMemoryType is returned when the device has no memory type with
// the requested properties.
var ErrNoMemoryType = errors.New("suitable memory type not found")

// Memory is one device allocation backing a buffer or an image.
type Memory struct {
	size   uint
	owner  *MemoryAllocator
	memory vk.DeviceMemory
	freed  bool
}

// Len returns the size of the allocation in bytes.
func (m *Memory) Len() uint {
	return m.size
}

// Get returns the vulkan memory handle.
func (m *Memory) Get() vk.DeviceMemory {
	return m.memory
}

// Write copies data to offset through a temporary host mapping. The
// allocation has to be host visible and coherent.
func (m *Memory) Write(offset uint, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if offset+uint(len(data)) > m.size {
		return fmt.Errorf("write of %d bytes at %d overflows %d bytes", len(data), offset, m.size)
	}
	var ptr unsafe.Pointer
	res := vk.MapMemory(m.owner.device, m.memory, vk.DeviceSize(offset), vk.DeviceSize(len(data)), 0, &ptr)
	if err := vk.Error(res); err != nil {
		return fmt.Errorf("vk.MapMemory(): %w", err)
	}
	copy(unsafe.Slice((*byte)(ptr), len(data)), data)
	vk.UnmapMemory(m.owner.device, m.memory)
	return nil
}

// Release frees the allocation. Releasing twice is a no-op.
func (m *Memory) Release() {
	if m.freed {
		return
	}
	m.freed = true
	vk.FreeMemory(m.owner.device, m.memory, nil)
	m.owner.live.Add(-1)
	m.owner.bytes.Add(-int64(m.size))
}

// NewMemoryAllocator creates an allocator for the logical device, picking
// memory types from what the physical device reports.
func NewMemoryAllocator(device vk.Device, phyDevice vk.PhysicalDevice) *MemoryAllocator {
	var props vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(phyDevice, &props)
	props.Deref()

	types := make([]vk.MemoryPropertyFlags, props.MemoryTypeCount)
	for i := range types {
		props.MemoryTypes[i].Deref()
		types[i] = props.MemoryTypes[i].PropertyFlags
	}
	return &MemoryAllocator{
		device: device,
		types:  types,
	}
}

// MemoryAllocator hands out device memory and keeps count of what is
// still allocated, so uploads can be accounted for.
type MemoryAllocator struct {
	device vk.Device
	types  []vk.MemoryPropertyFlags

	live  atomic.Int64
	bytes atomic.Int64
}

// MemoryUsage is a snapshot of the live allocations.
type MemoryUsage struct {
	Allocations int64 `json:"allocations"`
	Bytes       int64 `json:"bytes"`
}

// Usage returns how much memory is currently allocated.
func (ma *MemoryAllocator) Usage() MemoryUsage {
	return MemoryUsage{
		Allocations: ma.live.Load(),
		Bytes:       ma.bytes.Load(),
	}
}

// Malloc allocates memory satisfying req with the given properties.
func (ma *MemoryAllocator) Malloc(req vk.MemoryRequirements, prop vk.MemoryPropertyFlagBits) (Memory, error) {
	typeIndex, err := ma.findMemoryType(req.MemoryTypeBits, vk.MemoryPropertyFlags(prop))
	if err != nil {
		return Memory{}, err
	}

	info := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  req.Size,
		MemoryTypeIndex: typeIndex,
	}
	var memory vk.DeviceMemory
	if err := vk.Error(vk.AllocateMemory(ma.device, &info, nil, &memory)); err != nil {
		return Memory{}, fmt.Errorf("vk.AllocateMemory(): %w", err)
	}

	ma.live.Add(1)
	ma.bytes.Add(int64(req.Size))
	return Memory{
		size:   uint(req.Size),
		owner:  ma,
		memory: memory,
	}, nil
}

func (ma *MemoryAllocator) findMemoryType(filter uint32, prop vk.MemoryPropertyFlags) (uint32, error) {
	for i, flags := range ma.types {
		if filter&(1<<uint(i)) != 0 && flags&prop == prop {
			return uint32(i), nil
		}
	}
	return 0, fmt.Errorf("type filter %#x with properties %#x: %w", filter, prop, ErrNoMemoryType)
}
