// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"errors"
	"fmt"

	"github.com/devblok/korures/core"
	"github.com/devblok/korures/gfx"
	log "github.com/sirupsen/logrus"
	vk "github.com/vulkan-go/vulkan"
)

// ErrNoGraphicsQueue is returned when the physical device has no queue family
// that can run graphics and transfer commands.
var ErrNoGraphicsQueue = errors.New("vulkan error: could not find a graphics queue family")

// NewDevice creates a logical device on physical device index of inst and
// prepares it to take uploads. It must be called on the owning thread.
func NewDevice(inst *Instance, index int, cfg core.RendererConfiguration, logger log.FieldLogger) (*Device, error) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if index < 0 || index >= len(inst.availableDevices) {
		return nil, fmt.Errorf("physical device %d of %d", index, len(inst.availableDevices))
	}
	physical := inst.availableDevices[index]

	queueIndex, err := graphicsQueueFamily(physical)
	if err != nil {
		return nil, err
	}

	queueInfos := []vk.DeviceQueueCreateInfo{{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: queueIndex,
		QueueCount:       1,
		PQueuePriorities: []float32{1},
	}}
	dci := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PQueueCreateInfos:       queueInfos,
		EnabledExtensionCount:   uint32(len(cfg.DeviceExtensions)),
		PpEnabledExtensionNames: safeStrings(cfg.DeviceExtensions),
		PEnabledFeatures: []vk.PhysicalDeviceFeatures{{
			SamplerAnisotropy: vk.True,
		}},
	}
	var logical vk.Device
	if err := vk.Error(vk.CreateDevice(physical, &dci, nil, &logical)); err != nil {
		return nil, fmt.Errorf("vk.CreateDevice(): %w", err)
	}

	var queue vk.Queue
	vk.GetDeviceQueue(logical, queueIndex, 0, &queue)

	cpci := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: queueIndex,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	var pool vk.CommandPool
	if err := vk.Error(vk.CreateCommandPool(logical, &cpci, nil, &pool)); err != nil {
		vk.DestroyDevice(logical, nil)
		return nil, fmt.Errorf("vk.CreateCommandPool(): %w", err)
	}

	return &Device{
		physical:    physical,
		logical:     logical,
		queue:       queue,
		commandPool: pool,
		allocator:   NewMemoryAllocator(logical, physical),
		vaos:        make(map[uint32][]binding),
		buffers:     make(map[uint32]*Buffer),
		textures:    make(map[uint32]*texture),
		logger:      logger,
	}, nil
}

func graphicsQueueFamily(physical vk.PhysicalDevice) (uint32, error) {
	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(physical, &count, nil)
	families := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(physical, &count, families)
	for i := uint32(0); i < count; i++ {
		families[i].Deref()
		if families[i].QueueFlags&vk.QueueFlags(vk.QueueGraphicsBit) != 0 {
			return i, nil
		}
	}
	return 0, ErrNoGraphicsQueue
}

type binding struct {
	buffer uint32
	attr   gfx.AttribPointer
}

type texture struct {
	dev     vk.Device
	image   Image
	view    vk.ImageView
	sampler vk.Sampler
}

// Release implements gfx.Releasable
func (t *texture) Release() {
	vk.DestroySampler(t.dev, t.sampler, nil)
	vk.DestroyImageView(t.dev, t.view, nil)
	t.image.Release()
}

// Device implements gfx.Device. Vulkan has no vertex array objects, a
// vertex array here is the list of buffer bindings a draw call binds.
type Device struct {
	physical    vk.PhysicalDevice
	logical     vk.Device
	queue       vk.Queue
	commandPool vk.CommandPool
	allocator   *MemoryAllocator

	next     uint32
	vaos     map[uint32][]binding
	buffers  map[uint32]*Buffer
	textures map[uint32]*texture

	logger log.FieldLogger
}

var (
	_ gfx.Device     = (*Device)(nil)
	_ gfx.Releasable = (*Buffer)(nil)
	_ gfx.Releasable = (*texture)(nil)
)

// CreateVertexArray implements gfx.Device
func (d *Device) CreateVertexArray() (uint32, error) {
	id := d.id()
	d.vaos[id] = nil
	return id, nil
}

// DeleteVertexArray implements gfx.Device
func (d *Device) DeleteVertexArray(id uint32) error {
	if _, ok := d.vaos[id]; !ok {
		return fmt.Errorf("vertex array %d: %w", id, gfx.ErrNotFound)
	}
	delete(d.vaos, id)
	return nil
}

// CreateBuffer implements gfx.Device
func (d *Device) CreateBuffer(target gfx.BufferTarget, data []byte, size int, usage gfx.Usage) (uint32, error) {
	if size < len(data) {
		size = len(data)
	}
	flags := vk.BufferUsageVertexBufferBit
	if target == gfx.ElementBuffer {
		flags = vk.BufferUsageIndexBufferBit
	}
	buf, err := NewBuffer(d.logical, uint(size), flags, vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit, d.allocator)
	if err != nil {
		return 0, err
	}
	if err := buf.Mem().Write(0, data); err != nil {
		buf.Release()
		return 0, err
	}
	id := d.id()
	d.buffers[id] = &buf
	return id, nil
}

// UpdateBuffer implements gfx.Device
func (d *Device) UpdateBuffer(id uint32, offset int, data []byte) error {
	buf, ok := d.buffers[id]
	if !ok {
		return fmt.Errorf("buffer %d: %w", id, gfx.ErrNotFound)
	}
	if offset < 0 || uint(offset+len(data)) > buf.Size() {
		return fmt.Errorf("buffer %d: write of %d bytes at %d overflows %d bytes", id, len(data), offset, buf.Size())
	}
	return buf.Mem().Write(uint(offset), data)
}

// DeleteBuffer implements gfx.Device
func (d *Device) DeleteBuffer(id uint32) error {
	buf, ok := d.buffers[id]
	if !ok {
		return fmt.Errorf("buffer %d: %w", id, gfx.ErrNotFound)
	}
	vk.DeviceWaitIdle(d.logical)
	buf.Release()
	delete(d.buffers, id)
	return nil
}

// SetAttribute implements gfx.Device
func (d *Device) SetAttribute(vao, buffer uint32, attr gfx.AttribPointer) error {
	if _, ok := d.vaos[vao]; !ok {
		return fmt.Errorf("vertex array %d: %w", vao, gfx.ErrNotFound)
	}
	if _, ok := d.buffers[buffer]; !ok {
		return fmt.Errorf("buffer %d: %w", buffer, gfx.ErrNotFound)
	}
	d.vaos[vao] = append(d.vaos[vao], binding{buffer: buffer, attr: attr})
	return nil
}

// VertexInput returns the binding and attribute descriptions a pipeline
// needs to draw vertex array vao. Each buffer gets its own binding slot.
func (d *Device) VertexInput(vao uint32) ([]vk.VertexInputBindingDescription, []vk.VertexInputAttributeDescription, []vk.Buffer, error) {
	bindings, ok := d.vaos[vao]
	if !ok {
		return nil, nil, nil, fmt.Errorf("vertex array %d: %w", vao, gfx.ErrNotFound)
	}
	var (
		descs   []vk.VertexInputBindingDescription
		attrs   []vk.VertexInputAttributeDescription
		buffers []vk.Buffer
		slots   = make(map[uint32]uint32)
	)
	for _, b := range bindings {
		slot, ok := slots[b.buffer]
		if !ok {
			slot = uint32(len(descs))
			slots[b.buffer] = slot
			rate := vk.VertexInputRateVertex
			if b.attr.Divisor > 0 {
				rate = vk.VertexInputRateInstance
			}
			stride := b.attr.Stride
			if stride == 0 {
				stride = b.attr.Size * gfx.FloatSize
			}
			descs = append(descs, vk.VertexInputBindingDescription{
				Binding:   slot,
				Stride:    uint32(stride),
				InputRate: rate,
			})
			buffers = append(buffers, d.buffers[b.buffer].Get())
		}
		attrs = append(attrs, vk.VertexInputAttributeDescription{
			Location: b.attr.Index,
			Binding:  slot,
			Format:   floatFormat(b.attr.Size),
			Offset:   uint32(b.attr.Offset),
		})
	}
	return descs, attrs, buffers, nil
}

func floatFormat(size int) vk.Format {
	switch size {
	case 1:
		return vk.FormatR32Sfloat
	case 2:
		return vk.FormatR32g32Sfloat
	case 3:
		return vk.FormatR32g32b32Sfloat
	default:
		return vk.FormatR32g32b32a32Sfloat
	}
}

// CreateTexture implements gfx.Device. Every level is staged through a
// host visible buffer and copied into a device local image.
func (d *Device) CreateTexture(desc gfx.TextureDesc, levels [][]byte) (uint32, error) {
	if len(levels) == 0 {
		return 0, fmt.Errorf("texture %dx%d has no levels", desc.Width, desc.Height)
	}
	img, err := NewImage(d.logical, uint32(desc.Width), uint32(desc.Height), uint32(len(levels)), d.allocator)
	if err != nil {
		return 0, err
	}

	if err := d.transitionLayout(img.Get(), img.levels, vk.ImageLayoutUndefined, vk.ImageLayoutTransferDstOptimal); err != nil {
		img.Release()
		return 0, err
	}
	w, h := desc.Width, desc.Height
	for level, pixels := range levels {
		if err := d.stageLevel(img.Get(), uint32(level), uint32(w), uint32(h), pixels); err != nil {
			img.Release()
			return 0, err
		}
		w, h = halve(w), halve(h)
	}
	if err := d.transitionLayout(img.Get(), img.levels, vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutShaderReadOnlyOptimal); err != nil {
		img.Release()
		return 0, err
	}

	view, err := d.createImageView(img.Get(), img.levels)
	if err != nil {
		img.Release()
		return 0, err
	}
	sampler, err := d.createSampler(desc.Sampler, img.levels)
	if err != nil {
		vk.DestroyImageView(d.logical, view, nil)
		img.Release()
		return 0, err
	}

	id := d.id()
	d.textures[id] = &texture{dev: d.logical, image: img, view: view, sampler: sampler}
	return id, nil
}

// DeleteTexture implements gfx.Device
func (d *Device) DeleteTexture(id uint32) error {
	tex, ok := d.textures[id]
	if !ok {
		return fmt.Errorf("texture %d: %w", id, gfx.ErrNotFound)
	}
	vk.DeviceWaitIdle(d.logical)
	tex.Release()
	delete(d.textures, id)
	return nil
}

// MemoryUsage returns the device memory held by live buffers and textures.
func (d *Device) MemoryUsage() MemoryUsage {
	return d.allocator.Usage()
}

// TextureView returns the view and sampler of a texture, for descriptor writes.
func (d *Device) TextureView(id uint32) (vk.ImageView, vk.Sampler, error) {
	tex, ok := d.textures[id]
	if !ok {
		var (
			view    vk.ImageView
			sampler vk.Sampler
		)
		return view, sampler, fmt.Errorf("texture %d: %w", id, gfx.ErrNotFound)
	}
	return tex.view, tex.sampler, nil
}

// Destroy frees every object still alive and the logical device.
func (d *Device) Destroy() {
	vk.DeviceWaitIdle(d.logical)
	if n := len(d.buffers) + len(d.textures); n > 0 {
		d.logger.WithField("objects", n).Warn("device destroyed with live objects")
	}
	live := make([]gfx.Releasable, 0, len(d.buffers)+len(d.textures))
	for _, buf := range d.buffers {
		live = append(live, buf)
	}
	for _, tex := range d.textures {
		live = append(live, tex)
	}
	for _, obj := range live {
		obj.Release()
	}
	d.buffers = make(map[uint32]*Buffer)
	d.textures = make(map[uint32]*texture)
	vk.DestroyCommandPool(d.logical, d.commandPool, nil)
	vk.DestroyDevice(d.logical, nil)
}

func (d *Device) id() uint32 {
	d.next++
	return d.next
}

func halve(n int) int {
	if n > 1 {
		return n / 2
	}
	return 1
}

func (d *Device) stageLevel(img vk.Image, level, width, height uint32, pixels []byte) error {
	staging, err := NewBuffer(d.logical, uint(len(pixels)), vk.BufferUsageTransferSrcBit, vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit, d.allocator)
	if err != nil {
		return err
	}
	defer staging.Release()
	if err := staging.Mem().Write(0, pixels); err != nil {
		return err
	}
	return d.copyBufferToImage(staging.Get(), img, level, width, height)
}

func (d *Device) createImageView(img vk.Image, levels uint32) (vk.ImageView, error) {
	ivci := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    img,
		ViewType: vk.ImageViewType2d,
		Format:   vk.FormatR8g8b8a8Unorm,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LevelCount: levels,
			LayerCount: 1,
		},
	}
	var view vk.ImageView
	if err := vk.Error(vk.CreateImageView(d.logical, &ivci, nil, &view)); err != nil {
		return view, fmt.Errorf("vk.CreateImageView(): %w", err)
	}
	return view, nil
}

func (d *Device) createSampler(s gfx.Sampler, levels uint32) (vk.Sampler, error) {
	address := vk.SamplerAddressModeRepeat
	switch s.Address {
	case gfx.AddressClampToEdge:
		address = vk.SamplerAddressModeClampToEdge
	case gfx.AddressClampToBorder:
		address = vk.SamplerAddressModeClampToBorder
	}
	filter, mipmap := vk.FilterLinear, vk.SamplerMipmapModeLinear
	if s.Filter == gfx.FilterNearest {
		filter, mipmap = vk.FilterNearest, vk.SamplerMipmapModeNearest
	}
	var anisotropy vk.Bool32 = vk.False
	if s.Anisotropy > 0 {
		anisotropy = vk.True
	}
	maxLod := float32(0)
	if s.Mipmap {
		maxLod = float32(levels)
	}

	sci := vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               filter,
		MinFilter:               filter,
		AddressModeU:            address,
		AddressModeV:            address,
		AddressModeW:            address,
		AnisotropyEnable:        anisotropy,
		MaxAnisotropy:           s.Anisotropy,
		BorderColor:             borderColour(s),
		UnnormalizedCoordinates: vk.False,
		CompareEnable:           vk.False,
		CompareOp:               vk.CompareOpAlways,
		MipmapMode:              mipmap,
		MaxLod:                  maxLod,
	}
	var sampler vk.Sampler
	if err := vk.Error(vk.CreateSampler(d.logical, &sci, nil, &sampler)); err != nil {
		return sampler, fmt.Errorf("vk.CreateSampler(): %w", err)
	}
	return sampler, nil
}

// borderColour picks the closest fixed border colour, core Vulkan 1.0 has
// no custom border colours.
func borderColour(s gfx.Sampler) vk.BorderColor {
	c := s.BorderColour
	switch {
	case c.W() < 0.5:
		return vk.BorderColorFloatTransparentBlack
	case c.X()+c.Y()+c.Z() > 1.5:
		return vk.BorderColorFloatOpaqueWhite
	default:
		return vk.BorderColorFloatOpaqueBlack
	}
}

func (d *Device) beginSingleTimeCommands() (vk.CommandBuffer, error) {
	cbai := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		Level:              vk.CommandBufferLevelPrimary,
		CommandPool:        d.commandPool,
		CommandBufferCount: 1,
	}

	commandBuffers := make([]vk.CommandBuffer, 1)
	if err := vk.Error(vk.AllocateCommandBuffers(d.logical, &cbai, commandBuffers)); err != nil {
		return nil, fmt.Errorf("vk.AllocateCommandBuffers(): %w", err)
	}
	commandBuffer := commandBuffers[0]

	cbbi := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if err := vk.Error(vk.BeginCommandBuffer(commandBuffer, &cbbi)); err != nil {
		vk.FreeCommandBuffers(d.logical, d.commandPool, 1, []vk.CommandBuffer{commandBuffer})
		return nil, fmt.Errorf("vk.BeginCommandBuffer(): %w", err)
	}
	return commandBuffer, nil
}

func (d *Device) endSingleTimeCommands(commandBuffer vk.CommandBuffer) error {
	defer vk.FreeCommandBuffers(d.logical, d.commandPool, 1, []vk.CommandBuffer{commandBuffer})
	if err := vk.Error(vk.EndCommandBuffer(commandBuffer)); err != nil {
		return fmt.Errorf("vk.EndCommandBuffer(): %w", err)
	}

	si := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{commandBuffer},
	}
	if err := vk.Error(vk.QueueSubmit(d.queue, 1, []vk.SubmitInfo{si}, nil)); err != nil {
		return fmt.Errorf("vk.QueueSubmit(): %w", err)
	}
	vk.QueueWaitIdle(d.queue)
	return nil
}

func (d *Device) transitionLayout(img vk.Image, levels uint32, old, new vk.ImageLayout) error {
	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		OldLayout:           old,
		NewLayout:           new,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               img,
		SubresourceRange: vk.ImageSubresourceRange{
			LevelCount: levels,
			LayerCount: 1,
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
		},
	}

	var srcStage, dstStage vk.PipelineStageFlags
	switch {
	case old == vk.ImageLayoutUndefined && new == vk.ImageLayoutTransferDstOptimal:
		barrier.DstAccessMask = vk.AccessFlags(vk.AccessTransferWriteBit)
		srcStage = vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit)
		dstStage = vk.PipelineStageFlags(vk.PipelineStageTransferBit)
	case old == vk.ImageLayoutTransferDstOptimal && new == vk.ImageLayoutShaderReadOnlyOptimal:
		barrier.SrcAccessMask = vk.AccessFlags(vk.AccessTransferWriteBit)
		barrier.DstAccessMask = vk.AccessFlags(vk.AccessShaderReadBit)
		srcStage = vk.PipelineStageFlags(vk.PipelineStageTransferBit)
		dstStage = vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit)
	default:
		return fmt.Errorf("unsupported layout transition")
	}

	cmd, err := d.beginSingleTimeCommands()
	if err != nil {
		return err
	}
	vk.CmdPipelineBarrier(cmd, srcStage, dstStage, 0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{barrier})
	return d.endSingleTimeCommands(cmd)
}

func (d *Device) copyBufferToImage(buf vk.Buffer, img vk.Image, level, width, height uint32) error {
	cmd, err := d.beginSingleTimeCommands()
	if err != nil {
		return err
	}

	bic := vk.BufferImageCopy{
		ImageExtent: vk.Extent3D{
			Height: height,
			Width:  width,
			Depth:  1,
		},
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			MipLevel:   level,
			LayerCount: 1,
		},
	}
	vk.CmdCopyBufferToImage(cmd, buf, img, vk.ImageLayoutTransferDstOptimal, 1, []vk.BufferImageCopy{bic})
	return d.endSingleTimeCommands(cmd)
}
