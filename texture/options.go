// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package texture

import (
	"github.com/devblok/korures/gfx"
	glm "github.com/go-gl/mathgl/mgl32"
)

// MaxAnisotropy is the filtering level used when anisotropic filtering is on.
const MaxAnisotropy = 16

// Options decide how a texture is sampled. The zero value repeats at the
// edges and uses smooth, mipmapped, anisotropic sampling.
type Options struct {
	Address      gfx.AddressMode
	BorderColour glm.Vec4

	NoMipmap     bool
	NoAnisotropy bool
	Nearest      bool
}

// ClampEdges clamps coordinates outside the texture to the edge texels.
func (o Options) ClampEdges() Options {
	o.Address = gfx.AddressClampToEdge
	return o
}

// ClampToBorder samples colour outside the texture.
func (o Options) ClampToBorder(colour glm.Vec4) Options {
	o.Address = gfx.AddressClampToBorder
	o.BorderColour = colour
	return o
}

// NearestFiltering turns off smoothing, which also turns off mipmaps.
func (o Options) NearestFiltering() Options {
	o.Nearest = true
	return o.WithoutMipmap()
}

// WithoutMipmap builds only the full size level.
func (o Options) WithoutMipmap() Options {
	o.NoMipmap = true
	o.NoAnisotropy = true
	return o
}

// WithoutFiltering turns off anisotropic filtering.
func (o Options) WithoutFiltering() Options {
	o.NoAnisotropy = true
	return o
}

// Sampler converts the options into device sampling state.
func (o Options) Sampler() gfx.Sampler {
	s := gfx.Sampler{
		Address:      o.Address,
		BorderColour: o.BorderColour,
		Mipmap:       !o.NoMipmap,
	}
	if o.Nearest {
		s.Filter = gfx.FilterNearest
	}
	if !o.NoAnisotropy {
		s.Anisotropy = MaxAnisotropy
	}
	return s
}
