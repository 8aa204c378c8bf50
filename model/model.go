// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package model turns COLLADA documents into vertex streams and uploads
// them as interleaved vertex arrays.
package model

import (
	"github.com/devblok/korures/gfx"
	glm "github.com/go-gl/mathgl/mgl32"
)

// Attribute locations of the uploaded vertex arrays.
const (
	PositionAttribute uint32 = iota
	NormalAttribute
	TexCoordAttribute
)

// Mesh is a triangle list with one entry per corner in every stream.
// Normals and TexCoords are either empty or as long as Positions.
type Mesh struct {
	Name      string
	Positions []glm.Vec3
	Normals   []glm.Vec3
	TexCoords []glm.Vec2
}

// VertexCount returns the number of triangle corners.
func (m *Mesh) VertexCount() int {
	return len(m.Positions)
}

// Size returns the number of bytes the interleaved vertices take.
func (m *Mesh) Size() int64 {
	return int64(len(m.Positions)*3+len(m.Normals)*3+len(m.TexCoords)*2) * gfx.FloatSize
}

// Bounds returns the axis aligned box around every position.
func (m *Mesh) Bounds() (min, max glm.Vec3) {
	if len(m.Positions) == 0 {
		return
	}
	min, max = m.Positions[0], m.Positions[0]
	for _, p := range m.Positions[1:] {
		for i := 0; i < 3; i++ {
			if p[i] < min[i] {
				min[i] = p[i]
			}
			if p[i] > max[i] {
				max[i] = p[i]
			}
		}
	}
	return min, max
}

// Streams returns the non empty streams in attribute order.
func (m *Mesh) Streams() []gfx.Stream {
	streams := []gfx.Stream{{Width: 3, Data: flatten3(m.Positions)}}
	if len(m.Normals) > 0 {
		streams = append(streams, gfx.Stream{Width: 3, Data: flatten3(m.Normals)})
	}
	if len(m.TexCoords) > 0 {
		streams = append(streams, gfx.Stream{Width: 2, Data: flatten2(m.TexCoords)})
	}
	return streams
}

// Info describes an uploaded mesh.
type Info struct {
	VAO         uint32     `json:"vao"`
	VertexCount int        `json:"vertex_count"`
	Layout      gfx.Layout `json:"-"`
	Min         glm.Vec3   `json:"min"`
	Max         glm.Vec3   `json:"max"`
}

// Upload interleaves the mesh into a new vertex array tracked by reg.
func Upload(reg *gfx.Registry, m *Mesh) (Info, error) {
	vao, layout, err := reg.CreateInterleaved(m.VertexCount(), m.Streams()...)
	if err != nil {
		return Info{}, err
	}
	min, max := m.Bounds()
	return Info{
		VAO:         vao,
		VertexCount: m.VertexCount(),
		Layout:      layout,
		Min:         min,
		Max:         max,
	}, nil
}

func flatten3(v []glm.Vec3) []float32 {
	out := make([]float32, 0, len(v)*3)
	for _, e := range v {
		out = append(out, e[:]...)
	}
	return out
}

func flatten2(v []glm.Vec2) []float32 {
	out := make([]float32, 0, len(v)*2)
	for _, e := range v {
		out = append(out, e[:]...)
	}
	return out
}
