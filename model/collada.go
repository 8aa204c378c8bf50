// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package model

import (
	"errors"
	"fmt"

	"github.com/devblok/korures/util/collada"
	glm "github.com/go-gl/mathgl/mgl32"
)

// package errors
var (
	ErrNoGeometry  = errors.New("document has no geometry")
	ErrNoSource    = errors.New("source type not found")
	ErrIndex       = errors.New("index out of range")
	ErrMixedInputs = errors.New("triangle groups disagree on their inputs")
)

// ImportCollada reads the first geometry of a Collada document and
// unrolls all of its triangle groups and polygon lists into one Mesh.
func ImportCollada(fileContents []byte) (*Mesh, error) {
	doc, err := collada.Parse(fileContents)
	if err != nil {
		return nil, err
	}
	if len(doc.Geometries) == 0 {
		return nil, ErrNoGeometry
	}
	geometry := doc.Geometries[0]
	mesh := &geometry.Mesh
	prims, err := mesh.Primitives()
	if err != nil {
		return nil, err
	}
	if len(prims) == 0 {
		return nil, fmt.Errorf("geometry %s has no triangles: %w", geometry.ID, ErrNoGeometry)
	}

	out := &Mesh{Name: geometry.Name}
	for i := range prims {
		part, err := unroll(mesh, &prims[i])
		if err != nil {
			return nil, err
		}
		if i > 0 && (hasNormals(out) != hasNormals(part) || hasTexCoords(out) != hasTexCoords(part)) {
			return nil, fmt.Errorf("triangle group %d (%s): %w", i, prims[i].Material, ErrMixedInputs)
		}
		out.Positions = append(out.Positions, part.Positions...)
		out.Normals = append(out.Normals, part.Normals...)
		out.TexCoords = append(out.TexCoords, part.TexCoords...)
	}
	return out, nil
}

// unroll gathers one attribute per triangle corner.
func unroll(mesh *collada.Mesh, triangles *collada.Triangles) (*Mesh, error) {
	stride := triangles.Stride()
	if stride == 0 || len(triangles.Index)%stride != 0 {
		return nil, fmt.Errorf("%d indices with stride %d: %w", len(triangles.Index), stride, ErrIndex)
	}
	corners := len(triangles.Index) / stride

	out := &Mesh{}
	for _, in := range triangles.Inputs {
		var err error
		switch in.Semantic {
		case "VERTEX":
			var src collada.Source
			if src, err = positionSource(mesh, in.Source); err != nil {
				return nil, err
			}
			out.Positions, err = gather3(src, triangles.Index, int(in.Offset), stride, corners)
		case "NORMAL":
			src, ok := mesh.FindSource(in.Source)
			if !ok {
				return nil, fmt.Errorf("normals %s: %w", in.Source, ErrNoSource)
			}
			out.Normals, err = gather3(src, triangles.Index, int(in.Offset), stride, corners)
		case "TEXCOORD":
			if in.Set > 0 || out.TexCoords != nil {
				continue
			}
			src, ok := mesh.FindSource(in.Source)
			if !ok {
				return nil, fmt.Errorf("texture coordinates %s: %w", in.Source, ErrNoSource)
			}
			out.TexCoords, err = gather2(src, triangles.Index, int(in.Offset), stride, corners)
		}
		if err != nil {
			return nil, err
		}
	}
	if out.Positions == nil {
		return nil, fmt.Errorf("positions: %w", ErrNoSource)
	}
	return out, nil
}

func hasNormals(m *Mesh) bool   { return m.Normals != nil }
func hasTexCoords(m *Mesh) bool { return m.TexCoords != nil }

// positionSource follows a VERTEX input through the vertices element to
// the source holding positions.
func positionSource(mesh *collada.Mesh, ref string) (collada.Source, error) {
	for _, in := range mesh.Vertices.Inputs {
		if in.Semantic == "POSITION" {
			if src, ok := mesh.FindSource(in.Source); ok {
				return src, nil
			}
		}
	}
	if src, ok := mesh.FindSource(ref); ok {
		return src, nil
	}
	return collada.Source{}, fmt.Errorf("positions %s: %w", ref, ErrNoSource)
}

func gather3(src collada.Source, index []int, offset, stride, corners int) ([]glm.Vec3, error) {
	out := make([]glm.Vec3, corners)
	width := src.Stride()
	for c := 0; c < corners; c++ {
		i := index[c*stride+offset] * width
		if i < 0 || i+3 > len(src.Floats.Data) {
			return nil, fmt.Errorf("%s element %d: %w", src.ID, index[c*stride+offset], ErrIndex)
		}
		out[c] = glm.Vec3{src.Floats.Data[i], src.Floats.Data[i+1], src.Floats.Data[i+2]}
	}
	return out, nil
}

func gather2(src collada.Source, index []int, offset, stride, corners int) ([]glm.Vec2, error) {
	out := make([]glm.Vec2, corners)
	width := src.Stride()
	for c := 0; c < corners; c++ {
		i := index[c*stride+offset] * width
		if i < 0 || i+2 > len(src.Floats.Data) {
			return nil, fmt.Errorf("%s element %d: %w", src.ID, index[c*stride+offset], ErrIndex)
		}
		out[c] = glm.Vec2{src.Floats.Data[i], src.Floats.Data[i+1]}
	}
	return out, nil
}
