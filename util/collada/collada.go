// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package collada parses the geometry part of COLLADA (.dae) documents.
package collada

import (
	"encoding/xml"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// package errors
var (
	ErrCount   = errors.New("array length does not match its count")
	ErrVCount  = errors.New("polygon vertex counts do not match the index list")
	ErrPolygon = errors.New("polygon has fewer than 3 corners")
)

// Collada is the top-level Collada object
type Collada struct {
	Geometries []Geometry `xml:"library_geometries>geometry"`
}

// Parse decodes a whole document.
func Parse(data []byte) (*Collada, error) {
	var c Collada
	if err := xml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Geometry returns the geometry with the given id.
func (c *Collada) Geometry(id string) (Geometry, bool) {
	for _, g := range c.Geometries {
		if g.ID == id {
			return g, true
		}
	}
	return Geometry{}, false
}

// Geometry represents Collada's geometry
type Geometry struct {
	Mesh Mesh   `xml:"mesh"`
	ID   string `xml:"id,attr"`
	Name string `xml:"name,attr"`
}

// Mesh contains all the primitive data. Exporters write either triangle
// groups or polygon lists, one per material.
type Mesh struct {
	Source    []Source    `xml:"source"`
	Vertices  Vertices    `xml:"vertices"`
	Triangles []Triangles `xml:"triangles"`
	Polylists []Polylist  `xml:"polylist"`
}

// FindSource returns the source whose id is ref, with or without the
// leading '#' of a Collada URI.
func (m *Mesh) FindSource(ref string) (Source, bool) {
	id := strings.TrimPrefix(ref, "#")
	for _, s := range m.Source {
		if s.ID == id {
			return s, true
		}
	}
	return Source{}, false
}

// Primitives returns every triangle group of the mesh, polygon lists
// triangulated.
func (m *Mesh) Primitives() ([]Triangles, error) {
	prims := append([]Triangles(nil), m.Triangles...)
	for i := range m.Polylists {
		t, err := m.Polylists[i].Triangulate()
		if err != nil {
			return nil, err
		}
		prims = append(prims, t)
	}
	return prims, nil
}

// Source links to other sources where data is present
type Source struct {
	ID       string   `xml:"id,attr"`
	Floats   Floats   `xml:"float_array"`
	Accessor Accessor `xml:"technique_common>accessor"`
}

// Stride returns the number of floats per element, 3 when the accessor
// does not say.
func (s Source) Stride() int {
	if s.Accessor.Stride > 0 {
		return s.Accessor.Stride
	}
	return 3
}

// Accessor describes how a float array splits into elements.
type Accessor struct {
	Source string `xml:"source,attr"`
	Count  int    `xml:"count,attr"`
	Stride int    `xml:"stride,attr"`
}

// Floats is the array of floats
type Floats struct {
	ID    string
	Count int
	Data  []float32
}

// UnmarshalXML unmarshals the array of floats, checking it against its
// count attribute when there is one.
func (f *Floats) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	count := -1
	for _, attr := range start.Attr {
		switch attr.Name.Local {
		case "id":
			f.ID = attr.Value
		case "count":
			num, err := strconv.Atoi(attr.Value)
			if err != nil {
				return fmt.Errorf("float_array %s count: %w", f.ID, err)
			}
			count = num
		}
	}
	var raw string
	if err := d.DecodeElement(&raw, &start); err != nil {
		return err
	}
	fields := strings.Fields(raw)
	f.Data = make([]float32, 0, len(fields))
	for _, r := range fields {
		num, err := strconv.ParseFloat(r, 32)
		if err != nil {
			return fmt.Errorf("float_array %s: %w", f.ID, err)
		}
		f.Data = append(f.Data, float32(num))
	}
	if count >= 0 && count != len(f.Data) {
		return fmt.Errorf("float_array %s has %d values, count says %d: %w", f.ID, len(f.Data), count, ErrCount)
	}
	f.Count = len(f.Data)
	return nil
}

// Vertices contains the list of vertices
type Vertices struct {
	ID     string  `xml:"id,attr"`
	Inputs []Input `xml:"input"`
}

// Triangles contain the list of triangles
type Triangles struct {
	Count    int
	Material string
	Inputs   []Input
	Index    []int
}

// Stride returns how many indices describe one triangle corner.
func (t *Triangles) Stride() int {
	return stride(t.Inputs)
}

// UnmarshalXML parses the index list
func (t *Triangles) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var err error
	t.Count, t.Material, err = primitiveAttrs(start)
	if err != nil {
		return err
	}
	return decodePrimitive(d, start, func(el xml.StartElement) error {
		switch el.Name.Local {
		case "input":
			var input Input
			if err := d.DecodeElement(&input, &el); err != nil {
				return err
			}
			t.Inputs = append(t.Inputs, input)
		case "p":
			ints, err := decodeInts(d, el)
			if err != nil {
				return err
			}
			t.Index = ints
		default:
			return d.Skip()
		}
		return nil
	})
}

// Polylist is a list of polygons, VCount holds the corner count of each.
type Polylist struct {
	Count    int
	Material string
	Inputs   []Input
	VCount   []int
	Index    []int
}

// UnmarshalXML parses the corner counts and the index list
func (p *Polylist) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var err error
	p.Count, p.Material, err = primitiveAttrs(start)
	if err != nil {
		return err
	}
	return decodePrimitive(d, start, func(el xml.StartElement) error {
		switch el.Name.Local {
		case "input":
			var input Input
			if err := d.DecodeElement(&input, &el); err != nil {
				return err
			}
			p.Inputs = append(p.Inputs, input)
		case "vcount":
			ints, err := decodeInts(d, el)
			if err != nil {
				return err
			}
			p.VCount = ints
		case "p":
			ints, err := decodeInts(d, el)
			if err != nil {
				return err
			}
			p.Index = ints
		default:
			return d.Skip()
		}
		return nil
	})
}

// Triangulate fans every polygon out from its first corner.
func (p *Polylist) Triangulate() (Triangles, error) {
	s := stride(p.Inputs)
	total := 0
	for _, n := range p.VCount {
		if n < 3 {
			return Triangles{}, fmt.Errorf("polylist %s: %w", p.Material, ErrPolygon)
		}
		total += n
	}
	if s == 0 || total*s != len(p.Index) {
		return Triangles{}, fmt.Errorf("polylist %s: %w", p.Material, ErrVCount)
	}

	t := Triangles{
		Material: p.Material,
		Inputs:   p.Inputs,
	}
	corner := func(base, c int) []int {
		return p.Index[(base+c)*s : (base+c+1)*s]
	}
	base := 0
	for _, n := range p.VCount {
		for k := 1; k < n-1; k++ {
			t.Index = append(t.Index, corner(base, 0)...)
			t.Index = append(t.Index, corner(base, k)...)
			t.Index = append(t.Index, corner(base, k+1)...)
			t.Count++
		}
		base += n
	}
	return t, nil
}

// Input is Collada'a input type
type Input struct {
	Semantic string `xml:"semantic,attr"`
	Source   string `xml:"source,attr"`
	Offset   uint   `xml:"offset,attr"`
	Set      uint   `xml:"set,attr"`
}

// stride is one more than the largest input offset.
func stride(inputs []Input) int {
	s := 0
	for _, in := range inputs {
		if int(in.Offset)+1 > s {
			s = int(in.Offset) + 1
		}
	}
	return s
}

func primitiveAttrs(start xml.StartElement) (count int, material string, err error) {
	for _, attr := range start.Attr {
		switch attr.Name.Local {
		case "count":
			if count, err = strconv.Atoi(attr.Value); err != nil {
				return 0, "", fmt.Errorf("%s count: %w", start.Name.Local, err)
			}
		case "material":
			material = attr.Value
		}
	}
	return count, material, nil
}

// decodePrimitive hands every child element of start to child and
// returns at the matching end element.
func decodePrimitive(d *xml.Decoder, start xml.StartElement, child func(xml.StartElement) error) error {
	for {
		token, err := d.Token()
		if err != nil {
			return err
		}

		switch el := token.(type) {
		case xml.StartElement:
			if err := child(el); err != nil {
				return err
			}
		case xml.EndElement:
			if el == start.End() {
				return nil
			}
		}
	}
}

func decodeInts(d *xml.Decoder, el xml.StartElement) ([]int, error) {
	var raw string
	if err := d.DecodeElement(&raw, &el); err != nil {
		return nil, err
	}
	fields := strings.Fields(raw)
	ints := make([]int, 0, len(fields))
	for _, r := range fields {
		num, err := strconv.Atoi(r)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", el.Name.Local, err)
		}
		ints = append(ints, num)
	}
	return ints, nil
}
