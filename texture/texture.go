// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package texture decodes images into RGBA mip chains and uploads them.
package texture

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // gif decoding
	_ "image/jpeg" // jpeg decoding
	_ "image/png"  // png decoding

	"github.com/devblok/korures/gfx"
	"github.com/h2non/filetype"
	_ "golang.org/x/image/bmp"  // bmp decoding
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff" // tiff decoding
	_ "golang.org/x/image/webp" // webp decoding
)

// ErrNotImage is returned for data that is not a known image format.
var ErrNotImage = errors.New("data is not an image")

// Image is a decoded texture waiting for upload. Levels[0] is the full
// size RGBA image, each following level halves both sides.
type Image struct {
	Width, Height int
	Levels        [][]byte
	Options       Options
}

// Size returns the number of pixel bytes held.
func (i *Image) Size() int64 {
	var n int64
	for _, l := range i.Levels {
		n += int64(len(l))
	}
	return n
}

// Info describes an uploaded texture.
type Info struct {
	Width  int `json:"width"`
	Height int `json:"height"`
	Levels int `json:"levels"`
}

// Decode sniffs and decodes data, converts it to RGBA and builds the mip
// chain unless opts turn mipmaps off.
func Decode(data []byte, opts Options) (*Image, error) {
	if !filetype.IsImage(data) {
		return nil, ErrNotImage
	}
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		kind, _ := filetype.Match(data)
		return nil, fmt.Errorf("decode %s (%s): %w", format, kind.Extension, err)
	}

	b := src.Bounds()
	base := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(base, base.Bounds(), src, b.Min, draw.Src)

	img := &Image{
		Width:   b.Dx(),
		Height:  b.Dy(),
		Levels:  [][]byte{base.Pix},
		Options: opts,
	}
	if opts.NoMipmap {
		return img, nil
	}

	prev := base
	for w, h := img.Width, img.Height; w > 1 || h > 1; {
		w, h = halve(w), halve(h)
		next := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.BiLinear.Scale(next, next.Bounds(), prev, prev.Bounds(), draw.Src, nil)
		img.Levels = append(img.Levels, next.Pix)
		prev = next
	}
	return img, nil
}

// Upload creates the texture on dev with the sampler its options ask for.
func Upload(dev gfx.Device, img *Image) (uint32, Info, error) {
	desc := gfx.TextureDesc{
		Width:   img.Width,
		Height:  img.Height,
		Sampler: img.Options.Sampler(),
	}
	id, err := dev.CreateTexture(desc, img.Levels)
	if err != nil {
		return 0, Info{}, err
	}
	return id, Info{Width: img.Width, Height: img.Height, Levels: len(img.Levels)}, nil
}

func halve(n int) int {
	if n > 1 {
		return n / 2
	}
	return 1
}
