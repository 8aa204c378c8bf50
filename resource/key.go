// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package resource

import (
	"path"
	"path/filepath"
	"strings"
)

// Key identifies a resource by its normalized path. Two requests for
// the same file always produce the same Key.
type Key string

// NewKey normalizes p into a Key. Separators become slashes, the path is
// cleaned and leading "./" and "/" are dropped.
func NewKey(p string) Key {
	p = filepath.ToSlash(p)
	p = path.Clean("/" + p)
	return Key(strings.TrimPrefix(p, "/"))
}

// Ext returns the lower cased extension including the dot.
func (k Key) Ext() string {
	return strings.ToLower(path.Ext(string(k)))
}

func (k Key) String() string {
	return string(k)
}

// Kind is the type of data a resource decodes into.
type Kind int

// Resource kinds
const (
	KindUnknown Kind = iota
	KindTexture
	KindMesh
	KindSound
)

func (k Kind) String() string {
	switch k {
	case KindTexture:
		return "texture"
	case KindMesh:
		return "mesh"
	case KindSound:
		return "sound"
	default:
		return "unknown"
	}
}

// KindOf guesses the resource kind from the key extension.
func KindOf(k Key) Kind {
	switch k.Ext() {
	case ".png", ".jpg", ".jpeg", ".gif", ".bmp", ".tif", ".tiff", ".webp":
		return KindTexture
	case ".dae":
		return KindMesh
	case ".wav", ".ogg":
		return KindSound
	default:
		return KindUnknown
	}
}
