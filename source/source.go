// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package source reads the encoded bytes of resources from wherever they
// are stored: a directory, a kar archive or a packr box.
package source

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/devblok/korures/core"
	"github.com/devblok/korures/resource"
	"github.com/devblok/korures/utility/kar"
	"github.com/gobuffalo/packd"
)

// ErrNotExist is returned for keys the source does not hold.
var ErrNotExist = errors.New("resource does not exist")

// Source gives access to encoded resource files. Implementations are
// safe for concurrent use by decode workers.
type Source interface {
	// Open returns a stream over the file. Streams that also implement
	// io.Seeker can be rewound without reopening.
	Open(key resource.Key) (io.ReadCloser, error)

	ReadFile(key resource.Key) ([]byte, error)

	// Size returns the encoded size in bytes.
	Size(key resource.Key) (int64, error)
}

// FromConfig opens the archive when one is configured and the root
// directory otherwise.
func FromConfig(cfg core.ResourceConfiguration) (Source, error) {
	if cfg.Archive != "" {
		return OpenArchive(cfg.Archive)
	}
	info, err := os.Stat(cfg.Root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("resource root %s is not a directory", cfg.Root)
	}
	return NewDir(cfg.Root), nil
}

// NewDir creates a source reading files under root.
func NewDir(root string) *Dir {
	return &Dir{root: root}
}

// Dir reads resources from a directory tree.
type Dir struct {
	root string
}

// Root returns the directory the keys are relative to.
func (d *Dir) Root() string {
	return d.root
}

func (d *Dir) path(key resource.Key) string {
	return filepath.Join(d.root, filepath.FromSlash(string(resource.NewKey(string(key)))))
}

// Open implements Source, the returned *os.File is seekable.
func (d *Dir) Open(key resource.Key) (io.ReadCloser, error) {
	f, err := os.Open(d.path(key))
	if err != nil {
		return nil, notExist(key, err)
	}
	return f, nil
}

// ReadFile implements Source
func (d *Dir) ReadFile(key resource.Key) ([]byte, error) {
	data, err := os.ReadFile(d.path(key))
	if err != nil {
		return nil, notExist(key, err)
	}
	return data, nil
}

// Size implements Source
func (d *Dir) Size(key resource.Key) (int64, error) {
	info, err := os.Stat(d.path(key))
	if err != nil {
		return 0, notExist(key, err)
	}
	return info.Size(), nil
}

func notExist(key resource.Key, err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%s: %w", key, ErrNotExist)
	}
	return err
}

// OpenArchive memory maps the kar archive at path.
func OpenArchive(path string) (*Archive, error) {
	ar, err := kar.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("archive %s: %w", path, err)
	}
	return &Archive{ar: ar}, nil
}

// NewArchive wraps an archive that is already open.
func NewArchive(ar *kar.Archive) *Archive {
	return &Archive{ar: ar}
}

// Archive reads resources from a kar archive. Entries are decompressed
// while they are read, so streams are not seekable.
type Archive struct {
	ar *kar.Archive
}

// Open implements Source
func (a *Archive) Open(key resource.Key) (io.ReadCloser, error) {
	r, err := a.ar.Open(string(key))
	if err != nil {
		return nil, archiveErr(key, err)
	}
	return r, nil
}

// ReadFile implements Source
func (a *Archive) ReadFile(key resource.Key) ([]byte, error) {
	data, err := a.ar.ReadAll(string(key))
	if err != nil {
		return nil, archiveErr(key, err)
	}
	return data, nil
}

// Size implements Source, it is the compressed size stored in the archive.
func (a *Archive) Size(key resource.Key) (int64, error) {
	e, err := a.ar.Stat(string(key))
	if err != nil {
		return 0, archiveErr(key, err)
	}
	return e.CompressedSize, nil
}

// Keys lists every resource in the archive.
func (a *Archive) Keys() []resource.Key {
	names := a.ar.Names()
	keys := make([]resource.Key, len(names))
	for i, n := range names {
		keys[i] = resource.NewKey(n)
	}
	return keys
}

// Close unmaps the archive.
func (a *Archive) Close() error {
	return a.ar.Close()
}

func archiveErr(key resource.Key, err error) error {
	if errors.Is(err, kar.ErrNotFound) {
		return fmt.Errorf("%s: %w", key, ErrNotExist)
	}
	return err
}

// NewBox creates a source over a packr box, or anything else that can
// find files by name.
func NewBox(finder packd.Finder) *Box {
	return &Box{finder: finder}
}

// Box reads resources compiled into the binary with packr.
type Box struct {
	finder packd.Finder
}

// Open implements Source, the returned stream is seekable.
func (b *Box) Open(key resource.Key) (io.ReadCloser, error) {
	data, err := b.ReadFile(key)
	if err != nil {
		return nil, err
	}
	return bytesFile{bytes.NewReader(data)}, nil
}

// ReadFile implements Source
func (b *Box) ReadFile(key resource.Key) ([]byte, error) {
	data, err := b.finder.Find(string(resource.NewKey(string(key))))
	if err != nil {
		return nil, fmt.Errorf("%s: %w (%v)", key, ErrNotExist, err)
	}
	return data, nil
}

// Size implements Source
func (b *Box) Size(key resource.Key) (int64, error) {
	data, err := b.ReadFile(key)
	if err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

type bytesFile struct {
	*bytes.Reader
}

func (bytesFile) Close() error {
	return nil
}

var (
	_ Source = (*Dir)(nil)
	_ Source = (*Archive)(nil)
	_ Source = (*Box)(nil)
)
