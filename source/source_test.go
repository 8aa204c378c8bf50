// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package source_test

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/devblok/korures/core"
	"github.com/devblok/korures/resource"
	"github.com/devblok/korures/source"
	"github.com/devblok/korures/utility/kar"
	"github.com/gobuffalo/packr"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, data := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(data), 0644))
	}
	return root
}

func TestDir(t *testing.T) {
	root := writeTree(t, map[string]string{"textures/a.png": "not really a png"})
	src := source.NewDir(root)

	data, err := src.ReadFile("textures/a.png")
	require.NoError(t, err)
	assert.Equal(t, "not really a png", string(data))

	size, err := src.Size(resource.NewKey("./textures/a.png"))
	require.NoError(t, err)
	assert.EqualValues(t, 16, size)

	r, err := src.Open("textures/a.png")
	require.NoError(t, err)
	defer r.Close()
	_, seekable := r.(io.Seeker)
	assert.True(t, seekable)

	_, err = src.ReadFile("textures/missing.png")
	assert.ErrorIs(t, err, source.ErrNotExist)
	_, err = src.Size("missing")
	assert.ErrorIs(t, err, source.ErrNotExist)
}

func TestDirStaysUnderRoot(t *testing.T) {
	root := writeTree(t, map[string]string{"inner/a.txt": "a"})
	src := source.NewDir(filepath.Join(root, "inner"))

	_, err := src.ReadFile("../inner/a.txt")
	assert.ErrorIs(t, err, source.ErrNotExist)
	data, err := src.ReadFile("/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "a", string(data))
}

func buildArchive(t *testing.T, files map[string]string) string {
	t.Helper()
	builder, err := kar.NewBuilder(kar.Header{Author: "test", Version: 1})
	require.NoError(t, err)
	defer builder.Close()
	for name, data := range files {
		require.NoError(t, builder.Add(name, strings.NewReader(data)))
	}
	var buf bytes.Buffer
	_, err = builder.WriteTo(&buf)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "assets.kar")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
	return path
}

func TestArchive(t *testing.T) {
	path := buildArchive(t, map[string]string{
		"models/quad.dae": "<COLLADA/>",
		"sounds/a.wav":    "RIFF",
	})
	src, err := source.OpenArchive(path)
	require.NoError(t, err)
	defer src.Close()

	assert.Equal(t, []resource.Key{"models/quad.dae", "sounds/a.wav"}, src.Keys())

	data, err := src.ReadFile("models/quad.dae")
	require.NoError(t, err)
	assert.Equal(t, "<COLLADA/>", string(data))

	r, err := src.Open("sounds/a.wav")
	require.NoError(t, err)
	streamed, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "RIFF", string(streamed))

	size, err := src.Size("sounds/a.wav")
	require.NoError(t, err)
	assert.Greater(t, size, int64(0))

	_, err = src.Open("sounds/missing.wav")
	assert.ErrorIs(t, err, source.ErrNotExist)
}

func TestFromConfig(t *testing.T) {
	root := writeTree(t, map[string]string{"a.txt": "dir"})
	src, err := source.FromConfig(core.ResourceConfiguration{Root: root})
	require.NoError(t, err)
	assert.IsType(t, &source.Dir{}, src)

	src, err = source.FromConfig(core.ResourceConfiguration{
		Root:    root,
		Archive: buildArchive(t, map[string]string{"a.txt": "archive"}),
	})
	require.NoError(t, err)
	data, err := src.ReadFile("a.txt")
	require.NoError(t, err)
	assert.Equal(t, "archive", string(data))
	require.NoError(t, src.(*source.Archive).Close())

	_, err = source.FromConfig(core.ResourceConfiguration{Root: filepath.Join(root, "a.txt")})
	assert.Error(t, err)
}

func TestBox(t *testing.T) {
	src := source.NewBox(packr.NewBox("./testdata/box"))

	data, err := src.ReadFile("greeting.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello from the box\n", string(data))

	r, err := src.Open("./shaders/flat.frag")
	require.NoError(t, err)
	_, seekable := r.(io.Seeker)
	assert.True(t, seekable)
	require.NoError(t, r.Close())

	_, err = src.Size("nothing.txt")
	assert.ErrorIs(t, err, source.ErrNotExist)
}

func TestWatcher(t *testing.T) {
	root := writeTree(t, map[string]string{"textures/a.png": "v1"})
	changed := make(chan resource.Key, 16)
	logger, _ := test.NewNullLogger()

	w, err := source.NewWatcher(root, func(k resource.Key) { changed <- k }, logger)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(root, "textures", "a.png"), []byte("v2"), 0644))

	timeout := time.After(5 * time.Second)
	for {
		select {
		case k := <-changed:
			if k == "textures/a.png" {
				return
			}
		case <-timeout:
			t.Fatal("no change reported for textures/a.png")
		}
	}
}

func TestWatcherClose(t *testing.T) {
	w, err := source.NewWatcher(t.TempDir(), func(resource.Key) {}, nil)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.NoError(t, w.Close())
}
