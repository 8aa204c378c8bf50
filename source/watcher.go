// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package source

import (
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/devblok/korures/resource"
	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// NewWatcher watches every directory under root and calls onChange with
// the key of each file that is written, created, removed or renamed.
// onChange runs on the watcher goroutine.
func NewWatcher(root string, onChange func(resource.Key), logger log.FieldLogger) (*Watcher, error) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		root:     root,
		watcher:  fw,
		onChange: onChange,
		logger:   logger.WithField("root", root),
		done:     make(chan struct{}),
	}
	if err := w.addTree(root); err != nil {
		fw.Close()
		return nil, err
	}
	w.wg.Add(1)
	go w.run()
	return w, nil
}

// Watcher reports changed resources under a directory. fsnotify is not
// recursive, so every directory is added on its own, including the ones
// created later.
type Watcher struct {
	root     string
	watcher  *fsnotify.Watcher
	onChange func(resource.Key)
	logger   log.FieldLogger

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return w.watcher.Add(path)
	})
}

func (w *Watcher) run() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Warn("file watch error")
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addTree(ev.Name); err != nil {
				w.logger.WithError(err).WithField("dir", ev.Name).Warn("could not watch new directory")
			}
			return
		}
	}
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return
	}
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil {
		return
	}
	key := resource.NewKey(rel)
	w.logger.WithFields(log.Fields{"path": key, "op": ev.Op.String()}).Debug("resource changed")
	w.onChange(key)
}

// Close stops watching and waits for the last callback to return.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.watcher.Close()
		w.wg.Wait()
	})
	return err
}
