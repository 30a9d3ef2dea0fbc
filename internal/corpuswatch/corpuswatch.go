// Package corpuswatch surfaces newly-written files under a fuzzer's corpus
// directory, built on top of fsnotify.
package corpuswatch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// maxBatch bounds how many paths a single Poll call returns. A fuzzer that
// produces more than this between polls almost certainly indicates the
// driver has fallen badly behind; surfacing that as an error rather than an
// unbounded batch keeps the loop's per-iteration cost predictable.
const maxBatch = 127

// ErrWatchedDirGone is returned once, from Poll, when the watched directory
// itself was removed. The caller should treat this as a fatal runtime error.
var ErrWatchedDirGone = errors.New("watched corpus directory vanished")

// Watcher yields batches of newly-closed file paths under a corpus
// directory, deduplicated against everything it has already surfaced.
type Watcher struct {
	dir    string
	log    *logrus.Entry
	fs     *fsnotify.Watcher
	seen   map[string]struct{}
	active bool // true once fs is watching dir itself, not just its parent
}

// New creates a Watcher for dir. If dir does not yet exist, the parent
// directory is watched instead and Poll transparently promotes to watching
// dir once it is created.
func New(dir string, log *logrus.Entry) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("initializing filesystem watcher: %w", err)
	}

	w := &Watcher{
		dir:  dir,
		log:  log,
		fs:   fsw,
		seen: make(map[string]struct{}),
	}

	if err := w.arm(); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// arm adds the appropriate watch: on dir itself if it exists, or on its
// parent (waiting for dir's creation) otherwise.
func (w *Watcher) arm() error {
	if _, err := os.Stat(w.dir); err == nil {
		if err := w.fs.Add(w.dir); err != nil {
			return fmt.Errorf("watching corpus dir %s: %w", w.dir, err)
		}
		w.active = true
		return nil
	}

	parent := filepath.Dir(w.dir)
	if err := w.fs.Add(parent); err != nil {
		return fmt.Errorf("watching corpus parent dir %s: %w", parent, err)
	}
	w.active = false
	return nil
}

// MarkSeen pre-seeds path into the dedup set without surfacing it, so a
// file this driver itself wrote into the watched directory (e.g. a
// peer-injected input the fuzzer will shortly ingest and re-emit) does not
// bounce back out of a future Poll.
func (w *Watcher) MarkSeen(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	w.seen[abs] = struct{}{}
}

// Close releases the underlying filesystem watch.
func (w *Watcher) Close() error {
	return w.fs.Close()
}

// Poll drains currently-buffered filesystem events and returns the absolute
// paths of files it has not surfaced before. It never blocks: with nothing
// pending it returns an empty, nil-error batch.
func (w *Watcher) Poll() ([]string, error) {
	var batch []string
	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return batch, nil
			}
			path, fatal, skip := w.classify(ev)
			if fatal {
				return batch, ErrWatchedDirGone
			}
			if skip {
				continue
			}
			if _, dup := w.seen[path]; dup {
				continue
			}
			if len(batch) >= maxBatch {
				return batch, fmt.Errorf("corpus watcher: more than %d new files in one poll", maxBatch)
			}
			w.seen[path] = struct{}{}
			batch = append(batch, path)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return batch, nil
			}
			w.log.WithError(err).Warn("corpus watcher backend error")
		default:
			return batch, nil
		}
	}
}

// classify interprets one fsnotify event against the close-after-write and
// self-deleted contract. A rename-into-place (the common atomic-write
// pattern fuzzers use) and a direct create both surface as fsnotify.Create,
// which only fires once the new directory entry exists — equivalent to the
// reference's close-after-write guarantee that the file is fully written.
func (w *Watcher) classify(ev fsnotify.Event) (path string, fatal bool, skip bool) {
	if ev.Name == w.dir && ev.Op.Has(fsnotify.Remove) {
		return "", true, false
	}
	if !w.active {
		if ev.Op.Has(fsnotify.Create) && filepath.Base(ev.Name) == filepath.Base(w.dir) {
			if err := w.fs.Add(w.dir); err == nil {
				w.active = true
			}
		}
		return "", false, true
	}
	if filepath.Dir(ev.Name) != w.dir {
		return "", false, true
	}
	if !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Write) {
		return "", false, true
	}
	name := filepath.Base(ev.Name)
	if name == "" {
		w.log.Warn("corpus watcher: event with empty name, skipping")
		return "", false, true
	}
	abs, err := filepath.Abs(ev.Name)
	if err != nil {
		abs = ev.Name
	}
	return abs, false, false
}
