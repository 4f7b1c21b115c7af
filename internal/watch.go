package internal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	tt "github.com/gnolang/classmig/internal/types"
)

// settle is how long a changed archive must stay quiet before it is
// verified again, so a copy in progress is seen once.
const settle = 100 * time.Millisecond

// VerdictFunc receives the verdict for a plugin archive that changed.
type VerdictFunc func(path string, verdict tt.Verdict)

type watchState struct {
	watcher *fsnotify.Watcher
	report  VerdictFunc
	done    chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	pending map[string]*time.Timer
	stopped bool
}

// StartWatching verifies plugin archives under dirs again whenever they are
// written, reporting each verdict to report.
func (e *Engine) StartWatching(report VerdictFunc, dirs ...string) error {
	e.watchMu.Lock()
	defer e.watchMu.Unlock()
	if e.watch != nil {
		return errors.New("already watching")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	for _, dir := range dirs {
		err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() {
				return watcher.Add(path)
			}
			return nil
		})
		if err != nil {
			watcher.Close()
			return fmt.Errorf("error adding directory to watcher: %w", err)
		}
	}

	e.watch = &watchState{
		watcher: watcher,
		report:  report,
		done:    make(chan struct{}),
		pending: make(map[string]*time.Timer),
	}
	e.watch.wg.Add(1)
	go e.watchLoop(e.watch)
	return nil
}

// StopWatching stops the watch loop and waits for it and for every
// verification it started to finish. No verdict is reported after it
// returns.
func (e *Engine) StopWatching() error {
	e.watchMu.Lock()
	w := e.watch
	e.watch = nil
	e.watchMu.Unlock()
	if w == nil {
		return errors.New("not watching")
	}

	close(w.done)
	err := w.watcher.Close()

	w.mu.Lock()
	w.stopped = true
	for path, t := range w.pending {
		if t.Stop() {
			w.wg.Done()
		}
		delete(w.pending, path)
	}
	w.mu.Unlock()

	w.wg.Wait()
	return err
}

func (e *Engine) watchLoop(w *watchState) {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			e.handleFileEvent(w, event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			e.logger.Error("watch error", zap.Error(err))
		}
	}
}

func (e *Engine) handleFileEvent(w *watchState, event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}
	if !strings.HasSuffix(event.Name, ".jar") {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	path := event.Name
	// A timer that already fired is left to its callback.
	if t, ok := w.pending[path]; ok && t.Stop() {
		t.Reset(settle)
		return
	}

	w.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(settle, func() {
		defer w.wg.Done()
		w.mu.Lock()
		if w.pending[path] == t {
			delete(w.pending, path)
		}
		w.mu.Unlock()

		select {
		case <-w.done:
			return
		default:
		}
		verdict := e.Verify(path)
		if w.report != nil {
			w.report(path, verdict)
		}
	})
	w.pending[path] = t
}
