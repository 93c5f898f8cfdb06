package journal

import (
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/jmylchreest/aodd/internal/model"
)

// Follower watches a journal file and reports transitions appended to it.
type Follower struct {
	watcher  *fsnotify.Watcher
	filePath string
	logger   *slog.Logger
	onAppend func([]model.Transition)

	mu      sync.Mutex
	running bool
	lastID  string
	done    chan struct{}
	stopped chan struct{}
}

// NewFollower creates a follower for the journal at path. Transitions already
// in the file when Start is called are not reported.
func NewFollower(path string, onAppend func([]model.Transition), logger *slog.Logger) (*Follower, error) {
	if logger == nil {
		logger = slog.Default()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Follower{
		watcher:  watcher,
		filePath: path,
		logger:   logger,
		onAppend: onAppend,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}, nil
}

// Start begins watching the journal.
func (f *Follower) Start() error {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return nil
	}
	f.running = true
	f.mu.Unlock()

	existing, err := ReadFile(f.filePath)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		f.lastID = existing[len(existing)-1].ID
	}

	// Watch the directory containing the file, prune replaces the file
	if err := f.watcher.Add(filepath.Dir(f.filePath)); err != nil {
		return err
	}

	go f.watch()
	return nil
}

func (f *Follower) watch() {
	defer close(f.stopped)
	filename := filepath.Base(f.filePath)

	for {
		select {
		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filename {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				f.check()
			}

		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.logger.Warn("journal watcher error", "error", err)

		case <-f.done:
			return
		}
	}
}

// check reports the transitions recorded after the last one seen.
func (f *Follower) check() {
	all, err := ReadFile(f.filePath)
	if err != nil {
		f.logger.Warn("failed to read journal", "path", f.filePath, "error", err)
		return
	}

	fresh := after(all, f.lastID)
	if len(fresh) == 0 {
		return
	}
	f.lastID = fresh[len(fresh)-1].ID
	if f.onAppend != nil {
		f.onAppend(fresh)
	}
}

// after returns the transitions following lastID. When lastID is gone
// (pruned away) it falls back to ULID ordering.
func after(all []model.Transition, lastID string) []model.Transition {
	if lastID == "" {
		return all
	}
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].ID == lastID {
			return all[i+1:]
		}
	}

	var out []model.Transition
	for _, t := range all {
		if t.ID > lastID {
			out = append(out, t)
		}
	}
	return out
}

// Stop stops the follower.
func (f *Follower) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.running {
		return f.watcher.Close()
	}

	f.running = false
	close(f.done)
	<-f.stopped
	return f.watcher.Close()
}
