// Package journal records display transitions in an append-only JSONL file.
//
// The journal is an audit trail. The daemon never replays it into the
// active display set.
package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmylchreest/aodd/internal/model"
)

// SchemaVersion is the current journal schema version.
const SchemaVersion = 1

// ErrClosed is returned when operations are attempted on a closed journal.
var ErrClosed = errors.New("journal is closed")

// maxLineSize bounds a single journal line.
const maxLineSize = 64 * 1024

// schemaHeader is the first line of the JSONL file.
type schemaHeader struct {
	AoddSchemaVersion int   `json:"aodd_schema_version"`
	CreatedAt         int64 `json:"created_at"`
}

// Journal appends transitions to a JSONL file.
type Journal struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	closed bool
	// Appended since the last Sync
	dirty bool
}

// Open opens the journal at path, creating the file and its directory if needed.
func Open(path string) (*Journal, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal %s: %w", path, err)
	}

	j := &Journal{
		path: path,
		file: file,
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	if info.Size() == 0 {
		if err := writeHeader(file); err != nil {
			file.Close()
			return nil, err
		}
	}

	return j, nil
}

// Path returns the journal file path.
func (j *Journal) Path() string {
	return j.path
}

func writeHeader(w io.Writer) error {
	data, err := json.Marshal(schemaHeader{
		AoddSchemaVersion: SchemaVersion,
		CreatedAt:         time.Now().Unix(),
	})
	if err != nil {
		return err
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

// Append adds a transition to the journal.
func (j *Journal) Append(t *model.Transition) error {
	if t == nil {
		return errors.New("nil transition")
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return ErrClosed
	}

	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	if _, err := j.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append transition: %w", err)
	}
	j.dirty = true
	return nil
}

// Sync flushes appended transitions to stable storage. It is a no-op when
// nothing was appended since the last Sync.
func (j *Journal) Sync() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return ErrClosed
	}
	return j.syncLocked()
}

func (j *Journal) syncLocked() error {
	if !j.dirty {
		return nil
	}
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync journal: %w", err)
	}
	j.dirty = false
	return nil
}

// Dirty reports whether transitions were appended since the last Sync.
func (j *Journal) Dirty() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.dirty
}

// Load returns every transition in the journal, oldest first.
func (j *Journal) Load() ([]model.Transition, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil, ErrClosed
	}

	if _, err := j.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek %s: %w", j.path, err)
	}
	return decode(j.file)
}

// Tail returns the last n transitions, oldest first. n <= 0 returns all.
func (j *Journal) Tail(n int) ([]model.Transition, error) {
	all, err := j.Load()
	if err != nil {
		return nil, err
	}
	return tail(all, n), nil
}

// Prune rewrites the journal keeping only the newest keep transitions.
func (j *Journal) Prune(keep int) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return 0, ErrClosed
	}

	if _, err := j.file.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("seek %s: %w", j.path, err)
	}
	all, err := decode(j.file)
	if err != nil {
		return 0, err
	}
	kept := tail(all, keep)
	if keep <= 0 {
		kept = nil
	}
	removed := len(all) - len(kept)
	if removed == 0 {
		return 0, nil
	}

	tmpPath := j.path + ".tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return 0, fmt.Errorf("failed to create journal: %w", err)
	}
	w := bufio.NewWriter(tmp)
	err = writeHeader(w)
	for i := 0; err == nil && i < len(kept); i++ {
		var data []byte
		if data, err = json.Marshal(kept[i]); err == nil {
			_, err = w.Write(append(data, '\n'))
		}
	}
	if err == nil {
		err = w.Flush()
	}
	if err == nil {
		err = tmp.Sync()
	}
	tmp.Close()
	if err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to write journal: %w", err)
	}

	if err := os.Rename(tmpPath, j.path); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to replace journal: %w", err)
	}

	file, err := os.OpenFile(j.path, os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return removed, fmt.Errorf("failed to reopen journal: %w", err)
	}
	j.file.Close()
	j.file = file
	j.dirty = false

	return removed, nil
}

// Close releases the file handle.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true
	err := j.syncLocked()
	if cerr := j.file.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// ReadFile reads the transitions of the journal at path without opening it
// for writing. A missing file yields no transitions.
func ReadFile(path string) ([]model.Transition, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()
	return decode(file)
}

// decode reads a journal stream. Malformed lines are skipped.
func decode(r io.Reader) ([]model.Transition, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 4096), maxLineSize)

	var transitions []model.Transition
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		if lineNum == 1 {
			var header schemaHeader
			if err := json.Unmarshal(line, &header); err == nil && header.AoddSchemaVersion > 0 {
				if header.AoddSchemaVersion > SchemaVersion {
					return nil, fmt.Errorf("unsupported schema version %d (max: %d)",
						header.AoddSchemaVersion, SchemaVersion)
				}
				continue
			}
		}

		var t model.Transition
		if err := json.Unmarshal(line, &t); err != nil || t.ID == "" {
			continue
		}
		transitions = append(transitions, t)
	}

	if err := scanner.Err(); err != nil {
		return transitions, fmt.Errorf("error reading journal: %w", err)
	}
	return transitions, nil
}

func tail(all []model.Transition, n int) []model.Transition {
	if n <= 0 || n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}
