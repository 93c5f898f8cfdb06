package sensor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// EnsureFIFO creates a named pipe at path unless something already exists there.
func EnsureFIFO(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create stream directory: %w", err)
	}
	if err := unix.Mkfifo(path, 0600); err != nil && !errors.Is(err, os.ErrExist) {
		return fmt.Errorf("failed to create event FIFO: %w", err)
	}
	return nil
}
