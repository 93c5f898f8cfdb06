// Package sysfs reads and writes single-value kernel attribute nodes.
package sysfs

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// ErrNoNode is returned when the node does not exist.
var ErrNoNode = errors.New("no such node")

// ReadOneLine reads the first line of the node, without the trailing newline.
func ReadOneLine(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%s: %w", path, ErrNoNode)
		}
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if scanner.Scan() {
		return strings.TrimRight(scanner.Text(), "\r"), nil
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return "", nil
}

// WriteLine writes value to the node. Nodes are never created.
func WriteLine(path, value string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", path, ErrNoNode)
		}
		return fmt.Errorf("failed to open %s for writing: %w", path, err)
	}

	if _, err := f.WriteString(value); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %q to %s: %w", value, path, err)
	}
	return f.Close()
}

// Exists reports whether the node exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// IsWritable reports whether the node exists and the process may write it.
func IsWritable(path string) bool {
	return Exists(path) && unix.Access(path, unix.W_OK) == nil
}

// IsReadable reports whether the node exists and the process may read it.
func IsReadable(path string) bool {
	return Exists(path) && unix.Access(path, unix.R_OK) == nil
}
