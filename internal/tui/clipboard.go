package tui

import (
	"context"
	"errors"
	"os/exec"
	"strings"
)

// ErrNoClipboard is returned when no clipboard tool is configured or installed.
var ErrNoClipboard = errors.New("no clipboard tool found")

// clipboardTools are tried in order when no override is set.
var clipboardTools = [][]string{
	{"wl-copy"},
	{"xclip", "-selection", "clipboard"},
	{"xsel", "--clipboard", "--input"},
}

// clipboardArgv resolves the argv used to copy a status report. An override
// is split on whitespace and used as is.
func clipboardArgv(override string, lookPath func(string) (string, error)) ([]string, error) {
	if argv := strings.Fields(override); len(argv) > 0 {
		return argv, nil
	}
	for _, argv := range clipboardTools {
		if _, err := lookPath(argv[0]); err == nil {
			return argv, nil
		}
	}
	return nil, ErrNoClipboard
}

// pipeToClipboard writes text to the stdin of the resolved clipboard tool.
func pipeToClipboard(ctx context.Context, text, override string) error {
	argv, err := clipboardArgv(override, exec.LookPath)
	if err != nil {
		return err
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = strings.NewReader(text)
	if out, err := cmd.CombinedOutput(); err != nil {
		if msg := strings.TrimSpace(string(out)); msg != "" {
			return errors.New(argv[0] + ": " + msg)
		}
		return err
	}
	return nil
}
