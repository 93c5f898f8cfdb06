package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/aodd/internal/model"
	"github.com/jmylchreest/aodd/internal/tui"
)

var watchOpts struct {
	refresh   time.Duration
	clipboard string
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live view of displays in AOD",
	Long: `Open a live terminal view of the displays aodd keeps in AOD.

The view updates when aodd announces a change and refreshes on an interval.

Key bindings:
  j/k, ↑/↓    Select display
  a           Activate a display by id
  d           Deactivate the selected display
  r           Refresh
  y           Copy status as YAML
  ?           Show help
  q           Quit`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().DurationVar(&watchOpts.refresh, "refresh", 5*time.Second,
		"Polling interval")
	watchCmd.Flags().StringVar(&watchOpts.clipboard, "clipboard-command", "",
		"Clipboard command (auto-detects wl-copy, xclip, xsel if empty)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var changes <-chan []model.DisplayID
	if ch, err := client.WatchActiveDisplays(ctx); err != nil {
		logger.Warn("change signals unavailable, polling only", "error", err)
	} else {
		changes = ch
	}

	return tui.Run(tui.Config{
		Source:           client,
		Changes:          changes,
		Refresh:          watchOpts.refresh,
		ClipboardCommand: watchOpts.clipboard,
	})
}
