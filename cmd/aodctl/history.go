package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jmylchreest/aodd/internal/journal"
	"github.com/jmylchreest/aodd/internal/model"
)

var historyOpts struct {
	limit   int
	display int64
	output  string
	follow  bool
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent AOD transitions",
	Long: `Show the most recent transitions from the aodd journal.

The journal is read directly from disk, the daemon does not need to run.`,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntVarP(&historyOpts.limit, "limit", "n", 20,
		"Number of transitions to show (0 = all)")
	historyCmd.Flags().Int64Var(&historyOpts.display, "display", -1,
		"Only show transitions of this display")
	historyCmd.Flags().StringVarP(&historyOpts.output, "output", "o", "text",
		"Output format (text, json)")
	historyCmd.Flags().BoolVarP(&historyOpts.follow, "follow", "f", false,
		"Keep printing transitions as they are recorded")
}

func runHistory(cmd *cobra.Command, args []string) error {
	if !cfg.Journal.Enabled {
		logger.Warn("journal is disabled in the config")
	}

	path := cfg.JournalPath()
	all, err := journal.ReadFile(path)
	if err != nil {
		return err
	}

	transitions := filterTransitions(all, historyOpts.display, historyOpts.limit)
	if err := writeHistory(os.Stdout, transitions, historyOpts.output); err != nil {
		return err
	}
	if !historyOpts.follow {
		return nil
	}
	return followHistory(path)
}

// followHistory prints transitions as they are appended until interrupted.
func followHistory(path string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	follower, err := journal.NewFollower(path, func(ts []model.Transition) {
		ts = filterTransitions(ts, historyOpts.display, 0)
		if len(ts) == 0 {
			return
		}
		if historyOpts.output == "json" {
			_ = writeHistory(os.Stdout, ts, "json")
			return
		}
		for i := range ts {
			writeTransitionLine(os.Stdout, &ts[i])
		}
	}, logger)
	if err != nil {
		return err
	}
	if err := follower.Start(); err != nil {
		return fmt.Errorf("failed to follow journal: %w", err)
	}

	<-ctx.Done()
	return follower.Stop()
}

// filterTransitions keeps transitions of display (all when negative) and
// returns the last limit of them (all when limit <= 0).
func filterTransitions(all []model.Transition, display int64, limit int) []model.Transition {
	var out []model.Transition
	for _, t := range all {
		if display >= 0 && int64(t.Display) != display {
			continue
		}
		out = append(out, t)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func writeHistory(w io.Writer, transitions []model.Transition, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		for i := range transitions {
			if err := enc.Encode(&transitions[i]); err != nil {
				return err
			}
		}
		return nil

	case "text", "":
		if len(transitions) == 0 {
			_, err := fmt.Fprintln(w, dimStyle.Render("no transitions recorded"))
			return err
		}
		fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%-16s %-8s %-11s %-5s %s", "WHEN", "DISPLAY", "ACTION", "MODE", "SOURCE")))
		for i := range transitions {
			writeTransitionLine(w, &transitions[i])
		}
		return nil

	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func writeTransitionLine(w io.Writer, t *model.Transition) {
	fmt.Fprintf(w, "%-16s %-8d %-11s %-5s %s\n",
		humanize.Time(t.Time()), t.Display, t.Action, t.Mode, t.Source)
}
