package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/aodd/internal/tui"
)

var statusOpts struct {
	output string
	stats  bool
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show displays currently in AOD",
	Long: `Show the displays aodd currently keeps in Always-On-Display.

Output formats:
  text  Human readable table (default)
  json  One JSON document
  yaml  One YAML document`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringVarP(&statusOpts.output, "output", "o", "text",
		"Output format (text, json, yaml)")
	statusCmd.Flags().BoolVar(&statusOpts.stats, "stats", false,
		"Include daemon counters")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := newClient()
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	displays, err := client.ActiveDisplays(ctx)
	if err != nil {
		return err
	}

	var stats map[string]int64
	if statusOpts.stats {
		stats, err = client.Stats(ctx)
		if err != nil {
			return err
		}
	}

	return writeReport(os.Stdout, tui.NewReport(displays, stats), statusOpts.output)
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// writeReport renders r in the given format.
func writeReport(w io.Writer, r tui.Report, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)

	case "yaml":
		enc := yaml.NewEncoder(w)
		defer func() { _ = enc.Close() }()
		return enc.Encode(r)

	case "text", "":
		if len(r.Displays) == 0 {
			_, err := fmt.Fprintln(w, dimStyle.Render("no displays in AOD"))
			return err
		}
		fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%-10s %-10s %-6s %s", "DISPLAY", "OWNER", "DOZE", "ACTIVE")))
		for _, d := range r.Displays {
			mode := d.Mode
			if mode == "" {
				mode = "-"
			}
			fmt.Fprintf(w, "%-10d %-10s %-6s %s\n", d.ID, d.Owner, mode, humanize.Time(d.ActiveSince))
		}
		if names := r.StatNames(); len(names) > 0 {
			fmt.Fprintln(w)
			fmt.Fprintln(w, headerStyle.Render("STATS"))
			for _, name := range names {
				fmt.Fprintf(w, "  %-28s %s\n", name, humanize.Comma(r.Stats[name]))
			}
		}
		return nil

	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
