package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/jmylchreest/aodd/internal/config"
	"github.com/jmylchreest/aodd/internal/model"
	"github.com/jmylchreest/aodd/internal/sensor"
)

var injectOpts struct {
	sensor  string
	display uint32
	path    string
}

var injectCmd = &cobra.Command{
	Use:   "inject <value>...",
	Short: "Write a sensor event to the daemon's event stream",
	Long: `Write one sensor event to the event stream aodd reads.

With the default mapping, 1 puts the display into AOD and 0 takes it out:

  aodctl inject --display 0 1
  aodctl inject --sensor xiaomi.sensor.aod 4`,
	Args: cobra.MinimumNArgs(1),
	RunE: runInject,
}

func init() {
	rootCmd.AddCommand(injectCmd)

	injectCmd.Flags().StringVarP(&injectOpts.sensor, "sensor", "s", "",
		"Sensor type (default: the configured AOD sensor)")
	injectCmd.Flags().Uint32VarP(&injectOpts.display, "display", "d", 0,
		"Display the event belongs to")
	injectCmd.Flags().StringVar(&injectOpts.path, "stream", "",
		"Event stream path (default from config)")
}

func runInject(cmd *cobra.Command, args []string) error {
	if cfg.Sensor.Source != config.SourceStream && injectOpts.path == "" {
		return fmt.Errorf("aodd reads sensors from %s, there is no event stream to write to", cfg.Sensor.Source)
	}

	ev, err := buildEvent(injectOpts.sensor, injectOpts.display, args)
	if err != nil {
		return err
	}
	line, err := sensor.EncodeEvent(ev)
	if err != nil {
		return err
	}

	path := injectOpts.path
	if path == "" {
		path = cfg.Sensor.StreamPath
	}

	// Fails with ENXIO when no reader has the FIFO open
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|unix.O_NONBLOCK, 0)
	if err != nil {
		return fmt.Errorf("failed to open event stream: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	logger.Debug("event injected", "path", path, "sensor", ev.Sensor, "display", ev.Display, "values", ev.Values)
	return nil
}

// buildEvent creates the event to inject from the command line.
func buildEvent(sensorType string, display uint32, args []string) (model.SensorEvent, error) {
	if sensorType == "" {
		sensorType = cfg.AOD.Sensor
	}

	values := make([]float64, 0, len(args))
	for _, arg := range args {
		v, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return model.SensorEvent{}, fmt.Errorf("invalid value %q: %w", arg, err)
		}
		values = append(values, v)
	}

	return model.SensorEvent{
		Sensor:    sensorType,
		Display:   model.DisplayID(display),
		Values:    values,
		Timestamp: time.Now(),
	}, nil
}
