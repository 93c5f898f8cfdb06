package sensor

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jmylchreest/aodd/internal/model"
)

// wireEvent is one line of the event stream.
type wireEvent struct {
	Sensor      string    `json:"sensor"`
	Display     uint32    `json:"display"`
	Values      []float64 `json:"values"`
	TimestampNS int64     `json:"timestamp_ns,omitempty"`
}

// EncodeEvent encodes ev as a single stream line, including the newline.
func EncodeEvent(ev model.SensorEvent) ([]byte, error) {
	w := wireEvent{
		Sensor:  ev.Sensor,
		Display: uint32(ev.Display),
		Values:  ev.Values,
	}
	if !ev.Timestamp.IsZero() {
		w.TimestampNS = ev.Timestamp.UnixNano()
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// DecodeEvent decodes a single stream line. A missing timestamp is set to now.
func DecodeEvent(line []byte) (model.SensorEvent, error) {
	var w wireEvent
	if err := json.Unmarshal(line, &w); err != nil {
		return model.SensorEvent{}, fmt.Errorf("malformed event: %w", err)
	}
	if w.Sensor == "" {
		return model.SensorEvent{}, errors.New("malformed event: missing sensor")
	}

	ev := model.SensorEvent{
		Sensor:  w.Sensor,
		Display: model.DisplayID(w.Display),
		Values:  w.Values,
	}
	if w.TimestampNS > 0 {
		ev.Timestamp = time.Unix(0, w.TimestampNS)
	} else {
		ev.Timestamp = time.Now()
	}
	return ev, nil
}

// Opener opens the event stream. reconnect reports whether the stream
// should be reopened once it ends.
type Opener func(ctx context.Context) (rc io.ReadCloser, reconnect bool, err error)

// StreamOption configures a StreamManager.
type StreamOption func(*StreamManager)

// WithOpener replaces the default path based opener.
func WithOpener(open Opener) StreamOption {
	return func(m *StreamManager) {
		m.open = open
	}
}

// WithBackoff sets the reconnect backoff bounds.
func WithBackoff(initial, max time.Duration) StreamOption {
	return func(m *StreamManager) {
		m.initialBackoff = initial
		m.maxBackoff = max
	}
}

// StreamManager reads newline-delimited JSON sensor events from a FIFO,
// a unix socket or a regular file and publishes them to its listeners.
type StreamManager struct {
	*Hub

	logger *slog.Logger
	path   string
	open   Opener

	initialBackoff time.Duration
	maxBackoff     time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	doneCh  chan struct{}
}

// NewStreamManager creates a manager reading events from path.
func NewStreamManager(path string, logger *slog.Logger, opts ...StreamOption) *StreamManager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &StreamManager{
		Hub:            NewHub(logger),
		logger:         logger,
		path:           path,
		initialBackoff: 500 * time.Millisecond,
		maxBackoff:     30 * time.Second,
		doneCh:         make(chan struct{}),
	}
	m.open = m.openPath
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start begins reading the stream in the background.
func (m *StreamManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("stream manager already running")
	}
	m.running = true

	ctx, m.cancel = context.WithCancel(ctx)
	m.doneCh = make(chan struct{})
	go m.run(ctx, m.doneCh)

	m.logger.Info("sensor stream manager started", "path", m.path)
	return nil
}

// Done is closed when the read loop has exited.
func (m *StreamManager) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.doneCh
}

// Close stops the read loop and closes all subscriptions.
func (m *StreamManager) Close() error {
	m.mu.Lock()
	running := m.running
	cancel := m.cancel
	done := m.doneCh
	m.running = false
	m.mu.Unlock()

	if running {
		cancel()
		<-done
	}
	return m.Hub.Close()
}

func (m *StreamManager) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = m.initialBackoff
		b.MaxInterval = m.maxBackoff
		b.MaxElapsedTime = 0

		type opened struct {
			rc        io.ReadCloser
			reconnect bool
		}
		s, err := backoff.RetryNotifyWithData(func() (opened, error) {
			rc, reconnect, err := m.open(ctx)
			if err != nil {
				return opened{}, err
			}
			return opened{rc: rc, reconnect: reconnect}, nil
		}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
			m.logger.Warn("failed to open sensor stream, retrying", "path", m.path, "retry_in", next, "error", err)
		})
		if err != nil {
			// Only a cancelled context stops the retries
			return
		}

		m.consume(ctx, s.rc)
		_ = s.rc.Close()

		if ctx.Err() != nil {
			return
		}
		if !s.reconnect {
			m.logger.Info("sensor stream ended", "path", m.path)
			return
		}
		m.logger.Debug("sensor stream closed, reconnecting", "path", m.path)
	}
}

// consume publishes every event read from rc until it ends or ctx is done.
func (m *StreamManager) consume(ctx context.Context, rc io.ReadCloser) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			// Unblock the scanner
			_ = rc.Close()
		case <-stop:
		}
	}()

	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 4096), 64*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		ev, err := DecodeEvent(line)
		if err != nil {
			m.logger.Warn("skipping sensor event", "error", err)
			continue
		}

		n := m.Publish(ev)
		m.logger.Debug("sensor event dispatched", "sensor", ev.Sensor, "display", ev.Display, "listeners", n)
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		m.logger.Warn("sensor stream read error", "path", m.path, "error", err)
	}
}

// openPath opens m.path according to its file type. FIFOs are opened
// read-write so the open does not block and writers may come and go.
func (m *StreamManager) openPath(ctx context.Context) (io.ReadCloser, bool, error) {
	info, err := os.Stat(m.path)
	if err != nil {
		return nil, false, err
	}

	switch {
	case info.Mode()&os.ModeNamedPipe != 0:
		f, err := os.OpenFile(m.path, os.O_RDWR, 0)
		return f, true, err
	case info.Mode()&os.ModeSocket != 0:
		var d net.Dialer
		conn, err := d.DialContext(ctx, "unix", m.path)
		return conn, true, err
	default:
		f, err := os.Open(m.path)
		return f, false, err
	}
}
