// Package feed consumes the controller's sample stream: one CSV line per
// zone sample plus JSON lines for out-of-band events, arriving over a serial
// port (or any line source in tests).
package feed

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/hearthgrid/hearthd/internal/monitoring"
	"github.com/hearthgrid/hearthd/internal/timeutil"
	"github.com/hearthgrid/hearthd/internal/tuning"
)

// Handler receives parsed samples and events; the supervisor registry
// implements it.
type Handler interface {
	Ingest(zone string, sample tuning.Sample) bool
	HandleEvent(zone, event string, at time.Time) bool
}

// Port is a line-oriented sample source.
type Port interface {
	Lines() <-chan string
	Monitor(ctx context.Context) error
	Close() error
}

// event is the JSON out-of-band message form:
// {"zone":"living","event":"contact_open"}.
type event struct {
	Zone  string `json:"zone"`
	Event string `json:"event"`
}

// ParseLine parses a CSV sample line: zone,measured,setpoint,demand with
// demand in {0,1}.
func ParseLine(line string, at time.Time) (string, tuning.Sample, error) {
	segments := strings.Split(strings.TrimSpace(line), ",")
	if len(segments) < 4 {
		return "", tuning.Sample{}, fmt.Errorf("expected 4 fields, got %d", len(segments))
	}
	zone := strings.TrimSpace(segments[0])
	if zone == "" {
		return "", tuning.Sample{}, fmt.Errorf("empty zone id")
	}
	measured, err := strconv.ParseFloat(segments[1], 64)
	if err != nil {
		return "", tuning.Sample{}, fmt.Errorf("failed to parse measured: %v", err)
	}
	setpoint, err := strconv.ParseFloat(segments[2], 64)
	if err != nil {
		return "", tuning.Sample{}, fmt.Errorf("failed to parse setpoint: %v", err)
	}
	demand, err := strconv.ParseBool(segments[3])
	if err != nil {
		return "", tuning.Sample{}, fmt.Errorf("failed to parse demand: %v", err)
	}
	return zone, tuning.Sample{At: at, Measured: measured, Setpoint: setpoint, DemandOn: demand}, nil
}

// Run drains the port's lines into the handler until the context is done.
// Malformed lines and unknown zones are logged and dropped; the feed never
// stops over bad input.
func Run(ctx context.Context, port Port, handler Handler, clock timeutil.Clock) {
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-port.Lines():
			if !ok {
				return
			}
			dispatch(line, handler, clock.Now())
		}
	}
}

func dispatch(line string, handler Handler, now time.Time) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	if strings.HasPrefix(line, "{") {
		var e event
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			monitoring.Logf("feed: bad event line %q: %v", line, err)
			return
		}
		if !handler.HandleEvent(e.Zone, e.Event, now) {
			monitoring.Logf("feed: unroutable event %q for zone %q", e.Event, e.Zone)
		}
		return
	}
	zone, sample, err := ParseLine(line, now)
	if err != nil {
		monitoring.Logf("feed: bad sample line %q: %v", line, err)
		return
	}
	if !handler.Ingest(zone, sample) {
		monitoring.Logf("feed: sample for unknown zone %q dropped", zone)
	}
}

// MockPort replays lines from a reader; used by tests and dev mode.
type MockPort struct {
	Data  io.Reader
	lines chan string
}

// NewMockPort wraps a reader as a Port.
func NewMockPort(data io.Reader) *MockPort {
	return &MockPort{Data: data, lines: make(chan string)}
}

// Lines returns the replayed line channel.
func (m *MockPort) Lines() <-chan string { return m.lines }

// Monitor scans the reader and forwards each line, then blocks until the
// context finishes.
func (m *MockPort) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(m.Data)
	for scan.Scan() {
		select {
		case m.lines <- scan.Text():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	<-ctx.Done()
	return nil
}

// Close implements Port.
func (m *MockPort) Close() error { return nil }
