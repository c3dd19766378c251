package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/scenepipe/scenepipe/pkg/engine"
)

// EventFilter determines if an event should be published.
type EventFilter func(event *engine.Event) bool

// FilterByLevel passes events at or above minLevel (info, error).
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		"info":  0,
		"error": 1,
	}
	threshold := levels[minLevel]
	return func(event *engine.Event) bool {
		return levels[event.Level] >= threshold
	}
}

// FilterByType passes events of the given types.
func FilterByType(types ...engine.EventType) EventFilter {
	return func(event *engine.Event) bool {
		for _, t := range types {
			if event.Type == t {
				return true
			}
		}
		return false
	}
}

// Filtered publishes to pub only the events that pass filter.
func Filtered(pub engine.EventPublisher, filter EventFilter) engine.EventPublisher {
	return filteredPublisher{pub: pub, filter: filter}
}

type filteredPublisher struct {
	pub    engine.EventPublisher
	filter EventFilter
}

func (f filteredPublisher) Publish(ctx context.Context, event *engine.Event) error {
	if !f.filter(event) {
		return nil
	}
	return f.pub.Publish(ctx, event)
}

// LogPublisher writes execution events to a zerolog logger.
type LogPublisher struct {
	logger zerolog.Logger
}

// NewLogPublisher creates a publisher that logs through l.
func NewLogPublisher(l *Logger) *LogPublisher {
	return &LogPublisher{logger: l.NewComponentLogger("events").zlog}
}

// Publish logs an event at its severity level.
func (p *LogPublisher) Publish(_ context.Context, event *engine.Event) error {
	e := p.logger.Info()
	if event.Level == "error" {
		e = p.logger.Error()
	}
	e = e.Str("event", string(event.Type)).Str("run_id", event.RunID).Str("pipeline", event.Pipeline)
	if event.StageID != "" {
		e = e.Str("stage", event.StageID)
	}
	if event.Outcome != "" {
		e = e.Str("outcome", string(event.Outcome)).Dur("duration", event.Duration)
	}
	e.Msg(event.Message)
	return nil
}

// JSONLinesPublisher appends every event as one JSON object per line.
type JSONLinesPublisher struct {
	mu     sync.Mutex
	enc    *json.Encoder
	closer io.Closer
}

// NewJSONLinesPublisher creates a publisher writing to w.
func NewJSONLinesPublisher(w io.Writer) *JSONLinesPublisher {
	return &JSONLinesPublisher{enc: json.NewEncoder(w)}
}

// OpenJSONLinesPublisher creates a publisher appending to the file at path.
func OpenJSONLinesPublisher(path string) (*JSONLinesPublisher, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open events file %s: %w", path, err)
	}
	p := NewJSONLinesPublisher(f)
	p.closer = f
	return p, nil
}

// Publish writes the event.
func (p *JSONLinesPublisher) Publish(_ context.Context, event *engine.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enc.Encode(event); err != nil {
		return fmt.Errorf("failed to write event %s: %w", event.ID, err)
	}
	return nil
}

// Close closes the events file, if the publisher opened one.
func (p *JSONLinesPublisher) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer.Close()
}
