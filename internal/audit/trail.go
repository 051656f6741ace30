// Package audit writes a JSON-lines trail of extension lifecycle events.
package audit

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/harun/extloader/pkg/extension"
)

// Event is one audit entry
type Event struct {
	Action    string // loaded, initialized, failed
	Timestamp time.Time
	RunID     string
	Role      string
	Extension string
	Path      string
	Status    string // success, failure
	Error     string
	TraceID   string
}

// Trail records audit events
type Trail struct {
	logger zerolog.Logger
	mu     sync.Mutex
	file   *os.File
	closed bool
}

// New creates a trail writing to w
func New(w io.Writer) *Trail {
	return &Trail{
		logger: zerolog.New(w),
	}
}

// Open creates a trail appending to the file at path
func Open(path string) (*Trail, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}

	t := New(file)
	t.file = file
	return t, nil
}

// Record writes event and, when ctx carries a span, adds it as a span event.
// A trace ID already set on event is kept.
func (t *Trail) Record(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		if event.TraceID == "" {
			event.TraceID = span.SpanContext().TraceID().String()
		}
		span.AddEvent("extension."+event.Action, trace.WithAttributes(
			attribute.String("audit.extension", event.Extension),
			attribute.String("audit.status", event.Status),
		))
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}

	entry := t.logger.Log().
		Time("timestamp", event.Timestamp).
		Str("action", event.Action).
		Str("run_id", event.RunID).
		Str("role", event.Role).
		Str("extension", event.Extension).
		Str("path", event.Path).
		Str("status", event.Status)
	if event.Error != "" {
		entry = entry.Str("error", event.Error)
	}
	if event.TraceID != "" {
		entry = entry.Str("trace_id", event.TraceID)
	}
	entry.Send()
}

// Attach subscribes the trail to the initializer events of emitter. Emitter
// handlers run asynchronously, so entries for one extension may be written
// out of order; each entry carries the timestamp of its event and readers
// should order by it. Call emitter.Wait before Close to flush pending entries.
func (t *Trail) Attach(emitter *extension.Emitter) {
	actions := map[string]string{
		extension.EventLoaded:      "loaded",
		extension.EventInitialized: "initialized",
		extension.EventFailed:      "failed",
	}
	for event, action := range actions {
		action := action
		emitter.On(event, func(payload any) {
			p, ok := payload.(extension.EventPayload)
			if !ok {
				return
			}
			t.Record(context.Background(), FromPayload(action, p))
		})
	}
}

// FromPayload converts an initializer event payload into an audit event
func FromPayload(action string, p extension.EventPayload) Event {
	event := Event{
		Action:    action,
		Timestamp: p.Timestamp,
		RunID:     p.RunID,
		Role:      p.Role.String(),
		Extension: p.Name,
		Path:      p.Path,
		Status:    "success",
		TraceID:   p.TraceID,
	}
	if p.Err != nil {
		event.Status = "failure"
		event.Error = p.Err.Error()
	}
	return event
}

// Close stops recording and closes the trail's file, if any
func (t *Trail) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	if t.file != nil {
		err := t.file.Close()
		t.file = nil
		return err
	}
	return nil
}
