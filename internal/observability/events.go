// Package observability provides logging, tracing, and event timeline capabilities.
// This file implements the event timeline for debugging and replaying streams.
package observability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Additional context keys for correlation IDs
const (
	// ToolCallIDKey is the context key for tool call IDs.
	ToolCallIDKey ContextKey = "tool_call_id"
)

// AddToolCallID adds a tool call ID to the context.
func AddToolCallID(ctx context.Context, toolCallID string) context.Context {
	return context.WithValue(ctx, ToolCallIDKey, toolCallID)
}

// GetToolCallID retrieves the tool call ID from the context.
func GetToolCallID(ctx context.Context) string {
	if id, ok := ctx.Value(ToolCallIDKey).(string); ok {
		return id
	}
	return ""
}

// EventType categorizes events for filtering and display.
type EventType string

const (
	EventTypeStreamStart  EventType = "stream.start"
	EventTypeStreamEnd    EventType = "stream.end"
	EventTypeStreamError  EventType = "stream.error"
	EventTypeLLMRequest   EventType = "llm.request"
	EventTypeLLMResponse  EventType = "llm.response"
	EventTypeLLMError     EventType = "llm.error"
	EventTypeDefect       EventType = "transcript.defect"
	EventTypeImportStart  EventType = "import.start"
	EventTypeImportEnd    EventType = "import.end"
	EventTypeCustom       EventType = "custom"
)

// Event represents a single event in the timeline.
type Event struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	RequestID  string         `json:"request_id,omitempty"`
	StreamID   string         `json:"stream_id,omitempty"`
	Provider   string         `json:"provider,omitempty"`
	Model      string         `json:"model,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	Duration   time.Duration  `json:"duration_ns,omitempty"`
	Error      string         `json:"error,omitempty"`
	TraceID    string         `json:"trace_id,omitempty"`
	SpanID     string         `json:"span_id,omitempty"`
}

// EventStore stores and retrieves events for debugging.
type EventStore interface {
	// Record stores an event.
	Record(event *Event) error

	// GetByRequestID returns all events for a request, sorted by timestamp.
	GetByRequestID(requestID string) ([]*Event, error)

	// GetByStreamID returns all events for a stream, sorted by timestamp.
	GetByStreamID(streamID string) ([]*Event, error)

	// GetByTimeRange returns events within a time range.
	GetByTimeRange(start, end time.Time) ([]*Event, error)

	// GetByType returns events of a specific type.
	GetByType(eventType EventType, limit int) ([]*Event, error)

	// Get returns a single event by ID.
	Get(id string) (*Event, error)

	// Delete removes events older than the given duration.
	Delete(olderThan time.Duration) (int, error)
}

// MemoryEventStore is an in-memory implementation of EventStore.
type MemoryEventStore struct {
	mu        sync.RWMutex
	events    map[string]*Event
	byRequest map[string][]string // requestID -> eventIDs
	byStream  map[string][]string // streamID -> eventIDs
	maxSize   int
}

// NewMemoryEventStore creates a new in-memory event store.
func NewMemoryEventStore(maxSize int) *MemoryEventStore {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &MemoryEventStore{
		events:    make(map[string]*Event),
		byRequest: make(map[string][]string),
		byStream:  make(map[string][]string),
		maxSize:   maxSize,
	}
}

func (s *MemoryEventStore) Record(event *Event) error {
	if event == nil {
		return errors.New("event cannot be nil")
	}
	if event.ID == "" {
		event.ID = generateEventID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Enforce max size
	if len(s.events) >= s.maxSize {
		s.evictOldest()
	}

	s.events[event.ID] = event

	if event.RequestID != "" {
		s.byRequest[event.RequestID] = append(s.byRequest[event.RequestID], event.ID)
	}
	if event.StreamID != "" {
		s.byStream[event.StreamID] = append(s.byStream[event.StreamID], event.ID)
	}

	return nil
}

func (s *MemoryEventStore) GetByRequestID(requestID string) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(s.byRequest[requestID]), nil
}

func (s *MemoryEventStore) GetByStreamID(streamID string) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(s.byStream[streamID]), nil
}

// collect resolves ids to events sorted by timestamp. Callers hold the lock.
func (s *MemoryEventStore) collect(ids []string) []*Event {
	events := make([]*Event, 0, len(ids))
	for _, id := range ids {
		if e, ok := s.events[id]; ok {
			events = append(events, e)
		}
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})

	return events
}

func (s *MemoryEventStore) GetByTimeRange(start, end time.Time) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []*Event
	for _, e := range s.events {
		if (e.Timestamp.Equal(start) || e.Timestamp.After(start)) &&
			(e.Timestamp.Equal(end) || e.Timestamp.Before(end)) {
			events = append(events, e)
		}
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})

	return events, nil
}

func (s *MemoryEventStore) GetByType(eventType EventType, limit int) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []*Event
	for _, e := range s.events {
		if e.Type == eventType {
			events = append(events, e)
		}
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].Timestamp.After(events[j].Timestamp) // Most recent first
	})

	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}

	return events, nil
}

func (s *MemoryEventStore) Get(id string) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.events[id]
	if !ok {
		return nil, fmt.Errorf("event not found: %s", id)
	}
	return e, nil
}

func (s *MemoryEventStore) Delete(olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	deleted := 0

	for id, e := range s.events {
		if e.Timestamp.Before(cutoff) {
			delete(s.events, id)
			deleted++
		}
	}

	// Clean up indices
	for requestID, ids := range s.byRequest {
		var remaining []string
		for _, id := range ids {
			if _, ok := s.events[id]; ok {
				remaining = append(remaining, id)
			}
		}
		if len(remaining) == 0 {
			delete(s.byRequest, requestID)
		} else {
			s.byRequest[requestID] = remaining
		}
	}

	for streamID, ids := range s.byStream {
		var remaining []string
		for _, id := range ids {
			if _, ok := s.events[id]; ok {
				remaining = append(remaining, id)
			}
		}
		if len(remaining) == 0 {
			delete(s.byStream, streamID)
		} else {
			s.byStream[streamID] = remaining
		}
	}

	return deleted, nil
}

func (s *MemoryEventStore) evictOldest() {
	// Find and remove oldest 10% of events
	toRemove := s.maxSize / 10
	if toRemove < 1 {
		toRemove = 1
	}

	var events []*Event
	for _, e := range s.events {
		events = append(events, e)
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})

	for i := 0; i < toRemove && i < len(events); i++ {
		delete(s.events, events[i].ID)
	}
}

// EventRecorder provides a convenient API for recording events.
type EventRecorder struct {
	store  EventStore
	logger *Logger
}

// NewEventRecorder creates a new event recorder.
func NewEventRecorder(store EventStore, logger *Logger) *EventRecorder {
	return &EventRecorder{
		store:  store,
		logger: logger,
	}
}

// Record records an event, extracting correlation IDs from context.
func (r *EventRecorder) Record(ctx context.Context, eventType EventType, name string, data map[string]any) error {
	event := &Event{
		ID:         generateEventID(),
		Type:       eventType,
		Timestamp:  time.Now(),
		RequestID:  GetRequestID(ctx),
		StreamID:   GetStreamID(ctx),
		Provider:   GetProvider(ctx),
		ToolCallID: GetToolCallID(ctx),
		Name:       name,
		Data:       data,
		TraceID:    GetTraceID(ctx),
		SpanID:     GetSpanID(ctx),
	}
	if model, ok := ctx.Value(ModelKey).(string); ok {
		event.Model = model
	}

	if r.logger != nil {
		r.logger.Debug(ctx, "event recorded",
			"event_type", string(eventType),
			"event_name", name,
			"event_id", event.ID,
		)
	}

	return r.store.Record(event)
}

// RecordError records an error event.
func (r *EventRecorder) RecordError(ctx context.Context, eventType EventType, name string, err error, data map[string]any) error {
	if data == nil {
		data = make(map[string]any)
	}
	data["error"] = err.Error()

	event := &Event{
		ID:         generateEventID(),
		Type:       eventType,
		Timestamp:  time.Now(),
		RequestID:  GetRequestID(ctx),
		StreamID:   GetStreamID(ctx),
		Provider:   GetProvider(ctx),
		ToolCallID: GetToolCallID(ctx),
		Name:       name,
		Data:       data,
		Error:      err.Error(),
		TraceID:    GetTraceID(ctx),
		SpanID:     GetSpanID(ctx),
	}
	if model, ok := ctx.Value(ModelKey).(string); ok {
		event.Model = model
	}

	if r.logger != nil {
		r.logger.Error(ctx, "error event recorded",
			"event_type", string(eventType),
			"event_name", name,
			"event_id", event.ID,
			"error", err,
		)
	}

	return r.store.Record(event)
}

// RecordStreamStart records a stream open event.
func (r *EventRecorder) RecordStreamStart(ctx context.Context, provider, model string) error {
	return r.Record(ctx, EventTypeStreamStart, provider, map[string]any{
		"provider": provider,
		"model":    model,
	})
}

// RecordStreamEnd records a stream close event with its outcome.
func (r *EventRecorder) RecordStreamEnd(ctx context.Context, provider string, duration time.Duration, err error) error {
	data := map[string]any{
		"provider":    provider,
		"duration_ms": duration.Milliseconds(),
	}
	if err != nil {
		return r.RecordError(ctx, EventTypeStreamError, provider, err, data)
	}
	return r.Record(ctx, EventTypeStreamEnd, provider, data)
}

// RecordDefect records a repaired transcript inconsistency.
func (r *EventRecorder) RecordDefect(ctx context.Context, kind string, data map[string]any) error {
	if data == nil {
		data = make(map[string]any)
	}
	data["kind"] = kind
	return r.Record(ctx, EventTypeDefect, kind, data)
}

// RecordImport records a legacy history import with its entry counts.
func (r *EventRecorder) RecordImport(ctx context.Context, entries, imported int, duration time.Duration) error {
	return r.Record(ctx, EventTypeImportEnd, "history_import", map[string]any{
		"entries":     entries,
		"imported":    imported,
		"duration_ms": duration.Milliseconds(),
	})
}

// Timeline represents a sequence of events for display.
type Timeline struct {
	RequestID string           `json:"request_id"`
	StreamID  string           `json:"stream_id"`
	StartTime time.Time        `json:"start_time"`
	EndTime   time.Time        `json:"end_time"`
	Duration  time.Duration    `json:"duration"`
	Events    []*Event         `json:"events"`
	Summary   *TimelineSummary `json:"summary"`
}

// TimelineSummary provides aggregate statistics for a timeline.
type TimelineSummary struct {
	TotalEvents   int           `json:"total_events"`
	ErrorCount    int           `json:"error_count"`
	LLMCalls      int           `json:"llm_calls"`
	Streams       int           `json:"streams"`
	Defects       int           `json:"defects"`
	TotalDuration time.Duration `json:"total_duration"`
}

// BuildTimeline creates a timeline from events.
func BuildTimeline(events []*Event) *Timeline {
	if len(events) == 0 {
		return &Timeline{Summary: &TimelineSummary{}}
	}

	// Sort by timestamp
	sort.Slice(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})

	timeline := &Timeline{
		Events:    events,
		StartTime: events[0].Timestamp,
		EndTime:   events[len(events)-1].Timestamp,
		Duration:  events[len(events)-1].Timestamp.Sub(events[0].Timestamp),
		Summary:   &TimelineSummary{TotalEvents: len(events)},
	}

	// Extract request/stream ID from first event that carries one
	for _, e := range events {
		if e.RequestID != "" && timeline.RequestID == "" {
			timeline.RequestID = e.RequestID
		}
		if e.StreamID != "" && timeline.StreamID == "" {
			timeline.StreamID = e.StreamID
		}
		if timeline.RequestID != "" && timeline.StreamID != "" {
			break
		}
	}

	// Compute summary
	for _, e := range events {
		if e.Error != "" {
			timeline.Summary.ErrorCount++
		}
		switch e.Type {
		case EventTypeLLMRequest:
			timeline.Summary.LLMCalls++
		case EventTypeStreamStart:
			timeline.Summary.Streams++
		case EventTypeDefect:
			timeline.Summary.Defects++
		}
		timeline.Summary.TotalDuration += e.Duration
	}

	return timeline
}

// FormatTimeline formats a timeline for display.
func FormatTimeline(timeline *Timeline) string {
	if timeline == nil || len(timeline.Events) == 0 {
		return "No events found"
	}

	var result string
	result += fmt.Sprintf("=== Timeline for Request: %s ===\n", timeline.RequestID)
	result += fmt.Sprintf("Stream: %s\n", timeline.StreamID)
	result += fmt.Sprintf("Duration: %v\n", timeline.Duration)
	result += fmt.Sprintf("Events: %d (Errors: %d)\n", timeline.Summary.TotalEvents, timeline.Summary.ErrorCount)
	result += fmt.Sprintf("LLM calls: %d, Streams: %d, Defects: %d\n\n",
		timeline.Summary.LLMCalls, timeline.Summary.Streams, timeline.Summary.Defects)

	for i, e := range timeline.Events {
		prefix := "├─"
		if i == len(timeline.Events)-1 {
			prefix = "└─"
		}

		timestamp := e.Timestamp.Format("15:04:05.000")
		errorMark := ""
		if e.Error != "" {
			errorMark = " ❌"
		}

		result += fmt.Sprintf("%s [%s] %s: %s%s\n", prefix, timestamp, e.Type, e.Name, errorMark)

		if e.Duration > 0 {
			result += fmt.Sprintf("   Duration: %v\n", e.Duration)
		}
		if e.Provider != "" {
			result += fmt.Sprintf("   Provider: %s\n", e.Provider)
		}
		if e.Error != "" {
			result += fmt.Sprintf("   Error: %s\n", e.Error)
		}
	}

	return result
}

var eventIDCounter int64
var eventIDMu sync.Mutex

func generateEventID() string {
	eventIDMu.Lock()
	defer eventIDMu.Unlock()
	eventIDCounter++
	return fmt.Sprintf("evt_%d_%d", time.Now().UnixNano(), eventIDCounter)
}
