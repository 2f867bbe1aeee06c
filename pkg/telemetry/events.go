package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a telemetry event emitted by the automation engine.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// RunID is the associated run ID, if applicable.
	RunID string `json:"runId,omitempty"`

	// AutomationID is the associated automation, if applicable.
	AutomationID string `json:"automationId,omitempty"`

	// ReleaseID is the associated release, if applicable.
	ReleaseID string `json:"releaseId,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for common event types.
const (
	EventTypeRunStarted      = "run.started"
	EventTypeRunCompleted    = "run.completed"
	EventTypeRunFailed       = "run.failed"
	EventTypeProviderFailed  = "provider.failed"
	EventTypeReleaseCompiled = "release.compiled"
	EventTypeReleaseRejected = "release.rejected"
	EventTypeReleaseReloaded = "release.reloaded"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher manages event publishing and subscriptions.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config:      cfg,
		buffer:      make(chan Event, cfg.BufferSize),
		subscribers: make([]subscriberEntry, 0),
		filters:     make([]EventFilter, 0),
		ctx:         ctx,
		cancel:      cancel,
	}

	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil
		}
	}
	ep.mu.RUnlock()

	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishRunStarted publishes a run started event.
func (ep *EventPublisher) PublishRunStarted(runID, automationID string) error {
	return ep.Publish(Event{
		Type:         EventTypeRunStarted,
		Source:       "runner",
		RunID:        runID,
		AutomationID: automationID,
		Message:      fmt.Sprintf("Run %s of %s started", runID, automationID),
		Level:        EventLevelInfo,
	})
}

// PublishRunCompleted publishes a run completed event.
func (ep *EventPublisher) PublishRunCompleted(runID, automationID, status string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:         EventTypeRunCompleted,
		Source:       "runner",
		RunID:        runID,
		AutomationID: automationID,
		Message:      fmt.Sprintf("Run %s completed with status: %s", runID, status),
		Level:        EventLevelInfo,
		Data: map[string]interface{}{
			"status":   status,
			"duration": duration.Seconds(),
		},
	})
}

// PublishRunFailed publishes a run failed event.
func (ep *EventPublisher) PublishRunFailed(runID, automationID, code, reason string) error {
	return ep.Publish(Event{
		Type:         EventTypeRunFailed,
		Source:       "runner",
		RunID:        runID,
		AutomationID: automationID,
		Message:      fmt.Sprintf("Run %s failed: %s", runID, reason),
		Level:        EventLevelError,
		Data: map[string]interface{}{
			"code":   code,
			"reason": reason,
		},
	})
}

// PublishProviderFailed publishes a provider resolution failure with its diagnostics.
func (ep *EventPublisher) PublishProviderFailed(runID, schemaKey, code string, details map[string]interface{}) error {
	data := make(map[string]interface{}, len(details)+2)
	for k, v := range details {
		data[k] = v
	}
	data["provider"] = schemaKey
	data["code"] = code
	return ep.Publish(Event{
		Type:    EventTypeProviderFailed,
		Source:  "provider",
		RunID:   runID,
		Message: fmt.Sprintf("Provider %s failed with %s", schemaKey, code),
		Level:   EventLevelWarning,
		Data:    data,
	})
}

// PublishReleaseCompiled publishes a release compiled event.
func (ep *EventPublisher) PublishReleaseCompiled(releaseID string, automations int) error {
	return ep.Publish(Event{
		Type:      EventTypeReleaseCompiled,
		Source:    "compiler",
		ReleaseID: releaseID,
		Message:   fmt.Sprintf("Release %s compiled with %d automations", releaseID, automations),
		Level:     EventLevelInfo,
		Data: map[string]interface{}{
			"automations": automations,
		},
	})
}

// PublishReleaseRejected publishes a release that failed to compile.
func (ep *EventPublisher) PublishReleaseRejected(releaseID, reason string) error {
	return ep.Publish(Event{
		Type:      EventTypeReleaseRejected,
		Source:    "compiler",
		ReleaseID: releaseID,
		Message:   fmt.Sprintf("Release %s rejected: %s", releaseID, reason),
		Level:     EventLevelError,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishReleaseReloaded publishes a release swapped in by the watcher.
func (ep *EventPublisher) PublishReleaseReloaded(releaseID, dir string) error {
	return ep.Publish(Event{
		Type:      EventTypeReleaseReloaded,
		Source:    "watcher",
		ReleaseID: releaseID,
		Message:   fmt.Sprintf("Release %s reloaded from %s", releaseID, dir),
		Level:     EventLevelInfo,
		Data: map[string]interface{}{
			"dir": dir,
		},
	})
}

// Subscribe adds a new event subscriber.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents delivers buffered events in batches, at the latest every
// FlushInterval.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	interval := ep.config.FlushInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	batch := make([]Event, 0, ep.config.MaxBatchSize)

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)
			if len(batch) >= ep.config.MaxBatchSize {
				ep.flushBatch(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				ep.flushBatch(batch)
				batch = batch[:0]
			}

		case <-ep.ctx.Done():
			// Drain whatever is still buffered
			for {
				select {
				case event := <-ep.buffer:
					batch = append(batch, event)
				default:
					ep.flushBatch(batch)
					return
				}
			}
		}
	}
}

// flushBatch delivers a batch of events to subscribers.
func (ep *EventPublisher) flushBatch(events []Event) {
	for _, event := range events {
		ep.deliverEvent(event)
	}
}

// deliverEvent delivers an event to all subscribers in subscription order.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown gracefully shuts down the event publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByRunID creates a filter that only allows events for a specific run.
func FilterByRunID(runID string) EventFilter {
	return func(event Event) bool {
		return event.RunID == runID
	}
}
