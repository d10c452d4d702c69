package notifier

import (
	"sync"
	"time"
)

// EventType identifies a class of operational event.
type EventType string

const (
	// Critical events
	EventCircuitBreakerOpen  EventType = "circuit_breaker_open"
	EventUpstreamAuthFailure EventType = "upstream_auth_failure"
	EventServerStartupFailed EventType = "server_startup_failed"

	// Warning events
	EventHighFailureRate   EventType = "high_failure_rate"
	EventAggregationFailed EventType = "aggregation_failed"
	EventCacheBackupFailed EventType = "cache_backup_failed"

	// Info events
	EventCircuitBreakerRecovered EventType = "circuit_breaker_recovered"
	EventServerStarted           EventType = "server_started"
	EventCacheCleared            EventType = "cache_cleared"
	EventRoomReaped              EventType = "room_reaped"
)

// Severity represents the severity level of an event
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Event represents a system event
type Event struct {
	Type      EventType
	Severity  Severity
	Message   string
	Data      map[string]interface{}
	Timestamp time.Time
}

// NewEvent creates a new event with the current timestamp
func NewEvent(eventType EventType, severity Severity, message string) *Event {
	return &Event{
		Type:      eventType,
		Severity:  severity,
		Message:   message,
		Data:      make(map[string]interface{}),
		Timestamp: time.Now(),
	}
}

// WithData adds data to the event (chainable)
func (e *Event) WithData(key string, value interface{}) *Event {
	e.Data[key] = value
	return e
}

// EventHandler is a function that handles events
type EventHandler func(event *Event)

// EventBus manages event publishing and subscription
type EventBus struct {
	handlers    map[EventType][]EventHandler
	allHandlers []EventHandler // handlers that receive all events
	mu          sync.RWMutex
}

// Global event bus instance
var globalBus *EventBus
var busOnce sync.Once

// GetEventBus returns the global event bus instance
func GetEventBus() *EventBus {
	busOnce.Do(func() {
		globalBus = &EventBus{
			handlers:    make(map[EventType][]EventHandler),
			allHandlers: make([]EventHandler, 0),
		}
	})
	return globalBus
}

// Subscribe adds a handler for a specific event type
func (b *EventBus) Subscribe(eventType EventType, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// SubscribeAll adds a handler that receives all events
func (b *EventBus) SubscribeAll(handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allHandlers = append(b.allHandlers, handler)
}

// Publish sends an event to all subscribed handlers. Handlers run in their
// own goroutines so a slow notifier never blocks the publisher.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if handlers, ok := b.handlers[event.Type]; ok {
		for _, handler := range handlers {
			go handler(event)
		}
	}

	for _, handler := range b.allHandlers {
		go handler(event)
	}
}

// Helper functions for publishing common events

// PublishCircuitBreakerOpen publishes a circuit breaker open event
func PublishCircuitBreakerOpen(name string, failures int, cooldown time.Duration) {
	event := NewEvent(EventCircuitBreakerOpen, SeverityCritical,
		"Circuit breaker has opened due to consecutive failures").
		WithData("name", name).
		WithData("failures", failures).
		WithData("cooldown", cooldown.String())
	GetEventBus().Publish(event)
}

// PublishCircuitBreakerRecovered publishes a circuit breaker recovery event
func PublishCircuitBreakerRecovered(name string) {
	event := NewEvent(EventCircuitBreakerRecovered, SeverityInfo,
		"Circuit breaker has recovered and is operational").
		WithData("name", name)
	GetEventBus().Publish(event)
}

// PublishHighFailureRate publishes a high failure rate warning
func PublishHighFailureRate(name string, failures, threshold int) {
	event := NewEvent(EventHighFailureRate, SeverityWarning,
		"High failure rate detected, circuit breaker may trip soon").
		WithData("name", name).
		WithData("failures", failures).
		WithData("threshold", threshold)
	GetEventBus().Publish(event)
}

// PublishUpstreamAuthFailure publishes when a player's streaming credentials
// are rejected upstream
func PublishUpstreamAuthFailure(identity string, statusCode int) {
	event := NewEvent(EventUpstreamAuthFailure, SeverityCritical,
		"Upstream rejected a player's streaming credentials").
		WithData("identity", identity).
		WithData("status_code", statusCode)
	GetEventBus().Publish(event)
}

// PublishAggregationFailed publishes when a library aggregation run dies
func PublishAggregationFailed(roomID, identity string, err error) {
	event := NewEvent(EventAggregationFailed, SeverityWarning,
		"Library aggregation run failed").
		WithData("room_id", roomID).
		WithData("identity", identity).
		WithData("error", err.Error())
	GetEventBus().Publish(event)
}

// PublishCacheBackupFailed publishes when cache backup fails
func PublishCacheBackupFailed(err error) {
	event := NewEvent(EventCacheBackupFailed, SeverityWarning,
		"Cache backup operation failed").
		WithData("error", err.Error())
	GetEventBus().Publish(event)
}

// PublishCacheCleared publishes when cache is cleared
func PublishCacheCleared(backupPath string) {
	event := NewEvent(EventCacheCleared, SeverityInfo,
		"Cache has been cleared").
		WithData("backup_path", backupPath)
	GetEventBus().Publish(event)
}

// PublishServerStarted publishes when server starts successfully
func PublishServerStarted(port string, rooms int) {
	event := NewEvent(EventServerStarted, SeverityInfo,
		"Server started successfully").
		WithData("port", port).
		WithData("rooms_restored", rooms)
	GetEventBus().Publish(event)
}

// PublishServerStartupFailed publishes when server fails to start
func PublishServerStartupFailed(component string, err error) {
	event := NewEvent(EventServerStartupFailed, SeverityCritical,
		"Server failed to start").
		WithData("component", component).
		WithData("error", err.Error())
	GetEventBus().Publish(event)
}

// PublishRoomReaped publishes when an idle game room is removed
func PublishRoomReaped(roomID string, idle time.Duration) {
	event := NewEvent(EventRoomReaped, SeverityInfo,
		"Idle game room reaped").
		WithData("room_id", roomID).
		WithData("idle", idle.String())
	GetEventBus().Publish(event)
}
