package notifier

import (
	"fmt"
	"sync"
	"time"

	"songpool-api-go/logcolors"

	log "github.com/sirupsen/logrus"
)

const (
	// Default cooldown between alerts of the same type
	DefaultAlertCooldown = 15 * time.Minute
)

// AlertHandler handles events and sends notifications
type AlertHandler struct {
	notifiers        []Notifier
	cooldowns        map[EventType]time.Time // last alert time per event type
	cooldownDuration time.Duration
	mu               sync.RWMutex
}

// AlertConfig holds configuration for the alert handler
type AlertConfig struct {
	Notifiers        []Notifier
	CooldownDuration time.Duration
}

// NewAlertHandler creates a new alert handler
func NewAlertHandler(config AlertConfig) *AlertHandler {
	cooldown := config.CooldownDuration
	if cooldown == 0 {
		cooldown = DefaultAlertCooldown
	}

	return &AlertHandler{
		notifiers:        config.Notifiers,
		cooldowns:        make(map[EventType]time.Time),
		cooldownDuration: cooldown,
	}
}

// Start subscribes the handler to the event bus
func (h *AlertHandler) Start() {
	bus := GetEventBus()
	bus.SubscribeAll(h.handleEvent)
	log.Infof("%s Alert handler started (cooldown: %v, notifiers: %d)",
		logcolors.LogNotifier, h.cooldownDuration, len(h.notifiers))
}

// handleEvent processes incoming events
func (h *AlertHandler) handleEvent(event *Event) {
	if !h.shouldAlert(event.Type) {
		log.Debugf("%s Skipping alert for %s (cooldown active)", logcolors.LogNotifier, event.Type)
		return
	}

	subject, message := h.formatAlert(event)
	if subject == "" {
		return // unknown event type
	}

	h.sendAlert(subject, message)
}

// shouldAlert checks if we should send an alert based on cooldown
func (h *AlertHandler) shouldAlert(eventType EventType) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	lastAlert, exists := h.cooldowns[eventType]
	if !exists || time.Since(lastAlert) >= h.cooldownDuration {
		h.cooldowns[eventType] = time.Now()
		return true
	}
	return false
}

// formatAlert formats an event into a notification message
func (h *AlertHandler) formatAlert(event *Event) (subject, message string) {
	switch event.Type {
	// Critical events
	case EventCircuitBreakerOpen:
		name := event.Data["name"].(string)
		failures := event.Data["failures"].(int)
		cooldown := event.Data["cooldown"].(string)
		subject = "Circuit Breaker OPEN"
		message = fmt.Sprintf(
			"The %s circuit breaker has tripped after %d consecutive failures.\n\n"+
				"All upstream requests will be blocked for %s.\n\n"+
				"Action: Check the streaming API status page.",
			name, failures, cooldown)

	case EventUpstreamAuthFailure:
		identity := event.Data["identity"].(string)
		statusCode := event.Data["status_code"].(int)
		subject = "Player Credentials Rejected"
		message = fmt.Sprintf(
			"The streaming API returned HTTP %d for player identity '%s'.\n\n"+
				"Their access token is expired or revoked and the aggregation run was aborted.\n\n"+
				"Action: The player must re-link their streaming account.",
			statusCode, identity)

	case EventServerStartupFailed:
		component := event.Data["component"].(string)
		errMsg := event.Data["error"].(string)
		subject = "Server Startup FAILED"
		message = fmt.Sprintf(
			"The server failed to start.\n\n"+
				"Component: %s\n"+
				"Error: %s\n\n"+
				"Action: Check logs and fix the issue immediately.",
			component, errMsg)

	// Warning events
	case EventHighFailureRate:
		name := event.Data["name"].(string)
		failures := event.Data["failures"].(int)
		threshold := event.Data["threshold"].(int)
		subject = "High Failure Rate Warning"
		message = fmt.Sprintf(
			"The %s circuit breaker has recorded %d/%d failures.\n\n"+
				"If failures continue, the circuit will open and block all requests.\n\n"+
				"Action: Monitor the situation closely.",
			name, failures, threshold)

	case EventAggregationFailed:
		roomID := event.Data["room_id"].(string)
		identity := event.Data["identity"].(string)
		errMsg := event.Data["error"].(string)
		subject = "Library Aggregation Failed"
		message = fmt.Sprintf(
			"An aggregation run died before completing.\n\n"+
				"Room: %s\n"+
				"Player: %s\n"+
				"Error: %s\n\n"+
				"The room received an error event and can retry.",
			roomID, identity, errMsg)

	case EventCacheBackupFailed:
		errMsg := event.Data["error"].(string)
		subject = "Cache Backup Failed"
		message = fmt.Sprintf(
			"Failed to create cache backup.\n\n"+
				"Error: %s\n\n"+
				"Action: Check disk space and permissions.",
			errMsg)

	// Info events
	case EventCircuitBreakerRecovered:
		name := event.Data["name"].(string)
		subject = "Circuit Breaker Recovered"
		message = fmt.Sprintf("The %s circuit breaker has recovered and is now operational.", name)

	case EventServerStarted:
		port := event.Data["port"].(string)
		rooms := event.Data["rooms_restored"].(int)
		subject = "Server Started"
		if rooms > 0 {
			message = fmt.Sprintf("Server started successfully on port %s and restored %d room(s).", port, rooms)
		} else {
			message = fmt.Sprintf("Server started successfully on port %s.", port)
		}

	case EventCacheCleared:
		backupPath := event.Data["backup_path"].(string)
		subject = "Cache Cleared"
		message = fmt.Sprintf("Cache has been cleared.\n\nBackup saved to: %s", backupPath)

	case EventRoomReaped:
		roomID := event.Data["room_id"].(string)
		idle := event.Data["idle"].(string)
		subject = "Room Reaped"
		message = fmt.Sprintf("Idle room %s was removed after %s without activity.", roomID, idle)

	default:
		return "", ""
	}

	// Add severity emoji prefix
	switch event.Severity {
	case SeverityCritical:
		subject = "🚨 " + subject
	case SeverityWarning:
		subject = "⚠️ " + subject
	case SeverityInfo:
		subject = "ℹ️ " + subject
	}

	return subject, message
}

// sendAlert sends the alert through all configured notifiers
func (h *AlertHandler) sendAlert(subject, message string) {
	if len(h.notifiers) == 0 {
		log.Warnf("%s No notifiers configured, skipping alert: %s", logcolors.LogNotifier, subject)
		return
	}

	log.Infof("%s Sending alert: %s", logcolors.LogNotifier, subject)

	successCount := 0
	for _, n := range h.notifiers {
		if err := n.Send(subject, message); err != nil {
			log.Errorf("%s Failed to send alert via notifier: %v", logcolors.LogNotifier, err)
		} else {
			successCount++
		}
	}

	if successCount > 0 {
		log.Infof("%s Alert sent successfully via %d/%d notifiers", logcolors.LogNotifier, successCount, len(h.notifiers))
	}
}

// ResetCooldown manually resets the cooldown for a specific event type
func (h *AlertHandler) ResetCooldown(eventType EventType) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.cooldowns, eventType)
}

// ResetAllCooldowns resets all cooldowns
func (h *AlertHandler) ResetAllCooldowns() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cooldowns = make(map[EventType]time.Time)
}
