// file: internal/realtime/events.go
// version: 2.0.0
// guid: 9e8d7f6a-5c4b-3a21-0f9e-8d7c6b5a4392

package realtime

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jdfalk/dj-tagger/internal/logger"
)

// EventType defines the type of real-time event
type EventType string

const (
	EventFingerprintProgress EventType = "fingerprint.progress"
	EventFingerprintStatus   EventType = "fingerprint.status"
	EventFingerprintError    EventType = "fingerprint.unit_error"
	EventJobStatus           EventType = "job.status"
	EventJobProgress         EventType = "job.progress"
	EventTrackDeleted        EventType = "track.deleted"
	EventSystemStatus        EventType = "system.status"
)

// Event represents a real-time event to send to clients
type Event struct {
	Type      EventType              `json:"type"`
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Client represents a connected SSE client
type Client struct {
	ID      string
	Channel chan *Event
	Runs    map[string]bool // Runs this client is interested in
	mu      sync.RWMutex
}

// NewClient creates a new SSE client
func NewClient(id string) *Client {
	return &Client{
		ID:      id,
		Channel: make(chan *Event, 100),
		Runs:    make(map[string]bool),
	}
}

// Subscribe subscribes the client to a generation run
func (c *Client) Subscribe(runID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Runs[runID] = true
}

// Unsubscribe unsubscribes the client from a generation run
func (c *Client) Unsubscribe(runID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.Runs, runID)
}

// IsSubscribed checks if client is subscribed to a run
func (c *Client) IsSubscribed(runID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Runs[runID]
}

func (c *Client) wantsAll() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.Runs) == 0
}

// EventHub manages SSE connections and event distribution.
// A nil *EventHub is valid and drops every event.
type EventHub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewEventHub creates a new event hub
func NewEventHub() *EventHub {
	return &EventHub{
		clients: make(map[string]*Client),
	}
}

// RegisterClient registers a new client
func (h *EventHub) RegisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
	logger.Debug("sse client registered", logger.String("client_id", client.ID), logger.Int("clients", len(h.clients)))
}

// UnregisterClient removes a client
func (h *EventHub) UnregisterClient(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if client, exists := h.clients[clientID]; exists {
		close(client.Channel)
		delete(h.clients, clientID)
		logger.Debug("sse client unregistered", logger.String("client_id", clientID), logger.Int("clients", len(h.clients)))
	}
}

// Broadcast sends an event to all subscribed clients
func (h *EventHub) Broadcast(event *Event) {
	if h == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		// Send to clients if:
		// 1. Event has no ID (system-wide events), OR
		// 2. Client has no subscriptions (wants all events), OR
		// 3. Client is subscribed to this specific run
		if event.ID == "" || client.wantsAll() || client.IsSubscribed(event.ID) {
			select {
			case client.Channel <- event:
			default:
				logger.Warn("sse client channel full, dropping event",
					logger.String("client_id", client.ID), logger.String("event", string(event.Type)))
			}
		}
	}
}

// SendFingerprintProgress sends a progress snapshot for a generation run
func (h *EventHub) SendFingerprintProgress(runID string, processed, failed, total int) {
	if h == nil {
		return
	}
	h.Broadcast(&Event{
		Type:      EventFingerprintProgress,
		ID:        runID,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"run_id":     runID,
			"processed":  processed,
			"failed":     failed,
			"total":      total,
			"percentage": calculatePercentage(processed+failed, total),
		},
	})
}

// SendFingerprintStatus sends a run status change ("started", "completed", "canceled")
func (h *EventHub) SendFingerprintStatus(runID, status string, details map[string]interface{}) {
	if h == nil {
		return
	}
	h.Broadcast(&Event{
		Type:      EventFingerprintStatus,
		ID:        runID,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"run_id":  runID,
			"status":  status,
			"details": details,
		},
	})
}

// SendFingerprintError reports a single track that could not be fingerprinted
func (h *EventHub) SendFingerprintError(runID string, trackID int64, path, kind, message string) {
	if h == nil {
		return
	}
	h.Broadcast(&Event{
		Type:      EventFingerprintError,
		ID:        runID,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"run_id":    runID,
			"track_id":  trackID,
			"file_path": path,
			"kind":      kind,
			"message":   message,
		},
	})
}

// SendJobStatus sends a background job status change ("queued", "running", "completed", "failed", "canceled")
func (h *EventHub) SendJobStatus(jobID, jobType, status string, details map[string]interface{}) {
	if h == nil {
		return
	}
	h.Broadcast(&Event{
		Type:      EventJobStatus,
		ID:        jobID,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"job_id":  jobID,
			"type":    jobType,
			"status":  status,
			"details": details,
		},
	})
}

// SendJobProgress sends a progress update for a background job
func (h *EventHub) SendJobProgress(jobID string, current, total int, message string) {
	if h == nil {
		return
	}
	h.Broadcast(&Event{
		Type:      EventJobProgress,
		ID:        jobID,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"job_id":     jobID,
			"current":    current,
			"total":      total,
			"message":    message,
			"percentage": calculatePercentage(current, total),
		},
	})
}

// SendTrackDeleted reports the outcome of a track file deletion
func (h *EventHub) SendTrackDeleted(trackID int64, outcome string) {
	if h == nil {
		return
	}
	h.Broadcast(&Event{
		Type:      EventTrackDeleted,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"track_id": trackID,
			"outcome":  outcome,
		},
	})
}

// SendSystemStatus sends a system status event
func (h *EventHub) SendSystemStatus(data map[string]interface{}) {
	if h == nil {
		return
	}
	h.Broadcast(&Event{
		Type:      EventSystemStatus,
		Timestamp: time.Now(),
		Data:      data,
	})
}

// GetClientCount returns the number of connected clients
func (h *EventHub) GetClientCount() int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleSSE handles Server-Sent Events connection
func (h *EventHub) HandleSSE(c *gin.Context) {
	// Set SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache, no-transform")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	clientID := fmt.Sprintf("client-%d", time.Now().UnixNano())
	client := NewClient(clientID)

	// Subscribe to a single run if specified
	if runID := c.Query("run"); runID != "" {
		client.Subscribe(runID)
	}

	h.RegisterClient(client)
	defer h.UnregisterClient(clientID)

	writeEvent(c, &Event{
		Type:      "connection.established",
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"client_id": clientID},
	})

	// Keep connection alive and stream events
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case event, ok := <-client.Channel:
			if !ok {
				return
			}
			if !writeEvent(c, event) {
				return
			}
		case <-ticker.C:
			writeEvent(c, &Event{Type: "heartbeat", Timestamp: time.Now()})
		}
	}
}

// writeEvent writes one SSE frame (data: {json}\n\n) and flushes it
func writeEvent(c *gin.Context, event *Event) bool {
	data, err := json.Marshal(event)
	if err != nil {
		logger.Error("failed to marshal sse event", logger.Err(err))
		return true
	}
	if _, err := c.Writer.Write([]byte(fmt.Sprintf("data: %s\n\n", data))); err != nil {
		return false
	}
	c.Writer.Flush()
	return true
}

// calculatePercentage calculates percentage with bounds checking
func calculatePercentage(current, total int) int {
	if total <= 0 {
		return 0
	}
	percentage := (current * 100) / total
	if percentage > 100 {
		return 100
	}
	return percentage
}
