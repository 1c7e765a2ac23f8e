package handlers

import (
	"net/http"
	"strconv"
	"time"

	"safety-listener/database"
	"safety-listener/models"
	ws "safety-listener/websocket"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	gorilla "github.com/gorilla/websocket"
)

const (
	// MaxEventsLimit is the maximum number of events one query may return
	MaxEventsLimit = 1000
)

// Handlers contains all HTTP handlers
type Handlers struct {
	hub *ws.Hub
	db  *database.Database
}

// NewHandlers creates a new handlers instance
func NewHandlers(hub *ws.Hub, db *database.Database) *Handlers {
	return &Handlers{
		hub: hub,
		db:  db,
	}
}

// IngestRequest is the payload a detection client posts for one violation
type IngestRequest struct {
	SiteID         string    `json:"site_location" binding:"required"`
	AreaID         string    `json:"area_location" binding:"required"`
	Details        string    `json:"details" binding:"required"`
	ImageURL       string    `json:"image_url"`
	DetectedAt     time.Time `json:"time_"`
	NoHardhatCount int       `json:"no_hardhat_count"`
}

// IngestAlert handles POST /api/alert. It only persists the event; the
// change feed picks the row up and drives notification and fan-out from
// there, so a detection client never waits on delivery.
func (h *Handlers) IngestAlert(c *gin.Context) {
	var req IngestRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing required event fields"})
		return
	}
	if req.NoHardhatCount < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no_hardhat_count must not be negative"})
		return
	}

	event := models.Event{
		SiteID:         req.SiteID,
		AreaID:         req.AreaID,
		Status:         models.StatusNotHandled,
		Details:        req.Details,
		ImageURL:       req.ImageURL,
		DetectedAt:     req.DetectedAt,
		NoHardhatCount: req.NoHardhatCount,
	}

	if err := h.db.CreateEvent(c.Request.Context(), &event); err != nil {
		log.Errorf("Failed to save event: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save event"})
		return
	}

	log.Infof("Event %s saved (site %s, area %s, count %d)",
		event.ID, event.SiteID, event.AreaID, event.NoHardhatCount)
	c.JSON(http.StatusCreated, gin.H{"message": "event created", "event": event})
}

// GetEvents handles GET /api/events
func (h *Handlers) GetEvents(c *gin.Context) {
	limit := parseLimit(c, 100)
	events, err := h.db.GetLastNEvents(c.Request.Context(), limit)
	if err != nil {
		log.Errorf("Failed to fetch events: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve events"})
		return
	}
	c.JSON(http.StatusOK, events)
}

// GetEventsByArea handles GET /api/events/area/:areaId
func (h *Handlers) GetEventsByArea(c *gin.Context) {
	areaID := c.Param("areaId")
	if areaID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing area id"})
		return
	}

	limit := parseLimit(c, 100)
	events, err := h.db.GetEventsByArea(c.Request.Context(), areaID, limit)
	if err != nil {
		log.Errorf("Failed to fetch events for area %s: %v", areaID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve events"})
		return
	}
	c.JSON(http.StatusOK, events)
}

// UpdateEventStatusRequest is the payload for a status change
type UpdateEventStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// UpdateEventStatus handles PATCH /api/events/:eventId/status. The only
// permitted transition is into Handled; events are never reopened.
func (h *Handlers) UpdateEventStatus(c *gin.Context) {
	eventID := c.Param("eventId")
	if eventID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing event id"})
		return
	}

	var req UpdateEventStatusRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing status"})
		return
	}
	if req.Status != models.StatusHandled {
		c.JSON(http.StatusBadRequest, gin.H{"error": "events can only be marked handled"})
		return
	}

	changed, err := h.db.MarkEventHandled(c.Request.Context(), eventID)
	if err != nil {
		log.Errorf("Failed to update event %s: %v", eventID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update event"})
		return
	}
	if !changed {
		c.JSON(http.StatusNotFound, gin.H{"error": "event not found or already handled"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "event status updated"})
}

// WebSocket upgrader
var upgrader = gorilla.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins for now
		// In production, you should implement proper origin checking
		return true
	},
}

// ListenAlerts handles WebSocket connections for live alerts
func (h *Handlers) ListenAlerts(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Errorf("Failed to upgrade connection to WebSocket: %v", err)
		return
	}

	client := ws.NewClient(h.hub, conn)
	h.hub.Register <- client

	go client.WritePump()
	go client.ReadPump()

	log.Info("WebSocket connection established")
}

// HealthCheck returns the service health status
func (h *Handlers) HealthCheck(c *gin.Context) {
	connectedClients, alertsBroadcast := h.hub.GetStats()

	response := models.HealthResponse{
		Status:           "healthy",
		Service:          "safety-listener",
		Timestamp:        time.Now().UTC().Format(time.RFC3339),
		ConnectedClients: connectedClients,
		AlertsBroadcast:  alertsBroadcast,
	}

	c.JSON(http.StatusOK, response)
}

func parseLimit(c *gin.Context, defaultLimit int) int {
	limit := defaultLimit
	if parsed, err := strconv.Atoi(c.DefaultQuery("n", strconv.Itoa(defaultLimit))); err == nil && parsed > 0 {
		limit = parsed
	}
	if limit > MaxEventsLimit {
		limit = MaxEventsLimit
	}
	return limit
}
