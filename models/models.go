package models

import (
	"time"
)

// Event statuses. Open and NotHandled are both unhandled states; Handled is
// terminal and an event never leaves it.
const (
	StatusOpen       = "Open"
	StatusNotHandled = "Not Handled"
	StatusHandled    = "Handled"
)

// Event represents one detected safety violation from the events table
type Event struct {
	Seq            int       `json:"seq" db:"seq"`
	ID             string    `json:"id" db:"id"`
	SiteID         string    `json:"site_location" db:"site_id"`
	AreaID         string    `json:"area_location" db:"area_id"`
	Status         string    `json:"status" db:"status"`
	Details        string    `json:"details" db:"details"`
	ImageURL       string    `json:"image_url" db:"image_url"`
	DetectedAt     time.Time `json:"time_" db:"detected_at"`
	NoHardhatCount int       `json:"no_hardhat_count" db:"no_hardhat_count"`
}

// Handled reports whether the event has already been resolved by an operator.
func (e Event) Handled() bool {
	return e.Status == StatusHandled
}

// User roles
const (
	RoleAdmin      = "admin"
	RoleSupervisor = "supervisor"
	RoleViewer     = "viewer"
)

// User represents a person who may receive notifications
type User struct {
	ID                   string `json:"id" db:"id"`
	Name                 string `json:"name" db:"name"`
	Email                string `json:"email" db:"email"`
	Role                 string `json:"role" db:"role"`
	SiteID               string `json:"site_location" db:"site_id"`
	NotificationsEnabled bool   `json:"notifications_enabled" db:"notifications_enabled"`
}

// Site represents a physical facility
type Site struct {
	ID      string   `json:"id" db:"id"`
	Name    string   `json:"name" db:"name"`
	AreaIDs []string `json:"areas"`
}

// AlertPayload is the ephemeral view of an event sent to connected dashboard
// clients
type AlertPayload struct {
	Message        string    `json:"message"`
	Timestamp      time.Time `json:"timestamp"`
	SiteID         string    `json:"site_location"`
	AreaID         string    `json:"area_location"`
	Details        string    `json:"details,omitempty"`
	ImageURL       string    `json:"image_url,omitempty"`
	NoHardhatCount int       `json:"no_hardhat_count"`
}

// BroadcastMessage represents a message sent to WebSocket clients
type BroadcastMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// Message is a composed notification, rendered once per event and sent to
// every eligible recipient
type Message struct {
	Subject  string `json:"subject"`
	HTMLBody string `json:"html_body"`
	TextBody string `json:"text_body"`
}

// DeliveryResult records the terminal outcome of one (event, recipient)
// delivery unit
type DeliveryResult struct {
	Recipient string `json:"recipient"`
	EventID   string `json:"event_id"`
	Delivered bool   `json:"delivered"`
	Attempts  int    `json:"attempts"`
	Error     string `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status           string `json:"status"`
	Service          string `json:"service"`
	Timestamp        string `json:"timestamp"`
	ConnectedClients int    `json:"connected_clients"`
	AlertsBroadcast  int    `json:"alerts_broadcast"`
}
