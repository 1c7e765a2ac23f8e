package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"safety-listener/config"
	"safety-listener/models"

	"github.com/apex/log"
	_ "github.com/go-sql-driver/mysql"
)

const serviceName = "safety-listener"

// ErrSiteNotFound is returned when a site reference does not resolve to a
// known site.
var ErrSiteNotFound = errors.New("site not found")

// Database handles all database operations
type Database struct {
	db *sql.DB
}

// NewDatabase creates a new database connection
func NewDatabase(cfg *config.Config) (*Database, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true&multiStatements=true",
		cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	log.Infof("Database connected successfully to %s:%s/%s", cfg.DBHost, cfg.DBPort, cfg.DBName)

	return &Database{db: db}, nil
}

// NewDatabaseFromConn wraps an existing connection. Used by tests.
func NewDatabaseFromConn(db *sql.DB) *Database {
	return &Database{db: db}
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// DB exposes the underlying database handle for wiring
func (d *Database) DB() *sql.DB {
	return d.db
}

// EnsureTables creates the tables the service needs if they do not exist
func (d *Database) EnsureTables(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS sites (
			id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(255) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS areas (
			id VARCHAR(64) PRIMARY KEY,
			site_id VARCHAR(64) NOT NULL,
			name VARCHAR(255) NOT NULL,
			INDEX idx_areas_site (site_id)
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(255) NOT NULL DEFAULT '',
			email VARCHAR(255) NOT NULL UNIQUE,
			role VARCHAR(32) NOT NULL DEFAULT 'viewer',
			site_id VARCHAR(64),
			notifications_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			INDEX idx_users_site (site_id)
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			seq INT AUTO_INCREMENT PRIMARY KEY,
			id CHAR(36) NOT NULL UNIQUE,
			site_id VARCHAR(64) NOT NULL,
			area_id VARCHAR(64) NOT NULL,
			status VARCHAR(32) NOT NULL DEFAULT 'Not Handled',
			details TEXT,
			image_url VARCHAR(512) NOT NULL DEFAULT '',
			detected_at DATETIME NOT NULL,
			no_hardhat_count INT NOT NULL DEFAULT 0,
			INDEX idx_events_area (area_id),
			INDEX idx_events_detected (detected_at)
		)`,
		`CREATE TABLE IF NOT EXISTS service_state (
			service_name VARCHAR(64) PRIMARY KEY,
			last_processed_seq INT NOT NULL DEFAULT 0,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
		)`,
	}

	for _, stmt := range statements {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure tables: %w", err)
		}
	}
	return nil
}

const eventColumns = "seq, id, site_id, area_id, status, details, image_url, detected_at, no_hardhat_count"

func scanEvent(rows *sql.Rows) (models.Event, error) {
	var event models.Event
	err := rows.Scan(
		&event.Seq,
		&event.ID,
		&event.SiteID,
		&event.AreaID,
		&event.Status,
		&event.Details,
		&event.ImageURL,
		&event.DetectedAt,
		&event.NoHardhatCount,
	)
	return event, err
}

// GetEventsSince retrieves events inserted after the given sequence number,
// in commit order
func (d *Database) GetEventsSince(ctx context.Context, sinceSeq int) ([]models.Event, error) {
	query := fmt.Sprintf("SELECT %s FROM events WHERE seq > ? ORDER BY seq ASC", eventColumns)

	rows, err := d.db.QueryContext(ctx, query, sinceSeq)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// GetLatestEventSeq returns the latest sequence number from the events table
func (d *Database) GetLatestEventSeq(ctx context.Context) (int, error) {
	var seq int
	err := d.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(seq), 0) FROM events").Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest event seq: %w", err)
	}
	return seq, nil
}

// GetLastNEvents returns the most recent events, newest first
func (d *Database) GetLastNEvents(ctx context.Context, limit int) ([]models.Event, error) {
	query := fmt.Sprintf("SELECT %s FROM events ORDER BY seq DESC LIMIT ?", eventColumns)

	rows, err := d.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// GetEventsByArea returns the most recent events for one area, newest first
func (d *Database) GetEventsByArea(ctx context.Context, areaID string, limit int) ([]models.Event, error) {
	query := fmt.Sprintf("SELECT %s FROM events WHERE area_id = ? ORDER BY seq DESC LIMIT ?", eventColumns)

	rows, err := d.db.QueryContext(ctx, query, areaID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events by area: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// CreateEvent inserts a new event. The id is assigned by the store; the
// change feed picks the row up through its seq.
func (d *Database) CreateEvent(ctx context.Context, event *models.Event) error {
	if event.Status == "" {
		event.Status = models.StatusNotHandled
	}
	if event.DetectedAt.IsZero() {
		event.DetectedAt = time.Now().UTC()
	}

	result, err := d.db.ExecContext(ctx, `
		INSERT INTO events (id, site_id, area_id, status, details, image_url, detected_at, no_hardhat_count)
		VALUES (UUID(), ?, ?, ?, ?, ?, ?, ?)`,
		event.SiteID, event.AreaID, event.Status, event.Details,
		event.ImageURL, event.DetectedAt, event.NoHardhatCount)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get inserted event seq: %w", err)
	}
	event.Seq = int(seq)

	if err := d.db.QueryRowContext(ctx, "SELECT id FROM events WHERE seq = ?", event.Seq).Scan(&event.ID); err != nil {
		return fmt.Errorf("failed to read back event id: %w", err)
	}
	return nil
}

// MarkEventHandled transitions an event to Handled. The transition is
// one-directional; an already handled event is left untouched.
func (d *Database) MarkEventHandled(ctx context.Context, eventID string) (bool, error) {
	result, err := d.db.ExecContext(ctx,
		"UPDATE events SET status = ? WHERE id = ? AND status <> ?",
		models.StatusHandled, eventID, models.StatusHandled)
	if err != nil {
		return false, fmt.Errorf("failed to update event status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected > 0, nil
}

// GetSite returns one site by id. Returns ErrSiteNotFound when the site does
// not exist.
func (d *Database) GetSite(ctx context.Context, siteID string) (*models.Site, error) {
	var site models.Site
	err := d.db.QueryRowContext(ctx,
		"SELECT id, name FROM sites WHERE id = ?", siteID).Scan(&site.ID, &site.Name)
	if err == sql.ErrNoRows {
		return nil, ErrSiteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query site %s: %w", siteID, err)
	}
	return &site, nil
}

// GetSiteName returns the display name for a site id
func (d *Database) GetSiteName(ctx context.Context, siteID string) (string, error) {
	site, err := d.GetSite(ctx, siteID)
	if err != nil {
		return "", err
	}
	return site.Name, nil
}

// GetEligibleRecipients returns users who should be alerted for events at the
// given site: notification-enabled admins and supervisors affiliated with it
func (d *Database) GetEligibleRecipients(ctx context.Context, siteID string) ([]models.User, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, name, email, role, site_id, notifications_enabled
		FROM users
		WHERE site_id = ? AND notifications_enabled = TRUE AND role IN (?, ?)`,
		siteID, models.RoleAdmin, models.RoleSupervisor)
	if err != nil {
		return nil, fmt.Errorf("failed to query recipients for site %s: %w", siteID, err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var user models.User
		if err := rows.Scan(&user.ID, &user.Name, &user.Email, &user.Role,
			&user.SiteID, &user.NotificationsEnabled); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// EnsureServiceStateTable ensures the service_state table exists
func (d *Database) EnsureServiceStateTable(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS service_state (
			service_name VARCHAR(64) PRIMARY KEY,
			last_processed_seq INT NOT NULL DEFAULT 0,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
		)`)
	if err != nil {
		return fmt.Errorf("failed to ensure service_state table: %w", err)
	}
	return nil
}

// GetLastProcessedSeq retrieves the last processed sequence number from
// persistent storage
func (d *Database) GetLastProcessedSeq(ctx context.Context) (int, error) {
	var seq int
	err := d.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(last_processed_seq), 0) FROM service_state WHERE service_name = ?",
		serviceName).Scan(&seq)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get last processed seq: %w", err)
	}
	return seq, nil
}

// UpdateLastProcessedSeq stores the last processed sequence number
func (d *Database) UpdateLastProcessedSeq(ctx context.Context, seq int) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO service_state (service_name, last_processed_seq)
		VALUES (?, ?)
		ON DUPLICATE KEY UPDATE last_processed_seq = ?`,
		serviceName, seq, seq)
	if err != nil {
		return fmt.Errorf("failed to update last processed seq: %w", err)
	}
	return nil
}
