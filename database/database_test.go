package database

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jknair0/beforeeach"

	"safety-listener/models"
)

var (
	db   *sql.DB
	mock sqlmock.Sqlmock
	d    *Database
)

func setUp() {
	db, mock, _ = sqlmock.New()
	d = NewDatabaseFromConn(db)
}

func tearDown() {
	db.Close()
}

var it = beforeeach.Create(setUp, tearDown)

func TestGetEventsSince(t *testing.T) {
	it(func() {
		detected := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
		rows := sqlmock.NewRows([]string{
			"seq", "id", "site_id", "area_id", "status", "details", "image_url", "detected_at", "no_hardhat_count",
		}).
			AddRow(5, "ev-5", "S1", "A1", models.StatusNotHandled, "worker without hardhat", "http://img/5.jpg", detected, 2).
			AddRow(6, "ev-6", "S1", "A2", models.StatusOpen, "worker without hardhat", "http://img/6.jpg", detected, 1)

		mock.ExpectQuery("SELECT (.+) FROM events WHERE seq > (.+) ORDER BY seq ASC").
			WithArgs(4).
			WillReturnRows(rows)

		events, err := d.GetEventsSince(context.Background(), 4)
		if err != nil {
			t.Fatalf("GetEventsSince: unexpected error: %v", err)
		}
		if len(events) != 2 {
			t.Fatalf("GetEventsSince: expected 2 events, got %d", len(events))
		}
		if events[0].Seq != 5 || events[1].Seq != 6 {
			t.Errorf("GetEventsSince: events out of order: %d, %d", events[0].Seq, events[1].Seq)
		}
		if events[0].NoHardhatCount != 2 {
			t.Errorf("GetEventsSince: expected no_hardhat_count 2, got %d", events[0].NoHardhatCount)
		}
		if events[0].Handled() {
			t.Errorf("GetEventsSince: event %s should not be handled", events[0].ID)
		}
	})
}

func TestGetEligibleRecipients(t *testing.T) {
	it(func() {
		rows := sqlmock.NewRows([]string{"id", "name", "email", "role", "site_id", "notifications_enabled"}).
			AddRow("u1", "Dana", "dana@site.example", models.RoleAdmin, "S1", true).
			AddRow("u2", "Omer", "omer@site.example", models.RoleSupervisor, "S1", true)

		mock.ExpectQuery("SELECT id, name, email, role, site_id, notifications_enabled FROM users WHERE site_id = (.+) AND notifications_enabled = TRUE AND role IN \\((.+), (.+)\\)").
			WithArgs("S1", models.RoleAdmin, models.RoleSupervisor).
			WillReturnRows(rows)

		users, err := d.GetEligibleRecipients(context.Background(), "S1")
		if err != nil {
			t.Fatalf("GetEligibleRecipients: unexpected error: %v", err)
		}
		if len(users) != 2 {
			t.Fatalf("GetEligibleRecipients: expected 2 users, got %d", len(users))
		}
		if users[0].Email != "dana@site.example" {
			t.Errorf("GetEligibleRecipients: expected dana@site.example, got %s", users[0].Email)
		}
	})
}

func TestGetSiteNotFound(t *testing.T) {
	it(func() {
		mock.ExpectQuery("SELECT id, name FROM sites WHERE id = (.+)").
			WithArgs("missing").
			WillReturnError(sql.ErrNoRows)

		_, err := d.GetSite(context.Background(), "missing")
		if err != ErrSiteNotFound {
			t.Errorf("GetSite: expected ErrSiteNotFound, got %v", err)
		}
	})
}

func TestMarkEventHandled(t *testing.T) {
	it(func() {
		testCases := []struct {
			name         string
			rowsAffected int64
			changed      bool
		}{
			{
				name:         "Unhandled event transitions",
				rowsAffected: 1,
				changed:      true,
			},
			{
				name:         "Already handled event is untouched",
				rowsAffected: 0,
				changed:      false,
			},
		}

		for _, testCase := range testCases {
			mock.ExpectExec("UPDATE events SET status = (.+) WHERE id = (.+) AND status <> (.+)").
				WithArgs(models.StatusHandled, "ev-1", models.StatusHandled).
				WillReturnResult(sqlmock.NewResult(0, testCase.rowsAffected))

			changed, err := d.MarkEventHandled(context.Background(), "ev-1")
			if err != nil {
				t.Fatalf("%s: unexpected error: %v", testCase.name, err)
			}
			if changed != testCase.changed {
				t.Errorf("%s: expected changed=%v, got %v", testCase.name, testCase.changed, changed)
			}
		}
	})
}

func TestLastProcessedSeqRoundTrip(t *testing.T) {
	it(func() {
		mock.ExpectQuery("SELECT COALESCE\\(MAX\\(last_processed_seq\\), 0\\) FROM service_state WHERE service_name = (.+)").
			WithArgs(serviceName).
			WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(42))

		seq, err := d.GetLastProcessedSeq(context.Background())
		if err != nil {
			t.Fatalf("GetLastProcessedSeq: unexpected error: %v", err)
		}
		if seq != 42 {
			t.Errorf("GetLastProcessedSeq: expected 42, got %d", seq)
		}

		mock.ExpectExec("INSERT INTO service_state \\(service_name, last_processed_seq\\) VALUES \\((.+), (.+)\\) ON DUPLICATE KEY UPDATE last_processed_seq = (.+)").
			WithArgs(serviceName, 43, 43).
			WillReturnResult(sqlmock.NewResult(0, 1))

		if err := d.UpdateLastProcessedSeq(context.Background(), 43); err != nil {
			t.Errorf("UpdateLastProcessedSeq: unexpected error: %v", err)
		}
	})
}
