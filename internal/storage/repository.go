package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Tihlyn/Cappuccino/internal/event"
	"github.com/Tihlyn/Cappuccino/internal/notify"
	"github.com/Tihlyn/Cappuccino/internal/scheduler"
	"github.com/Tihlyn/Cappuccino/internal/trivia"
)

// Repository handles all database operations
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new repository with SQLite
func NewRepository(dbPath string) (*Repository, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	repo := &Repository{db: db}

	// Run migrations
	if err := repo.migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

// migrate creates the database schema
func (r *Repository) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id VARCHAR(50) PRIMARY KEY,
			activity_type VARCHAR(20) NOT NULL,
			group_type VARCHAR(20) NOT NULL,
			event_date TIMESTAMP NOT NULL,
			organizer_id VARCHAR(20) NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			message_id VARCHAR(20) NOT NULL DEFAULT '',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS participants (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id VARCHAR(50) NOT NULL,
			user_id VARCHAR(20) NOT NULL,
			role VARCHAR(20) NOT NULL DEFAULT '',
			class VARCHAR(30) NOT NULL DEFAULT '',
			joined_at TIMESTAMP NOT NULL,
			FOREIGN KEY (event_id) REFERENCES events(id) ON DELETE CASCADE,
			UNIQUE(event_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS tracked_dms (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id VARCHAR(50) NOT NULL,
			user_id VARCHAR(20) NOT NULL,
			channel_id VARCHAR(20) NOT NULL,
			message_id VARCHAR(20) NOT NULL,
			purpose VARCHAR(20) NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS scheduled_jobs (
			id VARCHAR(120) PRIMARY KEY,
			event_id VARCHAR(50) NOT NULL,
			user_id VARCHAR(20) NOT NULL DEFAULT '',
			kind VARCHAR(20) NOT NULL,
			fire_at TIMESTAMP NOT NULL,
			date_snapshot TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS trivia_sessions (
			channel_id VARCHAR(20) PRIMARY KEY,
			host_id VARCHAR(20) NOT NULL,
			category VARCHAR(50) NOT NULL DEFAULT '',
			started_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_participants_event ON participants(event_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tracked_dms_event ON tracked_dms(event_id)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_event ON scheduled_jobs(event_id)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_fire_at ON scheduled_jobs(fire_at)`,
	}

	for _, migration := range migrations {
		if _, err := r.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// Event operations

// SaveEvent upserts an event and replaces its roster atomically
func (r *Repository) SaveEvent(ctx context.Context, ev *event.Event) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (id, activity_type, group_type, event_date, organizer_id, description, message_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			event_date = excluded.event_date,
			description = excluded.description,
			message_id = excluded.message_id`,
		ev.ID, string(ev.Type), string(ev.GroupType), ev.Date.UTC(),
		ev.OrganizerID, ev.Description, ev.MessageID, ev.CreatedAt.UTC(),
	)
	if err != nil {
		return err
	}

	// Replace the roster; insertion order preserves join order
	if _, err := tx.ExecContext(ctx, `DELETE FROM participants WHERE event_id = ?`, ev.ID); err != nil {
		return err
	}
	for _, p := range ev.Participants {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO participants (event_id, user_id, role, class, joined_at) VALUES (?, ?, ?, ?, ?)`,
			ev.ID, p.UserID, string(p.Role), p.Class, p.JoinedAt.UTC(),
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetEvent loads an event with its roster in join order. Returns
// (nil, nil) when the id is unknown.
func (r *Repository) GetEvent(ctx context.Context, id string) (*event.Event, error) {
	ev := &event.Event{}
	var activityType, groupType string
	err := r.db.QueryRowContext(ctx,
		`SELECT id, activity_type, group_type, event_date, organizer_id, description, message_id, created_at
		 FROM events WHERE id = ?`, id,
	).Scan(&ev.ID, &activityType, &groupType, &ev.Date, &ev.OrganizerID, &ev.Description, &ev.MessageID, &ev.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ev.Type = event.ActivityType(activityType)
	ev.GroupType = event.GroupType(groupType)
	ev.Date = ev.Date.UTC()

	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id, role, class, joined_at FROM participants WHERE event_id = ? ORDER BY id`, id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p event.Participant
		var role string
		if err := rows.Scan(&p.UserID, &role, &p.Class, &p.JoinedAt); err != nil {
			return nil, err
		}
		// Legacy rows predate role grading; treat them as DPS
		if role == "" {
			role = string(event.RoleDPS)
			p.Class = ""
		}
		p.Role = event.Role(role)
		p.JoinedAt = p.JoinedAt.UTC()
		ev.Participants = append(ev.Participants, p)
	}

	return ev, rows.Err()
}

// DeleteEvent removes an event and its roster
func (r *Repository) DeleteEvent(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM participants WHERE event_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// ListEventIDs returns every stored event id
func (r *Repository) ListEventIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM events ORDER BY event_date`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Scheduled job operations

// InsertJob persists a job; re-inserting the same id replaces it
func (r *Repository) InsertJob(ctx context.Context, job *scheduler.Job) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO scheduled_jobs (id, event_id, user_id, kind, fire_at, date_snapshot, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			fire_at = excluded.fire_at,
			date_snapshot = excluded.date_snapshot,
			created_at = excluded.created_at`,
		job.ID, job.EventID, job.UserID, string(job.Kind),
		job.FireAt.UTC(), job.DateSnapshot.UTC(), job.CreatedAt.UTC(),
	)
	return err
}

// DeleteJob removes a single job by id
func (r *Repository) DeleteJob(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE id = ?`, id)
	return err
}

// DueJobs returns jobs whose fire time has passed, oldest first
func (r *Repository) DueJobs(ctx context.Context, now time.Time) ([]*scheduler.Job, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, event_id, user_id, kind, fire_at, date_snapshot, created_at
		 FROM scheduled_jobs WHERE fire_at <= ? ORDER BY fire_at`, now.UTC(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

// JobsByEvent returns the pending jobs for one event
func (r *Repository) JobsByEvent(ctx context.Context, eventID string) ([]*scheduler.Job, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, event_id, user_id, kind, fire_at, date_snapshot, created_at
		 FROM scheduled_jobs WHERE event_id = ? ORDER BY fire_at`, eventID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

// DeleteJobsByEvent removes every job for an event
func (r *Repository) DeleteJobsByEvent(ctx context.Context, eventID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE event_id = ?`, eventID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// DeleteJobsByParticipant removes the jobs targeting one participant
func (r *Repository) DeleteJobsByParticipant(ctx context.Context, eventID, userID string) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM scheduled_jobs WHERE event_id = ? AND user_id = ?`, eventID, userID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func scanJobs(rows *sql.Rows) ([]*scheduler.Job, error) {
	var jobs []*scheduler.Job
	for rows.Next() {
		job := &scheduler.Job{}
		var kind string
		if err := rows.Scan(&job.ID, &job.EventID, &job.UserID, &kind,
			&job.FireAt, &job.DateSnapshot, &job.CreatedAt); err != nil {
			return nil, err
		}
		job.Kind = scheduler.Kind(kind)
		job.FireAt = job.FireAt.UTC()
		job.DateSnapshot = job.DateSnapshot.UTC()
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// DM tracking operations

// InsertTrackedDM records a sent direct message
func (r *Repository) InsertTrackedDM(ctx context.Context, dm *notify.TrackedDM) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO tracked_dms (event_id, user_id, channel_id, message_id, purpose, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		dm.EventID, dm.UserID, dm.ChannelID, dm.MessageID, string(dm.Purpose), dm.CreatedAt.UTC(),
	)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	dm.ID = id
	return nil
}

// TrackedDMsByEvent returns every recorded DM for an event
func (r *Repository) TrackedDMsByEvent(ctx context.Context, eventID string) ([]*notify.TrackedDM, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, event_id, user_id, channel_id, message_id, purpose, created_at
		 FROM tracked_dms WHERE event_id = ? ORDER BY id`, eventID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dms []*notify.TrackedDM
	for rows.Next() {
		dm := &notify.TrackedDM{}
		var purpose string
		if err := rows.Scan(&dm.ID, &dm.EventID, &dm.UserID, &dm.ChannelID,
			&dm.MessageID, &purpose, &dm.CreatedAt); err != nil {
			return nil, err
		}
		dm.Purpose = notify.Purpose(purpose)
		dms = append(dms, dm)
	}
	return dms, rows.Err()
}

// DeleteTrackedDMsByEvent drops every DM record for an event
func (r *Repository) DeleteTrackedDMsByEvent(ctx context.Context, eventID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM tracked_dms WHERE event_id = ?`, eventID)
	return err
}

// Trivia session operations

// InsertTriviaSession records a newly started session
func (r *Repository) InsertTriviaSession(ctx context.Context, s *trivia.Session) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO trivia_sessions (channel_id, host_id, category, started_at) VALUES (?, ?, ?, ?)`,
		s.ChannelID, s.HostID, s.Category, s.StartedAt.UTC(),
	)
	return err
}

// GetTriviaSession returns the active session for a channel, or
// (nil, nil) when the channel is idle
func (r *Repository) GetTriviaSession(ctx context.Context, channelID string) (*trivia.Session, error) {
	s := &trivia.Session{}
	err := r.db.QueryRowContext(ctx,
		`SELECT channel_id, host_id, category, started_at FROM trivia_sessions WHERE channel_id = ?`,
		channelID,
	).Scan(&s.ChannelID, &s.HostID, &s.Category, &s.StartedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// DeleteTriviaSession ends the session for a channel
func (r *Repository) DeleteTriviaSession(ctx context.Context, channelID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM trivia_sessions WHERE channel_id = ?`, channelID)
	return err
}
