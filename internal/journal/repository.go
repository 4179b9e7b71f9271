package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidStatus is returned for a filter status other than acknowledged or failed.
var ErrInvalidStatus = errors.New("journal: status must be acknowledged or failed")

// timeLayout keeps millisecond precision and sorts lexically in UTC.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// Repository defines the journal operations.
type Repository interface {
	CreateDelivery(ctx context.Context, d *Delivery) error
	CreateSessionEvent(ctx context.Context, e *SessionEvent) error
	ListDeliveries(ctx context.Context, filter Filter) (*ListResult, error)
	ListSessionEvents(ctx context.Context, limit int) ([]SessionEvent, error)
}

// SQLiteRepository stores the journal in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a journal repository on an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// CreateDelivery inserts a resolved delivery. ID is generated if empty.
func (r *SQLiteRepository) CreateDelivery(ctx context.Context, d *Delivery) error {
	if d.ID == "" {
		d.ID = "dlv-" + uuid.NewString()
	}
	if d.ResolvedAt.IsZero() {
		d.ResolvedAt = time.Now().UTC()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = d.ResolvedAt
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO deliveries (id, record_id, identity, topic, payload, status, reason, created_at, resolved_at, latency_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.RecordID, d.Identity, d.Topic, []byte(d.Payload), d.Status,
		nullableString(d.Reason),
		formatTime(d.CreatedAt), formatTime(d.ResolvedAt),
		d.LatencyMS,
	)
	if err != nil {
		return fmt.Errorf("inserting delivery: %w", err)
	}
	return nil
}

// CreateSessionEvent inserts a session lifecycle event. ID and CreatedAt
// are generated if empty.
func (r *SQLiteRepository) CreateSessionEvent(ctx context.Context, e *SessionEvent) error {
	if e.ID == "" {
		e.ID = "ses-" + uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO session_events (id, kind, identity, detail, created_at) VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.Kind, e.Identity, nullableString(e.Detail), formatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting session event: %w", err)
	}
	return nil
}

// ListDeliveries returns deliveries matching the filter, most recent first.
func (r *SQLiteRepository) ListDeliveries(ctx context.Context, filter Filter) (*ListResult, error) {
	filter = filter.normalise()

	var conditions []string
	var args []any

	switch filter.Status {
	case "":
	case "acknowledged", "failed":
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, filter.Status)
	}
	if filter.Identity != "" {
		conditions = append(conditions, "identity = ?")
		args = append(args, filter.Identity)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := "SELECT COUNT(*) FROM deliveries " + where
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting deliveries: %w", err)
	}

	query := "SELECT id, record_id, identity, topic, payload, status, reason, created_at, resolved_at, latency_ms FROM deliveries " +
		where + " ORDER BY resolved_at DESC, rowid DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying deliveries: %w", err)
	}
	defer rows.Close()

	deliveries := []Delivery{}
	for rows.Next() {
		var d Delivery
		var payload []byte
		var reason sql.NullString
		var createdAt, resolvedAt string

		if err := rows.Scan(&d.ID, &d.RecordID, &d.Identity, &d.Topic, &payload,
			&d.Status, &reason, &createdAt, &resolvedAt, &d.LatencyMS); err != nil {
			return nil, fmt.Errorf("scanning delivery: %w", err)
		}
		d.Payload = string(payload)
		if reason.Valid {
			d.Reason = reason.String
		}
		if d.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if d.ResolvedAt, err = parseTime(resolvedAt); err != nil {
			return nil, err
		}

		deliveries = append(deliveries, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating deliveries: %w", err)
	}

	return &ListResult{
		Deliveries: deliveries,
		Total:      total,
		Limit:      filter.Limit,
		Offset:     filter.Offset,
	}, nil
}

// ListSessionEvents returns the most recent session events, newest first.
func (r *SQLiteRepository) ListSessionEvents(ctx context.Context, limit int) ([]SessionEvent, error) {
	limit = Filter{Limit: limit}.normalise().Limit

	rows, err := r.db.QueryContext(ctx,
		"SELECT id, kind, identity, detail, created_at FROM session_events ORDER BY created_at DESC, rowid DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying session events: %w", err)
	}
	defer rows.Close()

	events := []SessionEvent{}
	for rows.Next() {
		var e SessionEvent
		var detail sql.NullString
		var createdAt string

		if err := rows.Scan(&e.ID, &e.Kind, &e.Identity, &detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning session event: %w", err)
		}
		if detail.Valid {
			e.Detail = detail.String
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session events: %w", err)
	}
	return events, nil
}

// nullableString returns nil for empty strings so nullable TEXT columns stay NULL.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("parsing journal timestamp %q: %w", s, err)
		}
	}
	return t, nil
}
