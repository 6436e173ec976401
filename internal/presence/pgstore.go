package presence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"kidspresence/internal/feed"
)

const recordColumns = `id, child_id, session_id, requested_by, status, requested_at, approved_by, approved_at, released_by, released_at`

// PGStore persists presence data in Postgres and mirrors every mutation onto
// the change feed once the row write has committed.
type PGStore struct {
	db   *sql.DB
	feed feed.Feed
}

// NewPGStore creates a Postgres-backed store.
func NewPGStore(db *sql.DB, f feed.Feed) *PGStore {
	return &PGStore{db: db, feed: f}
}

func (s *PGStore) publish(ctx context.Context, typ feed.EventType, key string, rec *Record) {
	if s.feed == nil {
		return
	}
	evt := feed.Event{Type: typ, Table: TableCheckins, Key: key}
	if typ == feed.EventUpdate && rec != nil {
		if raw, err := json.Marshal(rec); err == nil {
			evt.Payload = raw
		}
	}
	_ = s.feed.Publish(ctx, evt)
}

func scanRecord(row interface{ Scan(...any) error }) (Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.ChildID, &rec.SessionID, &rec.RequestedBy, &rec.Status,
		&rec.RequestedAt, &rec.ApprovedBy, &rec.ApprovedAt, &rec.ReleasedBy, &rec.ReleasedAt)
	return rec, err
}

// ActiveForChild returns the child's pending or approved record, nil if none.
func (s *PGStore) ActiveForChild(ctx context.Context, childID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM kids_checkins
		WHERE child_id = $1 AND status IN ('pending', 'approved')
		ORDER BY requested_at DESC
		LIMIT 1
	`, childID)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// GetRecord returns a single record by id.
func (s *PGStore) GetRecord(ctx context.Context, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+` FROM kids_checkins WHERE id = $1
	`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

// InsertRecord writes a new record.
func (s *PGStore) InsertRecord(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.RequestedAt.IsZero() {
		rec.RequestedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kids_checkins (id, child_id, session_id, requested_by, status, requested_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.ID, rec.ChildID, rec.SessionID, rec.RequestedBy, rec.Status, rec.RequestedAt)
	if err != nil {
		return Record{}, err
	}
	s.publish(ctx, feed.EventInsert, rec.ID, nil)
	return rec, nil
}

// UpdateRecord applies a guarded mutation in a single atomic statement. The
// WHERE clause re-checks the state the caller observed; no matching row means
// another writer won the race and the caller gets ErrStaleWrite.
func (s *PGStore) UpdateRecord(ctx context.Context, m Mutation) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE kids_checkins
		SET status      = $2,
		    approved_by = COALESCE($3, approved_by),
		    approved_at = CASE WHEN $4 THEN NOW() ELSE approved_at END,
		    released_by = COALESCE($5, released_by),
		    released_at = CASE WHEN $6 THEN NOW() ELSE released_at END
		WHERE id = $1
		  AND status = $7
		  AND ($8::boolean IS NULL OR (approved_at IS NOT NULL) = $8)
		RETURNING `+recordColumns+`
	`, m.ID, m.NewStatus, m.ApprovedBy, m.SetApprovedAt, m.ReleasedBy, m.SetReleasedAt,
		m.Expect, m.ExpectApprovedAt)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrStaleWrite
	}
	if err != nil {
		return Record{}, err
	}
	s.publish(ctx, feed.EventUpdate, rec.ID, &rec)
	return rec, nil
}

// DeleteRecord removes a record still in the expected status.
func (s *PGStore) DeleteRecord(ctx context.Context, id string, expect Status) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM kids_checkins WHERE id = $1 AND status = $2
	`, id, expect)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStaleWrite
	}
	s.publish(ctx, feed.EventDelete, id, nil)
	return nil
}

// ListPending returns all pending records ordered by request time.
func (s *PGStore) ListPending(ctx context.Context) ([]Record, error) {
	return s.list(ctx, `
		SELECT `+recordColumns+`
		FROM kids_checkins
		WHERE status = 'pending'
		ORDER BY requested_at ASC
	`)
}

// ListActive returns all pending and approved records.
func (s *PGStore) ListActive(ctx context.Context) ([]Record, error) {
	return s.list(ctx, `
		SELECT `+recordColumns+`
		FROM kids_checkins
		WHERE status IN ('pending', 'approved')
		ORDER BY requested_at ASC
	`)
}

func (s *PGStore) list(ctx context.Context, query string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// OpenSessionOn returns the open session started on day's date, nil if none.
func (s *PGStore) OpenSessionOn(ctx context.Context, day time.Time) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, status, started_at, ended_at
		FROM kids_sessions
		WHERE status = 'open' AND started_at::date = $1::date
		ORDER BY started_at ASC
		LIMIT 1
	`, day.UTC())
	var sess Session
	err := row.Scan(&sess.ID, &sess.Name, &sess.Status, &sess.StartedAt, &sess.EndedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// CreateSession inserts a session. A partial unique index on
// (started_at::date) WHERE status = 'open' makes the one-open-session-per-day
// rule authoritative; a violation surfaces as ErrDuplicate.
func (s *PGStore) CreateSession(ctx context.Context, sess Session) (Session, error) {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.StartedAt.IsZero() {
		sess.StartedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kids_sessions (id, name, status, started_at)
		VALUES ($1, $2, $3, $4)
	`, sess.ID, sess.Name, sess.Status, sess.StartedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Session{}, ErrDuplicate
		}
		return Session{}, err
	}
	return sess, nil
}
