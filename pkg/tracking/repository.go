package tracking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

type Repository interface {
	WithTransaction(ctx context.Context, fn func(repo Repository) error) error

	// UpsertSnapshot stores the latest fetched state of a source event. The
	// committed fingerprint, day and last-processed timestamp of an existing
	// row are preserved; they only move via MarkProcessed. Keeping the old
	// day until commit means a moved event whose old day failed to tear down
	// is still attributed to that day on the next cycle.
	UpsertSnapshot(ctx context.Context, e TrackedEvent) error
	GetTrackedEvent(ctx context.Context, uid string) (*TrackedEvent, error)
	ListTrackedInWindow(ctx context.Context, fromDay, toDay string) ([]TrackedEvent, error)
	MarkProcessed(ctx context.Context, uid string, fingerprint, day string, at time.Time) error
	// DeleteTrackedEvent removes a tracked event and, via the schema
	// cascade, all transit records attributed to it.
	DeleteTrackedEvent(ctx context.Context, uid string) error

	ListTransitForDay(ctx context.Context, day string) ([]TransitRecord, error)
	ListTransitForTracked(ctx context.Context, uid string) ([]TransitRecord, error)
	// ListTransitBefore returns transit records for days strictly before
	// the given day, oldest first.
	ListTransitBefore(ctx context.Context, beforeDay string) ([]TransitRecord, error)
	// ReplaceDayTransit atomically swaps all transit records of a day for
	// the given set.
	ReplaceDayTransit(ctx context.Context, day string, records []TransitRecord) error
	DeleteTransitRecord(ctx context.Context, id uuid.UUID) error

	// Cleanup removes tracked events (and their transit records) for days
	// strictly before the given day. Returns the number of tracked events
	// removed.
	Cleanup(ctx context.Context, beforeDay string) (int64, error)
}

type RepositoryImpl struct {
	db *sql.DB
	tx *sql.Tx
}

func NewRepository(db *sql.DB) *RepositoryImpl {
	return &RepositoryImpl{db: db, tx: nil}
}

// getQueryer returns the appropriate database interface for queries (either tx or db)
func (r *RepositoryImpl) getQueryer() interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
} {
	if r.tx != nil {
		return r.tx
	}
	return r.db
}

func (r *RepositoryImpl) WithTransaction(ctx context.Context, fn func(repo Repository) error) error {
	if r.tx != nil {
		// Already inside a transaction; run in the same one.
		return fn(r)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		// The Rollback will be a no-op if the transaction was already committed
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			log.Errorf("rollback error: %v", rbErr)
		}
	}()

	txRepo := &RepositoryImpl{db: r.db, tx: tx}
	if err := fn(txRepo); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (r *RepositoryImpl) UpsertSnapshot(ctx context.Context, e TrackedEvent) error {
	query := `INSERT INTO tracked_event (uid, title, location, start_time, end_time, day)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (uid) DO UPDATE SET
			title = excluded.title,
			location = excluded.location,
			start_time = excluded.start_time,
			end_time = excluded.end_time`

	_, err := r.getQueryer().ExecContext(ctx, query,
		e.UID, e.Title, e.Location, e.StartTime.Unix(), e.EndTime.Unix(), e.Day)
	if err != nil {
		err := fmt.Errorf("could not upsert tracked event %s: %w", e.UID, err)
		log.Error(err)
		return err
	}
	return nil
}

func (r *RepositoryImpl) GetTrackedEvent(ctx context.Context, uid string) (*TrackedEvent, error) {
	query := `SELECT uid, title, location, start_time, end_time, day, fingerprint, last_processed
		FROM tracked_event WHERE uid = ?`

	row := r.getQueryer().QueryRowContext(ctx, query, uid)
	e, err := scanTrackedEvent(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		err := fmt.Errorf("could not get tracked event %s: %w", uid, err)
		log.Error(err)
		return nil, err
	}
	return &e, nil
}

func (r *RepositoryImpl) ListTrackedInWindow(ctx context.Context, fromDay, toDay string) ([]TrackedEvent, error) {
	query := `SELECT uid, title, location, start_time, end_time, day, fingerprint, last_processed
		FROM tracked_event
		WHERE day >= ? AND day <= ?
		ORDER BY day, start_time, uid`

	rows, err := r.getQueryer().QueryContext(ctx, query, fromDay, toDay)
	if err != nil {
		err := fmt.Errorf("could not list tracked events: %w", err)
		log.Error(err)
		return nil, err
	}
	defer rows.Close()

	var events []TrackedEvent
	for rows.Next() {
		e, err := scanTrackedEvent(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("could not scan tracked event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *RepositoryImpl) MarkProcessed(ctx context.Context, uid string, fingerprint, day string, at time.Time) error {
	query := `UPDATE tracked_event SET fingerprint = ?, day = ?, last_processed = ? WHERE uid = ?`

	_, err := r.getQueryer().ExecContext(ctx, query, fingerprint, day, at.Unix(), uid)
	if err != nil {
		err := fmt.Errorf("could not mark tracked event %s processed: %w", uid, err)
		log.Error(err)
		return err
	}
	return nil
}

func (r *RepositoryImpl) DeleteTrackedEvent(ctx context.Context, uid string) error {
	_, err := r.getQueryer().ExecContext(ctx, "DELETE FROM tracked_event WHERE uid = ?", uid)
	if err != nil {
		err := fmt.Errorf("could not delete tracked event %s: %w", uid, err)
		log.Error(err)
		return err
	}
	return nil
}

func (r *RepositoryImpl) ListTransitForDay(ctx context.Context, day string) ([]TransitRecord, error) {
	return r.listTransit(ctx, "day = ?", day)
}

func (r *RepositoryImpl) ListTransitForTracked(ctx context.Context, uid string) ([]TransitRecord, error) {
	return r.listTransit(ctx, "tracked_uid = ?", uid)
}

func (r *RepositoryImpl) ListTransitBefore(ctx context.Context, beforeDay string) ([]TransitRecord, error) {
	return r.listTransit(ctx, "day < ?", beforeDay)
}

func (r *RepositoryImpl) listTransit(ctx context.Context, where string, arg any) ([]TransitRecord, error) {
	query := `SELECT id, tracked_uid, day, direction, title, origin, destination,
			start_time, end_time, leg_fingerprint, created_at
		FROM transit_record WHERE ` + where + ` ORDER BY start_time, id`

	rows, err := r.getQueryer().QueryContext(ctx, query, arg)
	if err != nil {
		err := fmt.Errorf("could not list transit records: %w", err)
		log.Error(err)
		return nil, err
	}
	defer rows.Close()

	var records []TransitRecord
	for rows.Next() {
		var rec TransitRecord
		var id string
		var startUnix, endUnix, createdUnix int64
		if err := rows.Scan(&id, &rec.TrackedUID, &rec.Day, &rec.Direction, &rec.Title,
			&rec.Origin, &rec.Destination, &startUnix, &endUnix, &rec.LegFingerprint, &createdUnix); err != nil {
			return nil, fmt.Errorf("could not scan transit record: %w", err)
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			// A malformed id cannot be addressed on the destination
			// calendar. Treat the row as absent; the next rebuild of its
			// day sweeps it away.
			log.Warnf("skipping corrupt transit record id %q: %v", id, err)
			continue
		}
		rec.ID = parsed
		rec.StartTime = time.Unix(startUnix, 0).UTC()
		rec.EndTime = time.Unix(endUnix, 0).UTC()
		rec.CreatedAt = time.Unix(createdUnix, 0).UTC()
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *RepositoryImpl) ReplaceDayTransit(ctx context.Context, day string, records []TransitRecord) error {
	return r.WithTransaction(ctx, func(repo Repository) error {
		tr := repo.(*RepositoryImpl)
		if _, err := tr.getQueryer().ExecContext(ctx, "DELETE FROM transit_record WHERE day = ?", day); err != nil {
			return fmt.Errorf("could not clear transit records for %s: %w", day, err)
		}
		for _, rec := range records {
			if err := tr.insertTransitRecord(ctx, rec); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *RepositoryImpl) insertTransitRecord(ctx context.Context, rec TransitRecord) error {
	query := `INSERT INTO transit_record (id, tracked_uid, day, direction, title, origin, destination,
			start_time, end_time, leg_fingerprint, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := r.getQueryer().ExecContext(ctx, query,
		rec.ID.String(), rec.TrackedUID, rec.Day, rec.Direction, rec.Title,
		rec.Origin, rec.Destination, rec.StartTime.Unix(), rec.EndTime.Unix(),
		rec.LegFingerprint, createdAt.Unix())
	if err != nil {
		err := fmt.Errorf("could not insert transit record %s: %w", rec.ID, err)
		log.Error(err)
		return err
	}
	return nil
}

func (r *RepositoryImpl) DeleteTransitRecord(ctx context.Context, id uuid.UUID) error {
	_, err := r.getQueryer().ExecContext(ctx, "DELETE FROM transit_record WHERE id = ?", id.String())
	if err != nil {
		err := fmt.Errorf("could not delete transit record %s: %w", id, err)
		log.Error(err)
		return err
	}
	return nil
}

func (r *RepositoryImpl) Cleanup(ctx context.Context, beforeDay string) (int64, error) {
	var removed int64
	err := r.WithTransaction(ctx, func(repo Repository) error {
		tr := repo.(*RepositoryImpl)
		res, err := tr.getQueryer().ExecContext(ctx, "DELETE FROM tracked_event WHERE day < ?", beforeDay)
		if err != nil {
			return fmt.Errorf("could not clean up tracked events: %w", err)
		}
		removed, _ = res.RowsAffected()

		// Orphan safety: transit records whose day predates the cutoff but
		// whose tracked event moved forward.
		if _, err := tr.getQueryer().ExecContext(ctx, "DELETE FROM transit_record WHERE day < ?", beforeDay); err != nil {
			return fmt.Errorf("could not clean up transit records: %w", err)
		}
		return nil
	})
	return removed, err
}

func scanTrackedEvent(scan func(dest ...any) error) (TrackedEvent, error) {
	var e TrackedEvent
	var startUnix, endUnix int64
	var processed sql.NullInt64
	if err := scan(&e.UID, &e.Title, &e.Location, &startUnix, &endUnix, &e.Day, &e.Fingerprint, &processed); err != nil {
		return TrackedEvent{}, err
	}
	e.StartTime = time.Unix(startUnix, 0).UTC()
	e.EndTime = time.Unix(endUnix, 0).UTC()
	if processed.Valid {
		e.LastProcessed = time.Unix(processed.Int64, 0).UTC()
	}
	return e, nil
}
