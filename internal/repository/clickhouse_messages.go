package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jmehdipour/clinic-recall/internal/model"
)

// CHEventsRepository stores message status events in ClickHouse for reporting.
type CHEventsRepository interface {
	InsertBatch(ctx context.Context, events []model.StatusEvent) error
	ListLatest(ctx context.Context, f EventFilter) ([]model.StatusEvent, error)
	CountByStatus(ctx context.Context, ownerID string, from, to time.Time) (map[model.MessageStatus]uint64, error)
}

type EventFilter struct {
	OwnerID string
	Phone   string
	Status  model.MessageStatus
	Limit   int
	Offset  int
}

type chEventsRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewCHEventsRepository(ch *sqlx.DB) CHEventsRepository {
	return &chEventsRepository{ch: ch}
}

const chEventColumns = `log_id, owner_id, reminder_id, to_phone, provider_message_id, status, error, source, occurred_at`

// InsertBatch sends all rows as one ClickHouse block.
func (r *chEventsRepository) InsertBatch(ctx context.Context, events []model.StatusEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := r.ch.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO recall.message_events (`+chEventColumns+`)`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err := stmt.ExecContext(ctx,
			e.LogID, e.OwnerID, e.ReminderID, e.ToPhone, e.ProviderMessageID,
			e.Status.String(), e.Error, e.Source, e.OccurredAt.UTC(),
		); err != nil {
			return fmt.Errorf("append %s: %w", e.LogID, err)
		}
	}
	return tx.Commit()
}

func (r *chEventsRepository) ListLatest(ctx context.Context, f EventFilter) ([]model.StatusEvent, error) {
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	q := `
		SELECT ` + chEventColumns + `
		FROM recall.message_events_latest FINAL
		WHERE owner_id = ?
	`
	args := []any{f.OwnerID}

	if f.Status != "" {
		q += " AND status = ?"
		args = append(args, f.Status.String())
	}
	if f.Phone != "" {
		q += " AND to_phone = ?"
		args = append(args, f.Phone)
	}

	q += " ORDER BY occurred_at DESC LIMIT ? OFFSET ?"
	args = append(args, f.Limit, f.Offset)

	rows, err := r.ch.QueryxContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.StatusEvent
	for rows.Next() {
		var e model.StatusEvent
		var status string
		if err := rows.Scan(&e.LogID, &e.OwnerID, &e.ReminderID, &e.ToPhone, &e.ProviderMessageID,
			&status, &e.Error, &e.Source, &e.OccurredAt); err != nil {
			return nil, err
		}
		e.Status = model.MessageStatus(status)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *chEventsRepository) CountByStatus(ctx context.Context, ownerID string, from, to time.Time) (map[model.MessageStatus]uint64, error) {
	rows, err := r.ch.QueryxContext(ctx, `
		SELECT status, count() AS n
		FROM recall.message_events_latest FINAL
		WHERE owner_id = ? AND occurred_at >= ? AND occurred_at < ?
		GROUP BY status
	`, ownerID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[model.MessageStatus]uint64)
	for rows.Next() {
		var status string
		var n uint64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[model.MessageStatus(status)] = n
	}
	return out, rows.Err()
}
