package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jmehdipour/clinic-recall/internal/model"
)

type ControlSchedulesRepository interface {
	// Create writes the schedule together with its first appointment.
	Create(ctx context.Context, s model.ControlSchedule, first model.Appointment) error
	Get(ctx context.Context, ownerID, id string) (*model.ControlSchedule, error)
	List(ctx context.Context, ownerID string) ([]model.ControlSchedule, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]model.ControlSchedule, error)
	// Advance moves next_at from prev to next and inserts appt, atomically.
	// It returns false without writing when next_at no longer equals prev
	// or the schedule is no longer active.
	Advance(ctx context.Context, id string, prev, next time.Time, appt model.Appointment) (bool, error)
	SetStatus(ctx context.Context, ownerID, id string, from []model.ScheduleStatus, to model.ScheduleStatus, at time.Time) (bool, error)
}

type ControlSchedulesRepositoryImpl struct {
	db *sqlx.DB
}

func NewControlSchedulesRepository(db *sqlx.DB) *ControlSchedulesRepositoryImpl {
	return &ControlSchedulesRepositoryImpl{db: db}
}

var _ ControlSchedulesRepository = (*ControlSchedulesRepositoryImpl)(nil)

const controlScheduleColumns = `id, owner_id, patient_id, service_id, frequency, hour, next_at, status, created_at, updated_at`

func (r *ControlSchedulesRepositoryImpl) Create(ctx context.Context, s model.ControlSchedule, first model.Appointment) error {
	return withTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO control_schedules (`+controlScheduleColumns+`)
			VALUES (:id, :owner_id, :patient_id, :service_id, :frequency, :hour, :next_at, :status, :created_at, :updated_at)
		`, s)
		if err != nil {
			return err
		}
		return insertAppointment(ctx, tx, first)
	})
}

func (r *ControlSchedulesRepositoryImpl) Get(ctx context.Context, ownerID, id string) (*model.ControlSchedule, error) {
	var s model.ControlSchedule
	err := r.db.GetContext(ctx, &s,
		`SELECT `+controlScheduleColumns+` FROM control_schedules WHERE id = ? AND owner_id = ? LIMIT 1`, id, ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *ControlSchedulesRepositoryImpl) List(ctx context.Context, ownerID string) ([]model.ControlSchedule, error) {
	var rows []model.ControlSchedule
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+controlScheduleColumns+`
		  FROM control_schedules
		 WHERE owner_id = ?
		 ORDER BY next_at ASC, id ASC
	`, ownerID)
	return rows, err
}

func (r *ControlSchedulesRepositoryImpl) ListDue(ctx context.Context, now time.Time, limit int) ([]model.ControlSchedule, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []model.ControlSchedule
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+controlScheduleColumns+`
		  FROM control_schedules
		 WHERE status = 'active' AND next_at <= ?
		 ORDER BY next_at ASC, id ASC
		 LIMIT ?
	`, now, limit)
	return rows, err
}

func (r *ControlSchedulesRepositoryImpl) Advance(ctx context.Context, id string, prev, next time.Time, appt model.Appointment) (bool, error) {
	won := false
	err := withTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE control_schedules
			   SET next_at = ?, updated_at = ?
			 WHERE id = ? AND status = 'active' AND next_at = ?
		`, next, appt.CreatedAt, id, prev)
		if err != nil {
			return err
		}
		if won, err = affected(res); err != nil || !won {
			return err
		}
		return insertAppointment(ctx, tx, appt)
	})
	if err != nil {
		return false, err
	}
	return won, nil
}

func (r *ControlSchedulesRepositoryImpl) SetStatus(ctx context.Context, ownerID, id string, from []model.ScheduleStatus, to model.ScheduleStatus, at time.Time) (bool, error) {
	q, args, err := sqlx.In(`
		UPDATE control_schedules
		   SET status = ?, updated_at = ?
		 WHERE id = ? AND owner_id = ? AND status IN (?)
	`, to, at, id, ownerID, from)
	if err != nil {
		return false, err
	}
	res, err := r.db.ExecContext(ctx, r.db.Rebind(q), args...)
	if err != nil {
		return false, err
	}
	return affected(res)
}
