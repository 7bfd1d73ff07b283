package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jmehdipour/clinic-recall/internal/model"
)

// RemindersRepository persists reminders. Every status transition is a
// conditional update; a false return means another path got there first.
type RemindersRepository interface {
	Insert(ctx context.Context, r model.Reminder) error
	Get(ctx context.Context, ownerID, id string) (*model.Reminder, error)
	FindByAppointment(ctx context.Context, ownerID, appointmentID string) (*model.Reminder, error)
	List(ctx context.Context, f ReminderFilter) ([]model.Reminder, error)
	Delete(ctx context.Context, ownerID, id string) (bool, error)

	// ListDue returns pending reminders due at or before now that are not
	// held by a live claim, oldest due first.
	ListDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]model.Reminder, error)
	Claim(ctx context.Context, c Claim) (bool, error)
	Release(ctx context.Context, id, token string) error
	// CompleteAttempt finalizes a claimed reminder and appends its message
	// log in one transaction. Nothing is written when the claim was lost.
	CompleteAttempt(ctx context.Context, a Attempt) (bool, error)
}

type ReminderFilter struct {
	OwnerID   string
	PatientID string
	Status    model.ReminderStatus
	Limit     int
	Offset    int
}

type Claim struct {
	ID          string
	Token       string
	Now         time.Time
	StaleBefore time.Time
	From        []model.ReminderStatus
}

type Attempt struct {
	ReminderID string
	Token      string
	Status     model.ReminderStatus
	At         time.Time
	Log        model.MessageLog
}

type RemindersRepositoryImpl struct {
	db *sqlx.DB
}

func NewRemindersRepository(db *sqlx.DB) *RemindersRepositoryImpl {
	return &RemindersRepositoryImpl{db: db}
}

var _ RemindersRepository = (*RemindersRepositoryImpl)(nil)

const reminderColumns = `id, owner_id, patient_id, appointment_id, service_id, performed_at, due_at, status, attempts,
	last_attempt_at, channel, message_text, claim_token, claimed_at, created_at, updated_at`

// Insert fails with model.ErrConflict when a reminder already exists for the appointment.
func (r *RemindersRepositoryImpl) Insert(ctx context.Context, rem model.Reminder) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO reminders (`+reminderColumns+`)
		VALUES (:id, :owner_id, :patient_id, :appointment_id, :service_id, :performed_at, :due_at, :status, :attempts,
		        :last_attempt_at, :channel, :message_text, :claim_token, :claimed_at, :created_at, :updated_at)
	`, rem)
	if isDuplicate(err) {
		return model.ErrConflict
	}
	return err
}

func (r *RemindersRepositoryImpl) Get(ctx context.Context, ownerID, id string) (*model.Reminder, error) {
	return r.getOne(ctx,
		`SELECT `+reminderColumns+` FROM reminders WHERE id = ? AND owner_id = ? LIMIT 1`, id, ownerID)
}

func (r *RemindersRepositoryImpl) FindByAppointment(ctx context.Context, ownerID, appointmentID string) (*model.Reminder, error) {
	return r.getOne(ctx,
		`SELECT `+reminderColumns+` FROM reminders WHERE owner_id = ? AND appointment_id = ? LIMIT 1`, ownerID, appointmentID)
}

func (r *RemindersRepositoryImpl) getOne(ctx context.Context, q string, args ...any) (*model.Reminder, error) {
	var rem model.Reminder
	err := r.db.GetContext(ctx, &rem, q, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rem, nil
}

func (r *RemindersRepositoryImpl) List(ctx context.Context, f ReminderFilter) ([]model.Reminder, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	q := `SELECT ` + reminderColumns + ` FROM reminders WHERE owner_id = ?`
	args := []any{f.OwnerID}
	if f.PatientID != "" {
		q += " AND patient_id = ?"
		args = append(args, f.PatientID)
	}
	if f.Status != "" {
		q += " AND status = ?"
		args = append(args, f.Status.String())
	}
	q += " ORDER BY due_at ASC, id ASC LIMIT ? OFFSET ?"
	args = append(args, f.Limit, f.Offset)

	var rows []model.Reminder
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *RemindersRepositoryImpl) Delete(ctx context.Context, ownerID, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (r *RemindersRepositoryImpl) ListDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]model.Reminder, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []model.Reminder
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+reminderColumns+`
		  FROM reminders
		 WHERE status = 'pending'
		   AND due_at <= ?
		   AND (claim_token IS NULL OR claimed_at < ?)
		 ORDER BY due_at ASC, id ASC
		 LIMIT ?
	`, now, staleBefore, limit)
	return rows, err
}

// Claim marks the reminder as being delivered by c.Token. It succeeds only
// when the status is one of c.From and no live claim exists.
func (r *RemindersRepositoryImpl) Claim(ctx context.Context, c Claim) (bool, error) {
	from := c.From
	if len(from) == 0 {
		from = []model.ReminderStatus{model.ReminderPending}
	}
	q, args, err := sqlx.In(`
		UPDATE reminders
		   SET claim_token = ?, claimed_at = ?, updated_at = ?
		 WHERE id = ?
		   AND status IN (?)
		   AND (claim_token IS NULL OR claimed_at < ?)
	`, c.Token, c.Now, c.Now, c.ID, from, c.StaleBefore)
	if err != nil {
		return false, err
	}
	res, err := r.db.ExecContext(ctx, r.db.Rebind(q), args...)
	if err != nil {
		return false, err
	}
	return affected(res)
}

// Release drops a claim without touching the status, e.g. when the provider
// became unavailable between claim and send.
func (r *RemindersRepositoryImpl) Release(ctx context.Context, id, token string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE reminders
		   SET claim_token = NULL, claimed_at = NULL
		 WHERE id = ? AND claim_token = ?
	`, id, token)
	return err
}

func (r *RemindersRepositoryImpl) CompleteAttempt(ctx context.Context, a Attempt) (bool, error) {
	won := false
	err := withTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE reminders
			   SET status = ?, attempts = attempts + 1, last_attempt_at = ?,
			       claim_token = NULL, claimed_at = NULL, updated_at = ?
			 WHERE id = ? AND claim_token = ?
		`, a.Status.String(), a.At, a.At, a.ReminderID, a.Token)
		if err != nil {
			return err
		}
		if won, err = affected(res); err != nil || !won {
			return err
		}
		err = insertMessageLog(ctx, tx, a.Log)
		if isDuplicate(err) {
			// provider reused an id; keep the attempt but leave it unreconcilable
			l := a.Log
			l.ProviderMessageID = nil
			err = insertMessageLog(ctx, tx, l)
		}
		return err
	})
	if err != nil {
		return false, err
	}
	return won, nil
}
