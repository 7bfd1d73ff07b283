package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jmehdipour/clinic-recall/internal/model"
)

// MessageLogsRepository reads delivery attempts and applies provider
// callbacks to them.
type MessageLogsRepository interface {
	GetByProviderID(ctx context.Context, providerMessageID string) (*model.MessageLog, error)
	ListByReminder(ctx context.Context, ownerID, reminderID string) ([]model.MessageLog, error)
	// ApplyStatus overwrites the log's mutable fields and, when u.Reminder is
	// set, moves the linked reminder to that status if it is not there yet.
	ApplyStatus(ctx context.Context, u LogUpdate) error
}

type LogUpdate struct {
	LogID      string
	ReminderID string
	Status     model.MessageStatus
	ToPhone    string
	Content    string
	Error      *string
	SentAt     *time.Time
	Reminder   *model.ReminderStatus
	At         time.Time
}

type MessageLogsRepositoryImpl struct {
	db *sqlx.DB
}

func NewMessageLogsRepository(db *sqlx.DB) *MessageLogsRepositoryImpl {
	return &MessageLogsRepositoryImpl{db: db}
}

var _ MessageLogsRepository = (*MessageLogsRepositoryImpl)(nil)

const messageLogColumns = `id, owner_id, reminder_id, to_phone, content, provider_message_id, status, error, sent_at, created_at, updated_at`

func (r *MessageLogsRepositoryImpl) GetByProviderID(ctx context.Context, providerMessageID string) (*model.MessageLog, error) {
	if providerMessageID == "" {
		return nil, nil
	}
	var l model.MessageLog
	err := r.db.GetContext(ctx, &l,
		`SELECT `+messageLogColumns+` FROM message_logs WHERE provider_message_id = ? LIMIT 1`, providerMessageID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *MessageLogsRepositoryImpl) ListByReminder(ctx context.Context, ownerID, reminderID string) ([]model.MessageLog, error) {
	var rows []model.MessageLog
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+messageLogColumns+`
		  FROM message_logs
		 WHERE owner_id = ? AND reminder_id = ?
		 ORDER BY created_at ASC, id ASC
	`, ownerID, reminderID)
	return rows, err
}

func (r *MessageLogsRepositoryImpl) ApplyStatus(ctx context.Context, u LogUpdate) error {
	return withTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE message_logs
			   SET status = ?, to_phone = ?, content = ?, error = ?, sent_at = ?, updated_at = ?
			 WHERE id = ?
		`, u.Status.String(), u.ToPhone, u.Content, u.Error, u.SentAt, u.At, u.LogID)
		if err != nil {
			return err
		}
		if u.Reminder == nil || u.ReminderID == "" {
			return nil
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE reminders
			   SET status = ?, updated_at = ?
			 WHERE id = ? AND status <> ?
		`, u.Reminder.String(), u.At, u.ReminderID, u.Reminder.String())
		return err
	})
}

func insertMessageLog(ctx context.Context, tx *sqlx.Tx, l model.MessageLog) error {
	_, err := tx.NamedExecContext(ctx, `
		INSERT INTO message_logs (`+messageLogColumns+`)
		VALUES (:id, :owner_id, :reminder_id, :to_phone, :content, :provider_message_id, :status, :error,
		        :sent_at, :created_at, :updated_at)
	`, l)
	return err
}
