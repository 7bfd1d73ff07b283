package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jmehdipour/clinic-recall/internal/model"
)

// RulesRepository persists reminder rules.
//
// Rules are always returned in (created_at, id) order. Keyword matching picks
// the first hit, so the order is part of the contract.
type RulesRepository interface {
	ListEnabled(ctx context.Context, ownerID string) ([]model.ReminderRule, error)
	List(ctx context.Context, ownerID string) ([]model.ReminderRule, error)
	Get(ctx context.Context, ownerID, id string) (*model.ReminderRule, error)
	// Insert and Update fail with model.ErrConflict when the rule is enabled
	// and another enabled rule already targets the same service.
	Insert(ctx context.Context, rule model.ReminderRule) error
	Update(ctx context.Context, rule model.ReminderRule) error
}

type RulesRepositoryImpl struct {
	db *sqlx.DB
}

func NewRulesRepository(db *sqlx.DB) *RulesRepositoryImpl {
	return &RulesRepositoryImpl{db: db}
}

var _ RulesRepository = (*RulesRepositoryImpl)(nil)

const ruleColumns = `id, owner_id, service_id, match_keywords, delay_days, template_text, enabled, hour_start, hour_end, days_of_week, created_at, updated_at`

func (r *RulesRepositoryImpl) ListEnabled(ctx context.Context, ownerID string) ([]model.ReminderRule, error) {
	var rows []model.ReminderRule
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+ruleColumns+`
		  FROM reminder_rules
		 WHERE owner_id = ? AND enabled = 1
		 ORDER BY created_at ASC, id ASC
	`, ownerID)
	return rows, err
}

func (r *RulesRepositoryImpl) List(ctx context.Context, ownerID string) ([]model.ReminderRule, error) {
	var rows []model.ReminderRule
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+ruleColumns+`
		  FROM reminder_rules
		 WHERE owner_id = ?
		 ORDER BY created_at ASC, id ASC
	`, ownerID)
	return rows, err
}

func (r *RulesRepositoryImpl) Get(ctx context.Context, ownerID, id string) (*model.ReminderRule, error) {
	var rule model.ReminderRule
	err := r.db.GetContext(ctx, &rule,
		`SELECT `+ruleColumns+` FROM reminder_rules WHERE id = ? AND owner_id = ? LIMIT 1`, id, ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

func (r *RulesRepositoryImpl) Insert(ctx context.Context, rule model.ReminderRule) error {
	err := withTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		if err := r.checkServiceFree(ctx, tx, rule); err != nil {
			return err
		}
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO reminder_rules (`+ruleColumns+`)
			VALUES (:id, :owner_id, :service_id, :match_keywords, :delay_days, :template_text, :enabled,
			        :hour_start, :hour_end, :days_of_week, :created_at, :updated_at)
		`, rule)
		return err
	})
	return lockConflict(rule, err)
}

func (r *RulesRepositoryImpl) Update(ctx context.Context, rule model.ReminderRule) error {
	err := withTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		var id string
		err := tx.GetContext(ctx, &id,
			`SELECT id FROM reminder_rules WHERE id = ? AND owner_id = ? FOR UPDATE`, rule.ID, rule.OwnerID)
		if errors.Is(err, sql.ErrNoRows) {
			return model.ErrNotFound
		}
		if err != nil {
			return err
		}
		if err := r.checkServiceFree(ctx, tx, rule); err != nil {
			return err
		}
		_, err = tx.NamedExecContext(ctx, `
			UPDATE reminder_rules
			   SET service_id = :service_id, match_keywords = :match_keywords, delay_days = :delay_days,
			       template_text = :template_text, enabled = :enabled, hour_start = :hour_start,
			       hour_end = :hour_end, days_of_week = :days_of_week, updated_at = :updated_at
			 WHERE id = :id AND owner_id = :owner_id
		`, rule)
		return err
	})
	return lockConflict(rule, err)
}

// checkServiceFree takes a locking read on the service's enabled rules so two
// concurrent writers cannot both pass the check.
func (r *RulesRepositoryImpl) checkServiceFree(ctx context.Context, tx *sqlx.Tx, rule model.ReminderRule) error {
	if !rule.Enabled || rule.ServiceID == nil {
		return nil
	}
	var ids []string
	err := tx.SelectContext(ctx, &ids, `
		SELECT id FROM reminder_rules
		 WHERE owner_id = ? AND service_id = ? AND enabled = 1 AND id <> ?
		 FOR UPDATE
	`, rule.OwnerID, *rule.ServiceID, rule.ID)
	if err != nil {
		return err
	}
	if len(ids) > 0 {
		return fmt.Errorf("service %s already has enabled rule %s: %w", *rule.ServiceID, ids[0], model.ErrConflict)
	}
	return nil
}

// lockConflict reports a write that lost the gap-lock race on the service's
// enabled rules as the same conflict checkServiceFree returns.
func lockConflict(rule model.ReminderRule, err error) error {
	if !isLockConflict(err) || !rule.Enabled || rule.ServiceID == nil {
		return err
	}
	return fmt.Errorf("service %s already has an enabled rule being written: %w", *rule.ServiceID, model.ErrConflict)
}
