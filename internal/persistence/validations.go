package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/deidlabs/linkd/internal/identity"
)

// InsertValidation stores one successful task validation. A subject gets at
// most one validation per task; a repeat attempt returns ErrDuplicateTask so
// the caller can hand back the already-issued signature instead.
func (s *Store) InsertValidation(ctx context.Context, rec *identity.ValidationRecord) error {
	now := time.Now().UTC()
	err := retryOnBusy(ctx, 3, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO task_validations
				(id, subject_id, task_id, wallet_address, actual_balance, signature, message_hash, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?);
		`, rec.ID, rec.SubjectID, rec.TaskID, rec.WalletAddress,
			rec.ActualBalance, rec.Signature, rec.MessageHash, now)
		return err
	})
	if isUniqueViolation(err, "task_validations.subject_id") {
		return ErrDuplicateTask
	}
	if err != nil {
		return fmt.Errorf("insert validation: %w", err)
	}
	rec.CreatedAt = now
	return nil
}

// GetValidation fetches the validation a subject holds for a task.
func (s *Store) GetValidation(ctx context.Context, subject, taskID string) (*identity.ValidationRecord, error) {
	var rec identity.ValidationRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT id, subject_id, task_id, wallet_address, actual_balance, signature, message_hash, created_at
		FROM task_validations
		WHERE subject_id = ? AND task_id = ?;
	`, subject, taskID).Scan(&rec.ID, &rec.SubjectID, &rec.TaskID, &rec.WalletAddress,
		&rec.ActualBalance, &rec.Signature, &rec.MessageHash, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get validation: %w", err)
	}
	return &rec, nil
}
