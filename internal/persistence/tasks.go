package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/deidlabs/linkd/internal/identity"
)

const taskColumns = `id, title, description, validation_kind, network, target_contract,
	threshold, badge_json, content_ref, tx_hash, block_number, created_at, updated_at`

// InsertTask stores a new task record. The badge metadata is persisted as a
// JSON document alongside the columns the list filters need.
func (s *Store) InsertTask(ctx context.Context, rec *identity.TaskRecord) error {
	badgeJSON, err := json.Marshal(rec.Badge)
	if err != nil {
		return fmt.Errorf("marshal badge metadata: %w", err)
	}
	now := time.Now().UTC()
	var txHash sql.NullString
	var blockNumber sql.NullInt64
	if rec.ChainRef != nil {
		txHash = sql.NullString{String: rec.ChainRef.TxHash, Valid: true}
		blockNumber = sql.NullInt64{Int64: rec.ChainRef.BlockNumber, Valid: true}
	}
	err = retryOnBusy(ctx, 3, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO tasks (`+taskColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
		`, rec.ID, rec.Title, rec.Description, rec.ValidationKind, rec.Network,
			rec.TargetContract, rec.Threshold, string(badgeJSON), rec.ContentRef,
			txHash, blockNumber, now, now)
		return err
	})
	if isUniqueViolation(err, "tasks.id") {
		return ErrDuplicateTask
	}
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	rec.CreatedAt = now
	rec.UpdatedAt = now
	return nil
}

// SetTaskChainRef records the chain acknowledgement for a task, but only if
// no acknowledgement was stored before. A second submit attempt that races
// the first loses here instead of overwriting the accepted transaction.
func (s *Store) SetTaskChainRef(ctx context.Context, id string, ref identity.ChainRef) error {
	var res sql.Result
	err := retryOnBusy(ctx, 3, func() error {
		var err error
		res, err = s.db.ExecContext(ctx, `
			UPDATE tasks
			SET tx_hash = ?, block_number = ?, updated_at = ?
			WHERE id = ? AND tx_hash IS NULL;
		`, ref.TxHash, ref.BlockNumber, time.Now().UTC(), id)
		return err
	})
	if err != nil {
		return fmt.Errorf("set task chain ref: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set task chain ref rows affected: %w", err)
	}
	if n == 0 {
		if _, err := s.GetTask(ctx, id); err != nil {
			return err
		}
		return ErrInvalidTransition
	}
	return nil
}

// GetTask fetches a task record by ID.
func (s *Store) GetTask(ctx context.Context, id string) (*identity.TaskRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+taskColumns+` FROM tasks WHERE id = ?;
	`, id)
	rec, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return rec, nil
}

// TaskPage is one page of a filtered task listing together with the total
// match count, so callers can render pagination without a second query.
type TaskPage struct {
	Tasks []*identity.TaskRecord
	Total int
}

// ListTasks returns a page of tasks, newest first. Filters of the same
// dimension are OR-ed together, and the two dimensions are AND-ed: a task
// matches when its kind is in kinds (or kinds is empty) and its network is
// in networks (or networks is empty). Pages are 1-based.
func (s *Store) ListTasks(ctx context.Context, page, pageSize int, kinds []identity.ValidationKind, networks []identity.Network) (*TaskPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	where := "1 = 1"
	args := []any{}
	if len(kinds) > 0 {
		placeholders := ""
		for i, k := range kinds {
			if i > 0 {
				placeholders += ", "
			}
			placeholders += "?"
			args = append(args, k)
		}
		where += " AND validation_kind IN (" + placeholders + ")"
	}
	if len(networks) > 0 {
		placeholders := ""
		for i, n := range networks {
			if i > 0 {
				placeholders += ", "
			}
			placeholders += "?"
			args = append(args, n)
		}
		where += " AND network IN (" + placeholders + ")"
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE `+where+`;`, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}

	listArgs := append(append([]any{}, args...), pageSize, (page-1)*pageSize)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE `+where+`
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?;
	`, listArgs...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	result := &TaskPage{Total: total}
	for rows.Next() {
		rec, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
		}
		result.Tasks = append(result.Tasks, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return result, nil
}

// ListUnchainedTasks returns tasks whose chain submit has not succeeded yet,
// oldest first, capped at limit. The reconciler drains this set.
func (s *Store) ListUnchainedTasks(ctx context.Context, limit int) ([]*identity.TaskRecord, error) {
	if limit < 1 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE tx_hash IS NULL
		ORDER BY created_at ASC, id ASC
		LIMIT ?;
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list unchained tasks: %w", err)
	}
	defer rows.Close()

	var records []*identity.TaskRecord
	for rows.Next() {
		rec, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unchained tasks: %w", err)
	}
	return records, nil
}

func scanTask(row rowScanner) (*identity.TaskRecord, error) {
	var rec identity.TaskRecord
	var badgeJSON string
	var txHash sql.NullString
	var blockNumber sql.NullInt64
	err := row.Scan(&rec.ID, &rec.Title, &rec.Description, &rec.ValidationKind,
		&rec.Network, &rec.TargetContract, &rec.Threshold, &badgeJSON,
		&rec.ContentRef, &txHash, &blockNumber, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(badgeJSON), &rec.Badge); err != nil {
		return nil, fmt.Errorf("unmarshal badge metadata: %w", err)
	}
	if txHash.Valid {
		rec.ChainRef = &identity.ChainRef{TxHash: txHash.String, BlockNumber: blockNumber.Int64}
	}
	return &rec, nil
}
