package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/deidlabs/linkd/internal/identity"
)

const linkColumns = `id, subject_id, platform, external_account_id, username, email,
	display_name, avatar_url, attestation_hash, signature, status, failure_reason,
	tx_hash, block_number, created_at, updated_at`

// InsertLink stores a new link record. The UNIQUE(subject_id, platform)
// constraint is the only concurrency guard for the verification workflow:
// under concurrent runs exactly one insert wins and every loser gets
// ErrDuplicateLink.
func (s *Store) InsertLink(ctx context.Context, rec *identity.LinkRecord) error {
	now := time.Now().UTC()
	var txHash sql.NullString
	var blockNumber sql.NullInt64
	if rec.ChainRef != nil {
		txHash = sql.NullString{String: rec.ChainRef.TxHash, Valid: true}
		blockNumber = sql.NullInt64{Int64: rec.ChainRef.BlockNumber, Valid: true}
	}
	err := retryOnBusy(ctx, 3, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO links (`+linkColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
		`, rec.ID, rec.SubjectID, rec.Platform, rec.ExternalAccount,
			rec.Profile.Username, rec.Profile.Email, rec.Profile.DisplayName,
			rec.Profile.AvatarURL, rec.AttestationHash, rec.Signature,
			rec.Status, rec.FailureReason, txHash, blockNumber, now, now)
		return err
	})
	if isUniqueViolation(err, "links.subject_id") {
		return ErrDuplicateLink
	}
	if err != nil {
		return fmt.Errorf("insert link: %w", err)
	}
	rec.CreatedAt = now
	rec.UpdatedAt = now
	return nil
}

// ReplaceRetryableLink overwrites the existing record for the subject and
// platform with a fresh workflow result, but only while the stored record is
// still in a retryable state. Records that reached verified or onchain are
// never overwritten; those callers get ErrInvalidTransition.
func (s *Store) ReplaceRetryableLink(ctx context.Context, rec *identity.LinkRecord) error {
	now := time.Now().UTC()
	var res sql.Result
	err := retryOnBusy(ctx, 3, func() error {
		var err error
		res, err = s.db.ExecContext(ctx, `
			UPDATE links
			SET external_account_id = ?, username = ?, email = ?, display_name = ?,
				avatar_url = ?, attestation_hash = ?, signature = ?, status = ?,
				failure_reason = ?, tx_hash = NULL, block_number = NULL, updated_at = ?
			WHERE subject_id = ? AND platform = ? AND status IN (?, ?);
		`, rec.ExternalAccount, rec.Profile.Username, rec.Profile.Email,
			rec.Profile.DisplayName, rec.Profile.AvatarURL, rec.AttestationHash,
			rec.Signature, rec.Status, rec.FailureReason, now,
			rec.SubjectID, rec.Platform, identity.StatusPending, identity.StatusFailed)
		return err
	})
	if err != nil {
		return fmt.Errorf("replace link: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("replace link rows affected: %w", err)
	}
	if n == 0 {
		if _, err := s.GetLink(ctx, rec.SubjectID, rec.Platform); err != nil {
			return err
		}
		return ErrInvalidTransition
	}
	rec.UpdatedAt = now
	return nil
}

// UpdateLinkStatus moves the record for (subject, platform) to the given
// status in one conditional statement. The WHERE clause enumerates the legal
// predecessor states, so a concurrent or repeated call can never regress a
// record: an update that matches zero rows is classified afterwards as
// ErrNotFound or ErrInvalidTransition.
func (s *Store) UpdateLinkStatus(ctx context.Context, subject string, platform identity.Platform, to identity.Status, failureReason string) error {
	from := predecessorStates(to)
	if len(from) == 0 {
		return ErrInvalidTransition
	}

	args := []any{to, failureReason, time.Now().UTC(), subject, platform}
	placeholders := ""
	for i, st := range from {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args = append(args, st)
	}

	var res sql.Result
	err := retryOnBusy(ctx, 3, func() error {
		var err error
		res, err = s.db.ExecContext(ctx, `
			UPDATE links
			SET status = ?, failure_reason = ?, updated_at = ?
			WHERE subject_id = ? AND platform = ? AND status IN (`+placeholders+`);
		`, args...)
		return err
	})
	if err != nil {
		return fmt.Errorf("update link status: %w", err)
	}
	return s.classifyNoRows(ctx, res, subject, platform)
}

// ConfirmLinkOnchain records the chain acknowledgement for (subject,
// platform) and moves the record to onchain, in a single conditional
// statement. Only pending and verified records can be confirmed; onchain is
// terminal and a second confirmation is rejected with ErrInvalidTransition.
func (s *Store) ConfirmLinkOnchain(ctx context.Context, subject string, platform identity.Platform, ref identity.ChainRef) error {
	var res sql.Result
	err := retryOnBusy(ctx, 3, func() error {
		var err error
		res, err = s.db.ExecContext(ctx, `
			UPDATE links
			SET status = ?, tx_hash = ?, block_number = ?, failure_reason = '', updated_at = ?
			WHERE subject_id = ? AND platform = ? AND status IN (?, ?);
		`, identity.StatusOnchain, ref.TxHash, ref.BlockNumber, time.Now().UTC(),
			subject, platform, identity.StatusPending, identity.StatusVerified)
		return err
	})
	if err != nil {
		return fmt.Errorf("confirm link onchain: %w", err)
	}
	return s.classifyNoRows(ctx, res, subject, platform)
}

// DeleteLink removes the record for (subject, platform). Admin-only.
func (s *Store) DeleteLink(ctx context.Context, subject string, platform identity.Platform) error {
	var res sql.Result
	err := retryOnBusy(ctx, 3, func() error {
		var err error
		res, err = s.db.ExecContext(ctx, `
			DELETE FROM links WHERE subject_id = ? AND platform = ?;
		`, subject, platform)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete link: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete link rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetLink fetches the record for (subject, platform).
func (s *Store) GetLink(ctx context.Context, subject string, platform identity.Platform) (*identity.LinkRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+linkColumns+` FROM links WHERE subject_id = ? AND platform = ?;
	`, subject, platform)
	rec, err := scanLink(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get link: %w", err)
	}
	return rec, nil
}

// ListLinks returns every record for a subject, newest first. When status is
// non-empty the list is filtered to that state.
func (s *Store) ListLinks(ctx context.Context, subject string, status identity.Status) ([]*identity.LinkRecord, error) {
	query := `SELECT ` + linkColumns + ` FROM links WHERE subject_id = ?`
	args := []any{subject}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id DESC;`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	defer rows.Close()

	var records []*identity.LinkRecord
	for rows.Next() {
		rec, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("scan link row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate links: %w", err)
	}
	return records, nil
}

// LinkStats counts a subject's link records per status. Every status is
// present in the result, zero when the subject has no record in it.
func (s *Store) LinkStats(ctx context.Context, subject string) (map[identity.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM links WHERE subject_id = ? GROUP BY status;
	`, subject)
	if err != nil {
		return nil, fmt.Errorf("link stats: %w", err)
	}
	defer rows.Close()

	stats := map[identity.Status]int{
		identity.StatusPending:  0,
		identity.StatusVerified: 0,
		identity.StatusOnchain:  0,
		identity.StatusFailed:   0,
	}
	for rows.Next() {
		var status identity.Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan link stats: %w", err)
		}
		stats[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate link stats: %w", err)
	}
	return stats, nil
}

func predecessorStates(to identity.Status) []identity.Status {
	var from []identity.Status
	for _, candidate := range []identity.Status{
		identity.StatusPending, identity.StatusVerified,
		identity.StatusOnchain, identity.StatusFailed,
	} {
		if identity.CanTransition(candidate, to) {
			from = append(from, candidate)
		}
	}
	return from
}

// classifyNoRows turns a zero-row conditional update into the precise
// sentinel: missing record vs record in a state the update refuses.
func (s *Store) classifyNoRows(ctx context.Context, res sql.Result, subject string, platform identity.Platform) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := s.GetLink(ctx, subject, platform); err != nil {
		return err
	}
	return ErrInvalidTransition
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLink(row rowScanner) (*identity.LinkRecord, error) {
	var rec identity.LinkRecord
	var txHash sql.NullString
	var blockNumber sql.NullInt64
	err := row.Scan(&rec.ID, &rec.SubjectID, &rec.Platform, &rec.ExternalAccount,
		&rec.Profile.Username, &rec.Profile.Email, &rec.Profile.DisplayName,
		&rec.Profile.AvatarURL, &rec.AttestationHash, &rec.Signature,
		&rec.Status, &rec.FailureReason, &txHash, &blockNumber,
		&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if txHash.Valid {
		rec.ChainRef = &identity.ChainRef{TxHash: txHash.String, BlockNumber: blockNumber.Int64}
	}
	return &rec, nil
}
