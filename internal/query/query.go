// Package query is the read-only surface over the status store. It never
// mutates records and never calls upstream services; a record mid-workflow
// is reported exactly as stored.
package query

import (
	"context"
	"errors"

	"github.com/deidlabs/linkd/internal/identity"
	"github.com/deidlabs/linkd/internal/persistence"
)

var ErrNotFound = errors.New("not found")

type Service struct {
	store *persistence.Store
}

func New(store *persistence.Store) *Service {
	return &Service{store: store}
}

// Link returns the record for (subject, platform).
func (s *Service) Link(ctx context.Context, subject string, platform identity.Platform) (*identity.LinkRecord, error) {
	rec, err := s.store.GetLink(ctx, subject, platform)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, ErrNotFound
	}
	return rec, err
}

// Links returns all of a subject's records, optionally filtered by status.
// An unknown subject yields an empty list, not an error.
func (s *Service) Links(ctx context.Context, subject string, status identity.Status) ([]*identity.LinkRecord, error) {
	return s.store.ListLinks(ctx, subject, status)
}

// Stats counts a subject's link records per status.
func (s *Service) Stats(ctx context.Context, subject string) (map[identity.Status]int, error) {
	return s.store.LinkStats(ctx, subject)
}

// Task returns one task record.
func (s *Service) Task(ctx context.Context, id string) (*identity.TaskRecord, error) {
	rec, err := s.store.GetTask(ctx, id)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, ErrNotFound
	}
	return rec, err
}

// Tasks returns a page of tasks, newest first, with OR-within-dimension and
// AND-across-dimension filter semantics.
func (s *Service) Tasks(ctx context.Context, page, pageSize int, kinds []identity.ValidationKind, networks []identity.Network) (*persistence.TaskPage, error) {
	return s.store.ListTasks(ctx, page, pageSize, kinds, networks)
}

// Validation returns the validation a subject holds for a task.
func (s *Service) Validation(ctx context.Context, subject, taskID string) (*identity.ValidationRecord, error) {
	rec, err := s.store.GetValidation(ctx, subject, taskID)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, ErrNotFound
	}
	return rec, err
}
