package saga

import (
	"context"
	"errors"
	"log/slog"
	"math/big"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/deidlabs/linkd/internal/attest"
	"github.com/deidlabs/linkd/internal/audit"
	"github.com/deidlabs/linkd/internal/identity"
	"github.com/deidlabs/linkd/internal/persistence"
	"github.com/deidlabs/linkd/internal/telemetry"
	"github.com/deidlabs/linkd/internal/upstream"
)

// TaskDraft is the input to CreateTask, before any identifier or content
// reference exists.
type TaskDraft struct {
	Title          string
	Description    string
	ValidationKind identity.ValidationKind
	Network        identity.Network
	TargetContract string
	Threshold      int64
	Badge          identity.BadgeMetadata
}

// Creator runs the task-creation workflow: validate, publish metadata,
// persist, submit to chain. The rollback is deliberately asymmetric: a
// failed publish leaves nothing behind, while a failed chain submit keeps
// the stored record so the submit alone can be retried.
type Creator struct {
	runner
	store     *persistence.Store
	publisher upstream.ContentPublisher
	chain     upstream.ChainClient
	producer  *attest.Producer
}

func NewCreator(store *persistence.Store, publisher upstream.ContentPublisher, chain upstream.ChainClient,
	producer *attest.Producer, log *slog.Logger, tracer trace.Tracer, metrics *telemetry.Metrics) *Creator {
	return &Creator{
		runner:    runner{log: log, tracer: tracer, metrics: metrics},
		store:     store,
		publisher: publisher,
		chain:     chain,
		producer:  producer,
	}
}

func (c *Creator) validateDraft(draft TaskDraft) error {
	if draft.Title == "" {
		return errorf(KindValidation, "title is required")
	}
	if _, err := identity.ParseValidationKind(string(draft.ValidationKind)); err != nil {
		return errorf(KindValidation, "%v", err)
	}
	if _, err := identity.ParseNetwork(string(draft.Network)); err != nil {
		return errorf(KindValidation, "%v", err)
	}
	if draft.TargetContract == "" {
		return errorf(KindValidation, "target contract is required")
	}
	if draft.Threshold < 0 {
		return errorf(KindValidation, "threshold must not be negative")
	}
	return validateBadge(draft.Badge)
}

// CreateTask drives a draft to a stored, chain-registered task. Steps run
// in dependency order: nothing is persisted until the badge document has a
// content reference, and a chain failure after the insert returns a
// chain_submit error carrying the record ID instead of rolling back.
func (c *Creator) CreateTask(ctx context.Context, draft TaskDraft) (*identity.TaskRecord, error) {
	if err := c.validateDraft(draft); err != nil {
		return nil, err
	}

	var contentRef string
	err := c.step(ctx, "task", "publish_metadata", func(ctx context.Context) error {
		var err error
		contentRef, err = c.publisher.PublishMetadata(ctx, draft.Badge)
		return mapUpstream(err)
	})
	if err != nil {
		return nil, err
	}

	rec := &identity.TaskRecord{
		ID:             uuid.NewString(),
		Title:          draft.Title,
		Description:    draft.Description,
		ValidationKind: draft.ValidationKind,
		Network:        draft.Network,
		TargetContract: draft.TargetContract,
		Threshold:      draft.Threshold,
		Badge:          draft.Badge,
		ContentRef:     contentRef,
	}
	err = c.step(ctx, "task", "persist", func(ctx context.Context) error {
		if err := c.store.InsertTask(ctx, rec); err != nil {
			return newError(KindInternal, "insert task", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.metrics.TasksCreated.Add(ctx, 1)

	if err := c.submitTask(ctx, rec); err != nil {
		return nil, err
	}

	audit.Record("allow", "task.create", "task created and submitted", rec.ID)
	c.log.Info("task created",
		"task", rec.ID,
		"kind", rec.ValidationKind,
		"network", rec.Network,
		"content_ref", rec.ContentRef)
	return rec, nil
}

// RetryChainSubmit repeats only the chain step for a stored task whose
// submit never succeeded.
func (c *Creator) RetryChainSubmit(ctx context.Context, taskID string) (*identity.TaskRecord, error) {
	rec, err := c.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, mapStore(err)
	}
	if rec.ChainRef != nil {
		return nil, errorf(KindInvalidTransition, "task %s already has a chain acknowledgement", taskID)
	}
	if err := c.submitTask(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (c *Creator) submitTask(ctx context.Context, rec *identity.TaskRecord) error {
	var ref identity.ChainRef
	err := c.step(ctx, "task", "chain_submit", func(ctx context.Context) error {
		var err error
		ref, err = c.chain.SubmitTask(ctx, rec.ID, rec.ContentRef)
		return mapUpstream(err)
	})
	c.metrics.ChainSubmits.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("success", err == nil),
	))
	if err != nil {
		// The record survives. Hand back the ID so the caller can retry
		// the chain step alone.
		var sagaErr *Error
		if errors.As(err, &sagaErr) {
			return &Error{Kind: KindChainSubmit, Message: sagaErr.Message, RecordID: rec.ID, Err: sagaErr.Err}
		}
		return &Error{Kind: KindChainSubmit, Message: err.Error(), RecordID: rec.ID, Err: err}
	}
	if err := c.ConfirmTaskChain(ctx, rec.ID, ref); err != nil {
		return err
	}
	rec.ChainRef = &ref
	return nil
}

// ConfirmTaskChain records a chain acknowledgement for a task. The store
// accepts it only while no acknowledgement is set, so a racing duplicate
// submit cannot overwrite the accepted transaction.
func (c *Creator) ConfirmTaskChain(ctx context.Context, taskID string, ref identity.ChainRef) error {
	if ref.TxHash == "" {
		return errorf(KindValidation, "tx hash is required")
	}
	if err := c.store.SetTaskChainRef(ctx, taskID, ref); err != nil {
		return mapStore(err)
	}
	c.log.Info("task confirmed onchain", "task", taskID, "tx_hash", ref.TxHash)
	return nil
}

// ValidateTask checks a wallet against a task's threshold and, when it
// qualifies, signs the user-task attestation and stores the validation. A
// subject validates a task at most once; a repeat returns the stored
// record.
func (c *Creator) ValidateTask(ctx context.Context, subject, taskID, wallet string) (*identity.ValidationRecord, error) {
	if subject == "" || wallet == "" {
		return nil, errorf(KindValidation, "subject and wallet are required")
	}
	task, err := c.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, mapStore(err)
	}

	if existing, err := c.store.GetValidation(ctx, subject, taskID); err == nil {
		return existing, nil
	} else if !errors.Is(err, persistence.ErrNotFound) {
		return nil, newError(KindInternal, "read validation", err)
	}

	var balance string
	err = c.step(ctx, "task", "balance_check", func(ctx context.Context) error {
		balance, err = c.chain.TokenBalance(ctx, task.Network, task.ValidationKind, task.TargetContract, wallet)
		return mapUpstream(err)
	})
	if err != nil {
		return nil, err
	}

	held, ok := new(big.Int).SetString(balance, 10)
	if !ok {
		return nil, errorf(KindInternal, "unparseable balance %q", balance)
	}
	if held.Cmp(big.NewInt(task.Threshold)) < 0 {
		audit.Record("deny", "task.validate", "balance below threshold", subject)
		return nil, errorf(KindNotQualified, "balance %s is below threshold %d", balance, task.Threshold)
	}

	att, err := c.producer.SignUserTask(wallet, taskID)
	if err != nil {
		return nil, errorf(KindValidation, "%v", err)
	}
	rec := &identity.ValidationRecord{
		ID:            uuid.NewString(),
		SubjectID:     subject,
		TaskID:        taskID,
		WalletAddress: wallet,
		ActualBalance: balance,
		Signature:     att.Signature,
		MessageHash:   att.Hash,
	}
	if err := c.store.InsertValidation(ctx, rec); err != nil {
		if errors.Is(err, persistence.ErrDuplicateTask) {
			// Lost a race with a concurrent validation; the stored one wins.
			return c.store.GetValidation(ctx, subject, taskID)
		}
		return nil, newError(KindInternal, "insert validation", err)
	}

	audit.Record("allow", "task.validate", "wallet qualified", subject)
	c.log.Info("task validated", "subject", subject, "task", taskID, "balance", balance)
	return rec, nil
}
