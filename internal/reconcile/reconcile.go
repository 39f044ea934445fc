// Package reconcile retries the chain submit for stored tasks that never
// received an acknowledgement. It is optional and disabled by default;
// operators who prefer manual retries simply leave it off.
package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/deidlabs/linkd/internal/config"
	"github.com/deidlabs/linkd/internal/identity"
	"github.com/deidlabs/linkd/internal/persistence"
	"github.com/deidlabs/linkd/internal/saga"
)

// retrier is the slice of the creation workflow the reconciler drives.
type retrier interface {
	RetryChainSubmit(ctx context.Context, taskID string) (*identity.TaskRecord, error)
}

type Reconciler struct {
	cfg     config.ReconcilerConfig
	store   *persistence.Store
	creator retrier
	log     *slog.Logger
	cron    *cron.Cron
}

func New(cfg config.ReconcilerConfig, store *persistence.Store, creator retrier, log *slog.Logger) *Reconciler {
	return &Reconciler{
		cfg:     cfg,
		store:   store,
		creator: creator,
		log:     log,
	}
}

// Start registers the cron entry and begins running. A disabled reconciler
// starts nothing and Stop is still safe to call.
func (r *Reconciler) Start() error {
	if !r.cfg.Enabled {
		r.log.Debug("reconciler disabled")
		return nil
	}
	r.cron = cron.New()
	_, err := r.cron.AddFunc(r.cfg.CronExpr, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		r.RunOnce(ctx)
	})
	if err != nil {
		return err
	}
	r.cron.Start()
	r.log.Info("reconciler started", "cron", r.cfg.CronExpr, "max_batch", r.cfg.MaxBatch)
	return nil
}

func (r *Reconciler) Stop() {
	if r.cron != nil {
		r.cron.Stop()
	}
}

// RunOnce retries one batch of unacknowledged tasks and reports how many
// submits succeeded. Individual failures are logged and skipped; the next
// run picks them up again.
func (r *Reconciler) RunOnce(ctx context.Context) int {
	stuck, err := r.store.ListUnchainedTasks(ctx, r.cfg.MaxBatch)
	if err != nil {
		r.log.Error("reconciler list failed", "error", err)
		return 0
	}
	if len(stuck) == 0 {
		return 0
	}

	recovered := 0
	for _, task := range stuck {
		if ctx.Err() != nil {
			break
		}
		if _, err := r.creator.RetryChainSubmit(ctx, task.ID); err != nil {
			// invalid_transition means someone confirmed it since the
			// list; that is a success from our point of view.
			if saga.KindOf(err) == saga.KindInvalidTransition {
				recovered++
				continue
			}
			r.log.Warn("reconciler retry failed", "task", task.ID, "error", err)
			continue
		}
		recovered++
	}
	r.log.Info("reconciler run complete", "stuck", len(stuck), "recovered", recovered)
	return recovered
}
