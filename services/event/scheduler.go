package event

import (
	"context"
	"errors"
	"fmt"
	"time"

	"smallbiznis-engagement/pkg/config"
	"smallbiznis-engagement/pkg/errutil"
	"smallbiznis-engagement/pkg/task"
	"smallbiznis-engagement/pkg/taskname"
	"smallbiznis-engagement/services/model"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// PurgeExpiredConfirmations deletes force confirmations that expired or were
// consumed before cutoff.
func (s *Service) PurgeExpiredConfirmations(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("expires_at < ? OR (consumed_at IS NOT NULL AND consumed_at < ?)", cutoff, cutoff).
		Delete(&model.ForceConfirmation{})
	if res.Error != nil {
		return 0, errutil.Storage("failed to purge force confirmations", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Service) HandlePurgeTask(ctx context.Context, t *asynq.Task) error {
	n, err := s.PurgeExpiredConfirmations(ctx, s.now())
	if err != nil {
		return err
	}
	zap.L().Info("force confirmations purged", zap.String("task_type", t.Type()), zap.Int64("deleted", n))
	return nil
}

func RegisterWorker(mux *asynq.ServeMux, s *Service) {
	mux.HandleFunc(taskname.PurgeForceConfirmations, s.HandlePurgeTask)
}

// Scheduler enqueues the daily purge at 01:00 in the engine timezone.
type Scheduler struct {
	enq task.Enqueuer
	loc *time.Location
	now func() time.Time
}

func NewScheduler(enq task.Enqueuer, cfg *config.Config) *Scheduler {
	return &Scheduler{enq: enq, loc: cfg.Engine.Location(), now: time.Now}
}

func StartScheduler(lc fx.Lifecycle, s *Scheduler) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go s.run(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

func (s *Scheduler) run(ctx context.Context) {
	zap.L().Info("[Scheduler] started force confirmation purge scheduler")

	for {
		now := s.now().In(s.loc)
		next := nextRunTime(now, 1, 0)
		zap.L().Info("[Scheduler] next run scheduled", zap.Time("next_run", next))

		select {
		case <-time.After(next.Sub(now)):
			if err := s.enqueue(ctx); err != nil {
				zap.L().Error("[Scheduler] failed to enqueue purge", zap.Error(err))
			}
		case <-ctx.Done():
			zap.L().Warn("[Scheduler] stopped")
			return
		}
	}
}

func (s *Scheduler) enqueue(ctx context.Context) error {
	day := s.now().In(s.loc).Format("2006-01-02")
	_, err := s.enq.Enqueue(ctx, asynq.NewTask(taskname.PurgeForceConfirmations, nil),
		asynq.Queue(task.QueueLow),
		asynq.TaskID(fmt.Sprintf("purge-force-confirmations-%s", day)),
	)
	if err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		return err
	}
	return nil
}

// nextRunTime returns the next hour:minute on or after now, in now's location.
func nextRunTime(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if now.After(next) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
