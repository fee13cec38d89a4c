package trigger

import (
	"context"
	"encoding/json"
	"fmt"

	"smallbiznis-engagement/pkg/errutil"
	"smallbiznis-engagement/pkg/task"
	"smallbiznis-engagement/pkg/taskname"
	"smallbiznis-engagement/services/model"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

func NewEvaluateTask(p EvaluatePayload) (*asynq.Task, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskname.TriggerEvaluate, b, asynq.Queue(task.QueueDefault), asynq.MaxRetry(5)), nil
}

// HandleEvaluateTask re-runs an evaluation pass that failed after a submission committed.
func (s *Service) HandleEvaluateTask(ctx context.Context, t *asynq.Task) error {
	var payload EvaluatePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid payload: %w: %w", err, asynq.SkipRetry)
	}

	zapLog := zap.L().With(
		zap.String("task_type", t.Type()),
		zap.String("participant_id", payload.ParticipantID),
		zap.String("event_id", payload.EventID),
		zap.String("trace_id", payload.TraceID),
	)
	zapLog.Info("start trigger catch-up")

	var submission *model.Submission
	if payload.SubmissionID != "" {
		sub, err := s.submissions.FindByID(ctx, payload.SubmissionID)
		if err != nil {
			zapLog.Error("failed to load submission", zap.Error(err))
			return err
		}
		submission = sub
	}

	grants, err := s.Evaluate(ctx, payload.ParticipantID, payload.EventID, submission)
	if err != nil {
		if errutil.IsValidation(err) {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return err
	}

	zapLog.Info("trigger catch-up done", zap.Int("granted", len(grants)))
	return nil
}

// Register binds the catch-up handler on the worker mux.
func Register(mux *asynq.ServeMux, s *Service) {
	mux.HandleFunc(taskname.TriggerEvaluate, s.HandleEvaluateTask)
}
