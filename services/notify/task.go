package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"smallbiznis-engagement/pkg/logger"
	"smallbiznis-engagement/pkg/task"
	"smallbiznis-engagement/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// TaskNotifier hands notices to the worker through asynq.
type TaskNotifier struct {
	enq task.Enqueuer
}

func NewTaskNotifier(enq task.Enqueuer) Notifier {
	return &TaskNotifier{enq: enq}
}

func (n *TaskNotifier) SubmissionConfirmed(ctx context.Context, notice SubmissionNotice) {
	notice.TraceID = traceID(ctx)
	n.enqueue(ctx, taskname.NotifySubmissionConfirmed, notice)
}

func (n *TaskNotifier) TriggerGranted(ctx context.Context, notice GrantNotice) {
	notice.TraceID = traceID(ctx)
	n.enqueue(ctx, taskname.NotifyTriggerGranted, notice)
}

func (n *TaskNotifier) enqueue(ctx context.Context, typename string, payload any) {
	log := logger.FromContext(ctx, zap.String("task_type", typename))

	b, err := json.Marshal(payload)
	if err != nil {
		log.Error("failed to marshal notice", zap.Error(err))
		return
	}

	info, err := n.enq.Enqueue(ctx, asynq.NewTask(typename, b), asynq.Queue(task.QueueLow), asynq.MaxRetry(3))
	if err != nil {
		log.Error("failed to enqueue notice", zap.Error(err))
		return
	}
	log.Debug("notice enqueued", zap.String("task_id", info.ID))
}

func traceID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// LogNotifier writes notices to the log. It is used when no queue is configured.
type LogNotifier struct{}

func (LogNotifier) SubmissionConfirmed(ctx context.Context, n SubmissionNotice) {
	logger.FromContext(ctx).Info(n.Message(),
		zap.String("participant_id", n.ParticipantID),
		zap.String("submission_id", n.SubmissionID))
}

func (LogNotifier) TriggerGranted(ctx context.Context, n GrantNotice) {
	logger.FromContext(ctx).Info(n.Message(),
		zap.String("participant_id", n.ParticipantID),
		zap.String("trigger_id", n.TriggerID))
}

// Handler consumes notice tasks on the worker. Rendering into the community
// platform happens outside this service, so the handler only logs the text.
type Handler struct{}

func NewHandler() *Handler {
	return &Handler{}
}

func (h *Handler) HandleSubmissionConfirmed(ctx context.Context, t *asynq.Task) error {
	var n SubmissionNotice
	if err := json.Unmarshal(t.Payload(), &n); err != nil {
		return fmt.Errorf("invalid payload: %w: %w", err, asynq.SkipRetry)
	}
	zap.L().Info(n.Message(),
		zap.String("task_type", t.Type()),
		zap.String("participant_id", n.ParticipantID),
		zap.String("trace_id", n.TraceID),
	)
	return nil
}

func (h *Handler) HandleTriggerGranted(ctx context.Context, t *asynq.Task) error {
	var n GrantNotice
	if err := json.Unmarshal(t.Payload(), &n); err != nil {
		return fmt.Errorf("invalid payload: %w: %w", err, asynq.SkipRetry)
	}
	zap.L().Info(n.Message(),
		zap.String("task_type", t.Type()),
		zap.String("participant_id", n.ParticipantID),
		zap.String("trace_id", n.TraceID),
	)
	return nil
}

// Register binds the notice handlers on the worker mux.
func Register(mux *asynq.ServeMux, h *Handler) {
	mux.HandleFunc(taskname.NotifySubmissionConfirmed, h.HandleSubmissionConfirmed)
	mux.HandleFunc(taskname.NotifyTriggerGranted, h.HandleTriggerGranted)
}
