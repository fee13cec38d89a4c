package submission

import (
	"context"
	"time"

	"smallbiznis-engagement/pkg/config"
	"smallbiznis-engagement/pkg/db/option"
	"smallbiznis-engagement/pkg/db/pagination"
	"smallbiznis-engagement/pkg/errutil"
	"smallbiznis-engagement/pkg/logger"
	"smallbiznis-engagement/pkg/repository"
	"smallbiznis-engagement/pkg/task"
	"smallbiznis-engagement/services/event"
	"smallbiznis-engagement/services/inventory"
	"smallbiznis-engagement/services/ledger"
	"smallbiznis-engagement/services/model"
	"smallbiznis-engagement/services/notify"
	"smallbiznis-engagement/services/trigger"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("smallbiznis-engagement/services/submission")

var (
	ErrBindingNotFound     = errutil.Validation("binding not found", errutil.Detail{Field: "binding_id", Message: "not found"})
	ErrParticipantRequired = errutil.Validation("participant is required", errutil.Detail{Field: "participant_id", Message: "required"})
	ErrActionInactive      = errutil.State("action is no longer active")
	ErrEventClosed         = errutil.State("event is not accepting submissions")
	ErrAlreadySubmitted    = errutil.Conflict("already submitted", nil)
)

const outcomeAlreadyDone = "already_done"

var submissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "submissions_total",
	Help: "Submissions by outcome.",
}, []string{"outcome"})

func init() {
	prometheus.MustRegister(submissionsTotal)
}

// Evaluator runs the trigger pass that follows a confirmed submission.
type Evaluator interface {
	Evaluate(ctx context.Context, participantID, eventID string, submission *model.Submission) ([]trigger.Grant, error)
}

type Service struct {
	db        *gorm.DB
	node      *snowflake.Node
	cfg       *config.Config
	ledger    *ledger.Service
	inventory *inventory.Service
	evaluator Evaluator
	notifier  notify.Notifier
	enqueuer  task.Enqueuer
	now       func() time.Time

	submissions    repository.Repository[model.Submission]
	actionBindings repository.Repository[model.ActionBinding]
	definitions    repository.Repository[model.ActionDefinition]
	rewardBindings repository.Repository[model.RewardBinding]
	rewards        repository.Repository[model.Reward]
	events         repository.Repository[model.Event]
}

type ServiceParams struct {
	fx.In
	DB        *gorm.DB
	Node      *snowflake.Node
	Config    *config.Config
	Ledger    *ledger.Service
	Inventory *inventory.Service
	Triggers  *trigger.Service
	Notifier  notify.Notifier `optional:"true"`
	Enqueuer  task.Enqueuer   `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	notifier := p.Notifier
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	s := &Service{
		db:        p.DB,
		node:      p.Node,
		cfg:       p.Config,
		ledger:    p.Ledger,
		inventory: p.Inventory,
		notifier:  notifier,
		enqueuer:  p.Enqueuer,
		now:       time.Now,

		submissions:    repository.ProvideStore[model.Submission](p.DB),
		actionBindings: repository.ProvideStore[model.ActionBinding](p.DB),
		definitions:    repository.ProvideStore[model.ActionDefinition](p.DB),
		rewardBindings: repository.ProvideStore[model.RewardBinding](p.DB),
		rewards:        repository.ProvideStore[model.Reward](p.DB),
		events:         repository.ProvideStore[model.Event](p.DB),
	}
	if p.Triggers != nil {
		s.evaluator = p.Triggers
	}
	return s
}

// Submit validates and records one submission, credits its points and grants
// the binding's direct reward in a single transaction. Trigger evaluation runs
// after commit; its failure never undoes the submission.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	ctx, span := tracer.Start(ctx, "submission.Submit")
	defer span.End()
	log := logger.FromContext(ctx,
		zap.String("participant_id", req.ParticipantID),
		zap.String("binding_id", req.BindingID),
	)

	if req.ParticipantID == "" {
		return nil, ErrParticipantRequired
	}
	if req.BindingID == "" {
		return nil, ErrBindingNotFound
	}

	var (
		res        = &SubmitResult{}
		actionName string
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		binding, err := s.actionBindings.WithTrx(tx).FindByID(ctx, req.BindingID)
		if err != nil {
			return errutil.Storage("failed to load binding", err)
		}
		if binding == nil {
			return ErrBindingNotFound
		}

		def, err := s.definitions.WithTrx(tx).FindByID(ctx, binding.ActionDefinitionID)
		if err != nil {
			return errutil.Storage("failed to load action", err)
		}
		if def == nil {
			return ErrBindingNotFound
		}
		if !def.IsActive {
			return ErrActionInactive
		}
		actionName = def.Name

		evt, err := s.events.WithTrx(tx).FindByID(ctx, binding.EventID)
		if err != nil {
			return errutil.Storage("failed to load event", err)
		}
		if !event.AllowsSubmissions(evt, binding.IsAllowedDuringVisible || s.cfg.Engine.AllowSubmissionsWhileVisible) {
			return ErrEventClosed
		}

		var uniqueKey *string
		if !binding.IsRepeatable {
			n, err := s.submissions.WithTrx(tx).Count(ctx, &model.Submission{
				ParticipantID:   req.ParticipantID,
				ActionBindingID: &binding.ID,
			})
			if err != nil {
				return errutil.Storage("failed to count submissions", err)
			}
			if n > 0 {
				return ErrAlreadySubmitted
			}
			k := model.SubmissionUniqueKey(req.ParticipantID, binding.ID)
			uniqueKey = &k
		}

		payload, numeric, err := validateFields(def.FieldKinds, req.Fields)
		if err != nil {
			return err
		}

		points, err := computePoints(binding, numeric)
		if err != nil {
			return err
		}

		sub := &model.Submission{
			ID:              s.node.Generate().String(),
			ParticipantID:   req.ParticipantID,
			EventID:         evt.ID,
			ActionBindingID: &binding.ID,
			RewardBindingID: binding.RewardBindingID,
			UniqueKey:       uniqueKey,
			Fields:          datatypes.NewJSONType(payload),
			SubItems:        datatypes.JSONSlice[model.SubItem](req.SubItems),
			PointsAwarded:   points,
			CreatedAt:       s.now(),
		}
		if err := s.submissions.WithTrx(tx).Create(ctx, sub); err != nil {
			if errutil.IsUniqueViolation(err) {
				return ErrAlreadySubmitted
			}
			return errutil.Storage("failed to create submission", err)
		}
		res.Submission = sub
		res.PointsAwarded = points

		if points > 0 {
			if _, err := s.ledger.WithTrx(tx).Credit(ctx, ledger.CreditParams{
				ParticipantID: req.ParticipantID,
				Amount:        points,
				EventID:       evt.ID,
				ReferenceID:   sub.ID,
				Description:   def.Name,
				Metadata:      map[string]any{"action_binding_id": binding.ID},
			}); err != nil {
				return err
			}
		}

		if binding.RewardBindingID != nil {
			name, err := s.grantDirectReward(ctx, tx, req.ParticipantID, *binding.RewardBindingID)
			if err != nil {
				return err
			}
			res.RewardName = name
		}
		return nil
	})
	if err != nil {
		if errutil.IsConflict(err) {
			submissionsTotal.WithLabelValues(outcomeAlreadyDone).Inc()
			log.Info("submission already recorded")
			return nil, err
		}
		submissionsTotal.WithLabelValues(string(errutil.StatusOf(err))).Inc()
		log.Warn("submission rejected", zap.Error(err))
		return nil, err
	}
	submissionsTotal.WithLabelValues("accepted").Inc()

	traceID := span.SpanContext().TraceID().String()
	s.notifier.SubmissionConfirmed(ctx, notify.SubmissionNotice{
		ParticipantID: req.ParticipantID,
		EventID:       res.Submission.EventID,
		SubmissionID:  res.Submission.ID,
		ActionName:    actionName,
		PointsAwarded: res.PointsAwarded,
		RewardName:    res.RewardName,
		TraceID:       traceID,
	})

	res.GrantedTriggers = s.evaluate(ctx, log, res.Submission, traceID)
	log.Info("submission confirmed",
		zap.String("submission_id", res.Submission.ID),
		zap.Int64("points", res.PointsAwarded),
		zap.Int("grants", len(res.GrantedTriggers)),
	)
	return res, nil
}

// grantDirectReward returns the reward name only when a unit was actually added.
func (s *Service) grantDirectReward(ctx context.Context, tx *gorm.DB, participantID, rewardBindingID string) (*string, error) {
	rb, err := s.rewardBindings.WithTrx(tx).FindByID(ctx, rewardBindingID)
	if err != nil {
		return nil, errutil.Storage("failed to load reward binding", err)
	}
	if rb == nil {
		return nil, nil
	}

	granted, err := s.inventory.WithTrx(tx).GrantReward(ctx, participantID, rb.RewardID)
	if err != nil {
		return nil, err
	}
	if !granted.Granted && !granted.Reward.IsStackable {
		return nil, nil
	}
	name := granted.Reward.Name
	return &name, nil
}

func (s *Service) evaluate(ctx context.Context, log *zap.Logger, sub *model.Submission, traceID string) []trigger.Grant {
	if s.evaluator == nil {
		return nil
	}
	grants, err := s.evaluator.Evaluate(ctx, sub.ParticipantID, sub.EventID, sub)
	if err == nil {
		return grants
	}

	log.Error("trigger evaluation failed", zap.Error(err))
	if s.enqueuer == nil {
		return nil
	}
	t, err := trigger.NewEvaluateTask(trigger.EvaluatePayload{
		ParticipantID: sub.ParticipantID,
		EventID:       sub.EventID,
		SubmissionID:  sub.ID,
		TraceID:       traceID,
	})
	if err != nil {
		log.Error("failed to build catch-up task", zap.Error(err))
		return nil
	}
	if _, err := s.enqueuer.Enqueue(ctx, t); err != nil {
		log.Error("failed to enqueue catch-up task", zap.Error(err))
	}
	return nil
}

func (s *Service) GetSubmission(ctx context.Context, id string) (*model.Submission, error) {
	sub, err := s.submissions.FindByID(ctx, id)
	if err != nil {
		return nil, errutil.Storage("failed to load submission", err)
	}
	if sub == nil {
		return nil, errutil.NotFound("submission not found", nil)
	}
	return sub, nil
}

func (s *Service) ListSubmissions(ctx context.Context, req ListSubmissionsRequest) (*ListSubmissionsResponse, error) {
	if req.ParticipantID == "" {
		return nil, ErrParticipantRequired
	}

	subs, err := s.submissions.Find(ctx,
		&model.Submission{ParticipantID: req.ParticipantID, EventID: req.EventID},
		option.ApplyPagination(req.Pagination),
	)
	if err != nil {
		return nil, errutil.Storage("failed to list submissions", err)
	}

	subs, info := pagination.Page(subs, req.Pagination, func(s *model.Submission) string { return s.ID })
	return &ListSubmissionsResponse{Submissions: subs, PageInfo: info}, nil
}
