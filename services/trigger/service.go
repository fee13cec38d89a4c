package trigger

import (
	"context"
	"strings"
	"time"

	"smallbiznis-engagement/pkg/celengine"
	"smallbiznis-engagement/pkg/config"
	"smallbiznis-engagement/pkg/db/option"
	"smallbiznis-engagement/pkg/errutil"
	"smallbiznis-engagement/pkg/logger"
	"smallbiznis-engagement/pkg/repository"
	"smallbiznis-engagement/services/catalog"
	"smallbiznis-engagement/services/event"
	"smallbiznis-engagement/services/inventory"
	"smallbiznis-engagement/services/ledger"
	"smallbiznis-engagement/services/model"
	"smallbiznis-engagement/services/notify"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("smallbiznis-engagement/services/trigger")

var ErrTriggerNotFound = errutil.NotFound("trigger not found", nil)

type Service struct {
	db        *gorm.DB
	node      *snowflake.Node
	cfg       *config.Config
	events    *event.Service
	ledger    *ledger.Service
	inventory *inventory.Service
	notifier  notify.Notifier
	cache     *Cache
	now       func() time.Time

	triggers       repository.Repository[model.Trigger]
	grantLogs      repository.Repository[model.GrantLog]
	submissions    repository.Repository[model.Submission]
	actionBindings repository.Repository[model.ActionBinding]
	rewardBindings repository.Repository[model.RewardBinding]
	rewards        repository.Repository[model.Reward]
	audits         repository.Repository[model.CatalogAuditLog]
}

type ServiceParams struct {
	fx.In
	DB        *gorm.DB
	Node      *snowflake.Node
	Config    *config.Config
	Events    *event.Service
	Ledger    *ledger.Service
	Inventory *inventory.Service
	Notifier  notify.Notifier `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	notifier := p.Notifier
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	return &Service{
		db:        p.DB,
		node:      p.Node,
		cfg:       p.Config,
		events:    p.Events,
		ledger:    p.Ledger,
		inventory: p.Inventory,
		notifier:  notifier,
		cache:     NewCache(p.Config.Engine.TriggerCacheTTL),
		now:       time.Now,

		triggers:       repository.ProvideStore[model.Trigger](p.DB),
		grantLogs:      repository.ProvideStore[model.GrantLog](p.DB),
		submissions:    repository.ProvideStore[model.Submission](p.DB),
		actionBindings: repository.ProvideStore[model.ActionBinding](p.DB),
		rewardBindings: repository.ProvideStore[model.RewardBinding](p.DB),
		rewards:        repository.ProvideStore[model.Reward](p.DB),
		audits:         repository.ProvideStore[model.CatalogAuditLog](p.DB),
	}
}

func (s *Service) CreateTrigger(ctx context.Context, req CreateTriggerRequest) (*model.Trigger, error) {
	ctx, span := tracer.Start(ctx, "trigger.CreateTrigger")
	defer span.End()

	if req.ActorID == "" {
		return nil, event.ErrActorRequired
	}
	spec, err := ParseSpec(req.Kind, req.Config)
	if err != nil {
		return nil, err
	}
	if req.EventID == "" && !IsGlobalKind(req.Kind) {
		return nil, errutil.Validation(string(req.Kind)+" triggers must belong to an event", errutil.Detail{Field: "event_id", Message: "required"})
	}

	hasPoints := req.PointsGranted != nil
	hasReward := req.RewardBindingID != nil && *req.RewardBindingID != ""
	if hasPoints == hasReward {
		return nil, errutil.Validation("exactly one of points_granted and reward_binding_id is required",
			errutil.Detail{Field: "points_granted", Message: "exactly one"},
			errutil.Detail{Field: "reward_binding_id", Message: "exactly one"})
	}
	if hasPoints && *req.PointsGranted <= 0 {
		return nil, errutil.Validation("points must be greater than 0", errutil.Detail{Field: "points_granted", Message: "must be > 0"})
	}

	condition := strings.TrimSpace(req.Condition)
	if condition != "" {
		env, err := celengine.GetOrBuildEnv(newEvalContext("", "").Attributes())
		if err != nil {
			return nil, errutil.Internal("failed to build condition environment", err)
		}
		if err := celengine.ValidateExpression(env, condition); err != nil {
			return nil, errutil.Validation("invalid condition", errutil.Detail{Field: "condition", Message: err.Error()})
		}
	}

	now := s.now()
	t := &model.Trigger{
		ID:            s.node.Generate().String(),
		Kind:          req.Kind,
		Config:        datatypes.JSON(mustJSON(spec)),
		Condition:     condition,
		PointsGranted: req.PointsGranted,
		CreatedBy:     req.ActorID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if hasReward {
		id := *req.RewardBindingID
		t.RewardBindingID = &id
	}
	if req.EventID != "" {
		id := req.EventID
		t.EventID = &id
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		forced := false
		if t.EventID != nil {
			evt, err := s.events.GetEventTx(ctx, tx, *t.EventID)
			if err != nil {
				return err
			}
			forced, err = s.events.Guard(ctx, tx, event.GuardRequest{
				Event:             evt,
				ActorID:           req.ActorID,
				Operation:         OpCreateTrigger,
				Force:             req.Force,
				ConfirmationToken: req.ConfirmationToken,
			})
			if err != nil {
				return err
			}
		}

		if err := s.checkReferences(ctx, tx, t, spec); err != nil {
			return err
		}
		if err := s.triggers.WithTrx(tx).Create(ctx, t); err != nil {
			return errutil.FromDB("failed to create trigger", err)
		}
		return s.audit(ctx, tx, t, OpCreateTrigger, req.Mutation, forced, nil, t)
	})
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(cacheKey(t.EventID))
	logger.FromContext(ctx).Info("trigger created",
		zap.String("trigger_id", t.ID), zap.String("kind", string(t.Kind)), zap.String("label", spec.Label()))
	return t, nil
}

// checkReferences validates the reward binding and, for binding-repeat
// triggers, the action binding a trigger points at.
func (s *Service) checkReferences(ctx context.Context, tx *gorm.DB, t *model.Trigger, spec Spec) error {
	if t.RewardBindingID != nil {
		rb, err := s.rewardBindings.WithTrx(tx).FindByID(ctx, *t.RewardBindingID)
		if err != nil {
			return errutil.Storage("failed to load reward binding", err)
		}
		if rb == nil {
			return errutil.Validation("reward binding not found", errutil.Detail{Field: "reward_binding_id", Message: *t.RewardBindingID})
		}
		if rb.Availability != model.AvailabilityOnTrigger {
			return errutil.Validation("reward binding is not available on-trigger", errutil.Detail{Field: "reward_binding_id", Message: string(rb.Availability)})
		}
		if t.EventID != nil && rb.EventID != *t.EventID {
			return errutil.Validation("reward binding belongs to another event", errutil.Detail{Field: "reward_binding_id", Message: rb.EventID})
		}
	}

	if nb, ok := spec.(*NamedBindingRepeat); ok {
		ab, err := s.actionBindings.WithTrx(tx).FindByID(ctx, nb.ActionBindingID)
		if err != nil {
			return errutil.Storage("failed to load action binding", err)
		}
		if ab == nil || t.EventID == nil || ab.EventID != *t.EventID {
			return errutil.Validation("action binding not found in this event", errutil.Detail{Field: "config.action_binding_id", Message: nb.ActionBindingID})
		}
	}
	return nil
}

func (s *Service) DeleteTrigger(ctx context.Context, req DeleteTriggerRequest) error {
	ctx, span := tracer.Start(ctx, "trigger.DeleteTrigger")
	defer span.End()

	if req.ActorID == "" {
		return event.ErrActorRequired
	}

	var eventID *string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := s.triggers.WithTrx(tx).FindByID(ctx, req.TriggerID, option.WithLockingUpdate())
		if err != nil {
			return errutil.Storage("failed to load trigger", err)
		}
		if t == nil {
			return ErrTriggerNotFound
		}
		eventID = t.EventID

		forced := false
		if t.EventID != nil {
			evt, err := s.events.GetEventTx(ctx, tx, *t.EventID)
			if err != nil {
				return err
			}
			forced, err = s.events.Guard(ctx, tx, event.GuardRequest{
				Event:             evt,
				ActorID:           req.ActorID,
				Operation:         OpDeleteTrigger,
				Force:             req.Force,
				ConfirmationToken: req.ConfirmationToken,
			})
			if err != nil {
				return err
			}
		}

		if err := tx.Delete(&model.Trigger{}, "id = ?", t.ID).Error; err != nil {
			return errutil.Storage("failed to delete trigger", err)
		}
		return s.audit(ctx, tx, t, OpDeleteTrigger, req.Mutation, forced, t, nil)
	})
	if err != nil {
		return err
	}

	s.cache.Invalidate(cacheKey(eventID))
	return nil
}

// ListTriggers returns the event's triggers, or the global ones for an empty id.
func (s *Service) ListTriggers(ctx context.Context, eventID string) ([]*model.Trigger, error) {
	opts := []option.QueryOption{option.WithSortBy(option.QuerySortBy{SortBy: "created_at"})}
	if eventID == "" {
		opts = append(opts, option.WithNull("event_id"))
	} else {
		opts = append(opts, option.ApplyOperator(option.Condition{Field: "event_id", Operator: option.EQ, Value: eventID}))
	}
	out, err := s.triggers.Find(ctx, &model.Trigger{}, opts...)
	if err != nil {
		return nil, errutil.Storage("failed to list triggers", err)
	}
	return out, nil
}

// Label renders the notification text of a stored trigger.
func Label(t *model.Trigger) string {
	spec, err := ParseSpec(t.Kind, t.Config)
	if err != nil {
		return string(t.Kind)
	}
	return spec.Label()
}

func (s *Service) audit(ctx context.Context, tx *gorm.DB, t *model.Trigger, operation string, m catalog.Mutation, forced bool, before, after any) error {
	eventID := ""
	if t.EventID != nil {
		eventID = *t.EventID
	}
	entry := &model.CatalogAuditLog{
		ID:         s.node.Generate().String(),
		EventID:    eventID,
		ActorID:    m.ActorID,
		Operation:  operation,
		EntityType: "trigger",
		EntityID:   t.ID,
		Reason:     m.Reason,
		Forced:     forced,
		Before:     jsonOrNil(before),
		After:      jsonOrNil(after),
		CreatedAt:  s.now(),
	}
	if err := s.audits.WithTrx(tx).Create(ctx, entry); err != nil {
		return errutil.Storage("failed to write catalog audit log", err)
	}
	return nil
}

func cacheKey(eventID *string) string {
	if eventID == nil {
		return globalKey
	}
	return *eventID
}
