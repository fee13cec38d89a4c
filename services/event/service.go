package event

import (
	"context"
	"strings"
	"time"

	"smallbiznis-engagement/pkg/config"
	"smallbiznis-engagement/pkg/db/option"
	"smallbiznis-engagement/pkg/db/pagination"
	"smallbiznis-engagement/pkg/errutil"
	"smallbiznis-engagement/pkg/logger"
	"smallbiznis-engagement/pkg/repository"
	"smallbiznis-engagement/pkg/sequence"
	"smallbiznis-engagement/pkg/util"
	"smallbiznis-engagement/services/model"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("smallbiznis-engagement/services/event")

var (
	ErrEventNotFound   = errutil.NotFound("event not found", nil)
	ErrActorRequired   = errutil.Validation("actor is required", errutil.Detail{Field: "actor_id", Message: "required"})
	ErrEventIDRequired = errutil.Validation("event id is required", errutil.Detail{Field: "event_id", Message: "required"})
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	seq  sequence.Generator
	cfg  *config.Config
	now  func() time.Time

	events        repository.Repository[model.Event]
	transitions   repository.Repository[model.EventTransitionLog]
	confirmations repository.Repository[model.ForceConfirmation]
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Config   *config.Config
	Sequence sequence.Generator `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,
		seq:  p.Sequence,
		cfg:  p.Config,
		now:  time.Now,

		events:        repository.ProvideStore[model.Event](p.DB),
		transitions:   repository.ProvideStore[model.EventTransitionLog](p.DB),
		confirmations: repository.ProvideStore[model.ForceConfirmation](p.DB),
	}
}

func (s *Service) CreateEvent(ctx context.Context, req CreateEventRequest) (*model.Event, error) {
	ctx, span := tracer.Start(ctx, "event.CreateEvent")
	defer span.End()
	log := logger.FromContext(ctx)

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, errutil.Validation("name is required", errutil.Detail{Field: "name", Message: "required"})
	}
	if req.ActorID == "" {
		return nil, ErrActorRequired
	}

	id := s.node.Generate().String()
	code := "EVT-" + id
	if s.seq != nil {
		c, err := s.seq.NextEventCode(ctx)
		if err != nil {
			log.Warn("sequence unavailable, falling back to id based code", zap.Error(err))
		} else {
			code = c
		}
	}

	evt := &model.Event{
		ID:        id,
		Code:      code,
		Name:      name,
		Status:    model.EventStatusDraft,
		Priority:  req.Priority,
		CreatedBy: req.ActorID,
	}
	if err := s.events.Create(ctx, evt); err != nil {
		log.Error("failed to create event", zap.Error(err))
		return nil, errutil.FromDB("failed to create event", err)
	}

	log.Info("event created", zap.String("event_id", evt.ID), zap.String("code", evt.Code))
	return evt, nil
}

func (s *Service) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	return s.getEvent(ctx, s.db, id, false)
}

// GetEventTx loads an event inside tx, locking the row for update.
func (s *Service) GetEventTx(ctx context.Context, tx *gorm.DB, id string) (*model.Event, error) {
	return s.getEvent(ctx, tx, id, true)
}

func (s *Service) getEvent(ctx context.Context, db *gorm.DB, id string, lock bool) (*model.Event, error) {
	if id == "" {
		return nil, ErrEventIDRequired
	}
	var opts []option.QueryOption
	if lock {
		opts = append(opts, option.WithLockingUpdate())
	}
	evt, err := s.events.WithTrx(db).FindByID(ctx, id, opts...)
	if err != nil {
		return nil, errutil.Storage("failed to load event", err)
	}
	if evt == nil {
		return nil, ErrEventNotFound
	}
	return evt, nil
}

func (s *Service) ListEvents(ctx context.Context, req ListEventsRequest) (*ListEventsResponse, error) {
	if req.Status != "" && !req.Status.Valid() {
		return nil, errutil.Validation("unknown status", errutil.Detail{Field: "status", Message: string(req.Status)})
	}

	events, err := s.events.Find(ctx, &model.Event{Status: req.Status}, option.ApplyPagination(req.Pagination))
	if err != nil {
		return nil, errutil.Storage("failed to list events", err)
	}

	events, pageInfo := pagination.Page(events, req.Pagination, func(e *model.Event) string { return e.ID })

	return &ListEventsResponse{Events: events, PageInfo: pageInfo}, nil
}

func (s *Service) SetDisplayReference(ctx context.Context, req SetDisplayReferenceRequest) (*model.Event, error) {
	ctx, span := tracer.Start(ctx, "event.SetDisplayReference")
	defer span.End()

	if req.ActorID == "" {
		return nil, ErrActorRequired
	}
	var details []errutil.Detail
	if strings.TrimSpace(req.ChannelID) == "" {
		details = append(details, errutil.Detail{Field: "channel_id", Message: "required"})
	}
	if strings.TrimSpace(req.MessageID) == "" {
		details = append(details, errutil.Detail{Field: "message_id", Message: "required"})
	}
	if len(details) > 0 {
		return nil, errutil.Validation("display reference is incomplete", details...)
	}

	var out *model.Event
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		evt, err := s.GetEventTx(ctx, tx, req.EventID)
		if err != nil {
			return err
		}
		if evt.Status == model.EventStatusArchived {
			return errutil.State("event is archived")
		}

		if err := s.events.WithTrx(tx).Update(ctx, evt.ID, map[string]any{
			"display_channel_id": req.ChannelID,
			"display_message_id": req.MessageID,
			"updated_at":         s.now(),
		}); err != nil {
			return errutil.Storage("failed to update display reference", err)
		}

		evt.DisplayChannelID = &req.ChannelID
		evt.DisplayMessageID = &req.MessageID
		out = evt
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Transition moves an event along the lifecycle graph and records the move.
func (s *Service) Transition(ctx context.Context, req TransitionRequest) (*model.Event, error) {
	ctx, span := tracer.Start(ctx, "event.Transition")
	defer span.End()
	log := logger.FromContext(ctx, zap.String("event_id", req.EventID), zap.String("to", string(req.To)))

	if req.ActorID == "" {
		return nil, ErrActorRequired
	}
	if !req.To.Valid() {
		return nil, errutil.Validation("unknown target status", errutil.Detail{Field: "to", Message: string(req.To)})
	}

	var out *model.Event
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		evt, err := s.GetEventTx(ctx, tx, req.EventID)
		if err != nil {
			return err
		}

		from := evt.Status
		if !isTransitionAllowed(from, req.To) {
			return errutil.State("transition not allowed",
				errutil.Detail{Field: "from", Message: string(from)},
				errutil.Detail{Field: "to", Message: string(req.To)},
			)
		}
		if from == model.EventStatusDraft && req.To == model.EventStatusVisible && !evt.HasDisplayReference() {
			return errutil.Validation("display reference is required before the event becomes visible",
				errutil.Detail{Field: "display_reference", Message: "required"})
		}

		now := s.now()
		if err := s.events.WithTrx(tx).Update(ctx, evt.ID, map[string]any{
			"status":     req.To,
			"updated_at": now,
		}); err != nil {
			return errutil.Storage("failed to update event status", err)
		}

		if err := s.transitions.WithTrx(tx).Create(ctx, &model.EventTransitionLog{
			ID:         s.node.Generate().String(),
			EventID:    evt.ID,
			ActorID:    req.ActorID,
			FromStatus: from,
			ToStatus:   req.To,
			Reason:     req.Reason,
			CreatedAt:  now,
		}); err != nil {
			return errutil.Storage("failed to write transition log", err)
		}

		evt.Status = req.To
		evt.UpdatedAt = now
		out = evt
		return nil
	})
	if err != nil {
		if errutil.IsStorage(err) {
			log.Error("transition failed", zap.Error(err))
		}
		return nil, err
	}

	log.Info("event transitioned", zap.String("actor_id", req.ActorID))
	return out, nil
}

func (s *Service) ListTransitions(ctx context.Context, eventID string) ([]*model.EventTransitionLog, error) {
	logs, err := s.transitions.Find(ctx, &model.EventTransitionLog{EventID: eventID},
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "asc"}))
	if err != nil {
		return nil, errutil.Storage("failed to list transitions", err)
	}
	return logs, nil
}

// DeleteEvent removes a Draft or Archived event with its bindings and triggers.
// Historical rows survive with their binding references nulled.
func (s *Service) DeleteEvent(ctx context.Context, req DeleteEventRequest) error {
	ctx, span := tracer.Start(ctx, "event.DeleteEvent")
	defer span.End()
	log := logger.FromContext(ctx, zap.String("event_id", req.EventID))

	if req.ActorID == "" {
		return ErrActorRequired
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		evt, err := s.GetEventTx(ctx, tx, req.EventID)
		if err != nil {
			return err
		}
		if evt.Status == model.EventStatusVisible || evt.Status == model.EventStatusActive {
			return errutil.State("event cannot be deleted while " + string(evt.Status))
		}

		var actionIDs, rewardIDs []string
		if err := tx.Model(&model.ActionBinding{}).Where("event_id = ?", evt.ID).Pluck("id", &actionIDs).Error; err != nil {
			return errutil.Storage("failed to load action bindings", err)
		}
		if err := tx.Model(&model.RewardBinding{}).Where("event_id = ?", evt.ID).Pluck("id", &rewardIDs).Error; err != nil {
			return errutil.Storage("failed to load reward bindings", err)
		}

		if err := DetachActionBindings(tx, actionIDs...); err != nil {
			return err
		}
		if err := DetachRewardBindings(tx, rewardIDs...); err != nil {
			return err
		}

		steps := []struct {
			name  string
			model any
		}{
			{"triggers", &model.Trigger{}},
			{"action bindings", &model.ActionBinding{}},
			{"reward bindings", &model.RewardBinding{}},
			{"force confirmations", &model.ForceConfirmation{}},
		}
		for _, step := range steps {
			if err := tx.Where("event_id = ?", evt.ID).Delete(step.model).Error; err != nil {
				return errutil.Storage("failed to delete "+step.name, err)
			}
		}

		if err := tx.Delete(&model.Event{}, "id = ?", evt.ID).Error; err != nil {
			return errutil.Storage("failed to delete event", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Info("event deleted", zap.String("actor_id", req.ActorID), zap.String("reason", req.Reason))
	return nil
}

// DetachActionBindings nulls every historical reference to the given action bindings.
func DetachActionBindings(tx *gorm.DB, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := tx.Model(&model.Submission{}).Where("action_binding_id IN ?", ids).
		Update("action_binding_id", nil).Error; err != nil {
		return errutil.Storage("failed to detach submissions", err)
	}
	return nil
}

// DetachRewardBindings nulls every reference to the given reward bindings
// on action bindings, triggers, grant logs and submissions.
func DetachRewardBindings(tx *gorm.DB, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	for _, m := range []any{&model.ActionBinding{}, &model.Trigger{}, &model.GrantLog{}, &model.Submission{}} {
		if err := tx.Model(m).Where("reward_binding_id IN ?", ids).
			Update("reward_binding_id", nil).Error; err != nil {
			return errutil.Storage("failed to detach reward binding references", err)
		}
	}
	return nil
}

// RequestForce records the first step of a forced mutation and returns its token.
func (s *Service) RequestForce(ctx context.Context, req ForceRequest) (*model.ForceConfirmation, error) {
	ctx, span := tracer.Start(ctx, "event.RequestForce")
	defer span.End()

	if req.ActorID == "" {
		return nil, ErrActorRequired
	}
	if strings.TrimSpace(req.Reason) == "" {
		return nil, errutil.Validation("reason is required for a forced change", errutil.Detail{Field: "reason", Message: "required"})
	}

	evt, err := s.GetEvent(ctx, req.EventID)
	if err != nil {
		return nil, err
	}
	if evt.Status != model.EventStatusActive {
		return nil, errutil.State("only active events need a forced confirmation")
	}

	now := s.now()
	ttl := s.cfg.Engine.ForceTokenTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	fc := &model.ForceConfirmation{
		ID:        util.RandomToken(16),
		EventID:   evt.ID,
		ActorID:   req.ActorID,
		Operation: req.Operation,
		Reason:    req.Reason,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	if err := s.confirmations.Create(ctx, fc); err != nil {
		return nil, errutil.Storage("failed to record force confirmation", err)
	}

	logger.FromContext(ctx).Warn("force confirmation requested",
		zap.String("event_id", evt.ID), zap.String("actor_id", req.ActorID), zap.String("operation", req.Operation))
	return fc, nil
}

// Guard decides whether a catalog mutation may proceed against req.Event inside tx.
// It returns forced=true when an Active event was overridden with a confirmed token,
// which is consumed in the same transaction.
func (s *Service) Guard(ctx context.Context, tx *gorm.DB, req GuardRequest) (bool, error) {
	if req.Event == nil {
		return false, ErrEventNotFound
	}

	if AllowsCatalogMutation(req.Event.Status) {
		return false, nil
	}
	switch req.Event.Status {
	case model.EventStatusArchived:
		return false, errutil.State("event is archived")
	case model.EventStatusActive:
	default:
		return false, errutil.State("unknown event status")
	}

	if !req.Force {
		return false, errutil.State("event is active; catalog changes require force and confirmation")
	}
	if req.ConfirmationToken == "" {
		return false, errutil.State("forced change requires a confirmation token",
			errutil.Detail{Field: "confirmation_token", Message: "required"})
	}

	fc, err := s.confirmations.WithTrx(tx).FindByID(ctx, req.ConfirmationToken)
	if err != nil {
		return false, errutil.Storage("failed to load force confirmation", err)
	}
	if fc == nil || fc.EventID != req.Event.ID || fc.ActorID != req.ActorID {
		return false, errutil.State("confirmation token does not match this event and actor")
	}
	if fc.Operation != "" && req.Operation != "" && fc.Operation != req.Operation {
		return false, errutil.State("confirmation token was issued for another operation")
	}
	now := s.now()
	if fc.ConsumedAt != nil {
		return false, errutil.State("confirmation token already used")
	}
	if now.After(fc.ExpiresAt) {
		return false, errutil.State("confirmation token expired")
	}

	res := tx.WithContext(ctx).Model(&model.ForceConfirmation{}).
		Where("id = ? AND consumed_at IS NULL", fc.ID).
		Update("consumed_at", now)
	if res.Error != nil {
		return false, errutil.Storage("failed to consume force confirmation", res.Error)
	}
	if res.RowsAffected != 1 {
		return false, errutil.State("confirmation token already used")
	}

	logger.FromContext(ctx).Warn("forced catalog change",
		zap.String("event_id", req.Event.ID), zap.String("actor_id", req.ActorID), zap.String("operation", req.Operation))
	return true, nil
}
