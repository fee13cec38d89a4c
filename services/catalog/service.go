package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"smallbiznis-engagement/pkg/db/option"
	"smallbiznis-engagement/pkg/errutil"
	"smallbiznis-engagement/pkg/logger"
	"smallbiznis-engagement/pkg/repository"
	"smallbiznis-engagement/services/event"
	"smallbiznis-engagement/services/model"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("smallbiznis-engagement/services/catalog")

var (
	ErrActionDefinitionNotFound = errutil.NotFound("action definition not found", nil)
	ErrRewardNotFound           = errutil.NotFound("reward not found", nil)
	ErrActionBindingNotFound    = errutil.NotFound("action binding not found", nil)
	ErrRewardBindingNotFound    = errutil.NotFound("reward binding not found", nil)
	ErrReferencedInHistory      = errutil.State("referenced in history")
)

type Service struct {
	db     *gorm.DB
	node   *snowflake.Node
	events *event.Service
	now    func() time.Time

	definitions    repository.Repository[model.ActionDefinition]
	rewards        repository.Repository[model.Reward]
	actionBindings repository.Repository[model.ActionBinding]
	rewardBindings repository.Repository[model.RewardBinding]
	audits         repository.Repository[model.CatalogAuditLog]
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Node   *snowflake.Node
	Events *event.Service
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:     p.DB,
		node:   p.Node,
		events: p.Events,
		now:    time.Now,

		definitions:    repository.ProvideStore[model.ActionDefinition](p.DB),
		rewards:        repository.ProvideStore[model.Reward](p.DB),
		actionBindings: repository.ProvideStore[model.ActionBinding](p.DB),
		rewardBindings: repository.ProvideStore[model.RewardBinding](p.DB),
		audits:         repository.ProvideStore[model.CatalogAuditLog](p.DB),
	}
}

func (s *Service) CreateActionDefinition(ctx context.Context, req CreateActionDefinitionRequest) (*model.ActionDefinition, error) {
	ctx, span := tracer.Start(ctx, "catalog.CreateActionDefinition")
	defer span.End()

	key := NormalizeKey(req.Key)
	var details []errutil.Detail
	if key == "" {
		details = append(details, errutil.Detail{Field: "key", Message: "required"})
	}
	if strings.TrimSpace(req.Name) == "" {
		details = append(details, errutil.Detail{Field: "name", Message: "required"})
	}

	kinds := make([]model.FieldKind, 0, len(req.FieldKinds))
	seen := make(map[model.FieldKind]bool, len(req.FieldKinds))
	for _, k := range req.FieldKinds {
		if !k.Valid() {
			details = append(details, errutil.Detail{Field: "field_kinds", Message: "unknown kind " + string(k)})
			continue
		}
		if !seen[k] {
			seen[k] = true
			kinds = append(kinds, k)
		}
	}
	if len(details) > 0 {
		return nil, errutil.Validation("invalid action definition", details...)
	}

	existing, err := s.definitions.FindOne(ctx, &model.ActionDefinition{Key: key})
	if err != nil {
		return nil, errutil.Storage("failed to check action key", err)
	}
	if existing != nil {
		return nil, alreadyLinked("action key already exists", existing.ID)
	}

	now := s.now()
	def := &model.ActionDefinition{
		ID:          s.node.Generate().String(),
		Key:         key,
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		IsActive:    true,
		FieldKinds:  datatypes.NewJSONSlice(kinds),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.definitions.Create(ctx, def); err != nil {
		return nil, errutil.FromDB("failed to create action definition", err)
	}
	return def, nil
}

func (s *Service) GetActionDefinition(ctx context.Context, id string) (*model.ActionDefinition, error) {
	def, err := s.definitions.FindByID(ctx, id)
	if err != nil {
		return nil, errutil.Storage("failed to load action definition", err)
	}
	if def == nil {
		return nil, ErrActionDefinitionNotFound
	}
	return def, nil
}

func (s *Service) ListActionDefinitions(ctx context.Context) ([]*model.ActionDefinition, error) {
	defs, err := s.definitions.Find(ctx, &model.ActionDefinition{}, option.WithSortBy(option.QuerySortBy{SortBy: "created_at"}))
	if err != nil {
		return nil, errutil.Storage("failed to list action definitions", err)
	}
	return defs, nil
}

// DeprecateActionDefinition retires an action. When submissions reference any of
// its bindings the row is kept, deactivated and renamed to key~vN so the key can
// be reused; otherwise it is deleted together with its bindings.
func (s *Service) DeprecateActionDefinition(ctx context.Context, req DeprecateActionDefinitionRequest) (*DeprecateActionDefinitionResult, error) {
	ctx, span := tracer.Start(ctx, "catalog.DeprecateActionDefinition")
	defer span.End()
	log := logger.FromContext(ctx, zap.String("action_definition_id", req.ID))

	if req.ActorID == "" {
		return nil, event.ErrActorRequired
	}

	var res *DeprecateActionDefinitionResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		def, err := s.definitions.WithTrx(tx).FindByID(ctx, req.ID, option.WithLockingUpdate())
		if err != nil {
			return errutil.Storage("failed to load action definition", err)
		}
		if def == nil {
			return ErrActionDefinitionNotFound
		}

		var bindingIDs []string
		if err := tx.Model(&model.ActionBinding{}).Where("action_definition_id = ?", def.ID).Pluck("id", &bindingIDs).Error; err != nil {
			return errutil.Storage("failed to load action bindings", err)
		}

		var referenced int64
		if len(bindingIDs) > 0 {
			if err := tx.Model(&model.Submission{}).Where("action_binding_id IN ?", bindingIDs).Count(&referenced).Error; err != nil {
				return errutil.Storage("failed to count submissions", err)
			}
		}

		if referenced == 0 {
			if len(bindingIDs) > 0 {
				if err := tx.Where("id IN ?", bindingIDs).Delete(&model.ActionBinding{}).Error; err != nil {
					return errutil.Storage("failed to delete action bindings", err)
				}
			}
			if err := tx.Delete(&model.ActionDefinition{}, "id = ?", def.ID).Error; err != nil {
				return errutil.Storage("failed to delete action definition", err)
			}
			res = &DeprecateActionDefinitionResult{Deleted: true}
			return nil
		}

		key, err := s.nextRetiredKey(ctx, tx, def.Key)
		if err != nil {
			return err
		}
		if err := s.definitions.WithTrx(tx).Update(ctx, def.ID, map[string]any{
			"key":        key,
			"is_active":  false,
			"updated_at": s.now(),
		}); err != nil {
			return errutil.FromDB("failed to deprecate action definition", err)
		}
		def.Key = key
		def.IsActive = false
		res = &DeprecateActionDefinitionResult{Definition: def}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info("action definition deprecated", zap.String("actor_id", req.ActorID), zap.Bool("deleted", res.Deleted))
	return res, nil
}

func (s *Service) nextRetiredKey(ctx context.Context, tx *gorm.DB, key string) (string, error) {
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s%sv%d", key, retiredSeparator, n)
		count, err := s.definitions.WithTrx(tx).Count(ctx, &model.ActionDefinition{Key: candidate})
		if err != nil {
			return "", errutil.Storage("failed to check retired key", err)
		}
		if count == 0 {
			return candidate, nil
		}
	}
}

func (s *Service) CreateReward(ctx context.Context, req CreateRewardRequest) (*model.Reward, error) {
	ctx, span := tracer.Start(ctx, "catalog.CreateReward")
	defer span.End()

	key := NormalizeKey(req.Key)
	var details []errutil.Detail
	if key == "" {
		details = append(details, errutil.Detail{Field: "key", Message: "required"})
	}
	if strings.TrimSpace(req.Name) == "" {
		details = append(details, errutil.Detail{Field: "name", Message: "required"})
	}
	if !req.Kind.Valid() {
		details = append(details, errutil.Detail{Field: "kind", Message: "unknown kind " + string(req.Kind)})
	}
	if len(details) > 0 {
		return nil, errutil.Validation("invalid reward", details...)
	}

	existing, err := s.rewards.FindOne(ctx, &model.Reward{Key: key})
	if err != nil {
		return nil, errutil.Storage("failed to check reward key", err)
	}
	if existing != nil {
		return nil, alreadyLinked("reward key already exists", existing.ID)
	}

	now := s.now()
	r := &model.Reward{
		ID:          s.node.Generate().String(),
		Key:         key,
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		Kind:        req.Kind,
		IsStackable: req.IsStackable,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.rewards.Create(ctx, r); err != nil {
		return nil, errutil.FromDB("failed to create reward", err)
	}
	return r, nil
}

// PublishReward records where a badge or preset was announced; only published
// rewards of those kinds can be linked to events.
func (s *Service) PublishReward(ctx context.Context, req PublishRewardRequest) (*model.Reward, error) {
	if strings.TrimSpace(req.MessageID) == "" {
		return nil, errutil.Validation("message id is required", errutil.Detail{Field: "message_id", Message: "required"})
	}

	r, err := s.rewards.FindByID(ctx, req.RewardID)
	if err != nil {
		return nil, errutil.Storage("failed to load reward", err)
	}
	if r == nil {
		return nil, ErrRewardNotFound
	}

	channelID, messageID := req.ChannelID, req.MessageID
	if err := s.rewards.Update(ctx, r.ID, map[string]any{
		"published_channel_id": channelID,
		"published_message_id": messageID,
		"updated_at":           s.now(),
	}); err != nil {
		return nil, errutil.Storage("failed to publish reward", err)
	}
	r.PublishedChannelID = &channelID
	r.PublishedMessageID = &messageID
	return r, nil
}

func (s *Service) ListRewards(ctx context.Context) ([]*model.Reward, error) {
	rewards, err := s.rewards.Find(ctx, &model.Reward{}, option.WithSortBy(option.QuerySortBy{SortBy: "created_at"}))
	if err != nil {
		return nil, errutil.Storage("failed to list rewards", err)
	}
	return rewards, nil
}

// guard loads the event locked inside tx and asks the lifecycle whether m may touch it.
func (s *Service) guard(ctx context.Context, tx *gorm.DB, eventID, operation string, m Mutation) (*model.Event, bool, error) {
	if m.ActorID == "" {
		return nil, false, event.ErrActorRequired
	}
	evt, err := s.events.GetEventTx(ctx, tx, eventID)
	if err != nil {
		return nil, false, err
	}
	forced, err := s.events.Guard(ctx, tx, event.GuardRequest{
		Event:             evt,
		ActorID:           m.ActorID,
		Operation:         operation,
		Force:             m.Force,
		ConfirmationToken: m.ConfirmationToken,
	})
	if err != nil {
		return nil, false, err
	}
	return evt, forced, nil
}

func (s *Service) audit(ctx context.Context, tx *gorm.DB, eventID, operation, entityType, entityID string, m Mutation, forced bool, before, after any) error {
	entry := &model.CatalogAuditLog{
		ID:         s.node.Generate().String(),
		EventID:    eventID,
		ActorID:    m.ActorID,
		Operation:  operation,
		EntityType: entityType,
		EntityID:   entityID,
		Reason:     m.Reason,
		Forced:     forced,
		Before:     toJSON(before),
		After:      toJSON(after),
		CreatedAt:  s.now(),
	}
	if err := s.audits.WithTrx(tx).Create(ctx, entry); err != nil {
		return errutil.Storage("failed to write catalog audit log", err)
	}

	fields := []zap.Field{
		zap.String("event_id", eventID),
		zap.String("operation", operation),
		zap.String("entity_id", entityID),
		zap.String("actor_id", m.ActorID),
	}
	if forced {
		logger.FromContext(ctx, fields...).Warn("forced catalog mutation")
	} else {
		logger.FromContext(ctx, fields...).Info("catalog mutation")
	}
	return nil
}

func (s *Service) ListAuditLogs(ctx context.Context, eventID string) ([]*model.CatalogAuditLog, error) {
	logs, err := s.audits.Find(ctx, &model.CatalogAuditLog{EventID: eventID}, option.WithSortBy(option.QuerySortBy{SortBy: "created_at"}))
	if err != nil {
		return nil, errutil.Storage("failed to list catalog audit logs", err)
	}
	return logs, nil
}

func toJSON(v any) datatypes.JSON {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}
