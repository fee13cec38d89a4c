package catalog

import (
	"context"
	"slices"

	"smallbiznis-engagement/pkg/db/option"
	"smallbiznis-engagement/pkg/errutil"
	"smallbiznis-engagement/services/event"
	"smallbiznis-engagement/services/model"

	"gorm.io/gorm"
)

func (s *Service) LinkAction(ctx context.Context, req LinkActionRequest) (*model.ActionBinding, error) {
	ctx, span := tracer.Start(ctx, "catalog.LinkAction")
	defer span.End()

	if req.ActionDefinitionID == "" {
		return nil, errutil.Validation("action is required", errutil.Detail{Field: "action_definition_id", Message: "required"})
	}
	if req.PointsBase < 0 {
		return nil, errutil.Validation("points must not be negative", errutil.Detail{Field: "points_base", Message: "must be >= 0"})
	}

	var binding *model.ActionBinding
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		evt, forced, err := s.guard(ctx, tx, req.EventID, OpLinkAction, req.Mutation)
		if err != nil {
			return err
		}

		def, err := s.definitions.WithTrx(tx).FindByID(ctx, req.ActionDefinitionID)
		if err != nil {
			return errutil.Storage("failed to load action definition", err)
		}
		if def == nil {
			return ErrActionDefinitionNotFound
		}
		if !def.IsActive {
			return errutil.State("action is not active", errutil.Detail{Field: "action_definition_id", Message: def.ID})
		}
		if err := checkMultiplier(def, req.IsNumericMultiplier); err != nil {
			return err
		}

		rewardBindingID, err := s.checkDirectReward(ctx, tx, evt.ID, req.RewardBindingID)
		if err != nil {
			return err
		}

		now := s.now()
		binding = &model.ActionBinding{
			ID:                     s.node.Generate().String(),
			EventID:                evt.ID,
			ActionDefinitionID:     def.ID,
			Variant:                req.Variant,
			CompositeKey:           ActionCompositeKey(evt.ID, def.Key, req.Variant),
			PointsBase:             req.PointsBase,
			IsNumericMultiplier:    req.IsNumericMultiplier,
			IsRepeatable:           req.IsRepeatable,
			IsSelfReportable:       req.IsSelfReportable,
			IsAllowedDuringVisible: req.IsAllowedDuringVisible,
			RewardBindingID:        rewardBindingID,
			CreatedAt:              now,
			UpdatedAt:              now,
		}
		if err := s.createActionBinding(ctx, tx, binding); err != nil {
			return err
		}

		return s.audit(ctx, tx, evt.ID, OpLinkAction, entityActionBinding, binding.ID, req.Mutation, forced, nil, binding)
	})
	if err != nil {
		return nil, err
	}
	return binding, nil
}

// createActionBinding inserts inside a savepoint so a lost race on the
// composite key can still be answered with the winner's id.
func (s *Service) createActionBinding(ctx context.Context, tx *gorm.DB, b *model.ActionBinding) error {
	existing, err := s.actionBindings.WithTrx(tx).FindOne(ctx, &model.ActionBinding{CompositeKey: b.CompositeKey})
	if err != nil {
		return errutil.Storage("failed to check composite key", err)
	}
	if existing != nil {
		return alreadyLinked("action already linked as "+existing.CompositeKey, existing.ID)
	}

	err = tx.Transaction(func(sp *gorm.DB) error {
		return s.actionBindings.WithTrx(sp).Create(ctx, b)
	})
	if err == nil {
		return nil
	}
	if errutil.IsUniqueViolation(err) {
		winner, ferr := s.actionBindings.WithTrx(tx).FindOne(ctx, &model.ActionBinding{CompositeKey: b.CompositeKey})
		if ferr == nil && winner != nil {
			return alreadyLinked("action already linked as "+winner.CompositeKey, winner.ID)
		}
	}
	return errutil.FromDB("failed to create action binding", err)
}

// checkMultiplier rejects a numeric multiplier on an action that never collects a numeric field.
func checkMultiplier(def *model.ActionDefinition, multiplier bool) error {
	if !multiplier || slices.Contains(def.FieldKinds, model.FieldKindNumeric) {
		return nil
	}
	return errutil.Validation("numeric multiplier needs a numeric field",
		errutil.Detail{Field: "is_numeric_multiplier", Message: "action " + def.Key + " has no numeric field"})
}

// checkDirectReward validates an optional reward binding attached to an action.
func (s *Service) checkDirectReward(ctx context.Context, tx *gorm.DB, eventID string, id *string) (*string, error) {
	if id == nil || *id == "" {
		return nil, nil
	}
	rb, err := s.rewardBindings.WithTrx(tx).FindByID(ctx, *id)
	if err != nil {
		return nil, errutil.Storage("failed to load reward binding", err)
	}
	if rb == nil {
		return nil, errutil.Validation("reward binding not found", errutil.Detail{Field: "reward_binding_id", Message: *id})
	}
	if rb.EventID != eventID {
		return nil, errutil.Validation("reward binding belongs to another event", errutil.Detail{Field: "reward_binding_id", Message: *id})
	}
	if rb.Availability != model.AvailabilityOnAction {
		return nil, errutil.Validation("reward binding is not available on-action", errutil.Detail{Field: "reward_binding_id", Message: string(rb.Availability)})
	}
	rbID := rb.ID
	return &rbID, nil
}

func (s *Service) EditActionBinding(ctx context.Context, req EditActionBindingRequest) (*model.ActionBinding, error) {
	ctx, span := tracer.Start(ctx, "catalog.EditActionBinding")
	defer span.End()

	if req.PointsBase != nil && *req.PointsBase < 0 {
		return nil, errutil.Validation("points must not be negative", errutil.Detail{Field: "points_base", Message: "must be >= 0"})
	}

	var binding *model.ActionBinding
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.loadActionBinding(ctx, tx, req.BindingID)
		if err != nil {
			return err
		}
		evt, forced, err := s.guard(ctx, tx, current.EventID, OpEditActionBinding, req.Mutation)
		if err != nil {
			return err
		}

		before := *current
		updated := *current
		values := map[string]any{}
		if req.PointsBase != nil {
			updated.PointsBase = *req.PointsBase
			values["points_base"] = updated.PointsBase
		}
		if req.IsNumericMultiplier != nil {
			if *req.IsNumericMultiplier {
				def, err := s.definitions.WithTrx(tx).FindByID(ctx, current.ActionDefinitionID)
				if err != nil {
					return errutil.Storage("failed to load action definition", err)
				}
				if def == nil {
					return ErrActionDefinitionNotFound
				}
				if err := checkMultiplier(def, true); err != nil {
					return err
				}
			}
			updated.IsNumericMultiplier = *req.IsNumericMultiplier
			values["is_numeric_multiplier"] = updated.IsNumericMultiplier
		}
		if req.IsRepeatable != nil {
			updated.IsRepeatable = *req.IsRepeatable
			values["is_repeatable"] = updated.IsRepeatable
		}
		if req.IsSelfReportable != nil {
			updated.IsSelfReportable = *req.IsSelfReportable
			values["is_self_reportable"] = updated.IsSelfReportable
		}
		if req.IsAllowedDuringVisible != nil {
			updated.IsAllowedDuringVisible = *req.IsAllowedDuringVisible
			values["is_allowed_during_visible"] = updated.IsAllowedDuringVisible
		}
		if req.RewardBindingID != nil {
			rbID, err := s.checkDirectReward(ctx, tx, evt.ID, req.RewardBindingID)
			if err != nil {
				return err
			}
			updated.RewardBindingID = rbID
			values["reward_binding_id"] = rbID
		}
		if len(values) == 0 {
			binding = current
			return nil
		}

		updated.UpdatedAt = s.now()
		values["updated_at"] = updated.UpdatedAt
		if err := s.actionBindings.WithTrx(tx).Update(ctx, current.ID, values); err != nil {
			return errutil.Storage("failed to update action binding", err)
		}
		binding = &updated

		return s.audit(ctx, tx, evt.ID, OpEditActionBinding, entityActionBinding, current.ID, req.Mutation, forced, before, updated)
	})
	if err != nil {
		return nil, err
	}
	return binding, nil
}

// UnlinkAction removes an action binding. Submissions that reference it keep
// their rows with the reference nulled, which requires force.
func (s *Service) UnlinkAction(ctx context.Context, req UnlinkRequest) error {
	ctx, span := tracer.Start(ctx, "catalog.UnlinkAction")
	defer span.End()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.loadActionBinding(ctx, tx, req.BindingID)
		if err != nil {
			return err
		}
		evt, forced, err := s.guard(ctx, tx, current.EventID, OpUnlinkAction, req.Mutation)
		if err != nil {
			return err
		}

		var history int64
		if err := tx.Model(&model.Submission{}).Where("action_binding_id = ?", current.ID).Count(&history).Error; err != nil {
			return errutil.Storage("failed to count submissions", err)
		}
		if history > 0 {
			if !req.Force {
				return ErrReferencedInHistory
			}
			forced = true
			if err := event.DetachActionBindings(tx, current.ID); err != nil {
				return err
			}
		}

		if err := tx.Delete(&model.ActionBinding{}, "id = ?", current.ID).Error; err != nil {
			return errutil.Storage("failed to delete action binding", err)
		}

		return s.audit(ctx, tx, evt.ID, OpUnlinkAction, entityActionBinding, current.ID, req.Mutation, forced, current, nil)
	})
}

func (s *Service) loadActionBinding(ctx context.Context, tx *gorm.DB, id string) (*model.ActionBinding, error) {
	b, err := s.actionBindings.WithTrx(tx).FindByID(ctx, id, option.WithLockingUpdate())
	if err != nil {
		return nil, errutil.Storage("failed to load action binding", err)
	}
	if b == nil {
		return nil, ErrActionBindingNotFound
	}
	return b, nil
}

func (s *Service) ListActionBindings(ctx context.Context, eventID string) ([]*model.ActionBinding, error) {
	if eventID == "" {
		return nil, event.ErrEventIDRequired
	}
	out, err := s.actionBindings.Find(ctx, &model.ActionBinding{EventID: eventID}, option.WithSortBy(option.QuerySortBy{SortBy: "composite_key", Allow: map[string]bool{"composite_key": true}}))
	if err != nil {
		return nil, errutil.Storage("failed to list action bindings", err)
	}
	return out, nil
}

func (s *Service) LinkReward(ctx context.Context, req LinkRewardRequest) (*model.RewardBinding, error) {
	ctx, span := tracer.Start(ctx, "catalog.LinkReward")
	defer span.End()

	if req.RewardID == "" {
		return nil, errutil.Validation("reward is required", errutil.Detail{Field: "reward_id", Message: "required"})
	}
	if err := validatePricing(req.Availability, req.Price); err != nil {
		return nil, err
	}

	var binding *model.RewardBinding
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		evt, forced, err := s.guard(ctx, tx, req.EventID, OpLinkReward, req.Mutation)
		if err != nil {
			return err
		}

		reward, err := s.rewards.WithTrx(tx).FindByID(ctx, req.RewardID)
		if err != nil {
			return errutil.Storage("failed to load reward", err)
		}
		if reward == nil {
			return ErrRewardNotFound
		}
		if reward.Kind.RequiresPublication() && !reward.IsPublished() {
			return errutil.Validation(string(reward.Kind)+" must be published before it can be linked",
				errutil.Detail{Field: "reward_id", Message: "not published"})
		}

		now := s.now()
		binding = &model.RewardBinding{
			ID:           s.node.Generate().String(),
			EventID:      evt.ID,
			RewardID:     reward.ID,
			Availability: req.Availability,
			Price:        req.Price,
			CompositeKey: RewardCompositeKey(evt.ID, reward.Key, req.Availability),
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.createRewardBinding(ctx, tx, binding); err != nil {
			return err
		}

		return s.audit(ctx, tx, evt.ID, OpLinkReward, entityRewardBinding, binding.ID, req.Mutation, forced, nil, binding)
	})
	if err != nil {
		return nil, err
	}
	return binding, nil
}

func (s *Service) createRewardBinding(ctx context.Context, tx *gorm.DB, b *model.RewardBinding) error {
	existing, err := s.rewardBindings.WithTrx(tx).FindOne(ctx, &model.RewardBinding{CompositeKey: b.CompositeKey})
	if err != nil {
		return errutil.Storage("failed to check composite key", err)
	}
	if existing != nil {
		return alreadyLinked("reward already linked as "+existing.CompositeKey, existing.ID)
	}

	err = tx.Transaction(func(sp *gorm.DB) error {
		return s.rewardBindings.WithTrx(sp).Create(ctx, b)
	})
	if err == nil {
		return nil
	}
	if errutil.IsUniqueViolation(err) {
		winner, ferr := s.rewardBindings.WithTrx(tx).FindOne(ctx, &model.RewardBinding{CompositeKey: b.CompositeKey})
		if ferr == nil && winner != nil {
			return alreadyLinked("reward already linked as "+winner.CompositeKey, winner.ID)
		}
	}
	return errutil.FromDB("failed to create reward binding", err)
}

func (s *Service) EditRewardBinding(ctx context.Context, req EditRewardBindingRequest) (*model.RewardBinding, error) {
	ctx, span := tracer.Start(ctx, "catalog.EditRewardBinding")
	defer span.End()

	var binding *model.RewardBinding
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.loadRewardBinding(ctx, tx, req.BindingID)
		if err != nil {
			return err
		}
		evt, forced, err := s.guard(ctx, tx, current.EventID, OpEditRewardBinding, req.Mutation)
		if err != nil {
			return err
		}

		updated := *current
		if req.Availability != nil {
			updated.Availability = *req.Availability
		}
		if req.Price != nil {
			updated.Price = *req.Price
		}
		if err := validatePricing(updated.Availability, updated.Price); err != nil {
			return err
		}
		if updated.Availability == current.Availability && updated.Price == current.Price {
			binding = current
			return nil
		}

		if updated.Availability != current.Availability {
			if err := s.checkAvailabilityChange(tx, current); err != nil {
				return err
			}
			reward, err := s.rewards.WithTrx(tx).FindByID(ctx, current.RewardID)
			if err != nil {
				return errutil.Storage("failed to load reward", err)
			}
			if reward == nil {
				return ErrRewardNotFound
			}
			updated.CompositeKey = RewardCompositeKey(evt.ID, reward.Key, updated.Availability)
			existing, err := s.rewardBindings.WithTrx(tx).FindOne(ctx, &model.RewardBinding{CompositeKey: updated.CompositeKey})
			if err != nil {
				return errutil.Storage("failed to check composite key", err)
			}
			if existing != nil && existing.ID != current.ID {
				return alreadyLinked("reward already linked as "+existing.CompositeKey, existing.ID)
			}
		}

		updated.UpdatedAt = s.now()
		if err := s.rewardBindings.WithTrx(tx).Update(ctx, current.ID, map[string]any{
			"availability":  updated.Availability,
			"price":         updated.Price,
			"composite_key": updated.CompositeKey,
			"updated_at":    updated.UpdatedAt,
		}); err != nil {
			return errutil.FromDB("failed to update reward binding", err)
		}
		binding = &updated

		return s.audit(ctx, tx, evt.ID, OpEditRewardBinding, entityRewardBinding, current.ID, req.Mutation, forced, current, updated)
	})
	if err != nil {
		return nil, err
	}
	return binding, nil
}

// checkAvailabilityChange rejects moving a binding out of the mode its
// current referrers depend on.
func (s *Service) checkAvailabilityChange(tx *gorm.DB, current *model.RewardBinding) error {
	var refs int64
	switch current.Availability {
	case model.AvailabilityOnAction:
		if err := tx.Model(&model.ActionBinding{}).Where("reward_binding_id = ?", current.ID).Count(&refs).Error; err != nil {
			return errutil.Storage("failed to count action references", err)
		}
	case model.AvailabilityOnTrigger:
		if err := tx.Model(&model.Trigger{}).Where("reward_binding_id = ?", current.ID).Count(&refs).Error; err != nil {
			return errutil.Storage("failed to count trigger references", err)
		}
	}
	if refs > 0 {
		return errutil.State("binding is still used as " + string(current.Availability))
	}
	return nil
}

// UnlinkReward removes a reward binding. Grant logs and submissions that
// reference it require force; every remaining reference is nulled.
func (s *Service) UnlinkReward(ctx context.Context, req UnlinkRequest) error {
	ctx, span := tracer.Start(ctx, "catalog.UnlinkReward")
	defer span.End()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.loadRewardBinding(ctx, tx, req.BindingID)
		if err != nil {
			return err
		}
		evt, forced, err := s.guard(ctx, tx, current.EventID, OpUnlinkReward, req.Mutation)
		if err != nil {
			return err
		}

		var grants, submissions int64
		if err := tx.Model(&model.GrantLog{}).Where("reward_binding_id = ?", current.ID).Count(&grants).Error; err != nil {
			return errutil.Storage("failed to count grant logs", err)
		}
		if err := tx.Model(&model.Submission{}).Where("reward_binding_id = ?", current.ID).Count(&submissions).Error; err != nil {
			return errutil.Storage("failed to count submissions", err)
		}
		if grants+submissions > 0 {
			if !req.Force {
				return ErrReferencedInHistory
			}
			forced = true
		}

		if err := event.DetachRewardBindings(tx, current.ID); err != nil {
			return err
		}
		if err := tx.Delete(&model.RewardBinding{}, "id = ?", current.ID).Error; err != nil {
			return errutil.Storage("failed to delete reward binding", err)
		}

		return s.audit(ctx, tx, evt.ID, OpUnlinkReward, entityRewardBinding, current.ID, req.Mutation, forced, current, nil)
	})
}

func (s *Service) loadRewardBinding(ctx context.Context, tx *gorm.DB, id string) (*model.RewardBinding, error) {
	b, err := s.rewardBindings.WithTrx(tx).FindByID(ctx, id, option.WithLockingUpdate())
	if err != nil {
		return nil, errutil.Storage("failed to load reward binding", err)
	}
	if b == nil {
		return nil, ErrRewardBindingNotFound
	}
	return b, nil
}

func (s *Service) ListRewardBindings(ctx context.Context, eventID string) ([]*model.RewardBinding, error) {
	if eventID == "" {
		return nil, event.ErrEventIDRequired
	}
	out, err := s.rewardBindings.Find(ctx, &model.RewardBinding{EventID: eventID}, option.WithSortBy(option.QuerySortBy{SortBy: "composite_key", Allow: map[string]bool{"composite_key": true}}))
	if err != nil {
		return nil, errutil.Storage("failed to list reward bindings", err)
	}
	return out, nil
}
