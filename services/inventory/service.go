package inventory

import (
	"context"
	"time"

	"smallbiznis-engagement/pkg/config"
	"smallbiznis-engagement/pkg/db/option"
	"smallbiznis-engagement/pkg/errutil"
	"smallbiznis-engagement/pkg/logger"
	"smallbiznis-engagement/pkg/repository"
	"smallbiznis-engagement/services/ledger"
	"smallbiznis-engagement/services/model"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var tracer = otel.Tracer("smallbiznis-engagement/services/inventory")

var (
	ErrRewardNotFound        = errutil.NotFound("reward not found", nil)
	ErrRewardBindingNotFound = errutil.NotFound("reward binding not found", nil)
	ErrParticipantRequired   = errutil.Validation("participant is required", errutil.Detail{Field: "participant_id", Message: "required"})
)

type Service struct {
	db     *gorm.DB
	node   *snowflake.Node
	cfg    *config.Config
	ledger *ledger.Service
	now    func() time.Time

	rewards  repository.Repository[model.Reward]
	bindings repository.Repository[model.RewardBinding]
	events   repository.Repository[model.Event]
	entries  repository.Repository[model.InventoryEntry]
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Node   *snowflake.Node
	Config *config.Config
	Ledger *ledger.Service
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:     p.DB,
		node:   p.Node,
		cfg:    p.Config,
		ledger: p.Ledger,
		now:    time.Now,

		rewards:  repository.ProvideStore[model.Reward](p.DB),
		bindings: repository.ProvideStore[model.RewardBinding](p.DB),
		events:   repository.ProvideStore[model.Event](p.DB),
		entries:  repository.ProvideStore[model.InventoryEntry](p.DB),
	}
}

// WithTrx returns a Service whose operations join tx.
func (s *Service) WithTrx(tx *gorm.DB) *Service {
	if tx == nil {
		return s
	}
	clone := *s
	clone.db = tx
	clone.ledger = s.ledger.WithTrx(tx)
	clone.rewards = s.rewards.WithTrx(tx)
	clone.bindings = s.bindings.WithTrx(tx)
	clone.events = s.events.WithTrx(tx)
	clone.entries = s.entries.WithTrx(tx)
	return &clone
}

// GrantReward adds one unit of a reward to the participant's inventory.
// Stackable rewards accumulate; a non-stackable reward already owned is a
// successful no-op reported with Granted=false.
func (s *Service) GrantReward(ctx context.Context, participantID, rewardID string) (*GrantResult, error) {
	ctx, span := tracer.Start(ctx, "inventory.GrantReward")
	defer span.End()

	if participantID == "" {
		return nil, ErrParticipantRequired
	}

	var res *GrantResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		reward, err := s.rewards.WithTrx(tx).FindByID(ctx, rewardID, option.WithLockingUpdate())
		if err != nil {
			return errutil.Storage("failed to load reward", err)
		}
		if reward == nil {
			return ErrRewardNotFound
		}

		now := s.now()
		entry := &model.InventoryEntry{
			ID:            s.node.Generate().String(),
			ParticipantID: participantID,
			RewardID:      reward.ID,
			Quantity:      1,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		ins := tx.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "participant_id"}, {Name: "reward_id"}},
			DoNothing: true,
		}).Create(entry)
		if ins.Error != nil {
			return errutil.Storage("failed to create inventory entry", ins.Error)
		}

		granted := ins.RowsAffected == 1
		if !granted && reward.IsStackable {
			if err := tx.WithContext(ctx).Model(&model.InventoryEntry{}).
				Where("participant_id = ? AND reward_id = ?", participantID, reward.ID).
				Updates(map[string]any{"quantity": gorm.Expr("quantity + 1"), "updated_at": now}).Error; err != nil {
				return errutil.Storage("failed to increment inventory quantity", err)
			}
			granted = true
		}

		if granted {
			if err := s.rewards.WithTrx(tx).Update(ctx, reward.ID, map[string]any{
				"granted_count": gorm.Expr("granted_count + 1"),
			}); err != nil {
				return errutil.Storage("failed to update granted count", err)
			}
		}

		current, err := s.entries.WithTrx(tx).FindOne(ctx, &model.InventoryEntry{ParticipantID: participantID, RewardID: reward.ID})
		if err != nil {
			return errutil.Storage("failed to load inventory entry", err)
		}

		res = &GrantResult{Reward: reward, Entry: current, Granted: granted}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Debug("reward granted",
		zap.String("participant_id", participantID),
		zap.String("reward_id", rewardID),
		zap.Bool("granted", res.Granted),
	)
	return res, nil
}

// Equip marks an owned reward as displayed, subject to the per-kind cap.
func (s *Service) Equip(ctx context.Context, participantID, rewardID string) (*model.InventoryEntry, error) {
	ctx, span := tracer.Start(ctx, "inventory.Equip")
	defer span.End()

	if participantID == "" {
		return nil, ErrParticipantRequired
	}
	if rewardID == "" {
		return nil, errutil.Validation("reward is required", errutil.Detail{Field: "reward_id", Message: "required"})
	}

	var out *model.InventoryEntry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entry, err := s.entries.WithTrx(tx).FindOne(ctx,
			&model.InventoryEntry{ParticipantID: participantID, RewardID: rewardID}, option.WithLockingUpdate())
		if err != nil {
			return errutil.Storage("failed to load inventory entry", err)
		}
		if entry == nil {
			return errutil.Validation("reward is not owned", errutil.Detail{Field: "reward_id", Message: "not owned"})
		}
		if entry.IsEquipped {
			out = entry
			return nil
		}

		reward, err := s.rewards.WithTrx(tx).FindByID(ctx, rewardID)
		if err != nil {
			return errutil.Storage("failed to load reward", err)
		}
		if reward == nil {
			return ErrRewardNotFound
		}

		var equipped int64
		if err := tx.WithContext(ctx).Model(&model.InventoryEntry{}).
			Joins("JOIN rewards ON rewards.id = inventory_entries.reward_id").
			Where("inventory_entries.participant_id = ? AND inventory_entries.is_equipped = ? AND rewards.kind = ?",
				participantID, true, reward.Kind).
			Count(&equipped).Error; err != nil {
			return errutil.Storage("failed to count equipped rewards", err)
		}

		limit := s.cfg.Engine.EquipCap(string(reward.Kind))
		if equipped >= int64(limit) {
			return errutil.State("equip limit reached for "+string(reward.Kind),
				errutil.Detail{Field: "kind", Message: string(reward.Kind)})
		}

		if err := s.entries.WithTrx(tx).Update(ctx, entry.ID, map[string]any{
			"is_equipped": true,
			"updated_at":  s.now(),
		}); err != nil {
			return errutil.Storage("failed to equip reward", err)
		}
		entry.IsEquipped = true
		out = entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Unequip clears the equipped flag; unknown or unowned rewards are ignored.
func (s *Service) Unequip(ctx context.Context, participantID, rewardID string) error {
	err := s.db.WithContext(ctx).Model(&model.InventoryEntry{}).
		Where("participant_id = ? AND reward_id = ?", participantID, rewardID).
		Updates(map[string]any{"is_equipped": false, "updated_at": s.now()}).Error
	if err != nil {
		return errutil.Storage("failed to unequip reward", err)
	}
	return nil
}

// Purchase spends points on an in-shop reward of an active event.
func (s *Service) Purchase(ctx context.Context, req PurchaseRequest) (*PurchaseResult, error) {
	ctx, span := tracer.Start(ctx, "inventory.Purchase")
	defer span.End()
	log := logger.FromContext(ctx, zap.String("participant_id", req.ParticipantID), zap.String("reward_binding_id", req.RewardBindingID))

	if req.ParticipantID == "" {
		return nil, ErrParticipantRequired
	}

	var res *PurchaseResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		binding, err := s.bindings.WithTrx(tx).FindByID(ctx, req.RewardBindingID)
		if err != nil {
			return errutil.Storage("failed to load reward binding", err)
		}
		if binding == nil {
			return ErrRewardBindingNotFound
		}
		if binding.Availability != model.AvailabilityInShop {
			return errutil.Validation("reward is not sold in the shop",
				errutil.Detail{Field: "availability", Message: string(binding.Availability)})
		}

		evt, err := s.events.WithTrx(tx).FindByID(ctx, binding.EventID)
		if err != nil {
			return errutil.Storage("failed to load event", err)
		}
		if evt == nil || evt.Status != model.EventStatusActive {
			return errutil.State("shop is only open while the event is active")
		}

		reward, err := s.rewards.WithTrx(tx).FindByID(ctx, binding.RewardID)
		if err != nil {
			return errutil.Storage("failed to load reward", err)
		}
		if reward == nil {
			return ErrRewardNotFound
		}

		if !reward.IsStackable {
			owned, err := s.entries.WithTrx(tx).Count(ctx, &model.InventoryEntry{ParticipantID: req.ParticipantID, RewardID: reward.ID})
			if err != nil {
				return errutil.Storage("failed to check inventory", err)
			}
			if owned > 0 {
				return errutil.Conflict("reward already owned", nil,
					errutil.WithDetails(errutil.Detail{Field: "reward_id", Message: reward.ID}))
			}
		}

		trx := s.WithTrx(tx)
		if binding.Price > 0 {
			if _, err := trx.ledger.Debit(ctx, ledger.DebitParams{
				ParticipantID: req.ParticipantID,
				Amount:        binding.Price,
				EventID:       binding.EventID,
				ReferenceID:   binding.ID,
				Description:   "purchase " + reward.Key,
			}); err != nil {
				return err
			}
		}

		granted, err := trx.GrantReward(ctx, req.ParticipantID, reward.ID)
		if err != nil {
			return err
		}

		balance, err := trx.ledger.GetBalance(ctx, req.ParticipantID)
		if err != nil {
			return err
		}

		res = &PurchaseResult{
			Reward:  granted.Reward,
			Entry:   granted.Entry,
			Spent:   binding.Price,
			Balance: balance.Balance,
		}
		return nil
	})
	if err != nil {
		if errutil.IsStorage(err) {
			log.Error("purchase failed", zap.Error(err))
		}
		return nil, err
	}

	log.Info("reward purchased", zap.Int64("price", res.Spent))
	return res, nil
}

func (s *Service) ListInventory(ctx context.Context, participantID string) ([]Item, error) {
	if participantID == "" {
		return nil, ErrParticipantRequired
	}

	entries, err := s.entries.Find(ctx, &model.InventoryEntry{ParticipantID: participantID},
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "asc"}))
	if err != nil {
		return nil, errutil.Storage("failed to list inventory", err)
	}
	if len(entries) == 0 {
		return []Item{}, nil
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.RewardID)
	}
	rewards, err := s.rewards.Find(ctx, &model.Reward{}, option.ApplyOperator(option.Condition{Field: "id", Operator: option.IN, Value: ids}))
	if err != nil {
		return nil, errutil.Storage("failed to load rewards", err)
	}
	byID := make(map[string]*model.Reward, len(rewards))
	for _, r := range rewards {
		byID[r.ID] = r
	}

	items := make([]Item, 0, len(entries))
	for _, e := range entries {
		item := Item{RewardID: e.RewardID, Quantity: e.Quantity, IsEquipped: e.IsEquipped}
		if r, ok := byID[e.RewardID]; ok {
			item.Key = r.Key
			item.Name = r.Name
			item.Kind = r.Kind
			item.IsStackable = r.IsStackable
		}
		items = append(items, item)
	}
	return items, nil
}
