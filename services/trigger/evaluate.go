package trigger

import (
	"context"
	"encoding/json"
	"errors"

	"smallbiznis-engagement/pkg/celengine"
	"smallbiznis-engagement/pkg/db/option"
	"smallbiznis-engagement/pkg/errutil"
	"smallbiznis-engagement/pkg/logger"
	"smallbiznis-engagement/services/ledger"
	"smallbiznis-engagement/services/model"
	"smallbiznis-engagement/services/notify"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// errAlreadyGranted rolls back a grant savepoint that lost the GrantLog race.
var errAlreadyGranted = errors.New("trigger already granted")

// errSkipGrant rolls back a grant savepoint whose trigger no longer has anything to grant.
var errSkipGrant = errors.New("trigger has nothing to grant")

// Evaluate grants every trigger of the event, and every global trigger, that
// the participant now satisfies and has not been granted before. Each grant
// runs in its own savepoint so a lost race only drops that grant.
func (s *Service) Evaluate(ctx context.Context, participantID, eventID string, submission *model.Submission) ([]Grant, error) {
	ctx, span := tracer.Start(ctx, "trigger.Evaluate")
	defer span.End()
	log := logger.FromContext(ctx, zap.String("participant_id", participantID), zap.String("event_id", eventID))

	if participantID == "" {
		return nil, errutil.Validation("participant is required", errutil.Detail{Field: "participant_id", Message: "required"})
	}

	candidates, err := s.definitions(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	var grants []Grant
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pending, err := s.pending(ctx, tx, participantID, candidates)
		if err != nil || len(pending) == 0 {
			return err
		}

		ec, err := s.buildContext(ctx, tx, participantID, eventID, submission)
		if err != nil {
			return err
		}

		for _, ct := range pending {
			if !ct.Spec.Satisfied(ec) {
				continue
			}
			ok, err := s.conditionHolds(ct, ec)
			if err != nil {
				log.Warn("trigger condition failed", zap.String("trigger_id", ct.Trigger.ID), zap.Error(err))
				continue
			}
			if !ok {
				continue
			}

			var g *Grant
			err = tx.Transaction(func(sp *gorm.DB) error {
				var gerr error
				g, gerr = s.grant(ctx, sp, participantID, submission, ct)
				return gerr
			})
			switch {
			case err == nil:
				grants = append(grants, *g)
				grantsTotal.WithLabelValues(string(ct.Trigger.Kind)).Inc()
			case errors.Is(err, errAlreadyGranted):
				log.Debug("trigger granted concurrently", zap.String("trigger_id", ct.Trigger.ID))
			case errors.Is(err, errSkipGrant):
				log.Warn("trigger has no reward binding left, skipped", zap.String("trigger_id", ct.Trigger.ID))
			default:
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Error("trigger evaluation failed", zap.Error(err))
		return nil, err
	}

	for _, g := range grants {
		s.notifier.TriggerGranted(ctx, notify.GrantNotice{
			ParticipantID: participantID,
			EventID:       eventID,
			TriggerID:     g.TriggerID,
			Label:         g.Label,
			Points:        g.Points,
			RewardName:    g.RewardName,
		})
	}
	if len(grants) > 0 {
		log.Info("triggers granted", zap.Int("count", len(grants)))
	}
	return grants, nil
}

// definitions returns the event's triggers followed by the global ones.
func (s *Service) definitions(ctx context.Context, eventID string) ([]*compiledTrigger, error) {
	var out []*compiledTrigger
	if eventID != "" {
		evt, err := s.load(ctx, eventID)
		if err != nil {
			return nil, err
		}
		out = append(out, evt...)
	}
	global, err := s.load(ctx, globalKey)
	if err != nil {
		return nil, err
	}
	return append(out, global...), nil
}

func (s *Service) load(ctx context.Context, key string) ([]*compiledTrigger, error) {
	return s.cache.Load(key, func() ([]*compiledTrigger, error) {
		rows, err := s.ListTriggers(ctx, key)
		if err != nil {
			return nil, err
		}
		out := make([]*compiledTrigger, 0, len(rows))
		for _, t := range rows {
			spec, err := ParseSpec(t.Kind, t.Config)
			if err != nil {
				logger.FromContext(ctx).Warn("skipping trigger with invalid config", zap.String("trigger_id", t.ID), zap.Error(err))
				continue
			}
			out = append(out, &compiledTrigger{Trigger: t, Spec: spec})
		}
		return out, nil
	})
}

func (s *Service) pending(ctx context.Context, tx *gorm.DB, participantID string, candidates []*compiledTrigger) ([]*compiledTrigger, error) {
	ids := make([]string, 0, len(candidates))
	for _, ct := range candidates {
		ids = append(ids, ct.Trigger.ID)
	}

	var granted []string
	if err := tx.WithContext(ctx).Model(&model.GrantLog{}).
		Where("participant_id = ? AND trigger_id IN ?", participantID, ids).
		Pluck("trigger_id", &granted).Error; err != nil {
		return nil, errutil.Storage("failed to load grant logs", err)
	}
	done := make(map[string]struct{}, len(granted))
	for _, id := range granted {
		done[id] = struct{}{}
	}

	out := make([]*compiledTrigger, 0, len(candidates))
	for _, ct := range candidates {
		if _, ok := done[ct.Trigger.ID]; !ok {
			out = append(out, ct)
		}
	}
	return out, nil
}

func (s *Service) buildContext(ctx context.Context, tx *gorm.DB, participantID, eventID string, submission *model.Submission) (*EvalContext, error) {
	ec := newEvalContext(participantID, eventID)
	if submission != nil {
		ec.CurrentTags = submission.SubItems
	}

	if eventID != "" {
		subs, err := s.submissions.WithTrx(tx).Find(ctx, &model.Submission{ParticipantID: participantID, EventID: eventID})
		if err != nil {
			return nil, errutil.Storage("failed to load submissions", err)
		}
		loc := s.cfg.Engine.Location()
		for _, sub := range subs {
			ec.addSubmission(sub, loc)
		}

		total, err := s.ledger.WithTrx(tx).EventTotal(ctx, participantID, eventID)
		if err != nil {
			return nil, err
		}
		ec.EventPoints = total
	}

	balance, err := s.ledger.WithTrx(tx).GetBalance(ctx, participantID)
	if err != nil {
		return nil, err
	}
	ec.LifetimeEarned = balance.LifetimeEarned

	count, err := s.submissions.WithTrx(tx).Count(ctx, &model.Submission{ParticipantID: participantID})
	if err != nil {
		return nil, errutil.Storage("failed to count submissions", err)
	}
	ec.GlobalSubmissions = count

	return ec, nil
}

func (s *Service) conditionHolds(ct *compiledTrigger, ec *EvalContext) (bool, error) {
	if ct.Trigger.Condition == "" {
		return true, nil
	}
	attrs := ec.Attributes()
	env, err := celengine.GetOrBuildEnv(attrs)
	if err != nil {
		return false, err
	}
	return celengine.Evaluate(env, ct.Trigger.Condition, attrs)
}

// grant applies one trigger inside the savepoint sp. The trigger row is read
// again so a reward binding nulled after caching is noticed.
func (s *Service) grant(ctx context.Context, sp *gorm.DB, participantID string, submission *model.Submission, ct *compiledTrigger) (*Grant, error) {
	t, err := s.triggers.WithTrx(sp).FindByID(ctx, ct.Trigger.ID)
	if err != nil {
		return nil, errutil.Storage("failed to reload trigger", err)
	}
	if t == nil {
		return nil, errSkipGrant
	}

	g := &Grant{TriggerID: t.ID, Label: ct.Spec.Label()}
	log := &model.GrantLog{
		ID:              s.node.Generate().String(),
		ParticipantID:   participantID,
		TriggerID:       t.ID,
		EventID:         t.EventID,
		RewardBindingID: t.RewardBindingID,
		Label:           g.Label,
		CreatedAt:       s.now(),
	}
	if submission != nil {
		id := submission.ID
		log.SubmissionID = &id
	}

	var reward *model.Reward
	switch {
	case t.PointsGranted != nil && *t.PointsGranted > 0:
		g.Points = *t.PointsGranted
		log.Points = g.Points
	case t.RewardBindingID != nil:
		rb, err := s.rewardBindings.WithTrx(sp).FindByID(ctx, *t.RewardBindingID)
		if err != nil {
			return nil, errutil.Storage("failed to load reward binding", err)
		}
		if rb == nil {
			return nil, errSkipGrant
		}
		reward, err = s.rewards.WithTrx(sp).FindByID(ctx, rb.RewardID)
		if err != nil {
			return nil, errutil.Storage("failed to load reward", err)
		}
		if reward == nil {
			return nil, errSkipGrant
		}
		log.RewardID = &reward.ID
		name := reward.Name
		g.RewardName = &name
	default:
		return nil, errSkipGrant
	}

	if err := s.grantLogs.WithTrx(sp).Create(ctx, log); err != nil {
		if errutil.IsUniqueViolation(err) {
			return nil, errAlreadyGranted
		}
		return nil, errutil.Storage("failed to write grant log", err)
	}

	if reward != nil {
		if _, err := s.inventory.WithTrx(sp).GrantReward(ctx, participantID, reward.ID); err != nil {
			return nil, err
		}
		return g, nil
	}

	eventID := ""
	if t.EventID != nil {
		eventID = *t.EventID
	}
	if _, err := s.ledger.WithTrx(sp).Credit(ctx, ledger.CreditParams{
		ParticipantID: participantID,
		Amount:        g.Points,
		EventID:       eventID,
		ReferenceID:   t.ID,
		Description:   g.Label,
	}); err != nil {
		return nil, err
	}
	return g, nil
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return b
}

func jsonOrNil(v any) []byte {
	if v == nil {
		return nil
	}
	return mustJSON(v)
}

// ListGrants returns the participant's grant history, newest first.
func (s *Service) ListGrants(ctx context.Context, participantID string) ([]*model.GrantLog, error) {
	out, err := s.grantLogs.Find(ctx, &model.GrantLog{ParticipantID: participantID},
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "desc"}))
	if err != nil {
		return nil, errutil.Storage("failed to list grants", err)
	}
	return out, nil
}
