package ledger

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"smallbiznis-engagement/pkg/db/option"
	"smallbiznis-engagement/pkg/db/pagination"
	"smallbiznis-engagement/pkg/errutil"
	"smallbiznis-engagement/pkg/repository"
	"smallbiznis-engagement/services/model"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var tracer = otel.Tracer("smallbiznis-engagement/services/ledger")

var ErrOverflow = errutil.Storage("point total overflow", nil)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	now  func() time.Time

	participants repository.Repository[model.Participant]
	eventLedgers repository.Repository[model.EventLedger]
	entries      repository.Repository[model.LedgerEntry]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,
		now:  time.Now,

		participants: repository.ProvideStore[model.Participant](p.DB),
		eventLedgers: repository.ProvideStore[model.EventLedger](p.DB),
		entries:      repository.ProvideStore[model.LedgerEntry](p.DB),
	}
}

// WithTrx returns a Service whose operations join tx. Each operation still
// opens a nested transaction (a savepoint) so a failure rolls back only its own writes.
func (s *Service) WithTrx(tx *gorm.DB) *Service {
	if tx == nil {
		return s
	}
	clone := *s
	clone.db = tx
	clone.participants = s.participants.WithTrx(tx)
	clone.eventLedgers = s.eventLedgers.WithTrx(tx)
	clone.entries = s.entries.WithTrx(tx)
	return &clone
}

func traceFields(ctx context.Context) []zap.Field {
	span := trace.SpanFromContext(ctx)
	return []zap.Field{
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
	}
}

func addWithinInt64(a, b int64) (int64, bool) {
	if b > 0 && a > math.MaxInt64-b {
		return 0, false
	}
	return a + b, true
}

// Credit adds amount to balance and lifetime_earned, and to the per-event
// total when an event is given.
func (s *Service) Credit(ctx context.Context, p CreditParams) (*model.LedgerEntry, error) {
	ctx, span := tracer.Start(ctx, "ledger.Credit")
	defer span.End()

	if p.ParticipantID == "" {
		return nil, errutil.Validation("participant is required", errutil.Detail{Field: "participant_id", Message: "required"})
	}
	if p.Amount <= 0 {
		return nil, errutil.Validation("amount must be greater than 0", errutil.Detail{Field: "amount", Message: "must be > 0"})
	}

	log := zap.L().With(traceFields(ctx)...).With(zap.String("participant_id", p.ParticipantID), zap.Int64("amount", p.Amount))

	var entry *model.LedgerEntry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		participant, err := s.lockParticipant(ctx, tx, p.ParticipantID)
		if err != nil {
			return err
		}

		balance, ok := addWithinInt64(participant.Balance, p.Amount)
		if !ok {
			return ErrOverflow
		}
		if _, ok := addWithinInt64(participant.LifetimeEarned, p.Amount); !ok {
			return ErrOverflow
		}

		now := s.timestamp()
		if err := s.participants.WithTrx(tx).Update(ctx, participant.ID, map[string]any{
			"balance":         gorm.Expr("balance + ?", p.Amount),
			"lifetime_earned": gorm.Expr("lifetime_earned + ?", p.Amount),
			"updated_at":      now,
		}); err != nil {
			return errutil.Storage("failed to credit participant", err)
		}

		if p.EventID != "" {
			if err := s.addEventPoints(ctx, tx, p.ParticipantID, p.EventID, p.Amount); err != nil {
				return err
			}
		}

		entry, err = s.appendEntry(ctx, tx, entryParams{
			ParticipantID: p.ParticipantID,
			EventID:       p.EventID,
			Type:          model.EntryTypeCredit,
			Amount:        p.Amount,
			BalanceAfter:  balance,
			ReferenceID:   p.ReferenceID,
			Description:   p.Description,
			Metadata:      marshalMetadata(p.Metadata),
			CreatedAt:     now,
		})
		return err
	})
	if err != nil {
		if errutil.IsStorage(err) {
			log.Error("credit failed", zap.Error(err))
		}
		return nil, err
	}

	log.Debug("credited participant", zap.String("entry_id", entry.ID))
	return entry, nil
}

// Debit subtracts amount from balance and adds it to lifetime_spent. lifetime_earned is untouched.
func (s *Service) Debit(ctx context.Context, p DebitParams) (*model.LedgerEntry, error) {
	ctx, span := tracer.Start(ctx, "ledger.Debit")
	defer span.End()

	if p.ParticipantID == "" {
		return nil, errutil.Validation("participant is required", errutil.Detail{Field: "participant_id", Message: "required"})
	}
	if p.Amount <= 0 {
		return nil, errutil.Validation("amount must be greater than 0", errutil.Detail{Field: "amount", Message: "must be > 0"})
	}

	log := zap.L().With(traceFields(ctx)...).With(zap.String("participant_id", p.ParticipantID), zap.Int64("amount", p.Amount))

	var entry *model.LedgerEntry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		participant, err := s.lockParticipant(ctx, tx, p.ParticipantID)
		if err != nil {
			return err
		}
		if p.Amount > participant.Balance {
			return errutil.Validation("insufficient balance",
				errutil.Detail{Field: "amount", Message: "exceeds balance"})
		}
		if _, ok := addWithinInt64(participant.LifetimeSpent, p.Amount); !ok {
			return ErrOverflow
		}

		now := s.timestamp()
		if err := s.participants.WithTrx(tx).Update(ctx, participant.ID, map[string]any{
			"balance":        gorm.Expr("balance - ?", p.Amount),
			"lifetime_spent": gorm.Expr("lifetime_spent + ?", p.Amount),
			"updated_at":     now,
		}); err != nil {
			return errutil.Storage("failed to debit participant", err)
		}

		entry, err = s.appendEntry(ctx, tx, entryParams{
			ParticipantID: p.ParticipantID,
			EventID:       p.EventID,
			Type:          model.EntryTypeDebit,
			Amount:        p.Amount,
			BalanceAfter:  participant.Balance - p.Amount,
			ReferenceID:   p.ReferenceID,
			Description:   p.Description,
			Metadata:      marshalMetadata(p.Metadata),
			CreatedAt:     now,
		})
		return err
	})
	if err != nil {
		if errutil.IsStorage(err) {
			log.Error("debit failed", zap.Error(err))
		}
		return nil, err
	}

	log.Debug("debited participant", zap.String("entry_id", entry.ID))
	return entry, nil
}

// timestamp is truncated so that the stored value hashes the same on every dialect.
func (s *Service) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

func marshalMetadata(m map[string]any) datatypes.JSON {
	if len(m) == 0 {
		return nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

// lockParticipant creates the participant row on first use and returns it locked for update.
func (s *Service) lockParticipant(ctx context.Context, tx *gorm.DB, id string) (*model.Participant, error) {
	now := s.timestamp()
	if err := tx.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&model.Participant{
		ID:        id,
		CreatedAt: now,
		UpdatedAt: now,
	}).Error; err != nil {
		return nil, errutil.Storage("failed to create participant", err)
	}

	participant, err := s.participants.WithTrx(tx).FindByID(ctx, id, option.WithLockingUpdate())
	if err != nil {
		return nil, errutil.Storage("failed to load participant", err)
	}
	if participant == nil {
		return nil, errutil.Storage("participant row missing after upsert", nil)
	}
	return participant, nil
}

func (s *Service) addEventPoints(ctx context.Context, tx *gorm.DB, participantID, eventID string, amount int64) error {
	now := s.timestamp()
	if err := tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "participant_id"}, {Name: "event_id"}},
		DoNothing: true,
	}).Create(&model.EventLedger{
		ID:            s.node.Generate().String(),
		ParticipantID: participantID,
		EventID:       eventID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}).Error; err != nil {
		return errutil.Storage("failed to create event ledger", err)
	}

	el, err := s.eventLedgers.WithTrx(tx).FindOne(ctx, &model.EventLedger{ParticipantID: participantID, EventID: eventID}, option.WithLockingUpdate())
	if err != nil || el == nil {
		return errutil.Storage("failed to load event ledger", err)
	}
	if _, ok := addWithinInt64(el.Points, amount); !ok {
		return ErrOverflow
	}

	if err := s.eventLedgers.WithTrx(tx).Update(ctx, el.ID, map[string]any{
		"points":     gorm.Expr("points + ?", amount),
		"updated_at": now,
	}); err != nil {
		return errutil.Storage("failed to update event ledger", err)
	}
	return nil
}

func (s *Service) appendEntry(ctx context.Context, tx *gorm.DB, p entryParams) (*model.LedgerEntry, error) {
	last, err := s.entries.WithTrx(tx).FindOne(ctx, &model.LedgerEntry{ParticipantID: p.ParticipantID},
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "sequence",
			OrderBy: "desc",
			Allow:   map[string]bool{"sequence": true},
		}),
	)
	if err != nil {
		return nil, errutil.Storage("failed to load last ledger entry", err)
	}

	p.PreviousHash = genesisHash
	p.Sequence = 1
	if last != nil {
		p.PreviousHash = last.Hash
		p.Sequence = last.Sequence + 1
	}

	p.ID = s.node.Generate().String()
	p.TransactionID, err = GenerateTransactionID(p.CreatedAt)
	if err != nil {
		return nil, errutil.Storage("failed to generate transaction id", err)
	}

	entry := newLedgerEntry(p)
	if err := s.entries.WithTrx(tx).Create(ctx, entry); err != nil {
		return nil, errutil.FromDB("failed to append ledger entry", err)
	}
	return entry, nil
}

// GetBalance returns the participant's totals; unknown participants read as zero.
func (s *Service) GetBalance(ctx context.Context, participantID string) (*model.Participant, error) {
	p, err := s.participants.FindByID(ctx, participantID)
	if err != nil {
		zap.L().With(traceFields(ctx)...).Error("failed to query participant", zap.Error(err))
		return nil, errutil.Storage("failed to load balance", err)
	}
	if p == nil {
		return &model.Participant{ID: participantID}, nil
	}
	return p, nil
}

func (s *Service) EventTotal(ctx context.Context, participantID, eventID string) (int64, error) {
	if participantID == "" || eventID == "" {
		return 0, nil
	}
	el, err := s.eventLedgers.FindOne(ctx, &model.EventLedger{ParticipantID: participantID, EventID: eventID})
	if err != nil {
		return 0, errutil.Storage("failed to load event total", err)
	}
	if el == nil {
		return 0, nil
	}
	return el.Points, nil
}

func (s *Service) ListEntries(ctx context.Context, participantID string, page pagination.Pagination) ([]*model.LedgerEntry, *pagination.PageInfo, error) {
	entries, err := s.entries.Find(ctx, &model.LedgerEntry{ParticipantID: participantID}, option.ApplyPagination(page))
	if err != nil {
		return nil, nil, errutil.Storage("failed to list ledger entries", err)
	}

	entries, info := pagination.Page(entries, page, func(e *model.LedgerEntry) string { return e.ID })
	return entries, info, nil
}

// VerifyChain walks the participant's entries in sequence order and recomputes every hash.
func (s *Service) VerifyChain(ctx context.Context, participantID string) (*VerifyResult, error) {
	ctx, span := tracer.Start(ctx, "ledger.VerifyChain")
	defer span.End()

	entries, err := s.entries.Find(ctx, &model.LedgerEntry{ParticipantID: participantID},
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "sequence",
			OrderBy: "asc",
			Allow:   map[string]bool{"sequence": true},
		}),
	)
	if err != nil {
		return nil, errutil.Storage("failed to load ledger entries", err)
	}

	res := &VerifyResult{ParticipantID: participantID, Valid: true, Entries: len(entries)}

	previousHash := genesisHash
	for _, e := range entries {
		if e.PreviousHash != previousHash || GenerateHash(e) != e.Hash {
			res.Valid = false
			res.BrokenAt = e.ID
			zap.L().With(traceFields(ctx)...).Warn("ledger chain broken",
				zap.String("participant_id", participantID), zap.String("entry_id", e.ID))
			break
		}
		previousHash = e.Hash
	}

	return res, nil
}
