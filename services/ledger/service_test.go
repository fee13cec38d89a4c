package ledger

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"smallbiznis-engagement/pkg/db/option"
	"smallbiznis-engagement/pkg/db/pagination"
	"smallbiznis-engagement/pkg/errutil"
	"smallbiznis-engagement/pkg/repository"
	"smallbiznis-engagement/services/model"
	"smallbiznis-engagement/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type repoMock[T any] struct {
	withTrxFn  func(tx *gorm.DB) repository.Repository[T]
	findFn     func(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error)
	findOneFn  func(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error)
	createFn   func(ctx context.Context, resource *T) error
	updateFn   func(ctx context.Context, resourceID string, resource any) error
	findByIDFn func(ctx context.Context, id string, opts ...option.QueryOption) (*T, error)
	countFn    func(ctx context.Context, query *T) (int64, error)
}

func (m *repoMock[T]) WithTrx(tx *gorm.DB) repository.Repository[T] {
	if m.withTrxFn != nil {
		return m.withTrxFn(tx)
	}
	return m
}

func (m *repoMock[T]) Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error) {
	if m.findFn != nil {
		return m.findFn(ctx, query, opts...)
	}
	return nil, nil
}

func (m *repoMock[T]) FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error) {
	if m.findOneFn != nil {
		return m.findOneFn(ctx, query, opts...)
	}
	return nil, nil
}

func (m *repoMock[T]) Create(ctx context.Context, resource *T) error {
	if m.createFn != nil {
		return m.createFn(ctx, resource)
	}
	return nil
}

func (m *repoMock[T]) Update(ctx context.Context, resourceID string, resource any) error {
	if m.updateFn != nil {
		return m.updateFn(ctx, resourceID, resource)
	}
	return nil
}

func (m *repoMock[T]) FindByID(ctx context.Context, id string, opts ...option.QueryOption) (*T, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id, opts...)
	}
	return nil, nil
}

func (m *repoMock[T]) Count(ctx context.Context, query *T) (int64, error) {
	if m.countFn != nil {
		return m.countFn(ctx, query)
	}
	return 0, nil
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db := testutil.NewTestDB(t)
	return NewService(ServiceParams{DB: db, Node: testutil.NewNode(t)}), db
}

func TestNewService(t *testing.T) {
	svc, _ := newTestService(t)

	require.NotNil(t, svc.participants)
	require.NotNil(t, svc.eventLedgers)
	require.NotNil(t, svc.entries)
}

func TestCreditIncrementsBalanceAndLifetime(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	before, err := svc.GetBalance(ctx, "p1")
	require.NoError(t, err)

	_, err = svc.Credit(ctx, CreditParams{ParticipantID: "p1", Amount: 25, ReferenceID: "ref-1"})
	require.NoError(t, err)
	_, err = svc.Credit(ctx, CreditParams{ParticipantID: "p1", Amount: 5, EventID: "e1"})
	require.NoError(t, err)

	after, err := svc.GetBalance(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, int64(30), after.Balance-before.Balance)
	require.Equal(t, int64(30), after.LifetimeEarned-before.LifetimeEarned)

	total, err := svc.EventTotal(ctx, "p1", "e1")
	require.NoError(t, err)
	require.Equal(t, int64(5), total)

	total, err = svc.EventTotal(ctx, "p1", "")
	require.NoError(t, err)
	require.Zero(t, total)
}

func TestCreditRejectsNonPositive(t *testing.T) {
	svc, _ := newTestService(t)

	for _, amount := range []int64{0, -3} {
		_, err := svc.Credit(context.Background(), CreditParams{ParticipantID: "p1", Amount: amount})
		var be errutil.BaseError
		require.True(t, errors.As(err, &be))
		require.Equal(t, errutil.StatusValidationFailed, be.Status())
	}
}

func TestCreditOverflowIsStorageError(t *testing.T) {
	svc, db := newTestService(t)
	require.NoError(t, db.Create(&model.Participant{ID: "p1", Balance: math.MaxInt64 - 1, LifetimeEarned: math.MaxInt64 - 1}).Error)

	_, err := svc.Credit(context.Background(), CreditParams{ParticipantID: "p1", Amount: 2})
	require.True(t, errutil.IsStorage(err))

	p, err := svc.GetBalance(context.Background(), "p1")
	require.NoError(t, err)
	require.Equal(t, int64(math.MaxInt64-1), p.Balance)
}

func TestDebit(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Credit(ctx, CreditParams{ParticipantID: "p1", Amount: 10})
	require.NoError(t, err)

	_, err = svc.Debit(ctx, DebitParams{ParticipantID: "p1", Amount: 11})
	require.True(t, errutil.IsValidation(err))

	_, err = svc.Debit(ctx, DebitParams{ParticipantID: "p1", Amount: 4})
	require.NoError(t, err)

	p, err := svc.GetBalance(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, int64(6), p.Balance)
	require.Equal(t, int64(10), p.LifetimeEarned)
	require.Equal(t, int64(4), p.LifetimeSpent)
}

func TestWithTrxRollsBackWithOuterTransaction(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	sentinel := errors.New("abort")
	err := db.Transaction(func(tx *gorm.DB) error {
		if _, err := svc.WithTrx(tx).Credit(ctx, CreditParams{ParticipantID: "p1", Amount: 7, EventID: "e1"}); err != nil {
			return err
		}
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	p, err := svc.GetBalance(ctx, "p1")
	require.NoError(t, err)
	require.Zero(t, p.Balance)

	total, err := svc.EventTotal(ctx, "p1", "e1")
	require.NoError(t, err)
	require.Zero(t, total)
}

func TestConcurrentCredits(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Credit(ctx, CreditParams{ParticipantID: "p1", Amount: 1})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	p, err := svc.GetBalance(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, int64(8), p.Balance)

	res, err := svc.VerifyChain(ctx, "p1")
	require.NoError(t, err)
	require.True(t, res.Valid)
	require.Equal(t, 8, res.Entries)
}

func TestVerifyChainAgainstDatabase(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.Credit(ctx, CreditParams{ParticipantID: "p1", Amount: 10, Description: "earn"})
		require.NoError(t, err)
	}
	_, err := svc.Debit(ctx, DebitParams{ParticipantID: "p1", Amount: 5})
	require.NoError(t, err)

	res, err := svc.VerifyChain(ctx, "p1")
	require.NoError(t, err)
	require.True(t, res.Valid)
	require.Equal(t, 4, res.Entries)

	require.NoError(t, db.Model(&model.LedgerEntry{}).
		Where("participant_id = ? AND sequence = ?", "p1", 2).
		Update("amount", 1000).Error)

	res, err = svc.VerifyChain(ctx, "p1")
	require.NoError(t, err)
	require.False(t, res.Valid)
	require.NotEmpty(t, res.BrokenAt)
}

func TestListEntries(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := svc.Credit(ctx, CreditParams{ParticipantID: "p1", Amount: 1})
		require.NoError(t, err)
	}

	entries, info, err := svc.ListEntries(ctx, "p1", pagination.Pagination{Limit: 2})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.True(t, info.HasMore)

	rest, info, err := svc.ListEntries(ctx, "p1", pagination.Pagination{Limit: 2, Cursor: info.NextCursor})
	require.NoError(t, err)
	require.Len(t, rest, 1)
	require.False(t, info.HasMore)
}

func TestGetBalanceUsesRepository(t *testing.T) {
	svc := &Service{
		participants: &repoMock[model.Participant]{
			findByIDFn: func(ctx context.Context, _ string, opts ...option.QueryOption) (*model.Participant, error) {
				return &model.Participant{ID: "p1", Balance: 150}, nil
			},
		},
	}

	p, err := svc.GetBalance(context.Background(), "p1")
	require.NoError(t, err)
	require.Equal(t, int64(150), p.Balance)
}

func TestGetBalanceStorageFailure(t *testing.T) {
	svc := &Service{
		participants: &repoMock[model.Participant]{
			findByIDFn: func(ctx context.Context, _ string, opts ...option.QueryOption) (*model.Participant, error) {
				return nil, errors.New("connection reset")
			},
		},
	}

	_, err := svc.GetBalance(context.Background(), "p1")
	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusInternal, be.Status())
}

func chainOf(amounts ...int64) []*model.LedgerEntry {
	prev := genesisHash
	out := make([]*model.LedgerEntry, 0, len(amounts))
	for i, a := range amounts {
		e := newLedgerEntry(entryParams{
			ID:            string(rune('a' + i)),
			ParticipantID: "p1",
			Sequence:      int64(i + 1),
			Type:          model.EntryTypeCredit,
			Amount:        a,
			PreviousHash:  prev,
			CreatedAt:     time.Now().Add(time.Duration(i) * time.Minute),
		})
		prev = e.Hash
		out = append(out, e)
	}
	return out
}

func TestVerifyChainValid(t *testing.T) {
	entries := chainOf(100, 50)
	svc := &Service{
		entries: &repoMock[model.LedgerEntry]{
			findFn: func(ctx context.Context, _ *model.LedgerEntry, opts ...option.QueryOption) ([]*model.LedgerEntry, error) {
				return entries, nil
			},
		},
	}

	res, err := svc.VerifyChain(context.Background(), "p1")
	require.NoError(t, err)
	require.True(t, res.Valid)
}

func TestVerifyChainInvalid(t *testing.T) {
	entries := chainOf(100, 50)
	entries[1].Hash = "invalid"
	svc := &Service{
		entries: &repoMock[model.LedgerEntry]{
			findFn: func(ctx context.Context, _ *model.LedgerEntry, opts ...option.QueryOption) ([]*model.LedgerEntry, error) {
				return entries, nil
			},
		},
	}

	res, err := svc.VerifyChain(context.Background(), "p1")
	require.NoError(t, err)
	require.False(t, res.Valid)
	require.Equal(t, entries[1].ID, res.BrokenAt)
}
