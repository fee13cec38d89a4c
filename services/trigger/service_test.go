package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"smallbiznis-engagement/pkg/errutil"
	"smallbiznis-engagement/pkg/taskname"
	"smallbiznis-engagement/services/catalog"
	"smallbiznis-engagement/services/event"
	"smallbiznis-engagement/services/inventory"
	"smallbiznis-engagement/services/ledger"
	"smallbiznis-engagement/services/model"
	"smallbiznis-engagement/services/notify"
	"smallbiznis-engagement/services/testutil"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type recordingNotifier struct {
	mu     sync.Mutex
	grants []notify.GrantNotice
}

func (r *recordingNotifier) SubmissionConfirmed(context.Context, notify.SubmissionNotice) {}

func (r *recordingNotifier) TriggerGranted(_ context.Context, n notify.GrantNotice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.grants = append(r.grants, n)
}

type fixture struct {
	svc      *Service
	catalog  *catalog.Service
	ledger   *ledger.Service
	events   *event.Service
	notifier *recordingNotifier
	db       *gorm.DB
	evt      *model.Event
	seq      int
}

var mod = catalog.Mutation{ActorID: "mod", Reason: "setup"}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewTestDB(t)
	node := testutil.NewNode(t)
	cfg := testutil.NewConfig()

	events := event.NewService(event.ServiceParams{DB: db, Node: node, Config: cfg})
	ldg := ledger.NewService(ledger.ServiceParams{DB: db, Node: node})
	inv := inventory.NewService(inventory.ServiceParams{DB: db, Node: node, Config: cfg, Ledger: ldg})
	cat := catalog.NewService(catalog.ServiceParams{DB: db, Node: node, Events: events})
	n := &recordingNotifier{}
	svc := NewService(ServiceParams{DB: db, Node: node, Config: cfg, Events: events, Ledger: ldg, Inventory: inv, Notifier: n})

	evt, err := events.CreateEvent(context.Background(), event.CreateEventRequest{Name: "Birdwatch", ActorID: "mod"})
	require.NoError(t, err)

	return &fixture{svc: svc, catalog: cat, ledger: ldg, events: events, notifier: n, db: db, evt: evt}
}

func (f *fixture) submit(t *testing.T, participantID string, at time.Time, items ...model.SubItem) *model.Submission {
	t.Helper()
	f.seq++
	sub := &model.Submission{
		ID:            fmt.Sprintf("sub-%d", f.seq),
		ParticipantID: participantID,
		EventID:       f.evt.ID,
		SubItems:      items,
		CreatedAt:     at,
	}
	require.NoError(t, f.db.Create(sub).Error)
	return sub
}

func (f *fixture) pointsTrigger(t *testing.T, kind model.TriggerKind, config string, points int64) *model.Trigger {
	t.Helper()
	tr, err := f.svc.CreateTrigger(context.Background(), CreateTriggerRequest{
		EventID:       f.evt.ID,
		Kind:          kind,
		Config:        json.RawMessage(config),
		PointsGranted: &points,
		Mutation:      mod,
	})
	require.NoError(t, err)
	return tr
}

func TestCreateTriggerValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	points := int64(10)

	_, err := f.svc.CreateTrigger(ctx, CreateTriggerRequest{Kind: model.TriggerKindConsecutiveDayStreak, Config: json.RawMessage(`{"threshold":3}`), PointsGranted: &points, Mutation: mod})
	require.True(t, errutil.IsValidation(err), "streak needs an event")

	_, err = f.svc.CreateTrigger(ctx, CreateTriggerRequest{EventID: f.evt.ID, Kind: model.TriggerKindConsecutiveDayStreak, Config: json.RawMessage(`{"threshold":3}`), Mutation: mod})
	require.True(t, errutil.IsValidation(err), "nothing to grant")

	zero := int64(0)
	_, err = f.svc.CreateTrigger(ctx, CreateTriggerRequest{EventID: f.evt.ID, Kind: model.TriggerKindConsecutiveDayStreak, Config: json.RawMessage(`{"threshold":3}`), PointsGranted: &zero, Mutation: mod})
	require.True(t, errutil.IsValidation(err))

	_, err = f.svc.CreateTrigger(ctx, CreateTriggerRequest{EventID: f.evt.ID, Kind: model.TriggerKindConsecutiveDayStreak, Config: json.RawMessage(`{"threshold":3}`), PointsGranted: &points, Condition: "streak +", Mutation: mod})
	require.True(t, errutil.IsValidation(err))

	global, err := f.svc.CreateTrigger(ctx, CreateTriggerRequest{Kind: model.TriggerKindGlobalPointTotal, Config: json.RawMessage(`{"threshold":100}`), PointsGranted: &points, Mutation: mod})
	require.NoError(t, err)
	require.True(t, global.IsGlobal())

	list, err := f.svc.ListTriggers(ctx, "")
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestEvaluateStreakGrantedExactlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := f.pointsTrigger(t, model.TriggerKindConsecutiveDayStreak, `{"threshold":3}`, 50)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.submit(t, "p1", base)
	s2 := f.submit(t, "p1", base.AddDate(0, 0, 1))

	grants, err := f.svc.Evaluate(ctx, "p1", f.evt.ID, s2)
	require.NoError(t, err)
	require.Empty(t, grants)

	s3 := f.submit(t, "p1", base.AddDate(0, 0, 2))
	grants, err = f.svc.Evaluate(ctx, "p1", f.evt.ID, s3)
	require.NoError(t, err)
	require.Len(t, grants, 1)
	require.Equal(t, tr.ID, grants[0].TriggerID)
	require.Equal(t, "3-day streak", grants[0].Label)
	require.Equal(t, int64(50), grants[0].Points)

	s4 := f.submit(t, "p1", base.AddDate(0, 0, 3))
	grants, err = f.svc.Evaluate(ctx, "p1", f.evt.ID, s4)
	require.NoError(t, err)
	require.Empty(t, grants)

	total, err := f.ledger.EventTotal(ctx, "p1", f.evt.ID)
	require.NoError(t, err)
	require.Equal(t, int64(50), total)

	var logs int64
	require.NoError(t, f.db.Model(&model.GrantLog{}).Where("participant_id = ? AND trigger_id = ?", "p1", tr.ID).Count(&logs).Error)
	require.Equal(t, int64(1), logs)
	require.Len(t, f.notifier.grants, 1)
}

func TestEvaluateStreakBrokenByGap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.pointsTrigger(t, model.TriggerKindConsecutiveDayStreak, `{"threshold":2}`, 5)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.submit(t, "p1", base)
	last := f.submit(t, "p1", base.AddDate(0, 0, 2))

	grants, err := f.svc.Evaluate(ctx, "p1", f.evt.ID, last)
	require.NoError(t, err)
	require.Empty(t, grants)
}

func TestEvaluateConcurrentPassesGrantOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.pointsTrigger(t, model.TriggerKindTotalSubmissionCount, `{"threshold":1}`, 7)
	sub := f.submit(t, "p1", time.Now())

	var wg sync.WaitGroup
	results := make(chan int, 4)
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			grants, err := f.svc.Evaluate(ctx, "p1", f.evt.ID, sub)
			errs <- err
			results <- len(grants)
		}()
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	total := 0
	for n := range results {
		total += n
	}
	require.Equal(t, 1, total)

	p, err := f.ledger.GetBalance(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, int64(7), p.Balance)
}

func TestGrantLogUniqueViolationSkipsTrigger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := f.pointsTrigger(t, model.TriggerKindTotalSubmissionCount, `{"threshold":1}`, 7)
	sub := f.submit(t, "p1", time.Now())

	// a racing pass that committed between the pending check and the insert
	ct := &compiledTrigger{Trigger: tr, Spec: &TotalSubmissionCount{threshold{1}}}
	require.NoError(t, f.db.Create(&model.GrantLog{ID: "g-race", ParticipantID: "p1", TriggerID: tr.ID, CreatedAt: time.Now()}).Error)

	err := f.db.Transaction(func(tx *gorm.DB) error {
		_, err := f.svc.grant(ctx, tx, "p1", sub, ct)
		return err
	})
	require.ErrorIs(t, err, errAlreadyGranted)

	p, err := f.ledger.GetBalance(ctx, "p1")
	require.NoError(t, err)
	require.Zero(t, p.Balance)
}

func TestEvaluateRewardTrigger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reward, err := f.catalog.CreateReward(ctx, catalog.CreateRewardRequest{Key: "binoculars", Name: "Binoculars", Kind: model.RewardKindTitle})
	require.NoError(t, err)
	rb, err := f.catalog.LinkReward(ctx, catalog.LinkRewardRequest{EventID: f.evt.ID, RewardID: reward.ID, Availability: model.AvailabilityOnTrigger, Mutation: mod})
	require.NoError(t, err)

	_, err = f.svc.CreateTrigger(ctx, CreateTriggerRequest{
		EventID:         f.evt.ID,
		Kind:            model.TriggerKindDistinctSubItemCount,
		Config:          json.RawMessage(`{"threshold":2,"sub_group":"birds"}`),
		RewardBindingID: &rb.ID,
		Mutation:        mod,
	})
	require.NoError(t, err)

	f.submit(t, "p1", time.Now(), model.SubItem{ID: "robin", Group: "birds"})
	sub := f.submit(t, "p1", time.Now(), model.SubItem{ID: "Wren", Group: "Birds"})

	grants, err := f.svc.Evaluate(ctx, "p1", f.evt.ID, sub)
	require.NoError(t, err)
	require.Len(t, grants, 1)
	require.NotNil(t, grants[0].RewardName)
	require.Equal(t, "Binoculars", *grants[0].RewardName)

	var entry model.InventoryEntry
	require.NoError(t, f.db.Where("participant_id = ? AND reward_id = ?", "p1", reward.ID).First(&entry).Error)
	require.Equal(t, int64(1), entry.Quantity)
}

func TestEvaluateSkipsTriggerWithUnlinkedReward(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reward, err := f.catalog.CreateReward(ctx, catalog.CreateRewardRequest{Key: "hat", Name: "Hat", Kind: model.RewardKindTitle})
	require.NoError(t, err)
	rb, err := f.catalog.LinkReward(ctx, catalog.LinkRewardRequest{EventID: f.evt.ID, RewardID: reward.ID, Availability: model.AvailabilityOnTrigger, Mutation: mod})
	require.NoError(t, err)
	tr, err := f.svc.CreateTrigger(ctx, CreateTriggerRequest{
		EventID:         f.evt.ID,
		Kind:            model.TriggerKindTotalSubmissionCount,
		Config:          json.RawMessage(`{"threshold":1}`),
		RewardBindingID: &rb.ID,
		Mutation:        mod,
	})
	require.NoError(t, err)

	// warm the cache, then unlink behind its back
	_, err = f.svc.definitions(ctx, f.evt.ID)
	require.NoError(t, err)
	require.NoError(t, f.catalog.UnlinkReward(ctx, catalog.UnlinkRequest{BindingID: rb.ID, Mutation: mod}))

	sub := f.submit(t, "p1", time.Now())
	grants, err := f.svc.Evaluate(ctx, "p1", f.evt.ID, sub)
	require.NoError(t, err)
	require.Empty(t, grants)

	var logs int64
	require.NoError(t, f.db.Model(&model.GrantLog{}).Where("trigger_id = ?", tr.ID).Count(&logs).Error)
	require.Zero(t, logs)
}

func TestEvaluateGlobalTriggerCreditsWithoutEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	points := int64(25)
	_, err := f.svc.CreateTrigger(ctx, CreateTriggerRequest{
		Kind:          model.TriggerKindGlobalSubmissionCount,
		Config:        json.RawMessage(`{"threshold":2}`),
		PointsGranted: &points,
		Mutation:      mod,
	})
	require.NoError(t, err)

	f.submit(t, "p1", time.Now())
	sub := f.submit(t, "p1", time.Now())

	grants, err := f.svc.Evaluate(ctx, "p1", f.evt.ID, sub)
	require.NoError(t, err)
	require.Len(t, grants, 1)

	total, err := f.ledger.EventTotal(ctx, "p1", f.evt.ID)
	require.NoError(t, err)
	require.Zero(t, total)

	p, err := f.ledger.GetBalance(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, int64(25), p.LifetimeEarned)
}

func TestEvaluateCondition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	points := int64(3)
	_, err := f.svc.CreateTrigger(ctx, CreateTriggerRequest{
		EventID:       f.evt.ID,
		Kind:          model.TriggerKindTotalSubmissionCount,
		Config:        json.RawMessage(`{"threshold":1}`),
		Condition:     `"heron" in current_tags`,
		PointsGranted: &points,
		Mutation:      mod,
	})
	require.NoError(t, err)

	sub := f.submit(t, "p1", time.Now(), model.SubItem{ID: "robin"})
	grants, err := f.svc.Evaluate(ctx, "p1", f.evt.ID, sub)
	require.NoError(t, err)
	require.Empty(t, grants)

	sub = f.submit(t, "p1", time.Now(), model.SubItem{ID: "Heron"})
	grants, err = f.svc.Evaluate(ctx, "p1", f.evt.ID, sub)
	require.NoError(t, err)
	require.Len(t, grants, 1)
}

func TestDeleteTriggerInvalidatesCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := f.pointsTrigger(t, model.TriggerKindTotalSubmissionCount, `{"threshold":1}`, 1)

	defs, err := f.svc.definitions(ctx, f.evt.ID)
	require.NoError(t, err)
	require.Len(t, defs, 1)

	require.NoError(t, f.svc.DeleteTrigger(ctx, DeleteTriggerRequest{TriggerID: tr.ID, Mutation: mod}))

	defs, err = f.svc.definitions(ctx, f.evt.ID)
	require.NoError(t, err)
	require.Empty(t, defs)
}

func TestDeleteTriggerEmptyID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.pointsTrigger(t, model.TriggerKindTotalSubmissionCount, `{"threshold":1}`, 1)

	err := f.svc.DeleteTrigger(ctx, DeleteTriggerRequest{Mutation: mod})
	require.True(t, errutil.IsNotFound(err))

	var n int64
	require.NoError(t, f.db.Model(&model.Trigger{}).Count(&n).Error)
	require.Equal(t, int64(1), n)
}

func TestHandleEvaluateTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.pointsTrigger(t, model.TriggerKindTotalSubmissionCount, `{"threshold":1}`, 4)
	sub := f.submit(t, "p1", time.Now())

	task, err := NewEvaluateTask(EvaluatePayload{ParticipantID: "p1", EventID: f.evt.ID, SubmissionID: sub.ID})
	require.NoError(t, err)
	require.Equal(t, taskname.TriggerEvaluate, task.Type())
	require.NoError(t, f.svc.HandleEvaluateTask(ctx, task))

	p, err := f.ledger.GetBalance(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, int64(4), p.Balance)

	err = f.svc.HandleEvaluateTask(ctx, asynq.NewTask(taskname.TriggerEvaluate, []byte("nope")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}
