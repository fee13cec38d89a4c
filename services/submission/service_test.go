package submission

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"smallbiznis-engagement/pkg/errutil"
	"smallbiznis-engagement/pkg/taskname"
	"smallbiznis-engagement/services/catalog"
	"smallbiznis-engagement/services/event"
	"smallbiznis-engagement/services/inventory"
	"smallbiznis-engagement/services/ledger"
	"smallbiznis-engagement/services/model"
	"smallbiznis-engagement/services/trigger"
	"smallbiznis-engagement/services/testutil"

	"github.com/hibiken/asynq"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var mod = catalog.Mutation{ActorID: "mod", Reason: "setup"}

type fixture struct {
	svc       *Service
	catalog   *catalog.Service
	events    *event.Service
	ledger    *ledger.Service
	inventory *inventory.Service
	triggers  *trigger.Service
	db        *gorm.DB
	evt       *model.Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewTestDB(t)
	node := testutil.NewNode(t)
	cfg := testutil.NewConfig()

	events := event.NewService(event.ServiceParams{DB: db, Node: node, Config: cfg})
	ldg := ledger.NewService(ledger.ServiceParams{DB: db, Node: node})
	inv := inventory.NewService(inventory.ServiceParams{DB: db, Node: node, Config: cfg, Ledger: ldg})
	cat := catalog.NewService(catalog.ServiceParams{DB: db, Node: node, Events: events})
	trg := trigger.NewService(trigger.ServiceParams{DB: db, Node: node, Config: cfg, Events: events, Ledger: ldg, Inventory: inv})
	svc := NewService(ServiceParams{DB: db, Node: node, Config: cfg, Ledger: ldg, Inventory: inv, Triggers: trg})

	evt, err := events.CreateEvent(context.Background(), event.CreateEventRequest{Name: "Birdwatch", ActorID: "mod"})
	require.NoError(t, err)

	return &fixture{svc: svc, catalog: cat, events: events, ledger: ldg, inventory: inv, triggers: trg, db: db, evt: evt}
}

func (f *fixture) bind(t *testing.T, key string, kinds []model.FieldKind, req catalog.LinkActionRequest) *model.ActionBinding {
	t.Helper()
	ctx := context.Background()
	def, err := f.catalog.CreateActionDefinition(ctx, catalog.CreateActionDefinitionRequest{Key: key, Name: "Log " + key, FieldKinds: kinds})
	require.NoError(t, err)

	req.EventID = f.evt.ID
	req.ActionDefinitionID = def.ID
	req.Mutation = mod
	b, err := f.catalog.LinkAction(ctx, req)
	require.NoError(t, err)
	return b
}

// moveTo walks the fixture event forward until it reaches status.
func (f *fixture) moveTo(t *testing.T, status model.EventStatus) {
	t.Helper()
	ctx := context.Background()
	_, err := f.events.SetDisplayReference(ctx, event.SetDisplayReferenceRequest{EventID: f.evt.ID, ChannelID: "c", MessageID: "m", ActorID: "mod"})
	require.NoError(t, err)
	for _, to := range []model.EventStatus{model.EventStatusVisible, model.EventStatusActive} {
		f.evt, err = f.events.Transition(ctx, event.TransitionRequest{EventID: f.evt.ID, To: to, ActorID: "mod"})
		require.NoError(t, err)
		if to == status {
			return
		}
	}
}

type failingEvaluator struct{}

func (failingEvaluator) Evaluate(context.Context, string, string, *model.Submission) ([]trigger.Grant, error) {
	return nil, errutil.Storage("database is gone", errors.New("boom"))
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
}

func (e *fakeEnqueuer) Enqueue(_ context.Context, t *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	e.tasks = append(e.tasks, t)
	return &asynq.TaskInfo{ID: "task-1"}, nil
}

func TestValidateFields(t *testing.T) {
	all := []model.FieldKind{model.FieldKindURL, model.FieldKindNumeric, model.FieldKindBoolean, model.FieldKindDate, model.FieldKindText}
	valid := map[model.FieldKind]string{
		model.FieldKindURL:     "https://example.com/photo.jpg",
		model.FieldKindNumeric: "2.5",
		model.FieldKindBoolean: "Yes",
		model.FieldKindDate:    "2024-02-29",
		model.FieldKindText:    "spotted a heron",
	}

	payload, numeric, err := validateFields(all, valid)
	require.NoError(t, err)
	require.NotNil(t, numeric)
	require.Equal(t, 2.5, *numeric)
	require.Equal(t, "true", payload[model.FieldKindBoolean])

	cases := []struct {
		name  string
		kind  model.FieldKind
		value string
	}{
		{"ftp link", model.FieldKindURL, "ftp://example.com"},
		{"bare word link", model.FieldKindURL, "example"},
		{"negative number", model.FieldKindNumeric, "-1"},
		{"not a number", model.FieldKindNumeric, "three"},
		{"infinite", model.FieldKindNumeric, "Inf"},
		{"maybe", model.FieldKindBoolean, "maybe"},
		{"bad date format", model.FieldKindDate, "29/02/2024"},
		{"impossible date", model.FieldKindDate, "2023-02-29"},
		{"blank text", model.FieldKindText, "   "},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := validateFields([]model.FieldKind{tc.kind}, map[model.FieldKind]string{tc.kind: tc.value})
			require.True(t, errutil.IsValidation(err), "got %v", err)
		})
	}
}

func TestValidateFieldsListsEveryProblem(t *testing.T) {
	_, _, err := validateFields(
		[]model.FieldKind{model.FieldKindURL, model.FieldKindNumeric, model.FieldKindText},
		map[model.FieldKind]string{model.FieldKindNumeric: "x", model.FieldKindDate: "ignored"},
	)
	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Len(t, be.Details, 3)
}

func TestComputePoints(t *testing.T) {
	three, fraction, huge := 3.0, 2.59, 1e300

	p, err := computePoints(&model.ActionBinding{PointsBase: 10, IsNumericMultiplier: true}, &three)
	require.NoError(t, err)
	require.Equal(t, int64(30), p)

	p, err = computePoints(&model.ActionBinding{PointsBase: 10, IsNumericMultiplier: true}, &fraction)
	require.NoError(t, err)
	require.Equal(t, int64(25), p)

	p, err = computePoints(&model.ActionBinding{PointsBase: 10}, &three)
	require.NoError(t, err)
	require.Equal(t, int64(10), p)

	_, err = computePoints(&model.ActionBinding{PointsBase: 10, IsNumericMultiplier: true}, &huge)
	require.True(t, errutil.IsStorage(err))
}

func TestSubmitMultipliesNumericField(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.bind(t, "distance", []model.FieldKind{model.FieldKindNumeric}, catalog.LinkActionRequest{PointsBase: 10, IsNumericMultiplier: true, IsRepeatable: true})
	f.moveTo(t, model.EventStatusActive)

	res, err := f.svc.Submit(ctx, SubmitRequest{
		ParticipantID: "p1",
		BindingID:     b.ID,
		Fields:        map[model.FieldKind]string{model.FieldKindNumeric: "3", model.FieldKindURL: "ignored"},
	})
	require.NoError(t, err)
	require.Equal(t, int64(30), res.PointsAwarded)
	require.Nil(t, res.RewardName)
	require.Equal(t, f.evt.ID, res.Submission.EventID)
	require.NotContains(t, res.Submission.Fields.Data(), model.FieldKindURL)

	bal, err := f.ledger.GetBalance(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, int64(30), bal.Balance)

	total, err := f.ledger.EventTotal(ctx, "p1", f.evt.ID)
	require.NoError(t, err)
	require.Equal(t, int64(30), total)
}

func TestSubmitNonRepeatableOnlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.bind(t, "checkin", nil, catalog.LinkActionRequest{PointsBase: 5})
	f.moveTo(t, model.EventStatusActive)

	_, err := f.svc.Submit(ctx, SubmitRequest{ParticipantID: "p1", BindingID: b.ID})
	require.NoError(t, err)

	core, logs := observer.New(zapcore.InfoLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()
	alreadyDone := promtestutil.ToFloat64(submissionsTotal.WithLabelValues(outcomeAlreadyDone))
	failed := promtestutil.ToFloat64(submissionsTotal.WithLabelValues(string(errutil.StatusConflict)))

	_, err = f.svc.Submit(ctx, SubmitRequest{ParticipantID: "p1", BindingID: b.ID})
	require.True(t, errutil.IsConflict(err), "got %v", err)
	require.Equal(t, alreadyDone+1, promtestutil.ToFloat64(submissionsTotal.WithLabelValues(outcomeAlreadyDone)))
	require.Equal(t, failed, promtestutil.ToFloat64(submissionsTotal.WithLabelValues(string(errutil.StatusConflict))))
	require.Zero(t, logs.FilterLevelExact(zapcore.WarnLevel).Len())
	require.Equal(t, 1, logs.FilterMessage("submission already recorded").Len())

	_, err = f.svc.Submit(ctx, SubmitRequest{ParticipantID: "p2", BindingID: b.ID})
	require.NoError(t, err)

	bal, err := f.ledger.GetBalance(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, int64(5), bal.Balance)
}

func TestSubmitRepeatable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.bind(t, "sighting", []model.FieldKind{model.FieldKindText}, catalog.LinkActionRequest{PointsBase: 2, IsRepeatable: true})
	f.moveTo(t, model.EventStatusActive)

	for range 3 {
		_, err := f.svc.Submit(ctx, SubmitRequest{
			ParticipantID: "p1",
			BindingID:     b.ID,
			Fields:        map[model.FieldKind]string{model.FieldKindText: "robin"},
			SubItems:      []model.SubItem{{ID: "robin"}},
		})
		require.NoError(t, err)
	}

	list, err := f.svc.ListSubmissions(ctx, ListSubmissionsRequest{ParticipantID: "p1", EventID: f.evt.ID})
	require.NoError(t, err)
	require.Len(t, list.Submissions, 3)
	for _, s := range list.Submissions {
		require.Nil(t, s.UniqueKey)
	}
}

func TestSubmitEventStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	early := f.bind(t, "early", nil, catalog.LinkActionRequest{PointsBase: 1, IsAllowedDuringVisible: true})
	regular := f.bind(t, "regular", nil, catalog.LinkActionRequest{PointsBase: 1})

	_, err := f.svc.Submit(ctx, SubmitRequest{ParticipantID: "p1", BindingID: early.ID})
	require.True(t, errutil.IsState(err), "draft accepts nothing: %v", err)

	f.moveTo(t, model.EventStatusVisible)

	_, err = f.svc.Submit(ctx, SubmitRequest{ParticipantID: "p1", BindingID: regular.ID})
	require.True(t, errutil.IsState(err))

	_, err = f.svc.Submit(ctx, SubmitRequest{ParticipantID: "p1", BindingID: early.ID})
	require.NoError(t, err)
}

func TestSubmitRejectsInactiveAction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.bind(t, "retired", nil, catalog.LinkActionRequest{PointsBase: 1})
	f.moveTo(t, model.EventStatusActive)
	require.NoError(t, f.db.Model(&model.ActionDefinition{}).Where("id = ?", b.ActionDefinitionID).Update("is_active", false).Error)

	_, err := f.svc.Submit(ctx, SubmitRequest{ParticipantID: "p1", BindingID: b.ID})
	require.True(t, errutil.IsState(err))
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.bind(t, "photo", []model.FieldKind{model.FieldKindURL, model.FieldKindDate}, catalog.LinkActionRequest{PointsBase: 1})
	f.moveTo(t, model.EventStatusActive)

	_, err := f.svc.Submit(ctx, SubmitRequest{ParticipantID: "p1", BindingID: "missing"})
	require.True(t, errutil.IsValidation(err))

	_, err = f.svc.Submit(ctx, SubmitRequest{BindingID: b.ID})
	require.True(t, errutil.IsValidation(err))

	_, err = f.svc.Submit(ctx, SubmitRequest{
		ParticipantID: "p1",
		BindingID:     b.ID,
		Fields:        map[model.FieldKind]string{model.FieldKindURL: "not a link", model.FieldKindDate: "2024-13-01"},
	})
	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Len(t, be.Details, 2)

	var n int64
	require.NoError(t, f.db.Model(&model.Submission{}).Count(&n).Error)
	require.Zero(t, n)
}

func TestSubmitGrantsDirectReward(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reward, err := f.catalog.CreateReward(ctx, catalog.CreateRewardRequest{Key: "early-bird", Name: "Early Bird", Kind: model.RewardKindTitle})
	require.NoError(t, err)
	rb, err := f.catalog.LinkReward(ctx, catalog.LinkRewardRequest{EventID: f.evt.ID, RewardID: reward.ID, Availability: model.AvailabilityOnAction, Mutation: mod})
	require.NoError(t, err)
	b := f.bind(t, "dawn", nil, catalog.LinkActionRequest{PointsBase: 0, RewardBindingID: &rb.ID})
	f.moveTo(t, model.EventStatusActive)

	res, err := f.svc.Submit(ctx, SubmitRequest{ParticipantID: "p1", BindingID: b.ID})
	require.NoError(t, err)
	require.Zero(t, res.PointsAwarded)
	require.NotNil(t, res.RewardName)
	require.Equal(t, "Early Bird", *res.RewardName)
	require.Equal(t, rb.ID, *res.Submission.RewardBindingID)

	items, err := f.inventory.ListInventory(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, reward.ID, items[0].RewardID)

	bal, err := f.ledger.GetBalance(ctx, "p1")
	require.NoError(t, err)
	require.Zero(t, bal.Balance)
}

func TestSubmitEvaluatesTriggers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.bind(t, "count", nil, catalog.LinkActionRequest{PointsBase: 10, IsRepeatable: true})

	bonus := int64(5)
	_, err := f.triggers.CreateTrigger(ctx, trigger.CreateTriggerRequest{
		EventID:       f.evt.ID,
		Kind:          model.TriggerKindTotalSubmissionCount,
		Config:        json.RawMessage(`{"threshold":2}`),
		PointsGranted: &bonus,
		Mutation:      mod,
	})
	require.NoError(t, err)
	f.moveTo(t, model.EventStatusActive)

	res, err := f.svc.Submit(ctx, SubmitRequest{ParticipantID: "p1", BindingID: b.ID})
	require.NoError(t, err)
	require.Empty(t, res.GrantedTriggers)

	res, err = f.svc.Submit(ctx, SubmitRequest{ParticipantID: "p1", BindingID: b.ID})
	require.NoError(t, err)
	require.Len(t, res.GrantedTriggers, 1)
	require.Equal(t, int64(5), res.GrantedTriggers[0].Points)

	res, err = f.svc.Submit(ctx, SubmitRequest{ParticipantID: "p1", BindingID: b.ID})
	require.NoError(t, err)
	require.Empty(t, res.GrantedTriggers)

	bal, err := f.ledger.GetBalance(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, int64(35), bal.Balance)
}

func TestSubmitSurvivesEvaluationFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.bind(t, "resilient", nil, catalog.LinkActionRequest{PointsBase: 4})
	f.moveTo(t, model.EventStatusActive)

	enq := &fakeEnqueuer{}
	f.svc.evaluator = failingEvaluator{}
	f.svc.enqueuer = enq

	res, err := f.svc.Submit(ctx, SubmitRequest{ParticipantID: "p1", BindingID: b.ID})
	require.NoError(t, err)
	require.Empty(t, res.GrantedTriggers)

	require.Len(t, enq.tasks, 1)
	require.Equal(t, taskname.TriggerEvaluate, enq.tasks[0].Type())

	var payload trigger.EvaluatePayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &payload))
	require.Equal(t, res.Submission.ID, payload.SubmissionID)
	require.Equal(t, "p1", payload.ParticipantID)

	bal, err := f.ledger.GetBalance(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, int64(4), bal.Balance)
}
