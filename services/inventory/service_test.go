package inventory

import (
	"context"
	"testing"
	"time"

	"smallbiznis-engagement/pkg/errutil"
	"smallbiznis-engagement/services/ledger"
	"smallbiznis-engagement/services/model"
	"smallbiznis-engagement/services/testutil"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fixture struct {
	svc    *Service
	ledger *ledger.Service
	db     *gorm.DB
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewTestDB(t)
	node := testutil.NewNode(t)
	ldg := ledger.NewService(ledger.ServiceParams{DB: db, Node: node})
	svc := NewService(ServiceParams{DB: db, Node: node, Config: testutil.NewConfig(), Ledger: ldg})
	return &fixture{svc: svc, ledger: ldg, db: db}
}

func (f *fixture) reward(t *testing.T, id string, kind model.RewardKind, stackable bool) *model.Reward {
	t.Helper()
	r := &model.Reward{ID: id, Key: id, Name: "Reward " + id, Kind: kind, IsStackable: stackable, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	require.NoError(t, f.db.Create(r).Error)
	return r
}

func (f *fixture) shopBinding(t *testing.T, eventStatus model.EventStatus, rewardID string, price int64) *model.RewardBinding {
	t.Helper()
	evt := &model.Event{ID: "evt-" + rewardID, Code: "EVT-" + rewardID, Name: "Shop", Status: eventStatus, CreatedBy: "mod"}
	require.NoError(t, f.db.Create(evt).Error)
	b := &model.RewardBinding{
		ID:           "rb-" + rewardID,
		EventID:      evt.ID,
		RewardID:     rewardID,
		Availability: model.AvailabilityInShop,
		Price:        price,
		CompositeKey: evt.ID + "/" + rewardID + "/in-shop",
	}
	require.NoError(t, f.db.Create(b).Error)
	return b
}

func TestGrantRewardStackable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.reward(t, "coin", model.RewardKindDynamic, true)

	for i := 0; i < 3; i++ {
		res, err := f.svc.GrantReward(ctx, "p1", "coin")
		require.NoError(t, err)
		require.True(t, res.Granted)
	}

	var entry model.InventoryEntry
	require.NoError(t, f.db.Where("participant_id = ? AND reward_id = ?", "p1", "coin").First(&entry).Error)
	require.Equal(t, int64(3), entry.Quantity)

	var r model.Reward
	require.NoError(t, f.db.First(&r, "id = ?", "coin").Error)
	require.Equal(t, int64(3), r.GrantedCount)
}

func TestGrantRewardNonStackableIsNoopWhenOwned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.reward(t, "crown", model.RewardKindTitle, false)

	res, err := f.svc.GrantReward(ctx, "p1", "crown")
	require.NoError(t, err)
	require.True(t, res.Granted)

	res, err = f.svc.GrantReward(ctx, "p1", "crown")
	require.NoError(t, err)
	require.False(t, res.Granted)
	require.Equal(t, int64(1), res.Entry.Quantity)

	var r model.Reward
	require.NoError(t, f.db.First(&r, "id = ?", "crown").Error)
	require.Equal(t, int64(1), r.GrantedCount)
}

func TestGrantRewardUnknown(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.GrantReward(context.Background(), "p1", "missing")
	require.True(t, errutil.IsNotFound(err))
}

func TestEquip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.reward(t, "t1", model.RewardKindTitle, false)
	f.reward(t, "t2", model.RewardKindTitle, false)

	_, err := f.svc.Equip(ctx, "p1", "t1")
	require.True(t, errutil.IsValidation(err))

	for _, id := range []string{"t1", "t2"} {
		_, err := f.svc.GrantReward(ctx, "p1", id)
		require.NoError(t, err)
	}

	_, err = f.svc.Equip(ctx, "p1", "")
	require.True(t, errutil.IsValidation(err))

	entry, err := f.svc.Equip(ctx, "p1", "t1")
	require.NoError(t, err)
	require.True(t, entry.IsEquipped)

	// equipping twice is idempotent
	_, err = f.svc.Equip(ctx, "p1", "t1")
	require.NoError(t, err)

	_, err = f.svc.Equip(ctx, "p1", "t2")
	require.True(t, errutil.IsState(err))

	require.NoError(t, f.svc.Unequip(ctx, "p1", "t1"))
	_, err = f.svc.Equip(ctx, "p1", "t2")
	require.NoError(t, err)
}

func TestEquipBadgeCap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ids := []string{"b1", "b2", "b3", "b4"}
	for _, id := range ids {
		f.reward(t, id, model.RewardKindBadge, false)
		_, err := f.svc.GrantReward(ctx, "p1", id)
		require.NoError(t, err)
	}

	for _, id := range ids[:3] {
		_, err := f.svc.Equip(ctx, "p1", id)
		require.NoError(t, err)
	}
	_, err := f.svc.Equip(ctx, "p1", "b4")
	require.True(t, errutil.IsState(err))
}

func TestUnequipNeverFails(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.Unequip(context.Background(), "nobody", "nothing"))
}

func TestPurchase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.reward(t, "hat", model.RewardKindTitle, false)
	b := f.shopBinding(t, model.EventStatusActive, "hat", 40)

	_, err := f.svc.Purchase(ctx, PurchaseRequest{ParticipantID: "p1", RewardBindingID: b.ID})
	require.True(t, errutil.IsValidation(err))

	_, err = f.ledger.Credit(ctx, ledger.CreditParams{ParticipantID: "p1", Amount: 100})
	require.NoError(t, err)

	res, err := f.svc.Purchase(ctx, PurchaseRequest{ParticipantID: "p1", RewardBindingID: b.ID})
	require.NoError(t, err)
	require.Equal(t, int64(40), res.Spent)
	require.Equal(t, int64(60), res.Balance)

	_, err = f.svc.Purchase(ctx, PurchaseRequest{ParticipantID: "p1", RewardBindingID: b.ID})
	require.True(t, errutil.IsConflict(err))

	p, err := f.ledger.GetBalance(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, int64(60), p.Balance)
	require.Equal(t, int64(40), p.LifetimeSpent)

	items, err := f.svc.ListInventory(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "hat", items[0].Key)
}

func TestPurchaseRequiresActiveEvent(t *testing.T) {
	f := newFixture(t)
	f.reward(t, "cape", model.RewardKindTitle, false)
	b := f.shopBinding(t, model.EventStatusVisible, "cape", 0)

	_, err := f.svc.Purchase(context.Background(), PurchaseRequest{ParticipantID: "p1", RewardBindingID: b.ID})
	require.True(t, errutil.IsState(err))
}

func TestPurchaseRejectsNonShopBinding(t *testing.T) {
	f := newFixture(t)
	f.reward(t, "gem", model.RewardKindDynamic, true)
	b := f.shopBinding(t, model.EventStatusActive, "gem", 0)
	require.NoError(t, f.db.Model(b).Update("availability", model.AvailabilityOnTrigger).Error)

	_, err := f.svc.Purchase(context.Background(), PurchaseRequest{ParticipantID: "p1", RewardBindingID: b.ID})
	require.True(t, errutil.IsValidation(err))
}

func TestPurchaseFreeStackable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.reward(t, "sticker", model.RewardKindDynamic, true)
	b := f.shopBinding(t, model.EventStatusActive, "sticker", 0)

	for i := 0; i < 2; i++ {
		_, err := f.svc.Purchase(ctx, PurchaseRequest{ParticipantID: "p1", RewardBindingID: b.ID})
		require.NoError(t, err)
	}

	items, err := f.svc.ListInventory(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, int64(2), items[0].Quantity)
}
