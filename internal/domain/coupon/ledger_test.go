package coupon

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/merchkit/promo-engine/internal/domain/promotion"
)

// --- Mock implementations ---

// fakeCouponStore is an in-memory Repository with the same conditional
// semantics as the SQL implementation.
type fakeCouponStore struct {
	coupons map[string]*Coupon // keyed by normalized code
}

func newFakeCouponStore(coupons ...*Coupon) *fakeCouponStore {
	byCode := make(map[string]*Coupon, len(coupons))
	for _, c := range coupons {
		byCode[NormalizeCode(c.Code)] = c
	}
	return &fakeCouponStore{coupons: byCode}
}

func (f *fakeCouponStore) Create(_ context.Context, c *Coupon) error {
	f.coupons[NormalizeCode(c.Code)] = c
	return nil
}

func (f *fakeCouponStore) Update(context.Context, *Coupon) error { return nil }
func (f *fakeCouponStore) Delete(context.Context, string) error  { return nil }

func (f *fakeCouponStore) GetByID(_ context.Context, id string) (*Coupon, error) {
	for _, c := range f.coupons {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, ErrNotFound
}

func (f *fakeCouponStore) FindByCode(_ context.Context, code string) (*Coupon, error) {
	c, ok := f.coupons[NormalizeCode(code)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeCouponStore) List(context.Context) ([]Coupon, error) { return nil, nil }

func (f *fakeCouponStore) ListPublic(_ context.Context, now time.Time) ([]Coupon, error) {
	var out []Coupon
	for _, c := range f.coupons {
		if c.IsPublic && promotion.IsActive(c.Schedule, now) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeCouponStore) TryIncrementUsage(_ context.Context, id string) (bool, error) {
	c, err := f.GetByID(context.Background(), id)
	if err != nil {
		return false, err
	}
	if c.UsageLimit > 0 && c.UsageCount >= c.UsageLimit {
		return false, nil
	}
	c.UsageCount++
	return true, nil
}

func (f *fakeCouponStore) ReleaseUsage(_ context.Context, id string) error {
	c, err := f.GetByID(context.Background(), id)
	if err != nil {
		return err
	}
	if c.UsageCount > 0 {
		c.UsageCount--
	}
	return nil
}

func (f *fakeCouponStore) ReserveByCode(_ context.Context, code string, cartTotal decimal.Decimal, now time.Time) (*Coupon, error) {
	c, ok := f.coupons[NormalizeCode(code)]
	if !ok || !promotion.IsActive(c.Schedule, now) {
		return nil, ErrNotFound
	}
	if c.UsageLimit > 0 && c.UsageCount >= c.UsageLimit {
		return nil, ErrNotFound
	}
	if c.MinimumPurchase.Sign() > 0 && cartTotal.LessThan(c.MinimumPurchase) {
		return nil, ErrNotFound
	}
	c.UsageCount++
	cp := *c
	return &cp, nil
}

func (f *fakeCouponStore) DeactivateExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}

// fakeOrderStore tracks a single coupon reference per order.
type fakeOrderStore struct {
	couponByOrder map[string]string
	claimErr      error
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{couponByOrder: map[string]string{}}
}

func (f *fakeOrderStore) ClaimCoupon(_ context.Context, orderID, couponID string) (bool, error) {
	if f.claimErr != nil {
		return false, f.claimErr
	}
	if _, taken := f.couponByOrder[orderID]; taken {
		return false, nil
	}
	f.couponByOrder[orderID] = couponID
	return true, nil
}

func (f *fakeOrderStore) ReleaseCoupon(_ context.Context, orderID, couponID string) error {
	if f.couponByOrder[orderID] == couponID {
		delete(f.couponByOrder, orderID)
	}
	return nil
}

func (f *fakeOrderStore) CouponOf(_ context.Context, orderID string) (string, error) {
	return f.couponByOrder[orderID], nil
}

// --- Helpers ---

var ledgerNow = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

func liveCoupon(code string) *Coupon {
	return &Coupon{
		ID:    "c-" + code,
		Code:  code,
		Kind:  promotion.Percentage,
		Value: decimal.NewFromInt(10),
		Schedule: promotion.Schedule{
			Active:  true,
			StartAt: ledgerNow.Add(-24 * time.Hour),
			EndAt:   ledgerNow.Add(24 * time.Hour),
		},
	}
}

func newLedger(coupons ...*Coupon) (*Ledger, *fakeCouponStore, *fakeOrderStore) {
	store := newFakeCouponStore(coupons...)
	orders := newFakeOrderStore()
	return NewLedger(store, orders, zap.NewNop()), store, orders
}

// --- Tests ---

func TestValidate_UnknownCode(t *testing.T) {
	l, _, _ := newLedger()

	v, err := l.Validate(context.Background(), "NOPE", decimal.NewFromInt(100), ledgerNow)
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Equal(t, "invalid coupon code", v.Message)
}

func TestValidate_CaseInsensitiveCode(t *testing.T) {
	l, _, _ := newLedger(liveCoupon("SAVE10"))

	v, err := l.Validate(context.Background(), "  save10 ", decimal.NewFromInt(100), ledgerNow)
	require.NoError(t, err)
	assert.True(t, v.Valid)
	require.NotNil(t, v.Coupon)
	assert.Equal(t, "SAVE10", v.Coupon.Code)
}

func TestValidate_Expired(t *testing.T) {
	c := liveCoupon("SAVE10")
	c.EndAt = ledgerNow.Add(-time.Hour)
	l, _, _ := newLedger(c)

	v, err := l.Validate(context.Background(), "SAVE10", decimal.NewFromInt(100), ledgerNow)
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Equal(t, "coupon has expired", v.Message)
}

func TestValidate_NotYetActive(t *testing.T) {
	c := liveCoupon("SAVE10")
	c.StartAt = ledgerNow.Add(time.Hour)
	c.EndAt = ledgerNow.Add(48 * time.Hour)
	l, _, _ := newLedger(c)

	v, err := l.Validate(context.Background(), "SAVE10", decimal.NewFromInt(100), ledgerNow)
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Equal(t, "coupon is not active", v.Message)
}

func TestValidate_UsageLimitReached(t *testing.T) {
	c := liveCoupon("SAVE10")
	c.UsageLimit = 5
	c.UsageCount = 5
	l, _, _ := newLedger(c)

	v, err := l.Validate(context.Background(), "SAVE10", decimal.NewFromInt(100), ledgerNow)
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Equal(t, "coupon usage limit reached", v.Message)
}

func TestValidate_MinimumPurchase(t *testing.T) {
	c := liveCoupon("SAVE10")
	c.MinimumPurchase = decimal.NewFromInt(50)
	l, _, _ := newLedger(c)

	v, err := l.Validate(context.Background(), "SAVE10", decimal.RequireFromString("49.99"), ledgerNow)
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Contains(t, v.Message, "$50.00")

	v, err = l.Validate(context.Background(), "SAVE10", decimal.NewFromInt(50), ledgerNow)
	require.NoError(t, err)
	assert.True(t, v.Valid)
}

func TestValidate_ZeroLimitIsUnlimited(t *testing.T) {
	c := liveCoupon("SAVE10")
	c.UsageLimit = 0
	c.UsageCount = 1_000_000
	l, _, _ := newLedger(c)

	v, err := l.Validate(context.Background(), "SAVE10", decimal.NewFromInt(100), ledgerNow)
	require.NoError(t, err)
	assert.True(t, v.Valid)
}

func TestApplyUsage_IncrementsUpToLimit(t *testing.T) {
	c := liveCoupon("SAVE10")
	c.UsageLimit = 2
	l, store, _ := newLedger(c)

	require.NoError(t, l.ApplyUsage(context.Background(), c.ID, "order-1"))
	require.NoError(t, l.ApplyUsage(context.Background(), c.ID, "order-2"))
	assert.Equal(t, 2, store.coupons["SAVE10"].UsageCount)

	// Attempt N+1 must fail and leave the counter at the limit.
	err := l.ApplyUsage(context.Background(), c.ID, "order-3")
	require.ErrorIs(t, err, ErrUsageLimitReached)
	assert.Equal(t, 2, store.coupons["SAVE10"].UsageCount)
}

func TestApplyUsage_IdempotentPerOrder(t *testing.T) {
	c := liveCoupon("SAVE10")
	l, store, _ := newLedger(c)

	require.NoError(t, l.ApplyUsage(context.Background(), c.ID, "order-1"))
	require.NoError(t, l.ApplyUsage(context.Background(), c.ID, "order-1"))
	assert.Equal(t, 1, store.coupons["SAVE10"].UsageCount, "repeat application must not double count")
}

func TestApplyUsage_OrderAlreadyHasOtherCoupon(t *testing.T) {
	a := liveCoupon("FIRST")
	b := liveCoupon("SECOND")
	l, store, _ := newLedger(a, b)

	require.NoError(t, l.ApplyUsage(context.Background(), a.ID, "order-1"))

	err := l.ApplyUsage(context.Background(), b.ID, "order-1")
	require.ErrorIs(t, err, ErrOrderHasCoupon)
	assert.Equal(t, 0, store.coupons["SECOND"].UsageCount)
}

func TestApplyUsage_ReleasesClaimWhenLimitHit(t *testing.T) {
	c := liveCoupon("SAVE10")
	c.UsageLimit = 1
	c.UsageCount = 1
	l, _, orders := newLedger(c)

	err := l.ApplyUsage(context.Background(), c.ID, "order-1")
	require.ErrorIs(t, err, ErrUsageLimitReached)

	current, _ := orders.CouponOf(context.Background(), "order-1")
	assert.Empty(t, current, "failed application must not leave the order claimed")
}

func TestReserve_Succeeds(t *testing.T) {
	c := liveCoupon("SAVE10")
	c.UsageLimit = 3
	l, store, orders := newLedger(c)

	v, err := l.Reserve(context.Background(), "save10", decimal.NewFromInt(100), "order-1", ledgerNow)
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.Equal(t, 1, store.coupons["SAVE10"].UsageCount)

	current, _ := orders.CouponOf(context.Background(), "order-1")
	assert.Equal(t, c.ID, current)
}

func TestReserve_ClassifiesGuardMiss(t *testing.T) {
	c := liveCoupon("SAVE10")
	c.UsageLimit = 1
	c.UsageCount = 1
	l, store, _ := newLedger(c)

	v, err := l.Reserve(context.Background(), "SAVE10", decimal.NewFromInt(100), "order-1", ledgerNow)
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Equal(t, "coupon usage limit reached", v.Message)
	assert.Equal(t, 1, store.coupons["SAVE10"].UsageCount)
}

func TestReserve_ReleasesUsageWhenOrderTaken(t *testing.T) {
	a := liveCoupon("FIRST")
	b := liveCoupon("SECOND")
	l, store, _ := newLedger(a, b)

	require.NoError(t, l.ApplyUsage(context.Background(), a.ID, "order-1"))

	_, err := l.Reserve(context.Background(), "SECOND", decimal.NewFromInt(100), "order-1", ledgerNow)
	require.ErrorIs(t, err, ErrOrderHasCoupon)
	assert.Equal(t, 0, store.coupons["SECOND"].UsageCount, "reservation must be undone")
}

func TestCouponValidate(t *testing.T) {
	c := liveCoupon("SAVE10")
	require.NoError(t, c.Validate())

	c.Code = "  "
	var vErr *promotion.ValidationError
	require.ErrorAs(t, c.Validate(), &vErr)
	assert.Equal(t, "code", vErr.Field)
}

func TestNormalizeCode(t *testing.T) {
	assert.Equal(t, "SAVE10", NormalizeCode("  save10 "))
	assert.Equal(t, "SAVE10", NormalizeCode("SAVE10"))
}
