package promotion

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/merchkit/promo-engine/internal/domain/product"
)

// --- Mock implementations ---

// fakeProductStore is an in-memory product.Repository tracking promotion
// links and clearance flags.
type fakeProductStore struct {
	products map[string]*product.Product
}

func newFakeProductStore(products ...product.Product) *fakeProductStore {
	byID := make(map[string]*product.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}
	return &fakeProductStore{products: byID}
}

func (f *fakeProductStore) GetByID(_ context.Context, id string) (*product.Product, error) {
	p, ok := f.products[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeProductStore) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	var out []product.Product
	for _, id := range ids {
		if p, ok := f.products[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeProductStore) AllIDs(context.Context) ([]string, error) {
	var ids []string
	for id := range f.products {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func (f *fakeProductStore) IDsByCategories(_ context.Context, categories []string) ([]string, error) {
	var ids []string
	for id, p := range f.products {
		if slices.Contains(categories, p.Category) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (f *fakeProductStore) ExistingIDs(_ context.Context, ids []string) ([]string, error) {
	var out []string
	for _, id := range ids {
		if _, ok := f.products[id]; ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (f *fakeProductStore) ClearanceIDs(context.Context) ([]string, error) {
	var ids []string
	for id, p := range f.products {
		if p.OnClearance {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (f *fakeProductStore) IDsByPromotion(_ context.Context, promotionID string) ([]string, error) {
	var ids []string
	for id, p := range f.products {
		if p.PromotionID == promotionID {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (f *fakeProductStore) LinkPromotion(_ context.Context, promotionID string, _ int, ids []string) error {
	for _, id := range ids {
		if p, ok := f.products[id]; ok {
			p.PromotionID = promotionID
		}
	}
	return nil
}

func (f *fakeProductStore) UnlinkPromotion(_ context.Context, promotionID string, ids []string) error {
	for id, p := range f.products {
		if p.PromotionID != promotionID {
			continue
		}
		if len(ids) == 0 || slices.Contains(ids, id) {
			p.PromotionID = ""
		}
	}
	return nil
}

func (f *fakeProductStore) MarkClearance(_ context.Context, ids []string, percent decimal.Decimal) (int64, error) {
	var n int64
	for _, id := range ids {
		if p, ok := f.products[id]; ok {
			p.OnClearance = true
			p.DiscountPercent = percent
			n++
		}
	}
	return n, nil
}

func (f *fakeProductStore) UpdateDiscountCache(_ context.Context, id string, price decimal.Decimal) error {
	if p, ok := f.products[id]; ok {
		p.DiscountedPrice = price
	}
	return nil
}

// fakePromoStore overlays GetByID and Delete on the scheduler mock.
type fakePromoStore struct {
	mockPromotionRepo
	byID    map[string]*Promotion
	deleted []string
}

func (f *fakePromoStore) GetByID(_ context.Context, id string) (*Promotion, error) {
	p, ok := f.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

func (f *fakePromoStore) Delete(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	delete(f.byID, id)
	return nil
}

type recordingRefresher struct {
	calls [][]string
}

func (r *recordingRefresher) RefreshMany(_ context.Context, ids []string, _ time.Time) (int, error) {
	r.calls = append(r.calls, slices.Clone(ids))
	return len(ids), nil
}

// --- Helpers ---

func catalogProduct(id, category string) product.Product {
	return product.Product{ID: id, Category: category, BasePrice: decimal.NewFromInt(20)}
}

func newApplicatorFixture(promo *Promotion, products ...product.Product) (*Applicator, *fakeProductStore, *fakePromoStore, *recordingRefresher) {
	store := newFakeProductStore(products...)
	promos := &fakePromoStore{byID: map[string]*Promotion{}}
	if promo != nil {
		promos.byID[promo.ID] = promo
	}
	refresher := &recordingRefresher{}
	return NewApplicator(store, promos, refresher, zap.NewNop()), store, promos, refresher
}

// --- Tests ---

func TestAssign_CategoryScope(t *testing.T) {
	promo := validPromotion()
	scope := Scope{Kind: ScopeCategory, Categories: []string{"apparel"}}
	a, store, _, refresher := newApplicatorFixture(promo,
		catalogProduct("p1", "apparel"),
		catalogProduct("p2", "apparel"),
		catalogProduct("p3", "kitchen"),
	)

	count, err := a.Assign(context.Background(), promo.ID, scope, scheduleNow)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	linked, _ := store.IDsByPromotion(context.Background(), promo.ID)
	assert.Equal(t, []string{"p1", "p2"}, linked)
	assert.Empty(t, store.products["p3"].PromotionID)

	require.Len(t, refresher.calls, 1)
	assert.ElementsMatch(t, []string{"p1", "p2"}, refresher.calls[0])
}

func TestAssign_Idempotent(t *testing.T) {
	promo := validPromotion()
	scope := Scope{Kind: ScopeStoreWide}
	a, store, _, _ := newApplicatorFixture(promo,
		catalogProduct("p1", "apparel"),
		catalogProduct("p2", "kitchen"),
	)

	first, err := a.Assign(context.Background(), promo.ID, scope, scheduleNow)
	require.NoError(t, err)
	second, err := a.Assign(context.Background(), promo.ID, scope, scheduleNow)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	linked, _ := store.IDsByPromotion(context.Background(), promo.ID)
	assert.Equal(t, []string{"p1", "p2"}, linked)
}

func TestAssign_UnlinksOutOfScopeProducts(t *testing.T) {
	promo := validPromotion()
	p1 := catalogProduct("p1", "apparel")
	p2 := catalogProduct("p2", "kitchen")
	p2.PromotionID = promo.ID // linked by an earlier, wider assignment

	a, store, _, refresher := newApplicatorFixture(promo, p1, p2)

	scope := Scope{Kind: ScopeCategory, Categories: []string{"apparel"}}
	count, err := a.Assign(context.Background(), promo.ID, scope, scheduleNow)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	assert.Equal(t, promo.ID, store.products["p1"].PromotionID)
	assert.Empty(t, store.products["p2"].PromotionID)

	// Both the newly linked and the unlinked product get their price redone.
	require.Len(t, refresher.calls, 1)
	assert.ElementsMatch(t, []string{"p1", "p2"}, refresher.calls[0])
}

func TestAssign_ProductSetSkipsUnknownIDs(t *testing.T) {
	promo := validPromotion()
	a, store, _, _ := newApplicatorFixture(promo, catalogProduct("p1", "apparel"))

	scope := Scope{Kind: ScopeProductSet, ProductIDs: []string{"p1", "ghost"}}
	count, err := a.Assign(context.Background(), promo.ID, scope, scheduleNow)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	linked, _ := store.IDsByPromotion(context.Background(), promo.ID)
	assert.Equal(t, []string{"p1"}, linked)
}

func TestAssign_InvalidScope(t *testing.T) {
	promo := validPromotion()
	a, _, _, refresher := newApplicatorFixture(promo, catalogProduct("p1", "apparel"))

	_, err := a.Assign(context.Background(), promo.ID, Scope{Kind: ScopeCategory}, scheduleNow)

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Empty(t, refresher.calls)
}

func TestAssign_UnknownPromotion(t *testing.T) {
	a, _, _, _ := newApplicatorFixture(nil, catalogProduct("p1", "apparel"))

	_, err := a.Assign(context.Background(), "missing", Scope{Kind: ScopeStoreWide}, scheduleNow)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestApplyClearance(t *testing.T) {
	a, store, _, refresher := newApplicatorFixture(nil,
		catalogProduct("p1", "apparel"),
		catalogProduct("p2", "kitchen"),
	)

	updated, err := a.ApplyClearance(context.Background(), []string{"p1", "p2"}, decimal.NewFromInt(30), scheduleNow)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated)

	assert.True(t, store.products["p1"].OnClearance)
	assert.True(t, store.products["p1"].DiscountPercent.Equal(decimal.NewFromInt(30)))
	require.Len(t, refresher.calls, 1)
}

func TestApplyClearance_RejectsBadInput(t *testing.T) {
	a, _, _, _ := newApplicatorFixture(nil, catalogProduct("p1", "apparel"))

	var vErr *ValidationError
	_, err := a.ApplyClearance(context.Background(), nil, decimal.NewFromInt(10), scheduleNow)
	require.ErrorAs(t, err, &vErr)

	_, err = a.ApplyClearance(context.Background(), []string{"p1"}, decimal.NewFromInt(120), scheduleNow)
	require.ErrorAs(t, err, &vErr)

	_, err = a.ApplyClearance(context.Background(), []string{"p1"}, decimal.Zero, scheduleNow)
	require.ErrorAs(t, err, &vErr)
}

func TestDelete_UnlinksEveryProduct(t *testing.T) {
	promo := validPromotion()
	p1 := catalogProduct("p1", "apparel")
	p1.PromotionID = promo.ID
	p2 := catalogProduct("p2", "kitchen")
	p2.PromotionID = promo.ID

	a, store, promos, refresher := newApplicatorFixture(promo, p1, p2)

	require.NoError(t, a.Delete(context.Background(), promo.ID, scheduleNow))

	linked, _ := store.IDsByPromotion(context.Background(), promo.ID)
	assert.Empty(t, linked, "no product may reference a deleted promotion")
	assert.Equal(t, []string{promo.ID}, promos.deleted)

	require.Len(t, refresher.calls, 1)
	assert.ElementsMatch(t, []string{"p1", "p2"}, refresher.calls[0])
}

func TestDelete_UnknownPromotion(t *testing.T) {
	a, _, promos, _ := newApplicatorFixture(nil)

	err := a.Delete(context.Background(), "missing", scheduleNow)
	require.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, promos.deleted)
}

func TestChunks(t *testing.T) {
	assert.Nil(t, chunks(nil, 2))
	assert.Equal(t, [][]string{{"a", "b"}, {"c"}}, chunks([]string{"a", "b", "c"}, 2))
	assert.Equal(t, [][]string{{"a", "b", "c"}}, chunks([]string{"a", "b", "c"}, 10))
}

func TestDifference(t *testing.T) {
	assert.Nil(t, difference(nil, []string{"a"}))
	assert.Equal(t, []string{"b"}, difference([]string{"a", "b"}, []string{"a", "c"}))
	assert.Nil(t, difference([]string{"a"}, []string{"a"}))
}
