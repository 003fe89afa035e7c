package promotion

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// --- Mock implementations ---

type mockPromotionRepo struct {
	storeWide   *Promotion
	created     *Promotion
	updated     *Promotion
	findErr     error
	deactivated int64
}

func (m *mockPromotionRepo) Create(_ context.Context, p *Promotion) error {
	m.created = p
	return nil
}

func (m *mockPromotionRepo) Update(_ context.Context, p *Promotion) error {
	m.updated = p
	return nil
}

func (m *mockPromotionRepo) Delete(context.Context, string) error { return nil }

func (m *mockPromotionRepo) GetByID(context.Context, string) (*Promotion, error) {
	return nil, ErrNotFound
}

func (m *mockPromotionRepo) GetByIDs(context.Context, []string) ([]Promotion, error) {
	return nil, nil
}

func (m *mockPromotionRepo) List(context.Context) ([]Promotion, error) { return nil, nil }

func (m *mockPromotionRepo) ListActive(context.Context, time.Time) ([]Promotion, error) {
	return nil, nil
}

func (m *mockPromotionRepo) FindStoreWide(context.Context) (*Promotion, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	if m.storeWide == nil {
		return nil, ErrNotFound
	}
	return m.storeWide, nil
}

func (m *mockPromotionRepo) DeactivateExpired(context.Context, time.Time) (int64, error) {
	return m.deactivated, nil
}

type mockExpiryStore struct {
	deactivated int64
	err         error
}

func (m *mockExpiryStore) DeactivateExpired(context.Context, time.Time) (int64, error) {
	return m.deactivated, m.err
}

// --- Tests ---

var scheduleNow = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

func liveSchedule() Schedule {
	return Schedule{
		Active:  true,
		StartAt: scheduleNow.Add(-24 * time.Hour),
		EndAt:   scheduleNow.Add(24 * time.Hour),
	}
}

func TestIsActive_InclusiveBounds(t *testing.T) {
	s := Schedule{
		Active:  true,
		StartAt: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		EndAt:   time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC),
	}

	assert.True(t, IsActive(s, s.StartAt), "exactly at start")
	assert.True(t, IsActive(s, s.EndAt), "exactly at end")
	assert.False(t, IsActive(s, s.StartAt.Add(-time.Second)), "one second before start")
	assert.False(t, IsActive(s, s.EndAt.Add(time.Second)), "one second after end")
	assert.True(t, IsActive(s, s.StartAt.Add(time.Second)), "one second after start")
	assert.True(t, IsActive(s, s.EndAt.Add(-time.Second)), "one second before end")
}

func TestIsActive_InactiveFlag(t *testing.T) {
	s := liveSchedule()
	s.Active = false
	assert.False(t, IsActive(s, scheduleNow))
}

func TestStateAt(t *testing.T) {
	s := liveSchedule()

	assert.Equal(t, StateLive, StateAt(s, scheduleNow))
	assert.Equal(t, StateScheduled, StateAt(s, s.StartAt.Add(-time.Hour)))
	assert.Equal(t, StateExpired, StateAt(s, s.EndAt.Add(time.Hour)))

	s.Active = false
	assert.Equal(t, StateDraft, StateAt(s, scheduleNow))
}

func TestReconcileExpired(t *testing.T) {
	promos := &mockPromotionRepo{deactivated: 3}
	coupons := &mockExpiryStore{deactivated: 2}
	s := NewScheduler(promos, coupons, zap.NewNop())

	promoCount, couponCount, err := s.ReconcileExpired(context.Background(), scheduleNow)
	require.NoError(t, err)
	assert.Equal(t, int64(3), promoCount)
	assert.Equal(t, int64(2), couponCount)
}

func TestReconcileExpired_CouponStoreFailure(t *testing.T) {
	promos := &mockPromotionRepo{deactivated: 1}
	coupons := &mockExpiryStore{err: errors.New("connection reset")}
	s := NewScheduler(promos, coupons, zap.NewNop())

	_, _, err := s.ReconcileExpired(context.Background(), scheduleNow)
	require.Error(t, err)
}

func TestEnsureStoreWide_CreatesWhenAbsent(t *testing.T) {
	repo := &mockPromotionRepo{}
	s := NewScheduler(repo, &mockExpiryStore{}, zap.NewNop())

	res, err := s.EnsureStoreWide(context.Background(), scheduleNow)
	require.NoError(t, err)
	assert.Equal(t, EnsureCreated, res.Outcome)

	require.NotNil(t, repo.created)
	assert.Equal(t, ScopeStoreWide, repo.created.Scope.Kind)
	assert.Equal(t, Percentage, repo.created.Kind)
	assert.True(t, repo.created.Value.Equal(decimal.NewFromInt(10)))
	assert.True(t, IsActive(repo.created.Schedule, scheduleNow))
	assert.Equal(t, scheduleNow.AddDate(0, 0, 30), repo.created.EndAt)
}

func TestEnsureStoreWide_ReactivatesExpired(t *testing.T) {
	expired := validPromotion()
	expired.Scope = Scope{Kind: ScopeStoreWide}
	expired.StartAt = scheduleNow.Add(-60 * 24 * time.Hour)
	expired.EndAt = scheduleNow.Add(-30 * 24 * time.Hour)

	repo := &mockPromotionRepo{storeWide: expired}
	s := NewScheduler(repo, &mockExpiryStore{}, zap.NewNop())

	res, err := s.EnsureStoreWide(context.Background(), scheduleNow)
	require.NoError(t, err)
	assert.Equal(t, EnsureReactivated, res.Outcome)

	require.NotNil(t, repo.updated)
	assert.True(t, repo.updated.Active)
	assert.Equal(t, scheduleNow, repo.updated.StartAt)
	assert.Equal(t, scheduleNow.AddDate(0, 0, 30), repo.updated.EndAt)
	assert.Nil(t, repo.created, "must reuse the existing row, not create a second one")
}

func TestEnsureStoreWide_LeavesLiveUntouched(t *testing.T) {
	live := validPromotion()
	live.Scope = Scope{Kind: ScopeStoreWide}
	live.Schedule = liveSchedule()

	repo := &mockPromotionRepo{storeWide: live}
	s := NewScheduler(repo, &mockExpiryStore{}, zap.NewNop())

	res, err := s.EnsureStoreWide(context.Background(), scheduleNow)
	require.NoError(t, err)
	assert.Equal(t, EnsureUnchanged, res.Outcome)
	assert.Same(t, live, res.Promotion)
	assert.Nil(t, repo.created)
	assert.Nil(t, repo.updated)
}

func TestEnsureStoreWide_LookupFailure(t *testing.T) {
	repo := &mockPromotionRepo{findErr: errors.New("connection reset")}
	s := NewScheduler(repo, &mockExpiryStore{}, zap.NewNop())

	_, err := s.EnsureStoreWide(context.Background(), scheduleNow)
	require.Error(t, err)
	assert.Nil(t, repo.created)
}
