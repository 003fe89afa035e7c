package promotion

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// State is the derived lifecycle state of a schedule. It is never stored;
// it follows from the activation flag and the date window.
type State string

const (
	StateDraft     State = "draft"
	StateScheduled State = "scheduled"
	StateLive      State = "live"
	StateExpired   State = "expired"
)

// IsActive reports whether the schedule is live at the given instant.
// Both window bounds are inclusive. The instant is an explicit input so
// callers control the clock.
func IsActive(s Schedule, now time.Time) bool {
	return s.Active && !now.Before(s.StartAt) && !now.After(s.EndAt)
}

// StateAt returns the derived lifecycle state at the given instant.
func StateAt(s Schedule, now time.Time) State {
	switch {
	case !s.Active:
		return StateDraft
	case now.Before(s.StartAt):
		return StateScheduled
	case now.After(s.EndAt):
		return StateExpired
	default:
		return StateLive
	}
}

// ExpiryStore is the slice of a rule store the scheduler needs for
// reconciliation. Both the promotion and coupon repositories satisfy it.
type ExpiryStore interface {
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
}

// Default values for the ensure-store-wide operation.
var (
	defaultStoreWideValue = decimal.NewFromInt(10)
	defaultStoreWideDays  = 30
)

// EnsureOutcome names the branch taken by EnsureStoreWide.
type EnsureOutcome string

const (
	// EnsureCreated means no store-wide promotion existed and one was created.
	EnsureCreated EnsureOutcome = "created"
	// EnsureReactivated means one existed but was not live and got a fresh window.
	EnsureReactivated EnsureOutcome = "reactivated"
	// EnsureUnchanged means a live store-wide promotion already existed.
	EnsureUnchanged EnsureOutcome = "unchanged"
)

// EnsureResult reports which branch EnsureStoreWide took and the resulting
// promotion.
type EnsureResult struct {
	Outcome   EnsureOutcome
	Promotion *Promotion
}

// Scheduler reconciles promotion and coupon schedules against the clock.
// It runs only when invoked by an external caller; nothing here ticks on
// its own.
type Scheduler struct {
	promotions Repository
	coupons    ExpiryStore
	lg         *zap.Logger
}

// NewScheduler creates a Scheduler over the given stores.
func NewScheduler(promotions Repository, coupons ExpiryStore, lg *zap.Logger) *Scheduler {
	return &Scheduler{promotions: promotions, coupons: coupons, lg: lg}
}

// ReconcileExpired deactivates promotions and coupons whose window has closed
// while the activation flag was still set. It returns the per-table counts.
func (s *Scheduler) ReconcileExpired(ctx context.Context, now time.Time) (promotions, coupons int64, err error) {
	promotions, err = s.promotions.DeactivateExpired(ctx, now)
	if err != nil {
		return 0, 0, errors.Wrap(err, "deactivate expired promotions")
	}
	coupons, err = s.coupons.DeactivateExpired(ctx, now)
	if err != nil {
		return promotions, 0, errors.Wrap(err, "deactivate expired coupons")
	}

	if promotions > 0 || coupons > 0 {
		s.lg.Info("Deactivated expired rules",
			zap.Int64("promotions", promotions),
			zap.Int64("coupons", coupons),
		)
	}
	return promotions, coupons, nil
}

// EnsureStoreWide guarantees a live store-wide promotion exists. It is an
// explicit three-state machine: absent, inactive, and live, each branch
// reachable on its own.
func (s *Scheduler) EnsureStoreWide(ctx context.Context, now time.Time) (EnsureResult, error) {
	existing, err := s.promotions.FindStoreWide(ctx)
	switch {
	case errors.Is(err, ErrNotFound):
		created, err := s.createDefaultStoreWide(ctx, now)
		if err != nil {
			return EnsureResult{}, err
		}
		s.lg.Info("Created default store-wide promotion", zap.String("id", created.ID))
		return EnsureResult{Outcome: EnsureCreated, Promotion: created}, nil

	case err != nil:
		return EnsureResult{}, errors.Wrap(err, "find store-wide promotion")
	}

	if IsActive(existing.Schedule, now) {
		return EnsureResult{Outcome: EnsureUnchanged, Promotion: existing}, nil
	}

	existing.Active = true
	existing.StartAt = now
	existing.EndAt = now.AddDate(0, 0, defaultStoreWideDays)
	if err := s.promotions.Update(ctx, existing); err != nil {
		return EnsureResult{}, errors.Wrap(err, "reactivate store-wide promotion")
	}
	s.lg.Info("Reactivated store-wide promotion",
		zap.String("id", existing.ID),
		zap.Time("end_at", existing.EndAt),
	)
	return EnsureResult{Outcome: EnsureReactivated, Promotion: existing}, nil
}

func (s *Scheduler) createDefaultStoreWide(ctx context.Context, now time.Time) (*Promotion, error) {
	p := &Promotion{
		ID:    uuid.New().String(),
		Name:  "Store-wide sale",
		Kind:  Percentage,
		Value: defaultStoreWideValue,
		Schedule: Schedule{
			Active:  true,
			StartAt: now,
			EndAt:   now.AddDate(0, 0, defaultStoreWideDays),
		},
		Scope: Scope{Kind: ScopeStoreWide},
	}
	if err := s.promotions.Create(ctx, p); err != nil {
		return nil, errors.Wrap(err, "create store-wide promotion")
	}
	return p, nil
}
