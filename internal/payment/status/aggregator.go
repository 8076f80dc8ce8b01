package status

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/rentflow/internal/clock"
	"github.com/smallbiznis/rentflow/internal/config"
	leasedomain "github.com/smallbiznis/rentflow/internal/lease/domain"
	paymentdomain "github.com/smallbiznis/rentflow/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB             *gorm.DB
	Log            *zap.Logger
	GenID          *snowflake.Node
	Repo           paymentdomain.Repository
	LeaseRepo      leasedomain.Repository
	Clock          clock.Clock
	Reconciliation *config.ReconciliationHolder
}

// Aggregator derives the monthly payment status of a lease from its
// completed payments.
type Aggregator struct {
	db             *gorm.DB
	log            *zap.Logger
	genID          *snowflake.Node
	repo           paymentdomain.Repository
	leaseRepo      leasedomain.Repository
	clock          clock.Clock
	reconciliation *config.ReconciliationHolder
}

func NewAggregator(p Params) *Aggregator {
	return &Aggregator{
		db:             p.DB,
		log:            p.Log.Named("payment.status"),
		genID:          p.GenID,
		repo:           p.Repo,
		leaseRepo:      p.LeaseRepo,
		clock:          p.Clock,
		reconciliation: p.Reconciliation,
	}
}

// RecomputeByID loads the lease regardless of its status and recomputes.
func (a *Aggregator) RecomputeByID(ctx context.Context, leaseID snowflake.ID, monthYear string) (*paymentdomain.PaymentStatus, error) {
	lease, err := a.leaseRepo.FindByID(ctx, a.db, leaseID)
	if err != nil {
		return nil, fmt.Errorf("%w: load lease: %v", paymentdomain.ErrPersistence, err)
	}
	if lease == nil {
		return nil, &paymentdomain.LeaseNotFoundError{Reason: "lease not found"}
	}
	return a.Recompute(ctx, lease, monthYear)
}

// Recompute sums the completed payments for (lease, month) from scratch and
// upserts the aggregate. Running it twice yields the same row.
func (a *Aggregator) Recompute(ctx context.Context, lease *leasedomain.Lease, monthYear string) (*paymentdomain.PaymentStatus, error) {
	month, err := time.ParseInLocation(paymentdomain.MonthYearLayout, monthYear, time.UTC)
	if err != nil {
		return nil, paymentdomain.ErrInvalidMonthYear
	}

	totals, err := a.repo.SumCompleted(ctx, a.db, lease.ID, monthYear)
	if err != nil {
		return nil, fmt.Errorf("%w: sum payments: %v", paymentdomain.ErrPersistence, err)
	}

	now := a.clock.Now()
	dueDate := DueDate(month, a.reconciliation.Get().DueDay)
	paid := totals.Paid.Round(2)
	expected := lease.MonthlyRent.Round(2)

	row := &paymentdomain.PaymentStatus{
		ID:              a.genID.Generate(),
		LeaseID:         lease.ID,
		TenantID:        lease.TenantID,
		RoomID:          lease.RoomID,
		MonthYear:       monthYear,
		ExpectedAmount:  expected,
		PaidAmount:      paid,
		Status:          Classify(paid, expected, now, dueDate),
		DueDate:         dueDate,
		LastPaymentDate: totals.LastPaymentDate,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := a.repo.UpsertStatus(ctx, a.db, row); err != nil {
		return nil, fmt.Errorf("%w: upsert payment status: %v", paymentdomain.ErrPersistence, err)
	}

	stored, err := a.repo.FindStatus(ctx, a.db, lease.ID, monthYear)
	if err != nil || stored == nil {
		a.log.Warn("failed to reload payment status", zap.String("lease_id", lease.ID.String()), zap.Error(err))
		return row, nil
	}

	a.log.Debug("payment status recomputed",
		zap.String("lease_id", lease.ID.String()),
		zap.String("month_year", monthYear),
		zap.String("status", stored.Status),
	)
	return stored, nil
}

// DueDate is the due day of the month starting at month, in UTC.
func DueDate(month time.Time, dueDay int) time.Time {
	if dueDay < 1 {
		dueDay = 1
	}
	if dueDay > 28 {
		dueDay = 28
	}
	return time.Date(month.Year(), month.Month(), dueDay, 0, 0, 0, 0, time.UTC)
}

// Classify maps paid against expected. A month with no payment becomes
// overdue once the due day has fully passed.
func Classify(paid, expected decimal.Decimal, now, dueDate time.Time) string {
	switch {
	case paid.GreaterThanOrEqual(expected):
		return paymentdomain.StatusPaid
	case paid.IsPositive():
		return paymentdomain.StatusPartial
	// Tenants have the whole due day to pay: overdue starts at midnight
	// after dueDate, one day later than treating dueDate 00:00 as late.
	case !now.Before(dueDate.AddDate(0, 0, 1)):
		return paymentdomain.StatusOverdue
	default:
		return paymentdomain.StatusPending
	}
}
