package status

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/rentflow/internal/clock"
	"github.com/smallbiznis/rentflow/internal/config"
	leasedomain "github.com/smallbiznis/rentflow/internal/lease/domain"
	leaserepo "github.com/smallbiznis/rentflow/internal/lease/repository"
	paymentdomain "github.com/smallbiznis/rentflow/internal/payment/domain"
	paymentrepo "github.com/smallbiznis/rentflow/internal/payment/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db    *gorm.DB
	node  *snowflake.Node
	clock *clock.FakeClock
	agg   *Aggregator
	lease *leasedomain.Lease
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "status.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&leasedomain.Lease{}, &paymentdomain.Payment{}, &paymentdomain.PaymentStatus{}))

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	clk := clock.NewFakeClock(now)
	lease := &leasedomain.Lease{
		ID:          node.Generate(),
		TenantID:    node.Generate(),
		RoomID:      node.Generate(),
		MonthlyRent: decimal.NewFromInt(7500),
		StartDate:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Status:      leasedomain.StatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, db.Create(lease).Error)

	agg := NewAggregator(Params{
		DB:             db,
		Log:            zap.NewNop(),
		GenID:          node,
		Repo:           paymentrepo.Provide(),
		LeaseRepo:      leaserepo.Provide(),
		Clock:          clk,
		Reconciliation: config.NewStaticReconciliation(config.DefaultReconciliation()),
	})
	return &fixture{db: db, node: node, clock: clk, agg: agg, lease: lease}
}

func (f *fixture) addPayment(t *testing.T, amount int64, status string, monthYear string) {
	t.Helper()
	now := f.clock.Now()
	require.NoError(t, f.db.Create(&paymentdomain.Payment{
		ID:                   f.node.Generate(),
		LeaseID:              f.lease.ID,
		TenantID:             f.lease.TenantID,
		RoomID:               f.lease.RoomID,
		Amount:               decimal.NewFromInt(amount),
		Currency:             "KES",
		PaymentDate:          now,
		PaymentMethod:        paymentdomain.PaymentMethodGateway,
		TransactionReference: f.node.Generate().String(),
		PaymentType:          paymentdomain.PaymentTypeRent,
		Status:               status,
		MonthYear:            monthYear,
		CreatedAt:            now,
		UpdatedAt:            now,
	}).Error)
}

func TestClassify(t *testing.T) {
	due := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	rent := decimal.NewFromInt(7500)
	early := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	endOfDueDay := time.Date(2026, 3, 5, 23, 59, 59, 0, time.UTC)
	afterDue := time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, paymentdomain.StatusPaid, Classify(decimal.NewFromInt(7500), rent, early, due))
	assert.Equal(t, paymentdomain.StatusPaid, Classify(decimal.NewFromInt(8000), rent, afterDue, due))
	assert.Equal(t, paymentdomain.StatusPartial, Classify(decimal.NewFromInt(1), rent, afterDue, due))
	assert.Equal(t, paymentdomain.StatusPending, Classify(decimal.Zero, rent, early, due))
	assert.Equal(t, paymentdomain.StatusPending, Classify(decimal.Zero, rent, due, due))
	assert.Equal(t, paymentdomain.StatusPending, Classify(decimal.Zero, rent, endOfDueDay, due))
	assert.Equal(t, paymentdomain.StatusOverdue, Classify(decimal.Zero, rent, afterDue, due))
}

func TestDueDateClampsDay(t *testing.T) {
	month := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 2, 5, 0, 0, 0, 0, time.UTC), DueDate(month, 5))
	assert.Equal(t, time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC), DueDate(month, 31))
	assert.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), DueDate(month, 0))
}

func TestRecomputePartialThenPaid(t *testing.T) {
	f := newFixture(t, time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()

	f.addPayment(t, 3000, paymentdomain.PaymentCompleted, "2026-03")
	st, err := f.agg.Recompute(ctx, f.lease, "2026-03")
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StatusPartial, st.Status)
	assert.True(t, st.PaidAmount.Equal(decimal.NewFromInt(3000)))
	assert.True(t, st.ExpectedAmount.Equal(decimal.NewFromInt(7500)))
	require.NotNil(t, st.LastPaymentDate)
	assert.True(t, st.LastPaymentDate.Equal(f.clock.Now()))

	f.clock.Advance(time.Hour)
	f.addPayment(t, 4500, paymentdomain.PaymentCompleted, "2026-03")
	f.addPayment(t, 9999, paymentdomain.PaymentFailed, "2026-03")
	f.addPayment(t, 9999, paymentdomain.PaymentCompleted, "2026-04")

	st, err = f.agg.Recompute(ctx, f.lease, "2026-03")
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StatusPaid, st.Status)
	assert.True(t, st.PaidAmount.Equal(decimal.NewFromInt(7500)))
	assert.True(t, st.LastPaymentDate.Equal(f.clock.Now()))
	assert.Equal(t, time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC), st.DueDate.UTC())

	var count int64
	require.NoError(t, f.db.Model(&paymentdomain.PaymentStatus{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestRecomputeIsIdempotent(t *testing.T) {
	f := newFixture(t, time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()
	f.addPayment(t, 2000, paymentdomain.PaymentCompleted, "2026-03")

	first, err := f.agg.Recompute(ctx, f.lease, "2026-03")
	require.NoError(t, err)
	f.clock.Advance(10 * time.Minute)
	second, err := f.agg.Recompute(ctx, f.lease, "2026-03")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Status, second.Status)
	assert.True(t, first.PaidAmount.Equal(second.PaidAmount))
	assert.True(t, first.LastPaymentDate.Equal(*second.LastPaymentDate))
}

func TestRecomputeSelfHealsCorruptedRow(t *testing.T) {
	f := newFixture(t, time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()
	f.addPayment(t, 7500, paymentdomain.PaymentCompleted, "2026-03")

	_, err := f.agg.Recompute(ctx, f.lease, "2026-03")
	require.NoError(t, err)
	require.NoError(t, f.db.Model(&paymentdomain.PaymentStatus{}).
		Where("lease_id = ?", f.lease.ID).
		Updates(map[string]any{"paid_amount": decimal.NewFromInt(1), "status": paymentdomain.StatusPartial}).Error)

	st, err := f.agg.Recompute(ctx, f.lease, "2026-03")
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StatusPaid, st.Status)
	assert.True(t, st.PaidAmount.Equal(decimal.NewFromInt(7500)))
}

func TestRecomputeWithoutPayments(t *testing.T) {
	f := newFixture(t, time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()

	st, err := f.agg.Recompute(ctx, f.lease, "2026-03")
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StatusPending, st.Status)
	assert.Nil(t, st.LastPaymentDate)

	f.clock.Set(time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC))
	st, err = f.agg.RecomputeByID(ctx, f.lease.ID, "2026-03")
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StatusOverdue, st.Status)
}

func TestRecomputeErrors(t *testing.T) {
	f := newFixture(t, time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()

	_, err := f.agg.Recompute(ctx, f.lease, "March")
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidMonthYear)

	_, err = f.agg.RecomputeByID(ctx, f.node.Generate(), "2026-03")
	assert.ErrorIs(t, err, paymentdomain.ErrLeaseNotFound)
}
