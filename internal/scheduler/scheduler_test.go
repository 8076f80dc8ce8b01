package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/rentflow/internal/broadcast"
	"github.com/smallbiznis/rentflow/internal/clock"
	"github.com/smallbiznis/rentflow/internal/config"
	leasedomain "github.com/smallbiznis/rentflow/internal/lease/domain"
	leaserepo "github.com/smallbiznis/rentflow/internal/lease/repository"
	paymentdomain "github.com/smallbiznis/rentflow/internal/payment/domain"
	paymentrepo "github.com/smallbiznis/rentflow/internal/payment/repository"
	"github.com/smallbiznis/rentflow/internal/payment/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []paymentdomain.PaymentStatus
}

func (r *recordingBroadcaster) Broadcast(_ context.Context, kind string, payload any) {
	if kind != broadcast.KindPaymentReconciled {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, payload.(paymentdomain.PaymentStatus))
}

func (r *recordingBroadcaster) reset() []paymentdomain.PaymentStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.events
	r.events = nil
	return out
}

type sweepFixture struct {
	db          *gorm.DB
	node        *snowflake.Node
	clock       *clock.FakeClock
	registry    *prometheus.Registry
	broadcaster *recordingBroadcaster
	scheduler   *Scheduler
}

func newSweepFixture(t *testing.T, now time.Time) *sweepFixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "scheduler.db")), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&leasedomain.Lease{},
		&paymentdomain.Payment{},
		&paymentdomain.PaymentStatus{},
	))

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	clk := clock.NewFakeClock(now)
	log := zap.NewNop()
	payments := paymentrepo.Provide()
	leases := leaserepo.Provide()
	registry := prometheus.NewRegistry()
	broadcaster := &recordingBroadcaster{}

	sched, err := New(Params{
		DB:        db,
		Log:       log,
		GenID:     node,
		Clock:     clk,
		Config:    Config{BatchSize: 1},
		LeaseRepo: leases,
		Repo:      payments,
		Aggregator: status.NewAggregator(status.Params{
			DB:             db,
			Log:            log,
			GenID:          node,
			Repo:           payments,
			LeaseRepo:      leases,
			Clock:          clk,
			Reconciliation: config.NewStaticReconciliation(config.DefaultReconciliation()),
		}),
		Broadcaster: broadcaster,
		Registry:    registry,
	})
	require.NoError(t, err)

	return &sweepFixture{
		db:          db,
		node:        node,
		clock:       clk,
		registry:    registry,
		broadcaster: broadcaster,
		scheduler:   sched,
	}
}

func (f *sweepFixture) lease(t *testing.T, leaseStatus string, start time.Time) *leasedomain.Lease {
	t.Helper()
	now := f.clock.Now()
	lease := &leasedomain.Lease{
		ID:          f.node.Generate(),
		TenantID:    f.node.Generate(),
		RoomID:      f.node.Generate(),
		MonthlyRent: decimal.NewFromInt(15000),
		StartDate:   start,
		Status:      leaseStatus,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, f.db.Create(lease).Error)
	return lease
}

func (f *sweepFixture) payment(t *testing.T, lease *leasedomain.Lease, amount int64) {
	t.Helper()
	now := f.clock.Now()
	require.NoError(t, f.db.Create(&paymentdomain.Payment{
		ID:                   f.node.Generate(),
		LeaseID:              lease.ID,
		TenantID:             lease.TenantID,
		RoomID:               lease.RoomID,
		Amount:               decimal.NewFromInt(amount),
		Currency:             "KES",
		PaymentDate:          now,
		PaymentMethod:        paymentdomain.PaymentMethodGateway,
		TransactionReference: "REF-" + f.node.Generate().String(),
		PaymentType:          paymentdomain.PaymentTypeRent,
		Status:               paymentdomain.PaymentCompleted,
		MonthYear:            paymentdomain.MonthYear(now),
		CreatedAt:            now,
		UpdatedAt:            now,
	}).Error)
}

func (f *sweepFixture) statusOf(t *testing.T, lease *leasedomain.Lease) *paymentdomain.PaymentStatus {
	t.Helper()
	row, err := paymentrepo.Provide().FindStatus(context.Background(), f.db, lease.ID, paymentdomain.MonthYear(f.clock.Now()))
	require.NoError(t, err)
	return row
}

func TestStatusSweepMarksUnpaidLeasesOverdue(t *testing.T) {
	f := newSweepFixture(t, time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC))
	leaseStart := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	unpaid := f.lease(t, leasedomain.StatusActive, leaseStart)
	partial := f.lease(t, leasedomain.StatusActive, leaseStart)
	paid := f.lease(t, leasedomain.StatusActive, leaseStart)
	ended := f.lease(t, "terminated", leaseStart)
	future := f.lease(t, leasedomain.StatusActive, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))
	f.payment(t, partial, 5000)
	f.payment(t, paid, 15000)

	require.NoError(t, f.scheduler.RunOnce(context.Background()))

	assert.Equal(t, paymentdomain.StatusOverdue, f.statusOf(t, unpaid).Status)
	assert.Equal(t, paymentdomain.StatusPartial, f.statusOf(t, partial).Status)
	assert.Equal(t, paymentdomain.StatusPaid, f.statusOf(t, paid).Status)
	assert.Nil(t, f.statusOf(t, ended))
	assert.Nil(t, f.statusOf(t, future))

	events := f.broadcaster.reset()
	assert.Len(t, events, 3)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.scheduler.metrics.runs.WithLabelValues(jobStatusSweep)))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.scheduler.metrics.transitions.WithLabelValues("none", paymentdomain.StatusOverdue)))
}

func TestStatusSweepIsQuietWhenNothingChanges(t *testing.T) {
	f := newSweepFixture(t, time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC))
	leaseStart := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	f.lease(t, leasedomain.StatusActive, leaseStart)
	paid := f.lease(t, leasedomain.StatusActive, leaseStart)
	f.payment(t, paid, 15000)

	require.NoError(t, f.scheduler.RunOnce(context.Background()))
	require.Len(t, f.broadcaster.reset(), 2)

	require.NoError(t, f.scheduler.RunOnce(context.Background()))
	assert.Empty(t, f.broadcaster.reset())

	var rows int64
	require.NoError(t, f.db.Model(&paymentdomain.PaymentStatus{}).Count(&rows).Error)
	assert.Equal(t, int64(2), rows)
}

func TestStatusSweepFlipsPendingToOverdueAfterDueDay(t *testing.T) {
	f := newSweepFixture(t, time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC))
	lease := f.lease(t, leasedomain.StatusActive, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))

	require.NoError(t, f.scheduler.RunOnce(context.Background()))
	assert.Equal(t, paymentdomain.StatusPending, f.statusOf(t, lease).Status)
	require.Len(t, f.broadcaster.reset(), 1)

	f.clock.Set(time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC))
	require.NoError(t, f.scheduler.RunOnce(context.Background()))
	assert.Equal(t, paymentdomain.StatusOverdue, f.statusOf(t, lease).Status)

	events := f.broadcaster.reset()
	require.Len(t, events, 1)
	assert.Equal(t, lease.ID, events[0].LeaseID)
	assert.Equal(t, paymentdomain.StatusOverdue, events[0].Status)
}

func TestRunJobTreatsDeadlineAsSoftStop(t *testing.T) {
	f := newSweepFixture(t, time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC))

	err := f.scheduler.runJob(context.Background(), "slow", time.Millisecond, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	assert.NoError(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.scheduler.metrics.timeouts.WithLabelValues("slow")))
}

func TestRunJobWrapsFailures(t *testing.T) {
	f := newSweepFixture(t, time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC))
	boom := errors.New("boom")

	err := f.scheduler.runJob(context.Background(), "broken", time.Minute, func(context.Context) (int, error) {
		return 0, boom
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "broken")
	assert.Equal(t, float64(1), testutil.ToFloat64(f.scheduler.metrics.errors.WithLabelValues("broken")))
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	_, err := New(Params{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
