package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/rentflow/internal/clock"
	leasedomain "github.com/smallbiznis/rentflow/internal/lease/domain"
	paymentdomain "github.com/smallbiznis/rentflow/internal/payment/domain"
	paymentrepo "github.com/smallbiznis/rentflow/internal/payment/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupWriter(t *testing.T, repo paymentdomain.Repository) (*Writer, *gorm.DB, *leasedomain.Lease) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "ledger.db")), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&paymentdomain.Payment{}))

	node, err := snowflake.NewNode(4)
	require.NoError(t, err)
	if repo == nil {
		repo = paymentrepo.Provide()
	}

	writer := NewWriter(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  repo,
		Clock: clock.NewFakeClock(time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC)),
	})
	lease := &leasedomain.Lease{
		ID:          node.Generate(),
		TenantID:    node.Generate(),
		RoomID:      node.Generate(),
		MonthlyRent: decimal.NewFromInt(7500),
		Status:      leasedomain.StatusActive,
	}
	return writer, db, lease
}

func transaction(reference string, status string) *paymentdomain.Transaction {
	return &paymentdomain.Transaction{
		Provider:      "jenga",
		Reference:     reference,
		Date:          time.Date(2026, 2, 28, 23, 30, 0, 0, time.FixedZone("EAT", 3*3600)),
		Amount:        decimal.NewFromInt(7500),
		Currency:      "KES",
		AccountNumber: "LEASE-1",
		Status:        status,
		PhoneNumber:   "254712345678",
	}
}

func countPayments(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(&paymentdomain.Payment{}).Count(&count).Error)
	return count
}

func TestWriteInsertsCompletedPayment(t *testing.T) {
	writer, db, lease := setupWriter(t, nil)

	outcome, err := writer.Write(context.Background(), transaction("TXN1", paymentdomain.TransactionSuccess), lease)
	require.NoError(t, err)
	require.NotNil(t, outcome.Payment)
	assert.False(t, outcome.Duplicate)
	assert.False(t, outcome.Skipped)

	p := outcome.Payment
	assert.Equal(t, lease.ID, p.LeaseID)
	assert.Equal(t, lease.TenantID, p.TenantID)
	assert.Equal(t, paymentdomain.PaymentCompleted, p.Status)
	assert.Equal(t, paymentdomain.PaymentMethodGateway, p.PaymentMethod)
	assert.Equal(t, paymentdomain.PaymentTypeRent, p.PaymentType)
	// 23:30 EAT on Feb 28 is 20:30 UTC, still February.
	assert.Equal(t, "2026-02", p.MonthYear)
	assert.Equal(t, int64(1), countPayments(t, db))
}

func TestWriteDuplicateIsNoop(t *testing.T) {
	writer, db, lease := setupWriter(t, nil)
	ctx := context.Background()

	first, err := writer.Write(ctx, transaction("TXN1", paymentdomain.TransactionSuccess), lease)
	require.NoError(t, err)

	second, err := writer.Write(ctx, transaction("TXN1", paymentdomain.TransactionSuccess), lease)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	require.NotNil(t, second.Payment)
	assert.Equal(t, first.Payment.ID, second.Payment.ID)
	assert.Equal(t, int64(1), countPayments(t, db))
}

func TestWriteSkipsNonSuccess(t *testing.T) {
	writer, db, lease := setupWriter(t, nil)

	for _, status := range []string{paymentdomain.TransactionFailed, paymentdomain.TransactionPending} {
		outcome, err := writer.Write(context.Background(), transaction("TXN-"+status, status), lease)
		require.NoError(t, err)
		assert.True(t, outcome.Skipped)
		assert.Equal(t, "payment status: "+status, outcome.Note)
		assert.Nil(t, outcome.Payment)
	}
	assert.Equal(t, int64(0), countPayments(t, db))
}

func TestWriteConcurrentDuplicates(t *testing.T) {
	writer, db, lease := setupWriter(t, nil)
	ctx := context.Background()

	const workers = 8
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		created    int
		duplicates int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := writer.Write(ctx, transaction("TXN-RACE", paymentdomain.TransactionSuccess), lease)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if outcome.Duplicate {
				duplicates++
			} else {
				created++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, workers-1, duplicates)
	assert.Equal(t, int64(1), countPayments(t, db))
}

// raceRepo hides the existing row from the pre-insert lookup, as a racing
// request would see it.
type raceRepo struct {
	paymentdomain.Repository
	hidden bool
}

func (r *raceRepo) FindByReference(ctx context.Context, db *gorm.DB, reference string) (*paymentdomain.Payment, error) {
	if r.hidden {
		r.hidden = false
		return nil, nil
	}
	return r.Repository.FindByReference(ctx, db, reference)
}

func TestWriteLostRaceIsDuplicate(t *testing.T) {
	repo := &raceRepo{Repository: paymentrepo.Provide()}
	writer, db, lease := setupWriter(t, repo)
	ctx := context.Background()

	_, err := writer.Write(ctx, transaction("TXN2", paymentdomain.TransactionSuccess), lease)
	require.NoError(t, err)

	repo.hidden = true
	outcome, err := writer.Write(ctx, transaction("TXN2", paymentdomain.TransactionSuccess), lease)
	require.NoError(t, err)
	assert.True(t, outcome.Duplicate)
	assert.Equal(t, int64(1), countPayments(t, db))
}

type failingRepo struct {
	paymentdomain.Repository
}

func (failingRepo) FindByReference(ctx context.Context, db *gorm.DB, reference string) (*paymentdomain.Payment, error) {
	return nil, errors.New("connection reset")
}

func TestWritePersistenceError(t *testing.T) {
	writer, _, lease := setupWriter(t, failingRepo{Repository: paymentrepo.Provide()})

	_, err := writer.Write(context.Background(), transaction("TXN3", paymentdomain.TransactionSuccess), lease)
	assert.ErrorIs(t, err, paymentdomain.ErrPersistence)
}

func TestRecordManualPayment(t *testing.T) {
	writer, db, lease := setupWriter(t, nil)
	ctx := context.Background()

	payment := &paymentdomain.Payment{
		LeaseID:              lease.ID,
		TenantID:             lease.TenantID,
		RoomID:               lease.RoomID,
		Amount:               decimal.NewFromInt(2500),
		Currency:             "KES",
		PaymentDate:          time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		PaymentMethod:        "cash",
		TransactionReference: "CASH-001",
		PaymentType:          paymentdomain.PaymentTypeRent,
	}
	outcome, err := writer.Record(ctx, payment)
	require.NoError(t, err)
	assert.NotZero(t, outcome.Payment.ID)
	assert.Equal(t, "2026-03", outcome.Payment.MonthYear)
	assert.Equal(t, paymentdomain.PaymentCompleted, outcome.Payment.Status)

	again := *payment
	again.ID = 0
	outcome, err = writer.Record(ctx, &again)
	require.NoError(t, err)
	assert.True(t, outcome.Duplicate)
	assert.Equal(t, int64(1), countPayments(t, db))
}
