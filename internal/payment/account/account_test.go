package account

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	leasedomain "github.com/smallbiznis/rentflow/internal/lease/domain"
	leaserepo "github.com/smallbiznis/rentflow/internal/lease/repository"
	paymentdomain "github.com/smallbiznis/rentflow/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestParseAccountNumber(t *testing.T) {
	cases := []struct {
		in   string
		want Reference
	}{
		{"LEASE-42", Reference{Kind: KindLease, ID: 42}},
		{"lease-42", Reference{Kind: KindLease, ID: 42}},
		{"  TENANT-7 ", Reference{Kind: KindTenant, ID: 7}},
		{"Tenant-0007", Reference{Kind: KindTenant, ID: 7}},
		{"LEASE-", Reference{Kind: KindUnknown}},
		{"LEASE-12a", Reference{Kind: KindUnknown}},
		{"ROOM-12", Reference{Kind: KindUnknown}},
		{"LEASE-99999999999999999999", Reference{Kind: KindUnknown}},
		{"", Reference{Kind: KindUnknown}},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ParseAccountNumber(tc.in), tc.in)
	}
}

func TestFormatRoundTrip(t *testing.T) {
	node, err := snowflake.NewNode(3)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		id := node.Generate()
		for _, kind := range []Kind{KindLease, KindTenant} {
			got := ParseAccountNumber(Format(kind, id))
			assert.Equal(t, Reference{Kind: kind, ID: id}, got)
		}
	}
	assert.Equal(t, "", Format(KindUnknown, 1))
}

func setupResolver(t *testing.T) (*Resolver, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "account.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&leasedomain.Lease{}))

	return NewResolver(Params{DB: db, Log: zap.NewNop(), LeaseRepo: leaserepo.Provide()}), db
}

func seedLease(t *testing.T, db *gorm.DB, id, tenantID int64, status string, start time.Time) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, db.Create(&leasedomain.Lease{
		ID:          snowflake.ID(id),
		TenantID:    snowflake.ID(tenantID),
		RoomID:      1,
		MonthlyRent: decimal.NewFromInt(7500),
		StartDate:   start,
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}).Error)
}

func TestResolve(t *testing.T) {
	resolver, db := setupResolver(t)
	ctx := context.Background()
	jan := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	seedLease(t, db, 10, 100, leasedomain.StatusActive, jan)
	seedLease(t, db, 11, 101, "terminated", jan)
	seedLease(t, db, 12, 102, leasedomain.StatusActive, jan)
	seedLease(t, db, 13, 102, leasedomain.StatusActive, jan.AddDate(0, 2, 0))

	lease, err := resolver.Resolve(ctx, "LEASE-10")
	require.NoError(t, err)
	assert.Equal(t, snowflake.ID(10), lease.ID)

	lease, err = resolver.Resolve(ctx, "tenant-100")
	require.NoError(t, err)
	assert.Equal(t, snowflake.ID(10), lease.ID)

	lease, err = resolver.Resolve(ctx, "TENANT-102")
	require.NoError(t, err)
	assert.Equal(t, snowflake.ID(13), lease.ID)

	_, err = resolver.Resolve(ctx, "LEASE-11")
	assert.ErrorIs(t, err, paymentdomain.ErrLeaseNotFound)
	assert.EqualError(t, err, "lease not found or inactive")

	_, err = resolver.Resolve(ctx, "TENANT-101")
	assert.ErrorIs(t, err, paymentdomain.ErrLeaseNotFound)
	assert.EqualError(t, err, "no active lease found for tenant")

	_, err = resolver.Resolve(ctx, "INVOICE-1")
	assert.ErrorIs(t, err, paymentdomain.ErrUnknownAccount)
}
