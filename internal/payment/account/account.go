package account

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	leasedomain "github.com/smallbiznis/rentflow/internal/lease/domain"
	paymentdomain "github.com/smallbiznis/rentflow/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Kind string

const (
	KindUnknown Kind = "unknown"
	KindLease   Kind = "lease"
	KindTenant  Kind = "tenant"
)

var (
	leasePattern  = regexp.MustCompile(`(?i)^LEASE-(\d+)$`)
	tenantPattern = regexp.MustCompile(`(?i)^TENANT-(\d+)$`)
)

// Reference is a parsed account number.
type Reference struct {
	Kind Kind
	ID   snowflake.ID
}

// ParseAccountNumber classifies an account number as LEASE-<id>, TENANT-<id>
// or unknown. Ids that overflow int64 are unknown.
func ParseAccountNumber(raw string) Reference {
	raw = strings.TrimSpace(raw)
	for _, candidate := range []struct {
		kind    Kind
		pattern *regexp.Regexp
	}{
		{KindLease, leasePattern},
		{KindTenant, tenantPattern},
	} {
		match := candidate.pattern.FindStringSubmatch(raw)
		if match == nil {
			continue
		}
		id, err := strconv.ParseInt(match[1], 10, 64)
		if err != nil {
			return Reference{Kind: KindUnknown}
		}
		return Reference{Kind: candidate.kind, ID: snowflake.ID(id)}
	}
	return Reference{Kind: KindUnknown}
}

// Format renders the account number a payer should quote.
func Format(kind Kind, id snowflake.ID) string {
	switch kind {
	case KindLease:
		return fmt.Sprintf("LEASE-%d", int64(id))
	case KindTenant:
		return fmt.Sprintf("TENANT-%d", int64(id))
	default:
		return ""
	}
}

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	LeaseRepo leasedomain.Repository
}

// Resolver maps an account number to the active lease it pays for.
type Resolver struct {
	db        *gorm.DB
	log       *zap.Logger
	leaseRepo leasedomain.Repository
}

func NewResolver(p Params) *Resolver {
	return &Resolver{
		db:        p.DB,
		log:       p.Log.Named("payment.account"),
		leaseRepo: p.LeaseRepo,
	}
}

func (r *Resolver) Resolve(ctx context.Context, accountNumber string) (*leasedomain.Lease, error) {
	ref := ParseAccountNumber(accountNumber)

	var (
		lease  *leasedomain.Lease
		err    error
		reason string
	)
	switch ref.Kind {
	case KindLease:
		lease, err = r.leaseRepo.FindActiveByID(ctx, r.db, ref.ID)
		reason = "lease not found or inactive"
	case KindTenant:
		lease, err = r.leaseRepo.FindActiveByTenantID(ctx, r.db, ref.ID)
		reason = "no active lease found for tenant"
	default:
		return nil, paymentdomain.ErrUnknownAccount
	}
	if err != nil {
		return nil, fmt.Errorf("%w: resolve account: %v", paymentdomain.ErrPersistence, err)
	}
	if lease == nil {
		return nil, &paymentdomain.LeaseNotFoundError{Reason: reason}
	}

	r.log.Debug("account resolved",
		zap.String("kind", string(ref.Kind)),
		zap.String("lease_id", lease.ID.String()),
	)
	return lease, nil
}
