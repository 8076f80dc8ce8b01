package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/rentflow/internal/clock"
	leasedomain "github.com/smallbiznis/rentflow/internal/lease/domain"
	obsmetrics "github.com/smallbiznis/rentflow/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/rentflow/internal/payment/domain"
	"github.com/smallbiznis/rentflow/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	SourceGateway = "gateway"
	SourceManual  = "manual"
)

// Outcome describes what Write did with a transaction. At most one of
// Duplicate and Skipped is set; otherwise Payment is the new row.
type Outcome struct {
	Duplicate bool
	Skipped   bool
	Note      string
	Payment   *paymentdomain.Payment
}

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       paymentdomain.Repository
	Clock      clock.Clock
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Writer records payments exactly once per transaction reference.
type Writer struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       paymentdomain.Repository
	clock      clock.Clock
	obsMetrics *obsmetrics.Metrics
}

func NewWriter(p Params) *Writer {
	return &Writer{
		db:         p.DB,
		log:        p.Log.Named("payment.ledger"),
		genID:      p.GenID,
		repo:       p.Repo,
		clock:      p.Clock,
		obsMetrics: p.ObsMetrics,
	}
}

// Write records a gateway transaction against lease.
func (w *Writer) Write(ctx context.Context, tx *paymentdomain.Transaction, lease *leasedomain.Lease) (*Outcome, error) {
	existing, err := w.repo.FindByReference(ctx, w.db, tx.Reference)
	if err != nil {
		return nil, fmt.Errorf("%w: find payment: %v", paymentdomain.ErrPersistence, err)
	}
	if existing != nil {
		return &Outcome{Duplicate: true, Payment: existing}, nil
	}

	if !tx.Succeeded() {
		return &Outcome{Skipped: true, Note: "payment status: " + tx.Status}, nil
	}

	now := w.clock.Now()
	payment := &paymentdomain.Payment{
		ID:                   w.genID.Generate(),
		LeaseID:              lease.ID,
		TenantID:             lease.TenantID,
		RoomID:               lease.RoomID,
		Amount:               tx.Amount,
		Currency:             tx.Currency,
		PaymentDate:          tx.Date.UTC(),
		PaymentMethod:        paymentdomain.PaymentMethodGateway,
		TransactionReference: tx.Reference,
		GatewayTransactionID: optional(tx.Reference),
		PaymentType:          paymentdomain.PaymentTypeRent,
		Status:               paymentdomain.PaymentCompleted,
		MonthYear:            paymentdomain.MonthYear(tx.Date),
		PhoneNumber:          optional(tx.PhoneNumber),
		Narration:            optional(tx.Narration),
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	return w.insert(ctx, payment, SourceGateway)
}

// Record inserts a payment prepared by staff. Id, timestamps and month are
// filled in here.
func (w *Writer) Record(ctx context.Context, payment *paymentdomain.Payment) (*Outcome, error) {
	existing, err := w.repo.FindByReference(ctx, w.db, payment.TransactionReference)
	if err != nil {
		return nil, fmt.Errorf("%w: find payment: %v", paymentdomain.ErrPersistence, err)
	}
	if existing != nil {
		return &Outcome{Duplicate: true, Payment: existing}, nil
	}

	now := w.clock.Now()
	payment.ID = w.genID.Generate()
	payment.PaymentDate = payment.PaymentDate.UTC()
	payment.MonthYear = paymentdomain.MonthYear(payment.PaymentDate)
	payment.CreatedAt = now
	payment.UpdatedAt = now
	if payment.Status == "" {
		payment.Status = paymentdomain.PaymentCompleted
	}
	return w.insert(ctx, payment, SourceManual)
}

func (w *Writer) insert(ctx context.Context, payment *paymentdomain.Payment, source string) (*Outcome, error) {
	inserted, err := w.repo.InsertIfAbsent(ctx, w.db, payment)
	if err != nil && !db.IsDuplicateKeyErr(err) {
		return nil, fmt.Errorf("%w: insert payment: %v", paymentdomain.ErrPersistence, err)
	}
	if err != nil || !inserted {
		// Lost a race with a concurrent delivery of the same reference.
		w.log.Info("duplicate payment insert ignored",
			zap.String("transaction_reference", payment.TransactionReference),
		)
		existing, findErr := w.repo.FindByReference(ctx, w.db, payment.TransactionReference)
		if findErr != nil {
			w.log.Warn("failed to load existing payment", zap.Error(findErr))
		}
		return &Outcome{Duplicate: true, Payment: existing}, nil
	}

	w.obsMetrics.RecordPaymentRecorded(ctx, source)
	w.log.Info("payment recorded",
		zap.String("payment_id", payment.ID.String()),
		zap.String("lease_id", payment.LeaseID.String()),
		zap.String("month_year", payment.MonthYear),
		zap.String("source", source),
	)
	return &Outcome{Payment: payment}, nil
}

func optional(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
