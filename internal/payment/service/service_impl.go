package service

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/rentflow/internal/audit/domain"
	"github.com/smallbiznis/rentflow/internal/broadcast"
	"github.com/smallbiznis/rentflow/internal/clock"
	leasedomain "github.com/smallbiznis/rentflow/internal/lease/domain"
	obscontext "github.com/smallbiznis/rentflow/internal/observability/context"
	paymentdomain "github.com/smallbiznis/rentflow/internal/payment/domain"
	"github.com/smallbiznis/rentflow/internal/payment/ledger"
	"github.com/smallbiznis/rentflow/internal/payment/status"
	"github.com/smallbiznis/rentflow/internal/providers/pdf"
	"github.com/smallbiznis/rentflow/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultCurrency = "KES"

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Repo        paymentdomain.Repository
	LeaseRepo   leasedomain.Repository
	Writer      *ledger.Writer
	Aggregator  *status.Aggregator
	Broadcaster paymentdomain.Broadcaster
	AuditSvc    auditdomain.Service
	Clock       clock.Clock
	PDF         pdf.Provider `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	repo        paymentdomain.Repository
	leaseRepo   leasedomain.Repository
	writer      *ledger.Writer
	aggregator  *status.Aggregator
	broadcaster paymentdomain.Broadcaster
	auditSvc    auditdomain.Service
	clock       clock.Clock
	pdf         pdf.Provider
}

func NewService(p Params) paymentdomain.Service {
	provider := p.PDF
	if provider == nil {
		provider = pdf.New()
	}
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("payment.service"),
		repo:        p.Repo,
		leaseRepo:   p.LeaseRepo,
		writer:      p.Writer,
		aggregator:  p.Aggregator,
		broadcaster: p.Broadcaster,
		auditSvc:    p.AuditSvc,
		clock:       p.Clock,
		pdf:         provider,
	}
}

func (s *Service) List(ctx context.Context, req paymentdomain.ListRequest) (*paymentdomain.ListResponse, error) {
	limit := req.Limit()
	filter := paymentdomain.ListFilter{
		Status:    strings.ToLower(strings.TrimSpace(req.Status)),
		MonthYear: strings.TrimSpace(req.MonthYear),
		Limit:     limit + 1,
	}
	if filter.MonthYear != "" {
		if err := validateMonthYear(filter.MonthYear); err != nil {
			return nil, err
		}
	}

	var err error
	if filter.TenantID, err = parseOptionalID(req.TenantID); err != nil {
		return nil, err
	}
	if filter.LeaseID, err = parseOptionalID(req.LeaseID); err != nil {
		return nil, err
	}
	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return nil, err
		}
		filter.Cursor = cursor
	}

	payments, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return nil, err
	}
	payments, info := pagination.Trim(payments, limit, func(p paymentdomain.Payment) pagination.Cursor {
		return pagination.Cursor{ID: int64(p.ID), CreatedAt: p.CreatedAt}
	})
	return &paymentdomain.ListResponse{Payments: payments, PageInfo: info}, nil
}

func (s *Service) Get(ctx context.Context, id string) (*paymentdomain.Payment, error) {
	paymentID, err := parseID(id, paymentdomain.ErrPaymentNotFound)
	if err != nil {
		return nil, err
	}
	payment, err := s.repo.FindByID(ctx, s.db, paymentID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, paymentdomain.ErrPaymentNotFound
	}
	return payment, nil
}

// Record stores a payment taken outside the gateway. It is idempotent on
// the transaction reference like gateway payments.
func (s *Service) Record(ctx context.Context, req paymentdomain.RecordRequest) (*paymentdomain.RecordResult, error) {
	leaseID, err := parseID(req.LeaseID, paymentdomain.ErrLeaseNotFound)
	if err != nil {
		return nil, err
	}
	reference := strings.TrimSpace(req.TransactionReference)
	if reference == "" {
		return nil, paymentdomain.NewValidationError("transaction_reference", "is required")
	}
	method := strings.TrimSpace(req.PaymentMethod)
	if method == "" {
		return nil, paymentdomain.NewValidationError("payment_method", "is required")
	}
	if !req.Amount.IsPositive() {
		return nil, paymentdomain.ErrInvalidAmount
	}
	if err := paymentdomain.CheckAmount("amount", req.Amount); err != nil {
		return nil, err
	}

	lease, err := s.leaseRepo.FindByID(ctx, s.db, leaseID)
	if err != nil {
		return nil, err
	}
	if lease == nil {
		return nil, &paymentdomain.LeaseNotFoundError{Reason: "lease not found"}
	}

	paymentDate := req.PaymentDate
	if paymentDate.IsZero() {
		paymentDate = s.clock.Now()
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = defaultCurrency
	}
	paymentType := strings.TrimSpace(req.PaymentType)
	if paymentType == "" {
		paymentType = paymentdomain.PaymentTypeRent
	}

	payment := &paymentdomain.Payment{
		LeaseID:              lease.ID,
		TenantID:             lease.TenantID,
		RoomID:               lease.RoomID,
		Amount:               req.Amount,
		Currency:             currency,
		PaymentDate:          paymentDate,
		PaymentMethod:        method,
		TransactionReference: reference,
		PaymentType:          paymentType,
		Status:               paymentdomain.PaymentCompleted,
		Narration:            optional(req.Narration),
		RecordedBy:           recordedBy(ctx),
	}

	outcome, err := s.writer.Record(ctx, payment)
	if err != nil {
		return nil, err
	}
	if outcome.Duplicate {
		return &paymentdomain.RecordResult{Payment: outcome.Payment, Duplicate: true}, nil
	}

	result := &paymentdomain.RecordResult{Payment: outcome.Payment}
	result.Status = s.recompute(ctx, lease, outcome.Payment.MonthYear)

	s.broadcaster.Broadcast(ctx, broadcast.KindPaymentCreated, *outcome.Payment)
	if result.Status != nil {
		s.broadcaster.Broadcast(ctx, broadcast.KindPaymentReconciled, *result.Status)
	}
	s.auditSvc.AuditLog(ctx, "payment.recorded", "payment", outcome.Payment.ID.String(), map[string]any{
		"lease_id":              lease.ID.String(),
		"amount":                outcome.Payment.Amount.StringFixed(2),
		"currency":              outcome.Payment.Currency,
		"payment_method":        method,
		"transaction_reference": reference,
	})
	return result, nil
}

// CorrectStatus is the only mutation allowed on a recorded payment.
func (s *Service) CorrectStatus(ctx context.Context, id string, newStatus string) (*paymentdomain.Payment, error) {
	newStatus = strings.ToLower(strings.TrimSpace(newStatus))
	switch newStatus {
	case paymentdomain.PaymentCompleted, paymentdomain.PaymentPending, paymentdomain.PaymentFailed:
	default:
		return nil, paymentdomain.ErrInvalidStatus
	}

	payment, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	previous := payment.Status
	if previous == newStatus {
		return payment, nil
	}

	if err := s.repo.UpdateStatus(ctx, s.db, payment.ID, newStatus, s.clock.Now()); err != nil {
		return nil, fmt.Errorf("%w: update payment status: %v", paymentdomain.ErrPersistence, err)
	}
	updated, err := s.repo.FindByID(ctx, s.db, payment.ID)
	if err != nil || updated == nil {
		return nil, fmt.Errorf("%w: reload payment: %v", paymentdomain.ErrPersistence, err)
	}

	if lease, err := s.leaseRepo.FindByID(ctx, s.db, updated.LeaseID); err != nil {
		s.log.Warn("failed to load lease for recompute", zap.String("lease_id", updated.LeaseID.String()), zap.Error(err))
	} else if lease != nil {
		if row := s.recompute(ctx, lease, updated.MonthYear); row != nil {
			s.broadcaster.Broadcast(ctx, broadcast.KindPaymentReconciled, *row)
		}
	}

	s.broadcaster.Broadcast(ctx, broadcast.KindPaymentUpdated, *updated)
	s.auditSvc.AuditLog(ctx, "payment.status_corrected", "payment", updated.ID.String(), map[string]any{
		"from": previous,
		"to":   newStatus,
	})
	return updated, nil
}

func (s *Service) Summary(ctx context.Context, monthYear string) (*paymentdomain.Summary, error) {
	monthYear = strings.TrimSpace(monthYear)
	if monthYear == "" {
		monthYear = paymentdomain.MonthYear(s.clock.Now())
	}
	if err := validateMonthYear(monthYear); err != nil {
		return nil, err
	}

	rows, err := s.repo.SummarizeStatuses(ctx, s.db, monthYear)
	if err != nil {
		return nil, err
	}
	summary := &paymentdomain.Summary{
		MonthYear:     monthYear,
		Rows:          rows,
		TotalExpected: decimal.Zero,
		TotalPaid:     decimal.Zero,
	}
	for i := range rows {
		rows[i].TotalExpected = rows[i].TotalExpected.Round(2)
		rows[i].TotalPaid = rows[i].TotalPaid.Round(2)
		summary.TotalExpected = summary.TotalExpected.Add(rows[i].TotalExpected)
		summary.TotalPaid = summary.TotalPaid.Add(rows[i].TotalPaid)
	}
	return summary, nil
}

func (s *Service) ListStatuses(ctx context.Context, monthYear string, leaseID string, statusFilter string) ([]paymentdomain.PaymentStatus, error) {
	filter := paymentdomain.StatusFilter{
		MonthYear: strings.TrimSpace(monthYear),
		Status:    strings.ToLower(strings.TrimSpace(statusFilter)),
	}
	if filter.MonthYear != "" {
		if err := validateMonthYear(filter.MonthYear); err != nil {
			return nil, err
		}
	}
	id, err := parseOptionalID(leaseID)
	if err != nil {
		return nil, err
	}
	filter.LeaseID = id
	return s.repo.ListStatuses(ctx, s.db, filter)
}

// Recompute rebuilds one monthly aggregate on demand.
func (s *Service) Recompute(ctx context.Context, leaseID string, monthYear string) (*paymentdomain.PaymentStatus, error) {
	id, err := parseID(leaseID, paymentdomain.ErrLeaseNotFound)
	if err != nil {
		return nil, err
	}
	row, err := s.aggregator.RecomputeByID(ctx, id, strings.TrimSpace(monthYear))
	if err != nil {
		return nil, err
	}

	s.broadcaster.Broadcast(ctx, broadcast.KindPaymentReconciled, *row)
	s.auditSvc.AuditLog(ctx, "payment_status.recomputed", "payment_status", row.ID.String(), map[string]any{
		"lease_id":   row.LeaseID.String(),
		"month_year": row.MonthYear,
		"status":     row.Status,
	})
	return row, nil
}

func (s *Service) Receipt(ctx context.Context, id string) (io.Reader, error) {
	payment, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	data := pdf.ReceiptData{
		ReceiptNumber:        "RCPT-" + payment.TransactionReference,
		IssuedAt:             s.clock.Now().UTC().Format(time.DateOnly),
		LeaseID:              payment.LeaseID.String(),
		MonthYear:            payment.MonthYear,
		PaymentDate:          payment.PaymentDate.UTC().Format(time.DateOnly),
		PaymentMethod:        payment.PaymentMethod,
		TransactionReference: payment.TransactionReference,
		Amount:               money(payment.Currency, payment.Amount),
		Status:               payment.Status,
	}
	if payment.PhoneNumber != nil {
		data.TenantPhone = *payment.PhoneNumber
	}

	occupancy, err := s.leaseRepo.FindOccupancy(ctx, s.db, payment.LeaseID)
	if err != nil {
		return nil, err
	}
	if occupancy != nil {
		data.TenantName = occupancy.Tenant.FullName
		if data.TenantPhone == "" {
			data.TenantPhone = occupancy.Tenant.Phone
		}
		data.RoomNumber = occupancy.Room.RoomNumber
		data.Block = occupancy.Room.Block
	}

	row, err := s.repo.FindStatus(ctx, s.db, payment.LeaseID, payment.MonthYear)
	if err != nil {
		s.log.Warn("failed to load payment status for receipt", zap.Error(err))
	} else if row != nil {
		data.ExpectedAmount = money(payment.Currency, row.ExpectedAmount)
		data.PaidToDate = money(payment.Currency, row.PaidAmount)
		data.MonthStatus = row.Status
	}

	return s.pdf.GenerateReceipt(ctx, data)
}

// recompute refreshes the aggregate after a payment change. A failure is
// logged only; the next write for the month heals the row.
func (s *Service) recompute(ctx context.Context, lease *leasedomain.Lease, monthYear string) *paymentdomain.PaymentStatus {
	row, err := s.aggregator.Recompute(ctx, lease, monthYear)
	if err != nil {
		s.log.Warn("payment status recompute failed",
			zap.String("lease_id", lease.ID.String()),
			zap.String("month_year", monthYear),
			zap.Error(err),
		)
		return nil
	}
	return row
}

func validateMonthYear(value string) error {
	if _, err := time.Parse(paymentdomain.MonthYearLayout, value); err != nil {
		return paymentdomain.ErrInvalidMonthYear
	}
	return nil
}

func parseID(raw string, notFound error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id == 0 {
		return 0, notFound
	}
	return id, nil
}

func parseOptionalID(raw string) (snowflake.ID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	id, err := snowflake.ParseString(raw)
	if err != nil {
		return 0, paymentdomain.ErrInvalidID
	}
	return id, nil
}

func recordedBy(ctx context.Context) *string {
	actorType, actorID := obscontext.ActorFromContext(ctx)
	if actorID == "" {
		return nil
	}
	value := actorType + ":" + actorID
	return &value
}

func optional(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func money(currency string, amount decimal.Decimal) string {
	return strings.TrimSpace(currency + " " + amount.StringFixed(2))
}
