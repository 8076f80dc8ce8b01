package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/rentflow/internal/payment/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Payment, error) {
	var payment domain.Payment
	err := db.WithContext(ctx).Where("id = ?", id).Take(&payment).Error
	return found(&payment, err)
}

func (r *repo) FindByReference(ctx context.Context, db *gorm.DB, reference string) (*domain.Payment, error) {
	var payment domain.Payment
	err := db.WithContext(ctx).Where("transaction_reference = ?", reference).Take(&payment).Error
	return found(&payment, err)
}

func (r *repo) InsertIfAbsent(ctx context.Context, db *gorm.DB, payment *domain.Payment) (bool, error) {
	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "transaction_reference"}},
			DoNothing: true,
		}).
		Create(payment)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status string, at time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.Payment{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     status,
			"updated_at": at,
		}).Error
}

func (r *repo) SumCompleted(ctx context.Context, db *gorm.DB, leaseID snowflake.ID, monthYear string) (*domain.CompletedTotals, error) {
	base := func() *gorm.DB {
		return db.WithContext(ctx).
			Model(&domain.Payment{}).
			Where("lease_id = ? AND month_year = ? AND status = ?", leaseID, monthYear, domain.PaymentCompleted)
	}

	var row struct {
		Paid decimal.Decimal
	}
	if err := base().Select("COALESCE(SUM(amount), 0) AS paid").Scan(&row).Error; err != nil {
		return nil, err
	}

	var latest []time.Time
	if err := base().Order("created_at DESC").Limit(1).Pluck("created_at", &latest).Error; err != nil {
		return nil, err
	}

	totals := &domain.CompletedTotals{Paid: row.Paid}
	if len(latest) > 0 {
		last := latest[0].UTC()
		totals.LastPaymentDate = &last
	}
	return totals, nil
}

// UpsertStatus writes the aggregate in one statement keyed on (lease_id, month_year).
func (r *repo) UpsertStatus(ctx context.Context, db *gorm.DB, status *domain.PaymentStatus) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "lease_id"}, {Name: "month_year"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"tenant_id",
				"room_id",
				"expected_amount",
				"paid_amount",
				"status",
				"due_date",
				"last_payment_date",
				"updated_at",
			}),
		}).
		Create(status).Error
}

func (r *repo) FindStatus(ctx context.Context, db *gorm.DB, leaseID snowflake.ID, monthYear string) (*domain.PaymentStatus, error) {
	var status domain.PaymentStatus
	err := db.WithContext(ctx).
		Where("lease_id = ? AND month_year = ?", leaseID, monthYear).
		Take(&status).Error
	return found(&status, err)
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.Payment, error) {
	stmt := db.WithContext(ctx).Model(&domain.Payment{})
	if status := strings.TrimSpace(filter.Status); status != "" {
		stmt = stmt.Where("status = ?", status)
	}
	if monthYear := strings.TrimSpace(filter.MonthYear); monthYear != "" {
		stmt = stmt.Where("month_year = ?", monthYear)
	}
	if filter.TenantID != 0 {
		stmt = stmt.Where("tenant_id = ?", filter.TenantID)
	}
	if filter.LeaseID != 0 {
		stmt = stmt.Where("lease_id = ?", filter.LeaseID)
	}
	if filter.Cursor != nil {
		stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			filter.Cursor.CreatedAt,
			filter.Cursor.CreatedAt,
			filter.Cursor.ID,
		)
	}

	var payments []domain.Payment
	err := stmt.Order("created_at DESC").Order("id DESC").Limit(filter.Limit).Find(&payments).Error
	return payments, err
}

func (r *repo) ListStatuses(ctx context.Context, db *gorm.DB, filter domain.StatusFilter) ([]domain.PaymentStatus, error) {
	stmt := db.WithContext(ctx).Model(&domain.PaymentStatus{})
	if monthYear := strings.TrimSpace(filter.MonthYear); monthYear != "" {
		stmt = stmt.Where("month_year = ?", monthYear)
	}
	if filter.LeaseID != 0 {
		stmt = stmt.Where("lease_id = ?", filter.LeaseID)
	}
	if status := strings.TrimSpace(filter.Status); status != "" {
		stmt = stmt.Where("status = ?", status)
	}
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit)
	}

	var statuses []domain.PaymentStatus
	err := stmt.Order("month_year DESC").Order("lease_id ASC").Find(&statuses).Error
	return statuses, err
}

func (r *repo) SummarizeStatuses(ctx context.Context, db *gorm.DB, monthYear string) ([]domain.StatusSummaryRow, error) {
	var rows []domain.StatusSummaryRow
	err := db.WithContext(ctx).
		Model(&domain.PaymentStatus{}).
		Select("status, COUNT(*) AS count, COALESCE(SUM(expected_amount), 0) AS total_expected, COALESCE(SUM(paid_amount), 0) AS total_paid").
		Where("month_year = ?", monthYear).
		Group("status").
		Order("status ASC").
		Scan(&rows).Error
	return rows, err
}

func found[T any](row *T, err error) (*T, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row, nil
}
