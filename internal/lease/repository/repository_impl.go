package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/rentflow/internal/lease/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Lease, error) {
	var lease domain.Lease
	err := db.WithContext(ctx).Where("id = ?", id).Take(&lease).Error
	return found(&lease, err)
}

func (r *repo) FindActiveByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Lease, error) {
	var lease domain.Lease
	err := db.WithContext(ctx).
		Where("id = ? AND status = ?", id, domain.StatusActive).
		Take(&lease).Error
	return found(&lease, err)
}

// FindActiveByTenantID returns the tenant's most recently started active lease.
func (r *repo) FindActiveByTenantID(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*domain.Lease, error) {
	var lease domain.Lease
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND status = ?", tenantID, domain.StatusActive).
		Order("start_date DESC").
		Order("id DESC").
		Take(&lease).Error
	return found(&lease, err)
}

func (r *repo) FindOccupancy(ctx context.Context, db *gorm.DB, leaseID snowflake.ID) (*domain.Occupancy, error) {
	lease, err := r.FindByID(ctx, db, leaseID)
	if err != nil || lease == nil {
		return nil, err
	}

	occ := &domain.Occupancy{Lease: *lease}
	if err := db.WithContext(ctx).Where("id = ?", lease.TenantID).Take(&occ.Tenant).Error; err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if err := db.WithContext(ctx).Where("id = ?", lease.RoomID).Take(&occ.Room).Error; err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	return occ, nil
}

func (r *repo) ListActive(ctx context.Context, db *gorm.DB, afterID snowflake.ID, limit int) ([]domain.Lease, error) {
	var leases []domain.Lease
	err := db.WithContext(ctx).
		Where("status = ? AND id > ?", domain.StatusActive, afterID).
		Order("id ASC").
		Limit(limit).
		Find(&leases).Error
	if err != nil {
		return nil, err
	}
	return leases, nil
}

func found(lease *domain.Lease, err error) (*domain.Lease, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return lease, nil
}
