package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const StatusActive = "active"

var ErrNotFound = errors.New("lease_not_found")

// Lease binds one tenant to one room for a monthly rent.
type Lease struct {
	ID          snowflake.ID    `json:"id" gorm:"primaryKey;autoIncrement:false"`
	TenantID    snowflake.ID    `json:"tenant_id" gorm:"not null;index"`
	RoomID      snowflake.ID    `json:"room_id" gorm:"not null;index"`
	MonthlyRent decimal.Decimal `json:"monthly_rent" gorm:"type:numeric(12,2);not null"`
	StartDate   time.Time       `json:"start_date" gorm:"not null"`
	EndDate     *time.Time      `json:"end_date,omitempty"`
	Status      string          `json:"status" gorm:"type:text;not null;default:active"`
	CreatedAt   time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt   time.Time       `json:"updated_at" gorm:"not null"`
}

func (Lease) TableName() string { return "leases" }

type Tenant struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey;autoIncrement:false"`
	FullName  string       `json:"full_name" gorm:"type:text;not null"`
	Email     string       `json:"email,omitempty" gorm:"type:text"`
	Phone     string       `json:"phone,omitempty" gorm:"type:text"`
	CreatedAt time.Time    `json:"created_at" gorm:"not null"`
}

func (Tenant) TableName() string { return "tenants" }

type Room struct {
	ID         snowflake.ID `json:"id" gorm:"primaryKey;autoIncrement:false"`
	RoomNumber string       `json:"room_number" gorm:"type:text;not null"`
	Block      string       `json:"block,omitempty" gorm:"type:text"`
	CreatedAt  time.Time    `json:"created_at" gorm:"not null"`
}

func (Room) TableName() string { return "rooms" }

// Occupancy is a lease joined with its tenant and room for display.
type Occupancy struct {
	Lease  Lease
	Tenant Tenant
	Room   Room
}

// Repository reads leases. Lookups return nil, nil when nothing matches.
type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Lease, error)
	FindActiveByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Lease, error)
	FindActiveByTenantID(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*Lease, error)
	FindOccupancy(ctx context.Context, db *gorm.DB, leaseID snowflake.ID) (*Occupancy, error)
	// ListActive pages through active leases in id order, after afterID.
	ListActive(ctx context.Context, db *gorm.DB, afterID snowflake.ID, limit int) ([]Lease, error)
}
