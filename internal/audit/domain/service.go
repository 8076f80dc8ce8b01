package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/rentflow/pkg/db/pagination"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	ActorTypeSystem = "system"
	ActorTypeAPIKey = "api_key"
)

type AuditLog struct {
	ID         snowflake.ID      `json:"id" gorm:"primaryKey;autoIncrement:false"`
	ActorType  string            `json:"actor_type" gorm:"type:text;not null"`
	ActorID    *string           `json:"actor_id,omitempty" gorm:"type:text"`
	Action     string            `json:"action" gorm:"type:varchar(191);not null;index"`
	TargetType string            `json:"target_type" gorm:"type:text;not null"`
	TargetID   *string           `json:"target_id,omitempty" gorm:"type:text"`
	Metadata   datatypes.JSONMap `json:"metadata,omitempty"`
	IPAddress  *string           `json:"ip_address,omitempty" gorm:"type:text"`
	CreatedAt  time.Time         `json:"created_at" gorm:"not null;index"`
}

func (AuditLog) TableName() string { return "audit_logs" }

type ListFilter struct {
	Action     string
	TargetType string
	TargetID   string
	Cursor     *pagination.Cursor
	Limit      int
}

type ListRequest struct {
	pagination.Pagination
	Action     string
	TargetType string
	TargetID   string
}

type ListResponse struct {
	AuditLogs []AuditLog          `json:"audit_logs"`
	PageInfo  pagination.PageInfo `json:"page_info"`
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]AuditLog, error)
}

// Service appends audit entries. AuditLog never fails the caller.
type Service interface {
	AuditLog(ctx context.Context, action string, targetType string, targetID string, metadata map[string]any)
	List(ctx context.Context, req ListRequest) (*ListResponse, error)
}

var (
	ErrInvalidPageToken = errors.New("invalid_page_token")
)
