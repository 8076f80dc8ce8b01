package domain

import (
	"database/sql/driver"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// APIKey stores hashed staff credentials.
type APIKey struct {
	ID         snowflake.ID   `gorm:"primaryKey;autoIncrement:false"`
	KeyID      string         `gorm:"column:key_id;type:varchar(191);not null;uniqueIndex:ux_api_keys_key_id"`
	Name       string         `gorm:"type:text;not null"`
	Role       string         `gorm:"type:text;not null"`
	Scopes     Scopes         `gorm:"column:scopes"`
	KeyHash    string         `gorm:"column:key_hash;type:varchar(191);not null;uniqueIndex:ux_api_keys_key_hash"`
	IsActive   bool           `gorm:"column:is_active;not null;default:true"`
	CreatedAt  time.Time      `gorm:"not null"`
	UpdatedAt  time.Time      `gorm:"not null"`
	LastUsedAt *time.Time     `gorm:"column:last_used_at"`
	ExpiresAt  *time.Time     `gorm:"column:expires_at"`
}

// TableName sets the database table name.
func (APIKey) TableName() string { return "api_keys" }

// Scopes is stored as a postgres text array and as its literal form elsewhere.
type Scopes []string

func (s Scopes) Value() (driver.Value, error) {
	if s == nil {
		return pq.StringArray{}.Value()
	}
	return pq.StringArray(s).Value()
}

func (s *Scopes) Scan(src any) error {
	return (*pq.StringArray)(s).Scan(src)
}

func (Scopes) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "text[]"
	}
	return "text"
}
