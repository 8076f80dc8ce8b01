package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

const (
	RoleAdmin = "admin"
	RoleStaff = "staff"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, key *APIKey) error
	Update(ctx context.Context, db *gorm.DB, key *APIKey) error
	FindByKeyID(ctx context.Context, db *gorm.DB, keyID string) (*APIKey, error)
	FindActiveByHash(ctx context.Context, db *gorm.DB, hash string, now time.Time) (*APIKey, error)
	TouchLastUsed(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
	List(ctx context.Context, db *gorm.DB) ([]APIKey, error)
}

type Service interface {
	List(ctx context.Context) ([]Response, error)
	Create(ctx context.Context, req CreateRequest) (*SecretResponse, error)
	Revoke(ctx context.Context, keyID string) error
	Authenticate(ctx context.Context, raw string) (*Principal, error)
	EnsureBootstrap(ctx context.Context, raw string) error
}

// Principal is the authenticated identity behind an API key.
type Principal struct {
	ID     snowflake.ID
	KeyID  string
	Role   string
	Scopes []string
}

type CreateRequest struct {
	Name   string   `json:"name"`
	Role   string   `json:"role"`
	Scopes []string `json:"scopes"`
}

type Response struct {
	KeyID      string     `json:"key_id"`
	Name       string     `json:"name"`
	Role       string     `json:"role"`
	Scopes     []string   `json:"scopes"`
	IsActive   bool       `json:"is_active"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at"`
	ExpiresAt  *time.Time `json:"expires_at"`
}

type SecretResponse struct {
	KeyID  string `json:"key_id"`
	APIKey string `json:"api_key"`
}

var (
	ErrInvalidName  = errors.New("invalid_name")
	ErrInvalidRole  = errors.New("invalid_role")
	ErrInvalidKeyID = errors.New("invalid_key_id")
	ErrInvalidKey   = errors.New("invalid_api_key")
	ErrNotFound     = errors.New("not_found")
)
