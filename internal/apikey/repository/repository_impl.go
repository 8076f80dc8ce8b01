package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	apikeydomain "github.com/smallbiznis/rentflow/internal/apikey/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() apikeydomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, key *apikeydomain.APIKey) error {
	return db.WithContext(ctx).Create(key).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, key *apikeydomain.APIKey) error {
	return db.WithContext(ctx).
		Model(&apikeydomain.APIKey{}).
		Where("key_id = ?", key.KeyID).
		Updates(map[string]any{
			"name":       key.Name,
			"role":       key.Role,
			"scopes":     key.Scopes,
			"key_hash":   key.KeyHash,
			"is_active":  key.IsActive,
			"updated_at": key.UpdatedAt,
			"expires_at": key.ExpiresAt,
		}).Error
}

func (r *repo) FindByKeyID(ctx context.Context, db *gorm.DB, keyID string) (*apikeydomain.APIKey, error) {
	var key apikeydomain.APIKey
	err := db.WithContext(ctx).Where("key_id = ?", keyID).First(&key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &key, nil
}

func (r *repo) FindActiveByHash(ctx context.Context, db *gorm.DB, hash string, now time.Time) (*apikeydomain.APIKey, error) {
	var key apikeydomain.APIKey
	err := db.WithContext(ctx).
		Where("key_hash = ? AND is_active = ?", hash, true).
		Where("expires_at IS NULL OR expires_at > ?", now).
		First(&key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &key, nil
}

func (r *repo) TouchLastUsed(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).
		Model(&apikeydomain.APIKey{}).
		Where("id = ?", id).
		Update("last_used_at", at).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB) ([]apikeydomain.APIKey, error) {
	var keys []apikeydomain.APIKey
	err := db.WithContext(ctx).Order("created_at DESC").Find(&keys).Error
	if err != nil {
		return nil, err
	}
	return keys, nil
}
