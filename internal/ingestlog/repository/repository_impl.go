package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/rentflow/internal/ingestlog/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.Entry) error {
	return db.WithContext(ctx).Create(entry).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, id snowflake.ID, fields map[string]any) error {
	return db.WithContext(ctx).
		Model(&domain.Entry{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Entry, error) {
	var entry domain.Entry
	err := db.WithContext(ctx).Where("id = ?", id).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.Entry, error) {
	q := db.WithContext(ctx).Model(&domain.Entry{})
	if filter.Outcome != "" {
		q = q.Where("outcome = ?", filter.Outcome)
	}
	if filter.Reference != "" {
		q = q.Where("transaction_reference = ?", filter.Reference)
	}
	if filter.Processed != nil {
		q = q.Where("processed = ?", *filter.Processed)
	}
	if filter.Cursor != nil {
		q = q.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			filter.Cursor.CreatedAt, filter.Cursor.CreatedAt, filter.Cursor.ID)
	}

	var entries []domain.Entry
	err := q.Order("created_at DESC").Order("id DESC").Limit(filter.Limit).Find(&entries).Error
	return entries, err
}
