package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/rentflow/internal/audit/domain"
	"github.com/smallbiznis/rentflow/internal/audit/masking"
	"github.com/smallbiznis/rentflow/internal/clock"
	obscontext "github.com/smallbiznis/rentflow/internal/observability/context"
	"github.com/smallbiznis/rentflow/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  auditdomain.Repository
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  auditdomain.Repository
	clock clock.Clock
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		repo:  p.Repo,
		clock: p.Clock,
	}
}

func (s *Service) AuditLog(ctx context.Context, action string, targetType string, targetID string, metadata map[string]any) {
	action = strings.TrimSpace(action)
	if action == "" {
		return
	}
	targetType = strings.TrimSpace(targetType)
	if targetType == "" {
		targetType = "unknown"
	}

	payload := masking.MaskFields(metadata, "phone_number", "signature")
	if payload == nil {
		payload = map[string]any{}
	}
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		payload["request_id"] = requestID
	}
	if cid := obscontext.CorrelationIDFromContext(ctx); cid != "" {
		payload["correlation_id"] = cid
	}

	actorType, actorID := obscontext.ActorFromContext(ctx)
	if actorType == "" {
		actorType = auditdomain.ActorTypeSystem
	}

	entry := auditdomain.AuditLog{
		ID:         s.genID.Generate(),
		ActorType:  actorType,
		ActorID:    optional(actorID),
		Action:     action,
		TargetType: targetType,
		TargetID:   optional(targetID),
		Metadata:   datatypes.JSONMap(payload),
		CreatedAt:  s.clock.Now(),
	}

	if err := s.repo.Insert(ctx, s.db, &entry); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
	}
}

func (s *Service) List(ctx context.Context, req auditdomain.ListRequest) (*auditdomain.ListResponse, error) {
	limit := req.Limit()
	filter := auditdomain.ListFilter{
		Action:     req.Action,
		TargetType: req.TargetType,
		TargetID:   req.TargetID,
		Limit:      limit + 1,
	}
	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return nil, auditdomain.ErrInvalidPageToken
		}
		filter.Cursor = cursor
	}

	logs, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return nil, err
	}
	logs, info := pagination.Trim(logs, limit, func(l auditdomain.AuditLog) pagination.Cursor {
		return pagination.Cursor{ID: int64(l.ID), CreatedAt: l.CreatedAt}
	})
	return &auditdomain.ListResponse{AuditLogs: logs, PageInfo: info}, nil
}

func optional(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
