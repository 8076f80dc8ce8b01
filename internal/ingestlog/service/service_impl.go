package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/rentflow/internal/clock"
	"github.com/smallbiznis/rentflow/internal/ingestlog/domain"
	obslogger "github.com/smallbiznis/rentflow/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/rentflow/internal/observability/metrics"
	"github.com/smallbiznis/rentflow/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	// maxStoredMessage bounds error text persisted per entry.
	maxStoredMessage = 1024
	maxProvider      = 64
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       domain.Repository
	Clock      clock.Clock
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       domain.Repository
	clock      clock.Clock
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ingestlog.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		clock:      p.Clock,
		obsMetrics: p.ObsMetrics,
	}
}

// Begin appends the entry for a new call and returns its id, or zero when
// the row could not be written.
func (s *Service) Begin(ctx context.Context, req domain.BeginRequest) snowflake.ID {
	payload, encoding := encodePayload(req.RawPayload)
	entry := &domain.Entry{
		ID:               s.genID.Generate(),
		Provider:         cut(strings.TrimSpace(req.Provider), maxProvider),
		RawPayload:       payload,
		PayloadEncoding:  encoding,
		PayloadTruncated: req.Truncated,
		Verified:         false,
		Processed:        false,
		Outcome:          domain.OutcomeReceived,
		RemoteAddr:       req.RemoteAddr,
		ReplayOf:         req.ReplayOf,
		CreatedAt:        s.clock.Now(),
	}
	if signature := strings.TrimSpace(req.Signature); signature != "" {
		entry.Signature = &signature
	}

	if err := s.repo.Insert(ctx, s.db, entry); err != nil {
		s.fail(ctx, "begin", 0, err)
		return 0
	}
	return entry.ID
}

func (s *Service) MarkVerified(ctx context.Context, id snowflake.ID) {
	s.update(ctx, "verified", id, map[string]any{"verified": true})
}

func (s *Service) MarkParsed(ctx context.Context, id snowflake.ID, reference string) {
	s.update(ctx, "parsed", id, map[string]any{"transaction_reference": strings.TrimSpace(reference)})
}

// MarkRejected closes the entry without financial effect.
func (s *Service) MarkRejected(ctx context.Context, id snowflake.ID, outcome string, reason string) {
	s.update(ctx, "rejected", id, map[string]any{
		"outcome":       outcome,
		"processed":     false,
		"error_message": truncate(reason),
		"processed_at":  s.clock.Now(),
	})
}

// MarkProcessed closes the entry as handled. note explains non-obvious
// outcomes such as duplicates or skipped statuses.
func (s *Service) MarkProcessed(ctx context.Context, id snowflake.ID, outcome string, note string) {
	fields := map[string]any{
		"outcome":      outcome,
		"processed":    true,
		"processed_at": s.clock.Now(),
	}
	if note = strings.TrimSpace(note); note != "" {
		fields["error_message"] = truncate(note)
	}
	s.update(ctx, "processed", id, fields)
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Entry, error) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || parsed == 0 {
		return nil, domain.ErrNotFound
	}
	entry, err := s.repo.FindByID(ctx, s.db, parsed)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, domain.ErrNotFound
	}
	return entry, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (*domain.ListResponse, error) {
	limit := req.Limit()
	filter := domain.ListFilter{
		Outcome:   strings.TrimSpace(req.Outcome),
		Reference: strings.TrimSpace(req.Reference),
		Processed: req.Processed,
		Limit:     limit + 1,
	}
	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return nil, err
		}
		filter.Cursor = cursor
	}

	entries, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return nil, err
	}
	entries, info := pagination.Trim(entries, limit, func(e domain.Entry) pagination.Cursor {
		return pagination.Cursor{ID: int64(e.ID), CreatedAt: e.CreatedAt}
	})
	return &domain.ListResponse{Entries: entries, PageInfo: info}, nil
}

func (s *Service) update(ctx context.Context, operation string, id snowflake.ID, fields map[string]any) {
	if id == 0 {
		return
	}
	if err := s.repo.Update(ctx, s.db, id, fields); err != nil {
		s.fail(ctx, operation, id, err)
	}
}

func (s *Service) fail(ctx context.Context, operation string, id snowflake.ID, err error) {
	obslogger.WithContext(ctx, s.log).Warn("ingest log write failed",
		zap.String("operation", operation),
		zap.String("entry_id", id.String()),
		zap.Error(err),
	)
	s.obsMetrics.RecordIngestLogFailure(ctx, operation)
}

// encodePayload keeps UTF-8 text as is. Anything a text column would refuse
// (invalid UTF-8, NUL bytes) is stored base64 encoded.
func encodePayload(raw []byte) (string, string) {
	if utf8.Valid(raw) && bytes.IndexByte(raw, 0) < 0 {
		return string(raw), domain.EncodingUTF8
	}
	return base64.StdEncoding.EncodeToString(raw), domain.EncodingBase64
}

func truncate(msg string) string {
	return cut(strings.TrimSpace(msg), maxStoredMessage)
}

// cut shortens s to at most n bytes without splitting a rune and drops
// invalid sequences.
func cut(s string, n int) string {
	s = strings.ToValidUTF8(s, "")
	s = strings.ReplaceAll(s, "\x00", "")
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

