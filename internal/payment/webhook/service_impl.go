package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	auditdomain "github.com/smallbiznis/rentflow/internal/audit/domain"
	"github.com/smallbiznis/rentflow/internal/broadcast"
	"github.com/smallbiznis/rentflow/internal/config"
	ingestlogdomain "github.com/smallbiznis/rentflow/internal/ingestlog/domain"
	obslogger "github.com/smallbiznis/rentflow/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/rentflow/internal/observability/metrics"
	"github.com/smallbiznis/rentflow/internal/payment/account"
	"github.com/smallbiznis/rentflow/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/rentflow/internal/payment/domain"
	"github.com/smallbiznis/rentflow/internal/payment/ledger"
	"github.com/smallbiznis/rentflow/internal/payment/status"
	"github.com/smallbiznis/rentflow/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	defaultDBTimeout = 10 * time.Second
	replayLockTTL    = 30 * time.Second

	// unknownProvider is the metrics label for paths naming no adapter.
	unknownProvider = "unknown"
)

type Params struct {
	fx.In

	Log         *zap.Logger
	Cfg         config.Config
	Adapters    *adapters.Registry
	IngestLog   ingestlogdomain.Service
	Resolver    *account.Resolver
	Writer      *ledger.Writer
	Aggregator  *status.Aggregator
	Broadcaster paymentdomain.Broadcaster
	AuditSvc    auditdomain.Service `optional:"true"`
	Locker      *ratelimit.Locker   `optional:"true"`
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log         *zap.Logger
	adapters    *adapters.Registry
	ingestLog   ingestlogdomain.Service
	resolver    *account.Resolver
	writer      *ledger.Writer
	aggregator  *status.Aggregator
	broadcaster paymentdomain.Broadcaster
	auditSvc    auditdomain.Service
	locker      *ratelimit.Locker
	obsMetrics  *obsmetrics.Metrics
	dbTimeout   time.Duration
}

func NewService(p Params) *Service {
	timeout := time.Duration(p.Cfg.DBTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultDBTimeout
	}
	return &Service{
		log:         p.Log.Named("payment.webhook"),
		adapters:    p.Adapters,
		ingestLog:   p.IngestLog,
		resolver:    p.Resolver,
		writer:      p.Writer,
		aggregator:  p.Aggregator,
		broadcaster: p.Broadcaster,
		auditSvc:    p.AuditSvc,
		locker:      p.Locker,
		obsMetrics:  p.ObsMetrics,
		dbTimeout:   timeout,
	}
}

// Ingest runs one notification through verification, parsing, account
// resolution, recording, aggregation and broadcast. The result is returned
// even when err is non-nil so callers can report the log entry.
func (s *Service) Ingest(ctx context.Context, provider string, payload []byte, headers http.Header, meta paymentdomain.RequestMeta) (*paymentdomain.IngestResult, error) {
	// Log writes outlive the pipeline deadline so the terminal state is kept.
	logCtx := context.WithoutCancel(ctx)
	ctx, cancel := context.WithTimeout(ctx, s.dbTimeout)
	defer cancel()

	adapter, lookupErr := s.adapters.Adapter(provider)
	begin := ingestlogdomain.BeginRequest{
		Provider:   provider,
		RawPayload: payload,
		Truncated:  meta.Truncated,
		RemoteAddr: meta.RemoteAddr,
		ReplayOf:   meta.ReplayOf,
	}
	metricsProvider := unknownProvider
	if lookupErr == nil {
		provider = adapter.Provider()
		metricsProvider = provider
		begin.Provider = provider
		begin.Signature = adapter.Signature(headers)
	}

	logID := s.ingestLog.Begin(logCtx, begin)
	run := &run{
		svc:      s,
		ctx:      logCtx,
		provider: metricsProvider,
		log:      obslogger.WithContext(ctx, s.log).With(zap.String("provider", provider), zap.String("ipn_log_id", logID.String())),
		result:   &paymentdomain.IngestResult{LogID: logID, Outcome: ingestlogdomain.OutcomeReceived},
	}

	if lookupErr != nil {
		return run.reject(ingestlogdomain.OutcomeRejectedUnknownProvider, lookupErr)
	}
	if meta.Truncated {
		return run.reject(ingestlogdomain.OutcomeRejectedInvalidPayload, paymentdomain.NewValidationError("body", "payload too large or incomplete"))
	}

	if err := adapter.Verify(ctx, payload, headers); err != nil {
		return run.reject(ingestlogdomain.OutcomeRejectedBadSignature, err)
	}
	s.ingestLog.MarkVerified(logCtx, logID)

	tx, err := adapter.Parse(ctx, payload)
	if err != nil {
		return run.reject(ingestlogdomain.OutcomeRejectedInvalidPayload, err)
	}
	s.ingestLog.MarkParsed(logCtx, logID, tx.Reference)
	run.log = run.log.With(zap.String("transaction_reference", tx.Reference))

	lease, err := s.resolver.Resolve(ctx, tx.AccountNumber)
	if err != nil {
		switch {
		case errors.Is(err, paymentdomain.ErrUnknownAccount):
			return run.reject(ingestlogdomain.OutcomeRejectedUnknownAccount, err)
		case errors.Is(err, paymentdomain.ErrLeaseNotFound):
			return run.reject(ingestlogdomain.OutcomeRejectedLeaseNotFound, err)
		default:
			return run.reject(ingestlogdomain.OutcomeFailed, err)
		}
	}

	outcome, err := s.writer.Write(ctx, tx, lease)
	if err != nil {
		return run.reject(ingestlogdomain.OutcomeFailed, err)
	}
	switch {
	case outcome.Duplicate:
		run.result.Payment = outcome.Payment
		return run.finish(ingestlogdomain.OutcomeDuplicateSkipped, "duplicate transaction reference")
	case outcome.Skipped:
		return run.finish(ingestlogdomain.OutcomeNonSuccessSkipped, outcome.Note)
	}
	run.result.Payment = outcome.Payment

	var note string
	paymentStatus, err := s.aggregator.Recompute(ctx, lease, outcome.Payment.MonthYear)
	if err != nil {
		// The payment is committed; the next write for this month recomputes.
		run.log.Warn("payment status recompute failed", zap.String("lease_id", lease.ID.String()), zap.Error(err))
		note = "status aggregation failed: " + err.Error()
	}
	run.result.Status = paymentStatus

	s.broadcaster.Broadcast(logCtx, broadcast.KindPaymentCreated, *outcome.Payment)
	if paymentStatus != nil {
		s.broadcaster.Broadcast(logCtx, broadcast.KindPaymentReconciled, *paymentStatus)
	}

	return run.finish(ingestlogdomain.OutcomeProcessed, note)
}

// Replay re-runs a logged notification with its stored body and signature.
// A new log entry pointing at the original is written.
func (s *Service) Replay(ctx context.Context, logID string) (*paymentdomain.IngestResult, error) {
	entry, err := s.ingestLog.Get(ctx, logID)
	if err != nil {
		return nil, err
	}

	if s.locker != nil {
		key := fmt.Sprintf("ipn:replay:%s", entry.ID.String())
		token, ok, err := s.locker.TryLock(ctx, key, replayLockTTL)
		if err != nil {
			s.log.Warn("replay lock unavailable, continuing without it", zap.Error(err))
		} else if !ok {
			return nil, paymentdomain.ErrReplayInProgress
		} else {
			defer func() {
				if err := s.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
					s.log.Warn("failed to release replay lock", zap.Error(err))
				}
			}()
		}
	}

	adapter, err := s.adapters.Adapter(entry.Provider)
	if err != nil {
		return nil, err
	}
	headers := http.Header{}
	if entry.Signature != nil {
		headers.Set(adapter.SignatureHeader(), *entry.Signature)
	}

	body, err := entry.Body()
	if err != nil {
		return nil, fmt.Errorf("decode stored payload: %w", err)
	}

	replayOf := entry.ID
	result, err := s.Ingest(ctx, entry.Provider, body, headers, paymentdomain.RequestMeta{
		RemoteAddr: "replay",
		ReplayOf:   &replayOf,
		Truncated:  entry.PayloadTruncated,
	})
	if result != nil && s.auditSvc != nil {
		s.auditSvc.AuditLog(ctx, "ipn_log.replayed", "ipn_log", entry.ID.String(), map[string]any{
			"replay_log_id": result.LogID.String(),
			"outcome":       result.Outcome,
		})
	}
	return result, err
}

// run carries the state of a single Ingest call.
type run struct {
	svc      *Service
	ctx      context.Context
	provider string
	log      *zap.Logger
	result   *paymentdomain.IngestResult
}

func (r *run) reject(outcome string, err error) (*paymentdomain.IngestResult, error) {
	r.result.Outcome = outcome
	r.svc.ingestLog.MarkRejected(r.ctx, r.result.LogID, outcome, err.Error())
	r.svc.obsMetrics.RecordWebhookOutcome(r.ctx, r.provider, outcome)

	if outcome == ingestlogdomain.OutcomeFailed {
		r.log.Error("webhook processing failed", zap.Error(err))
	} else {
		r.log.Warn("webhook rejected", zap.String("outcome", outcome), zap.Error(err))
	}
	return r.result, err
}

func (r *run) finish(outcome, note string) (*paymentdomain.IngestResult, error) {
	r.result.Outcome = outcome
	r.svc.ingestLog.MarkProcessed(r.ctx, r.result.LogID, outcome, note)
	r.svc.obsMetrics.RecordWebhookOutcome(r.ctx, r.provider, outcome)

	fields := []zap.Field{zap.String("outcome", outcome)}
	if r.result.Payment != nil {
		fields = append(fields, zap.String("payment_id", r.result.Payment.ID.String()))
	}
	if strings.TrimSpace(note) != "" {
		fields = append(fields, zap.String("note", note))
	}
	r.log.Info("webhook handled", fields...)
	return r.result, nil
}
