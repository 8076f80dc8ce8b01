package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	auditdomain "github.com/smallbiznis/rentflow/internal/audit/domain"
	"github.com/smallbiznis/rentflow/internal/broadcast"
	"github.com/smallbiznis/rentflow/internal/clock"
	leasedomain "github.com/smallbiznis/rentflow/internal/lease/domain"
	obscontext "github.com/smallbiznis/rentflow/internal/observability/context"
	obslogger "github.com/smallbiznis/rentflow/internal/observability/logger"
	paymentdomain "github.com/smallbiznis/rentflow/internal/payment/domain"
	"github.com/smallbiznis/rentflow/internal/payment/status"
	"github.com/smallbiznis/rentflow/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const jobStatusSweep = "status_sweep"

var ErrInvalidConfig = errors.New("scheduler: missing dependency")

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Config      Config `optional:"true"`
	LeaseRepo   leasedomain.Repository
	Repo        paymentdomain.Repository
	Aggregator  *status.Aggregator
	Broadcaster paymentdomain.Broadcaster
	Locker      *ratelimit.Locker    `optional:"true"`
	Registry    *prometheus.Registry `optional:"true"`
}

// Scheduler periodically recomputes the current month of every active
// lease so that unpaid months turn overdue without a new payment.
type Scheduler struct {
	db          *gorm.DB
	log         *zap.Logger
	cfg         Config
	genID       *snowflake.Node
	clock       clock.Clock
	leaseRepo   leasedomain.Repository
	repo        paymentdomain.Repository
	aggregator  *status.Aggregator
	broadcaster paymentdomain.Broadcaster
	locker      *ratelimit.Locker
	metrics     *jobMetrics
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.LeaseRepo == nil || p.Repo == nil || p.Aggregator == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:          p.DB,
		log:         p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:         p.Config.withDefaults(),
		genID:       p.GenID,
		clock:       p.Clock,
		leaseRepo:   p.LeaseRepo,
		repo:        p.Repo,
		aggregator:  p.Aggregator,
		broadcaster: p.Broadcaster,
		locker:      p.Locker,
		metrics:     newJobMetrics(p.Registry),
	}, nil
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) RunOnce(ctx context.Context) error {
	return s.runJob(ctx, jobStatusSweep, s.cfg.JobTimeout, s.StatusSweepJob)
}

func (s *Scheduler) runJob(parent context.Context, name string, timeout time.Duration, fn func(ctx context.Context) (int, error)) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx = obscontext.WithActor(ctx, auditdomain.ActorTypeSystem, "scheduler")
	log := obslogger.WithContext(ctx, s.log).With(
		zap.String("job", name),
		zap.String("run_id", s.genID.Generate().String()),
	)

	if s.locker != nil {
		key := "scheduler:" + name
		token, ok, err := s.locker.TryLock(ctx, key, timeout)
		switch {
		case err != nil:
			log.Warn("job lock unavailable, running unlocked", zap.Error(err))
		case !ok:
			log.Debug("job already running elsewhere")
			return nil
		default:
			defer func() {
				if err := s.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
					log.Warn("failed to release job lock", zap.Error(err))
				}
			}()
		}
	}

	s.metrics.incRun(name)
	log.Info("job started")
	processed, err := fn(ctx)
	duration := s.clock.Now().Sub(start)
	s.metrics.observeDuration(name, duration)

	if err == nil {
		log.Info("job finished", zap.Int("processed", processed), zap.Duration("duration", duration))
		return nil
	}

	// A deadline is a soft stop; the next run picks up the rest.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.metrics.incTimeout(name)
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Int("processed", processed),
			zap.Error(err),
		)
		return nil
	}

	s.metrics.incError(name)
	log.Error("job failed", zap.Int("processed", processed), zap.Error(err))
	return fmt.Errorf("%s: %w", name, err)
}

// StatusSweepJob recomputes the current month for active leases that are
// not yet paid. Leases whose status changed are broadcast.
func (s *Scheduler) StatusSweepJob(ctx context.Context) (int, error) {
	now := s.clock.Now()
	monthYear := paymentdomain.MonthYear(now)

	var (
		after     snowflake.ID
		processed int
		jobErr    error
	)
	for {
		if err := ctx.Err(); err != nil {
			return processed, err
		}

		leases, err := s.leaseRepo.ListActive(ctx, s.db, after, s.cfg.BatchSize)
		if err != nil {
			return processed, errors.Join(jobErr, err)
		}
		if len(leases) == 0 {
			break
		}

		for i := range leases {
			lease := &leases[i]
			if lease.StartDate.After(now) {
				continue
			}
			changed, err := s.sweepLease(ctx, lease, monthYear)
			if err != nil {
				if ctx.Err() != nil {
					return processed, ctx.Err()
				}
				s.log.Warn("status sweep failed for lease", zap.String("lease_id", lease.ID.String()), zap.Error(err))
				jobErr = errors.Join(jobErr, err)
				continue
			}
			if changed {
				processed++
			}
		}

		after = leases[len(leases)-1].ID
		if len(leases) < s.cfg.BatchSize {
			break
		}
	}
	return processed, jobErr
}

func (s *Scheduler) sweepLease(ctx context.Context, lease *leasedomain.Lease, monthYear string) (bool, error) {
	prev, err := s.repo.FindStatus(ctx, s.db, lease.ID, monthYear)
	if err != nil {
		return false, err
	}
	if prev != nil && prev.Status == paymentdomain.StatusPaid {
		return false, nil
	}

	current, err := s.aggregator.Recompute(ctx, lease, monthYear)
	if err != nil {
		return false, err
	}
	if prev != nil && prev.Status == current.Status {
		return false, nil
	}

	from := ""
	if prev != nil {
		from = prev.Status
	}
	s.metrics.incTransition(from, current.Status)
	if s.broadcaster != nil {
		s.broadcaster.Broadcast(ctx, broadcast.KindPaymentReconciled, *current)
	}
	return true, nil
}
