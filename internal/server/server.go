package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/rentflow/internal/apikey"
	apikeydomain "github.com/smallbiznis/rentflow/internal/apikey/domain"
	"github.com/smallbiznis/rentflow/internal/audit"
	auditdomain "github.com/smallbiznis/rentflow/internal/audit/domain"
	"github.com/smallbiznis/rentflow/internal/authorization"
	"github.com/smallbiznis/rentflow/internal/broadcast"
	"github.com/smallbiznis/rentflow/internal/config"
	"github.com/smallbiznis/rentflow/internal/ingestlog"
	ingestlogdomain "github.com/smallbiznis/rentflow/internal/ingestlog/domain"
	"github.com/smallbiznis/rentflow/internal/lease"
	"github.com/smallbiznis/rentflow/internal/observability"
	obsmiddleware "github.com/smallbiznis/rentflow/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/rentflow/internal/observability/metrics"
	obstracing "github.com/smallbiznis/rentflow/internal/observability/tracing"
	"github.com/smallbiznis/rentflow/internal/payment"
	paymentdomain "github.com/smallbiznis/rentflow/internal/payment/domain"
	"github.com/smallbiznis/rentflow/internal/payment/webhook"
	"github.com/smallbiznis/rentflow/internal/providers"
	"github.com/smallbiznis/rentflow/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(func(svc *webhook.Service) paymentdomain.WebhookService { return svc }),
	authorization.Module,
	audit.Module,
	apikey.Module,
	ingestlog.Module,
	lease.Module,
	broadcast.Module,
	providers.Module,
	ratelimit.Module,
	payment.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

type EngineParams struct {
	fx.In

	ObsCfg      observability.Config
	HTTPMetrics *obsmetrics.HTTPMetrics
	Registry    *prometheus.Registry `optional:"true"`
}

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics, reg *prometheus.Registry) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(obsmetrics.Gatherer(reg), promhttp.HandlerOpts{})))

	return r
}

func registerGin(p EngineParams) *gin.Engine {
	return NewEngine(p.ObsCfg, p.HTTPMetrics, p.Registry)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine         *gin.Engine
	cfg            config.Config
	log            *zap.Logger
	apiKeySvc      apikeydomain.Service
	authzSvc       authorization.Service
	auditSvc       auditdomain.Service
	ingestLogSvc   ingestlogdomain.Service
	paymentSvc     paymentdomain.Service
	webhookSvc     paymentdomain.WebhookService
	hub            *broadcast.Hub
	webhookLimiter *ratelimit.WebhookLimiter
	obsMetrics     *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin            *gin.Engine
	Cfg            config.Config
	Log            *zap.Logger
	APIKeySvc      apikeydomain.Service
	AuthzSvc       authorization.Service
	AuditSvc       auditdomain.Service
	IngestLogSvc   ingestlogdomain.Service
	PaymentSvc     paymentdomain.Service
	WebhookSvc     paymentdomain.WebhookService
	Hub            *broadcast.Hub             `optional:"true"`
	WebhookLimiter *ratelimit.WebhookLimiter `optional:"true"`
	ObsMetrics     *obsmetrics.Metrics       `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:         p.Gin,
		cfg:            p.Cfg,
		log:            p.Log.Named("http.server"),
		apiKeySvc:      p.APIKeySvc,
		authzSvc:       p.AuthzSvc,
		auditSvc:       p.AuditSvc,
		ingestLogSvc:   p.IngestLogSvc,
		paymentSvc:     p.PaymentSvc,
		webhookSvc:     p.WebhookSvc,
		hub:            p.Hub,
		webhookLimiter: p.WebhookLimiter,
		obsMetrics:     p.ObsMetrics,
	}

	svc.registerWebhookRoutes()
	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerWebhookRoutes() {
	hooks := s.engine.Group("/api/webhooks", s.WebhookRateLimit())

	// The gateway is configured with a fixed URL; the generic route serves
	// any other registered adapter.
	hooks.POST("/jenga", s.handleWebhook("jenga"))
	hooks.POST("/:provider", s.handleWebhook(""))
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", s.APIKeyRequired())

	// -------- Payments --------
	api.GET("/payments", s.authorize(authorization.ObjectPayment, authorization.ActionPaymentView), s.ListPayments)
	api.POST("/payments", s.authorize(authorization.ObjectPayment, authorization.ActionPaymentRecord), s.RecordPayment)
	api.GET("/payments/summary", s.authorize(authorization.ObjectPayment, authorization.ActionPaymentView), s.PaymentSummary)
	api.GET("/payments/:id", s.authorize(authorization.ObjectPayment, authorization.ActionPaymentView), s.GetPayment)
	api.PATCH("/payments/:id/status", s.authorize(authorization.ObjectPayment, authorization.ActionPaymentCorrect), s.CorrectPaymentStatus)
	api.GET("/payments/:id/receipt", s.authorize(authorization.ObjectPayment, authorization.ActionPaymentView), s.PaymentReceipt)

	// -------- Payment status --------
	api.GET("/payment-status", s.authorize(authorization.ObjectPaymentStatus, authorization.ActionPaymentStatusView), s.ListPaymentStatuses)
	api.POST("/leases/:id/payment-status/:month/recompute", s.authorize(authorization.ObjectPaymentStatus, authorization.ActionPaymentStatusRecompute), s.RecomputePaymentStatus)

	// -------- IPN logs --------
	api.GET("/ipn-logs", s.authorize(authorization.ObjectIPNLog, authorization.ActionIPNLogView), s.ListIPNLogs)
	api.GET("/ipn-logs/:id", s.authorize(authorization.ObjectIPNLog, authorization.ActionIPNLogView), s.GetIPNLog)
	api.POST("/ipn-logs/:id/replay", s.authorize(authorization.ObjectIPNLog, authorization.ActionIPNLogReplay), s.ReplayIPNLog)

	// -------- Live events --------
	api.GET("/events", s.authorize(authorization.ObjectPayment, authorization.ActionPaymentView), s.StreamEvents)

	// -------- Audit --------
	api.GET("/audit-logs", s.authorize(authorization.ObjectAuditLog, authorization.ActionAuditLogView), s.ListAuditLogs)

	// -------- API keys --------
	api.GET("/api-keys", s.authorize(authorization.ObjectAPIKey, authorization.ActionAPIKeyView), s.ListAPIKeys)
	api.POST("/api-keys", s.authorize(authorization.ObjectAPIKey, authorization.ActionAPIKeyCreate), s.CreateAPIKey)
	api.POST("/api-keys/:key_id/revoke", s.authorize(authorization.ObjectAPIKey, authorization.ActionAPIKeyRevoke), s.RevokeAPIKey)
}
