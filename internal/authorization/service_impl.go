package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/smallbiznis/rentflow/internal/audit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectPayment       = "payment"
	ObjectPaymentStatus = "payment_status"
	ObjectIPNLog        = "ipn_log"
	ObjectAuditLog      = "audit_log"
	ObjectAPIKey        = "api_key"
)

const (
	ActionPaymentView    = "payment.view"
	ActionPaymentRecord  = "payment.record"
	ActionPaymentCorrect = "payment.correct"

	ActionPaymentStatusView      = "payment_status.view"
	ActionPaymentStatusRecompute = "payment_status.recompute"

	ActionIPNLogView   = "ipn_log.view"
	ActionIPNLogReplay = "ipn_log.replay"

	ActionAuditLogView = "audit_log.view"

	ActionAPIKeyView   = "api_key.view"
	ActionAPIKeyCreate = "api_key.create"
	ActionAPIKeyRevoke = "api_key.revoke"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, role string, object string, action string) error {
	role = strings.ToLower(strings.TrimSpace(role))
	if role == "" {
		return ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject := fmt.Sprintf("role:%s", role)
	allowed, err := s.enforcer.Enforce(subject, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Info("authorization denied",
			zap.String("role", role),
			zap.String("object", object),
			zap.String("action", action),
		)
		s.auditDenied(ctx, role, object, action)
		return ErrForbidden
	}
	return nil
}

func (s *ServiceImpl) auditDenied(ctx context.Context, role string, object string, action string) {
	if s.auditSvc == nil {
		return
	}
	s.auditSvc.AuditLog(ctx, "authorization.denied", "authorization", object, map[string]any{
		"object": object,
		"action": action,
		"role":   role,
	})
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Staff permissions
		{"role:staff", ObjectPayment, ActionPaymentView},
		{"role:staff", ObjectPayment, ActionPaymentRecord},
		{"role:staff", ObjectPaymentStatus, ActionPaymentStatusView},
		{"role:staff", ObjectIPNLog, ActionIPNLogView},

		// Admin permissions
		{"role:admin", ObjectPayment, ActionPaymentCorrect},
		{"role:admin", ObjectPaymentStatus, ActionPaymentStatusRecompute},
		{"role:admin", ObjectIPNLog, ActionIPNLogReplay},
		{"role:admin", ObjectAuditLog, ActionAuditLogView},
		{"role:admin", ObjectAPIKey, ActionAPIKeyView},
		{"role:admin", ObjectAPIKey, ActionAPIKeyCreate},
		{"role:admin", ObjectAPIKey, ActionAPIKeyRevoke},
	}

	for _, policy := range policies {
		has, err := enforcer.HasPolicy(policy)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}

	// Admins inherit every staff permission.
	has, err := enforcer.HasGroupingPolicy("role:admin", "role:staff")
	if err != nil {
		return err
	}
	if !has {
		if _, err := enforcer.AddGroupingPolicy("role:admin", "role:staff"); err != nil {
			return err
		}
	}
	return nil
}
