package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	apikeydomain "github.com/smallbiznis/rentflow/internal/apikey/domain"
	"github.com/smallbiznis/rentflow/internal/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	apiKeyPrefix      = "rf_live_"
	apiKeySecretBytes = 32
	bootstrapKeyID    = "key_bootstrap"
	maxSlugLength     = 24
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  apikeydomain.Repository
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	repo  apikeydomain.Repository
	genID *snowflake.Node
	clock clock.Clock
}

func New(p Params) apikeydomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("apikey.service"),
		repo:  p.Repo,
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (s *Service) List(ctx context.Context) ([]apikeydomain.Response, error) {
	items, err := s.repo.List(ctx, s.db)
	if err != nil {
		return nil, err
	}

	resp := make([]apikeydomain.Response, 0, len(items))
	for i := range items {
		resp = append(resp, toResponse(&items[i]))
	}
	return resp, nil
}

func (s *Service) Create(ctx context.Context, req apikeydomain.CreateRequest) (*apikeydomain.SecretResponse, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apikeydomain.ErrInvalidName
	}
	role := strings.ToLower(strings.TrimSpace(req.Role))
	if role == "" {
		role = apikeydomain.RoleStaff
	}
	if !validRole(role) {
		return nil, apikeydomain.ErrInvalidRole
	}

	now := s.clock.Now()
	id := s.genID.Generate()
	keyID := newKeyID(name, id)
	plain, hash, err := generateAPIKey(keyID)
	if err != nil {
		return nil, err
	}

	key := &apikeydomain.APIKey{
		ID:        id,
		KeyID:     keyID,
		Name:      name,
		Role:      role,
		Scopes:    apikeydomain.Scopes(normalizeScopes(req.Scopes)),
		KeyHash:   hash,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Insert(ctx, s.db, key); err != nil {
		return nil, err
	}

	s.log.Info("api key created", zap.String("key_id", keyID), zap.String("role", role))
	return &apikeydomain.SecretResponse{KeyID: key.KeyID, APIKey: plain}, nil
}

func (s *Service) Revoke(ctx context.Context, keyID string) error {
	trimmed := strings.TrimSpace(keyID)
	if trimmed == "" {
		return apikeydomain.ErrInvalidKeyID
	}

	key, err := s.repo.FindByKeyID(ctx, s.db, trimmed)
	if err != nil {
		return err
	}
	if key == nil {
		return apikeydomain.ErrNotFound
	}

	now := s.clock.Now()
	key.IsActive = false
	key.UpdatedAt = now
	if key.ExpiresAt == nil || key.ExpiresAt.After(now) {
		key.ExpiresAt = &now
	}
	return s.repo.Update(ctx, s.db, key)
}

func (s *Service) Authenticate(ctx context.Context, raw string) (*apikeydomain.Principal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, apikeydomain.ErrInvalidKey
	}

	hash := apikeydomain.HashAPIKey(raw)
	now := s.clock.Now()
	key, err := s.repo.FindActiveByHash(ctx, s.db, hash, now)
	if err != nil {
		return nil, err
	}
	if key == nil || subtle.ConstantTimeCompare([]byte(key.KeyHash), []byte(hash)) != 1 {
		return nil, apikeydomain.ErrInvalidKey
	}

	if err := s.repo.TouchLastUsed(ctx, s.db, key.ID, now); err != nil {
		s.log.Warn("failed to update api key last_used_at", zap.String("key_id", key.KeyID), zap.Error(err))
	}

	scopes := make([]string, 0, len(key.Scopes))
	scopes = append(scopes, key.Scopes...)
	return &apikeydomain.Principal{
		ID:     key.ID,
		KeyID:  key.KeyID,
		Role:   key.Role,
		Scopes: scopes,
	}, nil
}

// EnsureBootstrap installs raw as the admin key named bootstrap,
// replacing the hash of a previous bootstrap key.
func (s *Service) EnsureBootstrap(ctx context.Context, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	hash := apikeydomain.HashAPIKey(raw)
	now := s.clock.Now()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindByKeyID(ctx, tx, bootstrapKeyID)
		if err != nil {
			return err
		}
		if existing != nil {
			if existing.KeyHash == hash && existing.IsActive {
				return nil
			}
			existing.KeyHash = hash
			existing.IsActive = true
			existing.ExpiresAt = nil
			existing.Role = apikeydomain.RoleAdmin
			existing.UpdatedAt = now
			return s.repo.Update(ctx, tx, existing)
		}

		s.log.Info("installing bootstrap api key")
		return s.repo.Insert(ctx, tx, &apikeydomain.APIKey{
			ID:        s.genID.Generate(),
			KeyID:     bootstrapKeyID,
			Name:      "bootstrap",
			Role:      apikeydomain.RoleAdmin,
			Scopes:    apikeydomain.Scopes{},
			KeyHash:   hash,
			IsActive:  true,
			CreatedAt: now,
			UpdatedAt: now,
		})
	})
}

func toResponse(key *apikeydomain.APIKey) apikeydomain.Response {
	scopes := make([]string, 0, len(key.Scopes))
	scopes = append(scopes, key.Scopes...)
	return apikeydomain.Response{
		KeyID:      key.KeyID,
		Name:       key.Name,
		Role:       key.Role,
		Scopes:     scopes,
		IsActive:   key.IsActive,
		CreatedAt:  key.CreatedAt,
		LastUsedAt: key.LastUsedAt,
		ExpiresAt:  key.ExpiresAt,
	}
}

func validRole(role string) bool {
	switch role {
	case apikeydomain.RoleAdmin, apikeydomain.RoleStaff:
		return true
	default:
		return false
	}
}

func normalizeScopes(scopes []string) []string {
	out := make([]string, 0, len(scopes))
	seen := make(map[string]struct{}, len(scopes))
	for _, scope := range scopes {
		scope = strings.ToLower(strings.TrimSpace(scope))
		if scope == "" {
			continue
		}
		if _, ok := seen[scope]; ok {
			continue
		}
		seen[scope] = struct{}{}
		out = append(out, scope)
	}
	return out
}

func generateAPIKey(keyID string) (string, string, error) {
	secret := make([]byte, apiKeySecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return "", "", err
	}

	secretPart := hex.EncodeToString(secret)
	plain := fmt.Sprintf("%s%s_%s", apiKeyPrefix, strings.TrimPrefix(keyID, "key_"), secretPart)
	return plain, apikeydomain.HashAPIKey(plain), nil
}

func newKeyID(name string, id snowflake.ID) string {
	suffix := strings.ToUpper(strconv.FormatInt(int64(id), 36))
	base := slug.Make(name)
	if len(base) > maxSlugLength {
		base = strings.Trim(base[:maxSlugLength], "-")
	}
	if base == "" {
		return "key_" + suffix
	}
	return "key_" + base + "_" + suffix
}
