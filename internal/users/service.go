package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/tastemap/internal/auth"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultProvider = "default"

// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
var ErrInvalidIdentity = errors.New("users: invalid identity")

// ServiceConfig describes the dependencies required for user identity resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service maps session identities onto the canonical user ids stored on reviews.
type Service struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
	cache  sync.Map
}

// NewService constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:     cfg.Database,
		now:    clock,
		logger: logger,
	}, nil
}

// ResolveCanonicalUserID returns the canonical user id for the provided session claims.
// It creates a new identity mapping when the provider+subject pair has not been seen before.
func (s *Service) ResolveCanonicalUserID(ctx context.Context, claims auth.SessionClaims) (string, error) {
	provider, subject := deriveProviderSubject(claims)
	if subject == "" {
		return "", ErrInvalidIdentity
	}

	cacheKey := ReviewerIdentity{Provider: provider, Subject: subject}.loginKey()
	if cachedIdentifier, ok := s.cache.Load(cacheKey); ok {
		if authorID, ok := cachedIdentifier.(string); ok {
			return authorID, nil
		}
	}

	db := s.db.WithContext(ctx)
	var identity ReviewerIdentity
	err := db.
		Where("provider = ? AND subject = ?", provider, subject).
		Take(&identity).
		Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		identity = newReviewerIdentity(provider, subject, claims, s.now())
		if err := db.Create(&identity).Error; err != nil {
			return "", err
		}
		s.logger.Info("reviewer identity created", zap.String("provider", provider), zap.String("user_id", identity.AuthorID))
	case err != nil:
		return "", err
	default:
		s.touch(db, identity, claims)
	}

	s.cache.Store(cacheKey, identity.AuthorID)
	return identity.AuthorID, nil
}

// touch records the visit and copies changed profile fields. Failures only cost freshness.
func (s *Service) touch(db *gorm.DB, identity ReviewerIdentity, claims auth.SessionClaims) {
	updates := identity.profileChanges(claims)
	updates["last_seen_at"] = s.now()
	err := db.Model(&ReviewerIdentity{}).
		Where("provider = ? AND subject = ?", identity.Provider, identity.Subject).
		Updates(updates).
		Error
	if err != nil {
		s.logger.Warn("reviewer profile refresh failed", zap.String("user_id", identity.AuthorID), zap.Error(err))
	}
}

func deriveProviderSubject(claims auth.SessionClaims) (string, string) {
	provider := defaultProvider
	subject := trimClaim(claims.Subject)

	raw := trimClaim(claims.UserID)
	if raw != "" {
		if strings.Contains(raw, ":") {
			segments := strings.SplitN(raw, ":", 2)
			if trimClaim(segments[0]) != "" && trimClaim(segments[1]) != "" {
				provider = trimClaim(segments[0])
				subject = trimClaim(segments[1])
			}
		} else if subject == "" {
			subject = raw
		}
	}

	if subject == "" {
		subject = trimClaim(claims.UserEmail)
	}

	return provider, subject
}
