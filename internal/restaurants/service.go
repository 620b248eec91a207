package restaurants

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/tastemap/internal/apperrors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opServiceNew  = "restaurants.service.new"
	opNearby      = "restaurants.nearby"
	opDetail      = "restaurants.detail"
	opGetOrCreate = "restaurants.get_or_create"
	opLookup      = "restaurants.lookup"

	detailRecentReviews = 3
)

var noOpLogger = zap.NewNop()

// ServiceConfig describes the dependencies of the restaurant service.
type ServiceConfig struct {
	Database    *gorm.DB
	Identity    IdentityStrategy
	NearbyLimit int
	Clock       func() time.Time
	Logger      *zap.Logger
}

// Service runs the nearby pipeline, the detail view and catalog registration.
type Service struct {
	store       *Store
	identity    IdentityStrategy
	nearbyLimit int
	clock       func() time.Time
	logger      *zap.Logger
}

// NewService constructs the service over the configured database.
func NewService(cfg ServiceConfig) (*Service, error) {
	store, err := NewStore(cfg.Database)
	if err != nil {
		return nil, apperrors.Internal(opServiceNew, "store_init_failed", err)
	}

	identity := cfg.Identity
	if identity == "" {
		identity = IdentityProvider
	}
	nearbyLimit := cfg.NearbyLimit
	if nearbyLimit <= 0 {
		nearbyLimit = DefaultNearbyLimit
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		store:       store,
		identity:    identity,
		nearbyLimit: nearbyLimit,
		clock:       clock,
		logger:      logger,
	}, nil
}

// Store exposes the underlying store.
func (s *Service) Store() *Store {
	return s.store
}

// Nearby lists restaurants within radiusMeters of (lat, lng), nearest first, each with its
// stats and a preview of recent review images and text.
func (s *Service) Nearby(ctx context.Context, lat, lng float64, radiusMeters int) ([]NearbyResult, error) {
	center, err := NewCoordinate(lat, lng)
	if err != nil {
		return nil, apperrors.Validation(opNearby, "invalid_coordinate", err)
	}
	if radiusMeters <= 0 {
		return []NearbyResult{}, nil
	}

	rows, err := s.store.FindNearby(ctx, center, float64(radiusMeters), s.nearbyLimit)
	if err != nil {
		s.logError(opNearby, "query_failed", err, zap.Float64("lat", lat), zap.Float64("lng", lng))
		return nil, apperrors.Internal(opNearby, "query_failed", err)
	}
	if len(rows) == 0 {
		return []NearbyResult{}, nil
	}

	ids := make([]uint, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.Restaurant.ID)
	}
	previews, err := s.store.LatestFor(ctx, ids, nearbyFetchOptions)
	if err != nil {
		s.logError(opNearby, "enrichment_failed", err, zap.Int("restaurants", len(ids)))
		return nil, apperrors.Internal(opNearby, "enrichment_failed", err)
	}

	return mergeNearby(rows, previews), nil
}

// mergeNearby attaches previews in the order of rows and rounds distance and rating.
func mergeNearby(rows []NearbyRow, previews map[uint]Preview) []NearbyResult {
	results := make([]NearbyResult, 0, len(rows))
	for _, row := range rows {
		preview, ok := previews[row.Restaurant.ID]
		if !ok || preview.Images == nil {
			preview.Images = []string{}
		}
		results = append(results, NearbyResult{
			RestaurantView: row.Restaurant.View(),
			Stats: Stats{
				AvgRating:   roundOneDecimal(row.Stats.AvgRating),
				ReviewCount: row.Stats.ReviewCount,
			},
			DistanceMeters: roundOneDecimal(row.DistanceMeters),
			Images:         preview.Images,
			ReviewPreview:  preview.PreviewText,
		})
	}
	return results
}

// Detail returns one restaurant with stats, a gallery of recent images and its newest reviews.
func (s *Service) Detail(ctx context.Context, id uint) (DetailResult, error) {
	loaded, err := s.store.FindWithStats(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return DetailResult{}, apperrors.NotFound(opDetail, "restaurant_not_found", err)
	}
	if err != nil {
		s.logError(opDetail, "query_failed", err, zap.Uint("restaurant_id", id))
		return DetailResult{}, apperrors.Internal(opDetail, "query_failed", err)
	}

	previews, err := s.store.LatestFor(ctx, []uint{id}, detailFetchOptions)
	if err != nil {
		s.logError(opDetail, "enrichment_failed", err, zap.Uint("restaurant_id", id))
		return DetailResult{}, apperrors.Internal(opDetail, "enrichment_failed", err)
	}
	recent, err := s.store.RecentReviews(ctx, id, detailRecentReviews)
	if err != nil {
		s.logError(opDetail, "recent_reviews_failed", err, zap.Uint("restaurant_id", id))
		return DetailResult{}, apperrors.Internal(opDetail, "recent_reviews_failed", err)
	}

	images := previews[id].Images
	if images == nil {
		images = []string{}
	}
	return DetailResult{
		RestaurantView: loaded.Restaurant.View(),
		Stats: Stats{
			AvgRating:   roundOneDecimal(loaded.Stats.AvgRating),
			ReviewCount: loaded.Stats.ReviewCount,
		},
		Images:        images,
		RecentReviews: recent,
	}, nil
}

// Lookup returns the restaurant with the given id or a NotFound error.
func (s *Service) Lookup(ctx context.Context, id uint) (Restaurant, error) {
	restaurant, err := s.store.FindByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Restaurant{}, apperrors.NotFound(opLookup, "restaurant_not_found", err)
	}
	if err != nil {
		s.logError(opLookup, "query_failed", err, zap.Uint("restaurant_id", id))
		return Restaurant{}, apperrors.Internal(opLookup, "query_failed", err)
	}
	return restaurant, nil
}

// RegisterOrGetRestaurant returns the catalog entry for the candidate, creating it on first
// sight. An existing entry is returned unchanged.
func (s *Service) RegisterOrGetRestaurant(ctx context.Context, candidate Candidate) (Restaurant, error) {
	coordinate, err := NewCoordinate(candidate.Latitude, candidate.Longitude)
	if err != nil {
		return Restaurant{}, apperrors.Validation(opGetOrCreate, "invalid_coordinate", err)
	}
	identityKey, err := s.identity.identityKey(candidate)
	if err != nil {
		return Restaurant{}, apperrors.Validation(opGetOrCreate, "invalid_identity", err)
	}

	existing, err := s.store.FindByIdentity(ctx, identityKey)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logError(opGetOrCreate, "lookup_failed", err, zap.String("identity_key", identityKey))
		return Restaurant{}, apperrors.Internal(opGetOrCreate, "lookup_failed", err)
	}

	restaurant := newRestaurant(identityKey, candidate, coordinate)
	restaurant.CreatedAt = s.clock().UTC()
	inserted, err := s.store.InsertIfAbsent(ctx, &restaurant)
	if err != nil {
		s.logError(opGetOrCreate, "insert_failed", err, zap.String("identity_key", identityKey))
		return Restaurant{}, apperrors.Internal(opGetOrCreate, "insert_failed", err)
	}
	if inserted {
		s.logger.Info("restaurant registered",
			zap.Uint("restaurant_id", restaurant.ID),
			zap.String("identity_key", identityKey))
		return restaurant, nil
	}

	// A concurrent registration won the unique constraint.
	winner, err := s.store.FindByIdentity(ctx, identityKey)
	if err != nil {
		s.logError(opGetOrCreate, "refetch_failed", err, zap.String("identity_key", identityKey))
		return Restaurant{}, apperrors.Internal(opGetOrCreate, "refetch_failed", err)
	}
	s.logger.Debug("restaurant registration conflict resolved", zap.String("identity_key", identityKey))
	return winner, nil
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("restaurants service error", attrs...)
}
