package reviews

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/tastemap/internal/apperrors"
	"github.com/MarcoPoloResearchLab/tastemap/internal/media"
	"github.com/MarcoPoloResearchLab/tastemap/internal/restaurants"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	opServiceNew = "reviews.service.new"
	opSubmit     = "reviews.submit"
	opRegister   = "reviews.submit_with_restaurant"
	opList       = "reviews.list"

	// DefaultPageSize is used when the caller does not ask for a page size.
	DefaultPageSize = 10
	maxPageSize     = 100
)

// ImageStore persists uploaded images and returns their public URLs.
type ImageStore interface {
	Save(ctx context.Context, upload media.Upload) (string, error)
	Delete(ctx context.Context, url string) error
}

// RestaurantCatalog resolves the restaurant a review is attached to.
type RestaurantCatalog interface {
	RegisterOrGetRestaurant(ctx context.Context, candidate restaurants.Candidate) (restaurants.Restaurant, error)
	Lookup(ctx context.Context, id uint) (restaurants.Restaurant, error)
}

// ServiceConfig describes the dependencies of the review service.
type ServiceConfig struct {
	Database    *gorm.DB
	Restaurants RestaurantCatalog
	Images      ImageStore
	Clock       func() time.Time
	Logger      *zap.Logger
}

// Submission is the author-provided part of a review.
type Submission struct {
	UserID  string
	Rating  int
	Content string
	Uploads []media.Upload
}

// Service writes and lists reviews.
type Service struct {
	db          *gorm.DB
	restaurants RestaurantCatalog
	images      ImageStore
	clock       func() time.Time
	logger      *zap.Logger
}

// NewService validates the configured collaborators.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, apperrors.Internal(opServiceNew, "missing_database", nil)
	}
	if cfg.Restaurants == nil {
		return nil, apperrors.Internal(opServiceNew, "missing_restaurants", nil)
	}
	if cfg.Images == nil {
		return nil, apperrors.Internal(opServiceNew, "missing_image_store", nil)
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
		db:          cfg.Database,
		restaurants: cfg.Restaurants,
		images:      cfg.Images,
		clock:       clock,
		logger:      logger,
	}, nil
}

// Submit attaches a review to an existing restaurant.
func (s *Service) Submit(ctx context.Context, restaurantID uint, submission Submission) (Review, error) {
	if err := validateSubmission(submission); err != nil {
		return Review{}, apperrors.Validation(opSubmit, "invalid_submission", err)
	}
	restaurant, err := s.restaurants.Lookup(ctx, restaurantID)
	if err != nil {
		return Review{}, err
	}
	return s.store(ctx, opSubmit, restaurant.ID, submission)
}

// SubmitWithRestaurant registers the candidate when it is not yet in the catalog and
// attaches the review to it.
func (s *Service) SubmitWithRestaurant(ctx context.Context, candidate restaurants.Candidate, submission Submission) (Review, error) {
	if err := validateSubmission(submission); err != nil {
		return Review{}, apperrors.Validation(opRegister, "invalid_submission", err)
	}
	restaurant, err := s.restaurants.RegisterOrGetRestaurant(ctx, candidate)
	if err != nil {
		return Review{}, err
	}
	return s.store(ctx, opRegister, restaurant.ID, submission)
}

// store uploads the images and inserts the review. Uploaded images are deleted again when
// any later step fails.
func (s *Service) store(ctx context.Context, operation string, restaurantID uint, submission Submission) (Review, error) {
	urls := make([]string, 0, len(submission.Uploads))
	for _, upload := range submission.Uploads {
		if !upload.Acceptable() {
			continue
		}
		url, err := s.images.Save(ctx, upload)
		if err != nil {
			s.logError(operation, "upload_failed", err, zap.Uint("restaurant_id", restaurantID))
			s.discard(urls)
			return Review{}, apperrors.Internal(operation, "upload_failed", err)
		}
		urls = append(urls, url)
	}

	now := s.clock().UTC()
	review := Review{
		RestaurantID: restaurantID,
		UserID:       strings.TrimSpace(submission.UserID),
		Rating:       submission.Rating,
		Content:      strings.TrimSpace(submission.Content),
		Images:       datatypes.JSONSlice[string](urls),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.db.WithContext(ctx).Create(&review).Error; err != nil {
		s.logError(operation, "insert_failed", err, zap.Uint("restaurant_id", restaurantID), zap.Int("images", len(urls)))
		s.discard(urls)
		return Review{}, apperrors.Internal(operation, "insert_failed", err)
	}

	s.logger.Info("review stored",
		zap.Uint("review_id", review.ID),
		zap.Uint("restaurant_id", restaurantID),
		zap.Int("images", len(urls)))
	return review, nil
}

// discard deletes uploaded images without the request context, which may already be done.
func (s *Service) discard(urls []string) {
	if len(urls) == 0 {
		return
	}
	s.logger.Warn("rolling back uploaded images", zap.Int("images", len(urls)))
	for _, url := range urls {
		if err := s.images.Delete(context.Background(), url); err != nil {
			s.logError("reviews.rollback", "delete_failed", err, zap.String("url", url))
		}
	}
}

// ListByRestaurant pages through a restaurant's reviews, newest first.
func (s *Service) ListByRestaurant(ctx context.Context, restaurantID uint, skip, limit int) ([]Review, error) {
	if skip < 0 {
		return nil, apperrors.Validation(opList, "invalid_skip", fmt.Errorf("%w: skip %d", ErrInvalidPage, skip))
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	reviews := make([]Review, 0, limit)
	err := s.db.WithContext(ctx).
		Where("restaurant_id = ?", restaurantID).
		Order("created_at DESC").
		Order("id DESC").
		Offset(skip).
		Limit(limit).
		Find(&reviews).Error
	if err != nil {
		s.logError(opList, "query_failed", err, zap.Uint("restaurant_id", restaurantID))
		return nil, apperrors.Internal(opList, "query_failed", err)
	}
	return reviews, nil
}

func validateSubmission(submission Submission) error {
	if strings.TrimSpace(submission.UserID) == "" {
		return ErrMissingAuthor
	}
	return validateRating(submission.Rating)
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
	s.logger.Error("reviews service error", attrs...)
}
