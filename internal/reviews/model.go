package reviews

import (
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	reviewsTable = "reviews"

	minRating = 1
	maxRating = 5
)

var (
	// ErrInvalidRating indicates a rating outside [1,5].
	ErrInvalidRating = errors.New("reviews: rating must be between 1 and 5")
	// ErrMissingAuthor indicates a submission without a resolved user id.
	ErrMissingAuthor = errors.New("reviews: author is required")
	// ErrInvalidPage indicates a negative offset.
	ErrInvalidPage = errors.New("reviews: invalid page")
)

// Review is a user's rating of a restaurant with optional text and images.
type Review struct {
	ID           uint                        `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	RestaurantID uint                        `gorm:"column:restaurant_id;not null;index:idx_reviews_restaurant_created,priority:1" json:"restaurant_id"`
	UserID       string                      `gorm:"column:user_id;size:190;not null;index" json:"user_id"`
	Rating       int                         `gorm:"column:rating;not null;check:chk_reviews_rating,rating BETWEEN 1 AND 5" json:"rating"`
	Content      string                      `gorm:"column:content;type:text" json:"content"`
	Images       datatypes.JSONSlice[string] `gorm:"column:images" json:"images"`
	CreatedAt    time.Time                   `gorm:"column:created_at;not null;index:idx_reviews_restaurant_created,priority:2" json:"created_at"`
	UpdatedAt    time.Time                   `gorm:"column:updated_at;not null" json:"-"`
}

// TableName provides the explicit table binding for GORM.
func (Review) TableName() string {
	return reviewsTable
}

// BeforeCreate keeps the stored image list a JSON array and defaults UpdatedAt to CreatedAt.
func (r *Review) BeforeCreate(*gorm.DB) error {
	if r.Images == nil {
		r.Images = datatypes.JSONSlice[string]{}
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.CreatedAt
	}
	return nil
}

func validateRating(rating int) error {
	if rating < minRating || rating > maxRating {
		return ErrInvalidRating
	}
	return nil
}
