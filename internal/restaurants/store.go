package restaurants

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultNearbyLimit caps nearby results when the caller does not configure a limit.
const DefaultNearbyLimit = 20

var errMissingDatabase = errors.New("database handle is required")

// ReviewFilter selects which reviews take part in the latest-N ranking.
type ReviewFilter int

const (
	// FilterWithImages keeps reviews with at least one image (nearby list).
	FilterWithImages ReviewFilter = iota
	// FilterWithImagesOrText keeps reviews with images or non-empty text (detail view).
	FilterWithImagesOrText
)

// FetchOptions bounds the enrichment fetch.
type FetchOptions struct {
	PerEntityLimit int
	ImageCap       int
	Filter         ReviewFilter
}

var (
	nearbyFetchOptions = FetchOptions{PerEntityLimit: 2, ImageCap: 2, Filter: FilterWithImages}
	detailFetchOptions = FetchOptions{PerEntityLimit: 5, ImageCap: 5, Filter: FilterWithImagesOrText}
)

// Store reads and writes restaurants over a gorm connection pool.
type Store struct {
	db      *gorm.DB
	dialect geoDialect
}

// NewStore binds the store to the dialect of the supplied connection.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	dialect, err := dialectFor(db)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, dialect: dialect}, nil
}

// FindNearby returns restaurants within radiusMeters of center with their review stats,
// ordered by ascending distance. A non-positive radius yields no rows without querying.
func (s *Store) FindNearby(ctx context.Context, center Coordinate, radiusMeters float64, limit int) ([]NearbyRow, error) {
	if _, err := NewCoordinate(center.Latitude, center.Longitude); err != nil {
		return nil, err
	}
	if radiusMeters <= 0 {
		return []NearbyRow{}, nil
	}
	if limit <= 0 {
		limit = DefaultNearbyLimit
	}
	return s.dialect.findNearby(s.db.WithContext(ctx), nearbyQuery{
		center:       center,
		radiusMeters: radiusMeters,
		limit:        limit,
	})
}

// RestaurantWithStats pairs a restaurant with its aggregated review stats.
type RestaurantWithStats struct {
	Restaurant Restaurant
	Stats      Stats
}

const statsForSQL = `
SELECT r.*,
	` + statsColumns + `
FROM restaurants r
LEFT JOIN reviews v ON v.restaurant_id = r.id
WHERE r.id = @id
GROUP BY r.id`

// FindWithStats loads one restaurant and its stats in a single query.
// It returns gorm.ErrRecordNotFound when the id does not exist.
func (s *Store) FindWithStats(ctx context.Context, id uint) (RestaurantWithStats, error) {
	var records []nearbyRecord
	if err := s.db.WithContext(ctx).Raw(statsForSQL, map[string]interface{}{"id": id}).Scan(&records).Error; err != nil {
		return RestaurantWithStats{}, err
	}
	if len(records) == 0 {
		return RestaurantWithStats{}, gorm.ErrRecordNotFound
	}
	record := records[0]
	return RestaurantWithStats{
		Restaurant: record.Restaurant,
		Stats:      Stats{AvgRating: record.AvgRating, ReviewCount: record.ReviewCount},
	}, nil
}

// StatsFor returns the average rating and review count of one restaurant.
func (s *Store) StatsFor(ctx context.Context, id uint) (Stats, error) {
	loaded, err := s.FindWithStats(ctx, id)
	if err != nil {
		return Stats{}, err
	}
	return loaded.Stats, nil
}

type latestReviewRow struct {
	RestaurantID uint                        `gorm:"column:restaurant_id"`
	Images       datatypes.JSONSlice[string] `gorm:"column:images"`
	Content      string                      `gorm:"column:content"`
}

const latestReviewsSQL = `
SELECT ranked.restaurant_id, ranked.images, ranked.content
FROM (
	SELECT v.restaurant_id, v.images, COALESCE(v.content, '') AS content,
		ROW_NUMBER() OVER (PARTITION BY v.restaurant_id ORDER BY v.created_at DESC, v.id DESC) AS rn
	FROM reviews v
	WHERE v.restaurant_id IN @ids AND (%s)
) ranked
WHERE ranked.rn <= @per_entity
ORDER BY ranked.restaurant_id ASC, ranked.rn ASC`

func (s *Store) reviewFilterSQL(filter ReviewFilter) string {
	hasImages := s.dialect.nonEmptyArray("v.images")
	if filter == FilterWithImagesOrText {
		return fmt.Sprintf("%s OR COALESCE(v.content, '') <> ''", hasImages)
	}
	return hasImages
}

// LatestFor returns the preview entry of every requested restaurant using exactly one
// windowed query, whatever the number of ids.
func (s *Store) LatestFor(ctx context.Context, ids []uint, opts FetchOptions) (map[uint]Preview, error) {
	if opts.PerEntityLimit <= 0 {
		opts.PerEntityLimit = nearbyFetchOptions.PerEntityLimit
	}
	if opts.ImageCap <= 0 {
		opts.ImageCap = nearbyFetchOptions.ImageCap
	}

	var rows []latestReviewRow
	query := fmt.Sprintf(latestReviewsSQL, s.reviewFilterSQL(opts.Filter))
	err := s.db.WithContext(ctx).Raw(query, map[string]interface{}{
		"ids":        ids,
		"per_entity": opts.PerEntityLimit,
	}).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return collectPreviews(ids, rows, opts.ImageCap), nil
}

// RecentReviews returns the newest reviews of one restaurant.
func (s *Store) RecentReviews(ctx context.Context, id uint, limit int) ([]ReviewSummary, error) {
	summaries := make([]ReviewSummary, 0, limit)
	err := s.db.WithContext(ctx).
		Table(reviewsTable).
		Select("id, restaurant_id, user_id, rating, content, images, created_at").
		Where("restaurant_id = ?", id).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&summaries).Error
	if err != nil {
		return nil, err
	}
	return summaries, nil
}

// FindByID loads a restaurant without stats.
func (s *Store) FindByID(ctx context.Context, id uint) (Restaurant, error) {
	var restaurant Restaurant
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&restaurant).Error
	return restaurant, err
}

// FindByIdentity loads a restaurant by its identity key.
func (s *Store) FindByIdentity(ctx context.Context, identityKey string) (Restaurant, error) {
	var restaurant Restaurant
	err := s.db.WithContext(ctx).Where("identity_key = ?", identityKey).Take(&restaurant).Error
	return restaurant, err
}

// InsertIfAbsent inserts the restaurant unless its identity key already exists.
// It reports whether a row was written.
func (s *Store) InsertIfAbsent(ctx context.Context, restaurant *Restaurant) (bool, error) {
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "identity_key"}},
			DoNothing: true,
		}).
		Create(restaurant)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
