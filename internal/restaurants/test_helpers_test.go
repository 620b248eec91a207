package restaurants

import (
	"fmt"
	"math"
	"sync/atomic"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/paulmach/orb"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// testReview mirrors the reviews table owned by the reviews package.
type testReview struct {
	ID           uint                        `gorm:"column:id;primaryKey;autoIncrement"`
	RestaurantID uint                        `gorm:"column:restaurant_id;not null;index"`
	UserID       string                      `gorm:"column:user_id;size:190;not null"`
	Rating       int                         `gorm:"column:rating;not null"`
	Content      string                      `gorm:"column:content;type:text"`
	Images       datatypes.JSONSlice[string] `gorm:"column:images"`
	CreatedAt    time.Time                   `gorm:"column:created_at"`
	UpdatedAt    time.Time                   `gorm:"column:updated_at"`
}

func (testReview) TableName() string {
	return reviewsTable
}

var testCenter = Coordinate{Latitude: 37.50, Longitude: 127.03}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:tastemap_restaurants_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Restaurant{}, &testReview{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T, db *gorm.DB) *Service {
	t.Helper()

	service, err := NewService(ServiceConfig{
		Database: db,
		Identity: IdentityProvider,
		Clock:    func() time.Time { return time.Unix(1700000000, 0).UTC() },
	})
	if err != nil {
		t.Fatalf("failed to construct restaurants service: %v", err)
	}
	return service
}

// northOf returns the coordinate distanceMeters due north of origin.
func northOf(origin Coordinate, distanceMeters float64) Coordinate {
	return Coordinate{
		Latitude:  origin.Latitude + distanceMeters/(orb.EarthRadius*math.Pi/180),
		Longitude: origin.Longitude,
	}
}

func seedRestaurant(t *testing.T, db *gorm.DB, placeID string, at Coordinate) Restaurant {
	t.Helper()

	restaurant := newRestaurant(placeID, Candidate{
		ProviderPlaceID: placeID,
		Name:            "restaurant " + placeID,
		Category:        "음식점 > 한식",
		Address:         "서울 강남구 역삼동 " + placeID,
	}, at)
	restaurant.CreatedAt = time.Unix(1700000000, 0).UTC()
	if err := db.Create(&restaurant).Error; err != nil {
		t.Fatalf("failed to seed restaurant %s: %v", placeID, err)
	}
	return restaurant
}

func seedReview(t *testing.T, db *gorm.DB, restaurantID uint, rating int, content string, images []string, createdAt time.Time) testReview {
	t.Helper()

	if images == nil {
		images = []string{}
	}
	review := testReview{
		RestaurantID: restaurantID,
		UserID:       "user-1",
		Rating:       rating,
		Content:      content,
		Images:       datatypes.JSONSlice[string](images),
		CreatedAt:    createdAt.UTC(),
		UpdatedAt:    createdAt.UTC(),
	}
	if err := db.Create(&review).Error; err != nil {
		t.Fatalf("failed to seed review: %v", err)
	}
	return review
}

// queryCounter counts SELECT round trips issued through gorm.
type queryCounter struct {
	count atomic.Int64
}

func countQueries(t *testing.T, db *gorm.DB) *queryCounter {
	t.Helper()

	counter := &queryCounter{}
	increment := func(*gorm.DB) { counter.count.Add(1) }
	if err := db.Callback().Query().After("gorm:query").Register("test:count_query", increment); err != nil {
		t.Fatalf("failed to register query counter: %v", err)
	}
	if err := db.Callback().Row().After("gorm:row").Register("test:count_row", increment); err != nil {
		t.Fatalf("failed to register row counter: %v", err)
	}
	return counter
}

func (c *queryCounter) reset() {
	c.count.Store(0)
}

func (c *queryCounter) value() int64 {
	return c.count.Load()
}
