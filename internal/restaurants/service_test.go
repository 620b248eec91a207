package restaurants

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/tastemap/internal/apperrors"
	"github.com/paulmach/orb"
	"gorm.io/gorm"
)

func TestNearbyReturnsOnlyRestaurantsInsideRadius(t *testing.T) {
	db := newTestDB(t)
	service := newTestService(t, db)

	seedRestaurant(t, db, "far", northOf(testCenter, 1200))
	near := seedRestaurant(t, db, "near", northOf(testCenter, 800))

	results, err := service.Nearby(context.Background(), testCenter.Latitude, testCenter.Longitude, 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected exactly one result, got %d", len(results))
	}
	if results[0].ID != near.ID {
		t.Fatalf("expected restaurant %d, got %d", near.ID, results[0].ID)
	}
	if results[0].DistanceMeters < 799 || results[0].DistanceMeters > 801 {
		t.Fatalf("expected distance near 800m, got %v", results[0].DistanceMeters)
	}
}

func TestNearbyIsOrderedByAscendingDistance(t *testing.T) {
	db := newTestDB(t)
	service := newTestService(t, db)

	distances := []float64{640, 90, 975, 310, 310, 15, 500}
	for index, distance := range distances {
		seedRestaurant(t, db, fmt.Sprintf("place-%d", index), northOf(testCenter, distance))
	}
	seedRestaurant(t, db, "east", Coordinate{Latitude: testCenter.Latitude, Longitude: testCenter.Longitude + 0.005})

	results, err := service.Nearby(context.Background(), testCenter.Latitude, testCenter.Longitude, 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != len(distances)+1 {
		t.Fatalf("expected %d results, got %d", len(distances)+1, len(results))
	}
	for index := 1; index < len(results); index++ {
		if results[index].DistanceMeters < results[index-1].DistanceMeters {
			t.Fatalf("results not ordered by distance at %d: %v then %v",
				index, results[index-1].DistanceMeters, results[index].DistanceMeters)
		}
	}
}

func TestNearbyTruncatesToConfiguredLimit(t *testing.T) {
	db := newTestDB(t)
	service, err := NewService(ServiceConfig{Database: db, NearbyLimit: 3})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	for index := 0; index < 6; index++ {
		seedRestaurant(t, db, fmt.Sprintf("place-%d", index), northOf(testCenter, float64(100*(6-index))))
	}

	results, err := service.Nearby(context.Background(), testCenter.Latitude, testCenter.Longitude, 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].DistanceMeters != 100 {
		t.Fatalf("expected nearest restaurant first, got %v", results[0].DistanceMeters)
	}
}

func TestNearbyDefaultsStatsForRestaurantsWithoutReviews(t *testing.T) {
	db := newTestDB(t)
	service := newTestService(t, db)
	seedRestaurant(t, db, "quiet", northOf(testCenter, 50))

	results, err := service.Nearby(context.Background(), testCenter.Latitude, testCenter.Longitude, 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected one result, got %d", len(results))
	}
	result := results[0]
	if result.AvgRating != 0 || result.ReviewCount != 0 {
		t.Fatalf("expected zero stats, got %+v", result.Stats)
	}
	if result.Images == nil || len(result.Images) != 0 {
		t.Fatalf("expected empty image list, got %#v", result.Images)
	}
	if result.ReviewPreview != nil {
		t.Fatalf("expected no preview, got %q", *result.ReviewPreview)
	}
}

func TestNearbyAttachesPreviewAndRoundsStats(t *testing.T) {
	db := newTestDB(t)
	service := newTestService(t, db)
	restaurant := seedRestaurant(t, db, "busy", northOf(testCenter, 123.456))

	base := time.Unix(1700000000, 0)
	longText := strings.Repeat("맛", 60)
	seedReview(t, db, restaurant.ID, 5, "first visit", []string{"old.jpg"}, base)
	seedReview(t, db, restaurant.ID, 4, "", nil, base.Add(time.Minute))
	seedReview(t, db, restaurant.ID, 4, longText, []string{"new-1.jpg", "new-2.jpg", "new-3.jpg"}, base.Add(2*time.Minute))

	results, err := service.Nearby(context.Background(), testCenter.Latitude, testCenter.Longitude, 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result := results[0]
	if result.AvgRating != 4.3 {
		t.Fatalf("expected rating rounded to 4.3, got %v", result.AvgRating)
	}
	if result.ReviewCount != 3 {
		t.Fatalf("expected 3 reviews, got %d", result.ReviewCount)
	}
	if result.DistanceMeters != 123.5 {
		t.Fatalf("expected distance rounded to 123.5, got %v", result.DistanceMeters)
	}
	if strings.Join(result.Images, ",") != "new-1.jpg,new-2.jpg" {
		t.Fatalf("unexpected preview images %v", result.Images)
	}
	if result.ReviewPreview == nil || *result.ReviewPreview != strings.Repeat("맛", 50)+"..." {
		t.Fatalf("unexpected preview text %v", result.ReviewPreview)
	}
}

func TestNearbyIssuesTwoQueries(t *testing.T) {
	db := newTestDB(t)
	service := newTestService(t, db)
	for index := 0; index < 5; index++ {
		restaurant := seedRestaurant(t, db, fmt.Sprintf("place-%d", index), northOf(testCenter, float64(100+index*10)))
		seedReview(t, db, restaurant.ID, 3, "ok", []string{"a.jpg"}, time.Unix(1700000000, 0))
	}
	counter := countQueries(t, db)

	if _, err := service.Nearby(context.Background(), testCenter.Latitude, testCenter.Longitude, 1000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if counter.value() != 2 {
		t.Fatalf("expected 2 queries for the whole pipeline, got %d", counter.value())
	}
}

func TestNearbySkipsEnrichmentWhenNothingIsNearby(t *testing.T) {
	db := newTestDB(t)
	service := newTestService(t, db)
	counter := countQueries(t, db)

	results, err := service.Nearby(context.Background(), testCenter.Latitude, testCenter.Longitude, 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results == nil || len(results) != 0 {
		t.Fatalf("expected empty non-nil result, got %#v", results)
	}
	if counter.value() != 1 {
		t.Fatalf("expected only the nearby query, got %d", counter.value())
	}
}

func TestNearbyRejectsInvalidCoordinatesBeforeQuerying(t *testing.T) {
	db := newTestDB(t)
	service := newTestService(t, db)
	counter := countQueries(t, db)

	testCases := []struct {
		name string
		lat  float64
		lng  float64
	}{
		{name: "latitude-above", lat: 90.5, lng: 127},
		{name: "latitude-below", lat: -91, lng: 127},
		{name: "longitude-above", lat: 37.5, lng: 180.1},
		{name: "longitude-below", lat: 37.5, lng: -200},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := service.Nearby(context.Background(), testCase.lat, testCase.lng, 1000)
			if !apperrors.Is(err, apperrors.KindValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if !errors.Is(err, ErrInvalidCoordinate) {
				t.Fatalf("expected ErrInvalidCoordinate in chain, got %v", err)
			}
		})
	}
	if counter.value() != 0 {
		t.Fatalf("expected no queries, got %d", counter.value())
	}
}

func TestNearbyWithNonPositiveRadiusIsEmpty(t *testing.T) {
	db := newTestDB(t)
	service := newTestService(t, db)
	seedRestaurant(t, db, "here", testCenter)
	counter := countQueries(t, db)

	for _, radius := range []int{0, -5} {
		results, err := service.Nearby(context.Background(), testCenter.Latitude, testCenter.Longitude, radius)
		if err != nil {
			t.Fatalf("unexpected error for radius %d: %v", radius, err)
		}
		if len(results) != 0 {
			t.Fatalf("expected empty result for radius %d, got %d", radius, len(results))
		}
	}
	if counter.value() != 0 {
		t.Fatalf("expected no queries, got %d", counter.value())
	}
}

func TestDetailAggregatesRatings(t *testing.T) {
	db := newTestDB(t)
	service := newTestService(t, db)
	restaurant := seedRestaurant(t, db, "place-a", Coordinate{Latitude: 37.50, Longitude: 127.03})
	base := time.Unix(1700000000, 0)
	for index, rating := range []int{5, 3, 4} {
		seedReview(t, db, restaurant.ID, rating, fmt.Sprintf("review %d", index), nil, base.Add(time.Duration(index)*time.Minute))
	}

	detail, err := service.Detail(context.Background(), restaurant.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if detail.AvgRating != 4.0 || detail.ReviewCount != 3 {
		t.Fatalf("expected 4.0/3, got %+v", detail.Stats)
	}
	if len(detail.RecentReviews) != 3 || detail.RecentReviews[0].Content != "review 2" {
		t.Fatalf("expected newest review first, got %+v", detail.RecentReviews)
	}
}

func TestDetailDefaultsStatsWithoutReviews(t *testing.T) {
	db := newTestDB(t)
	service := newTestService(t, db)
	restaurant := seedRestaurant(t, db, "empty", testCenter)

	detail, err := service.Detail(context.Background(), restaurant.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if detail.AvgRating != 0 || detail.ReviewCount != 0 {
		t.Fatalf("expected zero stats, got %+v", detail.Stats)
	}
	if detail.Images == nil || len(detail.Images) != 0 {
		t.Fatalf("expected empty gallery, got %#v", detail.Images)
	}
	if len(detail.RecentReviews) != 0 {
		t.Fatalf("expected no recent reviews, got %d", len(detail.RecentReviews))
	}

	stats, err := service.Store().StatsFor(context.Background(), restaurant.ID)
	if err != nil {
		t.Fatalf("unexpected stats error: %v", err)
	}
	if stats != (Stats{}) {
		t.Fatalf("expected zero stats from StatsFor, got %+v", stats)
	}
}

func TestDetailBoundsGalleryAndRecentReviews(t *testing.T) {
	db := newTestDB(t)
	service := newTestService(t, db)
	restaurant := seedRestaurant(t, db, "gallery", testCenter)
	base := time.Unix(1700000000, 0)
	for index := 0; index < 6; index++ {
		images := []string{fmt.Sprintf("r%d-a.jpg", index), fmt.Sprintf("r%d-b.jpg", index)}
		seedReview(t, db, restaurant.ID, 4, "", images, base.Add(time.Duration(index)*time.Minute))
	}
	seedReview(t, db, restaurant.ID, 2, "text only", nil, base.Add(10*time.Minute))

	detail, err := service.Detail(context.Background(), restaurant.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := "r5-a.jpg,r5-b.jpg,r4-a.jpg,r4-b.jpg,r3-a.jpg"
	if strings.Join(detail.Images, ",") != expected {
		t.Fatalf("unexpected gallery %v", detail.Images)
	}
	if len(detail.RecentReviews) != 3 {
		t.Fatalf("expected 3 recent reviews, got %d", len(detail.RecentReviews))
	}
	if detail.RecentReviews[0].Content != "text only" {
		t.Fatalf("expected text-only review first, got %+v", detail.RecentReviews[0])
	}
}

func TestDetailReturnsNotFound(t *testing.T) {
	db := newTestDB(t)
	service := newTestService(t, db)

	_, err := service.Detail(context.Background(), 4242)
	if !apperrors.Is(err, apperrors.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := service.Store().StatsFor(context.Background(), 4242); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected record not found from StatsFor, got %v", err)
	}
	if _, err := service.Lookup(context.Background(), 4242); !apperrors.Is(err, apperrors.KindNotFound) {
		t.Fatalf("expected lookup not found, got %v", err)
	}
}

func TestMergeNearbyPreservesRowOrder(t *testing.T) {
	rows := []NearbyRow{
		{Restaurant: Restaurant{ID: 9}, DistanceMeters: 10.04},
		{Restaurant: Restaurant{ID: 2}, DistanceMeters: 20.06, Stats: Stats{AvgRating: 3.66, ReviewCount: 3}},
		{Restaurant: Restaurant{ID: 5}, DistanceMeters: 30},
	}
	text := "good"
	previews := map[uint]Preview{
		2: {Images: []string{"x.jpg"}, PreviewText: &text},
		5: {Images: []string{}},
	}

	results := mergeNearby(rows, previews)
	if results[0].ID != 9 || results[1].ID != 2 || results[2].ID != 5 {
		t.Fatalf("merge must not reorder rows: %+v", results)
	}
	if results[0].Images == nil || len(results[0].Images) != 0 {
		t.Fatalf("missing preview must default to empty images")
	}
	if results[0].DistanceMeters != 10 || results[1].DistanceMeters != 20.1 {
		t.Fatalf("unexpected rounding: %v %v", results[0].DistanceMeters, results[1].DistanceMeters)
	}
	if results[1].AvgRating != 3.7 || *results[1].ReviewPreview != "good" {
		t.Fatalf("unexpected merged entry %+v", results[1])
	}
}

// destination returns the point distanceMeters from origin along bearingDegrees on orb's sphere.
func destination(origin Coordinate, bearingDegrees, distanceMeters float64) Coordinate {
	toRadians := math.Pi / 180
	angular := distanceMeters / orb.EarthRadius
	bearing := bearingDegrees * toRadians
	lat1 := origin.Latitude * toRadians
	lng1 := origin.Longitude * toRadians

	lat2 := math.Asin(math.Sin(lat1)*math.Cos(angular) + math.Cos(lat1)*math.Sin(angular)*math.Cos(bearing))
	lng2 := lng1 + math.Atan2(math.Sin(bearing)*math.Sin(angular)*math.Cos(lat1),
		math.Cos(angular)-math.Sin(lat1)*math.Sin(lat2))
	return Coordinate{Latitude: lat2 / toRadians, Longitude: lng2 / toRadians}
}

func TestNearbyKeepsRingAtHighLatitudes(t *testing.T) {
	const radius = 1500
	for _, latitude := range []float64{0, 37.5, 60, 75, -75} {
		t.Run(fmt.Sprintf("lat-%v", latitude), func(t *testing.T) {
			db := newTestDB(t)
			service, err := NewService(ServiceConfig{Database: db, NearbyLimit: 100})
			if err != nil {
				t.Fatalf("failed to construct service: %v", err)
			}
			center := Coordinate{Latitude: latitude, Longitude: 25}
			ring := 0
			for bearing := 0.0; bearing < 360; bearing += 15 {
				seedRestaurant(t, db, fmt.Sprintf("ring-%v", bearing), destination(center, bearing, 0.98*radius))
				ring++
			}
			seedRestaurant(t, db, "outside", destination(center, 45, 1.02*radius))

			results, err := service.Nearby(context.Background(), center.Latitude, center.Longitude, radius)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(results) != ring {
				t.Fatalf("expected all %d ring restaurants, got %d", ring, len(results))
			}
			for _, result := range results {
				if result.DistanceMeters > radius {
					t.Fatalf("restaurant %d at %vm is outside the radius", result.ID, result.DistanceMeters)
				}
			}
		})
	}
}
