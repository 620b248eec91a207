package restaurants

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gorm.io/datatypes"
)

const (
	restaurantsTable = "restaurants"
	reviewsTable     = "reviews"
)

var (
	// ErrInvalidCoordinate indicates a latitude/longitude outside WGS84 bounds.
	ErrInvalidCoordinate = errors.New("restaurants: invalid coordinate")
	// ErrInvalidCandidate indicates a registration candidate without a usable identity.
	ErrInvalidCandidate = errors.New("restaurants: invalid candidate")
	// ErrInvalidLocation indicates a stored location value that could not be decoded.
	ErrInvalidLocation = errors.New("restaurants: invalid location")
)

// Coordinate is a validated WGS84 position.
type Coordinate struct {
	Latitude  float64
	Longitude float64
}

// NewCoordinate rejects NaN, infinities and values outside [-90,90]/[-180,180].
func NewCoordinate(latitude, longitude float64) (Coordinate, error) {
	if math.IsNaN(latitude) || math.IsInf(latitude, 0) || latitude < -90 || latitude > 90 {
		return Coordinate{}, fmt.Errorf("%w: latitude %v out of range", ErrInvalidCoordinate, latitude)
	}
	if math.IsNaN(longitude) || math.IsInf(longitude, 0) || longitude < -180 || longitude > 180 {
		return Coordinate{}, fmt.Errorf("%w: longitude %v out of range", ErrInvalidCoordinate, longitude)
	}
	return Coordinate{Latitude: latitude, Longitude: longitude}, nil
}

// Point returns the geospatial point for the coordinate.
func (c Coordinate) Point() GeoPoint {
	return GeoPoint{Lat: c.Latitude, Lng: c.Longitude}
}

// Restaurant is a catalog entry. Latitude and Longitude are denormalized from Location.
type Restaurant struct {
	ID              uint       `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	IdentityKey     string     `gorm:"column:identity_key;size:190;not null;uniqueIndex:idx_restaurants_identity_key" json:"-"`
	ProviderPlaceID string     `gorm:"column:provider_place_id;size:50" json:"provider_place_id,omitempty"`
	Name            string     `gorm:"column:name;size:100;index" json:"name"`
	Category        string     `gorm:"column:category;size:100" json:"category"`
	Address         string     `gorm:"column:address;size:255" json:"address"`
	RoadAddress     string     `gorm:"column:road_address;size:255" json:"road_address"`
	Phone           string     `gorm:"column:phone;size:50" json:"phone"`
	PlaceURL        string     `gorm:"column:place_url;size:255" json:"place_url"`
	Latitude        float64    `gorm:"column:latitude;not null;index:idx_restaurants_lat_lng,priority:1" json:"latitude"`
	Longitude       float64    `gorm:"column:longitude;not null;index:idx_restaurants_lat_lng,priority:2" json:"longitude"`
	Location        GeoPoint   `gorm:"column:location;not null" json:"-"`
	CreatedAt       time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt       *time.Time `gorm:"column:updated_at;autoUpdateTime:false" json:"updated_at,omitempty"`
}

// TableName provides the explicit table binding for GORM.
func (Restaurant) TableName() string {
	return restaurantsTable
}

// View returns the base field set shared by every response shape.
func (r Restaurant) View() RestaurantView {
	return RestaurantView{
		ID:          r.ID,
		Name:        r.Name,
		Category:    r.Category,
		Address:     r.Address,
		RoadAddress: r.RoadAddress,
		Phone:       r.Phone,
		PlaceURL:    r.PlaceURL,
		Latitude:    r.Latitude,
		Longitude:   r.Longitude,
	}
}

// Candidate describes a restaurant proposed for registration, usually a place-search hit.
type Candidate struct {
	ProviderPlaceID string  `json:"kakao_place_id"`
	Name            string  `json:"name"`
	Category        string  `json:"category"`
	Address         string  `json:"address"`
	RoadAddress     string  `json:"road_address"`
	Phone           string  `json:"phone"`
	PlaceURL        string  `json:"place_url"`
	Latitude        float64 `json:"latitude"`
	Longitude       float64 `json:"longitude"`
}

// RestaurantView is the base response field set.
type RestaurantView struct {
	ID          uint    `json:"id"`
	Name        string  `json:"name"`
	Category    string  `json:"category"`
	Address     string  `json:"address"`
	RoadAddress string  `json:"road_address"`
	Phone       string  `json:"phone"`
	PlaceURL    string  `json:"place_url"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
}

// Stats aggregates ratings. A restaurant without reviews has {0, 0}.
type Stats struct {
	AvgRating   float64 `json:"rating"`
	ReviewCount int64   `json:"review_count"`
}

// NearbyRow is one GeoIndex store hit before enrichment and rounding.
type NearbyRow struct {
	Restaurant     Restaurant
	DistanceMeters float64
	Stats          Stats
}

// Preview is the per-restaurant enrichment entry.
type Preview struct {
	Images      []string
	PreviewText *string
}

// NearbyResult is a nearby-list entry.
type NearbyResult struct {
	RestaurantView
	Stats
	DistanceMeters float64  `json:"distance"`
	Images         []string `json:"images"`
	ReviewPreview  *string  `json:"review_preview"`
}

// ReviewSummary is the read-only projection of a review shown on the detail view.
type ReviewSummary struct {
	ID           uint                        `gorm:"column:id" json:"id"`
	RestaurantID uint                        `gorm:"column:restaurant_id" json:"restaurant_id"`
	UserID       string                      `gorm:"column:user_id" json:"user_id"`
	Rating       int                         `gorm:"column:rating" json:"rating"`
	Content      string                      `gorm:"column:content" json:"content"`
	Images       datatypes.JSONSlice[string] `gorm:"column:images" json:"images"`
	CreatedAt    time.Time                   `gorm:"column:created_at" json:"created_at"`
}

// DetailResult is the single-restaurant view.
type DetailResult struct {
	RestaurantView
	Stats
	Images        []string        `json:"images"`
	RecentReviews []ReviewSummary `json:"pre_reviews"`
}
