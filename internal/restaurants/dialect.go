package restaurants

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"gorm.io/gorm"
)

const (
	dialectPostgres = "postgres"
	dialectSQLite   = "sqlite"
)

// sqliteCircleSlack widens the equirectangular prefilter so the exact haversine pass never
// misses a row at the edge of the radius.
const sqliteCircleSlack = 1.05

// metersPerDegree along a meridian on the sphere used by orb's haversine.
var metersPerDegree = orb.EarthRadius * math.Pi / 180

type nearbyQuery struct {
	center       Coordinate
	radiusMeters float64
	limit        int
}

// nearbyRecord is the scan target of the nearby query.
type nearbyRecord struct {
	Restaurant     `gorm:"embedded"`
	DistanceMeters float64 `gorm:"column:distance_meters"`
	AvgRating      float64 `gorm:"column:avg_rating"`
	ReviewCount    int64   `gorm:"column:review_count"`
}

func (r nearbyRecord) row() NearbyRow {
	return NearbyRow{
		Restaurant:     r.Restaurant,
		DistanceMeters: r.DistanceMeters,
		Stats:          Stats{AvgRating: r.AvgRating, ReviewCount: r.ReviewCount},
	}
}

// geoDialect isolates the SQL that differs between PostGIS and SQLite.
type geoDialect interface {
	name() string
	findNearby(tx *gorm.DB, query nearbyQuery) ([]NearbyRow, error)
	nonEmptyArray(column string) string
}

func dialectFor(db *gorm.DB) (geoDialect, error) {
	switch name := db.Dialector.Name(); name {
	case dialectPostgres:
		return postgisDialect{}, nil
	case dialectSQLite:
		return sqliteDialect{}, nil
	default:
		return nil, fmt.Errorf("restaurants: unsupported dialect %q", name)
	}
}

const statsColumns = `CAST(COALESCE(AVG(v.rating), 0) AS DOUBLE PRECISION) AS avg_rating,
	COUNT(v.id) AS review_count`

// postgisDialect filters with ST_DWithin so the GiST index on location is used.
type postgisDialect struct{}

const postgisNearbySQL = `
SELECT r.*,
	ST_Distance(r.location, ST_SetSRID(ST_MakePoint(@lng, @lat), 4326)::geography) AS distance_meters,
	` + statsColumns + `
FROM restaurants r
LEFT JOIN reviews v ON v.restaurant_id = r.id
WHERE ST_DWithin(r.location, ST_SetSRID(ST_MakePoint(@lng, @lat), 4326)::geography, @radius)
GROUP BY r.id
ORDER BY distance_meters ASC, r.id ASC
LIMIT @limit`

func (postgisDialect) name() string {
	return dialectPostgres
}

func (postgisDialect) findNearby(tx *gorm.DB, query nearbyQuery) ([]NearbyRow, error) {
	var records []nearbyRecord
	err := tx.Raw(postgisNearbySQL, map[string]interface{}{
		"lat":    query.center.Latitude,
		"lng":    query.center.Longitude,
		"radius": query.radiusMeters,
		"limit":  query.limit,
	}).Scan(&records).Error
	if err != nil {
		return nil, err
	}
	rows := make([]NearbyRow, 0, len(records))
	for _, record := range records {
		rows = append(rows, record.row())
	}
	return rows, nil
}

func (postgisDialect) nonEmptyArray(column string) string {
	return fmt.Sprintf("(CASE WHEN jsonb_typeof(%[1]s) = 'array' THEN jsonb_array_length(%[1]s) ELSE 0 END) > 0", column)
}

// sqliteDialect prefilters on the (latitude, longitude) index with a bounding box and an
// equirectangular circle, then computes haversine distances for the surviving rows.
type sqliteDialect struct{}

const sqliteNearbySQL = `
SELECT r.*,
	` + statsColumns + `
FROM restaurants r
LEFT JOIN reviews v ON v.restaurant_id = r.id
WHERE r.latitude BETWEEN @min_lat AND @max_lat
	AND r.longitude BETWEEN @min_lng AND @max_lng
	AND ((r.latitude - @lat) * (r.latitude - @lat)
		+ (r.longitude - @lng) * (r.longitude - @lng) * @lng_scale) <= @max_sq
GROUP BY r.id`

func (sqliteDialect) name() string {
	return dialectSQLite
}

func (sqliteDialect) findNearby(tx *gorm.DB, query nearbyQuery) ([]NearbyRow, error) {
	center := query.center.Point().Point()
	bound := geo.NewBoundAroundPoint(center, query.radiusMeters)
	// longitude degrees shrink toward the poles; scaling by the most poleward latitude
	// in the box keeps the circle a superset of the true radius
	polewardLat := math.Min(math.Max(math.Abs(bound.Min.Lat()), math.Abs(bound.Max.Lat())), 90)
	cosLat := math.Cos(polewardLat * math.Pi / 180)
	maxDegrees := query.radiusMeters / metersPerDegree * sqliteCircleSlack

	var records []nearbyRecord
	err := tx.Raw(sqliteNearbySQL, map[string]interface{}{
		"lat":       query.center.Latitude,
		"lng":       query.center.Longitude,
		"min_lat":   bound.Min.Lat(),
		"max_lat":   bound.Max.Lat(),
		"min_lng":   bound.Min.Lon(),
		"max_lng":   bound.Max.Lon(),
		"lng_scale": cosLat * cosLat,
		"max_sq":    maxDegrees * maxDegrees,
	}).Scan(&records).Error
	if err != nil {
		return nil, err
	}

	rows := make([]NearbyRow, 0, len(records))
	for _, record := range records {
		record.DistanceMeters = geo.DistanceHaversine(center, record.Location.Point())
		if record.DistanceMeters > query.radiusMeters {
			continue
		}
		rows = append(rows, record.row())
	}
	slices.SortStableFunc(rows, func(a, b NearbyRow) int {
		if c := cmp.Compare(a.DistanceMeters, b.DistanceMeters); c != 0 {
			return c
		}
		return cmp.Compare(a.Restaurant.ID, b.Restaurant.ID)
	})
	if len(rows) > query.limit {
		rows = rows[:query.limit]
	}
	return rows, nil
}

func (sqliteDialect) nonEmptyArray(column string) string {
	return fmt.Sprintf("json_array_length(COALESCE(%s, '[]')) > 0", column)
}
