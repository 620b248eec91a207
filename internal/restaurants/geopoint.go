package restaurants

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/ewkb"
	"github.com/paulmach/orb/encoding/wkt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

// SRID of every stored and queried point.
const SRID = 4326

// GeoPoint is the geospatial column value. PostGIS stores it as geography(Point,4326);
// SQLite stores the EWKT text form.
type GeoPoint struct {
	Lat float64
	Lng float64
}

// Point returns the orb point, longitude first.
func (p GeoPoint) Point() orb.Point {
	return orb.Point{p.Lng, p.Lat}
}

// EWKT renders the point as "SRID=4326;POINT(lng lat)".
func (p GeoPoint) EWKT() string {
	return fmt.Sprintf("SRID=%d;%s", SRID, wkt.MarshalString(p.Point()))
}

func (GeoPoint) GormDataType() string {
	return "geopoint"
}

func (GeoPoint) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db.Dialector.Name() == dialectPostgres {
		return fmt.Sprintf("geography(Point,%d)", SRID)
	}
	return "text"
}

func (p GeoPoint) GormValue(_ context.Context, db *gorm.DB) clause.Expr {
	if db.Dialector.Name() == dialectPostgres {
		return clause.Expr{
			SQL:  fmt.Sprintf("ST_SetSRID(ST_MakePoint(?, ?), %d)::geography", SRID),
			Vars: []interface{}{p.Lng, p.Lat},
		}
	}
	return clause.Expr{SQL: "?", Vars: []interface{}{p.EWKT()}}
}

// Scan accepts EWKT/WKT text (SQLite) or hex-encoded EWKB (PostGIS).
func (p *GeoPoint) Scan(value interface{}) error {
	var raw string
	switch typed := value.(type) {
	case nil:
		*p = GeoPoint{}
		return nil
	case []byte:
		raw = string(typed)
	case string:
		raw = typed
	default:
		return fmt.Errorf("%w: unsupported type %T", ErrInvalidLocation, value)
	}

	raw = strings.TrimSpace(raw)
	upper := strings.ToUpper(raw)
	if strings.HasPrefix(upper, "SRID=") || strings.HasPrefix(upper, "POINT") {
		if idx := strings.IndexByte(raw, ';'); idx >= 0 {
			raw = raw[idx+1:]
		}
		point, err := wkt.UnmarshalPoint(raw)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidLocation, err)
		}
		*p = GeoPoint{Lat: point.Lat(), Lng: point.Lon()}
		return nil
	}

	decoded, err := hex.DecodeString(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidLocation, err)
	}
	geometry, _, err := ewkb.Unmarshal(decoded)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidLocation, err)
	}
	point, ok := geometry.(orb.Point)
	if !ok {
		return fmt.Errorf("%w: expected point, got %s", ErrInvalidLocation, geometry.GeoJSONType())
	}
	*p = GeoPoint{Lat: point.Lat(), Lng: point.Lon()}
	return nil
}
