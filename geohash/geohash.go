// Package geohash derives a geohash field from latitude and longitude
// columns.
package geohash

import (
	"github.com/mmcloughlin/geohash"
	feindexer "github.com/mgijax/feindexer-sub001"
	"github.com/pkg/errors"
)

var _ feindexer.FieldRule = Rule{}

// Rule is a feindexer.FieldRule which hashes the latitude and longitude in
// the given columns and sets the resulting string on Field. The field is
// left absent if either column is NULL.
type Rule struct {
	Precision uint
	Lat       string
	Lon       string
	Field     string
}

// Apply implements feindexer.FieldRule.
func (r Rule) Apply(doc feindexer.Document, row feindexer.Row, _ *feindexer.Lookups) error {
	if row[r.Lat] == nil || row[r.Lon] == nil {
		return nil
	}
	latitude, err := feindexer.Float64(row[r.Lat])
	if err != nil {
		return errors.Wrapf(feindexer.ErrInvalidDocument, "getting latitude: %v", err)
	}
	longitude, err := feindexer.Float64(row[r.Lon])
	if err != nil {
		return errors.Wrapf(feindexer.ErrInvalidDocument, "getting longitude: %v", err)
	}
	if latitude < -90 || latitude > 90 || longitude < -180 || longitude > 180 {
		return errors.Wrapf(feindexer.ErrInvalidDocument, "location %v,%v out of range", latitude, longitude)
	}
	doc.Set(r.Field, geoHash(latitude, longitude, r.Precision))
	return nil
}

func geoHash(lat, lon float64, precision uint) string {
	if precision == 0 {
		return geohash.Encode(lat, lon)
	}
	return geohash.EncodeWithPrecision(lat, lon, precision)
}
