package geohash_test

import (
	"testing"

	feindexer "github.com/mgijax/feindexer-sub001"
	"github.com/mgijax/feindexer-sub001/geohash"
	"github.com/pkg/errors"
)

func TestRule(t *testing.T) {
	tests := []struct {
		name   string
		rule   geohash.Rule
		row    feindexer.Row
		exp    interface{}
		expErr error
	}{
		{
			name: "simple",
			rule: geohash.Rule{Precision: 6, Lat: "latitude", Lon: "longitude", Field: "geohash"},
			row:  feindexer.Row{"latitude": 31.1, "longitude": 42.2},
			exp:  "svw0bm",
		},
		{
			name: "string columns",
			rule: geohash.Rule{Precision: 5, Lat: "latitude", Lon: "longitude", Field: "geohash"},
			row:  feindexer.Row{"latitude": "44.3876", "longitude": "-68.2039"},
			exp:  "drzkx",
		},
		{
			name: "null",
			rule: geohash.Rule{Precision: 6, Lat: "latitude", Lon: "longitude", Field: "geohash"},
			row:  feindexer.Row{"latitude": nil, "longitude": 42.2},
		},
		{
			name:   "out of range",
			rule:   geohash.Rule{Precision: 6, Lat: "latitude", Lon: "longitude", Field: "geohash"},
			row:    feindexer.Row{"latitude": 131.1, "longitude": 42.2},
			expErr: feindexer.ErrInvalidDocument,
		},
		{
			name:   "not a number",
			rule:   geohash.Rule{Precision: 6, Lat: "latitude", Lon: "longitude", Field: "geohash"},
			row:    feindexer.Row{"latitude": "north", "longitude": 42.2},
			expErr: feindexer.ErrInvalidDocument,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			doc := feindexer.Document{}
			err := test.rule.Apply(doc, test.row, nil)
			if errors.Cause(err) != test.expErr {
				t.Fatalf("got %v, expected %v", err, test.expErr)
			}
			if err != nil {
				return
			}
			if got := doc[test.rule.Field]; got != test.exp {
				t.Fatalf("unexpected hash %#v, expected %#v", got, test.exp)
			}
		})
	}
}
