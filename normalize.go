package feindexer

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Normalizer maps a raw value to the form it's indexed in. Returning nil
// drops the value.
type Normalizer func(val interface{}) (interface{}, error)

func (n Normalizer) apply(val interface{}) (interface{}, error) {
	if n == nil {
		return val, nil
	}
	return n(val)
}

// CanonicalLabel collapses several raw labels onto one canonical label.
// Labels missing from labels map to fallback, or are kept as they are if
// fallback is empty.
func CanonicalLabel(labels map[string]string, fallback string) Normalizer {
	return func(val interface{}) (interface{}, error) {
		s, ok := KeyString(val)
		if !ok {
			return nil, nil
		}
		if c, ok := labels[s]; ok {
			return c, nil
		}
		if fallback != "" {
			return fallback, nil
		}
		return s, nil
	}
}

// NumericSortKey turns an identifier such as "MGI:12345" into the integer
// after prefix. Identifiers without the prefix, or with non-digits after
// it, have no sort key.
func NumericSortKey(prefix string) Normalizer {
	return func(val interface{}) (interface{}, error) {
		s, ok := KeyString(val)
		if !ok || !strings.HasPrefix(s, prefix) {
			return nil, nil
		}
		n, err := strconv.ParseInt(strings.TrimSpace(s[len(prefix):]), 10, 64)
		if err != nil {
			return nil, nil
		}
		return n, nil
	}
}

// Lowercase lower cases string values.
func Lowercase(val interface{}) (interface{}, error) {
	s, ok := val.(string)
	if !ok {
		return nil, errors.Errorf("lowercase: %v is %[1]T, not string", val)
	}
	return strings.ToLower(s), nil
}

// Normalize returns a Derive rule applying n to a single column.
func Normalize(column, field string, n Normalizer) Derive {
	return Derive{
		Columns: []string{column},
		Field:   field,
		Func: func(vals ...interface{}) (interface{}, error) {
			if vals[0] == nil {
				return nil, nil
			}
			return n(Scalar(vals[0]))
		},
	}
}
