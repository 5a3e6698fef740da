package feindexer

import (
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// KeyString normalizes a join key so that the same logical key matches
// regardless of which integer width or string representation the driver
// produced. The second return value is false for NULL.
func KeyString(val interface{}) (string, bool) {
	switch vt := val.(type) {
	case nil:
		return "", false
	case string:
		return vt, true
	case []byte:
		if vt == nil {
			return "", false
		}
		return string(vt), true
	case int:
		return strconv.FormatInt(int64(vt), 10), true
	case int8:
		return strconv.FormatInt(int64(vt), 10), true
	case int16:
		return strconv.FormatInt(int64(vt), 10), true
	case int32:
		return strconv.FormatInt(int64(vt), 10), true
	case int64:
		return strconv.FormatInt(vt, 10), true
	case uint:
		return strconv.FormatUint(uint64(vt), 10), true
	case uint8:
		return strconv.FormatUint(uint64(vt), 10), true
	case uint16:
		return strconv.FormatUint(uint64(vt), 10), true
	case uint32:
		return strconv.FormatUint(uint64(vt), 10), true
	case uint64:
		return strconv.FormatUint(vt, 10), true
	case float64:
		// numeric columns sometimes come back as floats
		if vt == float64(int64(vt)) {
			return strconv.FormatInt(int64(vt), 10), true
		}
		return strconv.FormatFloat(vt, 'f', -1, 64), true
	default:
		s, err := toString(val)
		if err != nil {
			return "", false
		}
		return s, true
	}
}

// Scalar converts a driver value to one of the document scalar types
// (string, int64, float64, bool) or nil.
func Scalar(val interface{}) interface{} {
	switch vt := val.(type) {
	case nil:
		return nil
	case string, int64, float64, bool:
		return vt
	case []byte:
		if vt == nil {
			return nil
		}
		return string(vt)
	case float32:
		return float64(vt)
	case time.Time:
		return vt.UTC().Format(time.RFC3339)
	default:
		if i, err := toInt64(val); err == nil {
			return i
		}
		if s, err := toString(val); err == nil {
			return s
		}
		return nil
	}
}

func toString(val interface{}) (string, error) {
	switch vt := val.(type) {
	case string:
		return vt, nil
	case []byte:
		return string(vt), nil
	case int64:
		return strconv.FormatInt(vt, 10), nil
	case float64:
		return strconv.FormatFloat(vt, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(vt), nil
	case time.Time:
		return vt.UTC().Format(time.RFC3339), nil
	default:
		if i, err := toInt64(val); err == nil {
			return strconv.FormatInt(i, 10), nil
		}
		return "", errors.Errorf("couldn't convert %v of %[1]T to string", vt)
	}
}

func toInt64(val interface{}) (int64, error) {
	switch vt := val.(type) {
	case uint:
		return int64(vt), nil
	case uint8:
		return int64(vt), nil
	case uint16:
		return int64(vt), nil
	case uint32:
		return int64(vt), nil
	case uint64:
		return int64(vt), nil
	case int:
		return int64(vt), nil
	case int8:
		return int64(vt), nil
	case int16:
		return int64(vt), nil
	case int32:
		return int64(vt), nil
	case int64:
		return vt, nil
	case []byte:
		return strconv.ParseInt(string(vt), 10, 64)
	case string:
		return strconv.ParseInt(vt, 10, 64)
	default:
		return 0, errors.Errorf("couldn't convert %v of %[1]T to int64", vt)
	}
}

func toFloat64(val interface{}) (float64, error) {
	switch vt := val.(type) {
	case float64:
		return vt, nil
	case float32:
		return float64(vt), nil
	case []byte:
		return strconv.ParseFloat(string(vt), 64)
	case string:
		return strconv.ParseFloat(vt, 64)
	default:
		i, err := toInt64(val)
		if err != nil {
			return 0, errors.Errorf("couldn't convert %v of %[1]T to float64", vt)
		}
		return float64(i), nil
	}
}

// Int64 converts a driver value to an int64.
func Int64(val interface{}) (int64, error) { return toInt64(val) }

// Float64 converts a driver value to a float64.
func Float64(val interface{}) (float64, error) { return toFloat64(val) }

// String converts a driver value to a string.
func String(val interface{}) (string, error) { return toString(val) }
