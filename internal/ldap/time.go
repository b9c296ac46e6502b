package ldap

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// GeneralizedTimeLayout is the whenCreated/whenChanged wire format.
	GeneralizedTimeLayout = "20060102150405Z"

	// fileTimeEpochOffset is the number of milliseconds between 1601-01-01 and 1970-01-01.
	fileTimeEpochOffset int64 = 11644473600000
)

var timeLayouts = []string{
	time.RFC3339Nano,
	GeneralizedTimeLayout,
	"20060102150405.0Z",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ToTime interprets a record timestamp. Numbers are milliseconds since the
// Unix epoch; strings may also be RFC 3339 or generalized time.
func ToTime(v any) (time.Time, bool) {
	switch vv := v.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		return vv, !vv.IsZero()
	case *time.Time:
		if vv == nil || vv.IsZero() {
			return time.Time{}, false
		}
		return *vv, true
	case int, int32, int64, float64, json.Number:
		return time.UnixMilli(ToNumber(vv, 0)).UTC(), true
	case string:
		s := strings.TrimSpace(vv)
		if s == "" {
			return time.Time{}, false
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil && len(s) != len("20060102150405") {
			return time.UnixMilli(ms).UTC(), true
		}
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

// ToMillis returns the epoch millisecond value of a record timestamp.
func ToMillis(v any) (int64, bool) {
	t, ok := ToTime(v)
	if !ok {
		return 0, false
	}
	return t.UnixMilli(), true
}

// GeneralizedTime formats a record timestamp as YYYYMMDDhhmmssZ in UTC.
func GeneralizedTime(v any) (string, bool) {
	t, ok := ToTime(v)
	if !ok {
		return "", false
	}
	return t.UTC().Format(GeneralizedTimeLayout), true
}

// FileTimeInterval converts a record timestamp into the integer published as
// accountExpires and badPasswordTime: (epoch ms + 11644473600000) * 10.
func FileTimeInterval(v any) (int64, bool) {
	ms, ok := ToMillis(v)
	if !ok {
		return 0, false
	}
	return (ms + fileTimeEpochOffset) * 10, true
}

// ParseGeneralizedTime reverses GeneralizedTime, returning epoch milliseconds.
func ParseGeneralizedTime(s string) (int64, error) {
	for _, layout := range []string{GeneralizedTimeLayout, "20060102150405.0Z"} {
		if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
			return t.UnixMilli(), nil
		}
	}
	return 0, fmt.Errorf("invalid generalized time: %q", s)
}

// ParseFileTimeInterval reverses FileTimeInterval, returning epoch milliseconds.
func ParseFileTimeInterval(s string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid file time: %w", err)
	}
	return n/10 - fileTimeEpochOffset, nil
}
