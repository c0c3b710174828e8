// Package asn1time decodes ASN.1 UTCTime and GeneralizedTime values into
// POSIX seconds. The decoder is timezone-aware (Zulu and explicit offsets)
// and never consults the local timezone database, so results are identical
// on every host.
package asn1time

import (
	"encoding/asn1"
	"errors"
	"time"
)

// Tag numbers for the two ASN.1 time types.
const (
	TagUTCTime         = 23
	TagGeneralizedTime = 24
)

var (
	// ErrInvalidTime is returned for values that do not follow the
	// UTCTime/GeneralizedTime grammar or carry no timezone.
	ErrInvalidTime = errors.New("invalid ASN.1 time value")

	// ErrTimeOverflow reports a moment that cannot be represented as epoch
	// seconds. The parsers in this package do not return it: the year range
	// they accept always fits.
	ErrTimeOverflow = errors.New("time value out of range")
)

// Parse decodes a raw UTCTime or GeneralizedTime value into epoch seconds.
func Parse(raw asn1.RawValue) (int64, error) {
	if raw.Class != asn1.ClassUniversal || raw.IsCompound {
		return 0, ErrInvalidTime
	}
	switch raw.Tag {
	case TagUTCTime:
		return ParseString(false, string(raw.Bytes))
	case TagGeneralizedTime:
		return ParseString(true, string(raw.Bytes))
	default:
		return 0, ErrInvalidTime
	}
}

// pint reads exactly n digits from s and checks the resulting value against
// [min, max].
func pint(s string, pos, n, min, max int) (int, int, error) {
	if pos+n > len(s) {
		return 0, pos, ErrInvalidTime
	}
	v := 0
	for i := 0; i < n; i++ {
		c := s[pos+i]
		if c < '0' || c > '9' {
			return 0, pos, ErrInvalidTime
		}
		v = v*10 + int(c-'0')
	}
	if v < min || v > max {
		return 0, pos, ErrInvalidTime
	}
	return v, pos + n, nil
}

// ParseString decodes the string body of a time value. UTCTime years below
// 50 map into the 21st century. A value without a trailing 'Z' or explicit
// offset is rejected: such values are interpreted relative to the local
// clock of the producer and cannot be decoded reliably.
func ParseString(generalized bool, s string) (int64, error) {
	var (
		year, pos int
		err       error
	)

	if generalized {
		year, pos, err = pint(s, 0, 4, 0, 9999)
	} else {
		year, pos, err = pint(s, 0, 2, 0, 99)
		if year < 50 {
			year += 100
		}
		year += 1900
	}
	if err != nil {
		return 0, err
	}

	month, pos, err := pint(s, pos, 2, 1, 12)
	if err != nil {
		return 0, err
	}
	day, pos, err := pint(s, pos, 2, 1, 31)
	if err != nil {
		return 0, err
	}
	hour, pos, err := pint(s, pos, 2, 0, 23)
	if err != nil {
		return 0, err
	}
	min, pos, err := pint(s, pos, 2, 0, 59)
	if err != nil {
		return 0, err
	}

	sec := 0
	if pos < len(s) && s[pos] >= '0' && s[pos] <= '9' {
		sec, pos, err = pint(s, pos, 2, 0, 59)
		if err != nil {
			return 0, err
		}
	}

	if generalized {
		// Skip fractional seconds.
		for pos < len(s) && (s[pos] == '.' || s[pos] == ',' || (s[pos] >= '0' && s[pos] <= '9')) {
			pos++
		}
	}

	offset := 0
	switch {
	case pos < len(s) && s[pos] == 'Z':
		pos++
	case pos < len(s) && (s[pos] == '+' || s[pos] == '-'):
		neg := s[pos] == '-'
		pos++
		var oh, om int
		oh, pos, err = pint(s, pos, 2, 0, 12)
		if err != nil {
			return 0, err
		}
		om, pos, err = pint(s, pos, 2, 0, 59)
		if err != nil {
			return 0, err
		}
		offset = oh*60 + om
		if neg {
			offset = -offset
		}
	default:
		return 0, ErrInvalidTime
	}
	if pos != len(s) {
		return 0, ErrInvalidTime
	}

	t := time.Date(year, time.Month(month), day, hour, min, sec, 0, time.UTC)
	// time.Date normalizes out-of-range days (e.g. Feb 30); reject values
	// that did not survive the round trip.
	if t.Day() != day || int(t.Month()) != month || t.Year() != year {
		return 0, ErrInvalidTime
	}

	return t.Unix() - int64(offset)*60, nil
}
