package utils

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"stakan-guard/internal/moderation"
)

var unitSeconds = map[byte]int64{
	's': 1,
	'm': 60,
	'h': 3600,
	'd': 86400,
}

// ParseDuration converts tokens such as "90s", "30m", "2h" or "1d" into seconds.
func ParseDuration(token string) (int64, error) {
	if len(token) < 2 {
		return 0, fmt.Errorf("%w: duration %q", moderation.ErrInvalidInput, token)
	}
	unit, ok := unitSeconds[token[len(token)-1]]
	if !ok {
		return 0, fmt.Errorf("%w: duration %q has no s/m/h/d suffix", moderation.ErrInvalidInput, token)
	}
	digits := token[:len(token)-1]
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return 0, fmt.Errorf("%w: duration %q is not a non-negative integer", moderation.ErrInvalidInput, token)
		}
	}
	value, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: duration %q: %v", moderation.ErrInvalidInput, token, err)
	}
	if value > math.MaxInt64/unit {
		return 0, fmt.Errorf("%w: duration %q out of range", moderation.ErrInvalidInput, token)
	}
	return value * unit, nil
}

// MaxDurationSeconds is the largest second count representable as a time.Duration.
const MaxDurationSeconds = int64(math.MaxInt64 / int64(time.Second))

// FormatDuration renders d in the largest unit that divides it exactly, the
// inverse of ParseDuration for whole seconds.
func FormatDuration(d time.Duration) string {
	seconds := int64(d / time.Second)
	for _, suffix := range []byte{'d', 'h', 'm'} {
		unit := unitSeconds[suffix]
		if seconds != 0 && seconds%unit == 0 {
			return strconv.FormatInt(seconds/unit, 10) + string(suffix)
		}
	}
	return strconv.FormatInt(seconds, 10) + "s"
}
