package gateway

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ParseRateLimit parses "N/second", "N/minute" or "N/hour" into a limiter
// with a burst of N. An empty string, "0" or "off" disables limiting and
// returns a nil limiter.
func ParseRateLimit(spec string) (*rate.Limiter, error) {
	trimmed := strings.ToLower(strings.TrimSpace(spec))
	if trimmed == "" || trimmed == "0" || trimmed == "off" {
		return nil, nil
	}

	countText, unit, ok := strings.Cut(trimmed, "/")
	if !ok {
		return nil, fmt.Errorf("invalid rate limit %q (expected N/second|minute|hour)", spec)
	}
	count, err := strconv.Atoi(strings.TrimSpace(countText))
	if err != nil || count <= 0 {
		return nil, fmt.Errorf("invalid rate limit %q: count must be a positive integer", spec)
	}

	var per time.Duration
	switch strings.TrimSpace(unit) {
	case "s", "sec", "second":
		per = time.Second
	case "m", "min", "minute":
		per = time.Minute
	case "h", "hour":
		per = time.Hour
	default:
		return nil, fmt.Errorf("invalid rate limit %q: unknown unit %q", spec, unit)
	}

	return rate.NewLimiter(rate.Every(per/time.Duration(count)), count), nil
}
