package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidTimeframe = errors.New("invalid timeframe")

var relativeTimeframePattern = regexp.MustCompile(`^(?:last\s+)?(\d+)\s*[:\s]?\s*(minute|minutes|min|mins|hour|hours|h|day|days|d|week|weeks|w)$`)

// ParseTimeframe resolves the wire timeframe against now. Accepted forms are a
// relative string ("last 7 days", "24:hours") or a [start, end] pair of epoch
// seconds. A missing or empty value yields nil.
func ParseTimeframe(raw json.RawMessage, now time.Time) (*TimeRange, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	switch trimmed[0] {
	case '"':
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTimeframe, err)
		}
		return parseRelative(text, now)
	case '[':
		var pair []int64
		if err := json.Unmarshal(trimmed, &pair); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTimeframe, err)
		}
		if len(pair) != 2 {
			return nil, fmt.Errorf("%w: expected [start, end]", ErrInvalidTimeframe)
		}
		r := TimeRange{Start: pair[0], End: pair[1]}
		if !r.Valid() {
			return nil, fmt.Errorf("%w: start must precede end", ErrInvalidTimeframe)
		}
		return &r, nil
	}
	return nil, fmt.Errorf("%w: unsupported value", ErrInvalidTimeframe)
}

func parseRelative(text string, now time.Time) (*TimeRange, error) {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return nil, nil
	}
	match := relativeTimeframePattern.FindStringSubmatch(text)
	if match == nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimeframe, text)
	}
	amount, err := strconv.Atoi(match[1])
	if err != nil || amount <= 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimeframe, text)
	}

	var unit time.Duration
	switch match[2] {
	case "minute", "minutes", "min", "mins":
		unit = time.Minute
	case "hour", "hours", "h":
		unit = time.Hour
	case "day", "days", "d":
		unit = 24 * time.Hour
	default:
		unit = 7 * 24 * time.Hour
	}

	if int64(amount) > math.MaxInt64/int64(unit) {
		return nil, fmt.Errorf("%w: %q is too far back", ErrInvalidTimeframe, text)
	}
	r := TimeRange{Start: now.Add(-time.Duration(amount) * unit).Unix(), End: now.Unix()}
	if r.Start < 0 {
		return nil, fmt.Errorf("%w: %q starts before 1970", ErrInvalidTimeframe, text)
	}
	return &r, nil
}
