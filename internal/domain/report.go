package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrUnknownFocusArea = errors.New("unknown focus area")

// TimeRange is a closed interval of epoch seconds.
type TimeRange struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

func (r TimeRange) Valid() bool {
	return r.Start < r.End
}

func (r TimeRange) StartTime() time.Time { return time.Unix(r.Start, 0).UTC() }
func (r TimeRange) EndTime() time.Time   { return time.Unix(r.End, 0).UTC() }

// LastDay returns the default window used when nothing else is known.
func LastDay(now time.Time) TimeRange {
	return TimeRange{Start: now.Add(-24 * time.Hour).Unix(), End: now.Unix()}
}

type Category string

const (
	CategoryViews       Category = "views"
	CategoryErrors      Category = "errors"
	CategoryPerformance Category = "performance"
	CategoryEngagement  Category = "engagement"
	CategoryAssets      Category = "assets"
)

type FocusArea string

const (
	FocusGeneral       FocusArea = "general"
	FocusErrors        FocusArea = "errors"
	FocusComprehensive FocusArea = "comprehensive"
	FocusViews         FocusArea = "views"
	FocusPerformance   FocusArea = "performance"
	FocusEngagement    FocusArea = "engagement"
)

// ParseFocusArea maps free-form input to a known focus area. Empty input
// selects the general report.
func ParseFocusArea(raw string) (FocusArea, error) {
	value := FocusArea(strings.ToLower(strings.TrimSpace(raw)))
	if value == "" {
		return FocusGeneral, nil
	}
	switch value {
	case FocusGeneral, FocusErrors, FocusComprehensive, FocusViews, FocusPerformance, FocusEngagement:
		return value, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFocusArea, raw)
}

// Categories returns the ordered category set fetched for the focus area.
func (f FocusArea) Categories(includeAssets bool) []Category {
	var out []Category
	switch f {
	case FocusErrors:
		out = []Category{CategoryErrors}
	case FocusComprehensive:
		out = []Category{CategoryViews, CategoryErrors, CategoryPerformance, CategoryEngagement}
	case FocusViews:
		out = []Category{CategoryViews}
	case FocusPerformance:
		out = []Category{CategoryPerformance}
	case FocusEngagement:
		out = []Category{CategoryEngagement}
	default:
		out = []Category{CategoryViews, CategoryPerformance, CategoryErrors}
	}
	if includeAssets {
		out = append(out, CategoryAssets)
	}
	return out
}

// ReportRequest is immutable once accepted.
type ReportRequest struct {
	TimeRange        *TimeRange `json:"time_range,omitempty"`
	FocusArea        FocusArea  `json:"focus_area"`
	IncludeAssetList bool       `json:"include_asset_list"`
	AsyncMode        bool       `json:"async_mode"`
}

type BreakdownItem struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// CategoryPayload is the decoded answer of one analytics category.
type CategoryPayload struct {
	Metrics   map[string]float64 `json:"metrics,omitempty"`
	Breakdown []BreakdownItem    `json:"breakdown,omitempty"`
	TimeRange *TimeRange         `json:"time_range,omitempty"`
}

// Metric returns a named metric and whether it was present.
func (p *CategoryPayload) Metric(name string) (float64, bool) {
	if p == nil || p.Metrics == nil {
		return 0, false
	}
	v, ok := p.Metrics[name]
	return v, ok
}

// CategoryResult is either a payload or a failure reason, never both.
type CategoryResult struct {
	Category Category         `json:"category"`
	Payload  *CategoryPayload `json:"payload,omitempty"`
	Failure  string           `json:"failure,omitempty"`
}

func (r CategoryResult) OK() bool {
	return r.Failure == "" && r.Payload != nil
}

type ReportSnapshot struct {
	Results   []CategoryResult `json:"results"`
	TimeRange TimeRange        `json:"time_range"`
}

func (s ReportSnapshot) Succeeded() int {
	n := 0
	for _, r := range s.Results {
		if r.OK() {
			n++
		}
	}
	return n
}

func (s ReportSnapshot) Result(category Category) (CategoryResult, bool) {
	for _, r := range s.Results {
		if r.Category == category {
			return r, true
		}
	}
	return CategoryResult{}, false
}

// UploadSlot is a single-use upload destination issued by the media host.
type UploadSlot struct {
	UploadID  string
	UploadURL string
	AssetID   string
}
