package analytics

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/iago/analytics-audio-reports/internal/domain"
)

var ErrUnrecognizedShape = errors.New("unrecognized analytics response shape")

// SourceFailure is a failure reported by the data API inside a response body.
type SourceFailure struct {
	Type     string
	Messages []string
}

func (e *SourceFailure) Error() string {
	msg := strings.Join(e.Messages, "; ")
	if e.Type == "" {
		return "analytics source failure: " + msg
	}
	if msg == "" {
		return "analytics source failure: " + e.Type
	}
	return fmt.Sprintf("analytics source failure (%s): %s", e.Type, msg)
}

// shapeDecoder recognises one response variant. matched is false when the
// body is not this variant.
type shapeDecoder struct {
	name   string
	decode func(body []byte) (payload *domain.CategoryPayload, matched bool, err error)
}

// Variants are tried in priority order and the first match wins.
var responseShapes = []shapeDecoder{
	{name: "failure", decode: decodeFailure},
	{name: "overall", decode: decodeOverall},
	{name: "breakdown", decode: decodeBreakdown},
}

// DecodeResponse maps a data API body onto a category payload.
func DecodeResponse(body []byte) (*domain.CategoryPayload, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrUnrecognizedShape
	}
	for _, shape := range responseShapes {
		payload, matched, err := shape.decode(trimmed)
		if !matched {
			continue
		}
		if err != nil {
			return nil, err
		}
		return payload, nil
	}
	return nil, ErrUnrecognizedShape
}

func decodeFailure(body []byte) (*domain.CategoryPayload, bool, error) {
	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, false, nil
	}
	raw := bytes.TrimSpace(envelope.Error)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, false, nil
	}

	var message string
	if err := json.Unmarshal(raw, &message); err == nil {
		return nil, true, &SourceFailure{Messages: []string{message}}
	}
	var detailed struct {
		Type     string   `json:"type"`
		Message  string   `json:"message"`
		Messages []string `json:"messages"`
	}
	if err := json.Unmarshal(raw, &detailed); err != nil {
		return nil, true, &SourceFailure{Type: "unknown"}
	}
	messages := detailed.Messages
	if detailed.Message != "" {
		messages = append([]string{detailed.Message}, messages...)
	}
	return nil, true, &SourceFailure{Type: detailed.Type, Messages: messages}
}

func decodeOverall(body []byte) (*domain.CategoryPayload, bool, error) {
	var envelope struct {
		Data      map[string]any `json:"data"`
		Timeframe []int64        `json:"timeframe"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Data == nil {
		return nil, false, nil
	}

	metrics := make(map[string]float64, len(envelope.Data))
	for key, value := range envelope.Data {
		if number, ok := value.(float64); ok {
			metrics[key] = number
		}
	}
	if len(metrics) == 0 {
		return nil, false, nil
	}
	return &domain.CategoryPayload{Metrics: metrics, TimeRange: echoedRange(envelope.Timeframe)}, true, nil
}

var (
	labelKeys = []string{"field", "label", "name", "title", "id"}
	valueKeys = []string{"value", "views", "count", "total", "error_count"}
)

func decodeBreakdown(body []byte) (*domain.CategoryPayload, bool, error) {
	var envelope struct {
		Data          []map[string]any `json:"data"`
		Timeframe     []int64          `json:"timeframe"`
		TotalRowCount *float64         `json:"total_row_count"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Data == nil {
		return nil, false, nil
	}

	items := make([]domain.BreakdownItem, 0, len(envelope.Data))
	for _, row := range envelope.Data {
		label, ok := firstString(row, labelKeys)
		if !ok {
			continue
		}
		value, _ := firstNumber(row, valueKeys)
		items = append(items, domain.BreakdownItem{Label: label, Value: value})
	}

	payload := &domain.CategoryPayload{Breakdown: items, TimeRange: echoedRange(envelope.Timeframe)}
	if envelope.TotalRowCount != nil {
		payload.Metrics = map[string]float64{"total_row_count": *envelope.TotalRowCount}
	}
	return payload, true, nil
}

func echoedRange(timeframe []int64) *domain.TimeRange {
	if len(timeframe) != 2 {
		return nil
	}
	r := domain.TimeRange{Start: timeframe[0], End: timeframe[1]}
	if !r.Valid() {
		return nil
	}
	return &r
}

func firstString(row map[string]any, keys []string) (string, bool) {
	for _, key := range keys {
		if value, ok := row[key].(string); ok && strings.TrimSpace(value) != "" {
			return value, true
		}
	}
	return "", false
}

func firstNumber(row map[string]any, keys []string) (float64, bool) {
	for _, key := range keys {
		if value, ok := row[key].(float64); ok {
			return value, true
		}
	}
	return 0, false
}
