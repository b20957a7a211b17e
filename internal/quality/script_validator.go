package quality

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/iago/analytics-audio-reports/internal/policy"
)

var ErrQualityRejected = errors.New("output failed quality checks")

const minScriptScore = 0.5

var (
	codeFencePattern   = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")
	scriptLabelPattern = regexp.MustCompile(`(?i)^(?:here is (?:the|your) script:?|script:|narration:)\s*`)
)

type ScriptValidationInput struct {
	Text     string
	MinWords int
	MaxWords int
}

type ScriptValidationResult struct {
	Text      string
	Words     int
	Score     float64
	Corrected bool
}

// ScriptValidator checks model-written narration scripts before they are
// synthesized.
type ScriptValidator struct{}

func NewScriptValidator() *ScriptValidator {
	return &ScriptValidator{}
}

func (v *ScriptValidator) ValidateScript(input ScriptValidationInput) (ScriptValidationResult, error) {
	corrected := false
	penalty := 0.0

	text := strings.TrimSpace(input.Text)
	if match := codeFencePattern.FindStringSubmatch(text); match != nil {
		text = match[1]
		corrected = true
		penalty += 0.05
	}
	if stripped := scriptLabelPattern.ReplaceAllString(text, ""); stripped != text {
		text = stripped
		corrected = true
	}
	text = strings.Trim(normalizeText(text), `"`)
	if text == "" {
		return ScriptValidationResult{}, fmt.Errorf("%w: empty script", ErrQualityRejected)
	}

	if masked := policy.RedactCredentials(text); masked != text {
		text = masked
		corrected = true
		penalty += 0.2
	}
	if !hasTerminalPunctuation(text) {
		text += "."
		corrected = true
	}

	words := len(strings.Fields(text))
	if input.MaxWords > 0 && words > input.MaxWords {
		corrected = true
		penalty += 0.1
	}
	if input.MinWords > 0 && words < input.MinWords {
		penalty += 0.3 * (1 - float64(words)/float64(input.MinWords))
	}
	if strings.ContainsAny(text, "#*`|") {
		penalty += 0.1
	}

	score := clamp01(1.0 - penalty)
	if score < minScriptScore {
		return ScriptValidationResult{}, fmt.Errorf("%w: low script quality score %.2f", ErrQualityRejected, score)
	}

	return ScriptValidationResult{
		Text:      text,
		Words:     words,
		Score:     round2(score),
		Corrected: corrected,
	}, nil
}

func normalizeText(value string) string {
	return strings.Join(strings.Fields(value), " ")
}

func hasTerminalPunctuation(value string) bool {
	if value == "" {
		return false
	}
	last := value[len(value)-1]
	return last == '.' || last == '!' || last == '?'
}

func clamp01(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
