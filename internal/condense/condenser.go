package condense

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/rs/zerolog"

	"github.com/iago/analytics-audio-reports/internal/ai"
	"github.com/iago/analytics-audio-reports/internal/cache"
	"github.com/iago/analytics-audio-reports/internal/policy"
	"github.com/iago/analytics-audio-reports/internal/quality"
)

const (
	DefaultMaxWords = 90
	DefaultMinWords = 75

	instructions = "You write short narration scripts for audio briefings. Answer with the script text only."
)

//go:embed prompts/condense.tmpl
var promptSource string

var promptTemplate = template.Must(template.New("condense").Parse(promptSource))

type Source string

const (
	SourcePassthrough Source = "passthrough"
	SourceModel       Source = "model"
	SourceCache       Source = "cache"
	SourceTruncated   Source = "truncated"
)

// Script is the spoken text handed to speech synthesis.
type Script struct {
	Text      string
	Words     int
	Truncated bool
	Source    Source
	ModelID   string
}

type Dependencies struct {
	Client    ai.TextGenerator
	Router    *ai.ModelRouter
	Cache     *cache.ScriptCache
	Validator *quality.ScriptValidator
	Logger    zerolog.Logger
	MaxWords  int
	MinWords  int
}

// Condenser shortens report text to at most MaxWords words.
type Condenser struct {
	client    ai.TextGenerator
	router    *ai.ModelRouter
	cache     *cache.ScriptCache
	validator *quality.ScriptValidator
	logger    zerolog.Logger
	maxWords  int
	minWords  int
}

func New(deps Dependencies) *Condenser {
	maxWords := deps.MaxWords
	if maxWords <= 0 {
		maxWords = DefaultMaxWords
	}
	minWords := deps.MinWords
	if minWords <= 0 || minWords > maxWords {
		minWords = min(DefaultMinWords, maxWords)
	}
	router := deps.Router
	if router == nil {
		router = ai.NewModelRouter(ai.ModelRouterConfig{})
	}
	validator := deps.Validator
	if validator == nil {
		validator = quality.NewScriptValidator()
	}
	return &Condenser{
		client:    deps.Client,
		router:    router,
		cache:     deps.Cache,
		validator: validator,
		logger:    deps.Logger.With().Str("component", "condenser").Logger(),
		maxWords:  maxWords,
		minWords:  minWords,
	}
}

// Condense always produces a script within the word ceiling. Text already
// under the ceiling is returned unchanged; model failures fall back to
// sentence-boundary truncation.
func (c *Condenser) Condense(ctx context.Context, text string) Script {
	words := len(strings.Fields(text))
	if words <= c.maxWords {
		return Script{Text: text, Words: words, Source: SourcePassthrough}
	}

	signature := cache.Signature(text, fmt.Sprint(c.maxWords))
	if c.cache != nil {
		if entry, ok := c.cache.Get(signature); ok {
			return Script{Text: entry.Script, Words: len(strings.Fields(entry.Script)), Source: SourceCache, ModelID: entry.ModelID}
		}
	}

	script, err := c.condenseWithModel(ctx, text)
	if err == nil {
		if c.cache != nil {
			c.cache.Set(signature, cache.Entry{Script: script.Text, ModelID: script.ModelID})
		}
		return script
	}

	c.logger.Warn().Str("error", policy.SanitizeError(err)).Int("words", words).Msg("model condensation failed, truncating report")
	truncated, _ := Truncate(text, c.maxWords)
	return Script{Text: truncated, Words: len(strings.Fields(truncated)), Truncated: true, Source: SourceTruncated}
}

func (c *Condenser) condenseWithModel(ctx context.Context, text string) (Script, error) {
	if c.client == nil || !c.client.Available() {
		return Script{}, ai.ErrOpenAIUnavailable
	}

	prompt, err := renderPrompt(text, c.minWords, c.maxWords)
	if err != nil {
		return Script{}, err
	}

	output, modelID, err := c.generateText(ctx, c.router.Select(ai.TaskCondense), prompt)
	if err != nil {
		return Script{}, err
	}

	validated, err := c.validator.ValidateScript(quality.ScriptValidationInput{
		Text:     output,
		MinWords: c.minWords,
		MaxWords: c.maxWords,
	})
	if err != nil {
		return Script{}, err
	}

	script := Script{Text: validated.Text, Words: validated.Words, Source: SourceModel, ModelID: modelID}
	if validated.Words > c.maxWords {
		script.Text, script.Truncated = Truncate(validated.Text, c.maxWords)
		script.Words = len(strings.Fields(script.Text))
	}
	return script, nil
}

func (c *Condenser) generateText(ctx context.Context, profile ai.ModelProfile, prompt string) (string, string, error) {
	request := ai.GenerateRequest{
		Model:           profile.PrimaryModel,
		Instructions:    instructions,
		Input:           prompt,
		Temperature:     profile.Temperature,
		MaxOutputTokens: profile.MaxOutputTokens,
	}
	primary, err := c.client.Generate(ctx, request)
	if err == nil {
		return primary.Text, firstNonEmpty(primary.ModelID, profile.PrimaryModel), nil
	}
	if strings.TrimSpace(profile.FallbackModel) == "" || profile.FallbackModel == profile.PrimaryModel || ctx.Err() != nil {
		return "", "", err
	}

	request.Model = profile.FallbackModel
	fallback, fallbackErr := c.client.Generate(ctx, request)
	if fallbackErr != nil {
		return "", "", fmt.Errorf("primary model failed: %v; fallback failed: %w", err, fallbackErr)
	}
	return fallback.Text, firstNonEmpty(fallback.ModelID, profile.FallbackModel), nil
}

func renderPrompt(report string, minWords, maxWords int) (string, error) {
	var buffer bytes.Buffer
	err := promptTemplate.Execute(&buffer, struct {
		Report   string
		MinWords int
		MaxWords int
	}{Report: report, MinWords: minWords, MaxWords: maxWords})
	if err != nil {
		return "", fmt.Errorf("execute condense template: %w", err)
	}
	return buffer.String(), nil
}

// Truncate keeps at most maxWords words and then cuts back to the last
// sentence boundary, if one exists. The boolean reports whether text changed.
func Truncate(text string, maxWords int) (string, bool) {
	words := strings.Fields(text)
	if len(words) <= maxWords {
		return text, false
	}
	cut := strings.Join(words[:maxWords], " ")
	if end := lastSentenceEnd(cut); end > 0 {
		cut = cut[:end]
	}
	return cut, true
}

func lastSentenceEnd(text string) int {
	for i := len(text) - 1; i >= 0; i-- {
		switch text[i] {
		case '.', '!', '?':
			if i == len(text)-1 || text[i+1] == ' ' {
				return i + 1
			}
		}
	}
	return 0
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
