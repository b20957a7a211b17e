package quality

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateScriptCleansModelOutput(t *testing.T) {
	validator := NewScriptValidator()

	result, err := validator.ValidateScript(ScriptValidationInput{
		Text:     "```\nScript: Views rose to twelve hundred this week and errors stayed at zero\n```",
		MinWords: 5,
		MaxWords: 90,
	})
	if err != nil {
		t.Fatalf("expected script to validate: %v", err)
	}
	if !result.Corrected {
		t.Fatalf("expected correction flag")
	}
	if strings.HasPrefix(result.Text, "Script:") || strings.Contains(result.Text, "```") {
		t.Fatalf("expected label and fences removed, got %q", result.Text)
	}
	if !strings.HasSuffix(result.Text, ".") {
		t.Fatalf("expected terminal punctuation, got %q", result.Text)
	}
	if result.Score <= 0 {
		t.Fatalf("expected positive score, got %.2f", result.Score)
	}
}

func TestValidateScriptRejectsEmptyOutput(t *testing.T) {
	_, err := NewScriptValidator().ValidateScript(ScriptValidationInput{Text: "   ", MaxWords: 90})
	if !errors.Is(err, ErrQualityRejected) {
		t.Fatalf("expected ErrQualityRejected, got %v", err)
	}
}

func TestValidateScriptRedactsCredentials(t *testing.T) {
	result, err := NewScriptValidator().ValidateScript(ScriptValidationInput{
		Text:     "Use key abcdefghijklmnopqrstuvwxyz012345 to view the dashboard today.",
		MaxWords: 90,
	})
	if err != nil {
		t.Fatalf("expected script to validate: %v", err)
	}
	if strings.Contains(result.Text, "abcdefghijklmnopqrstuvwxyz012345") {
		t.Fatalf("expected credential to be redacted, got %q", result.Text)
	}
}
