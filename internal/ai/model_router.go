package ai

import "strings"

type TaskKind string

const (
	TaskCondense TaskKind = "condense"
)

type ModelProfile struct {
	PrimaryModel    string
	FallbackModel   string
	Temperature     float64
	MaxOutputTokens int
}

type ModelRouterConfig struct {
	CondensePrimary  string
	CondenseFallback string
}

type ModelRouter struct {
	config ModelRouterConfig
}

func NewModelRouter(config ModelRouterConfig) *ModelRouter {
	if strings.TrimSpace(config.CondensePrimary) == "" {
		config.CondensePrimary = "gpt-4.1-mini"
	}
	if strings.TrimSpace(config.CondenseFallback) == "" {
		config.CondenseFallback = "gpt-4.1-nano"
	}
	return &ModelRouter{config: config}
}

func (r *ModelRouter) Select(task TaskKind) ModelProfile {
	switch task {
	case TaskCondense:
		// A 90-word script fits comfortably in 300 tokens.
		return ModelProfile{
			PrimaryModel:    r.config.CondensePrimary,
			FallbackModel:   r.config.CondenseFallback,
			Temperature:     0.3,
			MaxOutputTokens: 300,
		}
	default:
		return ModelProfile{
			PrimaryModel:    r.config.CondensePrimary,
			FallbackModel:   r.config.CondenseFallback,
			Temperature:     0.2,
			MaxOutputTokens: 300,
		}
	}
}
