// Package modelrouter selects which model tier a natural-language command
// should be sent to and estimates the cost of doing so, grounded on
// model_router.py's complexity scoring.
package modelrouter

import (
	"strings"
)

// Tier is a cost/capability bucket of models.
type Tier string

const (
	TierCheap     Tier = "cheap"
	TierBalanced  Tier = "balanced"
	TierStrongest Tier = "strongest"
)

// ModelInfo describes one entry in the model registry (spec.md's
// vendor-agnostic generalization of the original's hardcoded Bedrock model
// ids).
type ModelInfo struct {
	Name        string
	Tier        Tier
	PerKTokens  float64 // USD cost per 1000 prompt tokens
}

// Registry maps tiers to the model that serves them. Populated from
// configuration (internal/config), not hardcoded, since the model vendor is
// an external collaborator concern.
type Registry map[Tier]ModelInfo

// complexityWeights scores keywords that suggest a command needs a more
// capable model, grounded on model_router.py's complexity_weights dict.
var complexityWeights = map[string]int{
	"refactor": 3, "migrate": 3, "architecture": 3, "design": 2,
	"optimize": 2, "debug": 2, "investigate": 2, "analyze": 2,
	"multiple": 1, "complex": 2, "across": 1, "all": 1,
	"script": 1, "automate": 1, "integrate": 2,
}

const (
	tierCheapMax    = 3
	tierBalancedMax = 7
)

// Decision is the outcome of routing a single natural-language instruction.
type Decision struct {
	Tier           Tier
	Model          ModelInfo
	ComplexityScore int
	EstimatedCostUSD float64
}

// Route scores the instruction's complexity and selects a model tier.
// promptLength is the estimated token count of the assembled prompt (used
// for cost estimation, not for scoring complexity).
func Route(instruction string, promptLength int, registry Registry) Decision {
	complexity := scoreComplexity(instruction)
	tier := tierForComplexity(complexity)
	model := registry[tier]

	return Decision{
		Tier:             tier,
		Model:            model,
		ComplexityScore:  complexity,
		EstimatedCostUSD: estimateCost(promptLength, model.PerKTokens),
	}
}

func scoreComplexity(instruction string) int {
	lower := strings.ToLower(instruction)
	words := strings.Fields(lower)
	score := 0
	for _, w := range words {
		w = strings.Trim(w, ".,!?;:")
		if weight, ok := complexityWeights[w]; ok {
			score += weight
		}
	}
	// Longer instructions are mildly more complex too.
	if len(words) > 40 {
		score++
	}
	return score
}

func tierForComplexity(score int) Tier {
	switch {
	case score < tierCheapMax:
		return TierCheap
	case score < tierBalancedMax:
		return TierBalanced
	default:
		return TierStrongest
	}
}

// estimateCost matches the original's cost formula:
// (prompt_length + 500) / 1000 * per-1k-rate.
func estimateCost(promptLength int, perKTokens float64) float64 {
	return float64(promptLength+500) / 1000.0 * perKTokens
}

// DefaultRegistry is a reasonable fallback used when configuration doesn't
// specify a model_registry, so the router never panics on a missing tier.
func DefaultRegistry() Registry {
	return Registry{
		TierCheap:     {Name: "cheap-default", Tier: TierCheap, PerKTokens: 0.0008},
		TierBalanced:  {Name: "balanced-default", Tier: TierBalanced, PerKTokens: 0.003},
		TierStrongest: {Name: "strongest-default", Tier: TierStrongest, PerKTokens: 0.015},
	}
}
