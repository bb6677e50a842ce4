// Package grading implements the GradeCalculator (§4.1 calculateFinalGrade).
// Calculate is pure over its arguments; PromptBuilder+LLM feedback
// generation happens one layer up in the engine, which falls back to
// prompt.FallbackGradeRationale on LLM failure.
package grading

import (
	"math"

	"atomic-guide-cac/internal/domain"
)

// Input bundles the terminal-state facts the formula needs.
type Input struct {
	TotalConcepts        int
	MasteredConcepts     int
	EngagementScore      float64
	StrugglingIndicators int
	StudentMessageCount  int
	OverallScore         *float64
	Weights              domain.GradingWeights
	PointsPossible       float64
}

// Calculate implements §4.1's formula exactly, including the edge case
// where OverallScore is unset (improvement component defaults to 0).
func Calculate(in Input) domain.GradeComponents {
	mastery := 0.0
	if in.TotalConcepts > 0 {
		mastery = float64(in.MasteredConcepts) / float64(in.TotalConcepts)
	}

	participation := clamp(in.EngagementScore*(1-float64(in.StrugglingIndicators)*0.1), 0.1, 1)
	bonus := math.Min(float64(in.StudentMessageCount)/10.0, 1) * 0.10
	participation += bonus

	improvement := 0.0
	if in.OverallScore != nil {
		improvement = *in.OverallScore
	}

	return domain.GradeComponents{
		Mastery:       mastery,
		Participation: participation,
		Improvement:   improvement,
	}
}

// NumericScore rounds the weighted sum to the nearest whole point, per
// §4.1. pointsPossible=0 yields 0 regardless of the components (B3).
func NumericScore(components domain.GradeComponents, weights domain.GradingWeights, pointsPossible float64) float64 {
	weighted := components.Mastery*weights.Mastery + components.Participation*weights.Participation + components.Improvement*weights.Improvement
	return math.Round(weighted * pointsPossible)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
