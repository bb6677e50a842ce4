package domain

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidateConfig runs struct-tag validation plus the one cross-field rule
// (grading weights summing to 1) that validator's tag language can't
// express directly.
func ValidateConfig(cfg *AssessmentConfig) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config invalid: %w", err)
	}
	if !cfg.Grading.WeightsSumToOne() {
		return fmt.Errorf("config invalid: grading weights must sum to 1 (mastery=%.3f participation=%.3f improvement=%.3f)",
			cfg.Grading.Weights.Mastery, cfg.Grading.Weights.Participation, cfg.Grading.Weights.Improvement)
	}
	return nil
}
