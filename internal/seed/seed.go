// Package seed provides the baseline AssessmentConfig fixtures used by
// local dev and integration tests, idempotent per configId the way the
// teacher's curriculum/lesson seeders are idempotent per (level,order).
package seed

import (
	"context"

	"github.com/rs/zerolog"

	"atomic-guide-cac/internal/catalog"
	"atomic-guide-cac/internal/domain"
)

type configDef struct {
	ConfigID           string
	AssessmentTitle    string
	Concepts           []string
	LearningObjectives []string
	MasteryThreshold   float64
	MaxAttempts        int
	PointsPossible     float64
}

var defs = []configDef{
	{
		ConfigID:           "algebra-linear-equations",
		AssessmentTitle:    "Linear Equations",
		Concepts:           []string{"isolating-variables", "slope-intercept-form", "systems-of-equations"},
		LearningObjectives: []string{"Solve a linear equation for x", "Graph a line from slope-intercept form"},
		MasteryThreshold:   0.8,
		MaxAttempts:        5,
		PointsPossible:     100,
	},
	{
		ConfigID:           "biology-cellular-respiration",
		AssessmentTitle:    "Cellular Respiration",
		Concepts:           []string{"glycolysis", "krebs-cycle", "electron-transport-chain"},
		LearningObjectives: []string{"Trace glucose through glycolysis", "Explain the role of oxygen in ATP production"},
		MasteryThreshold:   0.75,
		MaxAttempts:        4,
		PointsPossible:     100,
	},
	{
		ConfigID:           "writing-thesis-statements",
		AssessmentTitle:    "Building a Thesis Statement",
		Concepts:           []string{"claim-specificity", "counterargument-awareness"},
		LearningObjectives: []string{"Write an arguable, specific thesis", "Anticipate a counterargument"},
		MasteryThreshold:   0.7,
		MaxAttempts:        3,
		PointsPossible:     50,
	},
}

// Baseline ensures every fixture config exists in cat, skipping any
// configId already present. Minimal writes, same contract as the
// teacher's SeedCurriculumLevels.
func Baseline(ctx context.Context, cat catalog.ConfigStore, logger zerolog.Logger) error {
	for _, def := range defs {
		if _, err := cat.Get(ctx, def.ConfigID); err == nil {
			continue
		}
		cfg := toAssessmentConfig(def)
		if err := cat.Put(ctx, cfg); err != nil {
			logger.Error().Err(err).Str("configId", def.ConfigID).Msg("failed seeding assessment config")
			return err
		}
		logger.Info().Str("configId", def.ConfigID).Msg("seeded assessment config")
	}
	return nil
}

func toAssessmentConfig(def configDef) *domain.AssessmentConfig {
	return &domain.AssessmentConfig{
		ConfigID:        def.ConfigID,
		AssessmentTitle: def.AssessmentTitle,
		Settings: domain.Settings{
			MasteryThreshold:   def.MasteryThreshold,
			MaxAttempts:        def.MaxAttempts,
			TimeLimitMinutes:   30,
			AllowHints:         true,
			ShowFeedback:       true,
			AdaptiveDifficulty: true,
			RequireMastery:     false,
		},
		Context: domain.Context{
			Concepts:           def.Concepts,
			LearningObjectives: def.LearningObjectives,
		},
		Grading: domain.Grading{
			PassbackEnabled: true,
			PointsPossible:  def.PointsPossible,
			Weights: domain.GradingWeights{
				Mastery:       0.6,
				Participation: 0.2,
				Improvement:   0.2,
			},
		},
	}
}
