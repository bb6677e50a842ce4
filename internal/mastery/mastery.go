// Package mastery implements the MasteryTracker (§4.3): the per-concept
// state machine, forgetting-curve projection, and adaptive-difficulty
// fuzzy step. Apply mutates the Progress it is given in place (the
// caller owns commit semantics) and returns only the ids of concepts
// newly mastered by that call.
package mastery

import (
	"time"

	"atomic-guide-cac/internal/config"
	"atomic-guide-cac/internal/domain"
)

const rollingAccuracyWeight = 0.3

type Tracker struct {
	cfg *config.Config
}

func New(cfg *config.Config) *Tracker {
	return &Tracker{cfg: cfg}
}

// Apply updates ConceptStates for every concept referenced by analysis
// (understood or misconceived), recomputes masteryAchieved, and returns
// the set of concept ids that newly became mastered this turn (used by
// ProgressionPolicy to pick the mastery_check role).
func (t *Tracker) Apply(progress *domain.Progress, analysis domain.Analysis, totalConcepts int, masteryThreshold float64, now time.Time) []string {
	var newlyMastered []string

	understood := toSet(analysis.Understanding.ConceptsUnderstood)
	misconceived := toSet(analysis.Understanding.Misconceptions)

	for conceptID := range understood {
		cs := t.ensure(progress, conceptID, now)
		t.applyCorrect(cs, now)
		if cs.Status == domain.ConceptMastered && !progress.ConceptsMastered[conceptID] {
			newlyMastered = append(newlyMastered, conceptID)
		}
		if cs.Status == domain.ConceptMastered {
			progress.MarkMastered(conceptID)
		} else {
			progress.MarkNeedsWork(conceptID)
		}
	}

	weak := analysis.Understanding.Level == domain.UnderstandingNone || analysis.Understanding.Level == domain.UnderstandingPartial
	for conceptID := range misconceived {
		cs := t.ensure(progress, conceptID, now)
		t.applyIncorrect(cs, now)
		progress.MarkNeedsWork(conceptID)
	}
	if weak {
		// A weak overall understanding, with no specific misconception
		// named, still demotes the concept currently being probed.
		target := analysis.NextQuestion.TargetConcept
		if target != "" {
			if _, already := misconceived[target]; !already {
				cs := t.ensure(progress, target, now)
				t.applyIncorrect(cs, now)
				progress.MarkNeedsWork(target)
			}
		}
	}

	progress.RecomputeMasteryAchieved(totalConcepts, masteryThreshold)
	return newlyMastered
}

func (t *Tracker) ensure(progress *domain.Progress, conceptID string, now time.Time) *domain.ConceptState {
	if progress.ConceptStates == nil {
		progress.ConceptStates = map[string]*domain.ConceptState{}
	}
	cs, ok := progress.ConceptStates[conceptID]
	if !ok {
		cs = &domain.ConceptState{
			ConceptID:          conceptID,
			Stability:          t.cfg.StabilityFloorDays,
			LastReviewedAt:     now,
			DifficultySetpoint: 0.5,
			Status:             domain.ConceptUnseen,
		}
		progress.ConceptStates[conceptID] = cs
	}
	return cs
}

func (t *Tracker) applyCorrect(cs *domain.ConceptState, now time.Time) {
	cs.AttemptCount++
	cs.CorrectStreak++
	cs.LastReviewedAt = now
	cs.Stability = minF(cs.Stability*t.cfg.StabilityGrowthFactor, t.cfg.StabilityCapDays)
	cs.RollingAccuracy = cs.RollingAccuracy*(1-rollingAccuracyWeight) + rollingAccuracyWeight*1.0

	t.stepDifficulty(cs)

	if cs.CorrectStreak >= t.cfg.MasteryStreakRequired && cs.DifficultySetpoint >= t.cfg.MasteryDifficultyFloor {
		cs.Status = domain.ConceptMastered
	} else if cs.Status == domain.ConceptUnseen {
		cs.Status = domain.ConceptProbed
	} else if cs.Status != domain.ConceptMastered {
		cs.Status = domain.ConceptPartial
	}
}

func (t *Tracker) applyIncorrect(cs *domain.ConceptState, now time.Time) {
	cs.AttemptCount++
	cs.CorrectStreak = 0
	cs.LastReviewedAt = now
	cs.Stability = maxF(cs.Stability*t.cfg.StabilityDecayFactor, t.cfg.StabilityFloorDays)
	cs.RollingAccuracy = cs.RollingAccuracy * (1 - rollingAccuracyWeight)
	cs.Status = domain.ConceptProbed

	t.stepDifficulty(cs)
}

// stepDifficulty implements the fuzzy step of §4.3: steps of exactly
// cfg.DifficultyStep, never continuous drift.
func (t *Tracker) stepDifficulty(cs *domain.ConceptState) {
	switch {
	case cs.RollingAccuracy < t.cfg.AccuracyLowWatermark:
		cs.DifficultySetpoint = maxF(0, cs.DifficultySetpoint-t.cfg.DifficultyStep)
	case cs.RollingAccuracy > t.cfg.AccuracyHighWatermark:
		cs.DifficultySetpoint = minF(1, cs.DifficultySetpoint+t.cfg.DifficultyStep)
	}
}

// ShouldReprobe reports whether a previously-mastered concept's
// predicted retention has decayed enough to warrant re-probing (§4.3).
func (t *Tracker) ShouldReprobe(cs *domain.ConceptState, now time.Time) bool {
	if cs.Status != domain.ConceptMastered {
		return false
	}
	return cs.PredictedRetention(now) < t.cfg.RetentionReprobeThreshold
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, i := range items {
		set[i] = struct{}{}
	}
	return set
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
