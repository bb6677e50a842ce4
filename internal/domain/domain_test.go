package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_CloneIsIndependentOfSource(t *testing.T) {
	score := 0.5
	timeout := time.Now().Add(time.Hour)
	s := &Session{
		SessionID: "s1",
		Progress: Progress{
			ConceptsMastered: map[string]bool{"c1": true},
			ConceptsNeedWork: map[string]bool{"c2": true},
			ConceptStates:    map[string]*ConceptState{"c1": {ConceptID: "c1", Stability: 1}},
			OverallScore:     &score,
		},
		Timing:       Timing{TimeoutAt: &timeout},
		Analytics:    Analytics{StrugglingIndicators: []string{"slow"}, LearningPatterns: map[string]string{"k": "v"}},
		Security:     Security{IntegrityChecks: []IntegrityCheck{{Type: CheckTiming}}},
		Conversation: []Message{{Role: RoleSystem, Content: "hi"}},
	}

	clone := s.Clone()
	clone.Progress.ConceptsMastered["c3"] = true
	clone.Progress.ConceptStates["c1"].Stability = 99
	*clone.Progress.OverallScore = 0.9
	clone.Analytics.StrugglingIndicators[0] = "changed"
	clone.Conversation[0].Content = "changed"

	assert.False(t, s.Progress.ConceptsMastered["c3"])
	assert.Equal(t, 1.0, s.Progress.ConceptStates["c1"].Stability)
	assert.Equal(t, 0.5, *s.Progress.OverallScore)
	assert.Equal(t, "slow", s.Analytics.StrugglingIndicators[0])
	assert.Equal(t, "hi", s.Conversation[0].Content)
}

func TestSession_CloneOfNilIsNil(t *testing.T) {
	var s *Session
	assert.Nil(t, s.Clone())
}

func TestSessionStatus_Terminal(t *testing.T) {
	terminal := []SessionStatus{StatusMasteryAchieved, StatusMaxAttempts, StatusTimeout, StatusCompleted, StatusError}
	for _, status := range terminal {
		assert.True(t, status.Terminal(), "expected %s to be terminal", status)
	}
	nonTerminal := []SessionStatus{StatusCreated, StatusActive, StatusAwaitingResponse, StatusProcessing}
	for _, status := range nonTerminal {
		assert.False(t, status.Terminal(), "expected %s to not be terminal", status)
	}
}

func TestProgress_MarkMasteredAndMarkNeedsWorkPreserveDisjointSets(t *testing.T) {
	p := &Progress{}
	p.MarkNeedsWork("c1")
	assert.True(t, p.ConceptsNeedWork["c1"])
	assert.True(t, p.CheckConceptSetsDisjoint())

	p.MarkMastered("c1")
	assert.True(t, p.ConceptsMastered["c1"])
	assert.False(t, p.ConceptsNeedWork["c1"])
	assert.True(t, p.CheckConceptSetsDisjoint())
}

func TestProgress_RecomputeMasteryAchieved(t *testing.T) {
	p := &Progress{ConceptsMastered: map[string]bool{"c1": true, "c2": true}}
	p.RecomputeMasteryAchieved(2, 0.8)
	assert.True(t, p.MasteryAchieved)

	p.RecomputeMasteryAchieved(4, 0.8)
	assert.False(t, p.MasteryAchieved)

	p.RecomputeMasteryAchieved(0, 0.8)
	assert.False(t, p.MasteryAchieved)
}

func TestConceptState_PredictedRetentionDecaysWithElapsedTime(t *testing.T) {
	now := time.Now()
	c := &ConceptState{Stability: 2, LastReviewedAt: now}
	assert.InDelta(t, 1.0, c.PredictedRetention(now), 0.001)

	later := now.Add(48 * time.Hour)
	assert.Less(t, c.PredictedRetention(later), 1.0)

	c.Stability = 0
	assert.Equal(t, 0.0, c.PredictedRetention(now))
}

func validConfig() *AssessmentConfig {
	return &AssessmentConfig{
		ConfigID:        "cfg-1",
		AssessmentTitle: "Title",
		Settings:        Settings{MasteryThreshold: 0.8, MaxAttempts: 3},
		Context:         Context{Concepts: []string{"c1"}},
		Grading: Grading{
			PointsPossible: 100,
			Weights:        GradingWeights{Mastery: 0.5, Participation: 0.3, Improvement: 0.2},
		},
	}
}

func TestValidateConfig_AcceptsWellFormedConfig(t *testing.T) {
	require.NoError(t, ValidateConfig(validConfig()))
}

func TestValidateConfig_RejectsMissingConcepts(t *testing.T) {
	cfg := validConfig()
	cfg.Context.Concepts = nil
	assert.Error(t, ValidateConfig(cfg))
}

func TestValidateConfig_RejectsWeightsNotSummingToOne(t *testing.T) {
	cfg := validConfig()
	cfg.Grading.Weights = GradingWeights{Mastery: 0.5, Participation: 0.5, Improvement: 0.5}
	err := ValidateConfig(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "weights must sum to 1")
}
