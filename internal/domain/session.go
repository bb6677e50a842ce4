package domain

import (
	"math"
	"time"
)

// Session is the root aggregate of the Conversational Assessment Core. It
// is exclusively owned by its SessionDurableActor while live, and is
// rehydrated from the SessionStore on cold start. Only the envelope
// fields below advance on a turn commit; Messages, once appended, are
// immutable (I1).
type Session struct {
	SessionID  string `json:"sessionId"`
	ConfigRef  string `json:"configRef"`
	StudentRef string `json:"studentRef"`
	CourseRef  string `json:"courseRef"`

	Status SessionStatus `json:"status"`

	Progress Progress `json:"progress"`
	Timing   Timing   `json:"timing"`

	Conversation []Message `json:"conversation"`

	Analytics Analytics `json:"analytics"`
	Security  Security  `json:"security"`

	// Version is the optimistic-lock discriminator (I4, I5). It increases
	// by exactly one per committed turn.
	Version int `json:"version"`
}

// Progress is the session's progress envelope.
type Progress struct {
	CurrentStep      int             `json:"currentStep"`
	TotalSteps       int             `json:"totalSteps"`
	AttemptNumber    int             `json:"attemptNumber"`
	MasteryAchieved  bool            `json:"masteryAchieved"`
	ConceptsMastered map[string]bool `json:"conceptsMastered"`
	ConceptsNeedWork map[string]bool `json:"conceptsNeedWork"`
	OverallScore     *float64        `json:"overallScore,omitempty"`

	// ConceptStates holds the per-concept mastery/scheduling state, one
	// entry per concept named in the session's AssessmentConfig.
	ConceptStates map[string]*ConceptState `json:"conceptStates"`
}

// Timing is the session's timing envelope.
type Timing struct {
	StartedAt      time.Time  `json:"startedAt"`
	LastActivityAt time.Time  `json:"lastActivityAt"`
	AccumulatedMs  int64      `json:"accumulatedMs"`
	TimeoutAt      *time.Time `json:"timeoutAt,omitempty"`
}

// Analytics is the session's analytics envelope.
type Analytics struct {
	EngagementScore     float64           `json:"engagementScore"`
	StrugglingIndicators []string         `json:"strugglingIndicators"`
	LearningPatterns    map[string]string `json:"learningPatterns"`
}

// Security is the session's integrity/security envelope.
type Security struct {
	SessionToken     string           `json:"sessionToken"`
	LastValidationAt time.Time        `json:"lastValidationAt"`
	IntegrityChecks  []IntegrityCheck `json:"integrityChecks"`
}

// ConceptState is owned by Session, one per concept in its config.
type ConceptState struct {
	ConceptID          string        `json:"conceptId"`
	Stability           float64       `json:"stability"` // days
	LastReviewedAt      time.Time     `json:"lastReviewedAt"`
	DifficultySetpoint  float64       `json:"difficultySetpoint"`
	CorrectStreak       int           `json:"correctStreak"`
	AttemptCount        int           `json:"attemptCount"`
	Status              ConceptStatus `json:"status"`
	// RollingAccuracy is an exponential moving average of correctness,
	// the "observed recent accuracy" the adaptive-difficulty fuzzy step
	// (§4.3) reads from.
	RollingAccuracy     float64       `json:"rollingAccuracy"`
}

// PredictedRetention implements the forgetting-curve projection of §4.3:
// exp(-deltaDays / stability).
func (c *ConceptState) PredictedRetention(now time.Time) float64 {
	if c.Stability <= 0 {
		return 0
	}
	deltaDays := now.Sub(c.LastReviewedAt).Hours() / 24
	if deltaDays < 0 {
		deltaDays = 0
	}
	return math.Exp(-(deltaDays / c.Stability))
}
