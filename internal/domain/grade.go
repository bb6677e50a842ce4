package domain

import "time"

// GradeCalculation is derived at terminal state by the GradeCalculator.
type GradeCalculation struct {
	SessionID     string          `json:"sessionId"`
	NumericScore  float64         `json:"numericScore"`
	Components    GradeComponents `json:"components"`
	Feedback      string          `json:"feedback"`
	Passback      Passback        `json:"passback"`
	ComputedAt    time.Time       `json:"computedAt"`
}

// GradeComponents is the weighted breakdown feeding NumericScore.
type GradeComponents struct {
	Mastery       float64 `json:"mastery"`
	Participation float64 `json:"participation"`
	Improvement   float64 `json:"improvement"`
}

// Passback describes the gradebook-emission lifecycle for this grade.
type Passback struct {
	Eligible bool           `json:"eligible"`
	Status   PassbackStatus `json:"status"`
}

// GradePayload is produced for an injected passback client; the engine
// does not implement OAuth or transport for it.
type GradePayload struct {
	StudentRef      string           `json:"studentRef"`
	LineItemRef     string           `json:"lineItemRef"`
	ScoreGiven      float64          `json:"scoreGiven"`
	ScoreMaximum    float64          `json:"scoreMaximum"`
	ActivityProgress ActivityProgress `json:"activityProgress"`
	GradingProgress GradingProgress  `json:"gradingProgress"`
	Timestamp       time.Time        `json:"timestamp"`
}
