package engine

import (
	"context"

	"atomic-guide-cac/internal/domain"
	"atomic-guide-cac/internal/errs"
	"atomic-guide-cac/internal/grading"
	"atomic-guide-cac/internal/llm"
	"atomic-guide-cac/internal/prompt"
)

// CalculateFinalGrade implements §4.1's calculateFinalGrade(sessionId) →
// GradeCalculation.
func (e *Engine) CalculateFinalGrade(ctx context.Context, sessionID string) (*domain.GradeCalculation, error) {
	session, _, err := e.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.Status.Terminal() {
		return nil, errs.New(errs.InvalidStatus, "session is not in a terminal state: "+string(session.Status))
	}

	assessmentConfig, err := e.catalog.Get(ctx, session.ConfigRef)
	if err != nil {
		return nil, err
	}

	components := grading.Calculate(grading.Input{
		TotalConcepts:        len(assessmentConfig.Context.Concepts),
		MasteredConcepts:     len(session.Progress.ConceptsMastered),
		EngagementScore:      session.Analytics.EngagementScore,
		StrugglingIndicators: len(session.Analytics.StrugglingIndicators),
		StudentMessageCount:  countStudentMessages(session.Conversation),
		OverallScore:         session.Progress.OverallScore,
		Weights:              assessmentConfig.Grading.Weights,
		PointsPossible:       assessmentConfig.Grading.PointsPossible,
	})
	numericScore := grading.NumericScore(components, assessmentConfig.Grading.Weights, assessmentConfig.Grading.PointsPossible)

	rationaleCtx := prompt.GradeRationaleContext{
		MasteredConcepts: setKeys(session.Progress.ConceptsMastered),
		NeedWorkConcepts: setKeys(session.Progress.ConceptsNeedWork),
		NumericScore:     numericScore,
		PointsPossible:   assessmentConfig.Grading.PointsPossible,
		TerminalStatus:   session.Status,
	}
	rationalePrompt := prompt.BuildGradeRationale(rationaleCtx)
	feedback, err := e.callLLM(ctx, func(callCtx context.Context) (string, error) {
		return e.provider.Generate(callCtx, rationalePrompt, llm.GenerateOptions{MaxTokens: 300, Temperature: 0.4})
	})
	if err != nil {
		feedback = prompt.FallbackGradeRationale(rationaleCtx)
	}

	passback := domain.Passback{Eligible: assessmentConfig.Grading.PassbackEnabled, Status: domain.PassbackPending}
	if !assessmentConfig.Grading.PassbackEnabled {
		passback.Status = domain.PassbackSkipped
	}

	return &domain.GradeCalculation{
		SessionID:    sessionID,
		NumericScore: numericScore,
		Components:   components,
		Feedback:     feedback,
		Passback:     passback,
		ComputedAt:   e.now(),
	}, nil
}
