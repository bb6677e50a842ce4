package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"atomic-guide-cac/internal/domain"
)

func TestBuildWelcome_NamesConceptsAndDoesNotAskAQuestion(t *testing.T) {
	p := BuildWelcome(WelcomeContext{
		AssessmentTitle: "Linear Equations",
		Concepts:        []string{"slope-intercept-form", "systems-of-equations"},
	})
	assert.Contains(t, p, "Linear Equations")
	assert.Contains(t, p, "slope-intercept-form")
	assert.Contains(t, p, "Do not ask a question yet")
}

func TestBuildNextQuestion_HintRoleAsksForANudgeNotTheAnswer(t *testing.T) {
	p := BuildNextQuestion(NextQuestionContext{TargetConcept: "glycolysis", Role: domain.RoleHint})
	assert.Contains(t, p, "glycolysis")
	assert.Contains(t, p, "hint")
}

func TestBuildNextQuestion_DefaultRoleIncludesQuestionType(t *testing.T) {
	p := BuildNextQuestion(NextQuestionContext{
		TargetConcept:  "krebs-cycle",
		QuestionType:   domain.QuestionApplication,
		DifficultyHint: 0.6,
		Role:           domain.RoleQuestion,
	})
	assert.Contains(t, p, "application")
	assert.Contains(t, p, "krebs-cycle")
}

func TestBuildFeedback_NamesMisconceptionAndQuotesStudentText(t *testing.T) {
	p := BuildFeedback(FeedbackContext{Misconception: "sign error", StudentText: "x = -3"})
	assert.Contains(t, p, "sign error")
	assert.Contains(t, p, "x = -3")
}

func TestFallbackGradeRationale_MentionsNeedWorkWhenNothingMastered(t *testing.T) {
	rationale := FallbackGradeRationale(GradeRationaleContext{
		NeedWorkConcepts: []string{"glycolysis"},
		NumericScore:     40,
		PointsPossible:   100,
	})
	assert.Contains(t, rationale, "glycolysis")
	assert.Contains(t, rationale, "40.0")
}

func TestFallbackGradeRationale_MentionsMasteredConceptsWhenPresent(t *testing.T) {
	rationale := FallbackGradeRationale(GradeRationaleContext{
		MasteredConcepts: []string{"krebs-cycle"},
		NumericScore:     90,
		PointsPossible:   100,
	})
	assert.Contains(t, rationale, "krebs-cycle")
	assert.Contains(t, rationale, "mastering")
}
