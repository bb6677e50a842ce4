// Package prompt implements PromptBuilder (§4.1, §9 R2): deterministic
// rendering of typed contexts into LLM prompts. Every Build* function is
// a pure function of its argument — no session or clock access.
package prompt

import (
	"fmt"
	"strings"

	"atomic-guide-cac/internal/domain"
)

// WelcomeContext is the typed input to BuildWelcome.
type WelcomeContext struct {
	AssessmentTitle string
	Concepts        []string
	LearningObjectives []string
}

func BuildWelcome(ctx WelcomeContext) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are a patient tutor beginning an assessment titled %q. ", ctx.AssessmentTitle)
	sb.WriteString("Write a short, warm welcome message (2-4 sentences) that tells the student what concepts will be covered: ")
	sb.WriteString(strings.Join(ctx.Concepts, ", "))
	if len(ctx.LearningObjectives) > 0 {
		sb.WriteString(". Learning objectives: ")
		sb.WriteString(strings.Join(ctx.LearningObjectives, "; "))
	}
	sb.WriteString(". Do not ask a question yet.")
	return sb.String()
}

// NextQuestionContext is the typed input to BuildNextQuestion.
type NextQuestionContext struct {
	TargetConcept  string
	QuestionType   domain.QuestionType
	DifficultyHint float64
	Role           domain.MessageRole // question, hint, mastery_check
}

func BuildNextQuestion(ctx NextQuestionContext) string {
	var sb strings.Builder
	switch ctx.Role {
	case domain.RoleHint:
		fmt.Fprintf(&sb, "The student is struggling with %q. Give a short, targeted hint (1-3 sentences) that nudges them toward the answer without giving it away.", ctx.TargetConcept)
	case domain.RoleMasteryCheck:
		fmt.Fprintf(&sb, "Ask one mastery-check question on %q at difficulty %.2f that requires synthesizing the concept, not just recalling it.", ctx.TargetConcept, ctx.DifficultyHint)
	default:
		fmt.Fprintf(&sb, "Ask one %s-type question about %q at difficulty %.2f. Ask only one question.", ctx.QuestionType, ctx.TargetConcept, ctx.DifficultyHint)
	}
	return sb.String()
}

// FeedbackContext is the typed input to BuildFeedback.
type FeedbackContext struct {
	Misconception string
	StudentText   string
}

func BuildFeedback(ctx FeedbackContext) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "The student wrote: %q. They show a misconception about %q. ", ctx.StudentText, ctx.Misconception)
	sb.WriteString("Give brief, encouraging corrective feedback (2-3 sentences) that names the misconception and the correct idea.")
	return sb.String()
}

// GradeRationaleContext is the typed input to BuildGradeRationale.
type GradeRationaleContext struct {
	MasteredConcepts []string
	NeedWorkConcepts []string
	NumericScore     float64
	PointsPossible   float64
	TerminalStatus   domain.SessionStatus
}

func BuildGradeRationale(ctx GradeRationaleContext) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "The assessment ended with status %q, scoring %.1f out of %.1f. ", ctx.TerminalStatus, ctx.NumericScore, ctx.PointsPossible)
	if len(ctx.MasteredConcepts) > 0 {
		sb.WriteString("Mastered: ")
		sb.WriteString(strings.Join(ctx.MasteredConcepts, ", "))
		sb.WriteString(". ")
	}
	if len(ctx.NeedWorkConcepts) > 0 {
		sb.WriteString("Still needs work: ")
		sb.WriteString(strings.Join(ctx.NeedWorkConcepts, ", "))
		sb.WriteString(". ")
	}
	sb.WriteString("Write a short (3-5 sentence) closing summary for the student, encouraging and specific.")
	return sb.String()
}

// FallbackGradeRationale is the deterministic template used when the LLM
// call for grade feedback fails (§4.1, §7 LLMUnavailable).
func FallbackGradeRationale(ctx GradeRationaleContext) string {
	if len(ctx.MasteredConcepts) == 0 {
		return fmt.Sprintf("You scored %.1f out of %.1f. Keep practicing %s to build mastery.",
			ctx.NumericScore, ctx.PointsPossible, strings.Join(ctx.NeedWorkConcepts, ", "))
	}
	return fmt.Sprintf("You scored %.1f out of %.1f, mastering %s.", ctx.NumericScore, ctx.PointsPossible, strings.Join(ctx.MasteredConcepts, ", "))
}
