package analyzer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"atomic-guide-cac/internal/domain"
	"atomic-guide-cac/internal/llm"
)

func TestAnalyze_FallsBackOnProviderError(t *testing.T) {
	a := New(&llm.FakeProvider{Err: errors.New("provider down")})
	result := a.Analyze(context.Background(), "my answer", Snapshot{RemainingConcepts: []string{"c1", "c2"}})
	assert.Equal(t, domain.UnderstandingPartial, result.Understanding.Level)
	assert.Equal(t, "c1", result.NextQuestion.TargetConcept)
}

func TestAnalyze_FallsBackOnUnparseableResponse(t *testing.T) {
	a := New(&llm.FakeProvider{Responses: []string{"not json at all"}})
	result := a.Analyze(context.Background(), "my answer", Snapshot{RemainingConcepts: []string{"c1"}})
	assert.Equal(t, domain.UnderstandingPartial, result.Understanding.Level)
}

func TestAnalyze_ParsesWellFormedJSONEvenWrappedInProse(t *testing.T) {
	raw := "Here is the result: " + `{"understanding":{"level":"excellent","confidence":0.95,"conceptsUnderstood":["c1"],"misconceptions":[]},"mastery":{"progress":1,"achieved":true},"engagement":{"level":"high","strugglingSignals":[]},"nextQuestion":{"type":"mastery_check","targetConcept":"c1","difficultyHint":0.9}}` + " (end)"
	a := New(&llm.FakeProvider{Responses: []string{raw}})
	result := a.Analyze(context.Background(), "my answer", Snapshot{RemainingConcepts: []string{"c1"}})
	assert.Equal(t, domain.UnderstandingExcellent, result.Understanding.Level)
	assert.True(t, result.Mastery.Achieved)
}
