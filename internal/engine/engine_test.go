package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"atomic-guide-cac/internal/catalog"
	"atomic-guide-cac/internal/config"
	"atomic-guide-cac/internal/domain"
	"atomic-guide-cac/internal/errs"
	"atomic-guide-cac/internal/kv"
	"atomic-guide-cac/internal/llm"
	"atomic-guide-cac/internal/store"
)

func testConfig() *domain.AssessmentConfig {
	return &domain.AssessmentConfig{
		ConfigID:        "cfg-1",
		AssessmentTitle: "Linear Equations",
		Settings: domain.Settings{
			MasteryThreshold: 0.8,
			MaxAttempts:      5,
			AllowHints:       true,
		},
		Context: domain.Context{Concepts: []string{"slope-intercept-form"}},
		Grading: domain.Grading{
			PointsPossible: 100,
			Weights:        domain.GradingWeights{Mastery: 0.5, Participation: 0.3, Improvement: 0.2},
		},
	}
}

func newTestEngine(provider llm.Provider) (*Engine, store.Store) {
	st := store.NewMemory()
	cat := catalog.NewMemory()
	kvStore := kv.NewMemory()
	eng := New(config.Defaults(), st, cat, kvStore, provider)
	return eng, st
}

func TestInitialize_CreatesActiveSessionWithWelcomeMessage(t *testing.T) {
	fake := &llm.FakeProvider{Responses: []string{"Welcome to the assessment!"}}
	eng, _ := newTestEngine(fake)

	session, err := eng.Initialize(context.Background(), testConfig(), "student-1", "course-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, session.Status)
	require.Len(t, session.Conversation, 1)
	assert.Equal(t, domain.RoleSystem, session.Conversation[0].Role)
	assert.Equal(t, "Welcome to the assessment!", session.Conversation[0].Content)
	assert.Equal(t, 1, session.Version)
}

func TestInitialize_RejectsInvalidConfig(t *testing.T) {
	fake := &llm.FakeProvider{}
	eng, _ := newTestEngine(fake)

	invalid := testConfig()
	invalid.Context.Concepts = nil

	_, err := eng.Initialize(context.Background(), invalid, "student-1", "course-1")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ConfigInvalid))
}

func TestProcessResponse_HappyPathAppendsStudentAndAIMessages(t *testing.T) {
	fake := &llm.FakeProvider{Responses: []string{
		"Welcome!",
		`{"understanding":{"level":"good","confidence":0.9,"conceptsUnderstood":[],"misconceptions":[]},"mastery":{"progress":0.2,"achieved":false},"engagement":{"level":"high","strugglingSignals":[]},"nextQuestion":{"type":"comprehension","targetConcept":"slope-intercept-form","difficultyHint":0.5}}`,
		"Here's your next question.",
	}}
	eng, _ := newTestEngine(fake)
	session, err := eng.Initialize(context.Background(), testConfig(), "student-1", "course-1")
	require.NoError(t, err)

	updated, err := eng.ProcessResponse(context.Background(), session.SessionID, "the slope is the rate of change", 15000)
	require.NoError(t, err)
	assert.Equal(t, 3, len(updated.Conversation))
	assert.Equal(t, domain.RoleStudent, updated.Conversation[1].Role)
	assert.Equal(t, 2, updated.Version)
}

func TestProcessResponse_MaxAttemptsOneTerminatesOnFirstTurnRegardlessOfAnalysis(t *testing.T) {
	analysisJSON := `{"understanding":{"level":"good","confidence":0.7,"conceptsUnderstood":[],"misconceptions":[]},"mastery":{"progress":0.3,"achieved":false},"engagement":{"level":"high","strugglingSignals":[]},"nextQuestion":{"type":"comprehension","targetConcept":"slope-intercept-form","difficultyHint":0.5}}`
	fake := &llm.FakeProvider{Responses: []string{"Welcome!", analysisJSON, "closing message"}}
	eng, st := newTestEngine(fake)

	cfg := testConfig()
	cfg.Settings.MaxAttempts = 1
	session, err := eng.Initialize(context.Background(), cfg, "student-1", "course-1")
	require.NoError(t, err)

	updated, err := eng.ProcessResponse(context.Background(), session.SessionID, "a strong, correct answer", 15000)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusMaxAttempts, updated.Status)

	final, _, loadErr := st.Load(context.Background(), session.SessionID)
	require.NoError(t, loadErr)
	assert.Equal(t, domain.StatusMaxAttempts, final.Status)
	assert.Equal(t, 1, final.Progress.AttemptNumber)
}

func TestProcessResponse_RejectsEmptyText(t *testing.T) {
	fake := &llm.FakeProvider{Responses: []string{"Welcome!"}}
	eng, _ := newTestEngine(fake)
	session, err := eng.Initialize(context.Background(), testConfig(), "student-1", "course-1")
	require.NoError(t, err)

	_, err = eng.ProcessResponse(context.Background(), session.SessionID, "", 1000)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.InvalidStatus))
}

func TestProcessResponse_LazyTimeoutTransitionsSessionWithoutProcessing(t *testing.T) {
	fake := &llm.FakeProvider{Responses: []string{"Welcome!"}}
	eng, st := newTestEngine(fake)
	session, err := eng.Initialize(context.Background(), testConfig(), "student-1", "course-1")
	require.NoError(t, err)

	loaded, version, err := st.Load(context.Background(), session.SessionID)
	require.NoError(t, err)
	past := time.Now().Add(-time.Minute)
	loaded.Timing.TimeoutAt = &past
	loaded.Version = version + 1
	require.NoError(t, st.Commit(context.Background(), loaded, version))

	_, err = eng.ProcessResponse(context.Background(), session.SessionID, "an answer", 1000)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Timeout))

	final, _, err := st.Load(context.Background(), session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusTimeout, final.Status)
}

func TestProcessResponse_IntegrityBlockEndsSessionInError(t *testing.T) {
	fake := &llm.FakeProvider{Responses: []string{"Welcome!"}}
	eng, st := newTestEngine(fake)
	session, err := eng.Initialize(context.Background(), testConfig(), "student-1", "course-1")
	require.NoError(t, err)

	rateLimited := eng.cfg
	for i := 0; i < rateLimited.RateLimitPerMinute+1; i++ {
		_, _ = eng.kv.IncrWindow(context.Background(), "rate:student-1:minute", time.Minute)
	}

	_, err = eng.ProcessResponse(context.Background(), session.SessionID, "an answer to the question", 15000)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.IntegrityBlocked))

	final, _, err := st.Load(context.Background(), session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, final.Status)
}

func TestProcessResponse_ReloadsCurrentVersionBeforeEachTurn(t *testing.T) {
	fake := &llm.FakeProvider{Responses: []string{
		"Welcome!",
		`{"understanding":{"level":"good","confidence":0.9,"conceptsUnderstood":[],"misconceptions":[]},"mastery":{"progress":0.2,"achieved":false},"engagement":{"level":"high","strugglingSignals":[]},"nextQuestion":{"type":"comprehension","targetConcept":"slope-intercept-form","difficultyHint":0.5}}`,
		"question",
	}}
	eng, st := newTestEngine(fake)
	session, err := eng.Initialize(context.Background(), testConfig(), "student-1", "course-1")
	require.NoError(t, err)

	// Simulate an out-of-band commit (e.g. a prior retry) advancing the
	// version between initialize and this turn's own load.
	loaded, version, err := st.Load(context.Background(), session.SessionID)
	require.NoError(t, err)
	loaded.Version = version + 1
	require.NoError(t, st.Commit(context.Background(), loaded, version))

	updated, err := eng.ProcessResponse(context.Background(), session.SessionID, "an answer to this", 15000)
	require.NoError(t, err)
	assert.Equal(t, version+2, updated.Version)
}

func TestRetryLastAI_AppendsNewAIReplyMarkedAsRetry(t *testing.T) {
	analysisJSON := `{"understanding":{"level":"good","confidence":0.9,"conceptsUnderstood":[],"misconceptions":[]},"mastery":{"progress":0.2,"achieved":false},"engagement":{"level":"high","strugglingSignals":[]},"nextQuestion":{"type":"comprehension","targetConcept":"slope-intercept-form","difficultyHint":0.5}}`
	fake := &llm.FakeProvider{Responses: []string{"Welcome!", analysisJSON, "first question", analysisJSON, "retried question"}}
	eng, _ := newTestEngine(fake)
	session, err := eng.Initialize(context.Background(), testConfig(), "student-1", "course-1")
	require.NoError(t, err)

	_, err = eng.ProcessResponse(context.Background(), session.SessionID, "the slope is the rate of change", 15000)
	require.NoError(t, err)

	updated, err := eng.RetryLastAI(context.Background(), session.SessionID)
	require.NoError(t, err)
	last := updated.Conversation[len(updated.Conversation)-1]
	assert.Equal(t, "retried question", last.Content)
	require.NotNil(t, last.Metadata)
	assert.True(t, last.Metadata.Retry)
}

func TestCalculateFinalGrade_HappyPathComputesScoreAndFeedback(t *testing.T) {
	fake := &llm.FakeProvider{Responses: []string{"Welcome!", "You did great overall."}}
	eng, st := newTestEngine(fake)
	session, err := eng.Initialize(context.Background(), testConfig(), "student-1", "course-1")
	require.NoError(t, err)

	loaded, version, err := st.Load(context.Background(), session.SessionID)
	require.NoError(t, err)
	loaded.Status = domain.StatusMasteryAchieved
	loaded.Progress.ConceptsMastered = map[string]bool{"slope-intercept-form": true}
	require.NoError(t, st.Commit(context.Background(), loaded, version))

	grade, err := eng.CalculateFinalGrade(context.Background(), session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "You did great overall.", grade.Feedback)
	assert.Greater(t, grade.NumericScore, 0.0)
	assert.False(t, grade.Passback.Eligible)
	assert.Equal(t, domain.PassbackSkipped, grade.Passback.Status)
}

func TestCalculateFinalGrade_RequiresTerminalStatus(t *testing.T) {
	fake := &llm.FakeProvider{Responses: []string{"Welcome!"}}
	eng, _ := newTestEngine(fake)
	session, err := eng.Initialize(context.Background(), testConfig(), "student-1", "course-1")
	require.NoError(t, err)

	_, err = eng.CalculateFinalGrade(context.Background(), session.SessionID)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.InvalidStatus))
}
