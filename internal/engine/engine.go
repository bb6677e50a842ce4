// Package engine implements the ConversationalAssessmentEngine (§4.1):
// the orchestrator that drives one assessment turn through sanitation,
// integrity evaluation, response analysis, mastery tracking, and
// progression, then commits the result under optimistic concurrency
// control. Unlike the packages it composes, Engine is deliberately
// impure — it is the one place session state, the clock, and external
// services meet.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"atomic-guide-cac/internal/analyzer"
	"atomic-guide-cac/internal/catalog"
	"atomic-guide-cac/internal/config"
	"atomic-guide-cac/internal/domain"
	"atomic-guide-cac/internal/errs"
	"atomic-guide-cac/internal/integrity"
	"atomic-guide-cac/internal/kv"
	"atomic-guide-cac/internal/llm"
	"atomic-guide-cac/internal/mastery"
	"atomic-guide-cac/internal/progression"
	"atomic-guide-cac/internal/prompt"
	"atomic-guide-cac/internal/store"
)

// Engine bundles every collaborator a turn needs. It holds no per-session
// state of its own; all of that lives in the Session the Store hands
// back.
type Engine struct {
	cfg *config.Config

	store   store.Store
	catalog catalog.ConfigStore
	kv      kv.KV

	provider llm.Provider

	analyzer    *analyzer.Analyzer
	integrity   *integrity.Evaluator
	mastery     *mastery.Tracker
	progression *progression.Policy

	now   func() time.Time
	newID func() string

	// reads collapses duplicate concurrent reads of the same hot session
	// (GetSession) into a single Store.Load, the way the teacher's stack
	// uses singleflight in front of a shared backing store.
	reads singleflight.Group
}

func New(cfg *config.Config, st store.Store, cat catalog.ConfigStore, kvStore kv.KV, provider llm.Provider) *Engine {
	return &Engine{
		cfg:         cfg,
		store:       st,
		catalog:     cat,
		kv:          kvStore,
		provider:    provider,
		analyzer:    analyzer.New(provider),
		integrity:   integrity.New(cfg),
		mastery:     mastery.New(cfg),
		progression: progression.New(cfg),
		now:         time.Now,
		newID:       func() string { return uuid.NewString() },
	}
}

// Initialize implements §4.1's initialize(config) → Session.
func (e *Engine) Initialize(ctx context.Context, assessmentConfig *domain.AssessmentConfig, studentRef, courseRef string) (*domain.Session, error) {
	if err := domain.ValidateConfig(assessmentConfig); err != nil {
		return nil, errs.Wrap(errs.ConfigInvalid, "invalid assessment config", err)
	}
	if err := e.catalog.Put(ctx, assessmentConfig); err != nil {
		return nil, fmt.Errorf("engine: publishing config: %w", err)
	}

	now := e.now()
	totalSteps := 5 + 2*len(assessmentConfig.Context.Concepts) + 3

	session := &domain.Session{
		SessionID:  e.newID(),
		ConfigRef:  assessmentConfig.ConfigID,
		StudentRef: studentRef,
		CourseRef:  courseRef,
		Status:     domain.StatusCreated,
		Progress: domain.Progress{
			TotalSteps:       totalSteps,
			ConceptsMastered: map[string]bool{},
			ConceptsNeedWork: map[string]bool{},
			ConceptStates:    map[string]*domain.ConceptState{},
		},
		Timing: domain.Timing{
			StartedAt:      now,
			LastActivityAt: now,
		},
		Analytics: domain.Analytics{LearningPatterns: map[string]string{}},
		Security: domain.Security{
			SessionToken:     e.newID(),
			LastValidationAt: now,
		},
	}
	if assessmentConfig.Settings.TimeLimitMinutes > 0 {
		deadline := now.Add(time.Duration(assessmentConfig.Settings.TimeLimitMinutes) * time.Minute)
		session.Timing.TimeoutAt = &deadline
	}

	welcomePrompt := prompt.BuildWelcome(prompt.WelcomeContext{
		AssessmentTitle:    assessmentConfig.AssessmentTitle,
		Concepts:           assessmentConfig.Context.Concepts,
		LearningObjectives: assessmentConfig.Context.LearningObjectives,
	})
	welcomeText, err := e.callLLM(ctx, func(callCtx context.Context) (string, error) {
		return e.provider.Generate(callCtx, welcomePrompt, llm.GenerateOptions{MaxTokens: 300, Temperature: 0.4})
	})
	if err != nil {
		return nil, err
	}

	session.Conversation = append(session.Conversation, domain.Message{
		MessageID:   e.newID(),
		SessionID:   session.SessionID,
		Role:        domain.RoleSystem,
		Content:     welcomeText,
		Timestamp:   now,
		ContentHash: contentHash(welcomeText),
	})
	session.Status = domain.StatusActive

	if err := e.store.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("engine: creating session: %w", err)
	}
	return session, nil
}

// ProcessResponse implements §4.1's processResponse(sessionId, text,
// metadata) → Session, following the ten numbered steps exactly.
func (e *Engine) ProcessResponse(ctx context.Context, sessionID, text string, responseTimeMs int64) (*domain.Session, error) {
	return e.processResponse(ctx, sessionID, text, responseTimeMs, nil)
}

// ProcessResponseStreaming is ProcessResponse with onChunk wired to the
// live WebSocket sink (§4.8, §4.9): if the configured provider supports
// incremental generation, the AI reply's tokens are forwarded to onChunk
// as they arrive, ahead of the final commit.
func (e *Engine) ProcessResponseStreaming(ctx context.Context, sessionID, text string, responseTimeMs int64, onChunk func(string)) (*domain.Session, error) {
	return e.processResponse(ctx, sessionID, text, responseTimeMs, onChunk)
}

func (e *Engine) processResponse(ctx context.Context, sessionID, text string, responseTimeMs int64, onChunk func(string)) (*domain.Session, error) {
	if textLen := len([]rune(text)); textLen < 1 || textLen > maxTextLength {
		return nil, errs.New(errs.InvalidStatus, "response text must be between 1 and 5000 characters")
	}

	// Step 1: load session at version V.
	session, version, err := e.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	assessmentConfig, err := e.catalog.Get(ctx, session.ConfigRef)
	if err != nil {
		return nil, err
	}

	now := e.now()

	if session.Status.Terminal() {
		return nil, errs.New(errs.InvalidStatus, "session already in terminal state: "+string(session.Status))
	}
	if session.Status != domain.StatusActive && session.Status != domain.StatusAwaitingResponse {
		return nil, errs.New(errs.InvalidStatus, "session not awaiting a response: "+string(session.Status))
	}
	if now.Before(session.Timing.LastActivityAt) {
		return nil, errs.New(errs.InvalidTransition, "clock moved backwards since last activity")
	}

	// Lazy timeout check (§4.6): any read past timeoutAt transitions to
	// timeout before the turn's own work begins.
	if session.Timing.TimeoutAt != nil && !session.Timing.TimeoutAt.After(now) {
		session.Status = domain.StatusTimeout
		if commitErr := e.store.Commit(ctx, session, version); commitErr != nil {
			return nil, commitErr
		}
		return nil, errs.New(errs.Timeout, "session timed out")
	}

	session.Status = domain.StatusProcessing

	// Step 2: sanitize.
	clean := sanitize(text)
	if len(clean) == 0 {
		return nil, errs.New(errs.InvalidStatus, "response text empty after sanitization")
	}

	priorStudentMessages := studentMessages(session.Conversation)

	// These three KV round trips are independent of one another, so fan
	// them out with errgroup instead of paying their latency serially.
	var rateMinute, rateHour, activeCount int
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := e.kv.IncrWindow(gctx, "rate:"+session.StudentRef+":minute", time.Minute)
		rateMinute = n
		return err
	})
	g.Go(func() error {
		n, err := e.kv.IncrWindow(gctx, "rate:"+session.StudentRef+":hour", time.Hour)
		rateHour = n
		return err
	})
	g.Go(func() error {
		n, err := e.kv.ActiveSessionCount(gctx, session.StudentRef)
		activeCount = n
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("engine: gathering rate/concurrency signals: %w", err)
	}

	// Step 3: append student message (content hash stored).
	studentMsg := domain.Message{
		MessageID:   e.newID(),
		SessionID:   sessionID,
		Role:        domain.RoleStudent,
		Content:     clean,
		Timestamp:   now,
		Metadata:    &domain.MessageMetadata{ResponseTimeMs: responseTimeMs},
		ContentHash: contentHash(clean),
	}

	// Step 4: integrity evaluation.
	integrityResult := e.integrity.Evaluate(integrity.Input{
		Text:                   clean,
		ResponseTimeMs:         responseTimeMs,
		Now:                    now,
		PriorStudentMessages:   priorStudentMessages,
		RequestCountLastMinute: rateMinute,
		RequestCountLastHour:   rateHour,
		ActiveSessionCount:     activeCount,
		LastValidationAt:       session.Security.LastValidationAt,
		ConversationLength:     len(session.Conversation),
		CurrentStep:            session.Progress.CurrentStep,
		SessionStatus:          session.Status,
	})
	studentMsg.Integrity = &domain.Integrity{Action: integrityResult.Action, RiskScore: integrityResult.RiskScore}
	session.Conversation = append(session.Conversation, studentMsg)
	session.Security.IntegrityChecks = append(session.Security.IntegrityChecks, integrityResult.Checks...)

	if integrityResult.Action == domain.ActionBlock {
		session.Status = domain.StatusError
		if commitErr := e.store.Commit(ctx, session, version); commitErr != nil {
			return nil, commitErr
		}
		return nil, errs.New(errs.IntegrityBlocked, "integrity evaluator recommended block")
	}

	// Step 5: response analysis.
	remaining := remainingConcepts(assessmentConfig.Context.Concepts, session.Progress.ConceptsMastered)
	analysis := e.analyzer.Analyze(ctx, clean, analyzer.Snapshot{
		RecentMessages:       session.Conversation,
		RemainingConcepts:    remaining,
		DifficultySetpoints:  difficultySetpoints(session.Progress.ConceptStates),
		MisconceptionHistory: misconceptionHistory(session.Conversation),
	})
	studentMsg.Metadata.MisconceptionDetected = len(analysis.Understanding.Misconceptions) > 0
	studentMsg.Metadata.ConceptsAddressed = analysis.Understanding.ConceptsUnderstood
	session.Conversation[len(session.Conversation)-1] = studentMsg

	// Step 6: mastery tracking + analytics recompute (part of step 9 too).
	newlyMastered := e.mastery.Apply(&session.Progress, analysis, len(assessmentConfig.Context.Concepts), assessmentConfig.Settings.MasteryThreshold, now)
	overallScore := analysis.Mastery.Progress
	session.Progress.OverallScore = &overallScore
	session.Analytics.EngagementScore = engagementScoreOf(analysis.Engagement.Level)
	session.Analytics.StrugglingIndicators = mergeUnique(session.Analytics.StrugglingIndicators, analysis.Engagement.StrugglingSignals)
	session.Progress.CurrentStep++
	session.Progress.AttemptNumber++

	// Step 7: progression decision.
	decision := e.progression.Decide(progression.Input{
		SessionID:        session.SessionID,
		Status:           session.Status,
		TimeoutAt:        session.Timing.TimeoutAt,
		Now:              now,
		AttemptNumber:    session.Progress.AttemptNumber,
		MaxAttempts:      assessmentConfig.Settings.MaxAttempts,
		ConversationLen:  len(session.Conversation),
		MasteryAchieved:  session.Progress.MasteryAchieved,
		AllowHints:       assessmentConfig.Settings.AllowHints,
		IntegrityAction:  integrityResult.Action,
		Analysis:         analysis,
		NewlyMasteredIDs: newlyMastered,
		Concepts:         conceptViews(assessmentConfig.Context.Concepts, session.Progress.ConceptStates, now),
	})

	// Step 8: AI reply.
	if err := e.appendAIReply(ctx, session, decision, analysis, clean, false, onChunk); err != nil {
		return nil, err
	}

	// Step 9: rotate token, update lastValidationAt (analytics already
	// recomputed above).
	session.Security.SessionToken = e.newID()
	session.Security.LastValidationAt = now
	session.Timing.LastActivityAt = now

	if decision.Terminal {
		session.Status = decision.NextStatus
	} else {
		session.Status = domain.StatusAwaitingResponse
	}

	// Step 10: atomic commit at expected version V.
	if err := e.store.Commit(ctx, session, version); err != nil {
		return nil, err
	}
	return session, nil
}

// appendAIReply builds the prompt for decision.NextRole, calls the LLM,
// and appends the resulting Message. A failure here aborts the turn
// without committing anything (§5): the caller must not have committed
// yet when this returns an error.
func (e *Engine) appendAIReply(ctx context.Context, session *domain.Session, decision progression.Decision, analysis domain.Analysis, studentText string, retry bool, onChunk func(string)) error {
	var text string
	var err error

	var builtPrompt string
	var opts llm.GenerateOptions
	switch decision.NextRole {
	case domain.RoleFeedback:
		builtPrompt = prompt.BuildFeedback(prompt.FeedbackContext{
			Misconception: decision.TargetConcept,
			StudentText:   studentText,
		})
		opts = llm.GenerateOptions{MaxTokens: 300, Temperature: 0.3}
	default:
		role := decision.NextRole
		if role == "" {
			role = domain.RoleQuestion
		}
		builtPrompt = prompt.BuildNextQuestion(prompt.NextQuestionContext{
			TargetConcept:  decision.TargetConcept,
			QuestionType:   analysis.NextQuestion.Type,
			DifficultyHint: difficultyFor(session.Progress.ConceptStates, decision.TargetConcept, analysis.NextQuestion.DifficultyHint),
			Role:           role,
		})
		opts = llm.GenerateOptions{MaxTokens: 300, Temperature: 0.5}
	}

	if streaming, ok := e.provider.(llm.StreamingProvider); ok && onChunk != nil {
		text, err = e.callLLM(ctx, func(callCtx context.Context) (string, error) {
			return streaming.GenerateStream(callCtx, builtPrompt, opts, onChunk)
		})
	} else {
		text, err = e.callLLM(ctx, func(callCtx context.Context) (string, error) {
			return e.provider.Generate(callCtx, builtPrompt, opts)
		})
	}
	if err != nil {
		return err
	}

	role := decision.NextRole
	if role == "" {
		role = domain.RoleQuestion
	}
	session.Conversation = append(session.Conversation, domain.Message{
		MessageID:   e.newID(),
		SessionID:   session.SessionID,
		Role:        role,
		Content:     text,
		Timestamp:   e.now(),
		ContentHash: contentHash(text),
		Metadata:    &domain.MessageMetadata{Retry: retry},
	})
	return nil
}

// callLLM implements §5's per-call budget: each attempt gets its own
// LLMTimeoutSeconds deadline, and a failed attempt is retried up to
// LLMMaxRetries times before the turn gives up with LLMUnavailable.
func (e *Engine) callLLM(ctx context.Context, fn func(callCtx context.Context) (string, error)) (string, error) {
	attempts := e.cfg.LLMMaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, time.Duration(e.cfg.LLMTimeoutSeconds)*time.Second)
		text, err := fn(callCtx)
		cancel()
		if err == nil {
			return text, nil
		}
		lastErr = err
	}
	return "", errs.Wrap(errs.LLMUnavailable, "llm call failed after retries", lastErr)
}
