package engine

import (
	"context"
	"fmt"

	"atomic-guide-cac/internal/analyzer"
	"atomic-guide-cac/internal/domain"
	"atomic-guide-cac/internal/errs"
	"atomic-guide-cac/internal/progression"
)

// RetryLastAI implements §4.1's retryLastAI(sessionId) → Session:
// re-analyzes the last student message, re-runs steps 7-10 against it,
// and appends a new AI reply marked with metadata.retry = true.
func (e *Engine) RetryLastAI(ctx context.Context, sessionID string) (*domain.Session, error) {
	return e.retryLastAI(ctx, sessionID, nil)
}

// RetryLastAIStreaming is RetryLastAI with onChunk wired to the live
// WebSocket sink, mirroring ProcessResponseStreaming.
func (e *Engine) RetryLastAIStreaming(ctx context.Context, sessionID string, onChunk func(string)) (*domain.Session, error) {
	return e.retryLastAI(ctx, sessionID, onChunk)
}

func (e *Engine) retryLastAI(ctx context.Context, sessionID string, onChunk func(string)) (*domain.Session, error) {
	session, version, err := e.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status.Terminal() {
		return nil, errs.New(errs.InvalidStatus, "session already in terminal state: "+string(session.Status))
	}

	assessmentConfig, err := e.catalog.Get(ctx, session.ConfigRef)
	if err != nil {
		return nil, err
	}

	lastStudent, ok := lastStudentMessage(session.Conversation)
	if !ok {
		return nil, errs.New(errs.InvalidStatus, "no student message to retry against")
	}

	now := e.now()
	remaining := remainingConcepts(assessmentConfig.Context.Concepts, session.Progress.ConceptsMastered)
	analysis := e.analyzer.Analyze(ctx, lastStudent.Content, analyzer.Snapshot{
		RecentMessages:       session.Conversation,
		RemainingConcepts:    remaining,
		DifficultySetpoints:  difficultySetpoints(session.Progress.ConceptStates),
		MisconceptionHistory: misconceptionHistory(session.Conversation),
	})

	decision := e.progression.Decide(progression.Input{
		SessionID:       session.SessionID,
		Status:          session.Status,
		TimeoutAt:       session.Timing.TimeoutAt,
		Now:             now,
		AttemptNumber:   session.Progress.AttemptNumber,
		MaxAttempts:     assessmentConfig.Settings.MaxAttempts,
		ConversationLen: len(session.Conversation),
		MasteryAchieved: session.Progress.MasteryAchieved,
		AllowHints:      assessmentConfig.Settings.AllowHints,
		IntegrityAction: domain.ActionAllow,
		Analysis:        analysis,
		Concepts:        conceptViews(assessmentConfig.Context.Concepts, session.Progress.ConceptStates, now),
	})

	if err := e.appendAIReply(ctx, session, decision, analysis, lastStudent.Content, true, onChunk); err != nil {
		return nil, err
	}

	session.Security.SessionToken = e.newID()
	session.Security.LastValidationAt = now
	session.Timing.LastActivityAt = now
	if decision.Terminal {
		session.Status = decision.NextStatus
	} else {
		session.Status = domain.StatusAwaitingResponse
	}

	if err := e.store.Commit(ctx, session, version); err != nil {
		return nil, err
	}
	return session, nil
}

// GetSession implements the read-through path of §4.9: it forces the
// lazy timeout check before returning the envelope. Concurrent callers
// asking for the same sessionID at once collapse into a single
// execution via singleflight, the way the teacher stack fronts a shared
// backing store for hot reads.
func (e *Engine) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	v, err, _ := e.reads.Do(sessionID, func() (interface{}, error) {
		return e.getSession(ctx, sessionID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Session), nil
}

func (e *Engine) getSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	session, version, err := e.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status.Terminal() {
		return session, nil
	}
	now := e.now()
	if session.Timing.TimeoutAt != nil && !session.Timing.TimeoutAt.After(now) {
		session.Status = domain.StatusTimeout
		if err := e.store.Commit(ctx, session, version); err != nil {
			if errs.Is(err, errs.Conflict) {
				// Another turn committed first; its result already
				// reflects the session's true current state.
				fresh, _, loadErr := e.store.Load(ctx, sessionID)
				if loadErr != nil {
					return nil, loadErr
				}
				return fresh, nil
			}
			return nil, fmt.Errorf("engine: committing lazy timeout: %w", err)
		}
	}
	return session, nil
}
