// Package passback implements the supplemental grade-passback retry
// queue: emitting a GradePayload to an external gradebook client is
// outside the engine's scope (§4.1), but the core still owns retrying a
// failed emission up to a bounded budget before marking it failed.
package passback

import (
	"container/list"
	"context"
	"fmt"
	"sync"

	"atomic-guide-cac/internal/domain"
)

// Client delivers one GradePayload to the external gradebook. A real
// implementation wraps an LTI AGS or similar transport; the core only
// depends on this narrow interface.
type Client interface {
	Send(ctx context.Context, payload domain.GradePayload) error
}

type job struct {
	payload domain.GradePayload
	status  domain.PassbackStatus
	retries int
}

// Queue delivers passback emissions, giving a job up and marking it
// PassbackFailed once maxRetries delivery attempts have failed.
type Queue struct {
	mu         sync.Mutex
	client     Client
	maxRetries int
	jobs       *list.List
	bySession  map[string]*list.Element
}

func NewQueue(client Client, maxRetries int) *Queue {
	return &Queue{
		client:     client,
		maxRetries: maxRetries,
		jobs:       list.New(),
		bySession:  map[string]*list.Element{},
	}
}

// Enqueue submits a payload for delivery, replacing any pending job for
// the same session (a later grade recalculation supersedes an earlier
// one still in the queue).
func (q *Queue) Enqueue(payload domain.GradePayload) {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := payload.LineItemRef + "|" + payload.StudentRef
	if el, ok := q.bySession[key]; ok {
		q.jobs.Remove(el)
	}
	el := q.jobs.PushBack(&job{payload: payload, status: domain.PassbackPending})
	q.bySession[key] = el
}

// Drain attempts delivery of every pending job once. Jobs that fail and
// still have retry budget remain queued; jobs that exhaust their budget
// are marked PassbackFailed and removed. Returns the number of jobs
// successfully delivered.
func (q *Queue) Drain(ctx context.Context) (int, error) {
	q.mu.Lock()
	pending := make([]*list.Element, 0, q.jobs.Len())
	for el := q.jobs.Front(); el != nil; el = el.Next() {
		pending = append(pending, el)
	}
	q.mu.Unlock()

	delivered := 0
	var firstErr error
	for _, el := range pending {
		j := el.Value.(*job)
		err := q.client.Send(ctx, j.payload)

		q.mu.Lock()
		if err == nil {
			j.status = domain.PassbackAcked
			q.jobs.Remove(el)
			delete(q.bySession, j.payload.LineItemRef+"|"+j.payload.StudentRef)
			delivered++
		} else {
			j.retries++
			if j.retries >= q.maxRetries {
				j.status = domain.PassbackFailed
				q.jobs.Remove(el)
				delete(q.bySession, j.payload.LineItemRef+"|"+j.payload.StudentRef)
				if firstErr == nil {
					firstErr = fmt.Errorf("passback: giving up on %s after %d retries: %w", j.payload.StudentRef, j.retries, err)
				}
			}
		}
		q.mu.Unlock()
	}
	return delivered, firstErr
}

// Len reports the number of jobs still pending delivery.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.jobs.Len()
}

// BuildPayload derives the GradePayload from a terminal GradeCalculation
// (§6), mapping the session's terminal status to the LTI-style progress
// enums.
func BuildPayload(grade domain.GradeCalculation, studentRef, lineItemRef string, pointsPossible float64, terminalStatus domain.SessionStatus) domain.GradePayload {
	activity := domain.ActivityCompleted
	grading := domain.GradingFullyGraded
	if terminalStatus == domain.StatusError {
		activity = domain.ActivitySubmitted
		grading = domain.GradingFailed
	}
	return domain.GradePayload{
		StudentRef:       studentRef,
		LineItemRef:      lineItemRef,
		ScoreGiven:       grade.NumericScore,
		ScoreMaximum:     pointsPossible,
		ActivityProgress: activity,
		GradingProgress:  grading,
		Timestamp:        grade.ComputedAt,
	}
}
