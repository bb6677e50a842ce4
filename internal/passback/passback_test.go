package passback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"atomic-guide-cac/internal/domain"
)

type fakeClient struct {
	mu       sync.Mutex
	failNext int
	sent     []domain.GradePayload
}

func (f *fakeClient) Send(ctx context.Context, payload domain.GradePayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return errors.New("gradebook unavailable")
	}
	f.sent = append(f.sent, payload)
	return nil
}

func TestQueue_DrainDeliversPendingJob(t *testing.T) {
	client := &fakeClient{}
	q := NewQueue(client, 3)
	q.Enqueue(domain.GradePayload{StudentRef: "s1", LineItemRef: "li1"})

	delivered, err := q.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)
	assert.Equal(t, 0, q.Len())
}

func TestQueue_RetriesFailedJobUpToBudgetThenGivesUp(t *testing.T) {
	client := &fakeClient{failNext: 5}
	q := NewQueue(client, 2)
	q.Enqueue(domain.GradePayload{StudentRef: "s1", LineItemRef: "li1"})

	_, err := q.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, q.Len())

	_, err = q.Drain(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, q.Len())
}

func TestQueue_EnqueueReplacesPendingJobForSameSession(t *testing.T) {
	client := &fakeClient{}
	q := NewQueue(client, 3)
	q.Enqueue(domain.GradePayload{StudentRef: "s1", LineItemRef: "li1", ScoreGiven: 10})
	q.Enqueue(domain.GradePayload{StudentRef: "s1", LineItemRef: "li1", ScoreGiven: 90})

	assert.Equal(t, 1, q.Len())
	_, err := q.Drain(context.Background())
	require.NoError(t, err)
	require.Len(t, client.sent, 1)
	assert.Equal(t, 90.0, client.sent[0].ScoreGiven)
}

func TestBuildPayload_MapsCompletedStatusToFullyGraded(t *testing.T) {
	grade := domain.GradeCalculation{NumericScore: 85, ComputedAt: time.Now()}
	payload := BuildPayload(grade, "student-1", "li-1", 100, domain.StatusCompleted)
	assert.Equal(t, domain.ActivityCompleted, payload.ActivityProgress)
	assert.Equal(t, domain.GradingFullyGraded, payload.GradingProgress)
	assert.Equal(t, 85.0, payload.ScoreGiven)
}

func TestBuildPayload_MapsErrorStatusToFailed(t *testing.T) {
	grade := domain.GradeCalculation{NumericScore: 0, ComputedAt: time.Now()}
	payload := BuildPayload(grade, "student-1", "li-1", 100, domain.StatusError)
	assert.Equal(t, domain.ActivitySubmitted, payload.ActivityProgress)
	assert.Equal(t, domain.GradingFailed, payload.GradingProgress)
}
