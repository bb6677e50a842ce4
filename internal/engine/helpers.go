package engine

import (
	"time"

	"atomic-guide-cac/internal/domain"
	"atomic-guide-cac/internal/progression"
)

func studentMessages(conversation []domain.Message) []string {
	var out []string
	for _, m := range conversation {
		if m.Role == domain.RoleStudent {
			out = append(out, m.Content)
		}
	}
	return out
}

func lastStudentMessage(conversation []domain.Message) (domain.Message, bool) {
	for i := len(conversation) - 1; i >= 0; i-- {
		if conversation[i].Role == domain.RoleStudent {
			return conversation[i], true
		}
	}
	return domain.Message{}, false
}

func countStudentMessages(conversation []domain.Message) int {
	n := 0
	for _, m := range conversation {
		if m.Role == domain.RoleStudent {
			n++
		}
	}
	return n
}

func remainingConcepts(concepts []string, mastered map[string]bool) []string {
	var out []string
	for _, c := range concepts {
		if !mastered[c] {
			out = append(out, c)
		}
	}
	return out
}

func difficultySetpoints(states map[string]*domain.ConceptState) map[string]float64 {
	out := make(map[string]float64, len(states))
	for id, cs := range states {
		out[id] = cs.DifficultySetpoint
	}
	return out
}

func difficultyFor(states map[string]*domain.ConceptState, conceptID string, fallback float64) float64 {
	if cs, ok := states[conceptID]; ok {
		return cs.DifficultySetpoint
	}
	return fallback
}

func misconceptionHistory(conversation []domain.Message) []string {
	var out []string
	for _, m := range conversation {
		if m.Metadata != nil && m.Metadata.MisconceptionDetected {
			out = append(out, m.Content)
		}
	}
	return out
}

func conceptViews(concepts []string, states map[string]*domain.ConceptState, now time.Time) []progression.ConceptView {
	out := make([]progression.ConceptView, 0, len(concepts))
	for _, id := range concepts {
		cs, ok := states[id]
		if !ok {
			out = append(out, progression.ConceptView{ConceptID: id, Status: domain.ConceptUnseen, PredictedRetention: 0})
			continue
		}
		out = append(out, progression.ConceptView{
			ConceptID:          id,
			Status:             cs.Status,
			PredictedRetention: cs.PredictedRetention(now),
		})
	}
	return out
}

func engagementScoreOf(level domain.EngagementLevel) float64 {
	switch level {
	case domain.EngagementHigh:
		return 0.9
	case domain.EngagementMedium:
		return 0.6
	default:
		return 0.3
	}
}

func mergeUnique(existing, incoming []string) []string {
	seen := make(map[string]struct{}, len(existing))
	out := append([]string(nil), existing...)
	for _, s := range existing {
		seen[s] = struct{}{}
	}
	for _, s := range incoming {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

func setKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
