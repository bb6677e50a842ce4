// Package progression implements ProgressionPolicy (§4.4): a pure
// decision function over (session, analysis) that chooses the next
// terminal status or message role. The only randomness it ever performs
// is a tie-break among equally-eligible concepts, and that tie-break is
// seeded deterministically by sessionId so tests are reproducible.
package progression

import (
	"hash/fnv"
	"time"

	"atomic-guide-cac/internal/config"
	"atomic-guide-cac/internal/domain"
)

// Input bundles everything the policy needs to decide one turn.
type Input struct {
	SessionID         string
	Status            domain.SessionStatus
	TimeoutAt         *time.Time
	Now               time.Time
	AttemptNumber     int
	MaxAttempts       int
	ConversationLen   int
	MasteryAchieved   bool
	AllowHints        bool
	IntegrityAction   domain.IntegrityAction
	Analysis          domain.Analysis
	NewlyMasteredIDs  []string
	Concepts          []ConceptView
}

// ConceptView is the minimal per-concept state the policy needs to pick
// a target: its lifecycle status and its predicted retention.
type ConceptView struct {
	ConceptID          string
	Status             domain.ConceptStatus
	PredictedRetention float64
}

// Decision is the policy's output for one turn.
type Decision struct {
	NextStatus    domain.SessionStatus // zero value means "stay non-terminal"
	Terminal      bool
	NextRole      domain.MessageRole
	TargetConcept string
}

type Policy struct {
	cfg *config.Config
}

func New(cfg *config.Config) *Policy {
	return &Policy{cfg: cfg}
}

func (p *Policy) Decide(in Input) Decision {
	if in.IntegrityAction == domain.ActionBlock {
		return Decision{Terminal: true, NextStatus: domain.StatusError}
	}
	if in.TimeoutAt != nil && !in.TimeoutAt.After(in.Now) {
		return Decision{Terminal: true, NextStatus: domain.StatusTimeout}
	}
	if in.MasteryAchieved && in.Analysis.Mastery.Achieved {
		return Decision{Terminal: true, NextStatus: domain.StatusMasteryAchieved}
	}
	if in.AttemptNumber >= in.MaxAttempts {
		return Decision{Terminal: true, NextStatus: domain.StatusMaxAttempts}
	}
	if in.ConversationLen >= p.cfg.MaxTurns {
		return Decision{Terminal: true, NextStatus: domain.StatusCompleted}
	}

	if len(in.Analysis.Understanding.Misconceptions) > 0 {
		return Decision{NextRole: domain.RoleFeedback, TargetConcept: in.Analysis.Understanding.Misconceptions[0]}
	}

	weak := in.Analysis.Understanding.Level == domain.UnderstandingNone || in.Analysis.Understanding.Level == domain.UnderstandingPartial
	if weak && in.AllowHints {
		target := in.Analysis.NextQuestion.TargetConcept
		if target == "" {
			target = p.pickTarget(in)
		}
		return Decision{NextRole: domain.RoleHint, TargetConcept: target}
	}

	if in.Analysis.NextQuestion.Type == domain.QuestionMasteryCheck && len(in.NewlyMasteredIDs) > 0 {
		return Decision{NextRole: domain.RoleMasteryCheck, TargetConcept: in.Analysis.NextQuestion.TargetConcept}
	}

	if allProbedAtLeastOnce(in.Concepts) {
		return Decision{NextRole: domain.RoleMasteryCheck, TargetConcept: p.pickTarget(in)}
	}

	return Decision{NextRole: domain.RoleQuestion, TargetConcept: p.pickTarget(in)}
}

func allProbedAtLeastOnce(concepts []ConceptView) bool {
	if len(concepts) == 0 {
		return false
	}
	for _, c := range concepts {
		if c.Status == domain.ConceptUnseen {
			return false
		}
	}
	return true
}

// priority ranks concept lifecycle status: unseen beats probed beats
// partial (mastered concepts are only candidates for re-probing, handled
// separately by the caller via MasteryTracker.ShouldReprobe).
func priority(status domain.ConceptStatus) int {
	switch status {
	case domain.ConceptUnseen:
		return 0
	case domain.ConceptProbed:
		return 1
	case domain.ConceptPartial:
		return 2
	default:
		return 3
	}
}

// pickTarget selects the highest-priority concept (unseen > probed >
// partial), tie-broken by lowest predicted retention, and ties within
// that broken by a hash of sessionId + conceptId so the choice is
// reproducible across runs with identical inputs.
func (p *Policy) pickTarget(in Input) string {
	if len(in.Concepts) == 0 {
		return ""
	}
	best := in.Concepts[0]
	bestPrio := priority(best.Status)
	for _, c := range in.Concepts[1:] {
		prio := priority(c.Status)
		switch {
		case prio < bestPrio:
			best, bestPrio = c, prio
		case prio == bestPrio:
			if c.PredictedRetention < best.PredictedRetention {
				best = c
			} else if c.PredictedRetention == best.PredictedRetention {
				if seededLess(in.SessionID, c.ConceptID, best.ConceptID) {
					best = c
				}
			}
		}
	}
	return best.ConceptID
}

// seededLess deterministically orders two concept ids for a given
// session, used only to break exact ties.
func seededLess(sessionID, a, b string) bool {
	return hashOf(sessionID+"|"+a) < hashOf(sessionID+"|"+b)
}

func hashOf(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
