// Package integrity implements the IntegrityEvaluator (§4.5): a pure
// scoring function over one utterance plus externally-gathered counters.
// Rate-limit and concurrency counts are gathered by the caller (via the
// KV store) and passed in, keeping this evaluator pure over its inputs —
// it never talks to Redis or the audit log itself.
package integrity

import (
	"strings"
	"time"

	"atomic-guide-cac/internal/config"
	"atomic-guide-cac/internal/domain"
)

// Input bundles everything one evaluation needs.
type Input struct {
	Text           string
	ResponseTimeMs int64
	Now            time.Time

	PriorStudentMessages []string // this session's earlier student utterances, for similarity

	RequestCountLastMinute int
	RequestCountLastHour   int
	ActiveSessionCount     int

	LastValidationAt   time.Time
	ConversationLength int
	CurrentStep        int
	SessionStatus      domain.SessionStatus
}

// Result is the evaluator's verdict for one utterance.
type Result struct {
	RiskScore float64
	Action    domain.IntegrityAction
	Checks    []domain.IntegrityCheck
}

type Evaluator struct {
	cfg *config.Config
}

func New(cfg *config.Config) *Evaluator {
	return &Evaluator{cfg: cfg}
}

var boilerplatePatterns = []string{
	"as an ai",
	"i don't have personal experiences",
	"i do not have personal experiences",
	"as a language model",
	"i'm just an ai",
	"i am just an ai",
	"as an ai language model",
}

func (e *Evaluator) Evaluate(in Input) Result {
	var checks []domain.IntegrityCheck
	var violations int
	var highSeverity bool
	risk := 0.0

	// Temporal: typing speed.
	cpm := charsPerMinute(in.Text, in.ResponseTimeMs)
	temporalScore := 0.0
	if cpm > e.cfg.TypingExcessiveCPM {
		temporalScore = 0.8
		violations++
		checks = append(checks, domain.IntegrityCheck{
			Timestamp: in.Now, Type: domain.CheckTiming, Verdict: domain.VerdictWarn,
			RiskScore: temporalScore,
			Evidence:  map[string]any{"cpm": cpm, "flag": "excessive"},
		})
	} else if cpm < e.cfg.TypingSlowCPM && cpm > 0 {
		temporalScore = 0.3
		checks = append(checks, domain.IntegrityCheck{
			Timestamp: in.Now, Type: domain.CheckTiming, Verdict: domain.VerdictWarn,
			RiskScore: temporalScore,
			Evidence:  map[string]any{"cpm": cpm, "flag": "slow"},
		})
	}
	risk = maxF(risk, temporalScore)

	// Similarity: max Jaccard against prior student messages this session.
	maxSim := maxJaccard(in.Text, in.PriorStudentMessages)
	if maxSim > e.cfg.SimilarityFlagThreshold {
		violations++
		checks = append(checks, domain.IntegrityCheck{
			Timestamp: in.Now, Type: domain.CheckResponseAuthenticity, Verdict: domain.VerdictWarn,
			RiskScore: maxSim,
			Evidence:  map[string]any{"maxJaccard": maxSim},
		})
	}
	risk = maxF(risk, maxSim)

	// AI-generation heuristic.
	aiScore, aiVerdict := aiGenerationScore(in.Text)
	if aiVerdict != domain.VerdictPass {
		if aiVerdict == domain.VerdictFail {
			highSeverity = true
		}
		violations++
		checks = append(checks, domain.IntegrityCheck{
			Timestamp: in.Now, Type: domain.CheckResponseAuthenticity, Verdict: aiVerdict,
			RiskScore: aiScore,
			Evidence:  map[string]any{"boilerplate": true},
		})
	}
	risk = maxF(risk, aiScore)

	// Rate limit.
	if in.RequestCountLastMinute > e.cfg.RateLimitPerMinute || in.RequestCountLastHour > e.cfg.RateLimitPerHour {
		violations++
		highSeverity = true
		checks = append(checks, domain.IntegrityCheck{
			Timestamp: in.Now, Type: domain.CheckRateLimit, Verdict: domain.VerdictFail,
			RiskScore: 0.9,
			Evidence:  map[string]any{"perMinute": in.RequestCountLastMinute, "perHour": in.RequestCountLastHour},
		})
		risk = maxF(risk, 0.9)
	}

	// Concurrency.
	if in.ActiveSessionCount > e.cfg.MaxConcurrentSessions {
		violations++
		highSeverity = true
		checks = append(checks, domain.IntegrityCheck{
			Timestamp: in.Now, Type: domain.CheckConcurrency, Verdict: domain.VerdictFail,
			RiskScore: 0.9,
			Evidence:  map[string]any{"activeSessions": in.ActiveSessionCount},
		})
		risk = maxF(risk, 0.9)
	}

	// Tampering.
	staleValidation := !in.LastValidationAt.IsZero() && in.Now.Sub(in.LastValidationAt) > time.Duration(e.cfg.TamperValidationStaleMinutes*float64(time.Minute))
	emptyConvoActive := in.SessionStatus == domain.StatusActive && in.ConversationLength == 0
	stepRatio := 0.0
	if in.ConversationLength > 0 {
		stepRatio = float64(in.CurrentStep) / float64(in.ConversationLength)
	}
	if staleValidation || emptyConvoActive || stepRatio > 2 {
		violations++
		checks = append(checks, domain.IntegrityCheck{
			Timestamp: in.Now, Type: domain.CheckTampering, Verdict: domain.VerdictWarn,
			RiskScore: 0.6,
			Evidence: map[string]any{
				"staleValidation": staleValidation, "emptyConvoActive": emptyConvoActive, "stepRatio": stepRatio,
			},
		})
		risk = maxF(risk, 0.6)
	}

	action := recommend(risk, violations, highSeverity)
	return Result{RiskScore: clamp01(risk), Action: action, Checks: checks}
}

func recommend(risk float64, violations int, highSeverity bool) domain.IntegrityAction {
	switch {
	case highSeverity || risk > 0.8:
		return domain.ActionBlock
	case risk > 0.5 || violations >= 3:
		return domain.ActionFlag
	case risk > 0.3 || violations >= 1:
		return domain.ActionWarn
	default:
		return domain.ActionAllow
	}
}

func charsPerMinute(text string, responseTimeMs int64) float64 {
	if responseTimeMs <= 0 {
		return 0
	}
	minutes := float64(responseTimeMs) / 60000.0
	if minutes <= 0 {
		return 0
	}
	return float64(len([]rune(text))) / minutes
}

func aiGenerationScore(text string) (float64, domain.Verdict) {
	lower := strings.ToLower(text)
	hits := 0
	for _, p := range boilerplatePatterns {
		if strings.Contains(lower, p) {
			hits++
		}
	}
	score := float64(hits) * 0.4

	sentences := strings.FieldsFunc(text, func(r rune) bool { return r == '.' || r == '!' || r == '?' })
	structural := 0.0
	if len(sentences) >= 4 && len(text) > 200 {
		structural = 0.3
	}
	score += structural
	score = clamp01(score)

	switch {
	case hits > 0 && score >= 0.7:
		return score, domain.VerdictFail
	case hits > 0 || structural > 0:
		return score, domain.VerdictWarn
	default:
		return score, domain.VerdictPass
	}
}

func maxJaccard(text string, prior []string) float64 {
	current := tokenSet(text)
	if len(current) == 0 {
		return 0
	}
	best := 0.0
	for _, p := range prior {
		other := tokenSet(p)
		sim := jaccard(current, other)
		if sim > best {
			best = sim
		}
	}
	return best
}

func tokenSet(s string) map[string]struct{} {
	words := strings.Fields(strings.ToLower(s))
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
