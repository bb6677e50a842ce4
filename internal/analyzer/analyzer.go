// Package analyzer implements the ResponseAnalyzer (§4.2): a pure
// function, with respect to session state, from one student utterance
// plus a bounded session snapshot to a structured Analysis. It never
// mutates anything it is given.
package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"atomic-guide-cac/internal/domain"
	"atomic-guide-cac/internal/llm"
)

const snapshotWindow = 10

// Snapshot is the bounded session context the analyzer reasons over —
// the last N messages, the concepts still needing work, the per-concept
// difficulty setpoint, and the running misconception history. It is a
// read-only view; the analyzer never receives the full Session.
type Snapshot struct {
	RecentMessages       []domain.Message
	RemainingConcepts    []string
	DifficultySetpoints  map[string]float64
	MisconceptionHistory []string
}

// Analyzer runs one LLM call per turn to produce an Analysis, and falls
// back to a deterministic judgment if the model's response can't be
// parsed as the expected schema.
type Analyzer struct {
	provider llm.Provider
}

func New(provider llm.Provider) *Analyzer {
	return &Analyzer{provider: provider}
}

// Analyze is pure over (text, snapshot): given the same inputs it is
// deterministic up to the LLM's own non-determinism, which is why a
// parse failure always falls back to the same deterministic judgment
// rather than propagating an ambiguous error.
func (a *Analyzer) Analyze(ctx context.Context, text string, snap Snapshot) domain.Analysis {
	prompt := buildPrompt(text, snap)

	raw, err := a.provider.Generate(ctx, prompt, llm.GenerateOptions{MaxTokens: 700, Temperature: 0.2})
	if err != nil {
		return domain.FallbackAnalysis(snap.RemainingConcepts)
	}

	analysis, ok := parse(raw)
	if !ok {
		return domain.FallbackAnalysis(snap.RemainingConcepts)
	}
	return analysis
}

func buildPrompt(text string, snap Snapshot) string {
	var sb strings.Builder
	sb.WriteString("You are grading one student utterance in a tutoring dialogue. ")
	sb.WriteString("Respond with ONLY a JSON object matching this schema: ")
	sb.WriteString(`{"understanding":{"level":"none|partial|good|excellent","confidence":0-1,"conceptsUnderstood":[...],"misconceptions":[...]},`)
	sb.WriteString(`"mastery":{"progress":0-1,"achieved":bool},`)
	sb.WriteString(`"engagement":{"level":"low|medium|high","strugglingSignals":[...]},`)
	sb.WriteString(`"nextQuestion":{"type":"comprehension|application|analysis|reflection|mastery_check","targetConcept":"...","difficultyHint":0-1}}`)
	sb.WriteString("\n\nRemaining concepts: ")
	sb.WriteString(strings.Join(snap.RemainingConcepts, ", "))
	sb.WriteString("\nPrior misconceptions: ")
	sb.WriteString(strings.Join(snap.MisconceptionHistory, ", "))
	sb.WriteString("\nRecent conversation:\n")
	recent := snap.RecentMessages
	if len(recent) > snapshotWindow {
		recent = recent[len(recent)-snapshotWindow:]
	}
	for _, m := range recent {
		fmt.Fprintf(&sb, "[%s] %s\n", m.Role, m.Content)
	}
	sb.WriteString("\nStudent's new utterance:\n")
	sb.WriteString(text)
	return sb.String()
}

// parse tolerates the model wrapping its JSON in prose or code fences by
// extracting the outermost {...} span before unmarshaling.
func parse(raw string) (domain.Analysis, bool) {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end < start {
		return domain.Analysis{}, false
	}
	var a domain.Analysis
	if err := json.Unmarshal([]byte(raw[start:end+1]), &a); err != nil {
		return domain.Analysis{}, false
	}
	if a.Understanding.Level == "" || a.Engagement.Level == "" {
		return domain.Analysis{}, false
	}
	return a, true
}
