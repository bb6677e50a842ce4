package domain

// Analysis is the ResponseAnalyzer's structured judgment of one student
// utterance. The analyzer is pure with respect to session state: it
// never mutates anything, it only produces this value.
type Analysis struct {
	Understanding UnderstandingResult `json:"understanding"`
	Mastery       MasteryResult       `json:"mastery"`
	Engagement    EngagementResult    `json:"engagement"`
	NextQuestion  NextQuestion        `json:"nextQuestion"`
}

type UnderstandingResult struct {
	Level               UnderstandingLevel `json:"level"`
	Confidence          float64            `json:"confidence"`
	ConceptsUnderstood   []string           `json:"conceptsUnderstood"`
	Misconceptions      []string           `json:"misconceptions"`
}

type MasteryResult struct {
	Progress float64 `json:"progress"`
	Achieved bool    `json:"achieved"`
}

type EngagementResult struct {
	Level             EngagementLevel `json:"level"`
	StrugglingSignals []string        `json:"strugglingSignals"`
}

type NextQuestion struct {
	Type          QuestionType `json:"type"`
	TargetConcept string       `json:"targetConcept"`
	DifficultyHint float64     `json:"difficultyHint"`
}

// FallbackAnalysis is the deterministic "partial understanding, continue
// on needed concepts" analysis used whenever the LLM's JSON cannot be
// parsed (§4.2).
func FallbackAnalysis(remainingConcepts []string) Analysis {
	target := ""
	if len(remainingConcepts) > 0 {
		target = remainingConcepts[0]
	}
	return Analysis{
		Understanding: UnderstandingResult{
			Level:      UnderstandingPartial,
			Confidence: 0.3,
		},
		Mastery: MasteryResult{Progress: 0, Achieved: false},
		Engagement: EngagementResult{
			Level: EngagementMedium,
		},
		NextQuestion: NextQuestion{
			Type:          QuestionComprehension,
			TargetConcept: target,
			DifficultyHint: 0.5,
		},
	}
}
