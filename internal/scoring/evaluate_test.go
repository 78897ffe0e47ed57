package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pathfinder/matchmaker/internal/db"
)

func TestBuildEvaluatePrompt(t *testing.T) {
	researchers := map[int64]*db.ResearcherProfile{
		1: {ID: 1, Name: "Dr. Chen", Keywords: []string{"imaging"}, Summary: "Medical imaging research"},
	}
	opportunities := map[int64]*db.OpportunityProfile{
		10: {ID: 10, Title: "AI for Imaging", Synopsis: "Imaging grants", AgencyCode: "NIH"},
	}
	batch := []Pair{{ResearcherID: 1, OpportunityID: 10, TFIDFScore: 0.42}}

	prompt, err := BuildEvaluatePrompt(batch, researchers, opportunities, 0)
	require.NoError(t, err)
	assert.Contains(t, prompt, "Evaluate these 1 researcher-opportunity pairs")
	assert.Contains(t, prompt, "Dr. Chen")
	assert.Contains(t, prompt, "AI for Imaging")
	assert.Contains(t, prompt, "relevance*0.40")
	assert.NotContains(t, prompt, "RE-EVALUATION")
}

func TestBuildEvaluatePromptRevisionIteration(t *testing.T) {
	prompt, err := BuildEvaluatePrompt([]Pair{{ResearcherID: 1, OpportunityID: 10}}, nil, nil, 1)
	require.NoError(t, err)
	assert.Contains(t, prompt, "RE-EVALUATION after critic feedback")
	assert.Contains(t, prompt, "Unknown", "missing profiles fall back to placeholder names")
}

func TestParseEvaluationsRecomputesComposite(t *testing.T) {
	// judge-reported overall of 99 must be ignored
	text := `[{"researcher_id": 1, "opportunity_id": 10,
		"relevance_score": 80, "feasibility_score": 60, "impact_score": 40,
		"overall_score": 99, "confidence": "high", "justification": "strong overlap"}]`

	matches, err := ParseEvaluations(text)
	require.NoError(t, err)
	require.Len(t, matches, 1)

	m := matches[0]
	assert.InDelta(t, 80*0.40+60*0.35+40*0.25, m.OverallScore, 1e-9)
	assert.Equal(t, "high", m.Confidence)
	assert.Equal(t, "strong overlap", m.Justification)
}

func TestParseEvaluationsClampsScores(t *testing.T) {
	text := `[{"researcher_id": 1, "opportunity_id": 10,
		"relevance_score": 150, "feasibility_score": -20, "impact_score": 50}]`

	matches, err := ParseEvaluations(text)
	require.NoError(t, err)
	require.Len(t, matches, 1)

	m := matches[0]
	assert.Equal(t, 100.0, m.RelevanceScore)
	assert.Equal(t, 0.0, m.FeasibilityScore)
	assert.InDelta(t, 100*0.40+0*0.35+50*0.25, m.OverallScore, 1e-9)
	assert.Equal(t, "medium", m.Confidence, "missing confidence defaults to medium")
}

func TestParseEvaluationsEnvelopeObject(t *testing.T) {
	text := `{"matches": [{"researcher_id": 1, "opportunity_id": 10, "relevance_score": 70}]}`
	matches, err := ParseEvaluations(text)
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestParseEvaluationsFencedResponse(t *testing.T) {
	text := "```json\n[{\"researcher_id\": 1, \"opportunity_id\": 10, \"relevance_score\": 70}]\n```"
	matches, err := ParseEvaluations(text)
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestParseEvaluationsRejectsGarbage(t *testing.T) {
	for name, text := range map[string]string{
		"prose":          "I cannot evaluate these pairs.",
		"missing ids":    `[{"relevance_score": 70}]`,
		"string id":      `[{"researcher_id": "one", "opportunity_id": 10}]`,
		"object no list": `{"note": "done"}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseEvaluations(text)
			assert.Error(t, err)
		})
	}
}

func TestBatchCount(t *testing.T) {
	assert.Equal(t, 0, BatchCount(0, 10))
	assert.Equal(t, 1, BatchCount(10, 10))
	assert.Equal(t, 2, BatchCount(11, 10))
	assert.Equal(t, 5, BatchCount(50, 10))
}
