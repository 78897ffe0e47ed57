package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pathfinder/matchmaker/internal/db"
	"github.com/pathfinder/matchmaker/internal/judge"
	"github.com/pathfinder/matchmaker/internal/scoring"
)

// invokeJudge calls the judge for one agent and records the step audit row
// with the call's resource usage. The step is recorded failed on error but
// the error is returned for the node to decide whether it is fatal.
func (p *Pipeline) invokeJudge(ctx context.Context, runID uuid.UUID, agent, prompt, node string, sequence int) (string, error) {
	start := time.Now()
	result, err := p.judge.Evaluate(ctx, agent, prompt)
	if err != nil {
		p.recordStep(ctx, runID, &db.StepInput{
			AgentSlug:    agent,
			NodeName:     node,
			Sequence:     sequence,
			Status:       db.StepStatusFailed,
			InputData:    prompt,
			DurationMs:   int(time.Since(start).Milliseconds()),
			ErrorMessage: err.Error(),
		})
		return "", err
	}

	p.recordStep(ctx, runID, &db.StepInput{
		AgentSlug:  agent,
		NodeName:   node,
		Sequence:   sequence,
		Status:     db.StepStatusCompleted,
		InputData:  prompt,
		OutputData: result.Text,
		ModelUsed:  result.Model,
		TokenCount: result.TokenCount,
		DurationMs: int(result.Duration.Milliseconds()),
	})
	return result.Text, nil
}

// runPlan asks the planner for a matching strategy. Planning never fails the
// run: any judge or parse failure falls back to the default full-pass plan.
func (p *Pipeline) runPlan(ctx context.Context, runID uuid.UUID, st *State) error {
	p.emit(ctx, st, Event{Type: "node_start", Node: NodePlan, Message: "Starting planning phase"})
	p.progress(ctx, st, NodePlan, 5, "assessing data state")

	rCount, err := p.store.CountActiveResearchers(ctx)
	if err != nil {
		return fmt.Errorf("plan: %w", err)
	}
	oCount, err := p.store.CountOpenOpportunities(ctx)
	if err != nil {
		return fmt.Errorf("plan: %w", err)
	}

	prompt, err := scoring.BuildPlanPrompt(rCount, oCount, st.ResearcherIDs, st.OpportunityIDs)
	if err != nil {
		return fmt.Errorf("plan: %w", err)
	}

	text, err := p.invokeJudge(ctx, runID, judge.AgentPlanner, prompt, NodePlan, seqPlan)
	if err != nil {
		st.recordError(NodePlan, err)
		st.Plan = scoring.DefaultPlan(rCount, oCount)
	} else {
		st.Plan = scoring.ParsePlan(text, rCount, oCount)
	}

	st.Status = "planning_complete"
	p.emit(ctx, st, Event{Type: "node_end", Node: NodePlan, Message: "Planning complete"})
	return nil
}

// runDiscover loads the researcher and opportunity snapshots the rest of the
// pipeline works from. For small researcher sets the discovery agent expands
// keywords and themes; for large sets enrichment is skipped outright since
// the token cost outweighs the pre-filter lift.
func (p *Pipeline) runDiscover(ctx context.Context, runID uuid.UUID, st *State) error {
	p.emit(ctx, st, Event{Type: "node_start", Node: NodeDiscover, Message: "Starting discovery phase"})
	p.progress(ctx, st, NodeDiscover, 15, "loading profiles")

	researchers, err := p.store.ListResearcherProfiles(ctx, st.ResearcherIDs)
	if err != nil {
		return fmt.Errorf("discover: %w", err)
	}
	opportunities, err := p.store.ListOpportunityProfiles(ctx, st.OpportunityIDs)
	if err != nil {
		return fmt.Errorf("discover: %w", err)
	}

	if len(researchers) <= scoring.EnrichmentLimit {
		prompt, err := scoring.BuildEnrichPrompt(researchers, len(opportunities))
		if err != nil {
			return fmt.Errorf("discover: %w", err)
		}
		text, err := p.invokeJudge(ctx, runID, judge.AgentDiscovery, prompt, NodeDiscover, seqDiscover)
		if err != nil {
			st.recordError(NodeDiscover, err)
		} else {
			scoring.ApplyEnrichments(researchers, text)
		}
	} else {
		reason, _ := json.Marshal(map[string]string{
			"reason": fmt.Sprintf("Batch too large (%d researchers), skipping judge enrichment", len(researchers)),
		})
		p.recordStep(ctx, runID, &db.StepInput{
			AgentSlug: judge.AgentDiscovery,
			NodeName:  NodeDiscover,
			Sequence:  seqDiscover,
			Status:    db.StepStatusSkipped,
			InputData: string(reason),
		})
	}

	st.ResearcherProfiles = researchers
	st.OpportunityProfiles = opportunities
	st.Status = "discovery_complete"
	p.emit(ctx, st, Event{
		Type: "node_end", Node: NodeDiscover,
		Message: fmt.Sprintf("Discovery complete: %d researchers, %d opportunities",
			len(researchers), len(opportunities)),
	})
	return nil
}

// runPreFilter selects candidate pairs by lexical similarity without any
// judge involvement
func (p *Pipeline) runPreFilter(ctx context.Context, runID uuid.UUID, st *State) error {
	p.emit(ctx, st, Event{Type: "node_start", Node: NodePreFilter, Message: "Starting pre-filter"})
	p.progress(ctx, st, NodePreFilter, 25, "computing lexical similarity")
	start := time.Now()

	topN := 20
	if st.Plan != nil && st.Plan.TopNCandidates > 0 {
		topN = st.Plan.TopNCandidates
	}
	st.CandidatePairs = scoring.PreFilter(st.ResearcherProfiles, st.OpportunityProfiles, topN)

	output, _ := json.Marshal(map[string]int{
		"candidate_pairs": len(st.CandidatePairs),
		"top_n":           topN,
	})
	durationMs := int(time.Since(start).Milliseconds())
	p.recordStep(ctx, runID, &db.StepInput{
		AgentSlug:  "none",
		NodeName:   NodePreFilter,
		Sequence:   seqPreFilter,
		Status:     db.StepStatusCompleted,
		OutputData: string(output),
		DurationMs: durationMs,
	})

	st.Status = "pre_filter_complete"
	p.emit(ctx, st, Event{
		Type: "node_end", Node: NodePreFilter,
		Message:    fmt.Sprintf("Pre-filter complete: %d candidate pairs", len(st.CandidatePairs)),
		DurationMs: durationMs,
	})
	return nil
}

// runMatch evaluates candidate pairs in judge batches. Each execution is one
// full evaluation pass and increments the iteration counter by exactly one.
// A batch whose response cannot be parsed contributes zero matches and is
// recorded failed; the pass continues with the remaining batches.
func (p *Pipeline) runMatch(ctx context.Context, runID uuid.UUID, st *State) error {
	iteration := st.Iteration
	p.emit(ctx, st, Event{Type: "node_start", Node: NodeMatch, Message: "Starting match evaluation"})

	batchSize := scoring.EvaluateBatchSize
	if st.Plan != nil && st.Plan.BatchSize > 0 {
		batchSize = st.Plan.BatchSize
	}

	researchers := make(map[int64]*db.ResearcherProfile, len(st.ResearcherProfiles))
	for i := range st.ResearcherProfiles {
		researchers[st.ResearcherProfiles[i].ID] = &st.ResearcherProfiles[i]
	}
	opportunities := make(map[int64]*db.OpportunityProfile, len(st.OpportunityProfiles))
	for i := range st.OpportunityProfiles {
		opportunities[st.OpportunityProfiles[i].ID] = &st.OpportunityProfiles[i]
	}

	totalBatches := scoring.BatchCount(len(st.CandidatePairs), batchSize)
	var matches []scoring.Match
	for b := 0; b < totalBatches; b++ {
		if err := p.checkCancel(ctx, st); err != nil {
			return err
		}
		p.refreshLock(ctx, st)

		lo := b * batchSize
		hi := lo + batchSize
		if hi > len(st.CandidatePairs) {
			hi = len(st.CandidatePairs)
		}
		batch := st.CandidatePairs[lo:hi]

		p.emit(ctx, st, Event{
			Type: "info", Node: NodeMatch, Agent: judge.AgentMatchmaker,
			Message: fmt.Sprintf("Match batch %d/%d (%d pairs)", b+1, totalBatches, len(batch)),
		})
		p.progress(ctx, st, NodeMatch, 25+25*float64(b+1)/float64(totalBatches),
			fmt.Sprintf("batch %d/%d", b+1, totalBatches))

		prompt, err := scoring.BuildEvaluatePrompt(batch, researchers, opportunities, iteration)
		if err != nil {
			return fmt.Errorf("match: %w", err)
		}

		sequence := seqMatch + b + iteration*iterationStride
		text, err := p.invokeJudge(ctx, runID, judge.AgentMatchmaker, prompt, NodeMatch, sequence)
		if err != nil {
			st.recordError(NodeMatch, err)
			continue
		}

		parsed, err := scoring.ParseEvaluations(text)
		if err != nil {
			st.recordError(NodeMatch, err)
			continue
		}
		matches = append(matches, parsed...)
	}

	st.RawMatches = matches
	st.Iteration = iteration + 1
	st.Status = "match_complete"
	p.emit(ctx, st, Event{
		Type: "node_end", Node: NodeMatch,
		Message: fmt.Sprintf("Match complete: %d matches (iteration %d)", len(matches), st.Iteration),
	})
	return nil
}

// runCritique reviews the raw matches in batches and merges the critic's
// feedback. Matches the critic skipped pass through unchanged; no match is
// ever dropped here.
func (p *Pipeline) runCritique(ctx context.Context, runID uuid.UUID, st *State) error {
	p.emit(ctx, st, Event{Type: "node_start", Node: NodeCritique, Message: "Starting critique phase"})
	p.progress(ctx, st, NodeCritique, 70, "reviewing matches")

	if len(st.RawMatches) == 0 {
		st.CritiquedMatches = nil
		st.Status = "critique_complete"
		p.emit(ctx, st, Event{Type: "node_end", Node: NodeCritique, Message: "Critique complete: nothing to review"})
		return nil
	}

	// the matches under review came from the previous match pass
	iteration := st.Iteration - 1

	totalBatches := scoring.BatchCount(len(st.RawMatches), scoring.CritiqueBatchSize)
	var reviews []scoring.Review
	for b := 0; b < totalBatches; b++ {
		if err := p.checkCancel(ctx, st); err != nil {
			return err
		}
		p.refreshLock(ctx, st)

		lo := b * scoring.CritiqueBatchSize
		hi := lo + scoring.CritiqueBatchSize
		if hi > len(st.RawMatches) {
			hi = len(st.RawMatches)
		}
		batch := st.RawMatches[lo:hi]

		p.emit(ctx, st, Event{
			Type: "info", Node: NodeCritique, Agent: judge.AgentCritic,
			Message: fmt.Sprintf("Critique batch %d/%d (%d matches)", b+1, totalBatches, len(batch)),
		})

		prompt, err := scoring.BuildCritiquePrompt(batch)
		if err != nil {
			return fmt.Errorf("critique: %w", err)
		}

		sequence := seqCritique + b + iteration*iterationStride
		text, err := p.invokeJudge(ctx, runID, judge.AgentCritic, prompt, NodeCritique, sequence)
		if err != nil {
			st.recordError(NodeCritique, err)
			continue
		}

		parsed, err := scoring.ParseReviews(text)
		if err != nil {
			st.recordError(NodeCritique, err)
			continue
		}
		reviews = append(reviews, parsed...)
	}

	st.CritiquedMatches = scoring.MergeCritiques(st.RawMatches, reviews)
	st.Status = "critique_complete"

	flagged := int(scoring.FlaggedFraction(st.CritiquedMatches) * float64(len(st.CritiquedMatches)))
	p.emit(ctx, st, Event{
		Type: "node_end", Node: NodeCritique,
		Message: fmt.Sprintf("Critique complete: %d reviewed, %d flagged", len(st.CritiquedMatches), flagged),
	})
	return nil
}

// runSummarize writes short narrative summaries for matches scoring at or
// above the summary threshold; the rest pass through without one
func (p *Pipeline) runSummarize(ctx context.Context, runID uuid.UUID, st *State) error {
	p.emit(ctx, st, Event{Type: "node_start", Node: NodeSummarize, Message: "Starting summarization"})
	p.progress(ctx, st, NodeSummarize, 85, "writing summaries")

	worthy := scoring.SummaryWorthy(st.CritiquedMatches)
	if len(worthy) == 0 {
		st.FinalMatches = st.CritiquedMatches
		st.Status = "summarize_complete"
		p.emit(ctx, st, Event{Type: "node_end", Node: NodeSummarize, Message: "Summarization complete: no matches above threshold"})
		return nil
	}

	totalBatches := scoring.BatchCount(len(worthy), scoring.SummarizeBatchSize)
	var summaries []scoring.PairSummary
	for b := 0; b < totalBatches; b++ {
		if err := p.checkCancel(ctx, st); err != nil {
			return err
		}
		p.refreshLock(ctx, st)

		lo := b * scoring.SummarizeBatchSize
		hi := lo + scoring.SummarizeBatchSize
		if hi > len(worthy) {
			hi = len(worthy)
		}
		batch := worthy[lo:hi]

		p.emit(ctx, st, Event{
			Type: "info", Node: NodeSummarize, Agent: judge.AgentSummarizer,
			Message: fmt.Sprintf("Summary batch %d/%d (%d matches)", b+1, totalBatches, len(batch)),
		})

		prompt, err := scoring.BuildSummarizePrompt(batch)
		if err != nil {
			return fmt.Errorf("summarize: %w", err)
		}

		text, err := p.invokeJudge(ctx, runID, judge.AgentSummarizer, prompt, NodeSummarize, seqSummarize+b)
		if err != nil {
			st.recordError(NodeSummarize, err)
			continue
		}

		parsed, err := scoring.ParseSummaries(text)
		if err != nil {
			st.recordError(NodeSummarize, err)
			continue
		}
		summaries = append(summaries, parsed...)
	}

	st.FinalMatches = scoring.ApplySummaries(st.CritiquedMatches, summaries)
	st.Status = "summarize_complete"
	p.emit(ctx, st, Event{
		Type: "node_end", Node: NodeSummarize,
		Message: fmt.Sprintf("Summarization complete: %d summaries generated", len(summaries)),
	})
	return nil
}

// runPersist upserts the final matches keyed by the (run, researcher,
// opportunity) triple, so a resumed run re-entering this node overwrites its
// own rows. Storage errors here are fatal: a run that cannot persist its
// results has not completed.
func (p *Pipeline) runPersist(ctx context.Context, runID uuid.UUID, st *State) error {
	p.emit(ctx, st, Event{Type: "node_start", Node: NodePersist, Message: "Persisting matches"})
	p.progress(ctx, st, NodePersist, 95, "writing matches")
	start := time.Now()

	persisted := 0
	for _, m := range st.FinalMatches {
		if err := p.store.UpsertMatch(ctx, runID, &db.MatchInput{
			ResearcherID:     m.ResearcherID,
			OpportunityID:    m.OpportunityID,
			OverallScore:     m.OverallScore,
			RelevanceScore:   m.RelevanceScore,
			FeasibilityScore: m.FeasibilityScore,
			ImpactScore:      m.ImpactScore,
			Justification:    m.Justification,
			Critique:         m.Critique,
			Summary:          m.Summary,
			Confidence:       m.Confidence,
		}); err != nil {
			return fmt.Errorf("persist: %w", err)
		}
		persisted++
	}
	st.MatchesPersisted = persisted

	if err := p.coord.InvalidateMatchCaches(ctx); err != nil {
		st.recordError(NodePersist, err)
	}

	output, _ := json.Marshal(map[string]int{"matches_persisted": persisted})
	p.recordStep(ctx, runID, &db.StepInput{
		AgentSlug:  "none",
		NodeName:   NodePersist,
		Sequence:   seqPersist,
		Status:     db.StepStatusCompleted,
		OutputData: string(output),
		DurationMs: int(time.Since(start).Milliseconds()),
	})

	st.Status = "persist_complete"
	p.emit(ctx, st, Event{
		Type: "node_end", Node: NodePersist,
		Message: fmt.Sprintf("Persisted %d matches", persisted),
	})
	return nil
}
