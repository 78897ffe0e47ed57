package scoring

// JSON Schemas for judge output. Validation runs after loose parsing and
// before normalization so one malformed element fails the whole batch
// instead of leaking partial records downstream.

const evaluationSchema = `{
	"type": "array",
	"items": {
		"type": "object",
		"required": ["researcher_id", "opportunity_id"],
		"properties": {
			"researcher_id": {"type": "integer"},
			"opportunity_id": {"type": "integer"},
			"relevance_score": {"type": "number"},
			"feasibility_score": {"type": "number"},
			"impact_score": {"type": "number"},
			"overall_score": {"type": "number"},
			"confidence": {"type": "string"},
			"justification": {"type": "string"}
		}
	}
}`

const reviewSchema = `{
	"type": "array",
	"items": {
		"type": "object",
		"required": ["researcher_id", "opportunity_id"],
		"properties": {
			"researcher_id": {"type": "integer"},
			"opportunity_id": {"type": "integer"},
			"critique": {"type": "string"},
			"flagged": {"type": "boolean"},
			"revision_needed": {"type": "boolean"},
			"adjusted_scores": {
				"type": "object",
				"properties": {
					"relevance_score": {"type": "number"},
					"feasibility_score": {"type": "number"},
					"impact_score": {"type": "number"},
					"overall_score": {"type": "number"}
				}
			}
		}
	}
}`

const summarySchema = `{
	"type": "array",
	"items": {
		"type": "object",
		"required": ["researcher_id", "opportunity_id", "summary"],
		"properties": {
			"researcher_id": {"type": "integer"},
			"opportunity_id": {"type": "integer"},
			"summary": {"type": "string"}
		}
	}
}`
