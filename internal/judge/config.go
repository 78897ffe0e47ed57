// Package judge provides the LLM judge abstraction used by the matchmaking
// pipeline. Each pipeline agent maps to a model tier so cheap classification
// work and expensive reasoning work run on different models.
package judge

// ModelTier represents the capability level of a model
type ModelTier string

const (
	// TierLite is for mechanical tasks: enrichment, batch summarization
	TierLite ModelTier = "lite"
	// TierStandard is for structured scoring work
	TierStandard ModelTier = "standard"
	// TierAdvanced is for planning and critique
	TierAdvanced ModelTier = "advanced"
)

// Agent slugs identify which pipeline role issued a judge call. They are
// recorded on workflow steps and drive tier selection.
const (
	AgentPlanner    = "planner"
	AgentDiscovery  = "discovery"
	AgentMatchmaker = "matchmaker"
	AgentCritic     = "critic"
	AgentSummarizer = "summarizer"
)

// Config holds the judge model configuration
type Config struct {
	Models map[ModelTier]string
	Agents map[string]ModelTier
}

// DefaultConfig returns the default Gemini model layout
func DefaultConfig() *Config {
	return &Config{
		Models: map[ModelTier]string{
			TierLite:     "gemini-2.5-flash-lite",
			TierStandard: "gemini-2.5-flash",
			TierAdvanced: "gemini-2.5-pro",
		},
		Agents: map[string]ModelTier{
			AgentPlanner:    TierAdvanced,
			AgentDiscovery:  TierLite,
			AgentMatchmaker: TierStandard,
			AgentCritic:     TierAdvanced,
			AgentSummarizer: TierLite,
		},
	}
}

// ModelFor returns the model name for an agent slug, falling back through
// standard then lite when the agent or its tier has no mapping
func (c *Config) ModelFor(agent string) string {
	tier, ok := c.Agents[agent]
	if !ok {
		tier = TierStandard
	}
	if model, ok := c.Models[tier]; ok {
		return model
	}
	if model, ok := c.Models[TierStandard]; ok {
		return model
	}
	if model, ok := c.Models[TierLite]; ok {
		return model
	}
	return ""
}

// WithModel returns a copy of the config with one tier's model replaced
func (c *Config) WithModel(tier ModelTier, model string) *Config {
	out := &Config{
		Models: make(map[ModelTier]string, len(c.Models)),
		Agents: make(map[string]ModelTier, len(c.Agents)),
	}
	for k, v := range c.Models {
		out.Models[k] = v
	}
	for k, v := range c.Agents {
		out.Agents[k] = v
	}
	out.Models[tier] = model
	return out
}
