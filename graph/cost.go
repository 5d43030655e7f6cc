package graph

import (
	"fmt"
	"sync"
	"time"
)

// ModelPricing holds per-million-token pricing for a model.
type ModelPricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

// defaultModelPricing covers the default model for each ChatModel adapter
// this repo wires (graph/model/anthropic, graph/model/openai,
// graph/model/google), plus gpt-4o since it remains in common explicit use
// alongside those defaults. Unlisted models cost zero until a caller
// registers pricing via CostTracker.SetCustomPricing.
var defaultModelPricing = map[string]ModelPricing{
	"claude-sonnet-4-5-20250929": {InputPer1M: 3.00, OutputPer1M: 15.00},
	"gpt-4o":                     {InputPer1M: 2.50, OutputPer1M: 10.00},
	"gemini-2.5-flash":           {InputPer1M: 0.30, OutputPer1M: 2.50},
}

// LLMCall records one priced model invocation.
type LLMCall struct {
	Model        string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Timestamp    time.Time
	NodeID       string
}

// CostTracker accumulates LLM spend across a run. Safe for concurrent use
// by nodes running under ParallelNode.
type CostTracker struct {
	RunID      string
	Currency   string
	Pricing    map[string]ModelPricing
	Calls      []LLMCall
	TotalCost  float64
	ModelCosts map[string]float64

	InputTokens  int
	OutputTokens int

	CreatedAt time.Time

	mu      sync.RWMutex
	enabled bool
}

// NewCostTracker creates a tracker seeded with defaultModelPricing.
func NewCostTracker(runID, currency string) *CostTracker {
	pricing := make(map[string]ModelPricing, len(defaultModelPricing))
	for model, p := range defaultModelPricing {
		pricing[model] = p
	}
	return &CostTracker{
		RunID:      runID,
		Currency:   currency,
		Pricing:    pricing,
		ModelCosts: make(map[string]float64),
		CreatedAt:  time.Now(),
		enabled:    true,
	}
}

// RecordLLMCall prices and records one model call. A model absent from
// Pricing is recorded at zero cost rather than rejected, so an untracked
// model never blocks node execution.
func (c *CostTracker) RecordLLMCall(model string, inputTokens, outputTokens int, nodeID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.enabled {
		return nil
	}

	p := c.Pricing[model]
	cost := (float64(inputTokens)/1_000_000)*p.InputPer1M + (float64(outputTokens)/1_000_000)*p.OutputPer1M

	c.Calls = append(c.Calls, LLMCall{
		Model:        model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CostUSD:      cost,
		Timestamp:    time.Now(),
		NodeID:       nodeID,
	})
	c.TotalCost += cost
	c.ModelCosts[model] += cost
	c.InputTokens += inputTokens
	c.OutputTokens += outputTokens
	return nil
}

// GetTotalCost returns accumulated cost across all recorded calls.
func (c *CostTracker) GetTotalCost() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.TotalCost
}

// GetCostByModel returns a snapshot of cost attributed to each model.
func (c *CostTracker) GetCostByModel() map[string]float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]float64, len(c.ModelCosts))
	for k, v := range c.ModelCosts {
		out[k] = v
	}
	return out
}

// GetCallHistory returns a snapshot of every recorded call, in order.
func (c *CostTracker) GetCallHistory() []LLMCall {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]LLMCall, len(c.Calls))
	copy(out, c.Calls)
	return out
}

// GetTokenUsage returns cumulative (input, output) token counts.
func (c *CostTracker) GetTokenUsage() (inputTokens, outputTokens int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.InputTokens, c.OutputTokens
}

// SetCustomPricing registers or overrides pricing for a model.
func (c *CostTracker) SetCustomPricing(model string, inputPer1M, outputPer1M float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Pricing[model] = ModelPricing{InputPer1M: inputPer1M, OutputPer1M: outputPer1M}
}

// Disable stops further RecordLLMCall calls from accumulating cost.
func (c *CostTracker) Disable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = false
}

// Enable resumes cost accumulation after Disable.
func (c *CostTracker) Enable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = true
}

// Reset clears all recorded calls and totals, keeping Pricing as-is.
func (c *CostTracker) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls = nil
	c.TotalCost = 0
	c.ModelCosts = make(map[string]float64)
	c.InputTokens = 0
	c.OutputTokens = 0
}

func (c *CostTracker) String() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fmt.Sprintf("CostTracker{run=%s, calls=%d, total=%.4f %s}", c.RunID, len(c.Calls), c.TotalCost, c.Currency)
}
