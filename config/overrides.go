package config

import (
	"fmt"
	"time"
)

// Overrides are per-request settings layered on top of the merged config.
// Nil fields leave the base value untouched.
type Overrides struct {
	MaxDebateRounds *int              `json:"maxDebateRounds,omitempty"`
	MaxRiskRounds   *int              `json:"maxRiskRounds,omitempty"`
	DeepThinkLLM    *string           `json:"deepThinkModel,omitempty"`
	QuickThinkLLM   *string           `json:"quickThinkModel,omitempty"`
	RequestTimeout  *time.Duration    `json:"requestTimeout,omitempty"`
	ToolVendors     map[string]string `json:"toolVendors,omitempty"`
}

// WithOverrides returns a validated copy of c with o applied.
func (c *Config) WithOverrides(o *Overrides) (*Config, error) {
	out := c.Clone()
	if o == nil {
		return out, nil
	}
	if o.MaxDebateRounds != nil {
		out.MaxDebateRounds = *o.MaxDebateRounds
	}
	if o.MaxRiskRounds != nil {
		out.MaxRiskDiscussRounds = *o.MaxRiskRounds
	}
	if o.DeepThinkLLM != nil && *o.DeepThinkLLM != "" {
		out.DeepThinkLLM = *o.DeepThinkLLM
	}
	if o.QuickThinkLLM != nil && *o.QuickThinkLLM != "" {
		out.QuickThinkLLM = *o.QuickThinkLLM
	}
	if o.RequestTimeout != nil {
		out.RequestTimeout = *o.RequestTimeout
	}
	for tool, vendor := range o.ToolVendors {
		out.Vendors.ToolVendors[tool] = vendor
	}
	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("apply overrides: %w", err)
	}
	return out, nil
}
