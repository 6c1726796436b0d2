package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

const redactedValue = "***"

// Redacted returns a copy with every credential masked.
func (c *Config) Redacted() *Config {
	out := c.Clone()
	for _, s := range out.secrets() {
		if *s != "" {
			*s = redactedValue
		}
	}
	return out
}

// keepRedacted restores every secret still carrying the redaction mask
// from prev, so a redacted config can be edited and sent back.
func (c *Config) keepRedacted(prev *Config) {
	old := prev.secrets()
	for i, s := range c.secrets() {
		if *s == redactedValue {
			*s = *old[i]
		}
	}
}

func (c *Config) secrets() []*string {
	return []*string{
		&c.LongportAppKey,
		&c.LongportAppSecret,
		&c.LongportAccessToken,
		&c.DeepSeekAPIKey,
		&c.OpenAIAPIKey,
		&c.FinnhubAPIKey,
		&c.AlphaVantageAPIKey,
		&c.MarketDataToken,
		&c.RedditClientID,
		&c.RedditSecret,
		&c.Cache.RedisPass,
	}
}

// DumpYAML renders the redacted config.
func (c *Config) DumpYAML() (string, error) {
	out, err := yaml.Marshal(c.Redacted())
	if err != nil {
		return "", fmt.Errorf("encode config: %w", err)
	}
	return string(out), nil
}
