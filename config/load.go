package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment key, e.g. STOCKDESK_CACHE_MAX_ENTRIES.
const EnvPrefix = "STOCKDESK"

// Load merges built-in defaults, the optional file at path (YAML or JSON)
// and the environment, in that order of precedence. An empty path reads
// DefaultPath when that file exists.
func Load(path string) (*Config, error) {
	// Load environment variables from .env file
	_ = godotenv.Load()
	if path == "" {
		if p, err := DefaultPath(); err == nil {
			if _, err := os.Stat(p); err == nil {
				path = p
			}
		}
	}
	return load(path, DefaultConfig())
}

func load(path string, defaults *Config) (*Config, error) {
	v := viper.New()
	registerDefaults(v, "", reflect.ValueOf(defaults).Elem())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.loadLegacyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// registerDefaults walks the struct by mapstructure tag so that every leaf
// key is known to viper and therefore reachable through AutomaticEnv.
func registerDefaults(v *viper.Viper, prefix string, rv reflect.Value) {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		tag := strings.Split(field.Tag.Get("mapstructure"), ",")[0]
		if tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		fv := rv.Field(i)
		if fv.Kind() == reflect.Struct && fv.Type() != durationType {
			registerDefaults(v, key, fv)
			continue
		}
		if fv.Kind() == reflect.Map {
			// typed maps are opaque to viper; hand it a generic map so file
			// entries merge per key instead of replacing the whole map
			generic := make(map[string]any, fv.Len())
			iter := fv.MapRange()
			for iter.Next() {
				generic[iter.Key().String()] = iter.Value().Interface()
			}
			v.SetDefault(key, generic)
			continue
		}
		v.SetDefault(key, fv.Interface())
	}
}

// loadLegacyEnv honours the unprefixed variable names used by .env files.
// They only fill values nothing else has set.
func (c *Config) loadLegacyEnv() {
	fill := func(dst *string, names ...string) {
		if *dst != "" {
			return
		}
		for _, name := range names {
			if val := os.Getenv(name); val != "" {
				*dst = val
				return
			}
		}
	}

	fill(&c.DeepSeekAPIKey, "DEEPSEEK_API_KEY")
	fill(&c.OpenAIAPIKey, "OPENAI_API_KEY")
	fill(&c.FinnhubAPIKey, "FINNHUB_API_KEY")
	fill(&c.AlphaVantageAPIKey, "ALPHA_VANTAGE_API_KEY", "ALPHAVANTAGE_API_KEY")
	fill(&c.MarketDataToken, "MARKETDATA_TOKEN")
	fill(&c.LongportAppKey, "LONGPORT_APP_KEY")
	fill(&c.LongportAppSecret, "LONGPORT_APP_SECRET")
	fill(&c.LongportAccessToken, "LONGPORT_ACCESS_TOKEN")
	fill(&c.RedditClientID, "REDDIT_CLIENT_ID")
	fill(&c.RedditSecret, "REDDIT_SECRET")
}
