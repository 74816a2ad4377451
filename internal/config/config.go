package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultTimezone = "UTC"
	configPathEnv   = "HIRESCOUT_CONFIG"
	databaseDSNEnv  = "DATABASE_DSN"
	agentBaseURLEnv = "AGENT_BASE_URL"
	prefsBaseURLEnv = "PREFS_BASE_URL"
	httpAddrEnv     = "HTTP_ADDR"
	storageDriver   = "STORAGE_DRIVER"
	logLevelEnv     = "LOG_LEVEL"
)

// Duration wraps time.Duration for YAML values like "45s" or "3m".
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config holds high-level settings required across the application.
type Config struct {
	Logging   LoggingConfig   `yaml:"logging"`
	HTTP      HTTPConfig      `yaml:"http"`
	Storage   StorageConfig   `yaml:"storage"`
	Agent     AgentConfig     `yaml:"agent"`
	Prefs     PrefsConfig     `yaml:"prefs"`
	Runner    RunnerConfig    `yaml:"runner"`
	Extractor ExtractorConfig `yaml:"extractor"`
	Scoring   ScoringConfig   `yaml:"scoring"`
	Quota     QuotaConfig     `yaml:"quota"`
}

// LoggingConfig selects slog verbosity.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// HTTPConfig describes the served API boundary.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// StorageConfig selects a repository backend.
type StorageConfig struct {
	// Driver is one of "memory", "sqlite", "postgres".
	Driver     string `yaml:"driver"`
	DSN        string `yaml:"dsn"`
	SQLitePath string `yaml:"sqlitePath"`
}

// AgentConfig wires the browser automation agent endpoint.
type AgentConfig struct {
	BaseURL           string   `yaml:"baseUrl"`
	DirectiveTimeout  Duration `yaml:"directiveTimeout"`
	ReadyPollInterval Duration `yaml:"readyPollInterval"`
}

// PrefsConfig wires the recipient preference store endpoint.
type PrefsConfig struct {
	BaseURL string `yaml:"baseUrl"`
}

// RunnerConfig drives the session controller's timer bundle.
type RunnerConfig struct {
	ScrollIntervalMin   Duration `yaml:"scrollIntervalMin"`
	ScrollIntervalMax   Duration `yaml:"scrollIntervalMax"`
	SettleDelayMin      Duration `yaml:"settleDelayMin"`
	SettleDelayMax      Duration `yaml:"settleDelayMax"`
	RescrapeInterval    Duration `yaml:"rescrapeInterval"`
	KeepAliveInterval   Duration `yaml:"keepAliveInterval"`
	WatchdogInterval    Duration `yaml:"watchdogInterval"`
	InactivityThreshold Duration `yaml:"inactivityThreshold"`
	MaxRuntime          Duration `yaml:"maxRuntime"`
	ReadyTimeout        Duration `yaml:"readyTimeout"`
	MaxIngestedPerRun   int      `yaml:"maxIngestedPerRun"`
	SearchURLTemplate   string   `yaml:"searchUrlTemplate"`
	DefaultKeywords     string   `yaml:"defaultKeywords"`
}

// SelectorGroupConfig is an ordered pair of container selector lists.
type SelectorGroupConfig struct {
	Primary  []string `yaml:"primary"`
	Fallback []string `yaml:"fallback"`
}

// FieldSelectorsConfig lists per-field selectors tried in order.
type FieldSelectorsConfig struct {
	Text       []string `yaml:"text"`
	Author     []string `yaml:"author"`
	Timestamp  []string `yaml:"timestamp"`
	Link       []string `yaml:"link"`
	Engagement []string `yaml:"engagement"`
}

// ExtractorConfig tunes both extraction strategies.
type ExtractorConfig struct {
	Marker    string               `yaml:"marker"`
	BufferCap int                  `yaml:"bufferCap"`
	Feed      SelectorGroupConfig  `yaml:"feed"`
	Search    SelectorGroupConfig  `yaml:"search"`
	Fields    FieldSelectorsConfig `yaml:"fields"`
}

// ScoringConfig holds the admission floor.
type ScoringConfig struct {
	MinScore float64 `yaml:"minScore"`
}

// QuotaConfig anchors window resets and sets tier caps.
type QuotaConfig struct {
	Timezone string         `yaml:"timezone"`
	Caps     QuotaCaps      `yaml:"caps"`
	location *time.Location `yaml:"-"`
}

// QuotaCaps maps recipient tiers to daily visibility limits.
type QuotaCaps struct {
	Base int `yaml:"base"`
	Mid  int `yaml:"mid"`
	High int `yaml:"high"`
}

// Location resolves the quota timezone string to a time.Location.
func (q QuotaConfig) Location() *time.Location {
	if q.location != nil {
		return q.location
	}
	loc, _ := time.LoadLocation(defaultTimezone)
	return loc
}

// Load reads YAML configuration (if present) and applies environment overrides.
func Load() Config {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()
	cfg.bindTimezone()

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Storage.DSN = v
	}
	if v := os.Getenv(storageDriver); v != "" {
		c.Storage.Driver = v
	}
	if v := os.Getenv(agentBaseURLEnv); v != "" {
		c.Agent.BaseURL = v
	}
	if v := os.Getenv(prefsBaseURLEnv); v != "" {
		c.Prefs.BaseURL = v
	}
	if v := os.Getenv(httpAddrEnv); v != "" {
		c.HTTP.Addr = v
	}
	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}
}

func (c *Config) bindTimezone() {
	tz := c.Quota.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Printf("config: unknown timezone %s, reverting to %s", tz, defaultTimezone)
		loc, _ = time.LoadLocation(defaultTimezone)
	}
	c.Quota.location = loc
}

func mergeConfig(base, override Config) Config {
	if override.Logging.Level != "" {
		base.Logging = override.Logging
	}
	if override.HTTP.Addr != "" {
		base.HTTP = override.HTTP
	}

	if override.Storage.Driver != "" {
		base.Storage.Driver = override.Storage.Driver
	}
	if override.Storage.DSN != "" {
		base.Storage.DSN = override.Storage.DSN
	}
	if override.Storage.SQLitePath != "" {
		base.Storage.SQLitePath = override.Storage.SQLitePath
	}

	if override.Agent.BaseURL != "" {
		base.Agent.BaseURL = override.Agent.BaseURL
	}
	if override.Agent.DirectiveTimeout != 0 {
		base.Agent.DirectiveTimeout = override.Agent.DirectiveTimeout
	}
	if override.Agent.ReadyPollInterval != 0 {
		base.Agent.ReadyPollInterval = override.Agent.ReadyPollInterval
	}

	if override.Prefs.BaseURL != "" {
		base.Prefs.BaseURL = override.Prefs.BaseURL
	}

	base.Runner = mergeRunner(base.Runner, override.Runner)
	base.Extractor = mergeExtractor(base.Extractor, override.Extractor)

	if override.Scoring.MinScore != 0 {
		base.Scoring.MinScore = override.Scoring.MinScore
	}

	if override.Quota.Timezone != "" {
		base.Quota.Timezone = override.Quota.Timezone
	}
	if override.Quota.Caps.Base != 0 {
		base.Quota.Caps.Base = override.Quota.Caps.Base
	}
	if override.Quota.Caps.Mid != 0 {
		base.Quota.Caps.Mid = override.Quota.Caps.Mid
	}
	if override.Quota.Caps.High != 0 {
		base.Quota.Caps.High = override.Quota.Caps.High
	}

	return base
}

func mergeRunner(base, override RunnerConfig) RunnerConfig {
	if override.ScrollIntervalMin != 0 {
		base.ScrollIntervalMin = override.ScrollIntervalMin
	}
	if override.ScrollIntervalMax != 0 {
		base.ScrollIntervalMax = override.ScrollIntervalMax
	}
	if override.SettleDelayMin != 0 {
		base.SettleDelayMin = override.SettleDelayMin
	}
	if override.SettleDelayMax != 0 {
		base.SettleDelayMax = override.SettleDelayMax
	}
	if override.RescrapeInterval != 0 {
		base.RescrapeInterval = override.RescrapeInterval
	}
	if override.KeepAliveInterval != 0 {
		base.KeepAliveInterval = override.KeepAliveInterval
	}
	if override.WatchdogInterval != 0 {
		base.WatchdogInterval = override.WatchdogInterval
	}
	if override.InactivityThreshold != 0 {
		base.InactivityThreshold = override.InactivityThreshold
	}
	if override.MaxRuntime != 0 {
		base.MaxRuntime = override.MaxRuntime
	}
	if override.ReadyTimeout != 0 {
		base.ReadyTimeout = override.ReadyTimeout
	}
	if override.MaxIngestedPerRun != 0 {
		base.MaxIngestedPerRun = override.MaxIngestedPerRun
	}
	if override.SearchURLTemplate != "" {
		base.SearchURLTemplate = override.SearchURLTemplate
	}
	if override.DefaultKeywords != "" {
		base.DefaultKeywords = override.DefaultKeywords
	}
	return base
}

func mergeExtractor(base, override ExtractorConfig) ExtractorConfig {
	if override.Marker != "" {
		base.Marker = override.Marker
	}
	if override.BufferCap != 0 {
		base.BufferCap = override.BufferCap
	}
	if len(override.Feed.Primary) > 0 {
		base.Feed.Primary = override.Feed.Primary
	}
	if len(override.Feed.Fallback) > 0 {
		base.Feed.Fallback = override.Feed.Fallback
	}
	if len(override.Search.Primary) > 0 {
		base.Search.Primary = override.Search.Primary
	}
	if len(override.Search.Fallback) > 0 {
		base.Search.Fallback = override.Search.Fallback
	}
	if len(override.Fields.Text) > 0 {
		base.Fields.Text = override.Fields.Text
	}
	if len(override.Fields.Author) > 0 {
		base.Fields.Author = override.Fields.Author
	}
	if len(override.Fields.Timestamp) > 0 {
		base.Fields.Timestamp = override.Fields.Timestamp
	}
	if len(override.Fields.Link) > 0 {
		base.Fields.Link = override.Fields.Link
	}
	if len(override.Fields.Engagement) > 0 {
		base.Fields.Engagement = override.Fields.Engagement
	}
	return base
}

func defaultConfig() Config {
	tz, _ := time.LoadLocation(defaultTimezone)
	return Config{
		Logging: LoggingConfig{Level: "info"},
		HTTP:    HTTPConfig{Addr: ":8480"},
		Storage: StorageConfig{Driver: "memory", SQLitePath: "hirescout.db"},
		Agent: AgentConfig{
			BaseURL:           "http://127.0.0.1:8975",
			DirectiveTimeout:  Duration(15 * time.Second),
			ReadyPollInterval: Duration(500 * time.Millisecond),
		},
		Prefs: PrefsConfig{BaseURL: "http://127.0.0.1:8976"},
		Runner: RunnerConfig{
			ScrollIntervalMin:   Duration(20 * time.Second),
			ScrollIntervalMax:   Duration(50 * time.Second),
			SettleDelayMin:      Duration(1 * time.Second),
			SettleDelayMax:      Duration(3 * time.Second),
			RescrapeInterval:    Duration(45 * time.Second),
			KeepAliveInterval:   Duration(20 * time.Second),
			WatchdogInterval:    Duration(30 * time.Second),
			InactivityThreshold: Duration(3 * time.Minute),
			MaxRuntime:          Duration(20 * time.Minute),
			ReadyTimeout:        Duration(10 * time.Second),
			MaxIngestedPerRun:   40,
			SearchURLTemplate:   "https://social.example.com/search/results/content/?keywords=%s",
			DefaultKeywords:     "hiring, looking for, open role",
		},
		Extractor: ExtractorConfig{
			Marker:    "\"activityFeed\"",
			BufferCap: 200,
			Feed: SelectorGroupConfig{
				Primary:  []string{"div[data-post-id]", "article.feed-item"},
				Fallback: []string{"div.feed-shared-update", "div.occludable-update"},
			},
			Search: SelectorGroupConfig{
				Primary:  []string{"div.search-result__content", "li.search-result"},
				Fallback: []string{"div[data-result-id]"},
			},
			Fields: FieldSelectorsConfig{
				Text:       []string{"div.post-body", "span.post-text", "div.update-text"},
				Author:     []string{"span.author-name", "a.profile-link span"},
				Timestamp:  []string{"time", "span.post-age"},
				Link:       []string{"a.post-permalink", "a[data-permalink]"},
				Engagement: []string{"span.reaction-count", "li.social-counts"},
			},
		},
		Scoring: ScoringConfig{MinScore: 5},
		Quota: QuotaConfig{
			Timezone: defaultTimezone,
			Caps:     QuotaCaps{Base: 5, Mid: 20, High: 50},
			location: tz,
		},
	}
}
