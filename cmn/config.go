package cmn

import (
	"io/ioutil"
	"time"

	"sync/atomic"

	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v2"
)

// Config holds every tunable spec.md section 6 names, all defaulted.
type Config struct {
	NumWorkers int `yaml:"num_workers"`

	Window            time.Duration `yaml:"window"`
	HighLoadThreshold float64       `yaml:"high_load_threshold"`

	PerWorkerCapacityTokens int64 `yaml:"per_worker_capacity_tokens"`
	EnableEviction          bool  `yaml:"enable_eviction"`
	EnableRebalancing       bool  `yaml:"enable_rebalancing"`

	RebalanceMinTotalLoad int64 `yaml:"rebalance_min_total_load"`
	MinEventsForLoad      int   `yaml:"min_events_for_load"`
}

// DefaultConfig returns the spec.md section 6 defaults for everything except
// NumWorkers, which the caller is required to set.
func DefaultConfig(numWorkers int) *Config {
	return &Config{
		NumWorkers:              numWorkers,
		Window:                  180 * time.Second,
		HighLoadThreshold:       1.4,
		PerWorkerCapacityTokens: 198516,
		EnableEviction:          false,
		EnableRebalancing:       true,
		RebalanceMinTotalLoad:   50,
		MinEventsForLoad:        2,
	}
}

// Validate checks the invariants spec.md section 6 requires.
func (c *Config) Validate() error {
	if c.NumWorkers < 1 {
		return NewInvalidInputError("num_workers must be >= 1, got %d", c.NumWorkers)
	}
	if c.Window <= 0 {
		return NewInvalidInputError("window must be positive")
	}
	if c.HighLoadThreshold <= 1 {
		return NewInvalidInputError("high_load_threshold must be > 1, got %f", c.HighLoadThreshold)
	}
	if c.MinEventsForLoad < 0 {
		return NewInvalidInputError("min_events_for_load must be >= 0")
	}
	return nil
}

// LoadConfigFile loads a YAML config file over the section 6 defaults, then
// applies an optional JSON overlay (e.g. from an env var) addressed by
// gjson-style dotted paths, one override per top-level key present in the
// overlay. Config parsing itself lives outside the scheduler core (spec.md
// section 1 treats it as an external collaborator); this loader is the
// collaborator's concrete implementation for cmd/routerd.
func LoadConfigFile(path string, numWorkers int, jsonOverlay string) (*Config, error) {
	cfg := DefaultConfig(numWorkers)
	if path != "" {
		raw, err := ioutil.ReadFile(path)
		if err != nil {
			return nil, Wrapf(err, "reading config file %q", path)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, Wrapf(err, "parsing config file %q", path)
		}
	}
	if jsonOverlay != "" {
		applyJSONOverlay(cfg, jsonOverlay)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyJSONOverlay(cfg *Config, overlay string) {
	if v := gjson.Get(overlay, "num_workers"); v.Exists() {
		cfg.NumWorkers = int(v.Int())
	}
	if v := gjson.Get(overlay, "window_seconds"); v.Exists() {
		cfg.Window = time.Duration(v.Int()) * time.Second
	}
	if v := gjson.Get(overlay, "high_load_threshold"); v.Exists() {
		cfg.HighLoadThreshold = v.Float()
	}
	if v := gjson.Get(overlay, "per_worker_capacity_tokens"); v.Exists() {
		cfg.PerWorkerCapacityTokens = v.Int()
	}
	if v := gjson.Get(overlay, "enable_eviction"); v.Exists() {
		cfg.EnableEviction = v.Bool()
	}
	if v := gjson.Get(overlay, "enable_rebalancing"); v.Exists() {
		cfg.EnableRebalancing = v.Bool()
	}
	if v := gjson.Get(overlay, "rebalance_min_total_load"); v.Exists() {
		cfg.RebalanceMinTotalLoad = v.Int()
	}
	if v := gjson.Get(overlay, "min_events_for_load"); v.Exists() {
		cfg.MinEventsForLoad = int(v.Int())
	}
}

// globalConfigOwner is the Config analogue of aistore's cmn.GCO: a single
// process-wide holder for the active configuration. cmd/routerd publishes
// its loaded config here with CommitUpdate; sched.Scheduler receives its
// config as an argument to New and does not read GCO.
type globalConfigOwner struct {
	value atomic.Value
}

var GCO = &globalConfigOwner{}

// Get returns the currently active config, or nil if CommitUpdate was never
// called.
func (g *globalConfigOwner) Get() *Config {
	v := g.value.Load()
	if v == nil {
		return nil
	}
	return v.(*Config)
}

// BeginUpdate returns a mutable copy of the active config (or a fresh
// default if none is set yet) for the caller to edit before CommitUpdate.
func (g *globalConfigOwner) BeginUpdate(numWorkers int) *Config {
	cur := g.Get()
	if cur == nil {
		return DefaultConfig(numWorkers)
	}
	clone := *cur
	return &clone
}

// CommitUpdate publishes cfg as the active config after validating it.
func (g *globalConfigOwner) CommitUpdate(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	g.value.Store(cfg)
	return nil
}
