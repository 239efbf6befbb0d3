package trunk

import (
	"fmt"
	"os"
	"time"

	yaml "github.com/goccy/go-yaml"
)

// Config is the trunk's single construction-time configuration struct
// (spec.md §6). It is validated once, at New, and never mutated after.
// Loading follows the teacher's internal/conf idiom: YAML tags, a
// LoadFromFile entry point backed by github.com/goccy/go-yaml, and a
// setDefaults/validate pair.
type Config struct {
	// Population knobs.
	Start      uint16 `yaml:"start"`
	Min        uint16 `yaml:"min"`
	Max        uint16 `yaml:"max"`
	Connecting uint16 `yaml:"connecting"`

	// Load thresholds. 0 means no cap.
	TargetReqPerConn uint32 `yaml:"target_req_per_conn"`
	MaxReqPerConn    uint32 `yaml:"max_req_per_conn"`

	// MaxUses is a hard request-count ceiling per connection. 0 = unlimited.
	MaxUses uint64 `yaml:"max_uses"`
	// Lifetime is the max wall-clock age of a connection before it is
	// drained for replacement. 0 = unlimited.
	Lifetime time.Duration `yaml:"lifetime"`

	// Hysteresis durations for the management loop (spec.md §4.5).
	OpenDelay  time.Duration `yaml:"open_delay"`
	CloseDelay time.Duration `yaml:"close_delay"`

	// ReqCleanupDelay is how long a completed request's arena buffer is
	// retained on the free list before release (spec.md §6).
	ReqCleanupDelay time.Duration `yaml:"req_cleanup_delay"`
	// ManageInterval is the management timer's cadence; the embedding
	// event loop is expected to call Trunk.Tick on roughly this cadence.
	ManageInterval time.Duration `yaml:"manage_interval"`

	// Arena-sizing hints for request payloads (spec.md §6).
	ReqPoolHeaders int `yaml:"req_pool_headers"`
	ReqPoolSize    int `yaml:"req_pool_size"`

	// AlwaysWritable: when true, writability is implicit — Enqueue invokes
	// RequestMux immediately instead of waiting for SignalWritable
	// (spec.md §4.3).
	AlwaysWritable bool `yaml:"always_writable"`

	// AllowBacklogAtMax resolves the Open Question in spec.md §9 ("whether
	// backlog admission should remain allowed after max is reached").
	// Default true. See DESIGN.md for the reasoning.
	AllowBacklogAtMax *bool `yaml:"allow_backlog_at_max"`
}

// LoadFromFile reads and parses a YAML config file, then applies defaults
// and validates the result.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("trunk: read config: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("trunk: parse config: %w", err)
	}
	cfg.setDefaults()
	if errs := cfg.validate(); len(errs) > 0 {
		return nil, fmt.Errorf("trunk: invalid config: %w", joinErrors(errs))
	}
	return cfg, nil
}

func (c *Config) setDefaults() {
	cpus := sysCPUCount()

	if c.Start == 0 {
		c.Start = 1
	}
	if c.Min == 0 {
		c.Min = c.Start
	}
	if c.Max == 0 {
		c.Max = uint16(clampInt(int(c.Min)*4, int(c.Min), 64))
	}
	if c.Connecting == 0 {
		c.Connecting = uint16(clampInt(cpus, 1, 8))
	}

	if c.OpenDelay == 0 {
		c.OpenDelay = 2 * time.Second
	}
	if c.CloseDelay == 0 {
		c.CloseDelay = 30 * time.Second
	}
	if c.ReqCleanupDelay == 0 {
		c.ReqCleanupDelay = 10 * time.Second
	}
	if c.ManageInterval == 0 {
		c.ManageInterval = 500 * time.Millisecond
	}

	if c.ReqPoolHeaders == 0 {
		c.ReqPoolHeaders = 64
	}
	if c.ReqPoolSize == 0 {
		// Scale with CPU count, rounded to a power of two, same spirit as
		// the teacher's buffer/stream-pool defaults.
		c.ReqPoolSize = nextPowerOf2(clampInt(cpus*64, 128, 8192))
	}

	if c.AllowBacklogAtMax == nil {
		allow := true
		c.AllowBacklogAtMax = &allow
	}
}

func (c *Config) validate() []error {
	var errs []error

	if c.Min > c.Max {
		errs = append(errs, fmt.Errorf("min (%d) must be <= max (%d)", c.Min, c.Max))
	}
	if c.Start > c.Max {
		errs = append(errs, fmt.Errorf("start (%d) must be <= max (%d)", c.Start, c.Max))
	}
	if c.Connecting == 0 {
		errs = append(errs, fmt.Errorf("connecting must be >= 1"))
	}
	if c.ManageInterval <= 0 {
		errs = append(errs, fmt.Errorf("manage_interval must be > 0"))
	}
	if c.ReqPoolHeaders < 0 {
		errs = append(errs, fmt.Errorf("req_pool_headers must be >= 0"))
	}
	if c.ReqPoolSize < 0 {
		errs = append(errs, fmt.Errorf("req_pool_size must be >= 0"))
	}

	return errs
}

// AllowsBacklogAtMax reports the resolved backlog-at-max policy.
func (c *Config) AllowsBacklogAtMax() bool {
	return c.AllowBacklogAtMax == nil || *c.AllowBacklogAtMax
}

func joinErrors(errs []error) error {
	msg := ""
	for i, e := range errs {
		if i > 0 {
			msg += "; "
		}
		msg += e.Error()
	}
	return fmt.Errorf("%s", msg)
}
