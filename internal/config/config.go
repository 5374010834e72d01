// Package config loads the daemon's runtime tuning from a TOML file,
// falling back to documented defaults for any key the file leaves unset.
package config

import (
	"bytes"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

const Version = "0.1.0"

// Config is the running configuration: every tunable named in spec.md §6.
type Config struct {
	Pool    PoolConfig    `toml:"pool"`
	Backend BackendConfig `toml:"backend"`
	Vary    VaryConfig    `toml:"vary"`
}

// PoolConfig covers the worker-pool scheduler's thread-lifecycle and
// queue-admission knobs.
type PoolConfig struct {
	WThreadMin          int   `toml:"wthread_min"`
	WThreadMax          int   `toml:"wthread_max"`
	WThreadPools        int   `toml:"wthread_pools"`
	WThreadAddThreshold int   `toml:"wthread_add_threshold"`
	WThreadAddDelayMs   int64 `toml:"wthread_add_delay_ms"`
	WThreadFailDelayMs  int64 `toml:"wthread_fail_delay_ms"`
	WThreadPurgeDelayMs int64 `toml:"wthread_purge_delay_ms"`
	WThreadTimeoutSecs  int64 `toml:"wthread_timeout_secs"`
	// WThreadStackSize is accepted for compatibility with the tuning
	// vocabulary this is modeled on; Go goroutines have no fixed stack
	// size to set, so it is stored but never consulted at runtime.
	WThreadStackSize int `toml:"wthread_stacksize"`
	QueueMax         int `toml:"queue_max"`
}

// BackendConfig covers backend dial/pipe tuning.
type BackendConfig struct {
	PipeTimeoutSecs int64  `toml:"pipe_timeout_secs"`
	ProxyURL        string `toml:"proxy_url"`
}

// VaryConfig covers the Vary matcher's runtime-flippable policy.
type VaryConfig struct {
	HTTPGzipSupport bool `toml:"http_gzip_support"`
}

func (c PoolConfig) AddDelay() time.Duration   { return time.Duration(c.WThreadAddDelayMs) * time.Millisecond }
func (c PoolConfig) FailDelay() time.Duration  { return time.Duration(c.WThreadFailDelayMs) * time.Millisecond }
func (c PoolConfig) PurgeDelay() time.Duration { return time.Duration(c.WThreadPurgeDelayMs) * time.Millisecond }
func (c PoolConfig) Timeout() time.Duration    { return time.Duration(c.WThreadTimeoutSecs) * time.Second }

func (c BackendConfig) PipeTimeout() time.Duration {
	return time.Duration(c.PipeTimeoutSecs) * time.Second
}

// NewConfig returns a Config populated with the documented defaults,
// matching the stock tuning varnishd ships in its param table.
func NewConfig() *Config {
	return &Config{
		Pool: PoolConfig{
			WThreadMin:          5,
			WThreadMax:          5000,
			WThreadPools:        2,
			WThreadAddThreshold: 2,
			WThreadAddDelayMs:   2,
			WThreadFailDelayMs:  2000,
			WThreadPurgeDelayMs: 1000,
			WThreadTimeoutSecs:  300,
			WThreadStackSize:    0,
			QueueMax:            100,
		},
		Backend: BackendConfig{
			PipeTimeoutSecs: 60,
		},
		Vary: VaryConfig{
			HTTPGzipSupport: true,
		},
	}
}

// Load reads path and overlays onto the defaults: only keys the TOML file
// explicitly sets are applied, via toml.MetaData.IsDefined — a key the
// file omits keeps NewConfig's default rather than being zeroed out by
// decoding into an empty struct.
func Load(path string) (*Config, error) {
	c := NewConfig()
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	d := NewConfig()

	if !md.IsDefined("pool", "wthread_min") {
		c.Pool.WThreadMin = d.Pool.WThreadMin
	}
	if !md.IsDefined("pool", "wthread_max") {
		c.Pool.WThreadMax = d.Pool.WThreadMax
	}
	if !md.IsDefined("pool", "wthread_pools") {
		c.Pool.WThreadPools = d.Pool.WThreadPools
	}
	if !md.IsDefined("pool", "wthread_add_threshold") {
		c.Pool.WThreadAddThreshold = d.Pool.WThreadAddThreshold
	}
	if !md.IsDefined("pool", "wthread_add_delay_ms") {
		c.Pool.WThreadAddDelayMs = d.Pool.WThreadAddDelayMs
	}
	if !md.IsDefined("pool", "wthread_fail_delay_ms") {
		c.Pool.WThreadFailDelayMs = d.Pool.WThreadFailDelayMs
	}
	if !md.IsDefined("pool", "wthread_purge_delay_ms") {
		c.Pool.WThreadPurgeDelayMs = d.Pool.WThreadPurgeDelayMs
	}
	if !md.IsDefined("pool", "wthread_timeout_secs") {
		c.Pool.WThreadTimeoutSecs = d.Pool.WThreadTimeoutSecs
	}
	if !md.IsDefined("pool", "queue_max") {
		c.Pool.QueueMax = d.Pool.QueueMax
	}
	if !md.IsDefined("backend", "pipe_timeout_secs") {
		c.Backend.PipeTimeoutSecs = d.Backend.PipeTimeoutSecs
	}
	if !md.IsDefined("vary", "http_gzip_support") {
		c.Vary.HTTPGzipSupport = d.Vary.HTTPGzipSupport
	}

	return c, nil
}

// String renders c back out as TOML, for diagnostics.
func (c *Config) String() string {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Sprintf("config: encode error: %v", err)
	}
	return buf.String()
}
