// Package plugin dispatches user extensions at the defined points of a
// flow's life cycle. Hooks run synchronously with packet processing, in
// registration order, and may only mutate the flow's user state namespace.
package plugin

import (
	"fmt"
	"sync/atomic"

	"github.com/CN-TU/go-meter/flow"
	"github.com/CN-TU/go-meter/util"
)

// Stats counts hook failures across all workers of a run.
type Stats struct {
	FailedHooks atomic.Uint64
}

// Plugin is a user extension. OnInit runs exactly once when a flow is
// created, before the flow is visible anywhere else. OnUpdate runs for
// every further packet of the flow. OnExpire runs once when the flow
// expires, before emission, for derived feature computation. Hooks must
// execute to completion; blocking blocks the owning worker. A plugin
// instance is shared between workers, so per-flow state belongs into the
// flow's user state namespace, not into the plugin.
type Plugin interface {
	Name() string
	OnInit(ev flow.Event, v flow.View) error
	OnUpdate(ev flow.Event, v flow.View) error
	OnExpire(v flow.View) error
}

// Policy selects how a failing hook is handled.
type Policy byte

const (
	// PolicyFailFast aborts the whole run on the first hook failure.
	PolicyFailFast Policy = iota
	// PolicyDegrade disables the failing hook for the affected flow and
	// continues.
	PolicyDegrade
)

// ParsePolicy converts a policy name to a Policy.
func ParsePolicy(s string) (Policy, bool) {
	switch s {
	case "failfast", "":
		return PolicyFailFast, true
	case "degrade":
		return PolicyDegrade, true
	}
	return PolicyFailFast, false
}

func (p Policy) String() string {
	switch p {
	case PolicyFailFast:
		return "failfast"
	case PolicyDegrade:
		return "degrade"
	default:
		return "invalid"
	}
}

// HookError reports a failed hook together with the offending flow.
type HookError struct {
	Plugin  string
	FlowKey string
	Err     error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("plugin %q failed on flow %x: %v", e.Plugin, e.FlowKey, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }

// maxPlugins is bounded by the per-flow disabled hook bitmask.
const maxPlugins = 64

// Chain is an ordered plugin list implementing flow.Hooks. A single Chain
// is shared by all workers of a run; its bookkeeping is limited to
// counters, per-flow state lives in the records.
type Chain struct {
	plugins []Plugin
	policy  Policy
	stats   *Stats
}

// NewChain builds a hook chain with the given failure policy. Returns nil
// if no plugins are given; a nil *Chain is a valid empty flow.Hooks.
func NewChain(policy Policy, stats *Stats, plugins ...Plugin) (*Chain, error) {
	if len(plugins) > maxPlugins {
		return nil, fmt.Errorf("plugin: at most %d plugins per run, got %d", maxPlugins, len(plugins))
	}
	if len(plugins) == 0 {
		return nil, nil
	}
	if stats == nil {
		stats = &Stats{}
	}
	return &Chain{plugins: plugins, policy: policy, stats: stats}, nil
}

// Len returns the number of plugins in the chain.
func (c *Chain) Len() int {
	if c == nil {
		return 0
	}
	return len(c.plugins)
}

// Stats returns the shared failure counters.
func (c *Chain) Stats() *Stats {
	if c == nil {
		return nil
	}
	return c.stats
}

// Init implements flow.Hooks.
func (c *Chain) Init(ev flow.Event, v flow.View) error {
	if c == nil {
		return nil
	}
	for i, p := range c.plugins {
		err := guard(func() error { return p.OnInit(ev, v) })
		if err != nil {
			if abort := c.failed(i, p, v, err); abort != nil {
				return abort
			}
		}
	}
	return nil
}

// Update implements flow.Hooks.
func (c *Chain) Update(ev flow.Event, v flow.View) error {
	if c == nil {
		return nil
	}
	for i, p := range c.plugins {
		if v.HookDisabled(i) {
			continue
		}
		err := guard(func() error { return p.OnUpdate(ev, v) })
		if err != nil {
			if abort := c.failed(i, p, v, err); abort != nil {
				return abort
			}
		}
	}
	return nil
}

// Expire implements flow.Hooks. Failures during finalization never abort
// the run; the flow is emitted either way.
func (c *Chain) Expire(v flow.View) {
	if c == nil {
		return
	}
	for i, p := range c.plugins {
		if v.HookDisabled(i) {
			continue
		}
		if err := guard(func() error { return p.OnExpire(v) }); err != nil {
			c.stats.FailedHooks.Add(1)
			util.LogWarn("plugin failed during flow finalization",
				"plugin", p.Name(),
				"flow", fmt.Sprintf("%x", v.Key()),
				"error", err)
		}
	}
}

// failed applies the failure policy. The returned error is non-nil exactly
// when the run has to stop.
func (c *Chain) failed(i int, p Plugin, v flow.View, err error) error {
	c.stats.FailedHooks.Add(1)
	if c.policy == PolicyFailFast {
		return &HookError{Plugin: p.Name(), FlowKey: v.Key(), Err: err}
	}
	v.DisableHook(i)
	util.LogWarn("plugin disabled for flow",
		"plugin", p.Name(),
		"flow", fmt.Sprintf("%x", v.Key()),
		"error", err)
	return nil
}

// guard converts hook panics into errors so a misbehaving plugin cannot
// tear down a worker outside the configured policy.
func guard(f func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if perr, ok := r.(error); ok {
				err = fmt.Errorf("hook panicked: %w", perr)
			} else {
				err = fmt.Errorf("hook panicked: %v", r)
			}
		}
	}()
	return f()
}

var _ flow.Hooks = (*Chain)(nil)
