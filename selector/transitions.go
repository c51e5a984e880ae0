package selector

import (
	"sort"

	"github.com/hupe1980/groupmesh/core"
)

// Transitions is a directed graph of who may follow whom. A speaker without
// an entry may hand over to anyone.
type Transitions map[string][]string

// Allows reports whether to may speak directly after from.
func (t Transitions) Allows(from, to string) bool {
	next, ok := t[from]
	if !ok {
		return true
	}
	for _, n := range next {
		if n == to {
			return true
		}
	}
	return false
}

// HasOutgoing reports whether from may hand over to at least one agent.
func (t Transitions) HasOutgoing(from string) bool {
	next, ok := t[from]
	return !ok || len(next) > 0
}

// Validate returns a *core.ConfigError naming the first agent that is not in
// roster. Names are checked in sorted order for stable messages.
func (t Transitions) Validate(roster []string) error {
	known := make(map[string]bool, len(roster))
	for _, n := range roster {
		known[n] = true
	}
	from := make([]string, 0, len(t))
	for k := range t {
		from = append(from, k)
	}
	sort.Strings(from)
	for _, k := range from {
		if !known[k] {
			return core.NewConfigError("selector", "transition source %q is not in the roster", k)
		}
		for _, to := range t[k] {
			if !known[to] {
				return core.NewConfigError("selector", "transition %q -> %q names an unknown agent", k, to)
			}
		}
	}
	return nil
}

// Chain builds transitions where each agent hands over to the next one in
// order and the last wraps around to the first.
func Chain(names ...string) Transitions {
	t := make(Transitions, len(names))
	for i, n := range names {
		t[n] = []string{names[(i+1)%len(names)]}
	}
	return t
}
