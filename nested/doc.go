// Package nested wraps a group conversation behind the core.Agent interface
// so an outer conversation can treat a whole team as one participant.
package nested
