// Package selector decides who speaks next in a group conversation.
//
// Selection always starts from the eligible set: agents able to reply
// (executors only while a function call is pending), minus the last speaker
// unless repeats are allowed, restricted by the transition graph, then
// narrowed by tool routing. An empty set yields core.ErrNoEligibleSpeaker and
// a singleton is returned without consulting the policy.
//
// Policies: RoundRobin (pure in roster, last speaker and eligible set),
// Random (seeded PCG), Arbitrated (structured oracle choice with round robin
// fallback) and Manual (human choice with arbitrated fallback).
package selector
