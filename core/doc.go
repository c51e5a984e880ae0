// Package core provides the foundational domain types and interfaces used by
// GroupMesh. It defines the core abstractions for:
//
//   - Messages (immutable conversation records with optional function payloads)
//   - Transcripts (append-only logs with per-participant and per-dyad views)
//   - Agents (participants that turn a transcript into a reply)
//   - Records (the stable JSON form used to persist and resume transcripts)
//   - Collaborator contracts (human input, tool contexts, call limits)
//
// Concrete agents, selectors and coordinators live in their own packages and
// only depend on the small interfaces exposed here.
package core
