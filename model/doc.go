// Package model defines the provider‑agnostic reasoning oracle contract used
// by agents, speaker selectors and the task orchestrator.
//
// Core goals:
//   - Unify streaming + non‑streaming generation behind a single interface
//   - Normalize tool / function call representation (ToolDefinition)
//   - Strict structured output at the oracle boundary (CompleteStructured)
//   - Classify failures onto the core error taxonomy (Classify)
//   - Compose transport concerns as wrappers (NewRetrying, NewRateLimited)
//   - Facilitate lightweight mocking for tests (MockModel)
//
// Providers (e.g. OpenAI, Anthropic) implement the Model interface from this
// package so higher layers remain decoupled from vendor SDKs.
package model
