// Package agent contains the conversation participants used by group chats,
// nested conversations and task orchestrators:
//
//  1. Shared identity plumbing (BaseAgent, termination predicates)
//  2. Oracle-backed replies with optional tool definitions (ModelAgent)
//  3. Tool execution for pending function calls (ExecutorAgent)
//  4. Human participants (HumanAgent, ConsoleInput) and plain Go functions (FuncAgent)
//
// Agents hold no conversation history. The coordinator passes each agent its
// own view of the transcript on every Reply, and capabilities are fixed at
// construction so selectors never probe implementations.
package agent
