// Package agent defines agent identity, the agent card advertised to routing,
// and the Handle contract used to delegate a sub-task to a peer agent.
package agent

// Ident is the strong type for agent identifiers (e.g., "researcher"). Use this
// type when referencing agents in maps or APIs to avoid accidental mixing with
// free-form strings.
type Ident string
