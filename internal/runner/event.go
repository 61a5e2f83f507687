package runner

import "time"

// Event is published on every state transition (spec.md §5: "Every state
// transition emits an event (service name, old state, new state, timestamp,
// optional reason)"). Runners never hold a reference to the orchestrator
// (design note §9); they call an injected Emit func instead, so the
// orchestrator can fan this out to its broadcast bus without the runner
// knowing it exists. The runner appends each transition to the session
// timeline itself.
type Event struct {
	Service   string
	From      State
	To        State
	Timestamp time.Time
	Reason    string
	// RestartExhausted is set on a Faulted event when the restart policy has
	// no further attempts to make (mode "never", max_restarts reached, or a
	// non-retryable environmental precondition) — the signal the orchestrator
	// uses to decide cascade vs. leave-to-recover (spec.md §4.7).
	RestartExhausted bool
}

// Emit is how a Runner publishes events. The orchestrator supplies this at
// construction time; tests may supply a func that appends to a slice.
type Emit func(Event)
