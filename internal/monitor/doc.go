// Package monitor runs subscriptions: it executes the saved query, diffs
// the extracted records against the last snapshot, notifies the owner and
// records the outcome.
//
// A Runner holds a per-subscription lease so one subscription never has
// two executions in flight. Once an execution row exists the run is
// carried to completed or failed even if the caller's context is
// cancelled.
package monitor
