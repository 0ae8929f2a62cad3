// Package audit records security-relevant events: access decisions made
// by the guard, hierarchy mutations, and seed catalog loads. Events are
// structured records that can be written to a file as JSON lines or
// discarded entirely in environments that do not need an audit trail.
package audit
