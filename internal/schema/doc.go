// Package schema validates candidate events against the closed event
// vocabulary and the per-type payload contracts.
//
// The validator tags problems instead of discarding events. Only candidates
// that cannot be written at all are rejected:
//   - the run reference does not match the run being recorded
//   - the id is present but not a UUID
//   - the timestamp does not parse
//   - the payload is missing, not JSON, not an object, or over the size cap
//
// Every other defect (unknown type, severity or category, a timestamp
// outside the run, a missing or mistyped payload field, an unresolved or
// malformed parent reference) is attached to the event as a Diagnostic and
// the event is persisted.
//
// Payload contracts are written in CUE (payloads.cue) and compiled once.
// Adding an event type adds one definition there and one enum member in
// package event; no storage migration is involved.
package schema
