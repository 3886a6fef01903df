// Package filter evaluates expr-lang expressions against decoded header
// events.
//
// Two evaluators:
//   - Filter: a boolean predicate deciding whether an event is printed
//   - Labeler: named expressions whose results are attached to printed events
//
// Expressions see the event through Env: pid, tid, fd, stream, kind, name,
// value, tls, direction, socket and seq. A map result from a label
// expression is expanded into one label per key.
package filter
