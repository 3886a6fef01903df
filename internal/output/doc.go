// Package output renders decoded header events.
//
// Console is a pure formatting layer that:
//   - Receives decoded bpf.HeaderEvent records
//   - Converts monotonic timestamps with timesync
//   - Skips events the filter rejects
//   - Attaches labels evaluated by the filter package
//   - Optionally labels remote addresses with names learned by peernames
//
// It does NOT reassemble header batches into requests or responses.
package output
