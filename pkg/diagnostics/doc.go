// Package diagnostics provides sinks for trust decision records.
//
// Sinks are fire-and-forget: Record never blocks the caller for longer than a
// map write and never reports failure. AsyncSink decouples slow consumers from
// the classification path; RecentSink keeps a bounded history for the admin
// surface.
package diagnostics
