// Package telemetry wires OpenTelemetry exporters and meters for the template
// sandbox guard.
//
// It centralises trace provider setup and offers helpers that attach trust
// decisions to spans and counters so operators can see how often templates are
// sandboxed, why, and how long path resolution takes.
package telemetry
