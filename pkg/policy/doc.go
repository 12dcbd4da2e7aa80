// Package policy layers an optional Open Policy Agent (OPA) override on top of
// the built-in trust classifier.
//
// A Rego module receives the origin and the built-in decision and may flip it.
// Evaluation problems never surface to the rendering engine: the built-in
// decision stands and the failure is logged.
package policy
