// Package sandbox wires the trust classifier, the capability whitelist and
// the optional policy override into a single Guard that a rendering engine
// consults before each evaluation.
package sandbox
