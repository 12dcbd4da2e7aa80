// Package domain defines the core types and ports for the template sandbox guard.
//
// This package contains pure domain logic with ZERO external dependencies outside the
// Go standard library. The rendering engine and its sandbox-enforcement collaborator
// are outside this module; they reach it only through the interfaces declared here:
//
//   - SandboxDecider answers "must this template render sandboxed?"
//   - CapabilityPolicy answers "may sandboxed rendering use this capability?"
//   - DiagnosticsSink receives a fire-and-forget record of every decision.
//
// The dependency direction is always:
//
//	Infrastructure → Domain (CORRECT)
//	Domain → Infrastructure (FORBIDDEN)
package domain
