package domain

import (
	"context"
	"time"
)

// TemplateOrigin identifies where a template came from.
type TemplateOrigin struct {
	// Path is the filesystem location the template was loaded from. Empty for
	// templates supplied as strings.
	Path string `json:"path,omitempty"`
	// Name is the logical identifier used by the rendering engine. It may be a
	// generated token for string-supplied templates.
	Name string `json:"name"`
}

// HasPath reports whether the origin carries a filesystem path.
func (o TemplateOrigin) HasPath() bool {
	return o.Path != ""
}

// Reason explains how a trust decision was reached.
type Reason string

const (
	ReasonDynamicName  Reason = "dynamic-name"
	ReasonStaticName   Reason = "static-name"
	ReasonCacheHit     Reason = "cache-hit"
	ReasonInsideRoot   Reason = "inside-root"
	ReasonOutsideRoot  Reason = "outside-root"
	ReasonUnresolvable Reason = "unresolvable"
	ReasonCancelled    Reason = "cancelled"
	ReasonPolicy       Reason = "policy-override"
)

// Decision is the outcome of classifying a template origin.
type Decision struct {
	Origin    TemplateOrigin `json:"origin"`
	Sandboxed bool           `json:"sandboxed"`
	Reason    Reason         `json:"reason"`
	// Canonical is the resolved path, when resolution happened on this call.
	Canonical string `json:"canonical,omitempty"`
}

// SandboxDecider is consumed by the rendering engine before each evaluation.
type SandboxDecider interface {
	ShouldSandbox(ctx context.Context, origin TemplateOrigin) bool
}

// CapabilityPolicy is consumed by the sandbox-enforcement collaborator while a
// sandboxed template executes. Any capability not allowed must be rejected.
type CapabilityPolicy interface {
	AllowsDirective(name string) bool
	AllowsOperator(name string) bool
	AllowsFunction(name string) bool
	// AllowsMethod checks a method against the owning type and any of its
	// ancestors, most specific first.
	AllowsMethod(method string, types ...string) bool
	AllowsProperty(property string, types ...string) bool
}

// DiagnosticRecord is emitted once per classification.
type DiagnosticRecord struct {
	Path      string    `json:"path,omitempty"`
	Name      string    `json:"name,omitempty"`
	Sandboxed bool      `json:"sandboxed"`
	Reason    Reason    `json:"reason"`
	At        time.Time `json:"at"`
}

// DiagnosticsSink receives decision records. Implementations must not block
// and must never influence the decision; failures are swallowed.
type DiagnosticsSink interface {
	Record(ctx context.Context, rec DiagnosticRecord)
}
