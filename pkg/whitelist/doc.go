// Package whitelist defines what a sandboxed template may do.
//
// Five categories are tracked: directives (tags), operators (filters),
// functions, methods by owning type and properties by owning type. A curated
// baseline ships with the package and never includes capabilities that can
// include other templates, accept arbitrary callables, read files or compile
// templates from strings.
//
// Deployments configure each category with a fragment that either overrides
// the baseline or extends it. Build merges every fragment once and compiles
// member patterns into matchers; the resulting Spec is read-only.
package whitelist
