// Package trust decides whether a template must be rendered inside the
// sandbox.
//
// A Classifier compares a template's canonical origin path with a trusted
// root fixed at construction. Templates stored under that root are
// user-editable content and are sandboxed; templates elsewhere (themes,
// plugins, core) render unrestricted. Templates without a path fall back to a
// naming heuristic that recognises generated string-template identifiers.
//
// Decisions for paths are memoized by raw path until the cache is cleared.
package trust
