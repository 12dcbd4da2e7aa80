package policy

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"sort"
	"strings"
	"sync"

	//nolint:staticcheck // OPA v1 migration pending
	"github.com/open-policy-agent/opa/ast"
	//nolint:staticcheck // OPA v1 migration pending
	"github.com/open-policy-agent/opa/rego"
)

// EngineOptions control OPA engine construction and runtime behaviour.
type EngineOptions struct {
	// Entrypoint is the decision path (e.g. "sandbox/decision").
	Entrypoint string
	// Modules maps module names to Rego source.
	Modules map[string]string
	// CacheMaxEntries bounds the decision cache size (LRU). Zero selects the
	// default size; negative disables caching entirely.
	CacheMaxEntries int
}

// Engine evaluates sandbox overrides using an embedded OPA instance.
type Engine struct {
	moduleOrder   []string
	parsedModules map[string]*ast.Module
	entrypoint    string
	cache         *decisionCache
	prepared      *rego.PreparedEvalQuery
	mu            sync.RWMutex
}

const (
	// DefaultEntrypoint is the decision path used when none is configured.
	DefaultEntrypoint    = "sandbox/decision"
	defaultCacheCapacity = 1024
)

// NewEngine parses and compiles the supplied modules.
func NewEngine(ctx context.Context, opts EngineOptions) (*Engine, error) {
	entry := strings.Trim(strings.TrimSpace(opts.Entrypoint), "/")
	if entry == "" {
		entry = DefaultEntrypoint
	}

	if len(opts.Modules) == 0 {
		return nil, errors.New("policy engine requires at least one rego module")
	}

	maxEntries := opts.CacheMaxEntries
	switch {
	case maxEntries == 0:
		maxEntries = defaultCacheCapacity
	case maxEntries < 0:
		maxEntries = 0
	}

	var cache *decisionCache
	if maxEntries > 0 {
		cache = newDecisionCache(maxEntries)
	}

	moduleOrder := make([]string, 0, len(opts.Modules))
	for name := range opts.Modules {
		moduleOrder = append(moduleOrder, name)
	}
	sort.Strings(moduleOrder)

	parsedModules := make(map[string]*ast.Module, len(moduleOrder))
	for _, name := range moduleOrder {
		module, err := ast.ParseModuleWithOpts(name, opts.Modules[name], ast.ParserOptions{RegoVersion: ast.RegoV1})
		if err != nil {
			return nil, fmt.Errorf("parse rego module %q: %w", name, err)
		}
		parsedModules[name] = module
	}

	engine := &Engine{
		moduleOrder:   moduleOrder,
		parsedModules: parsedModules,
		entrypoint:    entry,
		cache:         cache,
	}

	// Compile now so syntax and type errors surface at configuration time.
	if _, err := engine.getPreparedQuery(ctx); err != nil {
		return nil, fmt.Errorf("compile rego modules: %w", err)
	}

	return engine, nil
}

// Entrypoint returns the decision path the engine evaluates.
func (e *Engine) Entrypoint() string {
	return e.entrypoint
}

// Evaluate runs the policy for input. A policy that produces no value yields
// a zero Result, meaning no override.
func (e *Engine) Evaluate(ctx context.Context, input Input) (Result, error) {
	key := ""
	if e.cache != nil {
		key = cacheKey(e.entrypoint, input)
		if cached, ok := e.cache.Get(key); ok {
			return cached, nil
		}
	}

	prepared, err := e.getPreparedQuery(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("prepare query: %w", err)
	}

	results, err := prepared.Eval(ctx, rego.EvalInput(input.toMap()))
	if err != nil {
		return Result{}, fmt.Errorf("opa decision: %w", err)
	}

	var result Result
	if len(results) > 0 && len(results[0].Expressions) > 0 {
		result, err = parseResult(results[0].Expressions[0].Value)
		if err != nil {
			return Result{}, err
		}
	}

	if e.cache != nil {
		e.cache.Add(key, result)
	}
	return result, nil
}

// FlushCache clears all cached decisions and returns how many were dropped.
// Safe to call concurrently.
func (e *Engine) FlushCache() int {
	if e.cache == nil {
		return 0
	}
	return e.cache.Clear()
}

// Close drops memoized decisions. The prepared query holds no external
// resources, so an Evaluate already in flight still completes.
func (e *Engine) Close(_ context.Context) error {
	e.FlushCache()
	return nil
}

func (e *Engine) getPreparedQuery(ctx context.Context) (*rego.PreparedEvalQuery, error) {
	e.mu.RLock()
	if e.prepared != nil {
		defer e.mu.RUnlock()
		return e.prepared, nil
	}
	e.mu.RUnlock()

	query := "data." + strings.ReplaceAll(e.entrypoint, "/", ".")

	opts := make([]func(*rego.Rego), 0, len(e.parsedModules)+1)
	opts = append(opts, rego.Query(query))
	for _, name := range e.moduleOrder {
		opts = append(opts, rego.ParsedModule(e.parsedModules[name]))
	}

	prepared, err := rego.New(opts...).PrepareForEval(ctx)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Another goroutine may have already prepared the query; respect first entry.
	if e.prepared == nil {
		e.prepared = &prepared
	}
	return e.prepared, nil
}

func parseResult(value any) (Result, error) {
	switch typed := value.(type) {
	case nil:
		return Result{}, nil
	case bool:
		return Result{Sandbox: &typed}, nil
	case map[string]any:
		var result Result
		if raw, ok := typed["sandbox"]; ok && raw != nil {
			flag, ok := raw.(bool)
			if !ok {
				return Result{}, fmt.Errorf("opa decision: sandbox must be bool, got %T", raw)
			}
			result.Sandbox = &flag
		}
		result.Reason, _ = typed["reason"].(string)
		return result, nil
	default:
		return Result{}, fmt.Errorf("opa decision: unexpected result type %T", value)
	}
}

// cacheKey generates a deterministic hash key for caching policy decisions.
func cacheKey(entry string, input Input) string {
	h := sha256.New()
	writeCacheKeyField(h, entry)
	writeCacheKeyField(h, input.Path)
	writeCacheKeyField(h, input.Name)
	writeCacheKeyField(h, input.Canonical)
	writeCacheKeyField(h, input.Reason)
	if input.Sandboxed {
		writeCacheKeyField(h, "1")
	} else {
		writeCacheKeyField(h, "0")
	}
	return hex.EncodeToString(h.Sum(nil))
}

// writeCacheKeyField writes a field to the hash followed by a null delimiter.
func writeCacheKeyField(h hash.Hash, value string) {
	h.Write([]byte(value))
	h.Write([]byte{0})
}

type decisionCache struct {
	mu      sync.Mutex
	max     int
	order   *list.List
	entries map[string]*list.Element
}

type cacheItem struct {
	key   string
	value Result
}

func newDecisionCache(capacity int) *decisionCache {
	return &decisionCache{
		max:     capacity,
		order:   list.New(),
		entries: make(map[string]*list.Element, capacity),
	}
}

func (c *decisionCache) Get(key string) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return Result{}, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(cacheItem).value, true
}

func (c *decisionCache) Add(key string, value Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		elem.Value = cacheItem{key: key, value: value}
		c.order.MoveToFront(elem)
		return
	}

	c.entries[key] = c.order.PushFront(cacheItem{key: key, value: value})

	if c.order.Len() <= c.max {
		return
	}

	if tail := c.order.Back(); tail != nil {
		c.order.Remove(tail)
		delete(c.entries, tail.Value.(cacheItem).key)
	}
}

func (c *decisionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *decisionCache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.order.Len()
	c.order.Init()
	c.entries = make(map[string]*list.Element, c.max)
	return n
}
