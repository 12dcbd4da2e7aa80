package whitelist

import (
	"github.com/polisai/polis-sandbox/pkg/domain"
)

// Config holds one fragment per category. A nil fragment selects the
// baseline unchanged.
type Config struct {
	Directives *FlatFragment  `yaml:"directives,omitempty" json:"directives,omitempty"`
	Operators  *FlatFragment  `yaml:"operators,omitempty" json:"operators,omitempty"`
	Functions  *FlatFragment  `yaml:"functions,omitempty" json:"functions,omitempty"`
	Methods    *KeyedFragment `yaml:"methods,omitempty" json:"methods,omitempty"`
	Properties *KeyedFragment `yaml:"properties,omitempty" json:"properties,omitempty"`
}

func (c Config) flat(cat domain.Category) FlatFragment {
	var f *FlatFragment
	switch cat {
	case domain.CategoryDirectives:
		f = c.Directives
	case domain.CategoryOperators:
		f = c.Operators
	case domain.CategoryFunctions:
		f = c.Functions
	}
	if f == nil {
		return FlatFragment{Mode: ModeExtend}
	}
	return *f
}

func (c Config) keyed(cat domain.Category) KeyedFragment {
	var f *KeyedFragment
	switch cat {
	case domain.CategoryMethods:
		f = c.Methods
	case domain.CategoryProperties:
		f = c.Properties
	}
	if f == nil {
		return KeyedFragment{Mode: ModeExtend}
	}
	return *f
}

// Snapshot is the exported form of an effective whitelist.
type Snapshot struct {
	Directives []string            `yaml:"directives" json:"directives"`
	Operators  []string            `yaml:"operators" json:"operators"`
	Functions  []string            `yaml:"functions" json:"functions"`
	Methods    map[string][]string `yaml:"methods" json:"methods"`
	Properties map[string][]string `yaml:"properties" json:"properties"`
}

// Spec is the effective, merged whitelist. It is immutable once built and safe
// for concurrent use.
type Spec struct {
	flat  map[domain.Category][]string
	keyed map[domain.Category]map[string][]string

	names   map[domain.Category]map[string]struct{}
	members map[domain.Category]map[string][]Matcher
}

var _ domain.CapabilityPolicy = (*Spec)(nil)

// Build merges cfg with the baseline and compiles the result.
func Build(cfg Config) *Spec {
	s := &Spec{
		flat:    make(map[domain.Category][]string),
		keyed:   make(map[domain.Category]map[string][]string),
		names:   make(map[domain.Category]map[string]struct{}),
		members: make(map[domain.Category]map[string][]Matcher),
	}

	for _, cat := range domain.Categories {
		if cat.Keyed() {
			merged := MergeKeyed(cfg.keyed(cat), BaselineKeyed(cat))
			s.keyed[cat] = merged

			// Method names resolve case-insensitively in the target engine.
			fold := cat == domain.CategoryMethods
			compiled := make(map[string][]Matcher, len(merged))
			for typ, patterns := range merged {
				compiled[typ] = compileAll(patterns, fold)
			}
			s.members[cat] = compiled
			continue
		}

		merged := MergeFlat(cfg.flat(cat), BaselineFlat(cat))
		s.flat[cat] = merged

		set := make(map[string]struct{}, len(merged))
		for _, name := range merged {
			set[name] = struct{}{}
		}
		s.names[cat] = set
	}

	return s
}

// Default returns the baseline whitelist.
func Default() *Spec {
	return Build(Config{})
}

func (s *Spec) allowsName(cat domain.Category, name string) bool {
	_, ok := s.names[cat][name]
	return ok
}

func (s *Spec) allowsMember(cat domain.Category, member string, types []string) bool {
	byType := s.members[cat]
	for _, typ := range types {
		if matchAnyOf(byType[typ], member) {
			return true
		}
	}
	return matchAnyOf(byType[domain.AnyType], member)
}

// AllowsDirective implements domain.CapabilityPolicy.
func (s *Spec) AllowsDirective(name string) bool {
	return s.allowsName(domain.CategoryDirectives, name)
}

// AllowsOperator implements domain.CapabilityPolicy.
func (s *Spec) AllowsOperator(name string) bool {
	return s.allowsName(domain.CategoryOperators, name)
}

// AllowsFunction implements domain.CapabilityPolicy.
func (s *Spec) AllowsFunction(name string) bool {
	return s.allowsName(domain.CategoryFunctions, name)
}

// AllowsMethod implements domain.CapabilityPolicy. types lists the owning type
// and its ancestors; the "*" entry applies to every type.
func (s *Spec) AllowsMethod(method string, types ...string) bool {
	return s.allowsMember(domain.CategoryMethods, method, types)
}

// AllowsProperty implements domain.CapabilityPolicy.
func (s *Spec) AllowsProperty(property string, types ...string) bool {
	return s.allowsMember(domain.CategoryProperties, property, types)
}

// Flat returns a copy of the effective set for a flat category.
func (s *Spec) Flat(cat domain.Category) []string {
	return cloneSlice(s.flat[cat])
}

// Keyed returns a copy of the effective mapping for a keyed category.
func (s *Spec) Keyed(cat domain.Category) map[string][]string {
	return cloneKeyed(s.keyed[cat])
}

// Snapshot returns a copy of every category for export.
func (s *Spec) Snapshot() Snapshot {
	return Snapshot{
		Directives: s.Flat(domain.CategoryDirectives),
		Operators:  s.Flat(domain.CategoryOperators),
		Functions:  s.Flat(domain.CategoryFunctions),
		Methods:    s.Keyed(domain.CategoryMethods),
		Properties: s.Keyed(domain.CategoryProperties),
	}
}
