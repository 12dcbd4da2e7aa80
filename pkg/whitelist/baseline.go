package whitelist

import "github.com/polisai/polis-sandbox/pkg/domain"

var baselineFlat = map[domain.Category][]string{
	domain.CategoryDirectives: {
		"apply", "autoescape", "block", "do", "for", "if", "set", "verbatim", "with",
	},
	domain.CategoryOperators: {
		"abs", "batch", "capitalize", "column", "date", "date_modify", "default",
		"e", "escape", "first", "format", "join", "json_encode", "keys", "last",
		"length", "lower", "merge", "nl2br", "number_format", "replace", "reverse",
		"round", "slice", "split", "striptags", "title", "trim", "upper", "url_encode",
	},
	domain.CategoryFunctions: {
		"cycle", "date", "max", "min", "random", "range",
	},
}

var baselineKeyed = map[domain.Category]map[string][]string{
	domain.CategoryMethods: {
		domain.AnyType: {"get*", "has*", "is*"},
		"Markup":       {"*"},
		"Loop":         {"*"},
	},
	domain.CategoryProperties: {
		domain.AnyType: {
			"id", "title", "slug", "uri", "url", "name", "handle",
			"enabled", "dateCreated", "dateUpdated",
		},
		"Markup": {"*"},
		"Loop":   {"*"},
	},
}

// dangerous lists capabilities that allow template inclusion, arbitrary
// callables, file reads or runtime template compilation. None may appear in
// the baseline.
var dangerous = map[domain.Category][]string{
	domain.CategoryDirectives: {"embed", "extends", "from", "import", "include", "sandbox", "use"},
	domain.CategoryOperators:  {"filter", "find", "map", "reduce", "sort"},
	domain.CategoryFunctions:  {"attribute", "constant", "dump", "include", "source", "template_from_string"},
}

// BaselineFlat returns a copy of the baseline for a flat category. Keyed
// categories return nil.
func BaselineFlat(cat domain.Category) []string {
	return cloneSlice(baselineFlat[cat])
}

// BaselineKeyed returns a copy of the baseline for a keyed category. Flat
// categories return nil.
func BaselineKeyed(cat domain.Category) map[string][]string {
	src, ok := baselineKeyed[cat]
	if !ok {
		return nil
	}
	return cloneKeyed(src)
}

// Dangerous returns a copy of the capabilities that must never be enabled by
// default for a flat category.
func Dangerous(cat domain.Category) []string {
	return cloneSlice(dangerous[cat])
}

func cloneSlice(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}

func cloneKeyed(in map[string][]string) map[string][]string {
	if in == nil {
		return nil
	}
	out := make(map[string][]string, len(in))
	for k, v := range in {
		out[k] = cloneSlice(v)
	}
	return out
}
