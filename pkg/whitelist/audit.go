package whitelist

import (
	"errors"
	"fmt"
	"sort"

	"github.com/polisai/polis-sandbox/pkg/domain"
)

// Audit reports every dangerous capability present in s, joined into one
// error. A nil result means the whitelist only grants side-effect-free
// operations. Callers log the result at configuration time; it is not
// enforced at render time.
func Audit(s *Spec) error {
	var errs []error

	for _, cat := range domain.Categories {
		if cat.Keyed() {
			continue
		}
		for _, name := range dangerous[cat] {
			if s.allowsName(cat, name) {
				errs = append(errs, fmt.Errorf("%w: %s %q", domain.ErrDangerousEntry, cat, name))
			}
		}
	}

	for _, cat := range []domain.Category{domain.CategoryMethods, domain.CategoryProperties} {
		types := make([]string, 0, len(s.members[cat]))
		for typ := range s.members[cat] {
			types = append(types, typ)
		}
		sort.Strings(types)

		for _, typ := range types {
			if !grantsAll(s.members[cat][typ]) || baselineGrantsAll(cat, typ) {
				continue
			}
			owner := typ
			if typ == domain.AnyType {
				owner = "every type"
			}
			errs = append(errs, fmt.Errorf("%w: every %s on %s", domain.ErrDangerousEntry, memberNoun[cat], owner))
		}
	}

	return errors.Join(errs...)
}

var memberNoun = map[domain.Category]string{
	domain.CategoryMethods:    "method",
	domain.CategoryProperties: "property",
}

func grantsAll(ms []Matcher) bool {
	for _, m := range ms {
		if m.kind == matchAny {
			return true
		}
	}
	return false
}

// baselineGrantsAll reports whether typ is one of the engine runtime types
// the baseline already opens fully.
func baselineGrantsAll(cat domain.Category, typ string) bool {
	if typ == domain.AnyType {
		return false
	}
	for _, m := range baselineKeyed[cat][typ] {
		if m == "*" {
			return true
		}
	}
	return false
}
