package domain

import "fmt"

// Category is one of the five whitelist dimensions.
type Category string

const (
	CategoryDirectives Category = "directives"
	CategoryOperators  Category = "operators"
	CategoryFunctions  Category = "functions"
	CategoryMethods    Category = "methods"
	CategoryProperties Category = "properties"
)

// Categories lists every category in a stable order.
var Categories = []Category{
	CategoryDirectives,
	CategoryOperators,
	CategoryFunctions,
	CategoryMethods,
	CategoryProperties,
}

// Keyed reports whether the category maps owning types to member patterns
// rather than holding a flat set of names.
func (c Category) Keyed() bool {
	return c == CategoryMethods || c == CategoryProperties
}

// ParseCategory converts a configuration key into a Category.
func ParseCategory(s string) (Category, error) {
	for _, c := range Categories {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: unknown whitelist category %q", ErrConfigInvalid, s)
}

// AnyType is the owning-type wildcard for keyed categories.
const AnyType = "*"
