package trust

import (
	"regexp"
	"strings"
)

// StringTemplatePrefix marks names the rendering engine generates for
// templates compiled from runtime strings.
const StringTemplatePrefix = "__string_template__"

var (
	hashLikeName = regexp.MustCompile(`^[a-f0-9]{32,}$`)
	numericName  = regexp.MustCompile(`^\d+$`)
)

// LooksDynamic reports whether a path-less template name looks like user or
// generated content. Patterns are checked in order; the first match wins.
func LooksDynamic(name string) bool {
	switch {
	case name == "":
		return false
	case strings.HasPrefix(name, StringTemplatePrefix):
		return true
	case hashLikeName.MatchString(name):
		return true
	case numericName.MatchString(name):
		return true
	default:
		return false
	}
}
