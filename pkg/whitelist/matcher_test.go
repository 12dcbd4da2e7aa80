package whitelist

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatcher(t *testing.T) {
	tests := []struct {
		name     string
		pattern  string
		foldCase bool
		input    string
		want     bool
	}{
		{"exact", "getUrl", false, "getUrl", true},
		{"exact mismatch", "getUrl", false, "getUrls", false},
		{"exact case sensitive", "title", false, "Title", false},
		{"prefix", "get*", false, "getTitle", true},
		{"prefix bare", "get*", false, "get", true},
		{"prefix mismatch", "get*", false, "setTitle", false},
		{"any", "*", false, "anything", true},
		{"any empty", "*", false, "", true},
		{"fold exact", "getUrl", true, "GETURL", true},
		{"fold prefix", "is*", true, "IsEnabled", true},
		{"fold pattern", "GET*", true, "getTitle", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Compile(tt.pattern, tt.foldCase)
			assert.Equal(t, tt.want, m.Match(tt.input))
		})
	}
}

func TestMatcherString(t *testing.T) {
	assert.Equal(t, "*", Compile("*", false).String())
	assert.Equal(t, "has*", Compile("has*", false).String())
	assert.Equal(t, "geturl", Compile("getUrl", true).String())
}
