package whitelist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func genNames() *rapid.Generator[[]string] {
	return rapid.SliceOfN(rapid.StringMatching(`[a-z_]{1,8}`), 0, 12)
}

func genKeyed() *rapid.Generator[map[string][]string] {
	return rapid.MapOfN(rapid.SampledFrom([]string{"*", "Entry", "User", "Markup"}), genNames(), 0, 4)
}

// Property: extending yields exactly the deduplicated union.
func TestMergeFlatUnionProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		baseline := genNames().Draw(t, "baseline")
		extra := genNames().Draw(t, "extra")

		merged := MergeFlat(Extend(extra...), baseline)

		seen := map[string]bool{}
		for _, v := range merged {
			if seen[v] {
				t.Fatalf("duplicate %q in %v", v, merged)
			}
			seen[v] = true
		}
		for _, v := range append(append([]string{}, baseline...), extra...) {
			if !seen[v] {
				t.Fatalf("missing %q in %v", v, merged)
			}
		}
		if len(seen) != len(merged) {
			t.Fatalf("unexpected entries in %v", merged)
		}
	})
}

// Property: an override never leaks baseline entries.
func TestMergeFlatOverrideProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		baseline := genNames().Draw(t, "baseline")
		entries := genNames().Draw(t, "entries")

		merged := MergeFlat(Override(entries...), baseline)
		if len(entries) == 0 {
			assert.Empty(t, merged)
			return
		}
		assert.Equal(t, entries, merged)
	})
}

// Property: merging a merged result again changes nothing.
func TestMergeIdempotenceProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		baseline := genNames().Draw(t, "baseline")
		once := MergeFlat(Extend(genNames().Draw(t, "extra")...), baseline)
		twice := MergeFlat(Extend(once...), baseline)
		assert.Equal(t, once, twice)

		keyedBase := genKeyed().Draw(t, "keyedBaseline")
		keyedOnce := MergeKeyed(KeyedFragment{Mode: ModeExtend, Entries: genKeyed().Draw(t, "keyedExtra")}, keyedBase)
		keyedTwice := MergeKeyed(KeyedFragment{Mode: ModeExtend, Entries: keyedOnce}, keyedBase)
		assert.Equal(t, keyedOnce, keyedTwice)
	})
}
