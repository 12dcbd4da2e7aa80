package whitelist

import (
	"fmt"
	"sort"
	"strings"
)

// Sentinel is the legacy marker that, listed among a category's entries,
// requests the baseline be merged in.
const Sentinel = "@defaults"

// Mode selects how a fragment combines with the baseline.
type Mode int

const (
	// ModeOverride uses the fragment verbatim.
	ModeOverride Mode = iota
	// ModeExtend unions the fragment with the baseline.
	ModeExtend
)

// String returns the configuration spelling of the mode.
func (m Mode) String() string {
	if m == ModeExtend {
		return "extend"
	}
	return "override"
}

// ParseMode converts a configuration value into a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "override":
		return ModeOverride, nil
	case "extend", "extend_baseline", "defaults":
		return ModeExtend, nil
	default:
		return ModeOverride, fmt.Errorf("unknown whitelist mode %q", s)
	}
}

// FlatFragment configures a flat category.
type FlatFragment struct {
	Mode    Mode
	Entries []string
}

// KeyedFragment configures a keyed category: owning type (or "*") to member
// patterns.
type KeyedFragment struct {
	Mode    Mode
	Entries map[string][]string
}

// Extend returns a flat fragment that adds entries to the baseline.
func Extend(entries ...string) FlatFragment {
	return FlatFragment{Mode: ModeExtend, Entries: entries}
}

// Override returns a flat fragment that replaces the baseline.
func Override(entries ...string) FlatFragment {
	return FlatFragment{Mode: ModeOverride, Entries: entries}
}

// ParseFlat lifts the legacy sentinel out of entries into the fragment mode.
func ParseFlat(entries []string) FlatFragment {
	f := FlatFragment{Mode: ModeOverride}
	for _, e := range entries {
		if e == Sentinel {
			f.Mode = ModeExtend
			continue
		}
		f.Entries = append(f.Entries, e)
	}
	return f
}

// ParseKeyed lifts the legacy sentinel out of every member list into the
// fragment mode.
func ParseKeyed(entries map[string][]string) KeyedFragment {
	f := KeyedFragment{Mode: ModeOverride, Entries: make(map[string][]string, len(entries))}
	for typ, names := range entries {
		for _, n := range names {
			if n == Sentinel {
				f.Mode = ModeExtend
				break
			}
		}
		f.Entries[typ] = withoutSentinel(names)
	}
	return f
}

// MergeFlat returns the effective set for a flat category. Extending yields
// the sorted, deduplicated union with baseline; overriding returns the
// fragment entries unchanged.
func MergeFlat(fragment FlatFragment, baseline []string) []string {
	if fragment.Mode != ModeExtend {
		return withoutSentinel(fragment.Entries)
	}
	return union(baseline, fragment.Entries)
}

// MergeKeyed returns the effective mapping for a keyed category. Extending
// starts from baseline and unions member sets per owning type; overriding
// returns the fragment entries unchanged.
func MergeKeyed(fragment KeyedFragment, baseline map[string][]string) map[string][]string {
	if fragment.Mode != ModeExtend {
		if fragment.Entries == nil {
			return nil
		}
		out := make(map[string][]string, len(fragment.Entries))
		for k, v := range fragment.Entries {
			out[k] = withoutSentinel(v)
		}
		return out
	}

	out := make(map[string][]string, len(baseline)+len(fragment.Entries))
	for k, v := range baseline {
		out[k] = union(v, nil)
	}
	for k, v := range fragment.Entries {
		out[k] = union(out[k], v)
	}
	return out
}

func union(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, v := range list {
			if v == Sentinel {
				continue
			}
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

func withoutSentinel(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v != Sentinel {
			out = append(out, v)
		}
	}
	return out
}
