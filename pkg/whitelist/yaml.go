package whitelist

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/polisai/polis-sandbox/pkg/domain"
)

// Fragments accept three YAML spellings:
//
//	functions: [custom_fn]                           # override
//	functions: ["@defaults", custom_fn]              # extend (legacy sentinel)
//	functions: {mode: extend, entries: [custom_fn]}  # extend (explicit)
//
// Keyed categories use a type map in place of the entry list; the legacy form
// is a sequence mixing the sentinel with single-type maps:
//
//	methods: ["@defaults", {Entry: [getUrl, "has*"]}]
//
// The sentinel inside a member list also requests extension:
//
//	methods: {Entry: ["@defaults", getUrl]}

type explicitFlat struct {
	Mode    string   `yaml:"mode"`
	Entries []string `yaml:"entries"`
}

type explicitKeyed struct {
	Mode    string             `yaml:"mode"`
	Entries map[string]members `yaml:"entries"`
}

// members decodes either a scalar or a sequence of member patterns.
type members []string

func (m *members) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*m = members{value.Value}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := value.Decode(&list); err != nil {
			return err
		}
		*m = list
		return nil
	default:
		return fmt.Errorf("%w: line %d: members must be a name or a list of names", domain.ErrConfigInvalid, value.Line)
	}
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (f *FlatFragment) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*f = ParseFlat([]string{value.Value})
		return nil
	case yaml.SequenceNode:
		var entries []string
		if err := value.Decode(&entries); err != nil {
			return fmt.Errorf("%w: line %d: %v", domain.ErrConfigInvalid, value.Line, err)
		}
		*f = ParseFlat(entries)
		return nil
	case yaml.MappingNode:
		var raw explicitFlat
		if err := value.Decode(&raw); err != nil {
			return fmt.Errorf("%w: line %d: %v", domain.ErrConfigInvalid, value.Line, err)
		}
		mode, err := ParseMode(raw.Mode)
		if err != nil {
			return fmt.Errorf("%w: line %d: %v", domain.ErrConfigInvalid, value.Line, err)
		}
		parsed := ParseFlat(raw.Entries)
		if mode == ModeExtend {
			parsed.Mode = ModeExtend
		}
		*f = parsed
		return nil
	default:
		return fmt.Errorf("%w: line %d: unsupported whitelist fragment", domain.ErrConfigInvalid, value.Line)
	}
}

// MarshalYAML implements yaml.Marshaler using the explicit shape.
func (f FlatFragment) MarshalYAML() (interface{}, error) {
	entries := f.Entries
	if entries == nil {
		entries = []string{}
	}
	return explicitFlat{Mode: f.Mode.String(), Entries: entries}, nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (f *KeyedFragment) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.MappingNode:
		if hasKey(value, "entries") || hasKey(value, "mode") {
			var raw explicitKeyed
			if err := value.Decode(&raw); err != nil {
				return fmt.Errorf("%w: line %d: %v", domain.ErrConfigInvalid, value.Line, err)
			}
			mode, err := ParseMode(raw.Mode)
			if err != nil {
				return fmt.Errorf("%w: line %d: %v", domain.ErrConfigInvalid, value.Line, err)
			}
			parsed := ParseKeyed(flatten(raw.Entries))
			if mode == ModeExtend {
				parsed.Mode = ModeExtend
			}
			*f = parsed
			return nil
		}
		var plain map[string]members
		if err := value.Decode(&plain); err != nil {
			return fmt.Errorf("%w: line %d: %v", domain.ErrConfigInvalid, value.Line, err)
		}
		*f = ParseKeyed(flatten(plain))
		return nil
	case yaml.SequenceNode:
		mode := ModeOverride
		entries := map[string][]string{}
		for _, item := range value.Content {
			switch item.Kind {
			case yaml.ScalarNode:
				if item.Value != Sentinel {
					return fmt.Errorf("%w: line %d: %q is not a type mapping", domain.ErrConfigInvalid, item.Line, item.Value)
				}
				mode = ModeExtend
			case yaml.MappingNode:
				var m map[string]members
				if err := item.Decode(&m); err != nil {
					return fmt.Errorf("%w: line %d: %v", domain.ErrConfigInvalid, item.Line, err)
				}
				for typ, names := range m {
					entries[typ] = append(entries[typ], names...)
				}
			default:
				return fmt.Errorf("%w: line %d: unsupported keyed entry", domain.ErrConfigInvalid, item.Line)
			}
		}
		parsed := ParseKeyed(entries)
		if mode == ModeExtend {
			parsed.Mode = ModeExtend
		}
		*f = parsed
		return nil
	default:
		return fmt.Errorf("%w: line %d: unsupported whitelist fragment", domain.ErrConfigInvalid, value.Line)
	}
}

// MarshalYAML implements yaml.Marshaler using the explicit shape.
func (f KeyedFragment) MarshalYAML() (interface{}, error) {
	entries := f.Entries
	if entries == nil {
		entries = map[string][]string{}
	}
	return struct {
		Mode    string              `yaml:"mode"`
		Entries map[string][]string `yaml:"entries"`
	}{Mode: f.Mode.String(), Entries: entries}, nil
}

func hasKey(node *yaml.Node, key string) bool {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return true
		}
	}
	return false
}

func flatten(in map[string]members) map[string][]string {
	out := make(map[string][]string, len(in))
	for k, v := range in {
		out[k] = []string(v)
	}
	return out
}
