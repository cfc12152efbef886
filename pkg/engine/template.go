package engine

import (
	"regexp"
	"strings"
)

// placeholderPattern matches ${dotted.path} template tokens.
var placeholderPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// LookupFunc resolves a dotted path to a value. A false return means the path
// is unknown, which the resolver treats as a fatal configuration error.
type LookupFunc func(path string) (Value, bool)

// LayeredLookup combines lookup layers; the first layer claiming a path wins.
// Each layer is a mapping Value searched with its own dotted descent.
func LayeredLookup(layers ...Value) LookupFunc {
	return func(path string) (Value, bool) {
		for _, layer := range layers {
			if v, ok := layer.Lookup(path); ok {
				return v, true
			}
		}
		return Value{}, false
	}
}

// ResolveTemplates substitutes every ${dotted.path} placeholder in v.
//
// The resolver recurses structurally over mappings and sequences. A string
// that is exactly one placeholder resolves to the looked-up value with its
// type preserved, so numeric timeouts and nested objects survive
// substitution. A placeholder embedded in wider text is resolved per match
// and string-coerced. A lookup miss fails with an unresolved-variable
// configuration error. Placeholder-free input comes back unchanged.
func ResolveTemplates(v Value, lookup LookupFunc) (Value, error) {
	switch v.Kind() {
	case KindString:
		s, _ := v.AsString()
		return resolveString(s, lookup)
	case KindSequence:
		items, _ := v.AsSeq()
		resolved := make([]Value, len(items))
		for i, item := range items {
			r, err := ResolveTemplates(item, lookup)
			if err != nil {
				return Value{}, err
			}
			resolved[i] = r
		}
		return SeqValue(resolved...), nil
	case KindMapping:
		m, _ := v.AsMap()
		resolved := make(map[string]Value, len(m))
		for k, item := range m {
			r, err := ResolveTemplates(item, lookup)
			if err != nil {
				return Value{}, err
			}
			resolved[k] = r
		}
		return MapValue(resolved), nil
	default:
		return v, nil
	}
}

// resolveString substitutes placeholders in a single string.
func resolveString(s string, lookup LookupFunc) (Value, error) {
	matches := placeholderPattern.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return StringValue(s), nil
	}

	// Whole-string placeholder: pass the looked-up value through untouched.
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		path := s[matches[0][2]:matches[0][3]]
		v, ok := lookup(path)
		if !ok {
			return Value{}, NewUnresolvedVariableError(path)
		}
		return v, nil
	}

	// Embedded placeholders: substitute each match, coercing to text.
	var b strings.Builder
	last := 0
	for _, m := range matches {
		path := s[m[2]:m[3]]
		v, ok := lookup(path)
		if !ok {
			return Value{}, NewUnresolvedVariableError(path)
		}
		b.WriteString(s[last:m[0]])
		b.WriteString(v.Text())
		last = m[1]
	}
	b.WriteString(s[last:])
	return StringValue(b.String()), nil
}

// ContainsPlaceholder reports whether the string carries template syntax.
func ContainsPlaceholder(s string) bool {
	return placeholderPattern.MatchString(s)
}
