package schema

import (
	"fmt"
	"strings"
)

// commonClassKeys are accepted on every candidate class regardless of concept.
var commonClassKeys = map[string]bool{
	"label":           true,
	"definition":      true,
	"text_references": true,
	"source_text":     true,
	"confidence":      true,
	"importance":      true,
	"category":        true,
}

// commonIndividualKeys are accepted on every individual regardless of concept.
var commonIndividualKeys = map[string]bool{
	"identifier": true,
	"confidence": true,
}

// matchKeys are the LLM's optional self-reported match assertion fields.
var matchKeys = map[string]bool{
	"matches_existing": true,
	"matched_uri":      true,
	"matched_label":    true,
	"match_reasoning":  true,
}

// NormalizeResponse maps an LLM response onto the spec's expected shape. It
// handles the legacy single-array response (treated as the classes array),
// pulls the two named arrays, and normalizes each item. It is applied before
// validation so both the combined path and the per-item fallback benefit.
func NormalizeResponse(spec ConceptSpec, raw any) (classes, individuals []map[string]any) {
	switch v := raw.(type) {
	case []any:
		// Legacy flat-array response: remap to the classes array.
		classes = normalizeItems(spec, v, true)
		return classes, nil
	case map[string]any:
		if arr, ok := v[spec.ClassesField].([]any); ok {
			classes = normalizeItems(spec, arr, true)
		}
		if arr, ok := v[spec.IndividualsField].([]any); ok {
			individuals = normalizeItems(spec, arr, false)
		}
		return classes, individuals
	default:
		return nil, nil
	}
}

func normalizeItems(spec ConceptSpec, items []any, isClass bool) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			// Stray scalar items (usually strings) carry no usable shape.
			continue
		}
		out = append(out, NormalizeItem(spec, m, isClass))
	}
	return out
}

// NormalizeItem maps one raw item's field-name variants onto the closed set
// of keys the validator understands: hyphenated enum values become
// underscored, name/label aliases resolve, and unknown keys are dropped so
// downstream code never probes attributes defensively.
func NormalizeItem(spec ConceptSpec, raw map[string]any, isClass bool) map[string]any {
	norm := make(map[string]any, len(raw))
	for k, v := range raw {
		key := strings.ToLower(strings.TrimSpace(k))
		norm[strings.ReplaceAll(key, "-", "_")] = v
	}

	out := make(map[string]any, len(norm))

	// The identity aliases all land on one output key, so an item carrying
	// more than one must resolve by fixed precedence, not map iteration
	// order: label > name for classes, identifier > name > label for
	// individuals.
	idKey := "label"
	aliases := []string{"label", "name"}
	if !isClass {
		idKey = "identifier"
		aliases = []string{"identifier", "name", "label"}
	}
	for _, alias := range aliases {
		if v, ok := norm[alias]; ok {
			out[idKey] = normalizeValue(idKey, v)
			break
		}
	}
	for _, alias := range aliases {
		delete(norm, alias)
	}

	known := knownKeys(spec, isClass)
	for key, v := range norm {
		switch key {
		case "reasoning":
			key = "match_reasoning"
		case "class", "class_reference":
			key = spec.ReferenceField
		}
		if !known[key] {
			continue
		}
		out[key] = normalizeValue(key, v)
	}
	return out
}

func knownKeys(spec ConceptSpec, isClass bool) map[string]bool {
	known := make(map[string]bool)
	if isClass {
		for k := range commonClassKeys {
			known[k] = true
		}
		for _, k := range spec.ClassFields {
			known[k] = true
		}
	} else {
		for k := range commonIndividualKeys {
			known[k] = true
		}
		known[spec.ReferenceField] = true
		for _, k := range spec.IndividualFields {
			known[k] = true
		}
	}
	for k := range matchKeys {
		known[k] = true
	}
	return known
}

// normalizeValue fixes enum value variants (hyphen to underscore) and
// coerces single strings into string lists where a list is expected.
func normalizeValue(key string, v any) any {
	switch key {
	case "category", "importance":
		if s, ok := v.(string); ok {
			s = strings.ToLower(strings.TrimSpace(s))
			return strings.ReplaceAll(s, "-", "_")
		}
	case "text_references":
		switch t := v.(type) {
		case string:
			return []any{t}
		case []any:
			return t
		}
	}
	return v
}

// TruncateRunes caps s at max runes. Slicing by byte could split a multi-byte
// sequence and leak invalid UTF-8 into stored or prompted text.
func TruncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

// stringify renders a scalar as its string form for field coercion.
func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}
