// Package fieldmap resolves requested metadata fields against provider
// response nodes via per-platform path mappings.
package fieldmap

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind names the value type a requested field resolves to.
type Kind string

// Field kinds and their zero values when a requested field is absent.
const (
	KindString  Kind = "string"
	KindInteger Kind = "integer"
	KindBoolean Kind = "boolean"
	KindList    Kind = "list"
	KindDict    Kind = "dict"
)

// Mapping translates requested field names to dot-separated paths inside
// a provider response node.
type Mapping map[string]string

// Parser resolves fields for one platform and one requested-field set.
type Parser struct {
	mapping   Mapping
	requested map[string]struct{}
}

// NewParser builds a parser over the platform mapping and the flat list of
// requested field names.
func NewParser(mapping Mapping, requestedFields []string) *Parser {
	requested := make(map[string]struct{}, len(requestedFields))
	for _, field := range requestedFields {
		requested[field] = struct{}{}
	}
	return &Parser{mapping: mapping, requested: requested}
}

// Has reports whether the field was requested.
func (p *Parser) Has(field string) bool {
	_, ok := p.requested[field]
	return ok
}

// Field resolves one requested field from a decoded response node. A field
// that was never requested yields nil. A requested field whose path is
// unmapped or missing in the node yields the kind's zero value, so callers
// can always tell "not asked for" from "asked for but absent".
func (p *Parser) Field(node map[string]any, field string, kind Kind) any {
	if !p.Has(field) {
		return nil
	}
	path, ok := p.mapping[field]
	if !ok {
		return zeroValue(kind)
	}
	value := extract(node, strings.Split(path, "."))
	if value == nil {
		return zeroValue(kind)
	}
	if kind == KindList {
		if _, isList := value.([]any); !isList {
			return []any{value}
		}
	}
	return value
}

// StringField resolves a string-kinded field to the pointer convention
// used by record types: nil when not requested, pointer otherwise.
func (p *Parser) StringField(node map[string]any, field string) *string {
	value := p.Field(node, field, KindString)
	if value == nil {
		return nil
	}
	switch v := value.(type) {
	case string:
		return &v
	default:
		coerced := fmt.Sprint(v)
		return &coerced
	}
}

// IntField resolves an integer-kinded field.
func (p *Parser) IntField(node map[string]any, field string) *int {
	value := p.Field(node, field, KindInteger)
	if value == nil {
		return nil
	}
	result := 0
	switch v := value.(type) {
	case int:
		result = v
	case float64:
		result = int(v)
	case string:
		if parsed, err := strconv.Atoi(v); err == nil {
			result = parsed
		}
	}
	return &result
}

// StringListField resolves a list-kinded field, flattening nested lists
// and dropping entries the node did not carry.
func (p *Parser) StringListField(node map[string]any, field string) []string {
	value := p.Field(node, field, KindList)
	if value == nil {
		return nil
	}
	items, ok := value.([]any)
	if !ok {
		items = []any{value}
	}
	return flattenStrings(items)
}

// Subfields returns the requested subfield names under parent, e.g.
// "mergeRequests.title" yields "title" for parent "mergeRequests".
func Subfields(requestedFields []string, parent string) []string {
	prefix := parent + "."
	var subfields []string
	for _, field := range requestedFields {
		if strings.HasPrefix(field, prefix) {
			subfields = append(subfields, strings.TrimPrefix(field, prefix))
		}
	}
	return subfields
}

// extract walks a decoded JSON value along path parts. Lists fan the walk
// out across their items, so a mid-path list yields a list of results.
func extract(data any, parts []string) any {
	if data == nil || len(parts) == 0 {
		return data
	}
	switch v := data.(type) {
	case []any:
		out := make([]any, 0, len(v))
		for _, item := range v {
			out = append(out, extract(item, parts))
		}
		return out
	case map[string]any:
		return extract(v[parts[0]], parts[1:])
	default:
		return nil
	}
}

func flattenStrings(items []any) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case nil:
			continue
		case string:
			out = append(out, v)
		case []any:
			out = append(out, flattenStrings(v)...)
		default:
			out = append(out, fmt.Sprint(v))
		}
	}
	return out
}

func zeroValue(kind Kind) any {
	switch kind {
	case KindString:
		return ""
	case KindInteger:
		return 0
	case KindBoolean:
		return false
	case KindList:
		return []any{}
	case KindDict:
		return map[string]any{}
	}
	return nil
}
