package analysis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Document is the uploaded assessment: top-level category key to payload
type Document map[string]json.RawMessage

// Record is one JSON object of a category payload
type Record = map[string]any

// ParseDocument decodes the top level of an uploaded document
func ParseDocument(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode assessment document: %w", err)
	}
	if doc == nil {
		doc = Document{}
	}
	return doc, nil
}

// Extract finds the payload stored under name (case-insensitive) and
// normalises it to records. Precedence is a Data wrapper, then an array, then
// a single object. An absent, null or empty payload returns nil and no error.
func Extract(doc Document, name string) ([]Record, error) {
	raw, ok := lookup(doc, name)
	if !ok {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", name, err)
	}
	return normalize(v, true), nil
}

// ExtractCategory tries each of the category keys in order
func ExtractCategory(doc Document, cat Category) ([]Record, error) {
	candidates := append(append([]string{}, cat.Keys...), cat.ID, cat.Name)
	for _, key := range candidates {
		if _, ok := lookup(doc, key); !ok {
			continue
		}
		records, err := Extract(doc, key)
		if err != nil || len(records) > 0 {
			return records, err
		}
	}
	return nil, nil
}

func lookup(doc Document, name string) (json.RawMessage, bool) {
	if raw, ok := doc[name]; ok {
		return raw, true
	}
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if strings.EqualFold(k, name) {
			return doc[k], true
		}
	}
	return nil, false
}

func normalize(v any, unwrap bool) []Record {
	switch t := v.(type) {
	case nil:
		return nil
	case map[string]any:
		if unwrap {
			if inner, ok := dataField(t); ok {
				return normalize(inner, false)
			}
		}
		if len(t) == 0 {
			return nil
		}
		return []Record{t}
	case []any:
		var out []Record
		for _, item := range t {
			switch it := item.(type) {
			case nil:
			case map[string]any:
				if len(it) > 0 {
					out = append(out, it)
				}
			default:
				out = append(out, Record{"value": it})
			}
		}
		return out
	default:
		return []Record{{"value": t}}
	}
}

func dataField(m map[string]any) (any, bool) {
	if v, ok := m["Data"]; ok {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, "data") {
			return v, true
		}
	}
	return nil, false
}
