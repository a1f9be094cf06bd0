package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/GoSim-25-26J-441/adsec-backend/internal/assessment/domain"
	"github.com/xeipuuv/gojsonschema"
)

var (
	ErrEmptyResponse     = errors.New("empty ai response")
	ErrTruncatedResponse = errors.New("truncated ai response: unbalanced braces or brackets")
	ErrMalformedResponse = errors.New("malformed ai response")
)

const findingSchemaJSON = `{
  "type": "object",
  "required": ["title", "severity"],
  "properties": {
    "title": {"type": "string", "minLength": 1},
    "severity": {"type": "string", "minLength": 1},
    "description": {"type": ["string", "null"]},
    "recommendation": {"type": ["string", "null"]},
    "type_id": {"type": ["string", "null"]},
    "evidence": {"type": ["object", "string", "array", "null"]},
    "affected_count": {"type": ["integer", "string", "null"]}
  }
}`

var findingSchema = mustCompileSchema(findingSchemaJSON)

func mustCompileSchema(s string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
	if err != nil {
		panic(fmt.Sprintf("compile finding schema: %v", err))
	}
	return schema
}

// ParseResult holds the valid findings of one response and a reason for
// every item that was dropped.
type ParseResult struct {
	Findings []domain.Finding
	Dropped  []string
}

// ParseFindings turns raw model output into findings. Empty, truncated and
// non-JSON output are errors; individual invalid items are dropped.
func ParseFindings(raw string) (ParseResult, error) {
	cleaned := cleanJSONResponse(raw)
	if cleaned == "" {
		return ParseResult{}, ErrEmptyResponse
	}

	start := strings.IndexAny(cleaned, "[{")
	if start < 0 {
		return ParseResult{}, fmt.Errorf("%w: no JSON value found", ErrMalformedResponse)
	}
	cleaned = cleaned[start:]
	if !balanced(cleaned) {
		return ParseResult{}, ErrTruncatedResponse
	}

	var top json.RawMessage
	dec := json.NewDecoder(strings.NewReader(cleaned))
	if err := dec.Decode(&top); err != nil {
		return ParseResult{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	items, err := findingItems(top)
	if err != nil {
		return ParseResult{}, err
	}

	var res ParseResult
	for i, item := range items {
		result, err := findingSchema.Validate(gojsonschema.NewBytesLoader(item))
		if err != nil {
			res.Dropped = append(res.Dropped, fmt.Sprintf("item %d: %v", i, err))
			continue
		}
		if !result.Valid() {
			var reasons []string
			for _, e := range result.Errors() {
				reasons = append(reasons, e.String())
			}
			res.Dropped = append(res.Dropped, fmt.Sprintf("item %d: %s", i, strings.Join(reasons, "; ")))
			continue
		}

		f, err := toFinding(item)
		if err != nil {
			res.Dropped = append(res.Dropped, fmt.Sprintf("item %d: %v", i, err))
			continue
		}
		if f.AffectedCount == 0 && len(f.Evidence.AffectedObjects) == 0 {
			res.Dropped = append(res.Dropped, fmt.Sprintf("item %d (%s): no affected objects", i, f.Title))
			continue
		}
		res.Findings = append(res.Findings, f)
	}
	return res, nil
}

func findingItems(top json.RawMessage) ([]json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(top))
	if strings.HasPrefix(trimmed, "[") {
		var items []json.RawMessage
		if err := json.Unmarshal(top, &items); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		return items, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(top, &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	for k, v := range obj {
		if strings.EqualFold(k, "findings") {
			return findingItems(v)
		}
	}
	if _, ok := obj["title"]; ok {
		return []json.RawMessage{top}, nil
	}
	return nil, fmt.Errorf("%w: object without findings", ErrMalformedResponse)
}

// cleanJSONResponse strips Markdown code fences and surrounding whitespace
func cleanJSONResponse(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.ContainsAny(s[:nl], "[{") {
			s = s[nl+1:]
		} else {
			s = strings.TrimPrefix(s, "json")
		}
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
	}
	return strings.TrimSpace(s)
}

// balanced reports whether braces and brackets outside string literals match
func balanced(s string) bool {
	var stack []byte
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			if len(stack) == 0 {
				return false
			}
			open := stack[len(stack)-1]
			if (c == '}' && open != '{') || (c == ']' && open != '[') {
				return false
			}
			stack = stack[:len(stack)-1]
		}
	}
	return len(stack) == 0 && !inString
}

// flexText accepts a string, a list of strings or any other JSON value
type flexText string

func (t *flexText) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*t = flexText(s)
		return nil
	}
	var list []any
	if err := json.Unmarshal(b, &list); err == nil {
		parts := make([]string, 0, len(list))
		for _, item := range list {
			parts = append(parts, textOf(item))
		}
		*t = flexText(strings.Join(parts, "\n"))
		return nil
	}
	if string(b) == "null" {
		*t = ""
		return nil
	}
	*t = flexText(b)
	return nil
}

// flexInt accepts a number or a numeric string
type flexInt int

func (n *flexInt) UnmarshalJSON(b []byte) error {
	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		*n = flexInt(f)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, _ := strconv.Atoi(strings.TrimSpace(s))
		*n = flexInt(v)
		return nil
	}
	*n = 0
	return nil
}

type rawFinding struct {
	TypeID               flexText        `json:"type_id"`
	Title                flexText        `json:"title"`
	Severity             flexText        `json:"severity"`
	Description          flexText        `json:"description"`
	Recommendation       flexText        `json:"recommendation"`
	Evidence             json.RawMessage `json:"evidence"`
	MitreAttack          flexText        `json:"mitre_attack"`
	CISControl           flexText        `json:"cis_control"`
	ImpactBusiness       flexText        `json:"impact_business"`
	RemediationCommands  flexText        `json:"remediation_commands"`
	Prerequisites        flexText        `json:"prerequisites"`
	OperationalImpact    flexText        `json:"operational_impact"`
	MicrosoftDocs        flexText        `json:"microsoft_docs"`
	CurrentVsRecommended flexText        `json:"current_vs_recommended"`
	Timeline             flexText        `json:"timeline"`
	AffectedCount        flexInt         `json:"affected_count"`
}

type rawEvidence struct {
	AffectedObjects []any    `json:"affected_objects"`
	Count           flexInt  `json:"count"`
	Details         flexText `json:"details"`
}

func toFinding(item json.RawMessage) (domain.Finding, error) {
	var rf rawFinding
	if err := json.Unmarshal(item, &rf); err != nil {
		return domain.Finding{}, err
	}

	f := domain.Finding{
		TypeID:               strings.TrimSpace(string(rf.TypeID)),
		Title:                strings.TrimSpace(string(rf.Title)),
		Severity:             domain.NormalizeSeverity(string(rf.Severity)),
		Description:          string(rf.Description),
		Recommendation:       string(rf.Recommendation),
		MitreAttack:          string(rf.MitreAttack),
		CISControl:           string(rf.CISControl),
		ImpactBusiness:       string(rf.ImpactBusiness),
		RemediationCommands:  string(rf.RemediationCommands),
		Prerequisites:        string(rf.Prerequisites),
		OperationalImpact:    string(rf.OperationalImpact),
		MicrosoftDocs:        string(rf.MicrosoftDocs),
		CurrentVsRecommended: string(rf.CurrentVsRecommended),
		Timeline:             string(rf.Timeline),
		AffectedCount:        int(rf.AffectedCount),
	}
	f.Evidence = parseEvidence(rf.Evidence)

	if f.Evidence.Count == 0 {
		f.Evidence.Count = len(f.Evidence.AffectedObjects)
	}
	if f.AffectedCount == 0 {
		f.AffectedCount = f.Evidence.Count
	}
	return f, nil
}

func parseEvidence(raw json.RawMessage) domain.Evidence {
	ev := domain.Evidence{AffectedObjects: []string{}}
	if len(raw) == 0 || string(raw) == "null" {
		return ev
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		ev.Details = s
		return ev
	}

	var list []any
	if err := json.Unmarshal(raw, &list); err == nil {
		ev.AffectedObjects = objectNames(list)
		return ev
	}

	var re rawEvidence
	if err := json.Unmarshal(raw, &re); err == nil {
		ev.AffectedObjects = objectNames(re.AffectedObjects)
		ev.Count = int(re.Count)
		ev.Details = string(re.Details)
	}
	return ev
}

func objectNames(items []any) []string {
	out := []string{}
	for _, item := range items {
		if name := strings.TrimSpace(textOf(item)); name != "" {
			out = append(out, name)
		}
	}
	return out
}

// textOf renders a JSON value as text. Objects use a name-like field when
// they have one.
func textOf(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case map[string]any:
		for _, k := range []string{"name", "Name", "SamAccountName", "sAMAccountName", "DistinguishedName", "DisplayName", "id"} {
			if s, ok := t[k].(string); ok && s != "" {
				return s
			}
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// DedupeByTitle keeps the first finding for each case-insensitive title
func DedupeByTitle(findings []domain.Finding) []domain.Finding {
	seen := make(map[string]bool, len(findings))
	out := make([]domain.Finding, 0, len(findings))
	for _, f := range findings {
		key := strings.ToLower(strings.TrimSpace(f.Title))
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, f)
	}
	return out
}
