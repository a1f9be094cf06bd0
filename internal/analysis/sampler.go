package analysis

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// MaxFieldChars bounds any string value before sampling
	MaxFieldChars = 500
	// maxArrayItems bounds array fields on the last size-fitting step
	maxArrayItems = 5
	// maxFitAttempts bounds the size-fitting loop
	maxFitAttempts = 3
)

// Sampler reduces oversized categories to a risk-prioritised subset
type Sampler struct {
	PriorityCap int
	NormalCap   int
	Now         func() time.Time
}

// SampleResult is the reduced record set plus a note describing the reduction
type SampleResult struct {
	Records       []Record
	Note          string
	PriorityTotal int
	NormalTotal   int
	PriorityKept  int
	NormalKept    int
}

func (s Sampler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Sample keeps every record when the set fits PriorityCap+NormalCap and the
// risky records fit PriorityCap; normal records may use priority room left
// unused. Otherwise it keeps up to PriorityCap risky records followed by up
// to NormalCap others, each group in input order. Generic categories have no
// risk predicate and keep the first PriorityCap+NormalCap records.
func (s Sampler) Sample(records []Record, kind string) SampleResult {
	limit := s.PriorityCap + s.NormalCap

	var isPriority func(Record) bool
	now := s.now()
	switch kind {
	case KindUsers:
		isPriority = func(r Record) bool { return isPriorityUser(r, now) }
	case KindGPOs:
		isPriority = isPriorityGPO
	default:
		if len(records) <= limit {
			return SampleResult{Records: records, NormalTotal: len(records), NormalKept: len(records)}
		}
		kept := records[:limit]
		return SampleResult{
			Records:     kept,
			NormalTotal: len(records),
			NormalKept:  len(kept),
			Note: fmt.Sprintf("Dataset reduced: showing the first %d of %d records. Aggregate statistics cover all records.",
				len(kept), len(records)),
		}
	}

	var priority, normal []Record
	for _, r := range records {
		if isPriority(r) {
			priority = append(priority, r)
		} else {
			normal = append(normal, r)
		}
	}
	if len(records) <= limit && len(priority) <= s.PriorityCap {
		return SampleResult{
			Records:       records,
			PriorityTotal: len(priority),
			NormalTotal:   len(normal),
			PriorityKept:  len(priority),
			NormalKept:    len(normal),
		}
	}

	res := SampleResult{PriorityTotal: len(priority), NormalTotal: len(normal)}
	if len(priority) > s.PriorityCap {
		priority = priority[:s.PriorityCap]
	}
	if len(normal) > s.NormalCap {
		normal = normal[:s.NormalCap]
	}
	res.PriorityKept = len(priority)
	res.NormalKept = len(normal)

	res.Records = make([]Record, 0, len(priority)+len(normal))
	res.Records = append(res.Records, priority...)
	res.Records = append(res.Records, normal...)
	res.Note = fmt.Sprintf(
		"Dataset reduced from %d to %d records: %d of %d high-risk records and %d of %d other records. Aggregate statistics cover all records.",
		len(records), len(res.Records), res.PriorityKept, res.PriorityTotal, res.NormalKept, res.NormalTotal)
	return res
}

func isPriorityUser(r Record, now time.Time) bool {
	if isPrivilegedMember(r) || hasSPN(r) || preauthDisabled(r) || adminCountSet(r) || unconstrainedDelegation(r) {
		return true
	}
	if passwordNeverExpires(r) && isEnabled(r) {
		return true
	}
	if age, ok := passwordAgeDays(r, now); ok && age > 365 {
		return true
	}
	return false
}

var gpoSecurityKeywords = []string{
	"password", "audit", "userrights", "user rights", "security", "kerberos",
	"lsa", "ntlm", "lanman", "smb", "cpassword", "restricted groups",
}

func isPriorityGPO(r Record) bool {
	if boolField(r, "Enforced", "Enforcement", "NoOverride") {
		return true
	}
	if boolField(r, "Linked", "IsLinked") {
		return true
	}
	if v, ok := field(r, "LinksTo", "Links", "LinkedTo", "Link"); ok && nonEmpty(v) {
		return true
	}
	v, ok := field(r, "Settings", "SecuritySettings", "ComputerSettings", "UserSettings", "Extensions")
	if !ok {
		return false
	}
	for _, s := range stringsOf(v) {
		lower := strings.ToLower(s)
		for _, kw := range gpoSecurityKeywords {
			if strings.Contains(lower, kw) {
				return true
			}
		}
	}
	return false
}

// TruncateStrings returns a copy of records where every string longer than
// maxChars runes is cut to maxChars followed by "...".
func TruncateStrings(records []Record, maxChars int) []Record {
	out := make([]Record, len(records))
	for i, r := range records {
		out[i] = truncateValue(r, maxChars).(Record)
	}
	return out
}

func truncateValue(v any, maxChars int) any {
	switch t := v.(type) {
	case string:
		if utf8.RuneCountInString(t) <= maxChars {
			return t
		}
		runes := []rune(t)
		return string(runes[:maxChars]) + "..."
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = truncateValue(val, maxChars)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, val := range t {
			s[i] = truncateValue(val, maxChars)
		}
		return s
	}
	return v
}

// FitResult is the outcome of FitToSize
type FitResult struct {
	Records []Record
	Size    int
	Steps   []string
}

// FitToSize degrades records until their JSON form is at most maxBytes, in
// at most three steps: halve the item count, keep one representative item,
// cap that item's array fields at five elements. The result is never empty
// for non-empty input even if the last step still exceeds maxBytes.
func FitToSize(records []Record, maxBytes int) FitResult {
	res := FitResult{Records: records, Size: jsonSize(records)}
	if len(records) == 0 || res.Size <= maxBytes {
		return res
	}

	for attempt := 1; attempt <= maxFitAttempts && res.Size > maxBytes; attempt++ {
		before := res.Size
		switch attempt {
		case 1:
			n := len(res.Records) / 2
			if n < 1 {
				n = 1
			}
			res.Records = res.Records[:n]
			res.Steps = append(res.Steps, fmt.Sprintf("halved to %d items", n))
		case 2:
			res.Records = res.Records[:1]
			res.Steps = append(res.Steps, "collapsed to 1 representative item")
		case 3:
			res.Records = []Record{capArrays(res.Records[0], maxArrayItems)}
			res.Steps = append(res.Steps, fmt.Sprintf("truncated array fields to %d elements", maxArrayItems))
		}
		res.Size = jsonSize(res.Records)
		res.Steps[len(res.Steps)-1] += fmt.Sprintf(" (%d -> %d bytes)", before, res.Size)
	}
	return res
}

func capArrays(r Record, max int) Record {
	out := make(Record, len(r))
	for k, v := range r {
		if arr, ok := v.([]any); ok && len(arr) > max {
			out[k] = arr[:max]
			continue
		}
		out[k] = v
	}
	return out
}

func jsonSize(records []Record) int {
	b, err := json.Marshal(records)
	if err != nil {
		return 0
	}
	return len(b)
}
