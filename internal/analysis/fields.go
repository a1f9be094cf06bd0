package analysis

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// userAccountControl flag bits
const (
	uacAccountDisable        = 0x2
	uacDontExpirePassword    = 0x10000
	uacTrustedForDelegation  = 0x80000
	uacDontRequirePreauth    = 0x400000
	filetimeUnixEpochOffset  = 116444736000000000
	filetimeTicksPerMilli    = 10000
	minPlausibleFiletimeTick = 100000000000000000
)

var privilegedGroups = []string{
	"domain admins",
	"enterprise admins",
	"schema admins",
	"administrators",
	"account operators",
	"backup operators",
	"server operators",
	"print operators",
	"dnsadmins",
	"group policy creator owners",
	"key admins",
	"enterprise key admins",
}

var msDateRe = regexp.MustCompile(`^/Date\((-?\d+)(?:[+-]\d{4})?\)/$`)

// field returns the first present value among names, matched case-insensitively
func field(r Record, names ...string) (any, bool) {
	for _, n := range names {
		if v, ok := r[n]; ok {
			return v, true
		}
	}
	for _, n := range names {
		for k, v := range r {
			if strings.EqualFold(k, n) {
				return v, true
			}
		}
	}
	return nil, false
}

func asBool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		return b, err == nil
	case json.Number:
		n, err := t.Int64()
		return n != 0, err == nil
	case float64:
		return t != 0, true
	}
	return false, false
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

func boolField(r Record, names ...string) bool {
	v, ok := field(r, names...)
	if !ok {
		return false
	}
	b, _ := asBool(v)
	return b
}

func numberField(r Record, names ...string) (float64, bool) {
	v, ok := field(r, names...)
	if !ok {
		return 0, false
	}
	return asFloat(v)
}

func uacFlag(r Record, bit int64) bool {
	n, ok := numberField(r, "UserAccountControl", "userAccountControl")
	if !ok {
		return false
	}
	return int64(n)&bit != 0
}

// nonEmpty reports whether v holds a non-blank string or a non-empty list
func nonEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(t) != ""
	case []any:
		for _, item := range t {
			if nonEmpty(item) {
				return true
			}
		}
		return false
	case map[string]any:
		return len(t) > 0
	}
	return true
}

func stringsOf(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []any:
		var out []string
		for _, item := range t {
			out = append(out, stringsOf(item)...)
		}
		return out
	case map[string]any:
		var out []string
		for _, item := range t {
			out = append(out, stringsOf(item)...)
		}
		return out
	}
	return nil
}

// parseADTime understands the date shapes produced by PowerShell exports:
// /Date(ms)/, RFC 3339, plain ISO timestamps and FILETIME integers.
func parseADTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, false
		}
		if m := msDateRe.FindStringSubmatch(s); m != nil {
			ms, err := strconv.ParseInt(m[1], 10, 64)
			if err != nil || ms <= 0 {
				return time.Time{}, false
			}
			return time.UnixMilli(ms).UTC(), true
		}
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "01/02/2006 15:04:05", "2006-01-02"} {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC(), true
			}
		}
	case json.Number, float64:
		n, ok := asFloat(t)
		if !ok || n < minPlausibleFiletimeTick {
			return time.Time{}, false
		}
		ms := (int64(n) - filetimeUnixEpochOffset) / filetimeTicksPerMilli
		return time.UnixMilli(ms).UTC(), true
	}
	return time.Time{}, false
}

// ageDays returns the age in days of the first date field present, or of an
// explicit day-count field.
func ageDays(r Record, now time.Time, dateFields []string, dayFields []string) (float64, bool) {
	if v, ok := field(r, dateFields...); ok {
		if ts, ok := parseADTime(v); ok {
			return now.Sub(ts).Hours() / 24, true
		}
	}
	if n, ok := numberField(r, dayFields...); ok {
		return n, true
	}
	return 0, false
}

func isEnabled(r Record) bool {
	if v, ok := field(r, "Enabled"); ok {
		if b, ok := asBool(v); ok {
			return b
		}
	}
	return !uacFlag(r, uacAccountDisable)
}

func isPrivilegedMember(r Record) bool {
	if boolField(r, "IsPrivileged", "Privileged") {
		return true
	}
	if v, ok := field(r, "PrivilegedGroups"); ok && nonEmpty(v) {
		return true
	}
	v, ok := field(r, "MemberOf", "Groups")
	if !ok {
		return false
	}
	for _, g := range stringsOf(v) {
		name := strings.ToLower(g)
		if strings.HasPrefix(name, "cn=") {
			name = strings.TrimPrefix(strings.SplitN(name, ",", 2)[0], "cn=")
		}
		for _, p := range privilegedGroups {
			if name == p {
				return true
			}
		}
	}
	return false
}

func hasSPN(r Record) bool {
	v, ok := field(r, "ServicePrincipalName", "ServicePrincipalNames", "SPN", "SPNs")
	return ok && nonEmpty(v)
}

func preauthDisabled(r Record) bool {
	return boolField(r, "DoesNotRequirePreAuth", "PreAuthNotRequired") || uacFlag(r, uacDontRequirePreauth)
}

func passwordNeverExpires(r Record) bool {
	return boolField(r, "PasswordNeverExpires") || uacFlag(r, uacDontExpirePassword)
}

func unconstrainedDelegation(r Record) bool {
	return boolField(r, "TrustedForDelegation", "UnconstrainedDelegation") || uacFlag(r, uacTrustedForDelegation)
}

func adminCountSet(r Record) bool {
	n, ok := numberField(r, "AdminCount", "adminCount")
	return ok && n >= 1
}

func passwordAgeDays(r Record, now time.Time) (float64, bool) {
	return ageDays(r, now, []string{"PasswordLastSet", "pwdLastSet"}, []string{"PasswordAgeDays", "PasswordAge"})
}

func inactiveDays(r Record, now time.Time) (float64, bool) {
	return ageDays(r, now,
		[]string{"LastLogonDate", "LastLogonTimestamp", "lastLogonTimestamp", "LastLogon"},
		[]string{"DaysSinceLastLogon", "InactiveDays"})
}

// neverLoggedOn is true only when a last-logon field exists but holds no date
func neverLoggedOn(r Record) bool {
	v, ok := field(r, "LastLogonDate", "LastLogonTimestamp", "lastLogonTimestamp", "LastLogon")
	if !ok {
		return false
	}
	_, parsed := parseADTime(v)
	return !parsed
}
