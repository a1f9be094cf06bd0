package analysis

import "time"

// UserStats are totals over every user record, including the ones sampling
// dropped.
type UserStats struct {
	Total                   int `json:"total"`
	Enabled                 int `json:"enabled"`
	Disabled                int `json:"disabled"`
	PasswordNeverExpires    int `json:"password_never_expires"`
	StalePasswords          int `json:"stale_passwords_over_365_days"`
	InactiveOver90Days      int `json:"inactive_over_90_days"`
	NeverLoggedOn           int `json:"never_logged_on"`
	PreAuthDisabled         int `json:"preauth_disabled"`
	ServiceAccountsWithSPN  int `json:"accounts_with_spn"`
	AdminCount              int `json:"admin_count_set"`
	PrivilegedMembers       int `json:"privileged_group_members"`
	UnconstrainedDelegation int `json:"unconstrained_delegation"`
}

// AggregateUsers computes UserStats for records as of now
func AggregateUsers(records []Record, now time.Time) UserStats {
	s := UserStats{Total: len(records)}
	for _, r := range records {
		enabled := isEnabled(r)
		if enabled {
			s.Enabled++
		} else {
			s.Disabled++
		}
		if enabled && passwordNeverExpires(r) {
			s.PasswordNeverExpires++
		}
		if age, ok := passwordAgeDays(r, now); ok && age > 365 {
			s.StalePasswords++
		}
		if enabled {
			if days, ok := inactiveDays(r, now); ok && days > 90 {
				s.InactiveOver90Days++
			}
		}
		if neverLoggedOn(r) {
			s.NeverLoggedOn++
		}
		if preauthDisabled(r) {
			s.PreAuthDisabled++
		}
		if hasSPN(r) {
			s.ServiceAccountsWithSPN++
		}
		if adminCountSet(r) {
			s.AdminCount++
		}
		if isPrivilegedMember(r) {
			s.PrivilegedMembers++
		}
		if unconstrainedDelegation(r) {
			s.UnconstrainedDelegation++
		}
	}
	return s
}
