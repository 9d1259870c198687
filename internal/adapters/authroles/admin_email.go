package authroles

import "strings"

// AdminEmailMatcher recognises the single configured administrator address.
// An empty Address never matches.
type AdminEmailMatcher struct {
	Address string
}

// NewAdminEmailMatcher trims the configured address once up front.
func NewAdminEmailMatcher(address string) AdminEmailMatcher {
	return AdminEmailMatcher{Address: strings.TrimSpace(address)}
}

// Matches reports whether email is the administrator address, ignoring case
// and surrounding whitespace.
func (m AdminEmailMatcher) Matches(email string) bool {
	addr := strings.TrimSpace(m.Address)
	if addr == "" {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(email), addr)
}
