package routing

import (
	"regexp"
	"strings"
)

const (
	personSuffix = "@c.us"
	groupSuffix  = "@g.us"
)

var groupIDRe = regexp.MustCompile(`^120[0-9]+$`)

// NormalizeTarget canonicalizes a destination identifier.
//
// Values already ending in a person or group suffix are kept; bare group ids
// (120...) get the group suffix; anything else is reduced to its digits and
// gets the person suffix. Empty input means no destination.
func NormalizeTarget(raw string) string {
	t := strings.TrimSpace(raw)
	if t == "" {
		return ""
	}
	if strings.HasSuffix(t, personSuffix) || strings.HasSuffix(t, groupSuffix) {
		return t
	}
	if groupIDRe.MatchString(t) {
		return t + groupSuffix
	}
	var b strings.Builder
	for _, r := range t {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return b.String() + personSuffix
}
