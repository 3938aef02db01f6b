package routing

import (
	"slices"
	"sort"
	"strings"
)

// Group routes mail from any matching sender to Target.
//
// A sender matches when it contains (or equals) one of Senders,
// compared case-insensitively. A group with no senders is unreachable
// and a group with an empty target is inert.
type Group struct {
	Senders []string `json:"senders"`
	Target  string   `json:"target"`
}

// State is the routing document. Values handed out by Store are copies;
// mutating them does not affect the live state.
type State struct {
	Admins        []string         `json:"admins"`
	Groups        map[string]Group `json:"groups"`
	DefaultTarget string           `json:"default_target"`
}

// DefaultState is the document created when none exists yet.
func DefaultState(admin string) State {
	st := State{Admins: []string{}, Groups: map[string]Group{}}
	if a := strings.TrimSpace(admin); a != "" {
		st.Admins = append(st.Admins, a)
	}
	return st
}

// Clone returns a deep copy with nil collections replaced by empty ones,
// so the document always round-trips with "groups": {} and "admins": [].
func (s State) Clone() State {
	out := State{
		Admins:        slices.Clone(s.Admins),
		Groups:        make(map[string]Group, len(s.Groups)),
		DefaultTarget: s.DefaultTarget,
	}
	if out.Admins == nil {
		out.Admins = []string{}
	}
	for name, g := range s.Groups {
		senders := slices.Clone(g.Senders)
		if senders == nil {
			senders = []string{}
		}
		out.Groups[name] = Group{Senders: senders, Target: g.Target}
	}
	return out
}

// IsAdmin reports an exact match of chatID against the admin set.
func (s State) IsAdmin(chatID string) bool {
	return slices.Contains(s.Admins, chatID)
}

// GroupNames returns group names in sorted order.
func (s State) GroupNames() []string {
	names := make([]string, 0, len(s.Groups))
	for name := range s.Groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Senders returns every non-empty matcher across groups, trimmed,
// lowercased and deduplicated, in group name order.
func (s State) Senders() []string {
	seen := make(map[string]bool)
	var out []string
	for _, name := range s.GroupNames() {
		for _, m := range s.Groups[name].Senders {
			m = strings.ToLower(strings.TrimSpace(m))
			if m == "" || seen[m] {
				continue
			}
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}
