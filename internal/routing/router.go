package routing

import (
	"context"
	"sort"
	"strings"
)

// Router resolves an email sender to chat destinations.
type Router struct {
	store *Store
}

func NewRouter(store *Store) *Router { return &Router{store: store} }

// Resolve reloads the routing document and returns the normalized targets of
// every group with a matching sender. The default target is used only when
// no group matched. The result is deduplicated and sorted; an empty result
// is a routing miss, not an error.
func (r *Router) Resolve(ctx context.Context, sender string) []string {
	st, err := r.store.Load(ctx)
	if err != nil {
		// Load already logged it; st is the fallback readers see.
		r.store.log.Debug("resolve on fallback routing state")
	}
	return resolve(st, sender)
}

func resolve(st State, sender string) []string {
	from := strings.ToLower(strings.TrimSpace(sender))
	set := make(map[string]struct{})

	for _, g := range st.Groups {
		target := NormalizeTarget(g.Target)
		if target == "" {
			continue
		}
		for _, m := range g.Senders {
			m = strings.ToLower(strings.TrimSpace(m))
			if m == "" {
				continue
			}
			if from == m || strings.Contains(from, m) {
				set[target] = struct{}{}
				break
			}
		}
	}

	if len(set) == 0 {
		if def := NormalizeTarget(st.DefaultTarget); def != "" {
			set[def] = struct{}{}
		}
	}

	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
