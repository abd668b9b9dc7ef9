package escalation

import (
	"sort"
	"strings"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
)

// selectRule picks the next rule above level. Levels are tried in ascending
// order; within a level a rule for one of the ticket's scopes beats a
// scope-less rule.
func selectRule(rules []domain.EscalationRule, level int, scopes []string) *domain.EscalationRule {
	candidates := make([]domain.EscalationRule, 0, len(rules))
	for _, r := range rules {
		if r.IsActive && r.Level > level {
			candidates = append(candidates, r)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Level != candidates[j].Level {
			return candidates[i].Level < candidates[j].Level
		}
		return candidates[i].ID < candidates[j].ID
	})

	for i := 0; i < len(candidates); {
		lvl := candidates[i].Level
		var scopeless *domain.EscalationRule
		for ; i < len(candidates) && candidates[i].Level == lvl; i++ {
			r := candidates[i]
			if r.Scope == "" {
				if scopeless == nil {
					scopeless = &r
				}
				continue
			}
			if matchesScope(r.Scope, scopes) {
				return &r
			}
		}
		if scopeless != nil {
			return scopeless
		}
	}
	return nil
}

func matchesScope(scope string, scopes []string) bool {
	for _, s := range scopes {
		if s != "" && strings.EqualFold(s, scope) {
			return true
		}
	}
	return false
}

func ticketScopes(t *domain.Ticket, category *domain.Category) []string {
	var scopes []string
	if t.GroupScope != "" {
		scopes = append(scopes, t.GroupScope)
	}
	if category != nil && category.ScopeSensitive && t.Location != "" {
		scopes = append(scopes, strings.TrimSpace(t.Location))
	}
	return append(scopes, t.State.ScopeTags...)
}
