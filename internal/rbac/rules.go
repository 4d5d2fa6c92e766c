package rbac

import (
	"context"
	"strings"

	"cloudgate.io/internal/identity"
)

// RouteRuleMatcher is the built-in rule matcher. It understands rules of the
// form "CAN <route> [, <route> ...]", matching route identifiers
// case-insensitively. Anything richer belongs in an external policy engine
// implementing RuleMatcher.
type RouteRuleMatcher struct{}

// Allows reports whether any rule in any policy names the route.
func (RouteRuleMatcher) Allows(_ context.Context, policies []identity.Policy, route string) (bool, error) {
	route = strings.ToLower(strings.TrimSpace(route))
	if route == "" {
		return false, nil
	}
	for _, policy := range policies {
		for _, rule := range policy.Rules {
			if ruleNamesRoute(rule, route) {
				return true, nil
			}
		}
	}
	return false, nil
}

func ruleNamesRoute(rule, route string) bool {
	rule = strings.TrimSpace(rule)
	if len(rule) < 4 || !strings.EqualFold(rule[:4], "can ") {
		return false
	}
	for _, verb := range strings.Split(rule[4:], ",") {
		// A verb may carry qualifiers ("getuser if ..."); only the leading
		// token identifies the route.
		fields := strings.Fields(strings.TrimSpace(verb))
		if len(fields) > 0 && strings.EqualFold(fields[0], route) {
			return true
		}
	}
	return false
}
