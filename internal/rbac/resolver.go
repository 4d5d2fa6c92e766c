// Package rbac computes whether a principal may perform a route against a
// role-tagged resource. Deny is the default; every allow traces back to
// account ownership or to a role-tag intersection plus a policy rule match.
package rbac

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"cloudgate.io/internal/authcache"
	"cloudgate.io/internal/identity"
	"cloudgate.io/internal/obs"
)

// Decision is the resolver's answer for one request.
type Decision struct {
	Allowed bool
	Reason  string

	// Tags is the resource's effective role-tag set, echoed back to the
	// caller via the Role-Tag response header.
	Tags []string
}

// RuleMatcher evaluates policy rules against a route identifier. The rule
// grammar is owned by the matcher; the resolver treats it as a black box.
type RuleMatcher interface {
	Allows(ctx context.Context, policies []identity.Policy, route string) (bool, error)
}

// Resolver resolves permissions from directory state, optionally reading
// sub-user role memberships from the replicated authorization cache.
type Resolver struct {
	dir   identity.Directory
	rules RuleMatcher
	cache *authcache.Client
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithCache makes sub-user membership reads go through the replicated cache,
// falling back to the directory when the entry has not replicated yet.
func WithCache(cache *authcache.Client) Option {
	return func(r *Resolver) { r.cache = cache }
}

// WithRuleMatcher overrides the policy rule matcher.
func WithRuleMatcher(rules RuleMatcher) Option {
	return func(r *Resolver) {
		if rules != nil {
			r.rules = rules
		}
	}
}

// NewResolver constructs a Resolver.
func NewResolver(dir identity.Directory, opts ...Option) (*Resolver, error) {
	if dir == nil {
		return nil, errors.New("rbac: directory is required")
	}
	r := &Resolver{dir: dir, rules: RouteRuleMatcher{}}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Authorize decides whether the principal may invoke the route against the
// resource. Rules, in order: the account owner is always allowed; a sub-user
// needs a non-empty intersection between held roles and the resource's
// role-tags (or an untagged resource) plus a policy rule permitting the
// route. ActingRoles narrows held roles to membership, never beyond it.
func (r *Resolver) Authorize(ctx context.Context, p identity.Principal, resourcePath, route string, tags []string) (Decision, error) {
	decision, err := r.authorize(ctx, p, resourcePath, route, tags)
	if err != nil {
		return decision, err
	}
	if decision.Allowed {
		obs.ObserveAuthzDecision("allow")
	} else {
		obs.ObserveAuthzDecision("deny")
	}
	return decision, nil
}

func (r *Resolver) authorize(ctx context.Context, p identity.Principal, resourcePath, route string, tags []string) (Decision, error) {
	if p.IsOwner() {
		return Decision{Allowed: true, Reason: "account owner", Tags: tags}, nil
	}

	held, err := r.heldRoles(ctx, p)
	if err != nil {
		return Decision{}, err
	}
	if len(held) == 0 {
		return Decision{Reason: "sub-user holds no applicable roles", Tags: tags}, nil
	}

	candidates := held
	if len(tags) > 0 {
		candidates = candidates[:0:0]
		tagged := make(map[string]struct{}, len(tags))
		for _, t := range tags {
			tagged[strings.ToLower(t)] = struct{}{}
		}
		for _, role := range held {
			if _, ok := tagged[strings.ToLower(role.Name)]; ok {
				candidates = append(candidates, role)
			}
		}
		if len(candidates) == 0 {
			return Decision{Reason: "no held role matches the resource role-tag", Tags: tags}, nil
		}
	}

	policies, err := r.policiesFor(ctx, candidates)
	if err != nil {
		return Decision{}, err
	}
	allowed, err := r.rules.Allows(ctx, policies, route)
	if err != nil {
		return Decision{}, err
	}
	if !allowed {
		return Decision{Reason: fmt.Sprintf("no policy rule permits route %q", route), Tags: tags}, nil
	}
	return Decision{Allowed: true, Reason: "role membership and policy rule", Tags: tags}, nil
}

// heldRoles returns the roles the sub-user may exercise on this request:
// default memberships, or the explicit acting subset narrowed to roles the
// sub-user is a member of.
func (r *Resolver) heldRoles(ctx context.Context, p identity.Principal) ([]identity.Role, error) {
	roles, err := r.dir.RolesForAccount(ctx, p.Account.UUID)
	if err != nil {
		return nil, err
	}

	// The replica only lags the directory, never leads it. If no requested
	// acting role is even a directory-level membership, waiting on the cache
	// cannot change the outcome; deny without burning the wait budget.
	if len(p.ActingRoles) > 0 && !actingMembership(roles, p) {
		return nil, nil
	}

	memberUUIDs, defaultUUIDs, cached, err := r.cachedMemberships(ctx, p)
	if err != nil {
		return nil, err
	}

	var held []identity.Role
	for _, role := range roles {
		isMember := containsString(role.Members, p.User.UUID)
		isDefault := containsString(role.DefaultMembers, p.User.UUID)
		if cached {
			_, isMember = memberUUIDs[role.UUID]
			_, isDefault = defaultUUIDs[role.UUID]
		}

		if len(p.ActingRoles) > 0 {
			// Act-as-role: explicit per-request subset, limited to
			// membership. Never silently escalates beyond it.
			if isMember && containsFold(p.ActingRoles, role.Name) {
				held = append(held, role)
			}
			continue
		}
		if isDefault {
			held = append(held, role)
		}
	}
	return held, nil
}

// cachedMemberships reads the sub-user's replicated membership snapshot. A
// plain read may observe stale state; when the caller explicitly requested
// acting roles it needs the fresh membership, so the read becomes a bounded
// wait for the replica to show one of the requested roles. A wait-budget
// exhaustion surfaces as a Timeout error, distinct from a denial, so the
// caller can retry. A missing cache (not configured, or entry unavailable)
// falls back to the directory's member lists.
func (r *Resolver) cachedMemberships(ctx context.Context, p identity.Principal) (members, defaults map[string]struct{}, ok bool, err error) {
	if r.cache == nil || p.User == nil {
		return nil, nil, false, nil
	}
	path := authcache.UserPath(p.Account.Login, p.User.Login)

	var entry authcache.Entry
	if len(p.ActingRoles) > 0 {
		entry, err = r.cache.WaitFor(ctx, path, func(e authcache.Entry) bool {
			for _, name := range e.Roles {
				if containsFold(p.ActingRoles, name) {
					return true
				}
			}
			return false
		})
		switch {
		case err == nil:
		case errors.Is(err, authcache.ErrWaitTimeout):
			return nil, nil, false, &identity.Error{
				Code:    identity.CodeTimeout,
				Message: "authorization cache has not caught up with the requested roles",
			}
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil, nil, false, err
		default:
			return nil, nil, false, nil
		}
	} else {
		entry, err = r.cache.Lookup(ctx, path)
		if err != nil {
			return nil, nil, false, nil
		}
	}

	members = make(map[string]struct{}, len(entry.Roles))
	for uuid := range entry.Roles {
		members[uuid] = struct{}{}
	}
	defaults = make(map[string]struct{}, len(entry.DefaultRoles))
	for uuid := range entry.DefaultRoles {
		defaults[uuid] = struct{}{}
	}
	return members, defaults, true, nil
}

func (r *Resolver) policiesFor(ctx context.Context, roles []identity.Role) ([]identity.Policy, error) {
	seen := make(map[string]struct{})
	var uuids []string
	for _, role := range roles {
		for _, pu := range role.Policies {
			if _, ok := seen[pu]; ok {
				continue
			}
			seen[pu] = struct{}{}
			uuids = append(uuids, pu)
		}
	}
	if len(uuids) == 0 {
		return nil, nil
	}
	sort.Strings(uuids)
	return r.dir.PoliciesByUUIDs(ctx, uuids)
}

func actingMembership(roles []identity.Role, p identity.Principal) bool {
	for _, role := range roles {
		if containsFold(p.ActingRoles, role.Name) && containsString(role.Members, p.User.UUID) {
			return true
		}
	}
	return false
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

func containsFold(values []string, want string) bool {
	for _, v := range values {
		if strings.EqualFold(v, want) {
			return true
		}
	}
	return false
}
