// Package permission decides which directives an NPC may use, based on its
// role.
//
// A role maps to permission groups and each group maps to directive names.
// Roles without a mapping fall back to the default group ("basic"). A
// directive that is not in the command definition table is never allowed,
// whatever the groups say.
package permission

import (
	"slices"
	"strings"

	"github.com/MrWong99/parley/internal/command"
)

// DefaultGroup is used for roles that have no group mapping.
const DefaultGroup = "basic"

// Config holds the two lookup tables.
type Config struct {
	// Roles maps an NPC role type to its permission groups.
	Roles map[string][]string `yaml:"roles"`

	// Groups maps a permission group to the directive names it grants.
	Groups map[string][]string `yaml:"groups"`

	// DefaultGroup overrides [DefaultGroup] when set.
	DefaultGroup string `yaml:"default_group"`
}

// Resolver answers permission queries. It is immutable after construction
// and safe for concurrent use.
type Resolver struct {
	roles        map[string][]string
	groups       map[string]map[string]struct{}
	defaultGroup string
}

var _ command.Authorizer = (*Resolver)(nil)

// NewResolver builds a Resolver from cfg. Besides the explicit group lists,
// every definition whose Permission field names a group is granted to that
// group. Names missing from table are discarded.
func NewResolver(cfg Config, table *command.Table) *Resolver {
	r := &Resolver{
		roles:        make(map[string][]string, len(cfg.Roles)),
		groups:       make(map[string]map[string]struct{}),
		defaultGroup: cfg.DefaultGroup,
	}
	if r.defaultGroup == "" {
		r.defaultGroup = DefaultGroup
	}
	for role, groups := range cfg.Roles {
		r.roles[normalizeRole(role)] = slices.Clone(groups)
	}

	grant := func(group, name string) {
		if !table.Has(name) {
			return
		}
		set, ok := r.groups[group]
		if !ok {
			set = make(map[string]struct{})
			r.groups[group] = set
		}
		set[name] = struct{}{}
	}
	for group, names := range cfg.Groups {
		for _, n := range names {
			grant(group, strings.TrimSpace(n))
		}
	}
	for _, def := range table.Definitions() {
		if def.Permission != "" {
			grant(def.Permission, def.Name)
		}
	}
	return r
}

func normalizeRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}

// GroupsFor returns the permission groups of role.
func (r *Resolver) GroupsFor(role string) []string {
	if groups, ok := r.roles[normalizeRole(role)]; ok {
		return slices.Clone(groups)
	}
	return []string{r.defaultGroup}
}

// IsAllowed reports whether role may use the directive name.
func (r *Resolver) IsAllowed(name, role string) bool {
	for _, g := range r.GroupsFor(role) {
		if _, ok := r.groups[g][name]; ok {
			return true
		}
	}
	return false
}

// Allowed returns the deduplicated, sorted directive names role may use.
func (r *Resolver) Allowed(role string) []string {
	seen := make(map[string]struct{})
	for _, g := range r.GroupsFor(role) {
		for n := range r.groups[g] {
			seen[n] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}
