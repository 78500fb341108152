package permission

import (
	"errors"
	"fmt"
)

type Role string

const (
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
	RoleUser      Role = "user"
)

type Resource string

const (
	ResourceSpots     Resource = "spots"
	ResourceBookings  Resource = "bookings"
	ResourceListings  Resource = "listings"
	ResourceReviews   Resource = "reviews"
	ResourceUsers     Resource = "users"
	ResourcePayments  Resource = "payments"
	ResourceContent   Resource = "content"
	ResourceAuditLogs Resource = "audit_logs"
	ResourceSettings  Resource = "settings"
	ResourceLockouts  Resource = "lockouts"
)

type Action string

const (
	ActionRead     Action = "read"
	ActionCreate   Action = "create"
	ActionUpdate   Action = "update"
	ActionDelete   Action = "delete"
	ActionModerate Action = "moderate"
	ActionExport   Action = "export"
	ActionReset    Action = "reset"
)

var (
	ErrUnknownRole     = errors.New("unknown role")
	ErrUnknownResource = errors.New("unknown resource")
	ErrUnknownAction   = errors.New("unknown action")
	ErrEmptyAdminRole  = errors.New("admin-eligible role has no permissions")
)

var (
	roles     = []Role{RoleAdmin, RoleModerator, RoleUser}
	resources = []Resource{
		ResourceSpots, ResourceBookings, ResourceListings, ResourceReviews, ResourceUsers,
		ResourcePayments, ResourceContent, ResourceAuditLogs, ResourceSettings, ResourceLockouts,
	}
	actions = []Action{
		ActionRead, ActionCreate, ActionUpdate, ActionDelete, ActionModerate, ActionExport, ActionReset,
	}
)

func ParseRole(s string) (Role, bool) {
	for _, r := range roles {
		if string(r) == s {
			return r, true
		}
	}
	return "", false
}

func ParseResource(s string) (Resource, bool) {
	for _, r := range resources {
		if string(r) == s {
			return r, true
		}
	}
	return "", false
}

func ParseAction(s string) (Action, bool) {
	for _, a := range actions {
		if string(a) == s {
			return a, true
		}
	}
	return "", false
}

// AdminEligible reports whether a role may hold an admin session.
func AdminEligible(r Role) bool {
	return r == RoleAdmin || r == RoleModerator
}

type actionSet map[Action]struct{}

// Matrix is the role -> resource -> actions table. It is never mutated after
// construction, so lookups need no locking.
type Matrix struct {
	grants map[Role]map[Resource]actionSet
}

// Grant is one row of a matrix definition.
type Grant struct {
	Resource Resource
	Actions  []Action
}

// NewMatrix validates the definition and builds an immutable matrix.
func NewMatrix(def map[Role][]Grant) (*Matrix, error) {
	m := &Matrix{grants: make(map[Role]map[Resource]actionSet, len(def))}
	for role, grants := range def {
		if _, ok := ParseRole(string(role)); !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownRole, role)
		}
		byResource := make(map[Resource]actionSet, len(grants))
		for _, g := range grants {
			if _, ok := ParseResource(string(g.Resource)); !ok {
				return nil, fmt.Errorf("%w: %q (role %s)", ErrUnknownResource, g.Resource, role)
			}
			set, ok := byResource[g.Resource]
			if !ok {
				set = make(actionSet, len(g.Actions))
				byResource[g.Resource] = set
			}
			for _, a := range g.Actions {
				if _, ok := ParseAction(string(a)); !ok {
					return nil, fmt.Errorf("%w: %q (role %s, resource %s)", ErrUnknownAction, a, role, g.Resource)
				}
				set[a] = struct{}{}
			}
		}
		m.grants[role] = byResource
	}
	for _, role := range roles {
		if AdminEligible(role) && len(m.grants[role]) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrEmptyAdminRole, role)
		}
	}
	return m, nil
}

// HasPermission is false for any role or resource missing from the matrix.
func (m *Matrix) HasPermission(role Role, resource Resource, action Action) bool {
	byResource, ok := m.grants[role]
	if !ok {
		return false
	}
	set, ok := byResource[resource]
	if !ok {
		return false
	}
	_, ok = set[action]
	return ok
}

// Actions lists the actions a role holds on a resource, in declaration order.
func (m *Matrix) Actions(role Role, resource Resource) []Action {
	set := m.grants[role][resource]
	out := make([]Action, 0, len(set))
	for _, a := range actions {
		if _, ok := set[a]; ok {
			out = append(out, a)
		}
	}
	return out
}

var all = []Action{ActionRead, ActionCreate, ActionUpdate, ActionDelete}

// DefaultMatrix is the compiled-in permission table.
func DefaultMatrix() *Matrix {
	m, err := NewMatrix(map[Role][]Grant{
		RoleAdmin: {
			{ResourceSpots, append(all, ActionModerate)},
			{ResourceBookings, append(all, ActionExport)},
			{ResourceListings, append(all, ActionModerate)},
			{ResourceReviews, append(all, ActionModerate)},
			{ResourceUsers, append(all, ActionExport)},
			{ResourcePayments, []Action{ActionRead, ActionUpdate, ActionExport}},
			{ResourceContent, append(all, ActionModerate)},
			{ResourceAuditLogs, []Action{ActionRead, ActionExport}},
			{ResourceSettings, []Action{ActionRead, ActionUpdate}},
			{ResourceLockouts, []Action{ActionRead, ActionReset}},
		},
		RoleModerator: {
			{ResourceSpots, []Action{ActionRead, ActionUpdate, ActionModerate}},
			{ResourceBookings, []Action{ActionRead}},
			{ResourceListings, []Action{ActionRead, ActionUpdate, ActionModerate}},
			{ResourceReviews, []Action{ActionRead, ActionDelete, ActionModerate}},
			{ResourceUsers, []Action{ActionRead}},
			{ResourceContent, []Action{ActionRead, ActionUpdate, ActionModerate}},
		},
		RoleUser: {
			{ResourceSpots, []Action{ActionRead}},
			{ResourceBookings, []Action{ActionRead, ActionCreate}},
			{ResourceListings, []Action{ActionRead}},
			{ResourceReviews, []Action{ActionRead, ActionCreate}},
		},
	})
	if err != nil {
		panic("permission: invalid default matrix: " + err.Error())
	}
	return m
}
