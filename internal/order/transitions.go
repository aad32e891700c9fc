package order

import (
	"fmt"
	"slices"
	"strings"
)

type Action string

const (
	ActionAccept          Action = "accept"
	ActionReject          Action = "reject"
	ActionCancel          Action = "cancel"
	ActionStartPreparing  Action = "start_preparing"
	ActionMarkReady       Action = "mark_ready"
	ActionDispatch        Action = "dispatch"
	ActionConfirmDelivery Action = "confirm_delivery"
)

func (a Action) String() string {
	return string(a)
}

// Actions lists every action in the order they are offered to a viewer.
func Actions() []Action {
	return []Action{
		ActionAccept,
		ActionReject,
		ActionStartPreparing,
		ActionMarkReady,
		ActionDispatch,
		ActionConfirmDelivery,
		ActionCancel,
	}
}

type transition struct {
	from map[Status][]Role
	to   Status
}

var baseTransitions = map[Action]transition{
	ActionAccept: {
		from: map[Status][]Role{StatusPending: {RoleRestaurant}},
		to:   StatusAccepted,
	},
	ActionReject: {
		from: map[Status][]Role{StatusPending: {RoleRestaurant}},
		to:   StatusRejected,
	},
	ActionStartPreparing: {
		from: map[Status][]Role{StatusAccepted: {RoleRestaurant}},
		to:   StatusPreparing,
	},
	ActionMarkReady: {
		from: map[Status][]Role{StatusPreparing: {RoleRestaurant}},
		to:   StatusReady,
	},
	ActionDispatch: {
		from: map[Status][]Role{StatusReady: {RoleRestaurant}},
		to:   StatusDispatched,
	},
	ActionConfirmDelivery: {
		from: map[Status][]Role{StatusDispatched: {RoleCustomer}},
		to:   StatusDelivered,
	},
}

// cancellable holds the statuses a cancel policy may name.
var cancellable = []Status{StatusPending, StatusAccepted, StatusPreparing}

// CancelPolicy maps a status to the roles allowed to cancel from it.
type CancelPolicy map[Status][]Role

func DefaultCancelPolicy() CancelPolicy {
	return CancelPolicy{
		StatusPending:   {RoleCustomer, RoleRestaurant},
		StatusAccepted:  {RoleCustomer, RoleRestaurant},
		StatusPreparing: {RoleCustomer, RoleRestaurant},
	}
}

// ParseCancelPolicy reads "pending:customer|restaurant,accepted:restaurant".
// An empty string yields DefaultCancelPolicy. Statuses left out cannot be cancelled.
func ParseCancelPolicy(raw string) (CancelPolicy, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultCancelPolicy(), nil
	}

	policy := CancelPolicy{}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		statusPart, rolesPart, ok := strings.Cut(entry, ":")
		if !ok {
			return nil, fmt.Errorf("%w: cancel policy entry %q must look like status:role|role", ErrValidation, entry)
		}

		status := Status(strings.TrimSpace(statusPart))
		if _, dup := policy[status]; dup {
			return nil, fmt.Errorf("%w: cancel policy names status %s twice", ErrValidation, status)
		}

		roles := make([]Role, 0, 2)
		for _, r := range strings.Split(rolesPart, "|") {
			r = strings.TrimSpace(r)
			if r == "" {
				continue
			}
			role := Role(r)
			if !role.Valid() {
				return nil, fmt.Errorf("%w: cancel policy has unknown role %q", ErrValidation, r)
			}
			if !slices.Contains(roles, role) {
				roles = append(roles, role)
			}
		}
		policy[status] = roles
	}

	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return policy, nil
}

func (p CancelPolicy) Validate() error {
	for status, roles := range p {
		if !slices.Contains(cancellable, status) {
			return fmt.Errorf("%w: orders in status %s cannot be cancelled", ErrValidation, status)
		}
		for _, role := range roles {
			if !role.Valid() {
				return fmt.Errorf("%w: cancel policy has unknown role %q", ErrValidation, role)
			}
		}
	}
	return nil
}

func (p CancelPolicy) String() string {
	parts := make([]string, 0, len(p))
	for _, status := range cancellable {
		roles, ok := p[status]
		if !ok {
			continue
		}
		names := make([]string, len(roles))
		for i, r := range roles {
			names[i] = string(r)
		}
		parts = append(parts, string(status)+":"+strings.Join(names, "|"))
	}
	return strings.Join(parts, ",")
}

// Machine is the lookup table of (status, action, role) to target status.
type Machine struct {
	table map[Action]transition
}

func NewMachine(policy CancelPolicy) (*Machine, error) {
	if policy == nil {
		policy = DefaultCancelPolicy()
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	table := make(map[Action]transition, len(baseTransitions)+1)
	for action, t := range baseTransitions {
		table[action] = t
	}

	cancelFrom := make(map[Status][]Role, len(policy))
	for status, roles := range policy {
		if len(roles) == 0 {
			continue
		}
		cancelFrom[status] = slices.Clone(roles)
	}
	table[ActionCancel] = transition{from: cancelFrom, to: StatusCancelled}

	return &Machine{table: table}, nil
}

// Target returns the status an action leads to.
func (m *Machine) Target(action Action) (Status, bool) {
	t, ok := m.table[action]
	if !ok {
		return "", false
	}
	return t.to, true
}

// Permits reports whether role may trigger action from at least one status.
func (m *Machine) Permits(action Action, role Role) bool {
	t, ok := m.table[action]
	if !ok {
		return false
	}
	for _, roles := range t.from {
		if slices.Contains(roles, role) {
			return true
		}
	}
	return false
}

// Resolve checks that role may apply action to an order in status from and
// returns the resulting status.
func (m *Machine) Resolve(from Status, action Action, role Role) (Status, error) {
	t, ok := m.table[action]
	if !ok {
		return "", fmt.Errorf("%w: unknown action %q", ErrValidation, action)
	}

	roles, ok := t.from[from]
	if !ok {
		return "", fmt.Errorf("%w: cannot %s an order in status %s", ErrInvalidTransition, action, from)
	}
	if !slices.Contains(roles, role) {
		return "", fmt.Errorf("%w: %s cannot %s an order in status %s", ErrRoleNotPermitted, role, action, from)
	}

	return t.to, nil
}

// Available lists the actions role may trigger on an order in status.
func (m *Machine) Available(status Status, role Role) []Action {
	available := make([]Action, 0, 2)
	for _, action := range Actions() {
		t := m.table[action]
		if slices.Contains(t.from[status], role) {
			available = append(available, action)
		}
	}
	return available
}

// Sources lists the statuses action may be applied from, in lifecycle order.
func (m *Machine) Sources(action Action) []Status {
	t, ok := m.table[action]
	if !ok {
		return nil
	}
	sources := make([]Status, 0, len(t.from))
	for _, status := range Statuses() {
		if _, ok := t.from[status]; ok {
			sources = append(sources, status)
		}
	}
	return sources
}
