package vault

import (
	"sort"
	"sync"
)

// Role names a permission checked before a mutating operation.
type Role string

const (
	// RoleGovernance manages strategies, the queue and vault parameters.
	RoleGovernance Role = "governance"
	// RoleDebtManager moves debt between idle and strategies and processes reports.
	RoleDebtManager Role = "debt_manager"
)

// AllRoles lists every role a vault checks.
var AllRoles = []Role{RoleGovernance, RoleDebtManager}

// Authorizer answers role checks. The vault trusts its answer and does not
// manage identities itself.
type Authorizer interface {
	HasRole(role Role, caller string) bool
}

// RoleManager is an Authorizer whose assignments can be changed by governance.
type RoleManager interface {
	Authorizer
	Grant(role Role, account string)
	Revoke(role Role, account string)
	Members() map[Role][]string
}

// Roles is an in-memory RoleManager.
type Roles struct {
	mu      sync.RWMutex
	members map[Role]map[string]struct{}
}

// NewRoles creates an empty role table.
func NewRoles() *Roles {
	return &Roles{members: make(map[Role]map[string]struct{})}
}

func (r *Roles) HasRole(role Role, caller string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[role][caller]
	return ok
}

func (r *Roles) Grant(role Role, account string) {
	if account == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.members[role]
	if !ok {
		set = make(map[string]struct{})
		r.members[role] = set
	}
	set[account] = struct{}{}
}

func (r *Roles) Revoke(role Role, account string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members[role], account)
}

// Members returns a sorted copy of every assignment.
func (r *Roles) Members() map[Role][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[Role][]string, len(r.members))
	for role, set := range r.members {
		if len(set) == 0 {
			continue
		}
		accounts := make([]string, 0, len(set))
		for a := range set {
			accounts = append(accounts, a)
		}
		sort.Strings(accounts)
		out[role] = accounts
	}
	return out
}
