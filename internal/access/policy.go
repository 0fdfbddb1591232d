// Package access implements the capability policy gating administrative
// operations. Administration is modeled as an explicit "may this principal
// perform this action" check rather than ownership inheritance.
package access

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/bullieverse/marketd/internal/domain"
)

// Policy maps actions to the principals permitted to perform them. An
// admin principal is permitted every action.
type Policy struct {
	mu     sync.RWMutex
	admins map[common.Address]struct{}
	grants map[string]map[common.Address]struct{}
}

// NewPolicy creates a policy with the given admin principals.
func NewPolicy(admins ...common.Address) *Policy {
	p := &Policy{
		admins: make(map[common.Address]struct{}, len(admins)),
		grants: make(map[string]map[common.Address]struct{}),
	}
	for _, a := range admins {
		p.admins[a] = struct{}{}
	}
	return p
}

// Grant permits principal to perform action.
func (p *Policy) Grant(principal common.Address, action string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.grants[action] == nil {
		p.grants[action] = make(map[common.Address]struct{})
	}
	p.grants[action][principal] = struct{}{}
}

// Allowed reports whether principal may perform action.
func (p *Policy) Allowed(principal common.Address, action string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if _, ok := p.admins[principal]; ok {
		return true
	}
	_, ok := p.grants[action][principal]
	return ok
}

// Compile-time interface check.
var _ domain.AccessPolicy = (*Policy)(nil)
