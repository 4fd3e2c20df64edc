// Package auth holds the authorization port. The core asks boolean
// questions; role storage lives outside and is injected at startup.
package auth

import "github.com/google/uuid"

// Authorizer answers the core's permission predicates
type Authorizer interface {
	// IsGovernance reports whether an actor may run governance operations
	// (parameter updates, emergency actions).
	IsGovernance(actor uuid.UUID) bool

	// IsYieldSource reports whether a named source may deposit yield
	IsYieldSource(source string) bool

	// IsLiquidator reports whether an actor may liquidate positions
	IsLiquidator(actor uuid.UUID) bool
}

// Static is a config-loaded Authorizer with fixed role sets.
// An empty liquidator set means liquidation is permissionless (keeper
// incentive open to anyone); governance and yield sources are always
// closed sets.
type Static struct {
	governance  map[uuid.UUID]struct{}
	sources     map[string]struct{}
	liquidators map[uuid.UUID]struct{}
}

func NewStatic(governance []uuid.UUID, sources []string, liquidators []uuid.UUID) *Static {
	s := &Static{
		governance:  make(map[uuid.UUID]struct{}, len(governance)),
		sources:     make(map[string]struct{}, len(sources)),
		liquidators: make(map[uuid.UUID]struct{}, len(liquidators)),
	}
	for _, g := range governance {
		s.governance[g] = struct{}{}
	}
	for _, src := range sources {
		s.sources[src] = struct{}{}
	}
	for _, l := range liquidators {
		s.liquidators[l] = struct{}{}
	}
	return s
}

func (s *Static) IsGovernance(actor uuid.UUID) bool {
	_, ok := s.governance[actor]
	return ok
}

func (s *Static) IsYieldSource(source string) bool {
	_, ok := s.sources[source]
	return ok
}

func (s *Static) IsLiquidator(actor uuid.UUID) bool {
	if len(s.liquidators) == 0 {
		return true
	}
	_, ok := s.liquidators[actor]
	return ok
}
