package rbac

import (
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
)

// maxHierarchyDepth bounds every ancestor walk. A well-formed hierarchy is
// a handful of levels deep; hitting the guard means the parent chain is
// corrupted.
const maxHierarchyDepth = 64

// Graph maintains the parent-pointer role hierarchy and answers ancestry
// queries. Roles are kept as an explicit table keyed by ID; the parent
// reference is a lookup key, so a dangling parent surfaces as ErrNotFound
// at walk time rather than as a nil pointer.
//
// Structural mutations bump a version counter that invalidates the cached
// ancestor closure. Safe for concurrent use.
type Graph struct {
	mu      sync.RWMutex
	roles   map[int64]Role
	version atomic.Int64

	closureMu      sync.Mutex
	closure        map[int64][]Role
	closureVersion int64
}

// NewGraph returns an empty role graph.
func NewGraph() *Graph {
	return &Graph{
		roles:   make(map[int64]Role),
		closure: make(map[int64][]Role),
	}
}

// AddRole registers a role. A role added with a parent reference is
// validated the same way SetParent validates a reparent.
func (g *Graph) AddRole(role Role) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.roles[role.ID]; ok {
		return fmt.Errorf("%w: role %d already registered", ErrDuplicate, role.ID)
	}
	if role.ParentID != nil {
		if _, ok := g.roles[*role.ParentID]; !ok {
			return fmt.Errorf("%w: parent role %d", ErrNotFound, *role.ParentID)
		}
	}
	g.roles[role.ID] = role
	g.version.Add(1)
	return nil
}

// SetParent points roleID at parentID. It fails with ErrCycle when parentID
// is already a descendant of roleID; on failure the structure is unchanged.
func (g *Graph) SetParent(roleID, parentID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	role, ok := g.roles[roleID]
	if !ok {
		return fmt.Errorf("%w: role %d", ErrNotFound, roleID)
	}
	if _, ok := g.roles[parentID]; !ok {
		return fmt.Errorf("%w: parent role %d", ErrNotFound, parentID)
	}
	if roleID == parentID {
		return fmt.Errorf("%w: role %d cannot parent itself", ErrCycle, roleID)
	}

	// Walk from the candidate parent upward; finding roleID on that path
	// means the reparent would close a loop.
	cursor := parentID
	for depth := 0; ; depth++ {
		if depth >= maxHierarchyDepth {
			return fmt.Errorf("%w: walking from role %d", ErrMaxDepth, parentID)
		}
		node, ok := g.roles[cursor]
		if !ok || node.ParentID == nil {
			break
		}
		if *node.ParentID == roleID {
			return fmt.Errorf("%w: role %d is an ancestor of %d", ErrCycle, roleID, parentID)
		}
		cursor = *node.ParentID
	}

	role.ParentID = &parentID
	g.roles[roleID] = role
	g.version.Add(1)
	return nil
}

// RemoveParent detaches roleID back to a root. Detaching a root is a no-op.
func (g *Graph) RemoveParent(roleID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	role, ok := g.roles[roleID]
	if !ok {
		return fmt.Errorf("%w: role %d", ErrNotFound, roleID)
	}
	if role.ParentID == nil {
		return nil
	}
	role.ParentID = nil
	g.roles[roleID] = role
	g.version.Add(1)
	return nil
}

// Role returns the role registered under id.
func (g *Graph) Role(id int64) (Role, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	role, ok := g.roles[id]
	if !ok {
		return Role{}, fmt.Errorf("%w: role %d", ErrNotFound, id)
	}
	return role, nil
}

// Contains reports whether the role is registered.
func (g *Graph) Contains(id int64) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.roles[id]
	return ok
}

// Version returns the structural version. It increases on every committed
// mutation and never decreases.
func (g *Graph) Version() int64 {
	return g.version.Load()
}

// Ancestors yields the chain from the immediate parent of roleID up to the
// nearest root. The sequence is lazy and can be ranged over repeatedly; the
// underlying chain is resolved once per structural version and cached.
func (g *Graph) Ancestors(roleID int64) (iter.Seq[Role], error) {
	chain, err := g.ancestorChain(roleID)
	if err != nil {
		return nil, err
	}
	return func(yield func(Role) bool) {
		for _, role := range chain {
			if !yield(role) {
				return
			}
		}
	}, nil
}

func (g *Graph) ancestorChain(roleID int64) ([]Role, error) {
	version := g.version.Load()

	g.closureMu.Lock()
	if g.closureVersion != version {
		g.closure = make(map[int64][]Role)
		g.closureVersion = version
	}
	if chain, ok := g.closure[roleID]; ok {
		g.closureMu.Unlock()
		return chain, nil
	}
	g.closureMu.Unlock()

	chain, err := g.walkAncestors(roleID)
	if err != nil {
		return nil, err
	}

	g.closureMu.Lock()
	// A structural mutation may have landed while walking; only cache when
	// the version still matches.
	if g.closureVersion == version && g.version.Load() == version {
		g.closure[roleID] = chain
	}
	g.closureMu.Unlock()
	return chain, nil
}

func (g *Graph) walkAncestors(roleID int64) ([]Role, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	role, ok := g.roles[roleID]
	if !ok {
		return nil, fmt.Errorf("%w: role %d", ErrNotFound, roleID)
	}

	var chain []Role
	for depth := 0; role.ParentID != nil; depth++ {
		if depth >= maxHierarchyDepth {
			return nil, fmt.Errorf("%w: walking from role %d", ErrMaxDepth, roleID)
		}
		parent, ok := g.roles[*role.ParentID]
		if !ok {
			return nil, fmt.Errorf("%w: parent role %d", ErrNotFound, *role.ParentID)
		}
		chain = append(chain, parent)
		role = parent
	}
	return chain, nil
}
