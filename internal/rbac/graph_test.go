package rbac

import (
	"errors"
	"testing"
)

func buildGraph(t *testing.T, roles ...Role) *Graph {
	t.Helper()
	g := NewGraph()
	for _, role := range roles {
		if err := g.AddRole(role); err != nil {
			t.Fatalf("add role %d: %v", role.ID, err)
		}
	}
	return g
}

func collectAncestorIDs(t *testing.T, g *Graph, roleID int64) []int64 {
	t.Helper()
	seq, err := g.Ancestors(roleID)
	if err != nil {
		t.Fatalf("ancestors of %d: %v", roleID, err)
	}
	var ids []int64
	for role := range seq {
		ids = append(ids, role.ID)
	}
	return ids
}

func TestAncestorsWalksToRoot(t *testing.T) {
	g := buildGraph(t,
		Role{ID: 1, Name: "user"},
		Role{ID: 2, Name: "moderator"},
		Role{ID: 3, Name: "admin"},
	)
	if err := g.SetParent(2, 1); err != nil {
		t.Fatalf("set parent: %v", err)
	}
	if err := g.SetParent(3, 2); err != nil {
		t.Fatalf("set parent: %v", err)
	}

	got := collectAncestorIDs(t, g, 3)
	want := []int64{2, 1}
	if len(got) != len(want) {
		t.Fatalf("ancestors = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ancestors = %v, want %v", got, want)
		}
	}

	if ids := collectAncestorIDs(t, g, 1); len(ids) != 0 {
		t.Fatalf("root should have no ancestors, got %v", ids)
	}
}

func TestAncestorsSequenceIsRestartable(t *testing.T) {
	g := buildGraph(t, Role{ID: 1}, Role{ID: 2}, Role{ID: 3})
	if err := g.SetParent(2, 1); err != nil {
		t.Fatalf("set parent: %v", err)
	}
	if err := g.SetParent(3, 2); err != nil {
		t.Fatalf("set parent: %v", err)
	}

	seq, err := g.Ancestors(3)
	if err != nil {
		t.Fatalf("ancestors: %v", err)
	}

	// Partial iteration then a full re-range over the same sequence.
	for range seq {
		break
	}
	var count int
	for range seq {
		count++
	}
	if count != 2 {
		t.Fatalf("re-ranged sequence yielded %d roles, want 2", count)
	}
}

func TestSetParentRejectsCycles(t *testing.T) {
	g := buildGraph(t, Role{ID: 1}, Role{ID: 2}, Role{ID: 3})
	if err := g.SetParent(2, 1); err != nil {
		t.Fatalf("set parent: %v", err)
	}
	if err := g.SetParent(3, 2); err != nil {
		t.Fatalf("set parent: %v", err)
	}

	beforeA := collectAncestorIDs(t, g, 1)
	beforeB := collectAncestorIDs(t, g, 3)

	err := g.SetParent(1, 3)
	if !errors.Is(err, ErrCycle) {
		t.Fatalf("expected ErrCycle, got %v", err)
	}

	if got := collectAncestorIDs(t, g, 1); len(got) != len(beforeA) {
		t.Fatalf("ancestors of 1 changed after rejected reparent: %v", got)
	}
	if got := collectAncestorIDs(t, g, 3); len(got) != len(beforeB) {
		t.Fatalf("ancestors of 3 changed after rejected reparent: %v", got)
	}
}

func TestSetParentRejectsSelf(t *testing.T) {
	g := buildGraph(t, Role{ID: 1})
	if err := g.SetParent(1, 1); !errors.Is(err, ErrCycle) {
		t.Fatalf("expected ErrCycle, got %v", err)
	}
}

func TestSetParentUnknownRole(t *testing.T) {
	g := buildGraph(t, Role{ID: 1})
	if err := g.SetParent(1, 99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := g.SetParent(99, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStructuralVersionBumpsOnMutation(t *testing.T) {
	g := buildGraph(t, Role{ID: 1}, Role{ID: 2})
	v0 := g.Version()
	if err := g.SetParent(2, 1); err != nil {
		t.Fatalf("set parent: %v", err)
	}
	if g.Version() <= v0 {
		t.Fatalf("version did not advance on reparent")
	}

	v1 := g.Version()
	if err := g.SetParent(1, 2); err == nil {
		t.Fatal("expected cycle rejection")
	}
	if g.Version() != v1 {
		t.Fatalf("version changed on rejected mutation")
	}
}

func TestAncestorCacheInvalidatedByReparent(t *testing.T) {
	g := buildGraph(t, Role{ID: 1}, Role{ID: 2}, Role{ID: 3})
	if err := g.SetParent(3, 2); err != nil {
		t.Fatalf("set parent: %v", err)
	}

	if got := collectAncestorIDs(t, g, 3); len(got) != 1 || got[0] != 2 {
		t.Fatalf("ancestors before reparent = %v", got)
	}

	if err := g.SetParent(2, 1); err != nil {
		t.Fatalf("set parent: %v", err)
	}
	got := collectAncestorIDs(t, g, 3)
	if len(got) != 2 || got[0] != 2 || got[1] != 1 {
		t.Fatalf("ancestors after reparent = %v, want [2 1]", got)
	}
}

func TestRemoveParentDetachesToRoot(t *testing.T) {
	g := buildGraph(t, Role{ID: 1}, Role{ID: 2})
	if err := g.SetParent(2, 1); err != nil {
		t.Fatalf("set parent: %v", err)
	}
	if err := g.RemoveParent(2); err != nil {
		t.Fatalf("remove parent: %v", err)
	}
	if ids := collectAncestorIDs(t, g, 2); len(ids) != 0 {
		t.Fatalf("expected no ancestors after detach, got %v", ids)
	}
	// Detaching a root again is a no-op.
	if err := g.RemoveParent(2); err != nil {
		t.Fatalf("second remove parent: %v", err)
	}
}
