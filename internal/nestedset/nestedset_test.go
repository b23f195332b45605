package nestedset

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

// memStore drives the engine against an in-memory coordinate table. Each
// engine operation is wrapped in snapshot/rollback so tests can model the
// transactional all-or-nothing contract, including mid-sequence failures.
type memStore struct {
	nodes    map[string]*memNode
	pending  string // id assigned to the next Place call
	failOn   string // method name that should error, for rollback tests
	snapshot map[string]memNode
}

type memNode struct {
	lft, rgt, depth int64
	departed        bool
}

func newMemStore() *memStore {
	return &memStore{nodes: map[string]*memNode{}}
}

func (m *memStore) begin() {
	m.snapshot = make(map[string]memNode, len(m.nodes))
	for id, n := range m.nodes {
		m.snapshot[id] = *n
	}
}

func (m *memStore) rollback() {
	m.nodes = make(map[string]*memNode, len(m.snapshot))
	for id, n := range m.snapshot {
		cp := n
		m.nodes[id] = &cp
	}
}

func (m *memStore) fail(method string) error {
	if m.failOn == method {
		return fmt.Errorf("injected failure in %s", method)
	}
	return nil
}

func (m *memStore) MaxRgt(context.Context) (int64, error) {
	if err := m.fail("MaxRgt"); err != nil {
		return 0, err
	}
	var max int64
	for _, n := range m.nodes {
		if !n.departed && n.rgt > max {
			max = n.rgt
		}
	}
	return max, nil
}

func (m *memStore) Node(_ context.Context, id string) (Node, error) {
	if err := m.fail("Node"); err != nil {
		return Node{}, err
	}
	n, ok := m.nodes[id]
	if !ok || n.departed {
		return Node{}, ErrNodeNotFound
	}
	return Node{ID: id, Lft: n.lft, Rgt: n.rgt, Depth: n.depth}, nil
}

func (m *memStore) ShiftRgt(_ context.Context, min, delta int64) error {
	if err := m.fail("ShiftRgt"); err != nil {
		return err
	}
	for _, n := range m.nodes {
		if !n.departed && n.rgt >= min {
			n.rgt += delta
		}
	}
	return nil
}

func (m *memStore) ShiftLft(_ context.Context, min, delta int64) error {
	if err := m.fail("ShiftLft"); err != nil {
		return err
	}
	for _, n := range m.nodes {
		if !n.departed && n.lft > min {
			n.lft += delta
		}
	}
	return nil
}

func (m *memStore) Place(_ context.Context, lft, rgt, depth int64) error {
	if err := m.fail("Place"); err != nil {
		return err
	}
	m.nodes[m.pending] = &memNode{lft: lft, rgt: rgt, depth: depth}
	return nil
}

func (m *memStore) MarkDeparted(_ context.Context, id string) error {
	if err := m.fail("MarkDeparted"); err != nil {
		return err
	}
	m.nodes[id].departed = true
	return nil
}

func (m *memStore) AbsorbInterior(_ context.Context, lft, rgt, depth int64) error {
	if err := m.fail("AbsorbInterior"); err != nil {
		return err
	}
	for _, n := range m.nodes {
		if !n.departed && n.lft > lft && n.lft < rgt {
			n.lft--
			n.rgt--
			n.depth = depth
		}
	}
	return nil
}

func (m *memStore) SetCoordinates(_ context.Context, id string, lft, rgt, depth int64) error {
	if err := m.fail("SetCoordinates"); err != nil {
		return err
	}
	n, ok := m.nodes[id]
	if !ok {
		return ErrNodeNotFound
	}
	n.lft, n.rgt, n.depth = lft, rgt, depth
	return nil
}

func (m *memStore) live() []Node {
	var out []Node
	for id, n := range m.nodes {
		if !n.departed {
			out = append(out, Node{ID: id, Lft: n.lft, Rgt: n.rgt, Depth: n.depth})
		}
	}
	return out
}

func (m *memStore) insertUnder(t *testing.T, id, parent string) {
	t.Helper()
	ctx := context.Background()
	var parentRgt, depth int64
	if parent != "" {
		p, err := m.Node(ctx, parent)
		if err != nil {
			t.Fatalf("parent %s: %v", parent, err)
		}
		parentRgt, depth = p.Rgt, p.Depth+1
	}
	m.pending = id
	m.begin()
	if _, _, err := Insert(ctx, m, parentRgt, depth); err != nil {
		m.rollback()
		t.Fatalf("insert %s: %v", id, err)
	}
}

// buildTree produces the canonical fixture:
//
//	root [1,10] depth 0
//	  a  [2,7]  depth 1
//	    c [3,4] depth 2
//	    d [5,6] depth 2
//	  b  [8,9]  depth 1
func buildTree(t *testing.T) *memStore {
	t.Helper()
	m := newMemStore()
	m.insertUnder(t, "root", "")
	m.insertUnder(t, "a", "root")
	m.insertUnder(t, "b", "root")
	m.insertUnder(t, "c", "a")
	m.insertUnder(t, "d", "a")
	return m
}

func mustCoords(t *testing.T, m *memStore, id string, lft, rgt, depth int64) {
	t.Helper()
	n, err := m.Node(context.Background(), id)
	if err != nil {
		t.Fatalf("node %s: %v", id, err)
	}
	if n.Lft != lft || n.Rgt != rgt || n.Depth != depth {
		t.Fatalf("node %s = [%d,%d] depth %d, want [%d,%d] depth %d",
			id, n.Lft, n.Rgt, n.Depth, lft, rgt, depth)
	}
}

func TestInsertBuildsValidTree(t *testing.T) {
	m := buildTree(t)

	mustCoords(t, m, "root", 1, 10, 0)
	mustCoords(t, m, "a", 2, 7, 1)
	mustCoords(t, m, "c", 3, 4, 2)
	mustCoords(t, m, "d", 5, 6, 2)
	mustCoords(t, m, "b", 8, 9, 1)

	if err := Validate(m.live()); err != nil {
		t.Fatalf("invariant violated: %v", err)
	}
}

func TestInsertRootAfterExistingIntervals(t *testing.T) {
	m := buildTree(t)
	m.insertUnder(t, "root2", "")

	mustCoords(t, m, "root2", 11, 12, 0)
	mustCoords(t, m, "root", 1, 10, 0)
	if err := Validate(m.live()); err != nil {
		t.Fatalf("invariant violated: %v", err)
	}
}

func TestRemoveLeafClosesGap(t *testing.T) {
	m := buildTree(t)

	removed, err := Remove(context.Background(), m, "c")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if removed.Lft != 3 || removed.Rgt != 4 {
		t.Fatalf("removed coords = [%d,%d], want [3,4]", removed.Lft, removed.Rgt)
	}

	mustCoords(t, m, "root", 1, 8, 0)
	mustCoords(t, m, "a", 2, 5, 1)
	mustCoords(t, m, "d", 3, 4, 2)
	mustCoords(t, m, "b", 6, 7, 1)
	if err := Validate(m.live()); err != nil {
		t.Fatalf("invariant violated: %v", err)
	}
	if _, err := m.Node(context.Background(), "c"); !errors.Is(err, ErrNodeNotFound) {
		t.Fatalf("departed node still resolvable: %v", err)
	}
}

func TestRemoveInteriorAbsorbsSubtree(t *testing.T) {
	m := buildTree(t)

	if _, err := Remove(context.Background(), m, "a"); err != nil {
		t.Fatalf("remove: %v", err)
	}

	// c and d slide one slot inward and take the removed node's depth.
	mustCoords(t, m, "root", 1, 8, 0)
	mustCoords(t, m, "c", 2, 3, 1)
	mustCoords(t, m, "d", 4, 5, 1)
	mustCoords(t, m, "b", 6, 7, 1)
	if err := Validate(m.live()); err != nil {
		t.Fatalf("invariant violated: %v", err)
	}
}

func TestRelocateLeafToNewParent(t *testing.T) {
	m := buildTree(t)

	if err := Relocate(context.Background(), m, "c", "b"); err != nil {
		t.Fatalf("relocate: %v", err)
	}

	mustCoords(t, m, "root", 1, 10, 0)
	mustCoords(t, m, "a", 2, 5, 1)
	mustCoords(t, m, "d", 3, 4, 2)
	mustCoords(t, m, "b", 6, 9, 1)
	mustCoords(t, m, "c", 7, 8, 2)
	if err := Validate(m.live()); err != nil {
		t.Fatalf("invariant violated: %v", err)
	}
}

func TestRelocateToParentLeftOfMember(t *testing.T) {
	m := buildTree(t)

	// b sits to the right of c's subtree; moving d under b exercises the
	// close-then-reread ordering, since closing d's gap moves b's interval.
	if err := Relocate(context.Background(), m, "d", "b"); err != nil {
		t.Fatalf("relocate: %v", err)
	}
	if err := Validate(m.live()); err != nil {
		t.Fatalf("invariant violated: %v", err)
	}
	// And back again, to a parent left of the member's position.
	if err := Relocate(context.Background(), m, "d", "a"); err != nil {
		t.Fatalf("relocate back: %v", err)
	}

	mustCoords(t, m, "root", 1, 10, 0)
	mustCoords(t, m, "a", 2, 7, 1)
	mustCoords(t, m, "c", 3, 4, 2)
	mustCoords(t, m, "d", 5, 6, 2)
	mustCoords(t, m, "b", 8, 9, 1)
	if err := Validate(m.live()); err != nil {
		t.Fatalf("invariant violated: %v", err)
	}
}

func TestRelocateUnknownMember(t *testing.T) {
	m := buildTree(t)
	if err := Relocate(context.Background(), m, "nobody", "b"); !errors.Is(err, ErrNodeNotFound) {
		t.Fatalf("err = %v, want ErrNodeNotFound", err)
	}
}

func TestMidSequenceFailureRollsBack(t *testing.T) {
	cases := []struct {
		name   string
		failOn string
		run    func(ctx context.Context, m *memStore) error
	}{
		{"insert/ShiftLft", "ShiftLft", func(ctx context.Context, m *memStore) error {
			m.pending = "x"
			_, _, err := Insert(ctx, m, 5, 2)
			return err
		}},
		{"insert/Place", "Place", func(ctx context.Context, m *memStore) error {
			m.pending = "x"
			_, _, err := Insert(ctx, m, 5, 2)
			return err
		}},
		{"remove/AbsorbInterior", "AbsorbInterior", func(ctx context.Context, m *memStore) error {
			_, err := Remove(ctx, m, "a")
			return err
		}},
		{"remove/ShiftLft", "ShiftLft", func(ctx context.Context, m *memStore) error {
			_, err := Remove(ctx, m, "c")
			return err
		}},
		{"relocate/SetCoordinates", "SetCoordinates", func(ctx context.Context, m *memStore) error {
			return Relocate(ctx, m, "c", "b")
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := buildTree(t)
			m.begin()
			m.failOn = tc.failOn
			if err := tc.run(context.Background(), m); err == nil {
				t.Fatal("expected injected failure")
			}
			m.rollback()
			m.failOn = ""

			mustCoords(t, m, "root", 1, 10, 0)
			mustCoords(t, m, "a", 2, 7, 1)
			mustCoords(t, m, "c", 3, 4, 2)
			mustCoords(t, m, "d", 5, 6, 2)
			mustCoords(t, m, "b", 8, 9, 1)
			if err := Validate(m.live()); err != nil {
				t.Fatalf("invariant violated after rollback: %v", err)
			}
		})
	}
}

func TestValidateDetectsCorruption(t *testing.T) {
	cases := []struct {
		name  string
		nodes []Node
	}{
		{"inverted", []Node{{ID: "a", Lft: 4, Rgt: 2}}},
		{"duplicate boundary", []Node{{ID: "a", Lft: 1, Rgt: 4}, {ID: "b", Lft: 4, Rgt: 6}}},
		{"partial overlap", []Node{{ID: "a", Lft: 1, Rgt: 5}, {ID: "b", Lft: 3, Rgt: 8}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := Validate(tc.nodes); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
