/**
 * @description
 * This package owns the nested-set interval arithmetic for the organization
 * tree. Every node holds a contiguous interval [lft, rgt]; a leaf occupies
 * exactly two slots, and an ancestor's interval strictly contains every
 * descendant's. The three mutating operations (insert, remove, relocate)
 * renumber intervals by shifting boundaries in bulk, which is a
 * read-modify-write over a single global numbering space: callers MUST run
 * each operation inside one transaction, and a partially applied shift
 * sequence must never be observable.
 *
 * The Store interface maps one-to-one onto single SQL statements so the
 * postgres repository and the in-memory test double execute the exact same
 * sequence. No other package touches interval coordinates directly.
 */

package nestedset

import (
	"context"
	"errors"
	"fmt"
)

// Node is the coordinate view of one tree member.
type Node struct {
	ID    string
	Lft   int64
	Rgt   int64
	Depth int64
}

// Width of one leaf's reserved interval.
const leafSpan = 2

var (
	// ErrNodeNotFound is returned when an operation references an id that
	// is not (or no longer) part of the tree.
	ErrNodeNotFound = errors.New("nestedset: node not found")
)

// Store is the minimal primitive surface the engine drives. Each method
// corresponds to one bulk statement against the interval table; conditions
// apply to non-departed nodes only. Implementations must execute all calls
// of one engine operation inside the same transaction.
type Store interface {
	// MaxRgt returns the largest rgt over all nodes, 0 for an empty tree.
	MaxRgt(ctx context.Context) (int64, error)
	// Node resolves a non-departed node's coordinates by external id.
	Node(ctx context.Context, id string) (Node, error)
	// ShiftRgt adds delta to every rgt >= min.
	ShiftRgt(ctx context.Context, min, delta int64) error
	// ShiftLft adds delta to every lft > min.
	ShiftLft(ctx context.Context, min, delta int64) error
	// Place materializes the new node at the given coordinates. The
	// surrounding repository supplies the node's non-coordinate columns.
	Place(ctx context.Context, lft, rgt, depth int64) error
	// MarkDeparted soft-deletes a node, leaving its row (and stale
	// coordinates) in place.
	MarkDeparted(ctx context.Context, id string) error
	// AbsorbInterior pulls every node with lft in (lft, rgt) one slot left
	// on both boundaries and rewrites its depth, absorbing a removed
	// node's subtree up one level.
	AbsorbInterior(ctx context.Context, lft, rgt, depth int64) error
	// SetCoordinates rewrites one node's coordinates in place.
	SetCoordinates(ctx context.Context, id string, lft, rgt, depth int64) error
}

// Insert opens a two-slot gap at the parent's rgt boundary and places a new
// leaf [parentRgt, parentRgt+1] there. A parentRgt of 0 inserts a fresh
// root after the current right-most interval (1 on an empty tree).
func Insert(ctx context.Context, s Store, parentRgt, depth int64) (lft, rgt int64, err error) {
	if parentRgt == 0 {
		max, err := s.MaxRgt(ctx)
		if err != nil {
			return 0, 0, fmt.Errorf("resolve max rgt: %w", err)
		}
		parentRgt = max + 1
	}
	if err := s.ShiftRgt(ctx, parentRgt, leafSpan); err != nil {
		return 0, 0, fmt.Errorf("open gap (rgt): %w", err)
	}
	if err := s.ShiftLft(ctx, parentRgt, leafSpan); err != nil {
		return 0, 0, fmt.Errorf("open gap (lft): %w", err)
	}
	if err := s.Place(ctx, parentRgt, parentRgt+1, depth); err != nil {
		return 0, 0, fmt.Errorf("place node: %w", err)
	}
	return parentRgt, parentRgt + 1, nil
}

// Remove soft-deletes the node and collapses its two boundary slots out of
// the numbering space. Interior nodes (the removed node's subtree) are
// pulled one slot inward and re-homed at the removed node's depth; every
// boundary beyond the removed interval shifts two slots left.
func Remove(ctx context.Context, s Store, id string) (Node, error) {
	node, err := s.Node(ctx, id)
	if err != nil {
		return Node{}, err
	}
	if err := s.MarkDeparted(ctx, id); err != nil {
		return Node{}, fmt.Errorf("mark departed: %w", err)
	}
	if err := s.AbsorbInterior(ctx, node.Lft, node.Rgt, node.Depth); err != nil {
		return Node{}, fmt.Errorf("absorb interior: %w", err)
	}
	if err := s.ShiftRgt(ctx, node.Rgt+1, -leafSpan); err != nil {
		return Node{}, fmt.Errorf("close gap (rgt): %w", err)
	}
	if err := s.ShiftLft(ctx, node.Rgt, -leafSpan); err != nil {
		return Node{}, fmt.Errorf("close gap (lft): %w", err)
	}
	return node, nil
}

// Relocate detaches a leaf from its current position and re-attaches it as
// the last child of the new parent, at depth parent+1. The member's old gap
// is closed first, the parent's coordinates are re-read because that shift
// may have moved them, and only then is the new gap opened. Both phases
// must share one transaction; interleaving them with other interval
// mutations corrupts the numbering space.
func Relocate(ctx context.Context, s Store, memberID, parentID string) error {
	member, err := s.Node(ctx, memberID)
	if err != nil {
		return err
	}
	if err := s.ShiftRgt(ctx, member.Rgt+1, -leafSpan); err != nil {
		return fmt.Errorf("close old gap (rgt): %w", err)
	}
	if err := s.ShiftLft(ctx, member.Rgt, -leafSpan); err != nil {
		return fmt.Errorf("close old gap (lft): %w", err)
	}
	parent, err := s.Node(ctx, parentID)
	if err != nil {
		return err
	}
	if err := s.ShiftRgt(ctx, parent.Rgt, leafSpan); err != nil {
		return fmt.Errorf("open new gap (rgt): %w", err)
	}
	if err := s.ShiftLft(ctx, parent.Rgt, leafSpan); err != nil {
		return fmt.Errorf("open new gap (lft): %w", err)
	}
	if err := s.SetCoordinates(ctx, memberID, parent.Rgt, parent.Rgt+1, parent.Depth+1); err != nil {
		return fmt.Errorf("place member: %w", err)
	}
	return nil
}

// Validate checks the containment invariant over a coordinate snapshot: any
// two intervals are either nested or disjoint, never partially overlapping,
// and no boundary value repeats. Used by tests and by the repository's
// consistency probe.
func Validate(nodes []Node) error {
	seen := make(map[int64]string, len(nodes)*2)
	for _, n := range nodes {
		if n.Lft >= n.Rgt {
			return fmt.Errorf("nestedset: node %s has inverted interval [%d, %d]", n.ID, n.Lft, n.Rgt)
		}
		for _, b := range []int64{n.Lft, n.Rgt} {
			if other, dup := seen[b]; dup {
				return fmt.Errorf("nestedset: boundary %d shared by %s and %s", b, other, n.ID)
			}
			seen[b] = n.ID
		}
	}
	for _, a := range nodes {
		for _, b := range nodes {
			if a.ID == b.ID {
				continue
			}
			if a.Lft < b.Lft && b.Lft < a.Rgt && a.Rgt < b.Rgt {
				return fmt.Errorf("nestedset: intervals of %s and %s partially overlap", a.ID, b.ID)
			}
		}
	}
	return nil
}
