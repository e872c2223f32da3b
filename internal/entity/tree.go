// Package entity holds the entity association tree that host entity
// association PDRs are merged into.
package entity

import (
	"math"

	"github.com/rs/zerolog/log"

	"github.com/smccarney/pldm/pkg/pldm"
)

// Entity is a PLDM entity. Identity is type and instance; the container ID
// is assigned by the tree.
type Entity = pldm.Entity

// Node is one entity in the tree.
type Node struct {
	Entity          Entity
	AssociationType uint8
	// Remote marks nodes merged from a host PDR.
	Remote bool

	parent   *Node
	children []*Node
}

// Parent returns the parent node, or nil for a root.
func (n *Node) Parent() *Node { return n.parent }

// Children returns the node's children in insertion order.
func (n *Node) Children() []*Node { return n.children }

func (n *Node) child(typ, instance uint16) *Node {
	for _, c := range n.children {
		if c.Entity.Type == typ && c.Entity.Instance == instance {
			return c
		}
	}
	return nil
}

// Tree is a forest of entity nodes. It is not safe for concurrent use.
type Tree struct {
	roots           []*Node
	lastContainerID uint16
}

// NewTree returns an empty tree.
func NewTree() *Tree {
	return &Tree{}
}

// Roots returns the top-level nodes.
func (t *Tree) Roots() []*Node { return t.roots }

// AddRoot adds a top-level entity. Roots live in container 0.
func (t *Tree) AddRoot(e Entity) *Node {
	e.ContainerID = 0
	n := &Node{Entity: e, AssociationType: pldm.PhysicalAssociation}
	t.roots = append(t.roots, n)
	return n
}

// Attach adds e under parent keeping the container ID e already carries.
// It is used to load a tree that was numbered elsewhere.
func (t *Tree) Attach(parent *Node, e Entity, assoc uint8) *Node {
	n := &Node{Entity: e, AssociationType: assoc, parent: parent}
	parent.children = append(parent.children, n)
	if e.ContainerID > t.lastContainerID {
		t.lastContainerID = e.ContainerID
	}
	return n
}

// AddChildren inserts children under parent as one container group with a
// fresh container ID. Children already under parent with the same type and
// instance are left alone. It returns the new container ID and the nodes
// that were added; when nothing is added the ID is 0 and no ID is consumed.
// Once every container ID has been handed out nothing more is added.
func (t *Tree) AddChildren(parent *Node, assoc uint8, children []Entity, remote bool) (uint16, []*Node) {
	var fresh []Entity
	for _, c := range children {
		if parent.child(c.Type, c.Instance) != nil || contains(fresh, c) {
			continue
		}
		fresh = append(fresh, c)
	}
	if len(fresh) == 0 {
		return 0, nil
	}
	if t.lastContainerID == math.MaxUint16 {
		log.Warn().
			Str("parent", Name(parent.Entity)).
			Int("children", len(fresh)).
			Msg("Container IDs exhausted, not adding children")
		return 0, nil
	}
	t.lastContainerID++
	id := t.lastContainerID
	added := make([]*Node, 0, len(fresh))
	for _, c := range fresh {
		c.ContainerID = id
		n := &Node{Entity: c, AssociationType: assoc, Remote: remote, parent: parent}
		parent.children = append(parent.children, n)
		added = append(added, n)
	}
	return id, added
}

func contains(list []Entity, e Entity) bool {
	for _, v := range list {
		if v.Type == e.Type && v.Instance == e.Instance {
			return true
		}
	}
	return false
}

// Walk visits nodes breadth first. Returning false from fn stops the walk.
func (t *Tree) Walk(fn func(*Node) bool) {
	queue := append([]*Node(nil), t.roots...)
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if !fn(n) {
			return
		}
		queue = append(queue, n.children...)
	}
}

// Find returns the first node with the given type and instance.
func (t *Tree) Find(typ, instance uint16) *Node {
	var found *Node
	t.Walk(func(n *Node) bool {
		if n.Entity.Type == typ && n.Entity.Instance == instance {
			found = n
			return false
		}
		return true
	})
	return found
}

// FindByType returns the shallowest node of the given type.
func (t *Tree) FindByType(typ uint16) *Node {
	var found *Node
	t.Walk(func(n *Node) bool {
		if n.Entity.Type == typ {
			found = n
			return false
		}
		return true
	})
	return found
}

// Extract returns every entity in breadth first order.
func (t *Tree) Extract() []Entity {
	var out []Entity
	t.Walk(func(n *Node) bool {
		out = append(out, n.Entity)
		return true
	})
	return out
}

// Len returns the number of nodes.
func (t *Tree) Len() int {
	count := 0
	t.Walk(func(*Node) bool {
		count++
		return true
	})
	return count
}

// ContainerIDs returns the set of container IDs used by non-root nodes.
func (t *Tree) ContainerIDs() map[uint16]struct{} {
	ids := make(map[uint16]struct{})
	t.Walk(func(n *Node) bool {
		if n.parent != nil {
			ids[n.Entity.ContainerID] = struct{}{}
		}
		return true
	})
	return ids
}

// Copy returns a deep copy of the tree.
func (t *Tree) Copy() *Tree {
	out := &Tree{lastContainerID: t.lastContainerID}
	for _, r := range t.roots {
		out.roots = append(out.roots, copyNode(r, nil))
	}
	return out
}

func copyNode(n *Node, parent *Node) *Node {
	c := &Node{Entity: n.Entity, AssociationType: n.AssociationType, Remote: n.Remote, parent: parent}
	for _, child := range n.children {
		c.children = append(c.children, copyNode(child, c))
	}
	return c
}

// AssociationPDRs regenerates the entity association PDRs of a node, one
// per container group of its children, in order of first appearance.
func AssociationPDRs(n *Node) []pldm.EntityAssociationPDR {
	var out []pldm.EntityAssociationPDR
	index := make(map[uint16]int)
	for _, c := range n.children {
		i, ok := index[c.Entity.ContainerID]
		if !ok {
			i = len(out)
			index[c.Entity.ContainerID] = i
			out = append(out, pldm.EntityAssociationPDR{
				ContainerID:     c.Entity.ContainerID,
				AssociationType: c.AssociationType,
				Container:       n.Entity,
			})
		}
		out[i].Children = append(out[i].Children, c.Entity)
	}
	return out
}
