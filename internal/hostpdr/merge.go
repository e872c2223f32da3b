package hostpdr

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/smccarney/pldm/internal/entity"
	"github.com/smccarney/pldm/internal/metrics"
	"github.com/smccarney/pldm/pkg/pldm"
)

// mergeEntityAssociations grafts the children of one host entity
// association PDR into the merged tree.
func (h *Handler) mergeEntityAssociations(c *cycle, raw []byte) {
	ea, err := pldm.DecodeEntityAssociationPDR(raw)
	if err != nil {
		metrics.DecodeErrorsTotal.WithLabelValues("entity_association").Inc()
		log.Warn().Err(err).Msg("Skipping malformed entity association PDR")
		return
	}
	first := !c.eaSeen
	c.eaSeen = true
	if len(ea.Children) == 0 {
		return
	}

	container := ea.Container
	var parent, grafted *entity.Node
	switch {
	case h.tree.Find(container.Type, container.Instance) != nil:
		parent = h.tree.Find(container.Type, container.Instance)
	case h.knownParent(container.Type) != nil:
		grafted = h.knownParent(container.Type)
		parent = h.graft(grafted, ea.AssociationType, container)
	case first:
		parent = h.tree.FindByType(container.Type)
		if parent == nil {
			parent = h.tree.AddRoot(container)
			log.Info().Str("entity", container.String()).Msg("Added host container as top-level entity")
		}
		h.parents[container.Type] = parent.Entity
	case c.anchor != nil:
		grafted = c.anchor
		parent = h.graft(grafted, ea.AssociationType, container)
	}
	if parent == nil {
		metrics.DecodeErrorsTotal.WithLabelValues("unresolved_container").Inc()
		log.Warn().Str("container", container.String()).Msg("No parent for host container entity, skipping record")
		return
	}
	if c.anchor == nil {
		c.anchor = parent
	}

	id, added := h.tree.AddChildren(parent, ea.AssociationType, ea.Children, true)
	metrics.EntitiesMergedTotal.Add(float64(len(added)))

	groups := h.groupsOf(parent, ea.Children)
	if grafted != nil {
		groups = append([]groupRef{{node: grafted, containerID: parent.Entity.ContainerID}}, groups...)
	}
	for _, g := range groups {
		h.storeGroup(c, g)
	}

	if id != 0 {
		name := fmt.Sprintf("%s_%d", entity.Name(parent.Entity), id)
		group := AssociationGroup{Container: parent.Entity, ContainerID: id}
		for _, n := range added {
			group.Children = append(group.Children, n.Entity)
		}
		h.entityAssociations[name] = group
		log.Debug().
			Str("association", name).
			Str("container", parent.Entity.String()).
			Int("children", len(added)).
			Msg("Merged host entity association")
	}
}

// knownParent returns the tree node recorded as the parent for a host
// container type.
func (h *Handler) knownParent(containerType uint16) *entity.Node {
	p, ok := h.parents[containerType]
	if !ok {
		return nil
	}
	n := h.tree.Find(p.Type, p.Instance)
	if n == nil || n.Entity.Type == containerType {
		return nil
	}
	return n
}

// graft adds the container itself as a child of under and returns it.
func (h *Handler) graft(under *entity.Node, assoc uint8, container pldm.Entity) *entity.Node {
	_, added := h.tree.AddChildren(under, assoc, []pldm.Entity{container}, true)
	if len(added) == 0 {
		return nil
	}
	metrics.EntitiesMergedTotal.Inc()
	return added[0]
}

type groupRef struct {
	node        *entity.Node
	containerID uint16
}

// groupsOf returns the distinct container groups of parent that hold any
// of children, in first appearance order.
func (h *Handler) groupsOf(parent *entity.Node, children []pldm.Entity) []groupRef {
	var out []groupRef
	seen := make(map[uint16]bool)
	for _, n := range parent.Children() {
		for _, c := range children {
			if n.Entity.Type != c.Type || n.Entity.Instance != c.Instance {
				continue
			}
			if !seen[n.Entity.ContainerID] {
				seen[n.Entity.ContainerID] = true
				out = append(out, groupRef{node: parent, containerID: n.Entity.ContainerID})
			}
			break
		}
	}
	return out
}

// storeGroup regenerates the association PDR of one container group and
// stores it as a remote record, reusing the handle it had.
func (h *Handler) storeGroup(c *cycle, g groupRef) {
	for _, p := range entity.AssociationPDRs(g.node) {
		if p.ContainerID != g.containerID {
			continue
		}
		handle, err := h.repo.Add(pldm.EncodeEntityAssociationPDR(p), h.eaHandles[g.containerID], true, 0)
		if err != nil {
			log.Error().Err(err).Uint16("container_id", g.containerID).Msg("Failed to store merged entity association PDR")
			return
		}
		h.eaHandles[g.containerID] = handle
		c.addChanged(handle)
		return
	}
}
