package entity

import (
	"fmt"
	"strings"
)

// Entity types used by the BMC and host trees (DSP0249).
const (
	TypeFan           uint16 = 29
	TypeSystemChassis uint16 = 45
	TypeSystemBoard   uint16 = 64
	TypeMemoryModule  uint16 = 66
	TypeProcModule    uint16 = 67
	TypePowerSupply   uint16 = 120
	TypeProcessor     uint16 = 135
	TypeSlot          uint16 = 185
)

// InventoryRoot is the object path every entity path is rooted at.
const InventoryRoot = "/xyz/openbmc_project/inventory/system"

var typeNames = map[uint16]string{
	TypeFan:           "fan",
	TypeSystemChassis: "chassis",
	TypeSystemBoard:   "motherboard",
	TypeMemoryModule:  "dimm",
	TypeProcModule:    "cpu_module",
	TypePowerSupply:   "powersupply",
	TypeProcessor:     "cpu",
	TypeSlot:          "slot",
}

// TypeName returns the path segment name of an entity type.
func TypeName(typ uint16) string {
	if name, ok := typeNames[typ]; ok {
		return name
	}
	return fmt.Sprintf("entity%d", typ)
}

// Name returns the path segment of a single node, e.g. "cpu0".
func Name(e Entity) string {
	return fmt.Sprintf("%s%d", TypeName(e.Type), e.Instance)
}

// ObjectPath returns the inventory object path of n, built from the names
// of its ancestors.
func ObjectPath(n *Node) string {
	var parts []string
	for p := n; p != nil; p = p.parent {
		parts = append(parts, Name(p.Entity))
	}
	var b strings.Builder
	b.WriteString(InventoryRoot)
	for i := len(parts) - 1; i >= 0; i-- {
		b.WriteByte('/')
		b.WriteString(parts[i])
	}
	return b.String()
}
