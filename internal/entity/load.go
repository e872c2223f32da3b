package entity

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// nodeSpec is the YAML form of a BMC tree node.
type nodeSpec struct {
	EntityType     uint16     `yaml:"entity_type"`
	EntityInstance uint16     `yaml:"entity_instance"`
	ContainerID    uint16     `yaml:"container_id"`
	Association    string     `yaml:"association"`
	Children       []nodeSpec `yaml:"children"`
}

type treeSpec struct {
	Entities []nodeSpec `yaml:"entities"`
}

// LoadTree reads a BMC entity tree from a YAML file.
func LoadTree(path string) (*Tree, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open entity tree: %w", err)
	}
	defer f.Close()
	return DecodeTree(f)
}

// DecodeTree reads a BMC entity tree in YAML form. Children without an
// explicit container ID get a fresh one per sibling group.
func DecodeTree(r io.Reader) (*Tree, error) {
	var spec treeSpec
	if err := yaml.NewDecoder(r).Decode(&spec); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to parse entity tree: %w", err)
	}

	t := NewTree()
	t.lastContainerID = maxContainerID(spec.Entities)
	for _, root := range spec.Entities {
		n := t.AddRoot(Entity{Type: root.EntityType, Instance: root.EntityInstance})
		if err := t.load(n, root.Children); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func maxContainerID(nodes []nodeSpec) uint16 {
	var highest uint16
	for _, n := range nodes {
		if n.ContainerID > highest {
			highest = n.ContainerID
		}
		if m := maxContainerID(n.Children); m > highest {
			highest = m
		}
	}
	return highest
}

func (t *Tree) load(parent *Node, children []nodeSpec) error {
	var generated []Entity
	var assoc uint8
	for _, c := range children {
		a, err := associationType(c.Association)
		if err != nil {
			return err
		}
		if c.ContainerID != 0 {
			t.Attach(parent, Entity{Type: c.EntityType, Instance: c.EntityInstance, ContainerID: c.ContainerID}, a)
			continue
		}
		if len(generated) == 0 {
			assoc = a
		}
		generated = append(generated, Entity{Type: c.EntityType, Instance: c.EntityInstance})
	}
	if len(generated) > 0 {
		t.AddChildren(parent, assoc, generated, false)
	}
	for _, c := range children {
		n := parent.child(c.EntityType, c.EntityInstance)
		if n == nil {
			continue
		}
		if err := t.load(n, c.Children); err != nil {
			return err
		}
	}
	return nil
}

func associationType(s string) (uint8, error) {
	switch s {
	case "", "physical":
		return 0, nil
	case "logical":
		return 1, nil
	default:
		return 0, fmt.Errorf("unknown association type %q", s)
	}
}
