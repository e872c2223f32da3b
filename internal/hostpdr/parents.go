package hostpdr

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/smccarney/pldm/pkg/pldm"
)

type parentsFile struct {
	Entities []struct {
		EntityType uint16 `yaml:"entity_type"`
		Parent     struct {
			EntityType     uint16 `yaml:"entity_type"`
			EntityInstance uint16 `yaml:"entity_instance"`
		} `yaml:"parent"`
	} `yaml:"entities"`
}

// LoadHostFRUParents reads the file naming, per host container entity
// type, the BMC entity host subtrees of that type are attached under. The
// file may be YAML or JSON. A missing file yields an empty map.
func LoadHostFRUParents(path string) (map[uint16]pldm.Entity, error) {
	if path == "" {
		return map[uint16]pldm.Entity{}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Info().Str("path", path).Msg("No host FRU parents file")
			return map[uint16]pldm.Entity{}, nil
		}
		return nil, fmt.Errorf("failed to open host FRU parents: %w", err)
	}
	defer f.Close()
	return DecodeHostFRUParents(f)
}

// DecodeHostFRUParents parses a host FRU parents document.
func DecodeHostFRUParents(r io.Reader) (map[uint16]pldm.Entity, error) {
	var pf parentsFile
	if err := yaml.NewDecoder(r).Decode(&pf); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing host FRU parents: %w", err)
	}
	out := make(map[uint16]pldm.Entity, len(pf.Entities))
	for _, e := range pf.Entities {
		out[e.EntityType] = pldm.Entity{Type: e.Parent.EntityType, Instance: e.Parent.EntityInstance}
	}
	return out, nil
}
