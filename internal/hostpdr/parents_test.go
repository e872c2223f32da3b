package hostpdr

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smccarney/pldm/pkg/pldm"
)

func TestDecodeHostFRUParents(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want map[uint16]pldm.Entity
	}{
		{
			name: "json",
			doc:  `{"entities": [{"entity_type": 67, "parent": {"entity_type": 64, "entity_instance": 1}}]}`,
			want: map[uint16]pldm.Entity{67: {Type: 64, Instance: 1}},
		},
		{
			name: "yaml",
			doc: `
entities:
  - entity_type: 135
    parent:
      entity_type: 45
      entity_instance: 1
  - entity_type: 66
    parent:
      entity_type: 64
      entity_instance: 1
`,
			want: map[uint16]pldm.Entity{135: {Type: 45, Instance: 1}, 66: {Type: 64, Instance: 1}},
		},
		{
			name: "empty",
			doc:  "",
			want: map[uint16]pldm.Entity{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeHostFRUParents(strings.NewReader(tt.doc))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := DecodeHostFRUParents(strings.NewReader("entities: [unterminated"))
	assert.Error(t, err)
}

func TestLoadHostFRUParents(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "host_frus.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"entities": [{"entity_type": 67, "parent": {"entity_type": 64, "entity_instance": 1}}]}`), 0o644))

	got, err := LoadHostFRUParents(path)
	require.NoError(t, err)
	assert.Equal(t, map[uint16]pldm.Entity{67: {Type: 64, Instance: 1}}, got)

	got, err = LoadHostFRUParents(filepath.Join(dir, "missing.json"))
	require.NoError(t, err)
	assert.Empty(t, got)
}
