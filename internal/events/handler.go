// Package events maps host state sensor events to D-Bus property updates
// described by event definition JSON files.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/jsonc"

	"github.com/smccarney/pldm/internal/dbus"
)

// ErrUnknownState is returned by Action when the entry is configured but
// has no value for the event state.
var ErrUnknownState = errors.New("events: no property value for event state")

// StateSensorEntry identifies one composite sensor of an entity.
type StateSensorEntry struct {
	ContainerID    uint16
	EntityType     uint16
	EntityInstance uint16
	SensorOffset   uint8
}

// Mapping is the D-Bus property an entry updates.
type Mapping struct {
	ObjectPath   string
	Interface    string
	PropertyName string
	PropertyType string
}

type action struct {
	mapping Mapping
	values  map[uint8]any
}

// fileEntry is the JSON form of one event definition.
type fileEntry struct {
	ContainerID    uint16  `json:"containerID"`
	EntityType     uint16  `json:"entityType"`
	EntityInstance uint16  `json:"entityInstance"`
	SensorOffset   uint8   `json:"sensorOffset"`
	EventStates    []uint8 `json:"event_states"`
	DBus           struct {
		ObjectPath     string `json:"object_path"`
		Interface      string `json:"interface"`
		PropertyName   string `json:"property_name"`
		PropertyType   string `json:"property_type"`
		PropertyValues []any  `json:"property_values"`
	} `json:"dbus"`
}

type file struct {
	Entries []fileEntry `json:"entries"`
}

// StateSensorHandler runs the configured action for a sensor event.
type StateSensorHandler struct {
	actions map[StateSensorEntry]action
}

// NewStateSensorHandler returns a handler with no configured actions.
func NewStateSensorHandler() *StateSensorHandler {
	return &StateSensorHandler{actions: make(map[StateSensorEntry]action)}
}

// LoadDir reads every *.json file in dir. A missing directory yields an
// empty handler; a file that cannot be parsed is skipped with a warning.
func LoadDir(dir string) (*StateSensorHandler, error) {
	h := NewStateSensorHandler()
	if dir == "" {
		return h, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Info().Str("dir", dir).Msg("No event definition directory, state sensor actions disabled")
			return h, nil
		}
		return nil, fmt.Errorf("failed to read event definitions: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		if err := h.Parse(data); err != nil {
			log.Warn().Err(err).Str("file", path).Msg("Skipping event definition file")
		}
	}
	log.Info().Int("actions", len(h.actions)).Str("dir", dir).Msg("Loaded state sensor event definitions")
	return h, nil
}

// Parse adds the entries of one event definition document. Comments and
// trailing commas are accepted. Invalid entries are skipped.
func (h *StateSensorHandler) Parse(data []byte) error {
	var f file
	if err := json.Unmarshal(jsonc.ToJSON(data), &f); err != nil {
		return fmt.Errorf("parsing event definitions: %w", err)
	}
	for _, e := range f.Entries {
		if len(e.EventStates) != len(e.DBus.PropertyValues) {
			log.Warn().Str("object_path", e.DBus.ObjectPath).Msg("Event states and property values differ in length")
			continue
		}
		a := action{
			mapping: Mapping{
				ObjectPath:   e.DBus.ObjectPath,
				Interface:    e.DBus.Interface,
				PropertyName: e.DBus.PropertyName,
				PropertyType: e.DBus.PropertyType,
			},
			values: make(map[uint8]any, len(e.EventStates)),
		}
		valid := true
		for i, state := range e.EventStates {
			v, err := dbus.ConvertValue(e.DBus.PropertyType, e.DBus.PropertyValues[i])
			if err != nil {
				log.Warn().Err(err).Str("object_path", e.DBus.ObjectPath).Msg("Invalid event property value")
				valid = false
				break
			}
			a.values[state] = v
		}
		if !valid {
			continue
		}
		h.actions[StateSensorEntry{
			ContainerID:    e.ContainerID,
			EntityType:     e.EntityType,
			EntityInstance: e.EntityInstance,
			SensorOffset:   e.SensorOffset,
		}] = a
	}
	return nil
}

// Lookup returns the mapping configured for entry.
func (h *StateSensorHandler) Lookup(entry StateSensorEntry) (Mapping, bool) {
	a, ok := h.actions[entry]
	return a.mapping, ok
}

// Len returns the number of configured entries.
func (h *StateSensorHandler) Len() int { return len(h.actions) }

// Action publishes the property value configured for entry and state. An
// entry with no configuration has no action and returns nil.
func (h *StateSensorHandler) Action(pub dbus.Publisher, entry StateSensorEntry, state uint8) error {
	a, ok := h.actions[entry]
	if !ok {
		return nil
	}
	v, ok := a.values[state]
	if !ok {
		return fmt.Errorf("state %d for %s: %w", state, a.mapping.ObjectPath, ErrUnknownState)
	}
	if err := pub.SetProperty(a.mapping.ObjectPath, a.mapping.Interface, a.mapping.PropertyName, v); err != nil {
		return fmt.Errorf("failed to publish event state: %w", err)
	}
	return nil
}
