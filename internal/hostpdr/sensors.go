package hostpdr

import (
	"errors"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/smccarney/pldm/internal/events"
	"github.com/smccarney/pldm/internal/metrics"
	"github.com/smccarney/pldm/pkg/pldm"
)

// Presence state set (DSP0249)
const (
	StateSetPresence     uint16 = 13
	PresenceStatePresent uint8  = 1
)

// Inventory item presence property
const (
	ItemInterface   = "xyz.openbmc_project.Inventory.Item"
	PresentProperty = "Present"
)

// HandleStateSensorEvent applies a state change reported by a host state
// sensor.
func (h *Handler) HandleStateSensorEvent(entry SensorEntry, offset, state uint8) pldm.CompletionCode {
	cc := h.applySensorState(entry, offset, state)
	metrics.SensorEventsTotal.WithLabelValues(cc.String()).Inc()
	return cc
}

func (h *Handler) applySensorState(entry SensorEntry, offset, state uint8) pldm.CompletionCode {
	info, ok := h.sensorMap[entry]
	if !ok {
		log.Debug().
			Uint8("tid", entry.TerminusID).
			Uint16("sensor_id", entry.SensorID).
			Msg("State sensor event for unknown sensor")
		return pldm.PlatformInvalidSensorID
	}
	if int(offset) >= len(info.CompositeStates) {
		return pldm.ErrorInvalidData
	}
	set := info.CompositeStates[offset]
	if !containsState(set.PossibleStates, state) {
		return pldm.ErrorInvalidData
	}

	err := h.events.Action(h.pub, events.StateSensorEntry{
		ContainerID:    info.Entity.ContainerID,
		EntityType:     info.Entity.Type,
		EntityInstance: info.Entity.Instance,
		SensorOffset:   offset,
	}, state)
	switch {
	case errors.Is(err, events.ErrUnknownState):
		log.Warn().Err(err).Uint16("sensor_id", entry.SensorID).Msg("No action for state sensor state")
		return pldm.ErrorInvalidData
	case err != nil:
		log.Error().Err(err).Uint16("sensor_id", entry.SensorID).Msg("State sensor action failed")
		return pldm.ErrorGeneric
	}

	if set.StateSetID == StateSetPresence && info.ObjectPath != "" {
		present := state == PresenceStatePresent
		if err := h.pub.SetProperty(info.ObjectPath, ItemInterface, PresentProperty, present); err != nil {
			log.Error().Err(err).Str("object_path", info.ObjectPath).Msg("Failed to publish presence")
			return pldm.ErrorGeneric
		}
	}
	return pldm.Success
}

func containsState(states []uint8, state uint8) bool {
	for _, s := range states {
		if s == state {
			return true
		}
	}
	return false
}

// startSensorSync reads the current state of every indexed sensor, one
// request at a time.
func (h *Handler) startSensorSync(gen uint64) {
	if gen != h.generation {
		return
	}
	keys := make([]SensorEntry, 0, len(h.sensorMap))
	for k := range h.sensorMap {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	log.Debug().Int("sensors", len(keys)).Msg("Syncing host sensor states")
	h.syncSensorState(gen, keys, 0)
}

func (h *Handler) syncSensorState(gen uint64, keys []SensorEntry, i int) {
	if gen != h.generation || i >= len(keys) {
		return
	}
	entry := keys[i]
	advance := func() { h.loop.Defer(func() { h.syncSensorState(gen, keys, i+1) }) }
	if _, ok := h.sensorMap[entry]; !ok {
		advance()
		return
	}

	eid := h.eidFor(entry.TerminusID)
	iid, err := h.req.InstanceIDs().Get(eid)
	if err != nil {
		log.Warn().Err(err).Msg("Stopping sensor state sync")
		return
	}
	msg := pldm.EncodeGetStateSensorReadingsRequest(iid, entry.SensorID, 0)
	err = h.req.RegisterRequest(eid, iid, pldm.TypePlatform, pldm.CmdGetStateSensorReadings, msg, func(_ uint8, payload []byte) {
		if gen != h.generation {
			return
		}
		h.sensorReadings(entry, payload)
		advance()
	})
	if err != nil {
		log.Warn().Err(err).Uint16("sensor_id", entry.SensorID).Msg("Failed to read host sensor state")
		advance()
	}
}

func (h *Handler) sensorReadings(entry SensorEntry, payload []byte) {
	if payload == nil {
		return
	}
	cc, fields, err := pldm.DecodeGetStateSensorReadingsResponse(payload)
	if err != nil || cc != pldm.Success {
		log.Debug().
			Err(err).
			Str("completion_code", cc.String()).
			Uint16("sensor_id", entry.SensorID).
			Msg("Unusable state sensor reading")
		return
	}
	for offset, f := range fields {
		if f.OperationalState != pldm.SensorEnabled {
			continue
		}
		h.applySensorState(entry, uint8(offset), f.PresentState)
	}
}

// eidFor returns the endpoint of a terminus, falling back to the host EID.
func (h *Handler) eidFor(tid uint8) uint8 {
	for _, tl := range h.tlInfos {
		if tl.Valid && tl.TID == tid && tl.EID != 0 {
			return tl.EID
		}
	}
	return h.cfg.EID
}
