package hostpdr

import (
	"encoding/binary"

	"github.com/rs/zerolog/log"

	"github.com/smccarney/pldm/internal/entity"
	"github.com/smccarney/pldm/internal/metrics"
	"github.com/smccarney/pldm/internal/pdrstore"
	"github.com/smccarney/pldm/pkg/pldm"
)

// processRecord routes one host PDR by type. Entity associations are
// merged right away; sensor and FRU record set PDRs are batched for the
// end of the cycle.
func (h *Handler) processRecord(c *cycle, data []byte) {
	hdr, err := pldm.DecodePDRHeader(data)
	if err != nil {
		metrics.DecodeErrorsTotal.WithLabelValues("header").Inc()
		log.Warn().Err(err).Msg("Skipping host PDR with malformed header")
		return
	}
	metrics.RecordsTotal.WithLabelValues(pldm.PDRTypeName(hdr.Type)).Inc()
	stored := &pdrstore.Record{HostHandle: hdr.RecordHandle, Type: hdr.Type, Data: append([]byte(nil), data...)}
	c.records = append(c.records, stored)

	if h.oem.ProcessHostPDR(hdr.Type, data) {
		return
	}

	switch hdr.Type {
	case pldm.PDREntityAssociation:
		h.mergeEntityAssociations(c, data)
		return
	case pldm.PDRTerminusLocator:
		tl, err := pldm.DecodeTerminusLocatorPDR(data)
		if err != nil {
			metrics.DecodeErrorsTotal.WithLabelValues("terminus_locator").Inc()
			log.Warn().Err(err).Uint32("record_handle", hdr.RecordHandle).Msg("Skipping malformed terminus locator PDR")
			return
		}
		if tl.Validity == pldm.TLPDRValid {
			h.tlPDRInfo[tl.TerminusHandle] = tl.TID
			eid, _ := tl.EID()
			h.tlInfos = append(h.tlInfos, TLInfo{
				Valid:          true,
				EID:            eid,
				TID:            tl.TID,
				TerminusHandle: tl.TerminusHandle,
			})
		}
	case pldm.PDRStateSensor:
		c.stateSensors = append(c.stateSensors, data)
	case pldm.PDRFRURecordSet:
		c.fruRecords = append(c.fruRecords, data)
	case pldm.PDRNumericSensor, pldm.PDRNumericEffecter, pldm.PDRStateEffecter:
	default:
		log.Debug().Uint8("pdr_type", hdr.Type).Uint32("record_handle", hdr.RecordHandle).Msg("Ignoring unsupported host PDR")
		return
	}

	handle, err := h.repo.Add(data, h.hostToRepo[hdr.RecordHandle], true, terminusHandle(data))
	if err != nil {
		log.Error().Err(err).Uint32("record_handle", hdr.RecordHandle).Msg("Failed to store host PDR")
		return
	}
	h.hostToRepo[hdr.RecordHandle] = handle
	stored.RepoHandle = handle
	c.addChanged(handle)
}

// terminusHandle reads the terminus handle every terminus scoped PDR
// carries first in its body.
func terminusHandle(data []byte) uint16 {
	if len(data) < pldm.PDRHeaderSize+2 {
		return 0
	}
	return binary.LittleEndian.Uint16(data[pldm.PDRHeaderSize:])
}

// ParseStateSensorPDRs adds host state sensors to the sensor index. A PDR
// whose terminus handle is not in tl is skipped.
func (h *Handler) ParseStateSensorPDRs(pdrs [][]byte, tl TLPDRMap) {
	for _, raw := range pdrs {
		p, err := pldm.DecodeStateSensorPDR(raw)
		if err != nil {
			metrics.DecodeErrorsTotal.WithLabelValues("state_sensor").Inc()
			log.Warn().Err(err).Msg("Skipping malformed state sensor PDR")
			continue
		}
		tid, ok := tl[p.TerminusHandle]
		if !ok {
			metrics.DecodeErrorsTotal.WithLabelValues("unresolved_terminus").Inc()
			log.Warn().
				Uint16("terminus_handle", p.TerminusHandle).
				Uint16("sensor_id", p.SensorID).
				Msg("No terminus locator for state sensor, skipping")
			continue
		}

		info := SensorInfo{Entity: p.Entity}
		if n := h.tree.Find(p.Entity.Type, p.Entity.Instance); n != nil {
			info.ObjectPath = entity.ObjectPath(n)
		}
		for _, s := range p.StateSets {
			info.CompositeStates = append(info.CompositeStates, StateSetInfo{
				StateSetID:     s.ID,
				PossibleStates: s.PossibleStates,
			})
		}
		h.sensorMap[SensorEntry{TerminusID: tid, SensorID: p.SensorID}] = info
	}
}

// ParseFruRecordSetPDRs maps FRU record set identifiers to entities of the
// merged tree. Record sets for entities not in the tree are dropped.
func (h *Handler) ParseFruRecordSetPDRs(pdrs [][]byte) {
	for _, raw := range pdrs {
		p, err := pldm.DecodeFRURecordSetPDR(raw)
		if err != nil {
			metrics.DecodeErrorsTotal.WithLabelValues("fru_record_set").Inc()
			log.Warn().Err(err).Msg("Skipping malformed FRU record set PDR")
			continue
		}
		n := h.tree.Find(p.Entity.Type, p.Entity.Instance)
		if n == nil {
			metrics.DecodeErrorsTotal.WithLabelValues("unknown_entity").Inc()
			log.Debug().Str("entity", p.Entity.String()).Uint16("rsi", p.RSI).Msg("FRU record set entity not in tree")
			continue
		}
		h.fruRecords[p.RSI] = FruRecordData{RSI: p.RSI, Entity: n.Entity}
	}
}

// RSI returns the FRU record set identifier of an entity.
func (h *Handler) RSI(e pldm.Entity) (uint16, bool) {
	for rsi, d := range h.fruRecords {
		if d.Entity.Type == e.Type && d.Entity.Instance == e.Instance {
			return rsi, true
		}
	}
	return 0, false
}

// LookupSensorInfo returns the indexed information of a host sensor.
func (h *Handler) LookupSensorInfo(entry SensorEntry) (SensorInfo, bool) {
	info, ok := h.sensorMap[entry]
	return info, ok
}
