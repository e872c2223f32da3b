package hostpdr

import (
	"github.com/rs/zerolog/log"

	"github.com/smccarney/pldm/internal/metrics"
	"github.com/smccarney/pldm/pkg/pldm"
)

// SetHostFirmwareCondition probes host firmware with GetPLDMVersion. A
// successful answer marks the host firmware up and, when configured,
// starts a full fetch.
func (h *Handler) SetHostFirmwareCondition() {
	iid, err := h.req.InstanceIDs().Get(h.cfg.EID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to get instance ID for GetPLDMVersion")
		return
	}
	msg := pldm.EncodeGetPLDMVersionRequest(iid, pldm.TypeBase)
	gen := h.generation
	err = h.req.RegisterRequest(h.cfg.EID, iid, pldm.TypeBase, pldm.CmdGetPLDMVersion, msg, func(_ uint8, payload []byte) {
		h.hostFirmwareProbed(gen, payload)
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to send GetPLDMVersion")
	}
}

func (h *Handler) hostFirmwareProbed(gen uint64, payload []byte) {
	if gen != h.generation {
		return
	}
	if payload == nil {
		log.Info().Uint8("eid", h.cfg.EID).Msg("Host firmware did not answer GetPLDMVersion")
		h.hostFirmwareUp = false
		metrics.HostUp.Set(0)
		return
	}
	cc, version, err := pldm.DecodeGetPLDMVersionResponse(payload)
	if err != nil || cc != pldm.Success {
		log.Warn().Err(err).Str("completion_code", cc.String()).Msg("GetPLDMVersion failed")
		return
	}
	h.hostFirmwareUp = true
	metrics.HostUp.Set(1)
	log.Info().Uint32("version", version).Msg("Host firmware is up")
	if h.cfg.FetchOnHostUp {
		h.FetchPDR(nil)
	}
}

// HandleHostOff drops everything learned from the host: remote records,
// merged entities, indices and parent anchors. A cycle in progress is
// abandoned.
func (h *Handler) HandleHostOff() {
	if h.cycle != nil {
		h.finishCycle(h.cycle, OutcomeHostOff, nil)
	}
	removed := h.repo.RemoveRemote()
	h.tree = h.bmcTree.Copy()
	h.reset()
	h.generation++
	h.changed = nil
	h.state = Idle
	h.hostFirmwareUp = false
	metrics.HostUp.Set(0)
	log.Info().Int("removed_records", removed).Msg("Host is off, cleared host PDR state")
	h.oem.HostOff()
}
