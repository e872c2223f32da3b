package hostpdr

import (
	"github.com/rs/zerolog/log"

	"github.com/smccarney/pldm/internal/metrics"
	"github.com/smccarney/pldm/pkg/pldm"
)

// maxChangeEntries is the most entries one change record can carry.
const maxChangeEntries = 255

// SendPDRRepositoryChgEvent tells the host which records the last fetch
// added to the BMC repository. pdrTypes limits the report to records of
// those types; empty reports all. With pldm.FormatIsPDRTypes the distinct
// types are sent instead of handles. Nothing is sent when there is nothing
// to report. The response is logged and never retried.
func (h *Handler) SendPDRRepositoryChgEvent(pdrTypes []uint8, format uint8) {
	entries := h.changeEntries(pdrTypes, format)
	if len(entries) == 0 {
		log.Debug().Msg("No changed PDRs to report to host")
		h.state = Idle
		return
	}

	data := pldm.PDRRepositoryChgEventData{Format: format}
	for i := 0; i < len(entries); i += maxChangeEntries {
		end := min(i+maxChangeEntries, len(entries))
		data.Records = append(data.Records, pldm.ChangeRecord{
			Operation: pldm.RecordsAdded,
			Entries:   entries[i:end],
		})
	}
	eventData, err := pldm.EncodePDRRepositoryChgEventData(data)
	if err != nil {
		metrics.ChangeEventsSentTotal.WithLabelValues("encode_error").Inc()
		log.Error().Err(err).Int("entries", len(entries)).Msg("Failed to encode PDR repository change event")
		h.state = Idle
		return
	}

	iid, err := h.req.InstanceIDs().Get(h.cfg.EID)
	if err != nil {
		metrics.ChangeEventsSentTotal.WithLabelValues("send_error").Inc()
		log.Error().Err(err).Msg("Failed to get instance ID for PDR repository change event")
		h.state = Idle
		return
	}
	msg := pldm.EncodePlatformEventMessageRequest(iid, pldm.PlatformEventMessageRequest{
		FormatVersion: pldm.PlatformEventFormatVersion,
		TID:           h.cfg.TID,
		EventClass:    pldm.EventClassPDRRepositoryChg,
		EventData:     eventData,
	})

	gen := h.generation
	h.state = AwaitingChangeEventAck
	err = h.req.RegisterRequest(h.cfg.EID, iid, pldm.TypePlatform, pldm.CmdPlatformEventMessage, msg, func(_ uint8, payload []byte) {
		h.changeEventAcked(gen, payload)
	})
	if err != nil {
		metrics.ChangeEventsSentTotal.WithLabelValues("send_error").Inc()
		log.Error().Err(err).Msg("Failed to send PDR repository change event")
		h.state = Idle
		return
	}
	log.Info().Int("entries", len(entries)).Uint8("format", format).Msg("Sent PDR repository change event")
}

// changeEntries returns the entries the change event reports.
func (h *Handler) changeEntries(pdrTypes []uint8, format uint8) []uint32 {
	want := make(map[uint8]bool, len(pdrTypes))
	for _, t := range pdrTypes {
		want[t] = true
	}
	var entries []uint32
	seenTypes := make(map[uint8]bool)
	for _, handle := range h.changed {
		rec, err := h.repo.Get(handle)
		if err != nil {
			continue
		}
		if len(want) > 0 && !want[rec.Type] {
			continue
		}
		if format == pldm.FormatIsPDRTypes {
			if !seenTypes[rec.Type] {
				seenTypes[rec.Type] = true
				entries = append(entries, uint32(rec.Type))
			}
			continue
		}
		entries = append(entries, handle)
	}
	return entries
}

func (h *Handler) changeEventAcked(gen uint64, payload []byte) {
	defer func() {
		if h.generation == gen && h.state == AwaitingChangeEventAck {
			h.state = Idle
		}
	}()
	if payload == nil {
		metrics.ChangeEventsSentTotal.WithLabelValues("timeout").Inc()
		log.Warn().Msg("Host did not acknowledge PDR repository change event")
		return
	}
	cc, status, err := pldm.DecodePlatformEventMessageResponse(payload)
	if err != nil {
		metrics.ChangeEventsSentTotal.WithLabelValues("malformed").Inc()
		log.Warn().Err(err).Msg("Malformed PDR repository change event response")
		return
	}
	metrics.ChangeEventsSentTotal.WithLabelValues(cc.String()).Inc()
	if cc != pldm.Success {
		log.Warn().Str("completion_code", cc.String()).Msg("Host rejected PDR repository change event")
		return
	}
	log.Debug().Uint8("event_status", status).Msg("Host acknowledged PDR repository change event")
}
