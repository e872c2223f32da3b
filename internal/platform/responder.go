// Package platform answers PLDM platform requests the host sends to the BMC
// and moves transport traffic onto the event loop.
package platform

import (
	"github.com/rs/zerolog/log"

	"github.com/smccarney/pldm/internal/hostpdr"
	"github.com/smccarney/pldm/internal/pdr"
	"github.com/smccarney/pldm/pkg/pldm"
)

// Responder builds responses to inbound requests. Handle must run on the
// event loop goroutine.
type Responder struct {
	handler *hostpdr.Handler
	repo    *pdr.Repo
}

// NewResponder returns a responder routing events into handler and serving
// GetPDR from repo.
func NewResponder(handler *hostpdr.Handler, repo *pdr.Repo) *Responder {
	return &Responder{handler: handler, repo: repo}
}

// Handle returns the encoded response to msg, or nil when msg is not a
// request.
func (r *Responder) Handle(msg []byte) []byte {
	hdr, payload, err := pldm.DecodeHeader(msg)
	if err != nil {
		log.Debug().Err(err).Msg("Dropping malformed PLDM message")
		return nil
	}
	if !hdr.Request {
		return nil
	}

	switch {
	case hdr.Type == pldm.TypePlatform && hdr.Command == pldm.CmdPlatformEventMessage:
		return r.platformEventMessage(hdr, payload)
	case hdr.Type == pldm.TypePlatform && hdr.Command == pldm.CmdGetPDR:
		return r.getPDR(hdr, payload)
	default:
		log.Debug().
			Uint8("type", hdr.Type).
			Uint8("command", hdr.Command).
			Msg("Unsupported PLDM command")
		return pldm.EncodeCompletionCodeResponse(hdr, pldm.ErrorUnsupportedCmd)
	}
}

func (r *Responder) platformEventMessage(hdr pldm.Header, payload []byte) []byte {
	req, err := pldm.DecodePlatformEventMessageRequest(payload)
	if err != nil {
		return pldm.EncodeCompletionCodeResponse(hdr, pldm.ErrorInvalidLength)
	}
	if req.FormatVersion != pldm.PlatformEventFormatVersion {
		return pldm.EncodeCompletionCodeResponse(hdr, pldm.PlatformUnsupportedEventFormatVersion)
	}

	var cc pldm.CompletionCode
	switch req.EventClass {
	case pldm.EventClassSensor:
		cc = r.sensorEvent(req)
	case pldm.EventClassPDRRepositoryChg:
		cc = r.repositoryChanged(req)
	default:
		log.Debug().Uint8("event_class", req.EventClass).Msg("Unsupported platform event class")
		cc = pldm.ErrorInvalidData
	}
	return pldm.EncodePlatformEventMessageResponse(hdr, cc, pldm.EventNoLogging)
}

func (r *Responder) sensorEvent(req pldm.PlatformEventMessageRequest) pldm.CompletionCode {
	ev, err := pldm.DecodeSensorEventData(req.EventData)
	if err != nil {
		return pldm.ErrorInvalidLength
	}
	if ev.EventClass != pldm.StateSensorStateEvent {
		log.Debug().
			Uint16("sensor_id", ev.SensorID).
			Uint8("sensor_event_class", ev.EventClass).
			Msg("Ignoring sensor event")
		return pldm.Success
	}
	state, err := pldm.DecodeStateSensorEventData(ev.ClassData)
	if err != nil {
		return pldm.ErrorInvalidLength
	}
	entry := hostpdr.SensorEntry{TerminusID: req.TID, SensorID: ev.SensorID}
	return r.handler.HandleStateSensorEvent(entry, state.SensorOffset, state.EventState)
}

func (r *Responder) repositoryChanged(req pldm.PlatformEventMessageRequest) pldm.CompletionCode {
	d, err := pldm.DecodePDRRepositoryChgEventData(req.EventData)
	if err != nil {
		return pldm.ErrorInvalidData
	}

	if d.Format != pldm.FormatIsPDRHandles {
		r.handler.FetchPDR(nil)
		return pldm.Success
	}

	var handles []uint32
	for _, rec := range d.Records {
		switch rec.Operation {
		case pldm.RefreshAllRecords:
			r.handler.FetchPDR(nil)
			return pldm.Success
		case pldm.RecordsAdded, pldm.RecordsModified:
			handles = append(handles, rec.Entries...)
		}
	}
	if len(handles) == 0 {
		return pldm.Success
	}
	log.Info().
		Uint8("tid", req.TID).
		Int("handles", len(handles)).
		Msg("Host PDR repository changed")
	r.handler.FetchPDR(handles)
	return pldm.Success
}

func (r *Responder) getPDR(hdr pldm.Header, payload []byte) []byte {
	req, err := pldm.DecodeGetPDRRequest(payload)
	if err != nil {
		return pldm.EncodeCompletionCodeResponse(hdr, pldm.ErrorInvalidLength)
	}
	// Records are only served whole in a single part.
	if req.TransferOpFlag != pldm.GetFirstPart || req.DataTransferHandle != 0 {
		return pldm.EncodeCompletionCodeResponse(hdr, pldm.ErrorUnsupportedCmd)
	}
	handle := req.RecordHandle
	if handle == 0 {
		handle = r.repo.First()
	}
	rec, err := r.repo.Get(handle)
	if err != nil {
		return pldm.EncodeGetPDRResponse(hdr.InstanceID, pldm.GetPDRResponse{CompletionCode: pldm.PlatformInvalidRecordHandle})
	}
	if int(req.RequestCount) < len(rec.Data) {
		log.Debug().
			Uint32("record_handle", handle).
			Uint16("request_count", req.RequestCount).
			Int("record_size", len(rec.Data)).
			Msg("GetPDR request count smaller than record")
		return pldm.EncodeCompletionCodeResponse(hdr, pldm.ErrorUnsupportedCmd)
	}
	return pldm.EncodeGetPDRResponse(hdr.InstanceID, pldm.GetPDRResponse{
		CompletionCode:   pldm.Success,
		NextRecordHandle: r.repo.Next(handle),
		TransferFlag:     pldm.TransferStartAndEnd,
		RecordData:       rec.Data,
	})
}
