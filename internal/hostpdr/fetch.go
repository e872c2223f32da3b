package hostpdr

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/smccarney/pldm/internal/entity"
	"github.com/smccarney/pldm/internal/metrics"
	"github.com/smccarney/pldm/internal/pdrstore"
	"github.com/smccarney/pldm/pkg/pldm"
)

const getPDRRequestCount = 0xFFFF

// cycle is the state of one fetch.
type cycle struct {
	id       string
	started  time.Time
	explicit bool
	queue    []uint32
	visited  map[uint32]bool

	eaSeen bool
	anchor *entity.Node

	changed    []uint32
	changedSet map[uint32]bool

	stateSensors [][]byte
	fruRecords   [][]byte
	records      []*pdrstore.Record
}

func newCycle(started time.Time, handles []uint32) *cycle {
	c := &cycle{
		id:         uuid.NewString(),
		started:    started,
		explicit:   len(handles) > 0,
		visited:    make(map[uint32]bool),
		changedSet: make(map[uint32]bool),
	}
	seen := make(map[uint32]bool, len(handles))
	for _, h := range handles {
		if !seen[h] {
			seen[h] = true
			c.queue = append(c.queue, h)
		}
	}
	return c
}

func (c *cycle) addChanged(handle uint32) {
	if c.changedSet[handle] {
		return
	}
	c.changedSet[handle] = true
	c.changed = append(c.changed, handle)
}

func (c *cycle) pop() (uint32, bool) {
	if len(c.queue) == 0 {
		return 0, false
	}
	h := c.queue[0]
	c.queue = c.queue[1:]
	return h, true
}

// next returns the handle to request after a response naming next, and
// whether there is one.
func (c *cycle) next(next uint32) (uint32, bool) {
	if c.explicit {
		return c.pop()
	}
	return next, next != 0
}

// FetchPDR starts a fetch cycle. With no handles the whole host repository
// is fetched from the first record and the host derived indices are
// rebuilt; otherwise only the given records are fetched, in order. A call
// while a cycle is in progress is ignored.
func (h *Handler) FetchPDR(handles []uint32) {
	if h.state.inProgress() {
		log.Debug().Str("state", h.state.String()).Msg("PDR fetch already in progress, ignoring request")
		return
	}
	if !h.hostUp() {
		log.Info().Msg("Host is off, not fetching PDRs")
		h.finishCycle(newCycle(h.now(), handles), OutcomeHostDown, nil)
		h.state = HostDown
		return
	}

	h.generation++
	c := newCycle(h.now(), handles)
	if !c.explicit {
		removed := h.repo.RemoveRemote()
		h.clearIndices()
		log.Debug().Int("removed", removed).Msg("Cleared host PDRs for full fetch")
	}
	h.cycle = c
	h.state = AwaitingGetPDRResponse

	first, _ := c.next(0)
	log.Info().
		Str("cycle_id", c.id).
		Bool("explicit", c.explicit).
		Int("handles", len(c.queue)).
		Msg("Starting host PDR fetch")
	h.loop.Defer(func() { h.getHostPDR(c, first) })
}

func (h *Handler) getHostPDR(c *cycle, handle uint32) {
	if h.cycle != c {
		return
	}
	iid, err := h.req.InstanceIDs().Get(h.cfg.EID)
	if err != nil {
		log.Error().Err(err).Uint8("eid", h.cfg.EID).Msg("Failed to get instance ID for GetPDR")
		h.abort(c, OutcomeError)
		return
	}
	msg := pldm.EncodeGetPDRRequest(iid, pldm.GetPDRRequest{
		RecordHandle:   handle,
		TransferOpFlag: pldm.GetFirstPart,
		RequestCount:   getPDRRequestCount,
	})
	c.visited[handle] = true
	h.state = AwaitingGetPDRResponse
	err = h.req.RegisterRequest(h.cfg.EID, iid, pldm.TypePlatform, pldm.CmdGetPDR, msg, func(_ uint8, payload []byte) {
		h.processHostPDRs(c, handle, payload)
	})
	if err != nil {
		log.Error().Err(err).Uint32("record_handle", handle).Msg("Failed to send GetPDR request")
		h.abort(c, OutcomeError)
	}
}

func (h *Handler) processHostPDRs(c *cycle, requested uint32, payload []byte) {
	if h.cycle != c {
		return
	}
	if payload == nil {
		log.Warn().Str("cycle_id", c.id).Uint32("record_handle", requested).Msg("GetPDR timed out, aborting fetch")
		h.state = TimedOut
		h.abort(c, OutcomeTimeout)
		return
	}
	h.state = ProcessingBatch

	resp, err := pldm.DecodeGetPDRResponse(payload)
	if err != nil {
		metrics.DecodeErrorsTotal.WithLabelValues("get_pdr_response").Inc()
		log.Error().Err(err).Uint32("record_handle", requested).Msg("Malformed GetPDR response, aborting fetch")
		h.abort(c, OutcomeError)
		return
	}
	if resp.CompletionCode != pldm.Success {
		log.Warn().
			Str("completion_code", resp.CompletionCode.String()).
			Uint32("record_handle", requested).
			Msg("GetPDR failed")
		if !c.explicit || len(c.queue) == 0 {
			h.abort(c, OutcomeError)
			return
		}
	} else if resp.TransferFlag != pldm.TransferStartAndEnd {
		metrics.DecodeErrorsTotal.WithLabelValues("multipart").Inc()
		log.Warn().
			Uint32("record_handle", requested).
			Uint8("transfer_flag", resp.TransferFlag).
			Msg("Skipping multipart PDR")
	} else {
		h.processRecord(c, resp.RecordData)
	}

	next, more := c.next(resp.NextRecordHandle)
	if !more {
		h.mergeComplete(c)
		return
	}
	if c.visited[next] {
		log.Warn().Uint32("record_handle", next).Msg("Host PDR chain loops, ending fetch")
		h.mergeComplete(c)
		return
	}
	h.state = AwaitingGetPDRResponse
	h.loop.Defer(func() { h.getHostPDR(c, next) })
}

// abort ends a cycle early. Merged entities and stored records are kept;
// the changed handles are not reported.
func (h *Handler) abort(c *cycle, outcome string) {
	h.finishCycle(c, outcome, nil)
	h.state = Idle
}

func (h *Handler) mergeComplete(c *cycle) {
	h.state = MergeComplete
	h.ParseStateSensorPDRs(c.stateSensors, h.tlPDRInfo)
	h.ParseFruRecordSetPDRs(c.fruRecords)

	changed := append([]uint32(nil), c.changed...)
	h.finishCycle(c, OutcomeComplete, changed)
	h.changed = changed
	h.oem.FetchComplete(changed)

	h.SendPDRRepositoryChgEvent(h.cfg.NotifyPDRTypes, h.cfg.NotifyFormat)
	if h.cfg.SyncSensorStates {
		gen := h.generation
		h.loop.Defer(func() { h.startSensorSync(gen) })
	}
}

func (h *Handler) finishCycle(c *cycle, outcome string, changed []uint32) {
	d := h.now().Sub(c.started)
	metrics.FetchCyclesTotal.WithLabelValues(outcome).Inc()
	metrics.FetchCycleDuration.Observe(d.Seconds())
	h.cycle = nil
	h.last = &CycleSummary{
		ID:       c.id,
		Started:  c.started,
		Duration: d,
		Outcome:  outcome,
		Records:  len(c.records),
		Changed:  changed,
	}
	log.Info().
		Str("cycle_id", c.id).
		Str("outcome", outcome).
		Int("records", len(c.records)).
		Int("changed", len(changed)).
		Dur("duration", d).
		Msg("Host PDR fetch finished")
	h.saveCycle(c, outcome, changed, d)
}

func (h *Handler) saveCycle(c *cycle, outcome string, changed []uint32, d time.Duration) {
	if h.store == nil {
		return
	}
	rec := &pdrstore.Cycle{
		ID:         c.id,
		StartedAt:  c.started,
		DurationMS: d.Milliseconds(),
		Outcome:    outcome,
		Changed:    changed,
		Records:    c.records,
	}
	store, keep := h.store, h.cfg.HistoryKeep
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := store.SaveCycle(ctx, rec); err != nil {
			log.Error().Err(err).Str("cycle_id", rec.ID).Msg("Failed to save fetch cycle")
			return
		}
		if keep > 0 {
			if _, err := store.Prune(ctx, keep); err != nil {
				log.Warn().Err(err).Msg("Failed to prune fetch history")
			}
		}
	}()
}

func (h *Handler) hostUp() bool {
	if h.hostState == nil {
		return true
	}
	up, err := h.hostState.IsHostUp()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read host state, assuming host is off")
		return false
	}
	return up
}
