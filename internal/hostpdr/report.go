package hostpdr

import (
	"context"
	"sort"

	"github.com/smccarney/pldm/internal/entity"
	"github.com/smccarney/pldm/internal/metrics"
)

// The methods in this file are safe for concurrent use. They run on the
// event loop through Loop.Do and need the loop to be running.

// Status is a point in time view of the handler.
type Status struct {
	State            string        `json:"state"`
	HostFirmwareUp   bool          `json:"host_firmware_up"`
	TreeEntities     int           `json:"tree_entities"`
	Sensors          int           `json:"sensors"`
	FRURecordSets    int           `json:"fru_record_sets"`
	RepoRecords      int           `json:"repo_records"`
	Associations     int           `json:"associations"`
	TerminusLocators []TLInfo      `json:"terminus_locators"`
	PendingRequests  int           `json:"pending_requests"`
	LastCycle        *CycleSummary `json:"last_cycle,omitempty"`
}

// SensorRecord is one entry of the sensor index.
type SensorRecord struct {
	SensorEntry
	SensorInfo
}

// EntityRecord is one node of the merged tree.
type EntityRecord struct {
	Entity     entity.Entity  `json:"entity"`
	Parent     *entity.Entity `json:"parent,omitempty"`
	ObjectPath string         `json:"object_path"`
	Remote     bool           `json:"remote"`
}

// StatusReport returns the handler status.
func (h *Handler) StatusReport(ctx context.Context) (Status, error) {
	var s Status
	err := h.loop.Do(ctx, func() {
		s = Status{
			State:            h.state.String(),
			HostFirmwareUp:   h.hostFirmwareUp,
			TreeEntities:     h.tree.Len(),
			Sensors:          len(h.sensorMap),
			FRURecordSets:    len(h.fruRecords),
			RepoRecords:      h.repo.Len(),
			Associations:     len(h.entityAssociations),
			TerminusLocators: h.TerminusLocators(),
			PendingRequests:  h.req.Pending(),
		}
		if h.last != nil {
			last := *h.last
			s.LastCycle = &last
		}
	})
	if err != nil {
		return Status{}, err
	}
	return s, nil
}

// MetricsSnapshot implements metrics.StateSource.
func (h *Handler) MetricsSnapshot(ctx context.Context) (metrics.Snapshot, error) {
	var snap metrics.Snapshot
	err := h.loop.Do(ctx, func() {
		snap = metrics.Snapshot{
			TreeEntities:   h.tree.Len(),
			Sensors:        len(h.sensorMap),
			FRURecordSets:  len(h.fruRecords),
			HostFirmwareUp: h.hostFirmwareUp,
		}
		for _, r := range h.repo.Records() {
			if r.Remote {
				snap.RemoteRecords++
			} else {
				snap.LocalRecords++
			}
		}
	})
	if err != nil {
		return metrics.Snapshot{}, err
	}
	return snap, nil
}

// SensorList returns the sensor index ordered by entry.
func (h *Handler) SensorList(ctx context.Context) ([]SensorRecord, error) {
	var out []SensorRecord
	err := h.loop.Do(ctx, func() {
		out = make([]SensorRecord, 0, len(h.sensorMap))
		for k, v := range h.sensorMap {
			out = append(out, SensorRecord{SensorEntry: k, SensorInfo: v})
		}
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SensorEntry.Less(out[j].SensorEntry) })
	return out, nil
}

// EntityList returns the merged tree breadth first.
func (h *Handler) EntityList(ctx context.Context) ([]EntityRecord, error) {
	var out []EntityRecord
	err := h.loop.Do(ctx, func() {
		h.tree.Walk(func(n *entity.Node) bool {
			rec := EntityRecord{Entity: n.Entity, ObjectPath: entity.ObjectPath(n), Remote: n.Remote}
			if p := n.Parent(); p != nil {
				pe := p.Entity
				rec.Parent = &pe
			}
			out = append(out, rec)
			return true
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// TriggerFetch starts a fetch cycle from another goroutine.
func (h *Handler) TriggerFetch(ctx context.Context, handles []uint32) error {
	return h.loop.Do(ctx, func() { h.FetchPDR(handles) })
}
