package hostpdr

import (
	"time"

	"github.com/smccarney/pldm/pkg/pldm"
)

// TLInfo is the endpoint identity a terminus locator PDR describes.
type TLInfo struct {
	Valid          bool   `json:"valid"`
	EID            uint8  `json:"eid"`
	TID            uint8  `json:"tid"`
	TerminusHandle uint16 `json:"terminus_handle"`
}

// TLPDRMap maps a terminus handle to its terminus ID.
type TLPDRMap map[uint16]uint8

// SensorEntry keys the sensor index.
type SensorEntry struct {
	TerminusID uint8  `json:"terminus_id"`
	SensorID   uint16 `json:"sensor_id"`
}

// Less orders entries by terminus ID, then sensor ID.
func (e SensorEntry) Less(o SensorEntry) bool {
	if e.TerminusID != o.TerminusID {
		return e.TerminusID < o.TerminusID
	}
	return e.SensorID < o.SensorID
}

// Equal reports whether both fields match.
func (e SensorEntry) Equal(o SensorEntry) bool {
	return e.TerminusID == o.TerminusID && e.SensorID == o.SensorID
}

// StateSetInfo describes one composite sensor offset.
type StateSetInfo struct {
	StateSetID     uint16  `json:"state_set_id"`
	PossibleStates []uint8 `json:"possible_states"`
}

// SensorInfo is what the sensor index stores for an entry.
type SensorInfo struct {
	Entity          pldm.Entity    `json:"entity"`
	ObjectPath      string         `json:"object_path"`
	CompositeStates []StateSetInfo `json:"composite_states"`
}

// FruRecordData ties a FRU record set to its entity in the merged tree.
type FruRecordData struct {
	RSI    uint16      `json:"rsi"`
	Entity pldm.Entity `json:"entity"`
}

// State is the fetch state machine state.
type State int

const (
	Idle State = iota
	AwaitingGetPDRResponse
	ProcessingBatch
	MergeComplete
	AwaitingChangeEventAck
	TimedOut
	HostDown
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingGetPDRResponse:
		return "awaiting_get_pdr_response"
	case ProcessingBatch:
		return "processing_batch"
	case MergeComplete:
		return "merge_complete"
	case AwaitingChangeEventAck:
		return "awaiting_change_event_ack"
	case TimedOut:
		return "timed_out"
	case HostDown:
		return "host_down"
	default:
		return "unknown"
	}
}

// inProgress reports whether a fetch cycle owns the state machine.
func (s State) inProgress() bool {
	return s == AwaitingGetPDRResponse || s == ProcessingBatch || s == MergeComplete
}

// Cycle outcomes
const (
	OutcomeComplete = "complete"
	OutcomeTimeout  = "timeout"
	OutcomeError    = "error"
	OutcomeHostOff  = "host_off"
	OutcomeHostDown = "host_down"
)

// CycleSummary describes the last finished fetch cycle.
type CycleSummary struct {
	ID       string        `json:"id"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Outcome  string        `json:"outcome"`
	Records  int           `json:"records"`
	Changed  []uint32      `json:"changed"`
}
