// Package hostpdr fetches the host's PDR repository, merges host entity
// associations into the BMC tree, indexes host sensors and FRU record sets
// and tells the host which merged records changed.
//
// Every method that is not documented as safe for concurrent use must run
// on the event loop goroutine.
package hostpdr

import (
	"context"
	"errors"
	"time"

	"github.com/smccarney/pldm/internal/dbus"
	"github.com/smccarney/pldm/internal/entity"
	"github.com/smccarney/pldm/internal/eventloop"
	"github.com/smccarney/pldm/internal/events"
	"github.com/smccarney/pldm/internal/oem"
	"github.com/smccarney/pldm/internal/pdr"
	"github.com/smccarney/pldm/internal/pdrstore"
	"github.com/smccarney/pldm/internal/requester"
	"github.com/smccarney/pldm/pkg/pldm"
)

// Config tunes the handler.
type Config struct {
	// EID is the host endpoint PDRs are fetched from.
	EID uint8
	// TID is the terminus ID the BMC reports in events it sends.
	TID uint8
	// NotifyPDRTypes filters the handles reported in the change event.
	// Empty reports every changed record.
	NotifyPDRTypes []uint8
	// NotifyFormat is pldm.FormatIsPDRHandles or pldm.FormatIsPDRTypes.
	NotifyFormat uint8
	// SyncSensorStates reads every indexed sensor after a fetch cycle.
	SyncSensorStates bool
	// FetchOnHostUp starts a full fetch once host firmware answers.
	FetchOnHostUp bool
	// HistoryKeep is how many cycles the store retains. Zero keeps all.
	HistoryKeep int
}

// CycleStore persists finished fetch cycles.
type CycleStore interface {
	SaveCycle(ctx context.Context, c *pdrstore.Cycle) error
	Prune(ctx context.Context, keep int) (int, error)
}

// Deps are the collaborators a Handler drives.
type Deps struct {
	Loop      *eventloop.Loop
	Requester *requester.Handler
	Repo      *pdr.Repo
	// Tree is the BMC entity tree. The handler keeps a copy to restore
	// when the host powers off.
	Tree      *entity.Tree
	Events    *events.StateSensorHandler
	Publisher dbus.Publisher
	// HostState is optional; without it the host is assumed up.
	HostState dbus.HostState
	// OEM is optional.
	OEM oem.Handler
	// Store is optional.
	Store CycleStore
	// Parents maps a host container entity type to the BMC entity it is
	// attached under.
	Parents map[uint16]pldm.Entity
}

// AssociationGroup is one container group merged from a host PDR.
type AssociationGroup struct {
	Container   pldm.Entity   `json:"container"`
	ContainerID uint16        `json:"container_id"`
	Children    []pldm.Entity `json:"children"`
}

// Handler owns the host PDR exchange state.
type Handler struct {
	cfg       Config
	loop      *eventloop.Loop
	req       *requester.Handler
	repo      *pdr.Repo
	tree      *entity.Tree
	bmcTree   *entity.Tree
	events    *events.StateSensorHandler
	pub       dbus.Publisher
	hostState dbus.HostState
	oem       oem.Handler
	store     CycleStore

	seedParents map[uint16]pldm.Entity
	parents     map[uint16]pldm.Entity

	entityAssociations map[string]AssociationGroup
	sensorMap          map[SensorEntry]SensorInfo
	fruRecords         map[uint16]FruRecordData
	tlPDRInfo          TLPDRMap
	tlInfos            []TLInfo

	// hostToRepo maps a host record handle to the repository handle it was
	// stored under so a re-fetched record replaces its earlier copy.
	hostToRepo map[uint32]uint32
	// eaHandles maps a merged container group to its regenerated PDR.
	eaHandles map[uint16]uint32

	state          State
	generation     uint64
	cycle          *cycle
	last           *CycleSummary
	changed        []uint32
	hostFirmwareUp bool
}

var errMissingDeps = errors.New("hostpdr: loop, requester, repo and tree are required")

// New returns a handler in the Idle state.
func New(cfg Config, deps Deps) (*Handler, error) {
	if deps.Loop == nil || deps.Requester == nil || deps.Repo == nil || deps.Tree == nil {
		return nil, errMissingDeps
	}
	if deps.Events == nil {
		deps.Events = events.NewStateSensorHandler()
	}
	if deps.Publisher == nil {
		deps.Publisher = dbus.NewRecorder()
	}
	if deps.OEM == nil {
		deps.OEM = oem.Nop{}
	}
	if cfg.NotifyFormat != pldm.FormatIsPDRTypes {
		cfg.NotifyFormat = pldm.FormatIsPDRHandles
	}
	h := &Handler{
		cfg:         cfg,
		loop:        deps.Loop,
		req:         deps.Requester,
		repo:        deps.Repo,
		tree:        deps.Tree,
		bmcTree:     deps.Tree.Copy(),
		events:      deps.Events,
		pub:         deps.Publisher,
		hostState:   deps.HostState,
		oem:         deps.OEM,
		store:       deps.Store,
		seedParents: make(map[uint16]pldm.Entity, len(deps.Parents)),
	}
	for typ, e := range deps.Parents {
		h.seedParents[typ] = e
	}
	h.reset()
	return h, nil
}

// reset clears everything learned from the host.
func (h *Handler) reset() {
	h.parents = make(map[uint16]pldm.Entity, len(h.seedParents))
	for typ, e := range h.seedParents {
		h.parents[typ] = e
	}
	h.entityAssociations = make(map[string]AssociationGroup)
	h.clearIndices()
}

// clearIndices drops the per-fetch lookup state. The merged tree is kept.
func (h *Handler) clearIndices() {
	h.sensorMap = make(map[SensorEntry]SensorInfo)
	h.fruRecords = make(map[uint16]FruRecordData)
	h.tlPDRInfo = make(TLPDRMap)
	h.tlInfos = nil
	h.hostToRepo = make(map[uint32]uint32)
	h.eaHandles = make(map[uint16]uint32)
}

// State returns the fetch state machine state.
func (h *Handler) State() State { return h.state }

// Tree returns the merged entity tree.
func (h *Handler) Tree() *entity.Tree { return h.tree }

// LastCycle returns the summary of the last finished cycle.
func (h *Handler) LastCycle() (CycleSummary, bool) {
	if h.last == nil {
		return CycleSummary{}, false
	}
	return *h.last, true
}

// EntityAssociations returns the merged groups by association name.
func (h *Handler) EntityAssociations() map[string]AssociationGroup {
	out := make(map[string]AssociationGroup, len(h.entityAssociations))
	for k, v := range h.entityAssociations {
		out[k] = v
	}
	return out
}

// TerminusLocators returns the valid terminus locators of the last fetch.
func (h *Handler) TerminusLocators() []TLInfo {
	return append([]TLInfo(nil), h.tlInfos...)
}

// HostFirmwareUp reports whether host firmware answered the version probe.
func (h *Handler) HostFirmwareUp() bool { return h.hostFirmwareUp }

func (h *Handler) now() time.Time { return h.loop.Now() }
