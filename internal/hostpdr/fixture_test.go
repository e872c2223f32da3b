package hostpdr

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/smccarney/pldm/internal/dbus"
	"github.com/smccarney/pldm/internal/entity"
	"github.com/smccarney/pldm/internal/eventloop"
	"github.com/smccarney/pldm/internal/pdr"
	"github.com/smccarney/pldm/internal/pdrstore"
	"github.com/smccarney/pldm/internal/requester"
	"github.com/smccarney/pldm/pkg/pldm"
)

const (
	hostEID = 9
	bmcTID  = 1
	hostTID = 2
)

var (
	t0      = time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	chassis = pldm.Entity{Type: entity.TypeSystemChassis, Instance: 1}
	board   = pldm.Entity{Type: entity.TypeSystemBoard, Instance: 1}
	cpu0    = pldm.Entity{Type: entity.TypeProcessor, Instance: 0}
	cpu1    = pldm.Entity{Type: entity.TypeProcessor, Instance: 1}
	dimm0   = pldm.Entity{Type: entity.TypeMemoryModule, Instance: 0}
	dimm1   = pldm.Entity{Type: entity.TypeMemoryModule, Instance: 1}
	slot0   = pldm.Entity{Type: entity.TypeSlot, Instance: 0}
)

// fakeHost answers PLDM requests from a host side repository. Responses
// are posted to the loop the way the transport reader does.
type fakeHost struct {
	loop *eventloop.Loop
	req  *requester.Handler
	repo *pdr.Repo

	drop        map[uint32]bool
	multipart   map[uint32]bool
	readings    map[uint16][]pldm.StateField
	dropReads   bool
	firmwareOff bool

	getPDRs  []uint32
	events   []pldm.PlatformEventMessageRequest
	readReqs []uint16
}

func newFakeHost(loop *eventloop.Loop) *fakeHost {
	return &fakeHost{
		loop:      loop,
		repo:      pdr.NewRepo(),
		drop:      make(map[uint32]bool),
		multipart: make(map[uint32]bool),
		readings:  make(map[uint16][]pldm.StateField),
	}
}

func (f *fakeHost) add(t *testing.T, handle uint32, record []byte) {
	t.Helper()
	_, err := f.repo.Add(record, handle, false, 0)
	require.NoError(t, err)
}

func (f *fakeHost) Send(eid uint8, msg []byte) error {
	hdr, payload, err := pldm.DecodeHeader(msg)
	if err != nil {
		return err
	}
	var resp []byte
	switch {
	case hdr.Type == pldm.TypePlatform && hdr.Command == pldm.CmdGetPDR:
		req, err := pldm.DecodeGetPDRRequest(payload)
		if err != nil {
			return err
		}
		f.getPDRs = append(f.getPDRs, req.RecordHandle)
		if f.drop[req.RecordHandle] {
			return nil
		}
		resp = f.getPDR(hdr.InstanceID, req.RecordHandle)
	case hdr.Type == pldm.TypePlatform && hdr.Command == pldm.CmdPlatformEventMessage:
		ev, err := pldm.DecodePlatformEventMessageRequest(payload)
		if err != nil {
			return err
		}
		f.events = append(f.events, ev)
		resp = pldm.EncodePlatformEventMessageResponse(hdr, pldm.Success, pldm.EventNoLogging)
	case hdr.Type == pldm.TypePlatform && hdr.Command == pldm.CmdGetStateSensorReadings:
		id, _, err := pldm.DecodeGetStateSensorReadingsRequest(payload)
		if err != nil {
			return err
		}
		f.readReqs = append(f.readReqs, id)
		if f.dropReads {
			return nil
		}
		fields, ok := f.readings[id]
		if !ok {
			resp = pldm.EncodeCompletionCodeResponse(hdr, pldm.PlatformInvalidSensorID)
		} else {
			resp = pldm.EncodeGetStateSensorReadingsResponse(hdr.InstanceID, pldm.Success, fields)
		}
	case hdr.Type == pldm.TypeBase && hdr.Command == pldm.CmdGetPLDMVersion:
		if f.firmwareOff {
			return nil
		}
		resp = pldm.EncodeGetPLDMVersionResponse(hdr.InstanceID, 0xF1F0F000)
	default:
		resp = pldm.EncodeCompletionCodeResponse(hdr, pldm.ErrorUnsupportedCmd)
	}
	f.loop.Post(func() { f.req.HandleResponse(eid, resp) })
	return nil
}

func (f *fakeHost) getPDR(iid uint8, handle uint32) []byte {
	if handle == 0 {
		handle = f.repo.First()
	}
	rec, err := f.repo.Get(handle)
	if err != nil {
		return pldm.EncodeGetPDRResponse(iid, pldm.GetPDRResponse{CompletionCode: pldm.PlatformInvalidRecordHandle})
	}
	flag := pldm.TransferStartAndEnd
	if f.multipart[handle] {
		flag = pldm.TransferStart
	}
	return pldm.EncodeGetPDRResponse(iid, pldm.GetPDRResponse{
		CompletionCode:   pldm.Success,
		NextRecordHandle: f.repo.Next(handle),
		TransferFlag:     flag,
		RecordData:       rec.Data,
	})
}

// changeEntries decodes the handles of every change event the host got.
func (f *fakeHost) changeEntries(t *testing.T) [][]uint32 {
	t.Helper()
	var out [][]uint32
	for _, ev := range f.events {
		require.Equal(t, pldm.EventClassPDRRepositoryChg, ev.EventClass)
		d, err := pldm.DecodePDRRepositoryChgEventData(ev.EventData)
		require.NoError(t, err)
		var entries []uint32
		for _, r := range d.Records {
			entries = append(entries, r.Entries...)
		}
		out = append(out, entries)
	}
	return out
}

type memStore struct {
	saved chan *pdrstore.Cycle
}

func (m *memStore) SaveCycle(_ context.Context, c *pdrstore.Cycle) error {
	m.saved <- c
	return nil
}

func (m *memStore) Prune(context.Context, int) (int, error) { return 0, nil }

type fixture struct {
	clock *eventloop.ManualClock
	loop  *eventloop.Loop
	host  *fakeHost
	req   *requester.Handler
	repo  *pdr.Repo
	pub   *dbus.Recorder
	h     *Handler
}

func defaultConfig() Config {
	return Config{EID: hostEID, TID: bmcTID}
}

func newFixture(t *testing.T, cfg Config, opts ...func(*Deps)) *fixture {
	t.Helper()
	clock := eventloop.NewManualClock(t0)
	loop := eventloop.New(eventloop.WithClock(clock.Now))
	host := newFakeHost(loop)
	req := requester.NewHandler(loop, host, requester.NewInstanceIDs(), requester.Options{Timeout: time.Second, Retries: 1})
	host.req = req
	pub := dbus.NewRecorder()

	deps := Deps{
		Loop:      loop,
		Requester: req,
		Repo:      pdr.NewRepo(),
		Tree:      bmcTree(),
		Publisher: pub,
		HostState: pub,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	h, err := New(cfg, deps)
	require.NoError(t, err)
	return &fixture{clock: clock, loop: loop, host: host, req: req, repo: deps.Repo, pub: pub, h: h}
}

func (f *fixture) run() { f.loop.RunPending() }

// expire lets every outstanding request run out of retries.
func (f *fixture) expire() {
	for i := 0; i < 3; i++ {
		f.clock.Advance(time.Second)
		f.loop.RunPending()
	}
}

func (f *fixture) fetch(handles ...uint32) {
	f.h.FetchPDR(handles)
	f.run()
}

// bmcTree is chassis1 holding motherboard1 in container 1.
func bmcTree() *entity.Tree {
	t := entity.NewTree()
	root := t.AddRoot(chassis)
	t.AddChildren(root, pldm.PhysicalAssociation, []pldm.Entity{board}, false)
	return t
}

func eaPDR(container pldm.Entity, children ...pldm.Entity) []byte {
	return pldm.EncodeEntityAssociationPDR(pldm.EntityAssociationPDR{
		ContainerID:     0x100,
		AssociationType: pldm.PhysicalAssociation,
		Container:       container,
		Children:        children,
	})
}

func tlPDR(terminusHandle uint16, tid, eid uint8) []byte {
	return pldm.EncodeTerminusLocatorPDR(pldm.TerminusLocatorPDR{
		TerminusHandle: terminusHandle,
		Validity:       pldm.TLPDRValid,
		TID:            tid,
		LocatorType:    pldm.LocatorMCTPEID,
		LocatorValue:   []byte{eid},
	})
}

func presenceSensorPDR(terminusHandle, sensorID uint16, e pldm.Entity) []byte {
	return pldm.EncodeStateSensorPDR(pldm.StateSensorPDR{
		TerminusHandle: terminusHandle,
		SensorID:       sensorID,
		Entity:         e,
		StateSets:      []pldm.StateSet{{ID: StateSetPresence, PossibleStates: []uint8{1, 2}}},
	})
}

func fruPDR(terminusHandle, rsi uint16, e pldm.Entity) []byte {
	return pldm.EncodeFRURecordSetPDR(pldm.FRURecordSetPDR{TerminusHandle: terminusHandle, RSI: rsi, Entity: e})
}

// rawPDR builds a record of any type around body.
func rawPDR(pdrType uint8, body ...byte) []byte {
	b := make([]byte, pldm.PDRHeaderSize, pldm.PDRHeaderSize+len(body))
	b[4] = pldm.PDRHeaderVersion
	b[5] = pdrType
	binary.LittleEndian.PutUint16(b[8:], uint16(len(body)))
	return append(b, body...)
}

func countEntity(t *entity.Tree, e pldm.Entity) int {
	n := 0
	t.Walk(func(node *entity.Node) bool {
		if node.Entity.Type == e.Type && node.Entity.Instance == e.Instance {
			n++
		}
		return true
	})
	return n
}
