package hostpdr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smccarney/pldm/internal/oem"
	"github.com/smccarney/pldm/internal/pdrstore"
	"github.com/smccarney/pldm/pkg/pldm"
)

func threePageHost(t *testing.T, f *fixture) {
	f.host.add(t, 1, eaPDR(chassis, cpu0, cpu1))
	f.host.add(t, 2, presenceSensorPDR(1, 5, cpu0))
	f.host.add(t, 3, tlPDR(1, hostTID, hostEID))
}

func TestFetchThreePages(t *testing.T) {
	f := newFixture(t, defaultConfig())
	threePageHost(t, f)
	before := f.h.Tree().ContainerIDs()

	f.fetch()

	assert.Equal(t, []uint32{0, 2, 3}, f.host.getPDRs)
	assert.Equal(t, Idle, f.h.State())

	tree := f.h.Tree()
	assert.Equal(t, 4, tree.Len())
	n0 := tree.Find(cpu0.Type, cpu0.Instance)
	n1 := tree.Find(cpu1.Type, cpu1.Instance)
	require.NotNil(t, n0)
	require.NotNil(t, n1)
	assert.Equal(t, chassis.Type, n0.Parent().Entity.Type)
	assert.Same(t, n0.Parent(), n1.Parent())
	assert.Equal(t, n0.Entity.ContainerID, n1.Entity.ContainerID)
	assert.NotContains(t, before, n0.Entity.ContainerID)
	assert.True(t, n0.Remote)

	info, ok := f.h.LookupSensorInfo(SensorEntry{TerminusID: hostTID, SensorID: 5})
	require.True(t, ok)
	assert.Equal(t, "/xyz/openbmc_project/inventory/system/chassis1/cpu0", info.ObjectPath)
	assert.Len(t, f.h.sensorMap, 1)
	assert.Equal(t, []TLInfo{{Valid: true, EID: hostEID, TID: hostTID, TerminusHandle: 1}}, f.h.TerminusLocators())

	require.Len(t, f.host.events, 1)
	assert.Equal(t, pldm.PlatformEventFormatVersion, f.host.events[0].FormatVersion)
	assert.Equal(t, uint8(bmcTID), f.host.events[0].TID)
	assert.Equal(t, [][]uint32{{1, 2, 3}}, f.host.changeEntries(t))

	last, ok := f.h.LastCycle()
	require.True(t, ok)
	assert.Equal(t, OutcomeComplete, last.Outcome)
	assert.Equal(t, 3, last.Records)
	assert.Equal(t, []uint32{1, 2, 3}, last.Changed)

	rec, err := f.repo.Get(1)
	require.NoError(t, err)
	assert.True(t, rec.Remote)
	ea, err := pldm.DecodeEntityAssociationPDR(rec.Data)
	require.NoError(t, err)
	assert.Equal(t, chassis, ea.Container)
	assert.Equal(t, []pldm.Entity{n0.Entity, n1.Entity}, ea.Children)
	assert.Equal(t, n0.Entity.ContainerID, ea.ContainerID)
}

func TestFetchTimeoutKeepsMergesAndRefetchDoesNotDuplicate(t *testing.T) {
	f := newFixture(t, defaultConfig())
	f.host.add(t, 1, eaPDR(chassis, cpu0, cpu1))
	f.host.add(t, 2, eaPDR(cpu0, dimm0, dimm1))
	f.host.add(t, 3, eaPDR(board, slot0))
	f.host.drop[3] = true

	f.fetch()
	assert.Equal(t, AwaitingGetPDRResponse, f.h.State())
	f.expire()

	assert.Equal(t, Idle, f.h.State())
	last, _ := f.h.LastCycle()
	assert.Equal(t, OutcomeTimeout, last.Outcome)
	assert.Empty(t, last.Changed)
	assert.Empty(t, f.host.events)
	assert.Equal(t, 6, f.h.Tree().Len())
	assert.Nil(t, f.h.Tree().Find(slot0.Type, slot0.Instance))

	delete(f.host.drop, 3)
	f.fetch()

	assert.Equal(t, 7, f.h.Tree().Len())
	for _, e := range []pldm.Entity{cpu0, cpu1, dimm0, dimm1, slot0} {
		assert.Equal(t, 1, countEntity(f.h.Tree(), e), e.String())
	}
	assert.Equal(t, [][]uint32{{1, 2, 3}}, f.host.changeEntries(t))
	assert.Equal(t, 3, f.repo.Len())
}

func TestFetchWhileInProgressIsIgnored(t *testing.T) {
	f := newFixture(t, defaultConfig())
	threePageHost(t, f)
	f.host.drop[0] = true

	f.fetch()
	f.fetch()
	f.fetch(2, 3)

	assert.Equal(t, []uint32{0}, f.host.getPDRs)
	assert.Equal(t, 1, f.req.Pending())
	assert.Equal(t, AwaitingGetPDRResponse, f.h.State())
}

func TestFetchSkipsMultipartRecords(t *testing.T) {
	f := newFixture(t, defaultConfig())
	threePageHost(t, f)
	f.host.multipart[2] = true

	f.fetch()

	assert.Equal(t, []uint32{0, 2, 3}, f.host.getPDRs)
	assert.Empty(t, f.h.sensorMap)
	assert.Equal(t, [][]uint32{{1, 2}}, f.host.changeEntries(t))
}

func TestFetchUnresolvedTerminus(t *testing.T) {
	f := newFixture(t, defaultConfig())
	f.host.add(t, 1, presenceSensorPDR(7, 5, cpu0))
	f.host.add(t, 2, tlPDR(1, hostTID, hostEID))
	f.host.add(t, 3, presenceSensorPDR(1, 6, cpu0))

	f.fetch()

	assert.Equal(t, Idle, f.h.State())
	_, ok := f.h.LookupSensorInfo(SensorEntry{TerminusID: hostTID, SensorID: 5})
	assert.False(t, ok)
	info, ok := f.h.LookupSensorInfo(SensorEntry{TerminusID: hostTID, SensorID: 6})
	require.True(t, ok)
	assert.Empty(t, info.ObjectPath, "cpu0 is not in the tree")
	last, _ := f.h.LastCycle()
	assert.Equal(t, OutcomeComplete, last.Outcome)
}

func TestFetchHostDown(t *testing.T) {
	f := newFixture(t, defaultConfig())
	threePageHost(t, f)
	f.pub.SetHostUp(false)

	f.fetch()
	assert.Equal(t, HostDown, f.h.State())
	assert.Empty(t, f.host.getPDRs)

	f.pub.SetHostUp(true)
	f.fetch()
	assert.Equal(t, Idle, f.h.State())
	assert.Equal(t, []uint32{0, 2, 3}, f.host.getPDRs)
}

func TestFetchHostDownIsRecorded(t *testing.T) {
	store := &memStore{saved: make(chan *pdrstore.Cycle, 1)}
	f := newFixture(t, defaultConfig(), func(d *Deps) { d.Store = store })
	threePageHost(t, f)
	f.pub.SetHostUp(false)

	f.fetch()
	assert.Equal(t, HostDown, f.h.State())
	last, ok := f.h.LastCycle()
	require.True(t, ok)
	assert.Equal(t, OutcomeHostDown, last.Outcome)
	assert.Zero(t, last.Records)

	select {
	case c := <-store.saved:
		assert.Equal(t, OutcomeHostDown, c.Outcome)
		assert.Empty(t, c.Records)
		assert.Empty(t, c.Changed)
	case <-time.After(5 * time.Second):
		t.Fatal("host down cycle was not saved")
	}
}

func TestFetchExplicitHandles(t *testing.T) {
	f := newFixture(t, defaultConfig())
	threePageHost(t, f)
	f.fetch()

	f.host.add(t, 2, presenceSensorPDR(1, 6, cpu1))
	f.host.getPDRs = nil
	f.fetch(2, 99, 3, 2)

	assert.Equal(t, []uint32{2, 99, 3}, f.host.getPDRs)
	assert.Equal(t, 3, f.repo.Len(), "re-fetched records replace their earlier copy")
	entries := f.host.changeEntries(t)
	require.Len(t, entries, 2)
	assert.Equal(t, []uint32{2, 3}, entries[1])

	_, ok := f.h.LookupSensorInfo(SensorEntry{TerminusID: hostTID, SensorID: 5})
	assert.True(t, ok, "explicit fetches keep the index")
	_, ok = f.h.LookupSensorInfo(SensorEntry{TerminusID: hostTID, SensorID: 6})
	assert.True(t, ok)

	rec, err := f.repo.Get(2)
	require.NoError(t, err)
	p, err := pldm.DecodeStateSensorPDR(rec.Data)
	require.NoError(t, err)
	assert.Equal(t, uint16(6), p.SensorID)
}

func TestFetchEmptyHostRepository(t *testing.T) {
	f := newFixture(t, defaultConfig())

	f.fetch()

	last, ok := f.h.LastCycle()
	require.True(t, ok)
	assert.Equal(t, OutcomeError, last.Outcome)
	assert.Equal(t, Idle, f.h.State())
	assert.Empty(t, f.host.events)
}

func TestFetchRoutesByType(t *testing.T) {
	var consumed []uint8
	var completed []uint32
	f := newFixture(t, defaultConfig(), func(d *Deps) {
		d.OEM = oem.Funcs{
			OnHostPDR: func(pdrType uint8, _ []byte) bool {
				if pdrType == 126 {
					consumed = append(consumed, pdrType)
					return true
				}
				return false
			},
			OnFetchComplete: func(changed []uint32) { completed = changed },
		}
	})
	f.host.add(t, 1, eaPDR(chassis, cpu0))
	f.host.add(t, 2, rawPDR(126, 1, 2, 3))
	f.host.add(t, 3, rawPDR(pldm.PDRNumericSensor, 1, 0, 7, 0))
	f.host.add(t, 4, rawPDR(127, 1))
	f.host.add(t, 5, rawPDR(pldm.PDRStateSensor, 1))

	f.fetch()

	assert.Equal(t, []uint8{126}, consumed)
	assert.Equal(t, []uint32{1, 2, 3}, completed)
	rec, err := f.repo.Get(2)
	require.NoError(t, err)
	assert.Equal(t, pldm.PDRNumericSensor, rec.Type)
	assert.Equal(t, uint16(1), rec.TerminusHandle)
	assert.Empty(t, f.repo.FindByType(127))
	assert.Empty(t, f.h.sensorMap, "malformed sensor PDR is skipped")
	last, _ := f.h.LastCycle()
	assert.Equal(t, 5, last.Records)
}

func TestFetchSavesCycle(t *testing.T) {
	store := &memStore{saved: make(chan *pdrstore.Cycle, 1)}
	f := newFixture(t, defaultConfig(), func(d *Deps) { d.Store = store })
	threePageHost(t, f)

	f.fetch()

	select {
	case c := <-store.saved:
		assert.Equal(t, OutcomeComplete, c.Outcome)
		assert.Equal(t, []uint32{1, 2, 3}, c.Changed)
		require.Len(t, c.Records, 3)
		assert.Equal(t, uint32(2), c.Records[1].HostHandle)
		assert.Equal(t, uint32(2), c.Records[1].RepoHandle)
		assert.Zero(t, c.Records[0].RepoHandle, "host association PDRs are stored regenerated")
	case <-time.After(5 * time.Second):
		t.Fatal("cycle was not saved")
	}
}

func TestChangeEventFilterAndFormat(t *testing.T) {
	cfg := defaultConfig()
	cfg.NotifyPDRTypes = []uint8{pldm.PDREntityAssociation}
	f := newFixture(t, cfg)
	threePageHost(t, f)
	f.fetch()
	assert.Equal(t, [][]uint32{{1}}, f.host.changeEntries(t))

	f.host.events = nil
	f.h.SendPDRRepositoryChgEvent(nil, pldm.FormatIsPDRTypes)
	assert.Equal(t, AwaitingChangeEventAck, f.h.State())
	f.run()
	assert.Equal(t, Idle, f.h.State())
	require.Len(t, f.host.events, 1)
	d, err := pldm.DecodePDRRepositoryChgEventData(f.host.events[0].EventData)
	require.NoError(t, err)
	assert.Equal(t, pldm.FormatIsPDRTypes, d.Format)
	assert.Equal(t, []uint32{
		uint32(pldm.PDREntityAssociation),
		uint32(pldm.PDRStateSensor),
		uint32(pldm.PDRTerminusLocator),
	}, d.Records[0].Entries)
}

func TestChangeEventSplitsRecords(t *testing.T) {
	f := newFixture(t, defaultConfig())
	for i := 0; i < 300; i++ {
		handle, err := f.repo.Add(tlPDR(uint16(i), hostTID, hostEID), 0, true, 0)
		require.NoError(t, err)
		f.h.changed = append(f.h.changed, handle)
	}

	f.h.SendPDRRepositoryChgEvent(nil, pldm.FormatIsPDRHandles)
	f.run()

	require.Len(t, f.host.events, 1)
	d, err := pldm.DecodePDRRepositoryChgEventData(f.host.events[0].EventData)
	require.NoError(t, err)
	require.Len(t, d.Records, 2)
	assert.Len(t, d.Records[0].Entries, 255)
	assert.Len(t, d.Records[1].Entries, 45)
	assert.Equal(t, pldm.RecordsAdded, d.Records[1].Operation)
}

func TestChangeEventNothingToSend(t *testing.T) {
	f := newFixture(t, defaultConfig())
	f.h.SendPDRRepositoryChgEvent(nil, pldm.FormatIsPDRHandles)
	f.run()
	assert.Empty(t, f.host.events)
	assert.Equal(t, Idle, f.h.State())
}

func TestHostOff(t *testing.T) {
	var hostOff bool
	f := newFixture(t, defaultConfig(), func(d *Deps) {
		d.OEM = oem.Funcs{OnHostOff: func() { hostOff = true }}
	})
	threePageHost(t, f)
	f.fetch()
	require.Equal(t, 4, f.h.Tree().Len())

	f.h.HandleHostOff()

	assert.True(t, hostOff)
	assert.Zero(t, f.repo.Len())
	assert.Equal(t, 2, f.h.Tree().Len())
	assert.Nil(t, f.h.Tree().Find(cpu0.Type, cpu0.Instance))
	assert.Empty(t, f.h.sensorMap)
	assert.Empty(t, f.h.EntityAssociations())
	assert.Equal(t, Idle, f.h.State())

	f.host.events = nil
	f.fetch()
	assert.Equal(t, 4, f.h.Tree().Len())
	assert.Equal(t, [][]uint32{{1, 2, 3}}, f.host.changeEntries(t))
}

func TestHostOffDuringFetch(t *testing.T) {
	f := newFixture(t, defaultConfig())
	threePageHost(t, f)
	f.host.drop[2] = true
	f.fetch()

	f.h.HandleHostOff()
	last, _ := f.h.LastCycle()
	assert.Equal(t, OutcomeHostOff, last.Outcome)

	f.expire()
	assert.Equal(t, Idle, f.h.State())
	assert.Equal(t, 2, f.h.Tree().Len())
	assert.Empty(t, f.host.events)
	assert.Zero(t, f.repo.Len())
}

func TestSetHostFirmwareCondition(t *testing.T) {
	cfg := defaultConfig()
	cfg.FetchOnHostUp = true
	f := newFixture(t, cfg)
	threePageHost(t, f)

	f.h.SetHostFirmwareCondition()
	f.run()

	assert.True(t, f.h.HostFirmwareUp())
	assert.Equal(t, []uint32{0, 2, 3}, f.host.getPDRs)
}

func TestSetHostFirmwareConditionNoAnswer(t *testing.T) {
	cfg := defaultConfig()
	cfg.FetchOnHostUp = true
	f := newFixture(t, cfg)
	f.host.firmwareOff = true

	f.h.SetHostFirmwareCondition()
	f.run()
	f.expire()

	assert.False(t, f.h.HostFirmwareUp())
	assert.Empty(t, f.host.getPDRs)
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(defaultConfig(), Deps{})
	assert.Error(t, err)
}

func TestDeferredPagesDoNotRecurse(t *testing.T) {
	f := newFixture(t, defaultConfig())
	const pages = 2000
	f.host.add(t, 1, tlPDR(1, hostTID, hostEID))
	for i := 2; i <= pages; i++ {
		f.host.add(t, uint32(i), presenceSensorPDR(1, uint16(i), cpu0))
	}

	f.fetch()

	assert.Len(t, f.host.getPDRs, pages)
	assert.Len(t, f.h.sensorMap, pages-1)
	entries := f.host.changeEntries(t)
	require.Len(t, entries, 1)
	assert.Len(t, entries[0], pages)
}
