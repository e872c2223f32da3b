package requester

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smccarney/pldm/internal/eventloop"
	"github.com/smccarney/pldm/pkg/pldm"
)

type recordingSender struct {
	sent [][]byte
	err  error
}

func (s *recordingSender) Send(_ uint8, msg []byte) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

type fixture struct {
	clock   *eventloop.ManualClock
	loop    *eventloop.Loop
	sender  *recordingSender
	ids     *InstanceIDs
	handler *Handler
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	clock := eventloop.NewManualClock(time.Unix(0, 0))
	loop := eventloop.New(eventloop.WithClock(clock.Now))
	sender := &recordingSender{}
	ids := NewInstanceIDs()
	return &fixture{clock: clock, loop: loop, sender: sender, ids: ids, handler: NewHandler(loop, sender, ids, opts)}
}

func TestInstanceIDsExhaustion(t *testing.T) {
	ids := NewInstanceIDs()
	seen := make(map[uint8]bool)
	for i := 0; i < 32; i++ {
		id, err := ids.Get(9)
		require.NoError(t, err)
		assert.False(t, seen[id])
		seen[id] = true
	}
	_, err := ids.Get(9)
	assert.ErrorIs(t, err, ErrNoInstanceID)

	// other endpoints are independent
	_, err = ids.Get(10)
	assert.NoError(t, err)

	ids.Free(9, 4)
	id, err := ids.Get(9)
	require.NoError(t, err)
	assert.Equal(t, uint8(4), id)
}

func TestResponseMatchesRequest(t *testing.T) {
	f := newFixture(t, Options{Timeout: time.Second})
	iid, err := f.ids.Get(9)
	require.NoError(t, err)

	var got []byte
	calls := 0
	msg := pldm.EncodeGetPDRRequest(iid, pldm.GetPDRRequest{TransferOpFlag: pldm.GetFirstPart, RequestCount: 0xFFFF})
	require.NoError(t, f.handler.RegisterRequest(9, iid, pldm.TypePlatform, pldm.CmdGetPDR, msg, func(_ uint8, payload []byte) {
		calls++
		got = payload
	}))
	assert.Len(t, f.sender.sent, 1)
	assert.Equal(t, 1, f.handler.Pending())

	resp := pldm.EncodeGetPDRResponse(iid, pldm.GetPDRResponse{CompletionCode: pldm.PlatformInvalidRecordHandle})
	// a response from another endpoint does not match
	assert.False(t, f.handler.HandleResponse(8, resp))
	assert.True(t, f.handler.HandleResponse(9, resp))
	assert.Equal(t, []byte{byte(pldm.PlatformInvalidRecordHandle)}, got)
	assert.Zero(t, f.ids.InUse(9))

	// the timeout no longer fires
	f.clock.Advance(2 * time.Second)
	f.loop.RunPending()
	assert.Equal(t, 1, calls)
}

func TestTimeoutAfterRetries(t *testing.T) {
	f := newFixture(t, Options{Timeout: time.Second, Retries: 2})
	iid, err := f.ids.Get(9)
	require.NoError(t, err)

	timedOut := false
	msg := pldm.EncodeGetPLDMVersionRequest(iid, pldm.TypePlatform)
	require.NoError(t, f.handler.RegisterRequest(9, iid, pldm.TypeBase, pldm.CmdGetPLDMVersion, msg, func(_ uint8, payload []byte) {
		timedOut = payload == nil
	}))

	for i := 0; i < 2; i++ {
		f.clock.Advance(time.Second)
		f.loop.RunPending()
		assert.False(t, timedOut)
	}
	assert.Len(t, f.sender.sent, 3)

	f.clock.Advance(time.Second)
	f.loop.RunPending()
	assert.True(t, timedOut)
	assert.Zero(t, f.handler.Pending())
	assert.Zero(t, f.ids.InUse(9))
}

func TestRegisterRequestErrors(t *testing.T) {
	f := newFixture(t, Options{})
	iid, err := f.ids.Get(9)
	require.NoError(t, err)
	noop := func(uint8, []byte) {}

	require.NoError(t, f.handler.RegisterRequest(9, iid, pldm.TypePlatform, pldm.CmdGetPDR, []byte{0}, noop))
	err = f.handler.RegisterRequest(9, iid, pldm.TypePlatform, pldm.CmdGetPDR, []byte{0}, noop)
	assert.ErrorIs(t, err, ErrDuplicateRequest)

	f.sender.err = errors.New("socket closed")
	iid2, err := f.ids.Get(9)
	require.NoError(t, err)
	err = f.handler.RegisterRequest(9, iid2, pldm.TypePlatform, pldm.CmdGetPDR, []byte{0}, noop)
	assert.Error(t, err)
	assert.Equal(t, 1, f.ids.InUse(9))
}

func TestHandleResponseIgnoresRequests(t *testing.T) {
	f := newFixture(t, Options{})
	assert.False(t, f.handler.HandleResponse(9, pldm.EncodeGetPLDMVersionRequest(0, 0)))
	assert.False(t, f.handler.HandleResponse(9, []byte{0x00}))
}
