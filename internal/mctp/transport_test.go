package mctp

import (
	"context"
	"fmt"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startDaemon listens like mctp-demux-daemon and returns the accepted
// connection once a client registers.
func startDaemon(t *testing.T) (string, <-chan *net.UnixConn) {
	t.Helper()
	socket := fmt.Sprintf("@pldm-mctp-test-%d-%d", os.Getpid(), time.Now().UnixNano())
	l, err := net.ListenUnix("unixpacket", &net.UnixAddr{Name: socket, Net: "unixpacket"})
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	accepted := make(chan *net.UnixConn, 1)
	go func() {
		c, err := l.AcceptUnix()
		if err != nil {
			return
		}
		accepted <- c
	}()
	return socket, accepted
}

func TestDemuxRoundTrip(t *testing.T) {
	socket, accepted := startDaemon(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tr, err := Dial(ctx, socket)
	require.NoError(t, err)
	defer tr.Close()

	var daemon *net.UnixConn
	select {
	case daemon = <-accepted:
	case <-ctx.Done():
		t.Fatal("daemon did not accept")
	}
	t.Cleanup(func() { daemon.Close() })

	buf := make([]byte, 256)
	n, err := daemon.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{MsgTypePLDM}, buf[:n], "registration")

	require.NoError(t, tr.Send(9, []byte{0x80, 0x02, 0x51}))
	n, err = daemon.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{TagOwner, 9, MsgTypePLDM, 0x80, 0x02, 0x51}, buf[:n])

	// a non-PLDM frame is skipped
	_, err = daemon.Write([]byte{0x00, 9, 0x7E, 0xFF})
	require.NoError(t, err)
	_, err = daemon.Write([]byte{0x0A, 9, MsgTypePLDM, 0x82, 0x02, 0x0A})
	require.NoError(t, err)

	msg, err := tr.Receive(ctx)
	require.NoError(t, err)
	assert.True(t, msg.IsRequest())
	assert.Equal(t, uint8(9), msg.EID)
	assert.Equal(t, []byte{0x82, 0x02, 0x0A}, msg.Payload)

	require.NoError(t, tr.Reply(msg, []byte{0x02, 0x02, 0x0A, 0x00}))
	n, err = daemon.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, 9, MsgTypePLDM, 0x02, 0x02, 0x0A, 0x00}, buf[:n])

	st := tr.Status()
	assert.True(t, st.Connected)
	assert.Equal(t, uint64(2), st.Sent)
	assert.Equal(t, uint64(1), st.Received)
}

func TestDemuxClose(t *testing.T) {
	socket, _ := startDaemon(t)
	tr, err := Dial(context.Background(), socket)
	require.NoError(t, err)

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	assert.ErrorIs(t, tr.Send(9, []byte{1}), ErrClosed)
	_, err = tr.Receive(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.False(t, tr.Status().Connected)
}

func TestDialFailure(t *testing.T) {
	_, err := Dial(context.Background(), "@pldm-mctp-test-missing")
	assert.Error(t, err)
}
