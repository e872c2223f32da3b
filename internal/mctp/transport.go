// Package mctp carries PLDM messages over the MCTP demux daemon socket.
package mctp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog/log"
)

// MsgTypePLDM is the MCTP message type of PLDM.
const MsgTypePLDM uint8 = 0x01

// Message tag values used in the demux framing
const (
	TagOwner uint8 = 0x08
	TagMask  uint8 = 0x07
)

// DefaultSocket is the abstract socket the demux daemon listens on.
const DefaultSocket = "@mctp-mux"

const maxMessageSize = 64 * 1024

// ErrClosed is returned after Close.
var ErrClosed = errors.New("mctp: transport closed")

// Message is one PLDM message with its MCTP addressing.
type Message struct {
	Tag     uint8
	EID     uint8
	Payload []byte
}

// IsRequest reports whether the sender owns the tag, i.e. the message is a
// request rather than a response.
func (m Message) IsRequest() bool { return m.Tag&TagOwner != 0 }

// Transport moves PLDM messages between the BMC and an MCTP endpoint
type Transport interface {
	// Send sends a PLDM request to eid
	Send(eid uint8, msg []byte) error

	// Reply sends a PLDM response to the request in req
	Reply(req Message, msg []byte) error

	// Receive blocks for the next inbound message
	Receive(ctx context.Context) (Message, error)

	// Close terminates the transport connection
	Close() error

	// Status returns transport status information
	Status() Status
}

// Status represents transport status
type Status struct {
	Connected bool   `json:"connected"`
	Socket    string `json:"socket"`
	Sent      uint64 `json:"sent"`
	Received  uint64 `json:"received"`
}

// Demux implements Transport on the mctp-demux-daemon seqpacket socket.
type Demux struct {
	mu     sync.RWMutex
	conn   *net.UnixConn
	socket string
	sent   uint64
	recv   uint64
	closed bool
}

// Dial connects to the demux daemon and registers for PLDM messages.
func Dial(ctx context.Context, socket string) (*Demux, error) {
	if socket == "" {
		socket = DefaultSocket
	}
	var d net.Dialer
	c, err := d.DialContext(ctx, "unixpacket", socket)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", socket, err)
	}
	conn := c.(*net.UnixConn)
	if _, err := conn.Write([]byte{MsgTypePLDM}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to register PLDM message type: %w", err)
	}

	log.Info().Str("socket", socket).Msg("MCTP demux transport connected")
	return &Demux{conn: conn, socket: socket}, nil
}

// Send sends a PLDM request to eid with a fresh owner tag.
func (t *Demux) Send(eid uint8, msg []byte) error {
	return t.write(TagOwner, eid, msg)
}

// Reply answers req, echoing its tag without the owner bit.
func (t *Demux) Reply(req Message, msg []byte) error {
	return t.write(req.Tag&TagMask, req.EID, msg)
}

func (t *Demux) write(tag, eid uint8, msg []byte) error {
	frame := make([]byte, 0, 3+len(msg))
	frame = append(frame, tag, eid, MsgTypePLDM)
	frame = append(frame, msg...)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if _, err := t.conn.Write(frame); err != nil {
		return fmt.Errorf("failed to write to eid %d: %w", eid, err)
	}
	t.sent++
	return nil
}

// Receive blocks for the next PLDM message. Frames of other message types
// are dropped. Cancelling ctx closes the connection.
func (t *Demux) Receive(ctx context.Context) (Message, error) {
	t.mu.RLock()
	conn, closed := t.conn, t.closed
	t.mu.RUnlock()
	if closed {
		return Message{}, ErrClosed
	}

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	buf := make([]byte, maxMessageSize)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return Message{}, ctx.Err()
			}
			return Message{}, fmt.Errorf("failed to read from %s: %w", t.socket, err)
		}
		if n < 3 || buf[2] != MsgTypePLDM {
			log.Debug().Int("bytes", n).Msg("Dropping non-PLDM MCTP frame")
			continue
		}
		t.mu.Lock()
		t.recv++
		t.mu.Unlock()
		return Message{
			Tag:     buf[0],
			EID:     buf[1],
			Payload: append([]byte(nil), buf[3:n]...),
		}, nil
	}
}

// Close terminates the connection to the daemon.
func (t *Demux) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.conn.Close()
}

// Status returns transport counters.
func (t *Demux) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Status{Connected: !t.closed, Socket: t.socket, Sent: t.sent, Received: t.recv}
}
