package requester

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/smccarney/pldm/internal/eventloop"
	"github.com/smccarney/pldm/internal/metrics"
	"github.com/smccarney/pldm/pkg/pldm"
)

// ErrDuplicateRequest is returned when a request with the same endpoint,
// instance ID, type and command is already outstanding.
var ErrDuplicateRequest = errors.New("requester: request already outstanding")

// Sender writes an encoded PLDM message to an endpoint.
type Sender interface {
	Send(eid uint8, msg []byte) error
}

// ResponseFunc receives the response payload, after the PLDM header, of a
// request. A nil payload means the request timed out.
type ResponseFunc func(eid uint8, payload []byte)

// Options tune request handling.
type Options struct {
	Timeout time.Duration
	Retries int
	// Verbose logs every message at debug level.
	Verbose bool
}

type key struct {
	eid, instanceID, pldmType, command uint8
}

type request struct {
	key
	msg     []byte
	onDone  ResponseFunc
	timer   *eventloop.Timer
	retries int
}

// Handler tracks outstanding requests. All methods must be called on the
// event loop goroutine.
type Handler struct {
	loop    *eventloop.Loop
	sender  Sender
	ids     *InstanceIDs
	opts    Options
	pending map[key]*request
}

// NewHandler returns a handler sending through sender.
func NewHandler(loop *eventloop.Loop, sender Sender, ids *InstanceIDs, opts Options) *Handler {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	return &Handler{
		loop:    loop,
		sender:  sender,
		ids:     ids,
		opts:    opts,
		pending: make(map[key]*request),
	}
}

// InstanceIDs returns the allocator the handler frees IDs into.
func (h *Handler) InstanceIDs() *InstanceIDs { return h.ids }

// RegisterRequest sends msg and arranges for onDone to be called exactly
// once with the response or with nil after the last retry times out. On
// error the instance ID has been freed and onDone will not be called.
func (h *Handler) RegisterRequest(eid, instanceID, pldmType, command uint8, msg []byte, onDone ResponseFunc) error {
	k := key{eid: eid, instanceID: instanceID, pldmType: pldmType, command: command}
	if _, ok := h.pending[k]; ok {
		return fmt.Errorf("eid %d instance %d command 0x%02x: %w", eid, instanceID, command, ErrDuplicateRequest)
	}
	req := &request{key: k, msg: msg, onDone: onDone, retries: h.opts.Retries}
	if err := h.send(req); err != nil {
		h.ids.Free(eid, instanceID)
		metrics.RequestsTotal.WithLabelValues(commandName(pldmType, command), "send_error").Inc()
		return fmt.Errorf("failed to send request: %w", err)
	}
	h.pending[k] = req
	return nil
}

func (h *Handler) send(req *request) error {
	if h.opts.Verbose {
		log.Debug().Uint8("eid", req.eid).Hex("msg", req.msg).Msg("Sending PLDM request")
	}
	if err := h.sender.Send(req.eid, req.msg); err != nil {
		return err
	}
	req.timer = h.loop.AfterFunc(h.opts.Timeout, func() { h.expire(req) })
	return nil
}

func (h *Handler) expire(req *request) {
	if h.pending[req.key] != req {
		return
	}
	name := commandName(req.pldmType, req.command)
	if req.retries > 0 {
		req.retries--
		metrics.RequestRetriesTotal.WithLabelValues(name).Inc()
		log.Debug().Uint8("eid", req.eid).Str("command", name).Int("retries_left", req.retries).Msg("Retrying PLDM request")
		if err := h.send(req); err == nil {
			return
		}
	}
	delete(h.pending, req.key)
	h.ids.Free(req.eid, req.instanceID)
	metrics.RequestsTotal.WithLabelValues(name, "timeout").Inc()
	log.Warn().Uint8("eid", req.eid).Str("command", name).Msg("PLDM request timed out")
	req.onDone(req.eid, nil)
}

// HandleResponse matches an inbound response message to its request. It
// reports whether the message matched an outstanding request.
func (h *Handler) HandleResponse(eid uint8, msg []byte) bool {
	hdr, payload, err := pldm.DecodeHeader(msg)
	if err != nil || hdr.Request {
		return false
	}
	k := key{eid: eid, instanceID: hdr.InstanceID, pldmType: hdr.Type, command: hdr.Command}
	req, ok := h.pending[k]
	if !ok {
		log.Debug().Uint8("eid", eid).Uint8("instance_id", hdr.InstanceID).Msg("Dropping unmatched PLDM response")
		return false
	}
	if h.opts.Verbose {
		log.Debug().Uint8("eid", eid).Hex("msg", msg).Msg("Received PLDM response")
	}
	req.timer.Stop()
	delete(h.pending, k)
	h.ids.Free(eid, hdr.InstanceID)
	metrics.RequestsTotal.WithLabelValues(commandName(hdr.Type, hdr.Command), "ok").Inc()
	if payload == nil {
		payload = []byte{}
	}
	req.onDone(eid, payload)
	return true
}

// Pending returns the number of outstanding requests.
func (h *Handler) Pending() int { return len(h.pending) }

func commandName(pldmType, command uint8) string {
	switch {
	case pldmType == pldm.TypePlatform && command == pldm.CmdGetPDR:
		return "get_pdr"
	case pldmType == pldm.TypePlatform && command == pldm.CmdPlatformEventMessage:
		return "platform_event_message"
	case pldmType == pldm.TypePlatform && command == pldm.CmdGetStateSensorReadings:
		return "get_state_sensor_readings"
	case pldmType == pldm.TypeBase && command == pldm.CmdGetPLDMVersion:
		return "get_pldm_version"
	default:
		return fmt.Sprintf("type%d_cmd0x%02x", pldmType, command)
	}
}
