package platform

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/smccarney/pldm/internal/eventloop"
	"github.com/smccarney/pldm/internal/mctp"
	"github.com/smccarney/pldm/internal/requester"
)

// Dispatcher reads the transport and hands every message to the event loop.
// Requests are answered by the responder, responses complete outstanding
// requests.
type Dispatcher struct {
	loop      *eventloop.Loop
	requester *requester.Handler
	responder *Responder
	verbose   bool
}

// NewDispatcher returns a dispatcher for one transport.
func NewDispatcher(loop *eventloop.Loop, req *requester.Handler, resp *Responder, verbose bool) *Dispatcher {
	return &Dispatcher{loop: loop, requester: req, responder: resp, verbose: verbose}
}

// Serve receives until ctx is cancelled or the transport fails. It returns
// nil on cancellation.
func (d *Dispatcher) Serve(ctx context.Context, transport mctp.Transport) error {
	log.Info().Str("socket", transport.Status().Socket).Msg("Serving PLDM transport")
	for {
		msg, err := transport.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, mctp.ErrClosed) {
				return nil
			}
			return fmt.Errorf("receive: %w", err)
		}
		if d.verbose {
			log.Debug().
				Uint8("eid", msg.EID).
				Uint8("tag", msg.Tag).
				Hex("msg", msg.Payload).
				Msg("Received PLDM message")
		}
		d.loop.Post(func() { d.dispatch(transport, msg) })
	}
}

func (d *Dispatcher) dispatch(transport mctp.Transport, msg mctp.Message) {
	if !msg.IsRequest() {
		d.requester.HandleResponse(msg.EID, msg.Payload)
		return
	}
	resp := d.responder.Handle(msg.Payload)
	if resp == nil {
		return
	}
	if err := transport.Reply(msg, resp); err != nil {
		log.Error().Err(err).Uint8("eid", msg.EID).Msg("Failed to send PLDM response")
	}
}
