package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/smccarney/pldm/pkg/pldm"
)

func newDecodeCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "decode",
		Short: "Decode PDRs and PLDM messages given as hex",
	}

	pdrCmd := &cobra.Command{
		Use:   "pdr <hex|->",
		Short: "Decode one PDR",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return decodeAndPrint(cmd, args[0], output, describePDR)
		},
	}
	msgCmd := &cobra.Command{
		Use:   "msg <hex|->",
		Short: "Decode one PLDM message, header included",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return decodeAndPrint(cmd, args[0], output, describeMessage)
		},
	}
	addOutputFlag(pdrCmd, &output)
	addOutputFlag(msgCmd, &output)
	cmd.AddCommand(pdrCmd, msgCmd)
	return cmd
}

func decodeAndPrint(cmd *cobra.Command, arg, output string, describe func([]byte) (description, error)) error {
	format, err := parseOutputFormat(output)
	if err != nil {
		return err
	}
	if arg == "-" {
		in, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
		arg = string(in)
	}
	data, err := parseHex(arg)
	if err != nil {
		return err
	}
	d, err := describe(data)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if format == formatJSON {
		return writeJSON(out, d)
	}
	fields := [][2]string{{"kind", d.Kind}}
	if d.Header != nil {
		fields = append(fields, [2]string{"header", fmt.Sprintf("%+v", d.Header)})
	}
	if d.Body != nil {
		fields = append(fields, [2]string{"body", fmt.Sprintf("%+v", d.Body)})
	}
	return writeFields(out, fields)
}

// parseHex accepts hex with optional whitespace, colons, commas or 0x
// prefixes between bytes.
func parseHex(s string) ([]byte, error) {
	var b strings.Builder
	for _, tok := range strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '\n' || r == '\t' || r == ':' || r == ','
	}) {
		tok = strings.TrimPrefix(strings.TrimPrefix(tok, "0x"), "0X")
		if len(tok)%2 == 1 {
			tok = "0" + tok
		}
		b.WriteString(tok)
	}
	data, err := hex.DecodeString(b.String())
	if err != nil {
		return nil, fmt.Errorf("invalid hex input: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("no input bytes")
	}
	return data, nil
}

type description struct {
	Kind   string `json:"kind"`
	Header any    `json:"header,omitempty"`
	Body   any    `json:"body,omitempty"`
}

func describePDR(data []byte) (description, error) {
	hdr, err := pldm.DecodePDRHeader(data)
	if err != nil {
		return description{}, err
	}
	d := description{Kind: pldm.PDRTypeName(hdr.Type), Header: hdr}
	switch hdr.Type {
	case pldm.PDRTerminusLocator:
		d.Body, err = pldm.DecodeTerminusLocatorPDR(data)
	case pldm.PDRStateSensor:
		d.Body, err = pldm.DecodeStateSensorPDR(data)
	case pldm.PDRFRURecordSet:
		d.Body, err = pldm.DecodeFRURecordSetPDR(data)
	case pldm.PDREntityAssociation:
		d.Body, err = pldm.DecodeEntityAssociationPDR(data)
	default:
		d.Body = map[string]any{"data_length": hdr.DataLength}
	}
	if err != nil {
		return description{}, err
	}
	return d, nil
}

func describeMessage(msg []byte) (description, error) {
	hdr, payload, err := pldm.DecodeHeader(msg)
	if err != nil {
		return description{}, err
	}
	d := description{Header: hdr}
	kind := "response"
	if hdr.Request {
		kind = "request"
	}

	switch {
	case hdr.Type == pldm.TypePlatform && hdr.Command == pldm.CmdGetPDR:
		d.Kind = "get_pdr_" + kind
		if hdr.Request {
			d.Body, err = pldm.DecodeGetPDRRequest(payload)
		} else {
			d.Body, err = pldm.DecodeGetPDRResponse(payload)
		}
	case hdr.Type == pldm.TypePlatform && hdr.Command == pldm.CmdPlatformEventMessage:
		d.Kind = "platform_event_message_" + kind
		if hdr.Request {
			d.Body, err = describeEvent(payload)
		} else {
			cc, status, derr := pldm.DecodePlatformEventMessageResponse(payload)
			d.Body, err = map[string]any{"completion_code": cc.String(), "status": status}, derr
		}
	case hdr.Type == pldm.TypePlatform && hdr.Command == pldm.CmdGetStateSensorReadings:
		d.Kind = "get_state_sensor_readings_" + kind
		if hdr.Request {
			id, rearm, derr := pldm.DecodeGetStateSensorReadingsRequest(payload)
			d.Body, err = map[string]any{"sensor_id": id, "rearm": rearm}, derr
		} else {
			cc, fields, derr := pldm.DecodeGetStateSensorReadingsResponse(payload)
			d.Body, err = map[string]any{"completion_code": cc.String(), "fields": fields}, derr
		}
	default:
		d.Kind = fmt.Sprintf("type_%d_command_0x%02x_%s", hdr.Type, hdr.Command, kind)
		d.Body = map[string]any{"payload": hex.EncodeToString(payload)}
	}
	if err != nil {
		return description{}, err
	}
	return d, nil
}

func describeEvent(payload []byte) (any, error) {
	req, err := pldm.DecodePlatformEventMessageRequest(payload)
	if err != nil {
		return nil, err
	}
	out := map[string]any{
		"format_version": req.FormatVersion,
		"tid":            req.TID,
		"event_class":    req.EventClass,
	}
	switch req.EventClass {
	case pldm.EventClassPDRRepositoryChg:
		data, err := pldm.DecodePDRRepositoryChgEventData(req.EventData)
		if err != nil {
			return nil, err
		}
		out["pdr_repository_chg"] = data
	case pldm.EventClassSensor:
		ev, err := pldm.DecodeSensorEventData(req.EventData)
		if err != nil {
			return nil, err
		}
		out["sensor_id"] = ev.SensorID
		out["sensor_event_class"] = ev.EventClass
		if ev.EventClass == pldm.StateSensorStateEvent {
			state, err := pldm.DecodeStateSensorEventData(ev.ClassData)
			if err != nil {
				return nil, err
			}
			out["state"] = state
		}
	default:
		out["event_data"] = hex.EncodeToString(req.EventData)
	}
	return out, nil
}
