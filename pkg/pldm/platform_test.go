package pldm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeader(t *testing.T) {
	msg := RequestHeader(0x1F, TypePlatform, CmdGetPDR).Append(nil)
	assert.Equal(t, []byte{0x9F, 0x02, 0x51}, msg)

	h, payload, err := DecodeHeader(append(msg, 0xAB))
	require.NoError(t, err)
	assert.True(t, h.Request)
	assert.Equal(t, uint8(0x1F), h.InstanceID)
	assert.Equal(t, []byte{0xAB}, payload)

	resp := EncodeCompletionCodeResponse(h, ErrorUnsupportedCmd)
	assert.Equal(t, []byte{0x1F, 0x02, 0x51, 0x05}, resp)

	_, _, err = DecodeHeader([]byte{0x80})
	assert.ErrorIs(t, err, ErrShortBuffer)
}

func TestGetPDRRequestWireFormat(t *testing.T) {
	msg := EncodeGetPDRRequest(3, GetPDRRequest{
		RecordHandle:   0x11223344,
		TransferOpFlag: GetFirstPart,
		RequestCount:   0xFFFF,
	})
	assert.Equal(t, []byte{
		0x83, 0x02, 0x51,
		0x44, 0x33, 0x22, 0x11, // record handle
		0x00, 0x00, 0x00, 0x00, // data transfer handle
		0x01,       // GetFirstPart
		0xFF, 0xFF, // request count
		0x00, 0x00, // record change number
	}, msg)

	_, payload, err := DecodeHeader(msg)
	require.NoError(t, err)
	req, err := DecodeGetPDRRequest(payload)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x11223344), req.RecordHandle)
	assert.Equal(t, uint16(0xFFFF), req.RequestCount)

	_, err = DecodeGetPDRRequest(payload[:5])
	assert.ErrorIs(t, err, ErrInvalidLength)
}

func TestGetPDRResponse(t *testing.T) {
	record := EncodeFRURecordSetPDR(FRURecordSetPDR{RSI: 1})
	tests := []struct {
		name string
		resp GetPDRResponse
	}{
		{name: "start and end", resp: GetPDRResponse{NextRecordHandle: 2, TransferFlag: TransferStartAndEnd, RecordData: record}},
		{name: "end carries crc", resp: GetPDRResponse{TransferFlag: TransferEnd, RecordData: record, TransferCRC: 0x5A}},
		{name: "error code", resp: GetPDRResponse{CompletionCode: PlatformInvalidRecordHandle}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := EncodeGetPDRResponse(1, tt.resp)
			h, payload, err := DecodeHeader(msg)
			require.NoError(t, err)
			assert.False(t, h.Request)
			got, err := DecodeGetPDRResponse(payload)
			require.NoError(t, err)
			assert.Equal(t, tt.resp, got)
		})
	}
}

func TestDecodeGetPDRResponseTruncated(t *testing.T) {
	msg := EncodeGetPDRResponse(1, GetPDRResponse{TransferFlag: TransferStartAndEnd, RecordData: make([]byte, 20)})
	_, err := DecodeGetPDRResponse(msg[HeaderSize : len(msg)-4])
	assert.ErrorIs(t, err, ErrShortBuffer)

	_, err = DecodeGetPDRResponse(nil)
	assert.ErrorIs(t, err, ErrShortBuffer)
}

func TestPDRRepositoryChgEvent(t *testing.T) {
	data, err := EncodePDRRepositoryChgEventData(PDRRepositoryChgEventData{
		Format:  FormatIsPDRHandles,
		Records: []ChangeRecord{{Operation: RecordsAdded, Entries: []uint32{1, 2, 3}}},
	})
	require.NoError(t, err)
	assert.Equal(t, []byte{
		0x01, 0x01, // format, one record
		0x02, 0x03, // recordsAdded, three entries
		0x01, 0x00, 0x00, 0x00,
		0x02, 0x00, 0x00, 0x00,
		0x03, 0x00, 0x00, 0x00,
	}, data)

	msg := EncodePlatformEventMessageRequest(4, PlatformEventMessageRequest{
		FormatVersion: PlatformEventFormatVersion,
		TID:           1,
		EventClass:    EventClassPDRRepositoryChg,
		EventData:     data,
	})
	assert.Equal(t, []byte{0x84, 0x02, 0x0A, 0x01, 0x01, 0x04}, msg[:6])

	_, payload, err := DecodeHeader(msg)
	require.NoError(t, err)
	req, err := DecodePlatformEventMessageRequest(payload)
	require.NoError(t, err)
	got, err := DecodePDRRepositoryChgEventData(req.EventData)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2, 3}, got.Records[0].Entries)

	_, err = DecodePDRRepositoryChgEventData(data[:7])
	assert.ErrorIs(t, err, ErrShortBuffer)

	_, err = EncodePDRRepositoryChgEventData(PDRRepositoryChgEventData{
		Records: []ChangeRecord{{Entries: make([]uint32, 256)}},
	})
	assert.ErrorIs(t, err, ErrInvalidLength)
}

func TestPlatformEventMessageResponse(t *testing.T) {
	req := RequestHeader(2, TypePlatform, CmdPlatformEventMessage)
	msg := EncodePlatformEventMessageResponse(req, Success, EventNoLogging)
	_, payload, err := DecodeHeader(msg)
	require.NoError(t, err)
	cc, status, err := DecodePlatformEventMessageResponse(payload)
	require.NoError(t, err)
	assert.Equal(t, Success, cc)
	assert.Equal(t, EventNoLogging, status)

	cc, _, err = DecodePlatformEventMessageResponse([]byte{byte(ErrorInvalidData)})
	require.NoError(t, err)
	assert.Equal(t, ErrorInvalidData, cc)
}

func TestSensorEvent(t *testing.T) {
	data := EncodeStateSensorEventData(0x0102, StateSensorEventData{SensorOffset: 0, EventState: 1, PreviousEventState: 2})
	ev, err := DecodeSensorEventData(data)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0102), ev.SensorID)
	assert.Equal(t, StateSensorStateEvent, ev.EventClass)

	st, err := DecodeStateSensorEventData(ev.ClassData)
	require.NoError(t, err)
	assert.Equal(t, StateSensorEventData{SensorOffset: 0, EventState: 1, PreviousEventState: 2}, st)

	_, err = DecodeStateSensorEventData(ev.ClassData[:2])
	assert.ErrorIs(t, err, ErrInvalidLength)
}

func TestGetStateSensorReadings(t *testing.T) {
	msg := EncodeGetStateSensorReadingsRequest(1, 7, 0)
	_, payload, err := DecodeHeader(msg)
	require.NoError(t, err)
	id, rearm, err := DecodeGetStateSensorReadingsRequest(payload)
	require.NoError(t, err)
	assert.Equal(t, uint16(7), id)
	assert.Equal(t, uint8(0), rearm)

	fields := []StateField{{OperationalState: SensorEnabled, PresentState: 1, PreviousState: 2, EventState: 1}}
	resp := EncodeGetStateSensorReadingsResponse(1, Success, fields)
	cc, got, err := DecodeGetStateSensorReadingsResponse(resp[HeaderSize:])
	require.NoError(t, err)
	assert.Equal(t, Success, cc)
	assert.Equal(t, fields, got)

	_, _, err = DecodeGetStateSensorReadingsResponse([]byte{0x00, 0x00})
	assert.ErrorIs(t, err, ErrInvalidLength)
}

func TestGetPLDMVersion(t *testing.T) {
	req := EncodeGetPLDMVersionRequest(5, TypePlatform)
	assert.Equal(t, []byte{0x85, 0x00, 0x03, 0, 0, 0, 0, GetFirstPart, TypePlatform}, req)

	resp := EncodeGetPLDMVersionResponse(5, 0xF1F2F000)
	cc, version, err := DecodeGetPLDMVersionResponse(resp[HeaderSize:])
	require.NoError(t, err)
	assert.Equal(t, Success, cc)
	assert.Equal(t, uint32(0xF1F2F000), version)
}

func TestCompletionCodeString(t *testing.T) {
	assert.Equal(t, "invalid_sensor_id", PlatformInvalidSensorID.String())
	assert.Equal(t, "cc_0x99", CompletionCode(0x99).String())
}
