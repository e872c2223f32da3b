package pldm

import "fmt"

// GetPDR transfer operation flags
const (
	GetNextPart  uint8 = 0x00
	GetFirstPart uint8 = 0x01
)

// GetPDR response transfer flags
const (
	TransferStart       uint8 = 0x01
	TransferMiddle      uint8 = 0x02
	TransferEnd         uint8 = 0x04
	TransferStartAndEnd uint8 = 0x05
)

const (
	getPDRRequestBytes     = 13
	getPDRMinResponseBytes = 12
)

// GetPDRRequest is the GetPDR command request (DSP0248 26.2).
type GetPDRRequest struct {
	RecordHandle       uint32
	DataTransferHandle uint32
	TransferOpFlag     uint8
	RequestCount       uint16
	RecordChangeNumber uint16
}

// EncodeGetPDRRequest builds a complete GetPDR request message.
func EncodeGetPDRRequest(instanceID uint8, req GetPDRRequest) []byte {
	b := RequestHeader(instanceID, TypePlatform, CmdGetPDR).Append(make([]byte, 0, HeaderSize+getPDRRequestBytes))
	b = appendU32(b, req.RecordHandle)
	b = appendU32(b, req.DataTransferHandle)
	b = append(b, req.TransferOpFlag)
	b = appendU16(b, req.RequestCount)
	return appendU16(b, req.RecordChangeNumber)
}

// DecodeGetPDRRequest decodes a GetPDR request payload.
func DecodeGetPDRRequest(payload []byte) (GetPDRRequest, error) {
	if len(payload) != getPDRRequestBytes {
		return GetPDRRequest{}, ErrInvalidLength
	}
	r := newReader(payload)
	req := GetPDRRequest{
		RecordHandle:       r.u32(),
		DataTransferHandle: r.u32(),
		TransferOpFlag:     r.u8(),
		RequestCount:       r.u16(),
		RecordChangeNumber: r.u16(),
	}
	return req, r.err
}

// GetPDRResponse is the GetPDR command response.
type GetPDRResponse struct {
	CompletionCode         CompletionCode
	NextRecordHandle       uint32
	NextDataTransferHandle uint32
	TransferFlag           uint8
	RecordData             []byte
	TransferCRC            uint8
}

// DecodeGetPDRResponse decodes a GetPDR response payload. A non-success
// completion code is returned without error and without the remaining fields.
func DecodeGetPDRResponse(payload []byte) (GetPDRResponse, error) {
	if len(payload) == 0 {
		return GetPDRResponse{}, ErrShortBuffer
	}
	resp := GetPDRResponse{CompletionCode: CompletionCode(payload[0])}
	if resp.CompletionCode != Success {
		return resp, nil
	}
	if len(payload) < getPDRMinResponseBytes {
		return resp, ErrShortBuffer
	}
	r := newReader(payload[1:])
	resp.NextRecordHandle = r.u32()
	resp.NextDataTransferHandle = r.u32()
	resp.TransferFlag = r.u8()
	count := int(r.u16())
	resp.RecordData = r.bytes(count)
	if resp.TransferFlag == TransferEnd {
		resp.TransferCRC = r.u8()
	}
	if r.err != nil {
		return resp, fmt.Errorf("get pdr response: %w", r.err)
	}
	return resp, nil
}

// EncodeGetPDRResponse builds a complete GetPDR response message.
func EncodeGetPDRResponse(instanceID uint8, resp GetPDRResponse) []byte {
	h := Header{InstanceID: instanceID, Type: TypePlatform, Command: CmdGetPDR}
	b := h.Append(make([]byte, 0, HeaderSize+getPDRMinResponseBytes+len(resp.RecordData)+1))
	b = append(b, byte(resp.CompletionCode))
	if resp.CompletionCode != Success {
		return b
	}
	b = appendU32(b, resp.NextRecordHandle)
	b = appendU32(b, resp.NextDataTransferHandle)
	b = append(b, resp.TransferFlag)
	b = appendU16(b, uint16(len(resp.RecordData)))
	b = append(b, resp.RecordData...)
	if resp.TransferFlag == TransferEnd {
		b = append(b, resp.TransferCRC)
	}
	return b
}

// Platform event classes
const (
	EventClassSensor               uint8 = 0x00
	EventClassEffecter             uint8 = 0x01
	EventClassPDRRepositoryChg     uint8 = 0x04
	EventClassMessagePoll          uint8 = 0x05
	EventClassHeartbeatTimerElapse uint8 = 0x06
)

// PlatformEventFormatVersion is the only supported event message format.
const PlatformEventFormatVersion uint8 = 0x01

// PlatformEventMessageRequest is the PlatformEventMessage command request.
type PlatformEventMessageRequest struct {
	FormatVersion uint8
	TID           uint8
	EventClass    uint8
	EventData     []byte
}

// EncodePlatformEventMessageRequest builds a complete PlatformEventMessage request.
func EncodePlatformEventMessageRequest(instanceID uint8, req PlatformEventMessageRequest) []byte {
	b := RequestHeader(instanceID, TypePlatform, CmdPlatformEventMessage).Append(make([]byte, 0, HeaderSize+3+len(req.EventData)))
	b = append(b, req.FormatVersion, req.TID, req.EventClass)
	return append(b, req.EventData...)
}

// DecodePlatformEventMessageRequest decodes a PlatformEventMessage request payload.
func DecodePlatformEventMessageRequest(payload []byte) (PlatformEventMessageRequest, error) {
	if len(payload) < 3 {
		return PlatformEventMessageRequest{}, ErrShortBuffer
	}
	return PlatformEventMessageRequest{
		FormatVersion: payload[0],
		TID:           payload[1],
		EventClass:    payload[2],
		EventData:     append([]byte(nil), payload[3:]...),
	}, nil
}

// Platform event status values
const (
	EventNoLogging          uint8 = 0x00
	EventLoggingDisabled    uint8 = 0x01
	EventLogFull            uint8 = 0x02
	EventAcceptedForLogging uint8 = 0x03
	EventLogged             uint8 = 0x04
	EventLoggingRejected    uint8 = 0x05
)

// EncodePlatformEventMessageResponse builds a complete PlatformEventMessage response.
func EncodePlatformEventMessageResponse(req Header, cc CompletionCode, status uint8) []byte {
	b := ResponseHeader(req).Append(make([]byte, 0, HeaderSize+2))
	b = append(b, byte(cc))
	if cc != Success {
		return b
	}
	return append(b, status)
}

// DecodePlatformEventMessageResponse decodes a PlatformEventMessage response payload.
func DecodePlatformEventMessageResponse(payload []byte) (CompletionCode, uint8, error) {
	if len(payload) == 0 {
		return 0, 0, ErrShortBuffer
	}
	cc := CompletionCode(payload[0])
	if cc != Success {
		return cc, 0, nil
	}
	if len(payload) < 2 {
		return cc, 0, ErrShortBuffer
	}
	return cc, payload[1], nil
}

// PDRRepositoryChgEvent data formats
const (
	FormatIsPDRTypes   uint8 = 0x00
	FormatIsPDRHandles uint8 = 0x01
)

// PDRRepositoryChgEvent change record operations
const (
	RefreshAllRecords uint8 = 0x00
	RecordsDeleted    uint8 = 0x01
	RecordsAdded      uint8 = 0x02
	RecordsModified   uint8 = 0x03
)

// ChangeRecord is one change record of a PDRRepositoryChgEvent.
type ChangeRecord struct {
	Operation uint8
	Entries   []uint32
}

// PDRRepositoryChgEventData is the eventData of a pdrRepositoryChgEvent.
type PDRRepositoryChgEventData struct {
	Format  uint8
	Records []ChangeRecord
}

// EncodePDRRepositoryChgEventData encodes the event data. Each record may
// carry at most 255 entries.
func EncodePDRRepositoryChgEventData(d PDRRepositoryChgEventData) ([]byte, error) {
	if len(d.Records) > 0xFF {
		return nil, fmt.Errorf("%d change records: %w", len(d.Records), ErrInvalidLength)
	}
	b := []byte{d.Format, uint8(len(d.Records))}
	for _, rec := range d.Records {
		if len(rec.Entries) > 0xFF {
			return nil, fmt.Errorf("%d change entries: %w", len(rec.Entries), ErrInvalidLength)
		}
		b = append(b, rec.Operation, uint8(len(rec.Entries)))
		for _, e := range rec.Entries {
			b = appendU32(b, e)
		}
	}
	return b, nil
}

// DecodePDRRepositoryChgEventData decodes a pdrRepositoryChgEvent eventData.
func DecodePDRRepositoryChgEventData(data []byte) (PDRRepositoryChgEventData, error) {
	r := newReader(data)
	d := PDRRepositoryChgEventData{Format: r.u8()}
	n := int(r.u8())
	for i := 0; i < n && r.err == nil; i++ {
		rec := ChangeRecord{Operation: r.u8()}
		count := int(r.u8())
		for j := 0; j < count && r.err == nil; j++ {
			rec.Entries = append(rec.Entries, r.u32())
		}
		d.Records = append(d.Records, rec)
	}
	if r.err != nil {
		return PDRRepositoryChgEventData{}, fmt.Errorf("pdr repository chg event: %w", r.err)
	}
	return d, nil
}

// Sensor event classes
const (
	SensorOpStateEvent      uint8 = 0x00
	StateSensorStateEvent   uint8 = 0x01
	NumericSensorStateEvent uint8 = 0x02
)

// SensorEventData is the fixed part of a sensorEvent eventData.
type SensorEventData struct {
	SensorID   uint16
	EventClass uint8
	ClassData  []byte
}

// DecodeSensorEventData decodes the common part of a sensorEvent.
func DecodeSensorEventData(data []byte) (SensorEventData, error) {
	if len(data) < 3 {
		return SensorEventData{}, ErrShortBuffer
	}
	r := newReader(data)
	return SensorEventData{
		SensorID:   r.u16(),
		EventClass: r.u8(),
		ClassData:  r.bytes(r.remaining()),
	}, nil
}

// StateSensorEventData is the class data of a stateSensorState event.
type StateSensorEventData struct {
	SensorOffset       uint8
	EventState         uint8
	PreviousEventState uint8
}

// DecodeStateSensorEventData decodes stateSensorState class data.
func DecodeStateSensorEventData(data []byte) (StateSensorEventData, error) {
	if len(data) != 3 {
		return StateSensorEventData{}, ErrInvalidLength
	}
	return StateSensorEventData{SensorOffset: data[0], EventState: data[1], PreviousEventState: data[2]}, nil
}

// EncodeStateSensorEventData builds the eventData of a stateSensorState sensorEvent.
func EncodeStateSensorEventData(sensorID uint16, ev StateSensorEventData) []byte {
	b := appendU16(make([]byte, 0, 6), sensorID)
	return append(b, StateSensorStateEvent, ev.SensorOffset, ev.EventState, ev.PreviousEventState)
}

// Sensor operational states
const (
	SensorEnabled       uint8 = 0x00
	SensorDisabled      uint8 = 0x01
	SensorUnavailable   uint8 = 0x02
	SensorStatusUnknown uint8 = 0x03
)

// StateField is one composite sensor reading of GetStateSensorReadings.
type StateField struct {
	OperationalState uint8
	PresentState     uint8
	PreviousState    uint8
	EventState       uint8
}

// EncodeGetStateSensorReadingsRequest builds a complete GetStateSensorReadings request.
func EncodeGetStateSensorReadingsRequest(instanceID uint8, sensorID uint16, rearm uint8) []byte {
	b := RequestHeader(instanceID, TypePlatform, CmdGetStateSensorReadings).Append(make([]byte, 0, HeaderSize+4))
	b = appendU16(b, sensorID)
	return append(b, rearm, 0)
}

// DecodeGetStateSensorReadingsRequest decodes a GetStateSensorReadings request payload.
func DecodeGetStateSensorReadingsRequest(payload []byte) (uint16, uint8, error) {
	if len(payload) != 4 {
		return 0, 0, ErrInvalidLength
	}
	r := newReader(payload)
	return r.u16(), r.u8(), nil
}

// DecodeGetStateSensorReadingsResponse decodes a GetStateSensorReadings response payload.
func DecodeGetStateSensorReadingsResponse(payload []byte) (CompletionCode, []StateField, error) {
	if len(payload) == 0 {
		return 0, nil, ErrShortBuffer
	}
	cc := CompletionCode(payload[0])
	if cc != Success {
		return cc, nil, nil
	}
	r := newReader(payload[1:])
	count := int(r.u8())
	if count == 0 || count > 8 {
		return cc, nil, fmt.Errorf("composite sensor count %d: %w", count, ErrInvalidLength)
	}
	fields := make([]StateField, 0, count)
	for i := 0; i < count; i++ {
		fields = append(fields, StateField{
			OperationalState: r.u8(),
			PresentState:     r.u8(),
			PreviousState:    r.u8(),
			EventState:       r.u8(),
		})
	}
	if r.err != nil {
		return cc, nil, fmt.Errorf("state sensor readings: %w", r.err)
	}
	return cc, fields, nil
}

// EncodeGetStateSensorReadingsResponse builds a complete GetStateSensorReadings response.
func EncodeGetStateSensorReadingsResponse(instanceID uint8, cc CompletionCode, fields []StateField) []byte {
	h := Header{InstanceID: instanceID, Type: TypePlatform, Command: CmdGetStateSensorReadings}
	b := h.Append(make([]byte, 0, HeaderSize+2+4*len(fields)))
	b = append(b, byte(cc))
	if cc != Success {
		return b
	}
	b = append(b, uint8(len(fields)))
	for _, f := range fields {
		b = append(b, f.OperationalState, f.PresentState, f.PreviousState, f.EventState)
	}
	return b
}

// EncodeGetPLDMVersionRequest builds a complete GetPLDMVersion request.
func EncodeGetPLDMVersionRequest(instanceID uint8, pldmType uint8) []byte {
	b := RequestHeader(instanceID, TypeBase, CmdGetPLDMVersion).Append(make([]byte, 0, HeaderSize+6))
	b = appendU32(b, 0)
	return append(b, GetFirstPart, pldmType)
}

// DecodeGetPLDMVersionResponse decodes a GetPLDMVersion response payload and
// returns the first version it carries.
func DecodeGetPLDMVersionResponse(payload []byte) (CompletionCode, uint32, error) {
	if len(payload) == 0 {
		return 0, 0, ErrShortBuffer
	}
	cc := CompletionCode(payload[0])
	if cc != Success {
		return cc, 0, nil
	}
	r := newReader(payload[1:])
	r.u32() // next data transfer handle
	r.u8()  // transfer flag
	version := r.u32()
	if r.err != nil {
		return cc, 0, fmt.Errorf("get pldm version: %w", r.err)
	}
	return cc, version, nil
}

// EncodeGetPLDMVersionResponse builds a complete single-part GetPLDMVersion response.
func EncodeGetPLDMVersionResponse(instanceID uint8, version uint32) []byte {
	h := Header{InstanceID: instanceID, Type: TypeBase, Command: CmdGetPLDMVersion}
	b := h.Append(make([]byte, 0, HeaderSize+14))
	b = append(b, byte(Success))
	b = appendU32(b, 0)
	b = append(b, TransferStartAndEnd)
	b = appendU32(b, version)
	// integrity checksum is not validated by the requester
	return appendU32(b, 0)
}
