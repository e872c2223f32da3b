package pldm

import "fmt"

// PDR types (DSP0248 table 76)
const (
	PDRTerminusLocator   uint8 = 1
	PDRNumericSensor     uint8 = 2
	PDRStateSensor       uint8 = 4
	PDRNumericEffecter   uint8 = 9
	PDRStateEffecter     uint8 = 11
	PDREntityAssociation uint8 = 15
	PDRFRURecordSet      uint8 = 20
)

// PDRTypeName returns a short label for a PDR type.
func PDRTypeName(t uint8) string {
	switch t {
	case PDRTerminusLocator:
		return "terminus_locator"
	case PDRNumericSensor:
		return "numeric_sensor"
	case PDRStateSensor:
		return "state_sensor"
	case PDRNumericEffecter:
		return "numeric_effecter"
	case PDRStateEffecter:
		return "state_effecter"
	case PDREntityAssociation:
		return "entity_association"
	case PDRFRURecordSet:
		return "fru_record_set"
	default:
		return "unsupported"
	}
}

// PDRHeaderSize is the size of the common PDR header.
const PDRHeaderSize = 10

// PDRHeaderVersion is the header format version written by this package.
const PDRHeaderVersion uint8 = 0x01

// PDRHeader is the common header of every PDR.
type PDRHeader struct {
	RecordHandle       uint32
	Version            uint8
	Type               uint8
	RecordChangeNumber uint16
	DataLength         uint16
}

func (h PDRHeader) append(b []byte) []byte {
	b = appendU32(b, h.RecordHandle)
	b = append(b, h.Version, h.Type)
	b = appendU16(b, h.RecordChangeNumber)
	return appendU16(b, h.DataLength)
}

// DecodePDRHeader decodes the common header of a PDR and checks that the
// record is at least as long as its declared data length.
func DecodePDRHeader(record []byte) (PDRHeader, error) {
	if len(record) < PDRHeaderSize {
		return PDRHeader{}, ErrShortBuffer
	}
	r := newReader(record)
	h := PDRHeader{
		RecordHandle:       r.u32(),
		Version:            r.u8(),
		Type:               r.u8(),
		RecordChangeNumber: r.u16(),
		DataLength:         r.u16(),
	}
	if len(record)-PDRHeaderSize < int(h.DataLength) {
		return h, fmt.Errorf("data length %d exceeds record: %w", h.DataLength, ErrInvalidLength)
	}
	return h, nil
}

// finish fills in the data length of an encoded record.
func finish(b []byte) []byte {
	n := uint16(len(b) - PDRHeaderSize)
	b[8] = byte(n)
	b[9] = byte(n >> 8)
	return b
}

func body(record []byte, want uint8) (PDRHeader, *reader, error) {
	h, err := DecodePDRHeader(record)
	if err != nil {
		return h, nil, err
	}
	if h.Type != want {
		return h, nil, fmt.Errorf("pdr type %d, want %d: %w", h.Type, want, ErrUnexpectedType)
	}
	return h, newReader(record[PDRHeaderSize : PDRHeaderSize+int(h.DataLength)]), nil
}

// Entity identifies a PLDM entity (DSP0248 table 87).
type Entity struct {
	Type        uint16 `json:"entity_type" yaml:"entity_type"`
	Instance    uint16 `json:"entity_instance" yaml:"entity_instance"`
	ContainerID uint16 `json:"container_id" yaml:"container_id"`
}

func (e Entity) String() string {
	return fmt.Sprintf("%d.%d@%d", e.Type, e.Instance, e.ContainerID)
}

// Terminus locator types
const (
	LocatorUID      uint8 = 0
	LocatorMCTPEID  uint8 = 1
	LocatorSMBus    uint8 = 2
	LocatorSystemSW uint8 = 3
)

// Terminus locator validity values
const (
	TLPDRNotValid uint8 = 0
	TLPDRValid    uint8 = 1
)

// TerminusLocatorPDR is a decoded terminus locator PDR.
type TerminusLocatorPDR struct {
	Header         PDRHeader
	TerminusHandle uint16
	Validity       uint8
	TID            uint8
	ContainerID    uint16
	LocatorType    uint8
	LocatorValue   []byte
}

// EID returns the MCTP endpoint ID of an MCTP terminus locator.
func (p TerminusLocatorPDR) EID() (uint8, bool) {
	if p.LocatorType != LocatorMCTPEID || len(p.LocatorValue) == 0 {
		return 0, false
	}
	return p.LocatorValue[0], true
}

// DecodeTerminusLocatorPDR decodes a terminus locator PDR.
func DecodeTerminusLocatorPDR(record []byte) (TerminusLocatorPDR, error) {
	h, r, err := body(record, PDRTerminusLocator)
	if err != nil {
		return TerminusLocatorPDR{}, err
	}
	p := TerminusLocatorPDR{
		Header:         h,
		TerminusHandle: r.u16(),
		Validity:       r.u8(),
		TID:            r.u8(),
		ContainerID:    r.u16(),
		LocatorType:    r.u8(),
	}
	size := int(r.u8())
	p.LocatorValue = r.bytes(size)
	if r.err != nil {
		return TerminusLocatorPDR{}, fmt.Errorf("terminus locator pdr: %w", r.err)
	}
	return p, nil
}

// EncodeTerminusLocatorPDR encodes a terminus locator PDR.
func EncodeTerminusLocatorPDR(p TerminusLocatorPDR) []byte {
	h := p.Header
	h.Type = PDRTerminusLocator
	if h.Version == 0 {
		h.Version = PDRHeaderVersion
	}
	b := h.append(make([]byte, 0, PDRHeaderSize+8+len(p.LocatorValue)))
	b = appendU16(b, p.TerminusHandle)
	b = append(b, p.Validity, p.TID)
	b = appendU16(b, p.ContainerID)
	b = append(b, p.LocatorType, uint8(len(p.LocatorValue)))
	b = append(b, p.LocatorValue...)
	return finish(b)
}

// StateSet is one composite sensor of a state sensor PDR.
type StateSet struct {
	ID             uint16
	PossibleStates []uint8
}

// Has reports whether state is one of the possible states.
func (s StateSet) Has(state uint8) bool {
	for _, v := range s.PossibleStates {
		if v == state {
			return true
		}
	}
	return false
}

// StateSensorPDR is a decoded state sensor PDR.
type StateSensorPDR struct {
	Header         PDRHeader
	TerminusHandle uint16
	SensorID       uint16
	Entity         Entity
	SensorInit     uint8
	AuxNames       bool
	StateSets      []StateSet
}

// DecodeStateSensorPDR decodes a state sensor PDR, expanding each possible
// states bitfield into the list of state values it allows.
func DecodeStateSensorPDR(record []byte) (StateSensorPDR, error) {
	h, r, err := body(record, PDRStateSensor)
	if err != nil {
		return StateSensorPDR{}, err
	}
	p := StateSensorPDR{
		Header:         h,
		TerminusHandle: r.u16(),
		SensorID:       r.u16(),
		Entity:         Entity{Type: r.u16(), Instance: r.u16(), ContainerID: r.u16()},
		SensorInit:     r.u8(),
		AuxNames:       r.u8() != 0,
	}
	count := int(r.u8())
	if r.err == nil && (count == 0 || count > 8) {
		return StateSensorPDR{}, fmt.Errorf("composite sensor count %d: %w", count, ErrInvalidLength)
	}
	for i := 0; i < count && r.err == nil; i++ {
		set := StateSet{ID: r.u16()}
		size := int(r.u8())
		bits := r.bytes(size)
		for byteIdx, v := range bits {
			for bit := 0; bit < 8; bit++ {
				if v&(1<<bit) != 0 {
					set.PossibleStates = append(set.PossibleStates, uint8(byteIdx*8+bit))
				}
			}
		}
		p.StateSets = append(p.StateSets, set)
	}
	if r.err != nil {
		return StateSensorPDR{}, fmt.Errorf("state sensor pdr: %w", r.err)
	}
	return p, nil
}

// EncodeStateSensorPDR encodes a state sensor PDR.
func EncodeStateSensorPDR(p StateSensorPDR) []byte {
	h := p.Header
	h.Type = PDRStateSensor
	if h.Version == 0 {
		h.Version = PDRHeaderVersion
	}
	b := h.append(make([]byte, 0, PDRHeaderSize+16))
	b = appendU16(b, p.TerminusHandle)
	b = appendU16(b, p.SensorID)
	b = appendU16(b, p.Entity.Type)
	b = appendU16(b, p.Entity.Instance)
	b = appendU16(b, p.Entity.ContainerID)
	aux := uint8(0)
	if p.AuxNames {
		aux = 1
	}
	b = append(b, p.SensorInit, aux, uint8(len(p.StateSets)))
	for _, set := range p.StateSets {
		b = appendU16(b, set.ID)
		var bits []byte
		for _, s := range set.PossibleStates {
			idx := int(s) / 8
			for len(bits) <= idx {
				bits = append(bits, 0)
			}
			bits[idx] |= 1 << (s % 8)
		}
		if len(bits) == 0 {
			bits = []byte{0}
		}
		b = append(b, uint8(len(bits)))
		b = append(b, bits...)
	}
	return finish(b)
}

// FRURecordSetPDR is a decoded FRU record set PDR.
type FRURecordSetPDR struct {
	Header         PDRHeader
	TerminusHandle uint16
	RSI            uint16
	Entity         Entity
}

// DecodeFRURecordSetPDR decodes a FRU record set PDR.
func DecodeFRURecordSetPDR(record []byte) (FRURecordSetPDR, error) {
	h, r, err := body(record, PDRFRURecordSet)
	if err != nil {
		return FRURecordSetPDR{}, err
	}
	p := FRURecordSetPDR{
		Header:         h,
		TerminusHandle: r.u16(),
		RSI:            r.u16(),
		Entity:         Entity{Type: r.u16(), Instance: r.u16(), ContainerID: r.u16()},
	}
	if r.err != nil {
		return FRURecordSetPDR{}, fmt.Errorf("fru record set pdr: %w", r.err)
	}
	return p, nil
}

// EncodeFRURecordSetPDR encodes a FRU record set PDR.
func EncodeFRURecordSetPDR(p FRURecordSetPDR) []byte {
	h := p.Header
	h.Type = PDRFRURecordSet
	if h.Version == 0 {
		h.Version = PDRHeaderVersion
	}
	b := h.append(make([]byte, 0, PDRHeaderSize+10))
	b = appendU16(b, p.TerminusHandle)
	b = appendU16(b, p.RSI)
	b = appendU16(b, p.Entity.Type)
	b = appendU16(b, p.Entity.Instance)
	b = appendU16(b, p.Entity.ContainerID)
	return finish(b)
}

// Entity association types
const (
	PhysicalAssociation uint8 = 0x00
	LogicalAssociation  uint8 = 0x01
)

// EntityAssociationPDR is a decoded entity association PDR.
type EntityAssociationPDR struct {
	Header          PDRHeader
	ContainerID     uint16
	AssociationType uint8
	Container       Entity
	Children        []Entity
}

// DecodeEntityAssociationPDR decodes an entity association PDR.
func DecodeEntityAssociationPDR(record []byte) (EntityAssociationPDR, error) {
	h, r, err := body(record, PDREntityAssociation)
	if err != nil {
		return EntityAssociationPDR{}, err
	}
	p := EntityAssociationPDR{
		Header:          h,
		ContainerID:     r.u16(),
		AssociationType: r.u8(),
		Container:       Entity{Type: r.u16(), Instance: r.u16(), ContainerID: r.u16()},
	}
	count := int(r.u8())
	if r.err == nil && r.remaining() != count*6 {
		return EntityAssociationPDR{}, fmt.Errorf("%d contained entities in %d bytes: %w", count, r.remaining(), ErrInvalidLength)
	}
	for i := 0; i < count && r.err == nil; i++ {
		p.Children = append(p.Children, Entity{Type: r.u16(), Instance: r.u16(), ContainerID: r.u16()})
	}
	if r.err != nil {
		return EntityAssociationPDR{}, fmt.Errorf("entity association pdr: %w", r.err)
	}
	return p, nil
}

// EncodeEntityAssociationPDR encodes an entity association PDR.
func EncodeEntityAssociationPDR(p EntityAssociationPDR) []byte {
	h := p.Header
	h.Type = PDREntityAssociation
	if h.Version == 0 {
		h.Version = PDRHeaderVersion
	}
	b := h.append(make([]byte, 0, PDRHeaderSize+10+6*len(p.Children)))
	b = appendU16(b, p.ContainerID)
	b = append(b, p.AssociationType)
	b = appendU16(b, p.Container.Type)
	b = appendU16(b, p.Container.Instance)
	b = appendU16(b, p.Container.ContainerID)
	b = append(b, uint8(len(p.Children)))
	for _, c := range p.Children {
		b = appendU16(b, c.Type)
		b = appendU16(b, c.Instance)
		b = appendU16(b, c.ContainerID)
	}
	return finish(b)
}

// SetRecordHandle rewrites the record handle of an encoded PDR in place.
func SetRecordHandle(record []byte, handle uint32) error {
	if len(record) < PDRHeaderSize {
		return ErrShortBuffer
	}
	record[0] = byte(handle)
	record[1] = byte(handle >> 8)
	record[2] = byte(handle >> 16)
	record[3] = byte(handle >> 24)
	return nil
}
